package video

import (
	"image"

	"gocv.io/x/gocv"
)

// MotionGate decides whether a live frame changed enough to be worth
// analysing. It keeps a MOG2 background model across frames:
//
//	frame -> background subtraction -> threshold -> dilate -> contours
//
// A frame counts as moving when any external contour reaches MinArea.
// MotionGate is not safe for concurrent use; Close releases its native
// resources.
type MotionGate struct {
	// MinArea is the smallest contour area in pixels that counts as motion.
	MinArea float64

	delta      gocv.Mat
	threshold  gocv.Mat
	kernel     gocv.Mat
	background gocv.BackgroundSubtractorMOG2
}

// NewMotionGate builds a gate with a fresh background model.
func NewMotionGate(minArea float64) *MotionGate {
	return &MotionGate{
		MinArea:    minArea,
		delta:      gocv.NewMat(),
		threshold:  gocv.NewMat(),
		kernel:     gocv.GetStructuringElement(gocv.MorphRect, image.Pt(3, 3)),
		background: gocv.NewBackgroundSubtractorMOG2(),
	}
}

// Moving feeds frame into the background model and reports whether it holds
// motion. The first frames of a stream are always moving while the model
// learns the background.
func (m *MotionGate) Moving(frame gocv.Mat) bool {
	if frame.Empty() {
		return false
	}
	m.background.Apply(frame, &m.delta)
	gocv.Threshold(m.delta, &m.threshold, 25, 255, gocv.ThresholdBinary)
	gocv.Dilate(m.threshold, &m.threshold, m.kernel)

	contours := gocv.FindContours(m.threshold, gocv.RetrievalExternal, gocv.ChainApproxSimple)
	defer contours.Close()

	for i := 0; i < contours.Size(); i++ {
		if gocv.ContourArea(contours.At(i)) >= m.MinArea {
			return true
		}
	}
	return false
}

// Close releases the native resources.
func (m *MotionGate) Close() {
	m.delta.Close()
	m.threshold.Close()
	m.kernel.Close()
	m.background.Close()
}
