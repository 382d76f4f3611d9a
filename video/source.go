package video

import (
	"github.com/nvr-ai/go-cheatdetect/common"
	"github.com/pkg/errors"
	"gocv.io/x/gocv"
)

// Source yields decoded frames.
type Source interface {
	// Read decodes the next frame into m, returning false at the end of the
	// stream or on a read failure.
	Read(m *gocv.Mat) bool
	// FrameCount is the container's frame count, or <= 0 when unknown.
	FrameCount() int
	// FPS is the nominal frame rate, or <= 0 when unknown.
	FPS() float64
	Close() error
}

// capture adapts gocv.VideoCapture to Source.
type capture struct {
	vc *gocv.VideoCapture
}

// OpenFile opens a video file.
func OpenFile(path string) (Source, error) {
	vc, err := gocv.VideoCaptureFile(path)
	if err != nil {
		return nil, errors.Wrapf(common.ErrInvalidInput, "open video %s: %v", path, err)
	}
	if !vc.IsOpened() {
		vc.Close()
		return nil, errors.Wrapf(common.ErrInvalidInput, "open video %s", path)
	}
	return &capture{vc: vc}, nil
}

// OpenDevice opens a capture device such as a webcam.
func OpenDevice(deviceID int) (Source, error) {
	vc, err := gocv.OpenVideoCapture(deviceID)
	if err != nil {
		return nil, errors.Wrapf(err, "open capture device %d", deviceID)
	}
	return &capture{vc: vc}, nil
}

func (c *capture) Read(m *gocv.Mat) bool { return c.vc.Read(m) }

func (c *capture) FrameCount() int { return int(c.vc.Get(gocv.VideoCaptureFrameCount)) }

func (c *capture) FPS() float64 { return c.vc.Get(gocv.VideoCaptureFPS) }

func (c *capture) Close() error { return c.vc.Close() }
