// Package video samples frames from a video and runs detection on them.
package video

import (
	"context"
	"path/filepath"
	"time"

	"github.com/nvr-ai/go-cheatdetect/common"
	"github.com/nvr-ai/go-cheatdetect/detector"
	"github.com/pkg/errors"
	"gocv.io/x/gocv"
	"gonum.org/v1/gonum/stat"
)

// CompleteMessage is the message attached to every scan result.
const CompleteMessage = "Video analysis complete - check the results!"

// Detector is the part of detector.Session a scan needs.
type Detector interface {
	Detect(img gocv.Mat) (*detector.Result, error)
}

// OperationTimer times named operations; *profiler.RuntimeProfiler
// satisfies it.
type OperationTimer interface {
	StartOperation(name string) func()
}

// FrameResult summarizes the detection on one sampled frame.
type FrameResult struct {
	FrameNumber   int     `json:"frame_number"`
	Timestamp     float64 `json:"timestamp"`
	IsCheating    bool    `json:"is_cheating"`
	Confidence    float64 `json:"confidence"`
	FacesDetected int     `json:"faces_detected"`
}

// Result aggregates a whole scan.
type Result struct {
	Filename           string        `json:"filename"`
	TotalFrames        int           `json:"total_frames"`
	FramesAnalyzed     int           `json:"frames_analyzed"`
	SkippedFrames      int           `json:"skipped_frames"`
	CheatingFrames     int           `json:"cheating_frames"`
	CheatingPercentage float64       `json:"cheating_percentage"`
	AverageConfidence  float64       `json:"average_confidence"`
	IsCheating         bool          `json:"is_cheating"`
	FrameResults       []FrameResult `json:"frame_results"`
	Message            string        `json:"message"`
}

// Scanner runs a Detector over evenly spaced frames of a video.
type Scanner struct {
	Detector Detector
	// SampleFrames is the target number of sampled frames (default 10).
	SampleFrames int
	// ReportFrames caps Result.FrameResults (default 5).
	ReportFrames int
	// Progress, when set, is called after every decoded frame.
	Progress func(done, total int)
	// Timer, when set, times each scan as "detect_video".
	Timer OperationTimer
}

// SampleRate returns the frame stride that yields about samples frames out of
// total, never less than 1.
func SampleRate(total, samples int) int {
	if samples <= 0 || total <= 0 {
		return 1
	}
	if rate := total / samples; rate > 1 {
		return rate
	}
	return 1
}

// Scan opens the file at path and scans it.
//
// Arguments:
// - ctx: Cancels the scan between frames.
// - path: The video file.
//
// Returns:
// - The aggregated Result with Filename set to the base name of path.
// - An error if the file cannot be opened or a detection fails for a reason
// other than an unusable frame.
func (s *Scanner) Scan(ctx context.Context, path string) (*Result, error) {
	src, err := OpenFile(path)
	if err != nil {
		return nil, err
	}
	defer src.Close()

	result, err := s.ScanSource(ctx, src)
	if err != nil {
		return nil, err
	}
	result.Filename = filepath.Base(path)
	return result, nil
}

// ScanSource scans an already opened Source.
//
// Every frame whose index is a multiple of the sample rate is detected. When
// the frame count is unknown the stream is read to its end and the first
// SampleFrames frames are detected.
func (s *Scanner) ScanSource(ctx context.Context, src Source) (*Result, error) {
	if s.Timer != nil {
		defer s.Timer.StartOperation("detect_video")()
	}

	sampleFrames := s.SampleFrames
	if sampleFrames <= 0 {
		sampleFrames = 10
	}
	reportFrames := s.ReportFrames
	if reportFrames <= 0 {
		reportFrames = 5
	}

	total := src.FrameCount()
	fps := src.FPS()
	rate := SampleRate(total, sampleFrames)

	frame := gocv.NewMat()
	defer frame.Close()

	result := &Result{TotalFrames: total, Message: CompleteMessage, FrameResults: []FrameResult{}}
	var confidences []float64

	for index := 0; total <= 0 || index < total; index++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if !src.Read(&frame) {
			break
		}
		if s.Progress != nil {
			s.Progress(index+1, total)
		}

		sampled := index%rate == 0
		if total <= 0 {
			sampled = index < sampleFrames
		}
		if !sampled || frame.Empty() {
			continue
		}

		det, err := s.Detector.Detect(frame)
		if errors.Is(err, common.ErrInvalidInput) {
			result.SkippedFrames++
			continue
		}
		if err != nil {
			return nil, errors.Wrapf(err, "frame %d", index)
		}

		fr := FrameResult{
			FrameNumber:   index,
			IsCheating:    det.IsCheating,
			Confidence:    det.Confidence,
			FacesDetected: det.FacesDetected,
		}
		if fps > 0 {
			fr.Timestamp = float64(index) / fps
		}

		confidences = append(confidences, fr.Confidence)
		if fr.IsCheating {
			result.CheatingFrames++
		}
		if len(result.FrameResults) < reportFrames {
			result.FrameResults = append(result.FrameResults, fr)
		}
	}

	result.FramesAnalyzed = len(confidences)
	if result.FramesAnalyzed > 0 {
		result.AverageConfidence = stat.Mean(confidences, nil)
		result.CheatingPercentage = float64(result.CheatingFrames) / float64(result.FramesAnalyzed) * 100
	}
	result.IsCheating = result.CheatingFrames > 0

	return result, nil
}

// LiveOptions tunes Live.
type LiveOptions struct {
	// Every is the minimum time between two detections.
	Every time.Duration
	// Motion, when set, skips frames without motion.
	Motion *MotionGate
}

// Live reads src continuously and runs det at most once per opts.Every,
// handing each result and the analysed frame to fn. It returns when ctx is
// done, the source ends, or det or fn fail. fn must not keep the frame.
func Live(ctx context.Context, src Source, det Detector, opts LiveOptions, fn func(*detector.Result, gocv.Mat) error) error {
	frame := gocv.NewMat()
	defer frame.Close()

	var last time.Time
	for {
		if err := ctx.Err(); err != nil {
			return nil
		}
		if !src.Read(&frame) {
			return errors.New("capture source stopped delivering frames")
		}
		if frame.Empty() {
			continue
		}
		// The background model sees every frame, not only the analysed ones.
		if opts.Motion != nil && !opts.Motion.Moving(frame) {
			continue
		}
		if time.Since(last) < opts.Every {
			continue
		}
		last = time.Now()

		res, err := det.Detect(frame)
		if errors.Is(err, common.ErrInvalidInput) {
			continue
		}
		if err != nil {
			return err
		}
		if err := fn(res, frame); err != nil {
			return err
		}
	}
}
