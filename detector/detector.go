// Package detector runs the locate, extract and score pipeline over an image
// and keeps the running attempt and catch counters.
package detector

import (
	"context"
	"image"
	"math"
	"sync/atomic"
	"time"

	"github.com/nvr-ai/go-cheatdetect/common"
	"github.com/nvr-ai/go-cheatdetect/features"
	"github.com/nvr-ai/go-cheatdetect/images"
	"github.com/nvr-ai/go-cheatdetect/locator"
	"github.com/nvr-ai/go-cheatdetect/scoring"
	"github.com/nvr-ai/go-cheatdetect/state"
	"github.com/pkg/errors"
	"gocv.io/x/gocv"
)

// FaceResult is the verdict for one face.
type FaceResult struct {
	BBox              common.FaceRegion `json:"bbox"`
	Confidence        float64           `json:"confidence"`
	IsCheating        bool              `json:"is_cheating"`
	FeaturesExtracted int               `json:"features_extracted"`
	SubScores         scoring.SubScores `json:"sub_scores"`
}

// Result is the verdict for one image plus the counters after it.
type Result struct {
	FacesDetected int          `json:"faces_detected"`
	Faces         []FaceResult `json:"faces"`
	IsCheating    bool         `json:"is_cheating"`
	Confidence    float64      `json:"confidence"`
	Message       string       `json:"message"`
	TotalAttempts int64        `json:"total_attempts"`
	CaughtCheats  int64        `json:"caught_cheats"`
	SuccessRate   string       `json:"success_rate"`
}

// Stats is the read-only summary of a Session.
type Stats struct {
	TotalAttempts       int64   `json:"total_attempts"`
	CaughtCheats        int64   `json:"caught_cheats"`
	SuccessRate         string  `json:"success_rate"`
	ConfidenceThreshold float64 `json:"confidence_threshold"`
	ModelReady          bool    `json:"model_ready"`
}

// Session orchestrates detection over a shared State. It is safe for
// concurrent use; counters are updated in one critical section per image.
type Session struct {
	locator   locator.Locator
	extractor *features.Extractor
	state     *State

	lastDetectNanos atomic.Int64
}

// NewSession wires a locator to st. A nil st gets a fresh State with the
// default threshold.
//
// Arguments:
// - loc: The face locator. The Session does not close it.
// - st: The process-wide detector state.
//
// Returns:
// - A ready Session.
//
// @example
// loc, _ := locator.NewHaarLocator(locator.DefaultHaarOptions())
// session := detector.NewSession(loc, detector.NewState(detector.DefaultThreshold))
// result, err := session.Detect(frame)
func NewSession(loc locator.Locator, st *State) *Session {
	if st == nil {
		st = NewState(DefaultThreshold)
	}
	return &Session{
		locator:   loc,
		extractor: features.NewExtractor(),
		state:     st,
	}
}

// Detect analyses one image.
//
// The image is normalized to BGR, faces are located, and every face is
// extracted and scored before the attempt is recorded. A failure at any of
// those steps is returned without touching the counters.
//
// Arguments:
// - img: An 8-bit image with 1, 3 or 4 channels. It is not modified.
//
// Returns:
// - The aggregated Result, including the counters after this attempt.
// - An error wrapping common.ErrInvalidInput or common.ErrLocatorFailure.
func (s *Session) Detect(img gocv.Mat) (*Result, error) {
	start := time.Now()
	defer func() { s.lastDetectNanos.Store(int64(time.Since(start))) }()

	bgr, err := images.Normalize(img)
	if err != nil {
		return nil, err
	}
	defer bgr.Close()

	regions, err := s.locator.Locate(bgr)
	if err != nil {
		if errors.Is(err, common.ErrInvalidInput) {
			return nil, err
		}
		return nil, errors.Wrap(wrapLocatorFailure(err), "locate faces")
	}

	faces := make([]FaceResult, len(regions))
	confidences := make([]float64, len(regions))
	bounds := matBounds(bgr)
	for i, region := range regions {
		if err := region.Validate(bounds); err != nil {
			return nil, errors.Wrapf(common.ErrLocatorFailure, "locator returned bad region: %v", err)
		}

		vec, err := s.extractFace(bgr, region)
		if err != nil {
			return nil, errors.Wrapf(err, "face %d at %s", i, region)
		}

		sub := scoring.Breakdown(vec)
		faces[i] = FaceResult{
			BBox:              region,
			Confidence:        math.Min(sub.Sum(), 1),
			FeaturesExtracted: len(vec),
			SubScores:         sub,
		}
		confidences[i] = faces[i].Confidence
	}

	attempt, flags, after := s.state.record(confidences)

	result := &Result{
		FacesDetected: len(faces),
		Faces:         faces,
		TotalAttempts: after.totalAttempts,
		CaughtCheats:  after.caughtCheats,
		SuccessRate:   after.successRate(),
	}

	if len(faces) == 0 {
		result.Message = NoFacesMessage
		return result, nil
	}

	for i := range faces {
		faces[i].IsCheating = flags[i]
		result.IsCheating = result.IsCheating || flags[i]
		result.Confidence = math.Max(result.Confidence, faces[i].Confidence)
	}
	result.Message = Message(result.IsCheating, attempt)

	return result, nil
}

func (s *Session) extractFace(bgr gocv.Mat, region common.FaceRegion) (features.Vector, error) {
	crop := bgr.Region(region.Rect())
	defer crop.Close()
	return s.extractor.Extract(crop)
}

func matBounds(m gocv.Mat) image.Rectangle {
	return image.Rect(0, 0, m.Cols(), m.Rows())
}

func wrapLocatorFailure(err error) error {
	if errors.Is(err, common.ErrLocatorFailure) {
		return err
	}
	return errors.Wrapf(common.ErrLocatorFailure, "%v", err)
}

// Stats returns the current counters and threshold.
func (s *Session) Stats() Stats {
	c := s.state.snapshot()
	return Stats{
		TotalAttempts:       c.totalAttempts,
		CaughtCheats:        c.caughtCheats,
		SuccessRate:         c.successRate(),
		ConfidenceThreshold: c.threshold,
		ModelReady:          true,
	}
}

// Threshold returns the current confidence threshold.
func (s *Session) Threshold() float64 {
	return s.state.snapshot().threshold
}

// SetThreshold clamps v to [0, 1], applies it to subsequent detections and
// returns the value in effect.
func (s *Session) SetThreshold(v float64) float64 {
	return s.state.setThreshold(v)
}

// Snapshot copies the threshold and counters.
func (s *Session) Snapshot() state.Snapshot {
	c := s.state.snapshot()
	return state.Snapshot{
		Threshold:     c.threshold,
		TotalAttempts: c.totalAttempts,
		CaughtCheats:  c.caughtCheats,
		SavedAt:       time.Now().UTC(),
	}
}

// Restore replaces the threshold and counters with snap. The threshold is
// clamped; invalid snapshots are rejected without changing anything.
func (s *Session) Restore(snap state.Snapshot) error {
	if err := snap.Validate(); err != nil {
		return errors.Wrap(err, "restore detector state")
	}
	s.state.replace(counters{
		threshold:     snap.Threshold,
		totalAttempts: snap.TotalAttempts,
		caughtCheats:  snap.CaughtCheats,
	})
	return nil
}

// Save persists the current snapshot to store.
func (s *Session) Save(ctx context.Context, store state.Store) error {
	return store.Save(ctx, s.Snapshot())
}

// Load restores the snapshot held by store. It returns state.ErrNotFound
// untouched when the store is empty.
func (s *Session) Load(ctx context.Context, store state.Store) error {
	snap, err := store.Load(ctx)
	if err != nil {
		return err
	}
	return s.Restore(snap)
}

// CollectMetrics implements the profiler's MetricsCollector interface.
//
// Returns:
// - A map of metric names to their current values
func (s *Session) CollectMetrics() map[string]float64 {
	c := s.state.snapshot()

	rate := 0.0
	if c.totalAttempts > 0 {
		rate = float64(c.caughtCheats) / float64(c.totalAttempts) * 100
	}

	return map[string]float64{
		"total_attempts":   float64(c.totalAttempts),
		"caught_cheats":    float64(c.caughtCheats),
		"threshold":        c.threshold,
		"success_rate_pct": rate,
		"faces_seen":       float64(c.facesSeen),
		"last_detect_ms":   float64(s.lastDetectNanos.Load()) / 1e6,
	}
}
