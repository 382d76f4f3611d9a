package detector

import (
	"fmt"
	"sync"
)

// DefaultThreshold is the confidence above which a face is flagged.
const DefaultThreshold = 0.6

// State holds the process-wide threshold and counters. All access goes
// through its mutex; counters only move forward except on Restore.
type State struct {
	mu            sync.Mutex
	threshold     float64
	totalAttempts int64
	caughtCheats  int64
	facesSeen     int64
}

// NewState returns a State with zeroed counters and the clamped threshold.
func NewState(threshold float64) *State {
	return &State{threshold: ClampThreshold(threshold)}
}

// ClampThreshold limits v to [0, 1]. NaN maps to the default.
func ClampThreshold(v float64) float64 {
	switch {
	case v != v:
		return DefaultThreshold
	case v < 0:
		return 0
	case v > 1:
		return 1
	default:
		return v
	}
}

// counters is a consistent copy of the State.
type counters struct {
	threshold     float64
	totalAttempts int64
	caughtCheats  int64
	facesSeen     int64
}

func (c counters) successRate() string {
	return SuccessRate(c.totalAttempts, c.caughtCheats)
}

func (s *State) snapshot() counters {
	s.mu.Lock()
	defer s.mu.Unlock()
	return counters{
		threshold:     s.threshold,
		totalAttempts: s.totalAttempts,
		caughtCheats:  s.caughtCheats,
		facesSeen:     s.facesSeen,
	}
}

// record counts one attempt and its faces and flags every confidence strictly above the
// current threshold, in a single critical section. It returns the attempt
// number of this call, the per-face flags and the counters after the update.
func (s *State) record(confidences []float64) (int64, []bool, counters) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.totalAttempts++
	s.facesSeen += int64(len(confidences))
	flags := make([]bool, len(confidences))
	for i, c := range confidences {
		if c > s.threshold {
			flags[i] = true
			s.caughtCheats++
		}
	}
	return s.totalAttempts, flags, counters{
		threshold:     s.threshold,
		totalAttempts: s.totalAttempts,
		caughtCheats:  s.caughtCheats,
		facesSeen:     s.facesSeen,
	}
}

func (s *State) setThreshold(v float64) float64 {
	v = ClampThreshold(v)
	s.mu.Lock()
	s.threshold = v
	s.mu.Unlock()
	return v
}

// replace restores the persisted fields. facesSeen is process-local and kept.
func (s *State) replace(c counters) {
	s.mu.Lock()
	s.threshold = ClampThreshold(c.threshold)
	s.totalAttempts = c.totalAttempts
	s.caughtCheats = c.caughtCheats
	s.mu.Unlock()
}

// SuccessRate formats caught/total as a percentage with one decimal, or "0%"
// before the first attempt.
func SuccessRate(total, caught int64) string {
	if total <= 0 {
		return "0%"
	}
	return fmt.Sprintf("%.1f%%", float64(caught)/float64(total)*100)
}
