// Package state persists the detector's threshold and counters.
//
// Only the snapshot of counters and threshold is stored; the feature
// extractor and scorer have no learned state.
package state

import (
	"context"
	"math"
	"time"

	"github.com/pkg/errors"
)

// ErrNotFound is returned by Store.Load when nothing has been saved yet.
var ErrNotFound = errors.New("no saved detector state")

// Snapshot is a point-in-time copy of the detector state.
type Snapshot struct {
	Threshold     float64   `json:"confidence_threshold" yaml:"confidence_threshold"`
	TotalAttempts int64     `json:"total_attempts" yaml:"total_attempts"`
	CaughtCheats  int64     `json:"caught_cheats" yaml:"caught_cheats"`
	SavedAt       time.Time `json:"saved_at" yaml:"saved_at"`
}

// Validate rejects snapshots that could not come from a running detector.
func (s Snapshot) Validate() error {
	if math.IsNaN(s.Threshold) || math.IsInf(s.Threshold, 0) {
		return errors.Errorf("threshold %v is not a finite number", s.Threshold)
	}
	if s.TotalAttempts < 0 || s.CaughtCheats < 0 {
		return errors.Errorf("negative counters (attempts=%d, caught=%d)", s.TotalAttempts, s.CaughtCheats)
	}
	return nil
}

// Store saves and loads a single Snapshot.
type Store interface {
	Save(ctx context.Context, snap Snapshot) error
	Load(ctx context.Context) (Snapshot, error)
	Close() error
}
