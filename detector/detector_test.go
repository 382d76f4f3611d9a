package detector

import (
	"context"
	"math"
	"math/rand"
	"path/filepath"
	"sync"
	"testing"

	"github.com/nvr-ai/go-cheatdetect/common"
	"github.com/nvr-ai/go-cheatdetect/features"
	"github.com/nvr-ai/go-cheatdetect/state"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gocv.io/x/gocv"
)

// MockLocator returns canned regions or a canned error.
type MockLocator struct {
	mu      sync.Mutex
	regions []common.FaceRegion
	err     error
	calls   int
}

func (m *MockLocator) Locate(img gocv.Mat) ([]common.FaceRegion, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	if m.err != nil {
		return nil, m.err
	}
	out := make([]common.FaceRegion, len(m.regions))
	copy(out, m.regions)
	return out, nil
}

func (m *MockLocator) Close() error { return nil }

func noiseImage(t *testing.T, rows, cols, channels int, seed int64) gocv.Mat {
	t.Helper()
	types := map[int]gocv.MatType{1: gocv.MatTypeCV8UC1, 3: gocv.MatTypeCV8UC3, 4: gocv.MatTypeCV8UC4}
	data := make([]byte, rows*cols*channels)
	rand.New(rand.NewSource(seed)).Read(data)
	mat, err := gocv.NewMatFromBytes(rows, cols, types[channels], data)
	require.NoError(t, err)
	return mat
}

var threeFaces = []common.FaceRegion{
	{X: 0, Y: 0, Width: 60, Height: 60},
	{X: 70, Y: 20, Width: 80, Height: 90},
	{X: 120, Y: 120, Width: 80, Height: 80},
}

func TestDetectNoFaces(t *testing.T) {
	session := NewSession(&MockLocator{}, nil)
	img := noiseImage(t, 200, 200, 3, 1)
	defer img.Close()

	result, err := session.Detect(img)
	require.NoError(t, err)

	assert.Equal(t, 0, result.FacesDetected)
	assert.Empty(t, result.Faces)
	assert.False(t, result.IsCheating)
	assert.Zero(t, result.Confidence)
	assert.Equal(t, NoFacesMessage, result.Message)
	assert.Equal(t, int64(1), result.TotalAttempts)
	assert.Equal(t, int64(0), result.CaughtCheats)
	assert.Equal(t, "0.0%", result.SuccessRate)
	assert.Equal(t, int64(1), session.Stats().TotalAttempts)
}

func TestDetectFacesFollowLocatorOrder(t *testing.T) {
	session := NewSession(&MockLocator{regions: threeFaces}, NewState(0))
	img := noiseImage(t, 200, 200, 3, 2)
	defer img.Close()

	result, err := session.Detect(img)
	require.NoError(t, err)
	require.Equal(t, 3, result.FacesDetected)

	flagged := int64(0)
	maxConfidence := 0.0
	for i, face := range result.Faces {
		assert.Equal(t, threeFaces[i], face.BBox)
		assert.Equal(t, features.Length, face.FeaturesExtracted)
		assert.GreaterOrEqual(t, face.Confidence, 0.0)
		assert.LessOrEqual(t, face.Confidence, 1.0)
		assert.Equal(t, math.Min(face.SubScores.Sum(), 1), face.Confidence)
		// Threshold 0 flags every positive confidence.
		assert.Equal(t, face.Confidence > 0, face.IsCheating)
		if face.IsCheating {
			flagged++
		}
		if face.Confidence > maxConfidence {
			maxConfidence = face.Confidence
		}
	}

	assert.Equal(t, flagged, result.CaughtCheats)
	assert.Equal(t, flagged > 0, result.IsCheating)
	assert.Equal(t, maxConfidence, result.Confidence)
	assert.Equal(t, Message(result.IsCheating, 1), result.Message)
}

func TestDetectThresholdOneNeverFlags(t *testing.T) {
	session := NewSession(&MockLocator{regions: threeFaces}, NewState(1))
	img := noiseImage(t, 200, 200, 3, 3)
	defer img.Close()

	for i := 0; i < 3; i++ {
		result, err := session.Detect(img)
		require.NoError(t, err)
		assert.False(t, result.IsCheating)
		assert.Equal(t, int64(0), result.CaughtCheats)
	}
	assert.Equal(t, int64(3), session.Stats().TotalAttempts)
}

func TestDetectIsDeterministic(t *testing.T) {
	img := noiseImage(t, 200, 200, 3, 4)
	defer img.Close()

	first, err := NewSession(&MockLocator{regions: threeFaces}, nil).Detect(img)
	require.NoError(t, err)
	second, err := NewSession(&MockLocator{regions: threeFaces}, nil).Detect(img)
	require.NoError(t, err)
	assert.Equal(t, first, second)
}

func TestDetectAcceptsAllChannelLayouts(t *testing.T) {
	session := NewSession(&MockLocator{regions: threeFaces[:1]}, nil)
	for _, channels := range []int{1, 3, 4} {
		img := noiseImage(t, 100, 100, channels, int64(channels))
		result, err := session.Detect(img)
		img.Close()
		require.NoError(t, err, "channels=%d", channels)
		assert.Equal(t, 1, result.FacesDetected)
	}
	assert.Equal(t, int64(3), session.Stats().TotalAttempts)
}

func TestDetectFailuresLeaveCountersUntouched(t *testing.T) {
	img := noiseImage(t, 100, 100, 3, 5)
	defer img.Close()

	t.Run("invalid image", func(t *testing.T) {
		loc := &MockLocator{}
		session := NewSession(loc, nil)
		empty := gocv.NewMat()
		defer empty.Close()

		_, err := session.Detect(empty)
		assert.True(t, errors.Is(err, common.ErrInvalidInput))
		assert.Zero(t, loc.calls)
		assert.Zero(t, session.Stats().TotalAttempts)
	})

	t.Run("locator failure", func(t *testing.T) {
		session := NewSession(&MockLocator{err: errors.New("cascade exploded")}, nil)
		_, err := session.Detect(img)
		assert.True(t, errors.Is(err, common.ErrLocatorFailure))
		assert.Zero(t, session.Stats().TotalAttempts)
	})

	t.Run("locator invalid input passes through", func(t *testing.T) {
		session := NewSession(&MockLocator{err: errors.Wrap(common.ErrInvalidInput, "tiny")}, nil)
		_, err := session.Detect(img)
		assert.True(t, errors.Is(err, common.ErrInvalidInput))
		assert.False(t, errors.Is(err, common.ErrLocatorFailure))
	})

	t.Run("region outside image", func(t *testing.T) {
		session := NewSession(&MockLocator{regions: []common.FaceRegion{{X: 80, Y: 80, Width: 50, Height: 50}}}, nil)
		_, err := session.Detect(img)
		assert.True(t, errors.Is(err, common.ErrLocatorFailure))
		assert.Zero(t, session.Stats().TotalAttempts)
	})
}

func TestDetectConcurrentCountersAreExact(t *testing.T) {
	session := NewSession(&MockLocator{regions: threeFaces}, NewState(0))
	img := noiseImage(t, 200, 200, 3, 6)
	defer img.Close()

	const workers = 8
	const perWorker = 5

	var wg sync.WaitGroup
	var mu sync.Mutex
	var flagged int64

	// Every observed snapshot carries exactly three faces per attempt.
	done := make(chan struct{})
	observed := make(chan bool, 1)
	go func() {
		consistent := true
		for {
			select {
			case <-done:
				observed <- consistent
				return
			default:
			}
			m := session.CollectMetrics()
			if m["faces_seen"] != 3*m["total_attempts"] {
				consistent = false
			}
		}
	}()

	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < perWorker; i++ {
				result, err := session.Detect(img)
				if !assert.NoError(t, err) {
					return
				}
				mu.Lock()
				for _, f := range result.Faces {
					if f.IsCheating {
						flagged++
					}
				}
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	close(done)
	assert.True(t, <-observed, "faces_seen drifted from total_attempts")

	stats := session.Stats()
	assert.Equal(t, int64(workers*perWorker), stats.TotalAttempts)
	assert.Equal(t, flagged, stats.CaughtCheats)
	assert.Equal(t, float64(3*workers*perWorker), session.CollectMetrics()["faces_seen"])
}

func TestStateRecord(t *testing.T) {
	st := NewState(0)
	attempt, flags, after := st.record([]float64{0, 0.1, 1})
	assert.Equal(t, int64(1), attempt)
	assert.Equal(t, []bool{false, true, true}, flags)
	assert.Equal(t, int64(2), after.caughtCheats)

	st.setThreshold(1)
	_, flags, after = st.record([]float64{1, 0.99})
	assert.Equal(t, []bool{false, false}, flags, "threshold is a strict bound")
	assert.Equal(t, int64(2), after.totalAttempts)
	assert.Equal(t, int64(2), after.caughtCheats)
	assert.Equal(t, int64(5), after.facesSeen)

	st.replace(counters{threshold: 0.5, totalAttempts: 10, caughtCheats: 4})
	restored := st.snapshot()
	assert.Equal(t, int64(10), restored.totalAttempts)
	assert.Equal(t, int64(5), restored.facesSeen, "faces seen is not persisted")
}

func TestSetThresholdClamps(t *testing.T) {
	session := NewSession(&MockLocator{}, nil)
	assert.Equal(t, DefaultThreshold, session.Threshold())

	tests := []struct{ in, want float64 }{
		{-5, 0},
		{5, 1},
		{0.25, 0.25},
		{0, 0},
		{1, 1},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, session.SetThreshold(tt.in))
		assert.Equal(t, tt.want, session.Stats().ConfidenceThreshold)
	}
}

func TestMessage(t *testing.T) {
	assert.Equal(t, cleanMessages[0], Message(false, 5))
	assert.Equal(t, cleanMessages[1], Message(false, 1))
	assert.Equal(t, cheatingMessages[3], Message(true, 8))
	assert.Equal(t, Message(true, 2), Message(true, 7))
}

func TestSuccessRate(t *testing.T) {
	assert.Equal(t, "0%", SuccessRate(0, 0))
	assert.Equal(t, "33.3%", SuccessRate(3, 1))
	assert.Equal(t, "0.0%", SuccessRate(4, 0))
	assert.Equal(t, "150.0%", SuccessRate(2, 3))
}

func TestSnapshotRestore(t *testing.T) {
	session := NewSession(&MockLocator{}, nil)
	img := noiseImage(t, 50, 50, 3, 7)
	defer img.Close()
	for i := 0; i < 3; i++ {
		_, err := session.Detect(img)
		require.NoError(t, err)
	}
	session.SetThreshold(0.3)

	snap := session.Snapshot()
	assert.Equal(t, int64(3), snap.TotalAttempts)
	assert.Equal(t, 0.3, snap.Threshold)

	other := NewSession(&MockLocator{}, nil)
	require.NoError(t, other.Restore(snap))
	assert.Equal(t, session.Stats(), other.Stats())

	require.NoError(t, other.Restore(state.Snapshot{Threshold: 7, TotalAttempts: 10, CaughtCheats: 2}))
	assert.Equal(t, 1.0, other.Threshold())
	assert.Equal(t, "20.0%", other.Stats().SuccessRate)

	assert.Error(t, other.Restore(state.Snapshot{TotalAttempts: -1}))
	assert.Equal(t, int64(10), other.Stats().TotalAttempts)
}

func TestSaveLoad(t *testing.T) {
	ctx := context.Background()
	store := state.NewFileStore(filepath.Join(t.TempDir(), "state.yaml"))

	fresh := NewSession(&MockLocator{}, nil)
	assert.True(t, errors.Is(fresh.Load(ctx, store), state.ErrNotFound))

	session := NewSession(&MockLocator{}, NewState(0.8))
	img := noiseImage(t, 50, 50, 3, 8)
	defer img.Close()
	_, err := session.Detect(img)
	require.NoError(t, err)
	require.NoError(t, session.Save(ctx, store))

	require.NoError(t, fresh.Load(ctx, store))
	assert.Equal(t, session.Stats(), fresh.Stats())
}

func TestCollectMetrics(t *testing.T) {
	session := NewSession(&MockLocator{regions: threeFaces[:1]}, nil)
	img := noiseImage(t, 100, 100, 3, 9)
	defer img.Close()
	_, err := session.Detect(img)
	require.NoError(t, err)

	metrics := session.CollectMetrics()
	assert.Equal(t, 1.0, metrics["total_attempts"])
	assert.Equal(t, 1.0, metrics["faces_seen"])
	assert.Equal(t, DefaultThreshold, metrics["threshold"])
	assert.Greater(t, metrics["last_detect_ms"], 0.0)
	assert.Contains(t, metrics, "success_rate_pct")
	assert.Contains(t, metrics, "caught_cheats")
}
