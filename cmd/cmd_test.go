package cmd

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/nvr-ai/go-cheatdetect/common"
	"github.com/nvr-ai/go-cheatdetect/detector"
	"github.com/nvr-ai/go-cheatdetect/scoring"
	"github.com/nvr-ai/go-cheatdetect/util"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gocv.io/x/gocv"
)

// MockLocator returns no faces.
type MockLocator struct{}

func (MockLocator) Locate(gocv.Mat) ([]common.FaceRegion, error) { return nil, nil }
func (MockLocator) Close() error                                 { return nil }

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&out)
	rootCmd.SetArgs(args)
	cfgPath, logLevel = "", ""
	err := rootCmd.Execute()
	return out.String(), err
}

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestThresholdAndStatsPersist(t *testing.T) {
	statePath := filepath.Join(t.TempDir(), "state.yaml")
	conf := writeConfig(t, "state:\n  backend: file\n  path: "+statePath+"\n")

	out, err := run(t, "--config", conf, "threshold", "7")
	require.NoError(t, err)
	var stats detector.Stats
	require.NoError(t, json.Unmarshal([]byte(out), &stats))
	assert.Equal(t, 1.0, stats.ConfidenceThreshold)

	out, err = run(t, "--config", conf, "stats")
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal([]byte(out), &stats))
	assert.Equal(t, 1.0, stats.ConfidenceThreshold)
	assert.Equal(t, "0%", stats.SuccessRate)
	assert.FileExists(t, statePath)
}

func TestStatsNeedsStore(t *testing.T) {
	_, err := run(t, "--config", writeConfig(t, "log_level: error\n"), "stats")
	assert.ErrorContains(t, err, "no state backend configured")
}

func TestThresholdRejectsGarbage(t *testing.T) {
	_, err := run(t, "--config", writeConfig(t, "log_level: error\n"), "threshold", "high")
	assert.Error(t, err)
}

func TestBadConfig(t *testing.T) {
	_, err := run(t, "--config", writeConfig(t, "nonsense_key: 1\n"), "stats")
	assert.Error(t, err)
}

func TestCollectImages(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "b.png"), []byte("b"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.jpg"), []byte("a"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("x"), 0o644))

	files, err := collectImages(dir)
	require.NoError(t, err)
	require.Len(t, files, 2)
	assert.Equal(t, "a.jpg", filepath.Base(files[0].Path))

	files, err = collectImages(filepath.Join(dir, "notes.txt"))
	require.NoError(t, err)
	assert.Len(t, files, 1)

	_, err = collectImages(filepath.Join(dir, "missing.png"))
	assert.Error(t, err)

	_, err = collectImages(t.TempDir())
	assert.Error(t, err)
}

func TestDetectFile(t *testing.T) {
	session := detector.NewSession(MockLocator{}, nil)

	bad := detectFile(session, util.ImageFile{Path: "/tmp/broken.png", Data: []byte("nope")})
	assert.Equal(t, "broken.png", bad.Filename)
	assert.NotEmpty(t, bad.Error)
	assert.Nil(t, bad.Result)

	mat := gocv.NewMatWithSize(20, 30, gocv.MatTypeCV8UC3)
	defer mat.Close()
	buf, err := gocv.IMEncode(gocv.PNGFileExt, mat)
	require.NoError(t, err)
	defer buf.Close()

	good := detectFile(session, util.ImageFile{Path: "face.png", Data: buf.GetBytes()})
	assert.Empty(t, good.Error)
	require.NotNil(t, good.Result)
	assert.Equal(t, "30x20", good.ImageDimensions)
	assert.Equal(t, detector.NoFacesMessage, good.Message)
	assert.EqualValues(t, 1, session.Stats().TotalAttempts)
}

func TestExplain(t *testing.T) {
	var out bytes.Buffer
	explain(&out, imageReport{
		Filename: "x.png",
		Result: &detector.Result{
			FacesDetected: 1,
			Faces: []detector.FaceResult{{
				BBox:       common.FaceRegion{X: 1, Y: 2, Width: 3, Height: 4},
				Confidence: 0.45,
				IsCheating: true,
				SubScores:  scoring.SubScores{Edge: 0.25, Color: 0.2},
			}},
		},
	})
	assert.Contains(t, out.String(), "x.png: 1 face(s)")
	assert.Contains(t, out.String(), "edge=0.25 color=0.20")
	assert.Contains(t, out.String(), "=> 0.45 cheating=true")
}
