package locator

import (
	"image"
	"math/rand"
	"os"
	"path/filepath"
	"testing"

	"github.com/nvr-ai/go-cheatdetect/common"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gocv.io/x/gocv"
)

func noiseMat(t *testing.T, rows, cols int, seed int64) gocv.Mat {
	t.Helper()
	data := make([]byte, rows*cols*3)
	rand.New(rand.NewSource(seed)).Read(data)
	mat, err := gocv.NewMatFromBytes(rows, cols, gocv.MatTypeCV8UC3, data)
	require.NoError(t, err)
	return mat
}

func haarOrSkip(t *testing.T) *HaarLocator {
	t.Helper()
	if _, err := ResolveCascade(DefaultCascadeName); err != nil {
		t.Skipf("haar cascade not installed: %v", err)
	}
	loc, err := NewHaarLocator(DefaultHaarOptions())
	require.NoError(t, err)
	return loc
}

func TestResolveCascade(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "custom_cascade.xml")
	require.NoError(t, os.WriteFile(path, []byte("<opencv_storage/>"), 0o600))

	got, err := ResolveCascade(path)
	require.NoError(t, err)
	assert.Equal(t, path, got)

	_, err = ResolveCascade(filepath.Join(dir, "no_such_cascade_5f1c.xml"))
	assert.True(t, errors.Is(err, common.ErrLocatorFailure))
}

func TestNewHaarLocatorFailures(t *testing.T) {
	_, err := NewHaarLocator(HaarOptions{CascadePath: filepath.Join(t.TempDir(), "missing_7d2e.xml")})
	assert.True(t, errors.Is(err, common.ErrLocatorFailure))

	garbage := filepath.Join(t.TempDir(), "garbage_cascade.xml")
	require.NoError(t, os.WriteFile(garbage, []byte("not a cascade"), 0o600))
	_, err = NewHaarLocator(HaarOptions{CascadePath: garbage})
	assert.True(t, errors.Is(err, common.ErrLocatorFailure))
}

func TestHaarLocatorNoiseHasNoFaces(t *testing.T) {
	loc := haarOrSkip(t)
	defer loc.Close()

	img := noiseMat(t, 200, 200, 42)
	defer img.Close()

	regions, err := loc.Locate(img)
	require.NoError(t, err)
	assert.Empty(t, regions)
}

func TestHaarLocatorErrors(t *testing.T) {
	loc := haarOrSkip(t)

	empty := gocv.NewMat()
	defer empty.Close()
	_, err := loc.Locate(empty)
	assert.True(t, errors.Is(err, common.ErrInvalidInput))

	require.NoError(t, loc.Close())
	require.NoError(t, loc.Close())

	img := noiseMat(t, 50, 50, 1)
	defer img.Close()
	_, err = loc.Locate(img)
	assert.True(t, errors.Is(err, common.ErrLocatorFailure))
}

func TestPigoLocator(t *testing.T) {
	_, err := NewPigoLocator(PigoOptions{CascadePath: filepath.Join(t.TempDir(), "facefinder")})
	assert.True(t, errors.Is(err, common.ErrLocatorFailure))

	path := os.Getenv("CHEAT_PIGO_CASCADE")
	if path == "" {
		path = DefaultPigoOptions().CascadePath
	}
	if _, err := os.Stat(path); err != nil {
		t.Skipf("pigo cascade not available at %s", path)
	}

	loc, err := NewPigoLocator(PigoOptions{CascadePath: path})
	require.NoError(t, err)
	defer loc.Close()

	img := noiseMat(t, 200, 200, 42)
	defer img.Close()
	regions, err := loc.Locate(img)
	require.NoError(t, err)
	for _, r := range regions {
		assert.NoError(t, r.Validate(image.Rect(0, 0, 200, 200)))
	}
}

func TestGrayForRejectsFourChannels(t *testing.T) {
	rgba := gocv.NewMatWithSize(10, 10, gocv.MatTypeCV8UC4)
	defer rgba.Close()
	_, err := grayFor(rgba)
	assert.True(t, errors.Is(err, common.ErrInvalidInput))
}

func TestClampRegions(t *testing.T) {
	bounds := image.Rect(0, 0, 100, 80)
	regions := clampRegions([]image.Rectangle{
		image.Rect(10, 10, 50, 50),
		image.Rect(-20, 60, 30, 120),
		image.Rect(200, 200, 250, 250),
	}, bounds)

	require.Len(t, regions, 2)
	assert.Equal(t, common.FaceRegion{X: 10, Y: 10, Width: 40, Height: 40}, regions[0])
	assert.Equal(t, common.FaceRegion{X: 0, Y: 60, Width: 30, Height: 20}, regions[1])
}

func TestSuppressOverlaps(t *testing.T) {
	regions := []common.FaceRegion{
		{X: 0, Y: 0, Width: 100, Height: 100},
		{X: 5, Y: 5, Width: 100, Height: 100},
		{X: 300, Y: 300, Width: 50, Height: 50},
	}
	kept := suppressOverlaps(regions, 0.5)
	assert.Equal(t, []common.FaceRegion{regions[0], regions[2]}, kept)
}
