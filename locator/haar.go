package locator

import (
	"image"
	"os"
	"path/filepath"
	"sync"

	"github.com/nvr-ai/go-cheatdetect/common"
	"github.com/pkg/errors"
	"gocv.io/x/gocv"
)

// DefaultCascadeName is the OpenCV frontal face Haar cascade file.
const DefaultCascadeName = "haarcascade_frontalface_default.xml"

// CascadeSearchPaths are probed, in order, when the configured cascade path
// does not exist.
var CascadeSearchPaths = []string{
	"/usr/share/opencv4/haarcascades",
	"/usr/local/share/opencv4/haarcascades",
	"/usr/share/opencv/haarcascades",
	"/usr/local/share/opencv/haarcascades",
	"data/haarcascades",
	".",
}

// HaarOptions configures a HaarLocator.
type HaarOptions struct {
	// CascadePath is the cascade XML file. Empty means DefaultCascadeName.
	CascadePath string
	// ScaleFactor is the image pyramid step (default 1.1).
	ScaleFactor float64
	// MinNeighbors is the number of overlapping hits a face needs (default 4).
	MinNeighbors int
	// MinSize and MaxSize bound the face side in pixels; 0 leaves them open.
	MinSize int
	MaxSize int
}

// DefaultHaarOptions returns the detection parameters used by the service.
func DefaultHaarOptions() HaarOptions {
	return HaarOptions{
		CascadePath:  DefaultCascadeName,
		ScaleFactor:  1.1,
		MinNeighbors: 4,
	}
}

// HaarLocator finds faces with an OpenCV cascade classifier.
//
// The native classifier is not safe for concurrent use, so Locate calls are
// serialized.
type HaarLocator struct {
	mu         sync.Mutex
	classifier gocv.CascadeClassifier
	opts       HaarOptions
	path       string
	closed     bool
}

// ResolveCascade returns the first existing cascade file for path: path
// itself, then its base name under each of CascadeSearchPaths.
//
// Returns:
// - The resolved file path.
// - An error wrapping common.ErrLocatorFailure when no candidate exists.
func ResolveCascade(path string) (string, error) {
	if path == "" {
		path = DefaultCascadeName
	}
	if _, err := os.Stat(path); err == nil {
		return path, nil
	}

	name := filepath.Base(path)
	for _, dir := range CascadeSearchPaths {
		candidate := filepath.Join(dir, name)
		if _, err := os.Stat(candidate); err == nil {
			return candidate, nil
		}
	}
	return "", errors.Wrapf(common.ErrLocatorFailure, "cascade %q not found", path)
}

// NewHaarLocator loads the cascade described by opts.
//
// Arguments:
// - opts: Cascade path and detection parameters. Zero values take defaults.
//
// Returns:
// - A ready HaarLocator; call Close to release the classifier.
// - An error wrapping common.ErrLocatorFailure when the cascade cannot be loaded.
//
// @example
// loc, err := locator.NewHaarLocator(locator.DefaultHaarOptions())
// if err != nil { return err }
// defer loc.Close()
func NewHaarLocator(opts HaarOptions) (*HaarLocator, error) {
	defaults := DefaultHaarOptions()
	if opts.ScaleFactor <= 1 {
		opts.ScaleFactor = defaults.ScaleFactor
	}
	if opts.MinNeighbors <= 0 {
		opts.MinNeighbors = defaults.MinNeighbors
	}

	path, err := ResolveCascade(opts.CascadePath)
	if err != nil {
		return nil, err
	}

	classifier := gocv.NewCascadeClassifier()
	if !classifier.Load(path) {
		classifier.Close()
		return nil, errors.Wrapf(common.ErrLocatorFailure, "load cascade %q", path)
	}

	return &HaarLocator{classifier: classifier, opts: opts, path: path}, nil
}

// Path returns the cascade file actually loaded.
func (h *HaarLocator) Path() string {
	return h.path
}

// Locate runs the cascade over the luma of img.
func (h *HaarLocator) Locate(img gocv.Mat) ([]common.FaceRegion, error) {
	gray, err := grayFor(img)
	if err != nil {
		return nil, err
	}
	defer gray.Close()

	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return nil, errors.Wrap(common.ErrLocatorFailure, "haar locator is closed")
	}

	rects := h.classifier.DetectMultiScaleWithParams(gray, h.opts.ScaleFactor, h.opts.MinNeighbors, 0,
		image.Pt(h.opts.MinSize, h.opts.MinSize), image.Pt(h.opts.MaxSize, h.opts.MaxSize))

	return clampRegions(rects, matBounds(img)), nil
}

// Close releases the classifier. Further Locate calls fail.
func (h *HaarLocator) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return nil
	}
	h.closed = true
	return h.classifier.Close()
}
