// Package locator finds face rectangles in BGR images.
package locator

import (
	"image"

	"github.com/nvr-ai/go-cheatdetect/common"
	"github.com/pkg/errors"
	"gocv.io/x/gocv"
)

// Locator finds faces in a normalized 3-channel BGR image.
//
// Implementations return regions fully contained in the image bounds, in the
// order the underlying detector produced them. A locator that cannot run
// returns an error wrapping common.ErrLocatorFailure; it never reports an
// empty result in place of a failure.
type Locator interface {
	Locate(img gocv.Mat) ([]common.FaceRegion, error)
	Close() error
}

// grayFor returns a single channel view of img for detection. The caller
// closes the returned Mat.
func grayFor(img gocv.Mat) (gocv.Mat, error) {
	if img.Empty() || img.Rows() <= 0 || img.Cols() <= 0 {
		return gocv.NewMat(), errors.Wrap(common.ErrInvalidInput, "locate on empty image")
	}

	switch img.Type() {
	case gocv.MatTypeCV8UC3:
		gray := gocv.NewMat()
		gocv.CvtColor(img, &gray, gocv.ColorBGRToGray)
		return gray, nil
	case gocv.MatTypeCV8UC1:
		return img.Clone(), nil
	default:
		return gocv.NewMat(), errors.Wrapf(common.ErrInvalidInput,
			"locate expects 8-bit BGR or gray input, got %d channels", img.Channels())
	}
}

// clampRegions converts raw detections into regions inside bounds, dropping
// any that end up without area.
func clampRegions(rects []image.Rectangle, bounds image.Rectangle) []common.FaceRegion {
	regions := make([]common.FaceRegion, 0, len(rects))
	for _, r := range rects {
		region := common.NewFaceRegion(r).Clamp(bounds)
		if region.Area() > 0 {
			regions = append(regions, region)
		}
	}
	return regions
}

func matBounds(img gocv.Mat) image.Rectangle {
	return image.Rect(0, 0, img.Cols(), img.Rows())
}

// Locator kinds accepted by New.
const (
	KindHaar = "haar"
	KindPigo = "pigo"
)

// New builds a locator of the given kind.
func New(kind string, haar HaarOptions, pg PigoOptions) (Locator, error) {
	switch kind {
	case "", KindHaar:
		return NewHaarLocator(haar)
	case KindPigo:
		return NewPigoLocator(pg)
	default:
		return nil, errors.Errorf("unknown locator kind %q", kind)
	}
}
