package images

import (
	"github.com/nvr-ai/go-cheatdetect/common"
	"github.com/pkg/errors"
	"gocv.io/x/gocv"
)

// Normalize converts an 8-bit image with 1, 3 or 4 channels into a new
// 3-channel BGR Mat. Four channel input is treated as RGBA, matching the
// layout produced by decoders that keep alpha.
//
// Arguments:
// - src: The source image. It is never modified.
//
// Returns:
// - A new BGR Mat owned by the caller (must be closed).
// - An error wrapping common.ErrInvalidInput for empty or unsupported input.
//
// @example
// bgr, err := images.Normalize(frame)
// if err != nil { return err }
// defer bgr.Close()
func Normalize(src gocv.Mat) (gocv.Mat, error) {
	if src.Empty() || src.Rows() <= 0 || src.Cols() <= 0 {
		return gocv.NewMat(), errors.Wrap(common.ErrInvalidInput, "image is empty")
	}

	switch src.Type() {
	case gocv.MatTypeCV8UC3:
		return src.Clone(), nil
	case gocv.MatTypeCV8UC1:
		dst := gocv.NewMat()
		gocv.CvtColor(src, &dst, gocv.ColorGrayToBGR)
		return dst, nil
	case gocv.MatTypeCV8UC4:
		dst := gocv.NewMat()
		gocv.CvtColor(src, &dst, gocv.ColorRGBAToBGR)
		return dst, nil
	default:
		return gocv.NewMat(), errors.Wrapf(common.ErrInvalidInput,
			"unsupported pixel layout: %d channels, type %v", src.Channels(), src.Type())
	}
}

// Gray returns a single channel luma copy of a BGR image.
func Gray(bgr gocv.Mat) gocv.Mat {
	gray := gocv.NewMat()
	gocv.CvtColor(bgr, &gray, gocv.ColorBGRToGray)
	return gray
}
