package images

import (
	"bytes"
	"image"

	"github.com/chai2010/webp"
	"github.com/nvr-ai/go-cheatdetect/common"
	"github.com/pkg/errors"
	"gocv.io/x/gocv"
)

// Decode turns encoded image bytes into a 3-channel BGR Mat.
//
// WebP payloads are decoded in Go and converted, everything else goes through
// OpenCV's codecs.
//
// Arguments:
// - data: The encoded image bytes.
//
// Returns:
// - A BGR Mat owned by the caller.
// - An error wrapping common.ErrInvalidInput when the bytes cannot be decoded.
func Decode(data []byte) (gocv.Mat, error) {
	if len(data) == 0 {
		return gocv.NewMat(), errors.Wrap(common.ErrInvalidInput, "no image data")
	}

	if DetectFormat(data) == FormatWebP {
		img, err := webp.Decode(bytes.NewReader(data))
		if err != nil {
			return gocv.NewMat(), errors.Wrapf(common.ErrInvalidInput, "decode webp: %v", err)
		}
		return FromImage(img)
	}

	mat, err := gocv.IMDecode(data, gocv.IMReadColor)
	if err != nil {
		mat.Close()
		return gocv.NewMat(), errors.Wrapf(common.ErrInvalidInput, "decode image: %v", err)
	}
	if mat.Empty() {
		mat.Close()
		return gocv.NewMat(), errors.Wrap(common.ErrInvalidInput, "undecodable image data")
	}
	return mat, nil
}

// FromImage converts a Go image into a 3-channel BGR Mat.
func FromImage(img image.Image) (gocv.Mat, error) {
	if img == nil || img.Bounds().Empty() {
		return gocv.NewMat(), errors.Wrap(common.ErrInvalidInput, "image is empty")
	}
	mat, err := gocv.ImageToMatRGB(img)
	if err != nil {
		return gocv.NewMat(), errors.Wrapf(common.ErrInvalidInput, "convert image: %v", err)
	}
	return mat, nil
}
