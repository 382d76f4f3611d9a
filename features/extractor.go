package features

import (
	"image"

	"github.com/nvr-ai/go-cheatdetect/images"
	"github.com/pkg/errors"
	"gocv.io/x/gocv"
)

// Extractor turns face crops into descriptor Vectors. It holds no state, so a
// single Extractor may be shared by concurrent callers.
type Extractor struct{}

// NewExtractor returns a ready Extractor.
func NewExtractor() *Extractor {
	return &Extractor{}
}

// Extract computes the Length-value descriptor of a face crop.
//
// The crop is normalized to BGR, resized to FaceSize x FaceSize with bilinear
// interpolation, and a gray copy is derived for the texture, edge, frequency
// and symmetry blocks.
//
// Arguments:
// - face: An 8-bit crop with 1, 3 or 4 channels. It is not modified.
//
// Returns:
// - A fresh Vector of Length values, identical for identical crops.
// - An error wrapping common.ErrInvalidInput for empty or unsupported crops.
//
// @example
// crop := frame.Region(region.Rect())
// defer crop.Close()
// vec, err := extractor.Extract(crop)
func (e *Extractor) Extract(face gocv.Mat) (Vector, error) {
	bgr, err := images.Normalize(face)
	if err != nil {
		return nil, err
	}
	defer bgr.Close()

	resized := gocv.NewMat()
	defer resized.Close()
	gocv.Resize(bgr, &resized, image.Pt(FaceSize, FaceSize), 0, 0, gocv.InterpolationLinear)

	gray := images.Gray(resized)
	defer gray.Close()

	pixels, err := gray.DataPtrUint8()
	if err != nil {
		return nil, errors.Wrap(err, "read gray face")
	}
	rows, cols := gray.Rows(), gray.Cols()

	vec := make(Vector, 0, Length)
	vec = append(vec, textureFeatures(pixels, rows, cols)...)

	edge, err := edgeFeatures(gray)
	if err != nil {
		return nil, err
	}
	vec = append(vec, edge...)

	color, err := colorFeatures(resized)
	if err != nil {
		return nil, err
	}
	vec = append(vec, color...)

	freq, err := frequencyFeatures(gray)
	if err != nil {
		return nil, err
	}
	vec = append(vec, freq...)

	vec = append(vec, symmetryFeatures(pixels, rows, cols)...)

	return vec, nil
}
