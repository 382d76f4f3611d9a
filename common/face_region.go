// Package common holds the types shared by the locator, the feature extractor
// and the detection session.
package common

import (
	"encoding/json"
	"fmt"
	"image"

	"github.com/pkg/errors"
)

// FaceRegion is an axis-aligned face rectangle in image pixel coordinates.
type FaceRegion struct {
	X      int
	Y      int
	Width  int
	Height int
}

// NewFaceRegion converts an image.Rectangle into a FaceRegion.
func NewFaceRegion(r image.Rectangle) FaceRegion {
	r = r.Canon()
	return FaceRegion{X: r.Min.X, Y: r.Min.Y, Width: r.Dx(), Height: r.Dy()}
}

// Rect returns the region as an image.Rectangle suitable for gocv.Mat.Region.
func (f FaceRegion) Rect() image.Rectangle {
	return image.Rect(f.X, f.Y, f.X+f.Width, f.Y+f.Height)
}

// Area returns the region area in pixels.
func (f FaceRegion) Area() int {
	return f.Width * f.Height
}

// Validate checks that the region has a positive size and lies fully inside
// bounds.
//
// Arguments:
// - bounds: The image bounds the region must be contained in.
//
// Returns:
// - An error wrapping ErrInvalidInput when the region is degenerate or out of bounds.
func (f FaceRegion) Validate(bounds image.Rectangle) error {
	if f.Width <= 0 || f.Height <= 0 {
		return errors.Wrapf(ErrInvalidInput, "face region %s has no area", f)
	}
	if !f.Rect().In(bounds) {
		return errors.Wrapf(ErrInvalidInput, "face region %s outside image %v", f, bounds)
	}
	return nil
}

// Clamp intersects the region with bounds. The result may have no area when
// the region lies completely outside.
func (f FaceRegion) Clamp(bounds image.Rectangle) FaceRegion {
	return NewFaceRegion(f.Rect().Intersect(bounds))
}

func (f FaceRegion) String() string {
	return fmt.Sprintf("[%d %d %d %d]", f.X, f.Y, f.Width, f.Height)
}

// MarshalJSON encodes the region as the bbox array [x, y, w, h].
func (f FaceRegion) MarshalJSON() ([]byte, error) {
	return json.Marshal([4]int{f.X, f.Y, f.Width, f.Height})
}

// UnmarshalJSON decodes a bbox array [x, y, w, h].
func (f *FaceRegion) UnmarshalJSON(data []byte) error {
	var bbox [4]int
	if err := json.Unmarshal(data, &bbox); err != nil {
		return errors.Wrap(err, "decode bbox")
	}
	*f = FaceRegion{X: bbox[0], Y: bbox[1], Width: bbox[2], Height: bbox[3]}
	return nil
}

// IoU returns the intersection over union of two regions, 0 when either has
// no area.
//
// @example
// a := FaceRegion{X: 0, Y: 0, Width: 100, Height: 100}
// b := FaceRegion{X: 50, Y: 50, Width: 100, Height: 100}
// iou := a.IoU(b) // ~0.143 (2500/17500)
func (f FaceRegion) IoU(other FaceRegion) float64 {
	inter := f.Rect().Intersect(other.Rect())
	interArea := inter.Dx() * inter.Dy()
	union := f.Area() + other.Area() - interArea
	if union <= 0 {
		return 0
	}
	return float64(interArea) / float64(union)
}
