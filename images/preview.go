package images

import (
	"bytes"
	"encoding/base64"
	"image"
	"image/color"
	"image/jpeg"

	"github.com/nfnt/resize"
	"github.com/nvr-ai/go-cheatdetect/common"
	"github.com/pkg/errors"
	"gocv.io/x/gocv"
)

var (
	cleanColor     = color.RGBA{0, 200, 0, 0}
	flaggedColor   = color.RGBA{255, 0, 0, 0}
	previewQuality = 80
)

// Box is a face rectangle to draw on a preview, flagged boxes are drawn red.
type Box struct {
	Region  common.FaceRegion
	Flagged bool
}

// Thumbnail scales img down so neither side exceeds maxSide, keeping the
// aspect ratio. Images already small enough are returned unchanged.
func Thumbnail(img image.Image, maxSide uint) image.Image {
	b := img.Bounds()
	if uint(b.Dx()) <= maxSide && uint(b.Dy()) <= maxSide {
		return img
	}
	return resize.Thumbnail(maxSide, maxSide, img, resize.Lanczos3)
}

// Preview draws the face boxes onto a copy of bgr, shrinks it to maxSide and
// returns it as a base64 JPEG data URI.
//
// Arguments:
// - bgr: The analysed BGR image; it is not modified.
// - boxes: Face rectangles to outline.
// - maxSide: Longest side of the returned thumbnail in pixels.
//
// Returns:
// - A "data:image/jpeg;base64,..." string.
// - An error if the image cannot be converted or encoded.
func Preview(bgr gocv.Mat, boxes []Box, maxSide uint) (string, error) {
	if bgr.Empty() {
		return "", errors.Wrap(common.ErrInvalidInput, "preview of empty image")
	}

	canvas := bgr.Clone()
	defer canvas.Close()

	for _, box := range boxes {
		c := cleanColor
		if box.Flagged {
			c = flaggedColor
		}
		gocv.Rectangle(&canvas, box.Region.Rect(), c, 2)
	}

	img, err := canvas.ToImage()
	if err != nil {
		return "", errors.Wrap(err, "convert preview")
	}

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, Thumbnail(img, maxSide), &jpeg.Options{Quality: previewQuality}); err != nil {
		return "", errors.Wrap(err, "encode preview")
	}

	return "data:image/jpeg;base64," + base64.StdEncoding.EncodeToString(buf.Bytes()), nil
}
