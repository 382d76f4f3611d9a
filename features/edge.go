package features

import (
	"github.com/pkg/errors"
	"gocv.io/x/gocv"
)

const (
	cannyLow  = 50
	cannyHigh = 150
)

// edgeFeatures returns Sobel magnitude mean/std, Canny map mean/std and the
// fraction of Canny edge pixels.
func edgeFeatures(gray gocv.Mat) ([]float64, error) {
	sobelX := gocv.NewMat()
	defer sobelX.Close()
	sobelY := gocv.NewMat()
	defer sobelY.Close()
	magnitude := gocv.NewMat()
	defer magnitude.Close()

	gocv.Sobel(gray, &sobelX, gocv.MatTypeCV64F, 1, 0, 3, 1, 0, gocv.BorderDefault)
	gocv.Sobel(gray, &sobelY, gocv.MatTypeCV64F, 0, 1, 3, 1, 0, gocv.BorderDefault)
	gocv.Magnitude(sobelX, sobelY, &magnitude)

	mag, err := magnitude.DataPtrFloat64()
	if err != nil {
		return nil, errors.Wrap(err, "read sobel magnitude")
	}
	magMean, magStd := meanStd(mag)

	edges := gocv.NewMat()
	defer edges.Close()
	gocv.Canny(gray, &edges, cannyLow, cannyHigh)

	edgeData, err := edges.DataPtrUint8()
	if err != nil {
		return nil, errors.Wrap(err, "read canny map")
	}
	edgeMean, edgeStd := meanStd(toFloats(edgeData))

	nonZero := 0
	for _, e := range edgeData {
		if e != 0 {
			nonZero++
		}
	}
	density := float64(nonZero) / float64(len(edgeData))

	return []float64{magMean, magStd, edgeMean, edgeStd, density}, nil
}
