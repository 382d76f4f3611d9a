package features

import (
	"github.com/chewxy/math32"
	"github.com/pkg/errors"
	"gocv.io/x/gocv"
)

// High frequency window of the 128x128 DCT, in coefficient rows and columns.
const (
	dctBandStart = 32
	dctBandEnd   = 64
)

// frequencyFeatures returns mean, std, max and the count of above-mean
// magnitudes of the DCT coefficients in the [32,64)x[32,64) band.
func frequencyFeatures(gray gocv.Mat) ([]float64, error) {
	src := gocv.NewMat()
	defer src.Close()
	gray.ConvertTo(&src, gocv.MatTypeCV32F)

	coeffs := gocv.NewMat()
	defer coeffs.Close()
	gocv.DCT(src, &coeffs, gocv.DftForward)

	data, err := coeffs.DataPtrFloat32()
	if err != nil {
		return nil, errors.Wrap(err, "read dct coefficients")
	}

	cols := coeffs.Cols()
	band := make([]float64, 0, (dctBandEnd-dctBandStart)*(dctBandEnd-dctBandStart))
	for y := dctBandStart; y < dctBandEnd; y++ {
		for x := dctBandStart; x < dctBandEnd; x++ {
			band = append(band, float64(math32.Abs(data[y*cols+x])))
		}
	}

	mean, std := meanStd(band)
	above := 0
	for _, c := range band {
		if c > mean {
			above++
		}
	}

	return []float64{mean, std, maxOf(band), float64(above)}, nil
}
