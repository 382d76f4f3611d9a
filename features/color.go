package features

import (
	"github.com/pkg/errors"
	"gocv.io/x/gocv"
)

// colorFeatures returns BGR mean/std/median per channel, then HSV and Lab
// mean/std per channel.
func colorFeatures(bgr gocv.Mat) ([]float64, error) {
	out := make([]float64, 0, ColorLen)

	data, err := bgr.DataPtrUint8()
	if err != nil {
		return nil, errors.Wrap(err, "read bgr pixels")
	}
	for _, plane := range splitChannels(data, 3) {
		mean, std := meanStd(toFloats(plane))
		out = append(out, mean, std, medianUint8(plane))
	}

	for _, code := range []gocv.ColorConversionCode{gocv.ColorBGRToHSV, gocv.ColorBGRToLab} {
		stats, err := convertedChannelStats(bgr, code)
		if err != nil {
			return nil, err
		}
		out = append(out, stats...)
	}

	return out, nil
}

func convertedChannelStats(bgr gocv.Mat, code gocv.ColorConversionCode) ([]float64, error) {
	converted := gocv.NewMat()
	defer converted.Close()
	gocv.CvtColor(bgr, &converted, code)

	data, err := converted.DataPtrUint8()
	if err != nil {
		return nil, errors.Wrapf(err, "read converted pixels (code %d)", code)
	}

	out := make([]float64, 0, 6)
	for _, plane := range splitChannels(data, 3) {
		mean, std := meanStd(toFloats(plane))
		out = append(out, mean, std)
	}
	return out, nil
}
