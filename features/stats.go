package features

import (
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

// meanStd returns the mean and population standard deviation of xs.
func meanStd(xs []float64) (float64, float64) {
	return stat.PopMeanStdDev(xs, nil)
}

func maxOf(xs []float64) float64 {
	if len(xs) == 0 {
		return 0
	}
	return floats.Max(xs)
}

// medianUint8 returns the median of 8-bit samples, averaging the two middle
// values for an even count.
func medianUint8(xs []uint8) float64 {
	if len(xs) == 0 {
		return 0
	}

	var counts [256]int
	for _, x := range xs {
		counts[x]++
	}

	n := len(xs)
	lo, hi := (n-1)/2, n/2
	loVal, hiVal := -1, -1
	seen := 0
	for v, c := range counts {
		seen += c
		if loVal < 0 && seen > lo {
			loVal = v
		}
		if seen > hi {
			hiVal = v
			break
		}
	}
	return float64(loVal+hiVal) / 2
}

func toFloats(xs []uint8) []float64 {
	out := make([]float64, len(xs))
	for i, x := range xs {
		out[i] = float64(x)
	}
	return out
}

// splitChannels de-interleaves packed pixel bytes into per-channel planes.
func splitChannels(data []uint8, channels int) [][]uint8 {
	planes := make([][]uint8, channels)
	n := len(data) / channels
	for c := range planes {
		planes[c] = make([]uint8, n)
	}
	for i := 0; i < n; i++ {
		for c := 0; c < channels; c++ {
			planes[c][i] = data[i*channels+c]
		}
	}
	return planes
}
