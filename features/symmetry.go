package features

const symmetryDiffThreshold = 50

// symmetryFeatures compares the left half of the face with the mirrored right
// half and returns mean, std and max of the absolute difference plus the
// fraction of pixels differing by more than 50 levels.
func symmetryFeatures(gray []uint8, rows, cols int) []float64 {
	half := cols / 2
	width := cols - half
	if half < width {
		width = half
	}

	diffs := make([]float64, 0, rows*width)
	strong := 0
	for y := 0; y < rows; y++ {
		row := gray[y*cols : (y+1)*cols]
		for x := 0; x < width; x++ {
			d := int(row[x]) - int(row[cols-1-x])
			if d < 0 {
				d = -d
			}
			if d > symmetryDiffThreshold {
				strong++
			}
			diffs = append(diffs, float64(d))
		}
	}

	if len(diffs) == 0 {
		return make([]float64, SymmetryLen)
	}
	mean, std := meanStd(diffs)
	return []float64{mean, std, maxOf(diffs), float64(strong) / float64(len(diffs))}
}
