package features

// lbpOffsets are the neighbor (row, col) offsets in clockwise order from the
// top-left. The first neighbor is the most significant bit of the code.
var lbpOffsets = [8][2]int{
	{-1, -1}, {-1, 0}, {-1, 1},
	{0, 1},
	{1, 1}, {1, 0}, {1, -1},
	{0, -1},
}

// LBPCodes computes the 8-neighbor local binary pattern of a row-major gray
// image. A neighbor sets its bit when it is >= the center. Border pixels have
// no full neighborhood and keep code 0.
func LBPCodes(gray []uint8, rows, cols int) []uint8 {
	codes := make([]uint8, rows*cols)
	for y := 1; y < rows-1; y++ {
		for x := 1; x < cols-1; x++ {
			center := gray[y*cols+x]
			var code uint8
			for _, off := range lbpOffsets {
				code <<= 1
				if gray[(y+off[0])*cols+x+off[1]] >= center {
					code |= 1
				}
			}
			codes[y*cols+x] = code
		}
	}
	return codes
}

// LBPHistogram returns the 256-bin histogram of the LBP code image, including
// the zero-coded border, normalized by the pixel count.
func LBPHistogram(gray []uint8, rows, cols int) [256]float64 {
	var counts [256]int
	for _, c := range LBPCodes(gray, rows, cols) {
		counts[c]++
	}

	var hist [256]float64
	total := float64(rows*cols) + 1e-7
	for i, n := range counts {
		hist[i] = float64(n) / total
	}
	return hist
}

func textureFeatures(gray []uint8, rows, cols int) []float64 {
	hist := LBPHistogram(gray, rows, cols)
	out := make([]float64, TextureLen)
	copy(out, hist[:TextureLen])
	return out
}
