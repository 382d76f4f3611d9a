// Package features computes the fixed-layout handcrafted descriptor vector
// for a single face crop: LBP texture, edge, color, DCT frequency and
// bilateral symmetry statistics.
package features

// Sizes of each descriptor block, in vector order.
const (
	TextureLen   = 50
	EdgeLen      = 5
	ColorLen     = 21
	FrequencyLen = 4
	SymmetryLen  = 4

	// Length is the number of values in every Vector produced by Extract.
	Length = TextureLen + EdgeLen + ColorLen + FrequencyLen + SymmetryLen

	// FaceSize is the side of the square every crop is resized to.
	FaceSize = 128
)

// Block names a contiguous [Start, End) range of a Vector.
type Block struct {
	Name  string
	Start int
	End   int
}

// Len returns the number of values in the block.
func (b Block) Len() int { return b.End - b.Start }

// Blocks of the vector layout.
var (
	Texture   = Block{Name: "texture", Start: 0, End: TextureLen}
	Edge      = Block{Name: "edge", Start: Texture.End, End: Texture.End + EdgeLen}
	Color     = Block{Name: "color", Start: Edge.End, End: Edge.End + ColorLen}
	Frequency = Block{Name: "frequency", Start: Color.End, End: Color.End + FrequencyLen}
	Symmetry  = Block{Name: "symmetry", Start: Frequency.End, End: Frequency.End + SymmetryLen}

	// Layout lists the blocks in vector order.
	Layout = []Block{Texture, Edge, Color, Frequency, Symmetry}
)

// Vector is an ordered face descriptor. Order is significant: the scorer
// addresses values by fixed position.
type Vector []float64

// Slice returns the values of block b, or nil when the vector is too short to
// hold the whole block.
func (v Vector) Slice(b Block) []float64 {
	if len(v) < b.End {
		return nil
	}
	return v[b.Start:b.End]
}

// Clone returns an independent copy of the vector.
func (v Vector) Clone() Vector {
	out := make(Vector, len(v))
	copy(out, v)
	return out
}
