// Package scoring turns a face descriptor into a bounded manipulation
// likelihood using fixed, hand-tuned rules over the standardized vector.
package scoring

import (
	"math"

	"github.com/nvr-ai/go-cheatdetect/features"
	"gonum.org/v1/gonum/stat"
)

const epsilon = 1e-7

// Rule scores one fixed range of the standardized vector.
//
// A variance rule contributes Weight when the range's population variance
// exceeds Threshold. Otherwise the rule contributes Weight times the fraction
// of range values whose magnitude exceeds Threshold. A rule only applies when
// the vector is strictly longer than the range's End.
type Rule struct {
	Block     features.Block
	Threshold float64
	Weight    float64
	Variance  bool
}

// Rules address fixed offsets of the descriptor. From index 55 on they do not
// line up with features.Layout, and indices 78 and up are never scored.
var Rules = []Rule{
	{Block: features.Block{Name: "texture", Start: 0, End: 50}, Threshold: 2.0, Weight: 0.30, Variance: true},
	{Block: features.Block{Name: "edge", Start: 50, End: 55}, Threshold: 2.0, Weight: 0.25},
	{Block: features.Block{Name: "color", Start: 55, End: 70}, Threshold: 1.5, Weight: 0.20},
	{Block: features.Block{Name: "frequency", Start: 70, End: 74}, Threshold: 2.5, Weight: 0.15},
	{Block: features.Block{Name: "symmetry", Start: 74, End: 78}, Threshold: 2.0, Weight: 0.10},
}

// SubScores holds each rule's contribution to the confidence.
type SubScores struct {
	Texture   float64 `json:"texture"`
	Edge      float64 `json:"edge"`
	Color     float64 `json:"color"`
	Frequency float64 `json:"frequency"`
	Symmetry  float64 `json:"symmetry"`
}

// Sum returns the unclamped total of the sub-scores.
func (s SubScores) Sum() float64 {
	return s.Texture + s.Edge + s.Color + s.Frequency + s.Symmetry
}

func (s *SubScores) set(name string, v float64) {
	switch name {
	case "texture":
		s.Texture = v
	case "edge":
		s.Edge = v
	case "color":
		s.Color = v
	case "frequency":
		s.Frequency = v
	case "symmetry":
		s.Symmetry = v
	}
}

// Score returns the manipulation likelihood of v in [0, 1]. v is not modified.
//
// @example
// vec, _ := extractor.Extract(crop)
// confidence := scoring.Score(vec)
func Score(v features.Vector) float64 {
	return math.Min(Breakdown(v).Sum(), 1.0)
}

// Breakdown returns the per-rule sub-scores of v. Rules whose range does not
// fit strictly inside the vector contribute 0.
func Breakdown(v features.Vector) SubScores {
	var out SubScores
	if len(v) == 0 {
		return out
	}

	z := Standardize(v)
	for _, rule := range Rules {
		if len(z) <= rule.Block.End {
			continue
		}
		out.set(rule.Block.Name, rule.apply(z[rule.Block.Start:rule.Block.End]))
	}
	return out
}

func (r Rule) apply(block []float64) float64 {
	if r.Variance {
		if stat.PopVariance(block, nil) > r.Threshold {
			return r.Weight
		}
		return 0
	}

	over := 0
	for _, x := range block {
		if math.Abs(x) > r.Threshold {
			over++
		}
	}
	return r.Weight * float64(over) / float64(len(block))
}

// Standardize returns a z-scored copy of v using its own mean and population
// standard deviation (plus a small epsilon).
func Standardize(v features.Vector) features.Vector {
	mean, std := stat.PopMeanStdDev(v, nil)
	out := make(features.Vector, len(v))
	for i, x := range v {
		out[i] = (x - mean) / (std + epsilon)
	}
	return out
}
