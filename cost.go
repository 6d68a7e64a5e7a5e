package rnnlstm

import "github.com/unixpickle/anydiff"

// A Cost measures the error of a batch of network outputs
// against a batch of desired outputs.
// It produces one cost per batch element.
type Cost interface {
	Cost(desired, actual anydiff.Res, n int) anydiff.Res
}

// CrossEntropy computes the cross-entropy between one-hot
// (or otherwise normalized) desired distributions and the
// log probabilities produced by a LogSoftmax.
//
// For a one-hot target t, the cost of a row is -log p[t].
type CrossEntropy struct{}

// Cost takes the dot product of each actual output with
// each desired output, negates it, and uses that as the
// cost.
func (c CrossEntropy) Cost(desired, actual anydiff.Res, n int) anydiff.Res {
	comb := anydiff.Mul(desired, actual)
	dots := anydiff.SumCols(&anydiff.Matrix{
		Data: comb,
		Rows: n,
		Cols: comb.Output().Len() / n,
	})
	return anydiff.Scale(dots, dots.Output().Creator().MakeNumeric(-1))
}

// Weighted scales a batch of per-element costs by a
// weight for each element.
type Weighted struct {
	Weights []float64
	Wrapped Cost
}

// Cost computes the wrapped cost and multiplies each
// element by its weight.
func (w *Weighted) Cost(desired, actual anydiff.Res, n int) anydiff.Res {
	if len(w.Weights) != n {
		panic("weight count must match batch size")
	}
	costs := w.Wrapped.Cost(desired, actual, n)
	c := costs.Output().Creator()
	weights := c.MakeVectorData(c.MakeNumericList(w.Weights))
	return anydiff.Mul(costs, anydiff.NewConst(weights))
}
