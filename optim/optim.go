// Package optim provides the gradient transformations and
// learning rate schedules used to train a model.
package optim

import (
	"math"

	"github.com/unixpickle/anydiff"
)

// A Transformer transforms gradients.
// For example, clipping or pre-conditioning could be
// implemented as a transformer.
//
// After its first call, a Transformer expects to see
// gradients of the same form (i.e. containing the same
// variables).
//
// A Transformer may modify its input and return the same
// gradient as an output.
// A Transformer's output is only guaranteed to be valid
// until the next time Transform is called.
type Transformer interface {
	Transform(g anydiff.Grad) anydiff.Grad
}

// A Chain applies Transformers in order.
type Chain []Transformer

// Transform applies every Transformer in the chain.
func (c Chain) Transform(g anydiff.Grad) anydiff.Grad {
	for _, t := range c {
		g = t.Transform(g)
	}
	return g
}

// A Rater determines the learning rate given the epoch
// number.
type Rater interface {
	Rate(epoch float64) float64
}

// A ConstRater is a Rater which always returns the same
// constant learning rate.
type ConstRater float64

// Rate returns float64(c).
func (c ConstRater) Rate(epoch float64) float64 {
	return float64(c)
}

// An ExpRater decays the learning rate exponentially, so
// that the rate for epoch e is Initial * Decay^e.
type ExpRater struct {
	Initial float64
	Decay   float64
}

// Rate returns the decayed learning rate.
func (e *ExpRater) Rate(epoch float64) float64 {
	return e.Initial * math.Pow(e.Decay, epoch)
}

// Step transforms g (if t is non-nil), scales it by the
// negative learning rate, and adds it to the variables.
func Step(g anydiff.Grad, t Transformer, rate float64) {
	if t != nil {
		g = t.Transform(g)
	}
	scaleGrad(g, -rate)
	g.AddToVars()
}

func copyGrad(g anydiff.Grad) anydiff.Grad {
	res := anydiff.Grad{}
	for v, vec := range g {
		res[v] = vec.Copy()
	}
	return res
}

func scaleGrad(g anydiff.Grad, s float64) {
	for _, v := range g {
		g.Scale(v.Creator().MakeNumeric(s))
		return
	}
}

func valueOrDefault(value, def float64) float64 {
	if value == 0 {
		return def
	}
	return value
}
