package optim

import (
	"errors"
	"math"

	"github.com/unixpickle/anydiff"
	"github.com/unixpickle/anyvec"
	"github.com/unixpickle/anyvec/anyvecsave"
	"github.com/unixpickle/essentials"
	"github.com/unixpickle/serializer"
)

const (
	adamDefaultDecayRate1 = 0.9
	adamDefaultDecayRate2 = 0.999
	adamDefaultDamping    = 1e-8
)

// Adam implements the adaptive moments SGD technique
// described in https://arxiv.org/pdf/1412.6980.pdf.
//
// The damping term is added after the square root of the
// second moment, so an update is
//
//     mHat / (sqrt(vHat) + damping)
type Adam struct {
	// These are decay rates for the first and second
	// moments of the gradient.
	// If these are 0, defaults as suggested in the
	// original Adam paper are used.
	DecayRate1, DecayRate2 float64

	// Damping is used to prevent divisions by zero.
	// This should be very small.
	// If it is 0, a default is used.
	Damping float64

	firstMoment  anydiff.Grad
	secondMoment anydiff.Grad
	iteration    float64
}

// Transform replaces the gradient with the Adam update
// direction.
func (a *Adam) Transform(realGrad anydiff.Grad) anydiff.Grad {
	a.updateMoments(realGrad)

	a.iteration++
	scalingFactor := math.Sqrt(1-math.Pow(a.decayRate(2), a.iteration)) /
		(1 - math.Pow(a.decayRate(1), a.iteration))
	damping := a.damping()
	for variable, vec := range realGrad {
		firstVec := a.firstMoment[variable]
		secondVec := a.secondMoment[variable]

		vec.Set(firstVec)
		vec.Scale(vec.Creator().MakeNumeric(scalingFactor))

		divisor := secondVec.Copy()
		anyvec.Pow(divisor, divisor.Creator().MakeNumeric(0.5))
		divisor.AddScalar(divisor.Creator().MakeNumeric(damping))
		vec.Div(divisor)
	}

	return realGrad
}

// Iteration returns the number of updates performed so
// far.
func (a *Adam) Iteration() int {
	return int(a.iteration)
}

// MarshalState encodes the moment estimates for the given
// variables, so that training can be resumed.
// An Adam which has not taken a step encodes to an empty
// slice.
func (a *Adam) MarshalState(vars []*anydiff.Var) ([]byte, error) {
	if a.firstMoment == nil {
		return []byte{}, nil
	}
	if len(vars) != len(a.firstMoment) {
		return nil, errVarsGradMismatch
	}
	objs := []interface{}{serializer.Float64(a.iteration)}
	for _, v := range vars {
		first, ok1 := a.firstMoment[v]
		second, ok2 := a.secondMoment[v]
		if !ok1 || !ok2 {
			return nil, errVarsGradMismatch
		}
		objs = append(objs, &anyvecsave.S{Vector: first}, &anyvecsave.S{Vector: second})
	}
	return serializer.SerializeAny(objs...)
}

// UnmarshalState restores moment estimates produced by
// MarshalState for the same variable list.
func (a *Adam) UnmarshalState(vars []*anydiff.Var, data []byte) error {
	if len(data) == 0 {
		a.firstMoment, a.secondMoment = nil, nil
		a.iteration = 0
		return nil
	}

	var iteration serializer.Float64
	dests := []interface{}{&iteration}
	for range vars {
		dests = append(dests, new(*anyvecsave.S), new(*anyvecsave.S))
	}
	if err := serializer.DeserializeAny(data, dests...); err != nil {
		return essentials.AddCtx("unmarshal Adam state", err)
	}

	first, second := anydiff.Grad{}, anydiff.Grad{}
	for i, v := range vars {
		firstVec := (*dests[1+2*i].(**anyvecsave.S)).Vector
		secondVec := (*dests[2+2*i].(**anyvecsave.S)).Vector
		if firstVec.Len() != v.Vector.Len() || secondVec.Len() != v.Vector.Len() {
			return errors.New("unmarshal Adam state: bad vector length")
		} else if firstVec.Creator() != v.Vector.Creator() {
			return errors.New("unmarshal Adam state: bad vector creator")
		}
		first[v] = firstVec
		second[v] = secondVec
	}
	a.firstMoment, a.secondMoment = first, second
	a.iteration = float64(iteration)
	return nil
}

func (a *Adam) updateMoments(grad anydiff.Grad) {
	if a.firstMoment == nil {
		a.firstMoment = copyGrad(grad)
		scaleGrad(a.firstMoment, 1-a.decayRate(1))
	} else {
		decayRate := a.decayRate(1)
		scaleGrad(a.firstMoment, decayRate)

		keepRate := 1 - decayRate
		for variable, vec := range grad {
			momentVec := a.firstMoment[variable]
			v := vec.Copy()
			v.Scale(vec.Creator().MakeNumeric(keepRate))
			momentVec.Add(v)
		}
	}

	if a.secondMoment == nil {
		a.secondMoment = copyGrad(grad)
		for _, v := range a.secondMoment {
			anyvec.Pow(v, v.Creator().MakeNumeric(2))
		}
		scaleGrad(a.secondMoment, 1-a.decayRate(2))
	} else {
		decayRate := a.decayRate(2)
		scaleGrad(a.secondMoment, decayRate)
		keepRate := 1 - decayRate
		for variable, vec := range grad {
			momentVec := a.secondMoment[variable]
			v := vec.Copy()
			anyvec.Pow(v, v.Creator().MakeNumeric(2))
			v.Scale(v.Creator().MakeNumeric(keepRate))
			momentVec.Add(v)
		}
	}
}

func (a *Adam) decayRate(moment int) float64 {
	if moment == 1 {
		return valueOrDefault(a.DecayRate1, adamDefaultDecayRate1)
	} else if moment == 2 {
		return valueOrDefault(a.DecayRate2, adamDefaultDecayRate2)
	} else {
		panic("invalid moment.")
	}
}

func (a *Adam) damping() float64 {
	return valueOrDefault(a.Damping, adamDefaultDamping)
}

var errVarsGradMismatch = errors.New("variable list does not match gradients")
