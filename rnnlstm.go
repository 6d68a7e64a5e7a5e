// Package rnnlstm provides the layers used to build a
// recurrent language model: token embeddings, the softmax
// output projection, dropout, and the cross-entropy cost.
//
// Recurrent cells live in the cell sub-package, while the
// full model and the sampler live in model and sampler.
package rnnlstm

import (
	"fmt"

	"github.com/unixpickle/anydiff"
	"github.com/unixpickle/anyvec"
)

// A Parameterizer is anything with learnable variables.
//
// The parameters of a Parameterizer must be in the same
// order every time Parameters() is called.
type Parameterizer interface {
	Parameters() []*anydiff.Var
}

// A Layer is a batched computation unit.
//
// The input's length must be divisible by the batch size,
// since the batch size indicates how many equally-long
// vectors are packed into the input vector.
type Layer interface {
	Apply(in anydiff.Res, batchSize int) anydiff.Res
}

var (
	_ Layer = (*Embedding)(nil)
	_ Layer = (*Softmax)(nil)
	_ Layer = (*Dropout)(nil)
	_ Layer = Tanh
)

// AllParameters collects the parameters of every object
// that implements Parameterizer, in order.
// Other objects are skipped.
func AllParameters(objs ...interface{}) []*anydiff.Var {
	var res []*anydiff.Var
	for _, x := range objs {
		if p, ok := x.(Parameterizer); ok {
			res = append(res, p.Parameters()...)
		}
	}
	return res
}

// OneHot packs a batch of one-hot vectors, one per id.
// It panics if an id is outside [0, size).
func OneHot(c anyvec.Creator, ids []int, size int) anyvec.Vector {
	data := make([]float64, len(ids)*size)
	for i, id := range ids {
		if id < 0 || id >= size {
			panic(fmt.Sprintf("token id %d out of range [0, %d)", id, size))
		}
		data[i*size+id] = 1
	}
	return c.MakeVectorData(c.MakeNumericList(data))
}

// Floats converts the contents of a vector to float64s.
// It panics for numeric types other than float32 and
// float64.
func Floats(v anyvec.Vector) []float64 {
	switch data := v.Data().(type) {
	case []float64:
		return data
	case []float32:
		res := make([]float64, len(data))
		for i, x := range data {
			res[i] = float64(x)
		}
		return res
	default:
		panic(fmt.Sprintf("unsupported numeric type: %T", data))
	}
}
