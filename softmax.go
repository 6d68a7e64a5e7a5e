package rnnlstm

import (
	"errors"
	"fmt"
	"math"

	"github.com/unixpickle/anydiff"
	"github.com/unixpickle/anyvec"
	"github.com/unixpickle/anyvec/anyvecsave"
	"github.com/unixpickle/essentials"
	"github.com/unixpickle/serializer"
)

func init() {
	var s Softmax
	serializer.RegisterTypedDeserializer(s.SerializerType(), DeserializeSoftmax)
}

// Softmax projects hidden vectors to vocabulary logits.
//
// The same weights are used at every timestep.
// Weights is a row-major InCount x VocabSize matrix, so
// logits are computed as in*Weights + Biases.
type Softmax struct {
	InCount   int
	VocabSize int
	Weights   *anydiff.Var
	Biases    *anydiff.Var
}

// DeserializeSoftmax attempts to deserialize a Softmax.
func DeserializeSoftmax(d []byte) (*Softmax, error) {
	var weights, biases *anyvecsave.S
	if err := serializer.DeserializeAny(d, &weights, &biases); err != nil {
		return nil, essentials.AddCtx("deserialize Softmax", err)
	}
	vocab := biases.Vector.Len()
	if vocab == 0 || weights.Vector.Len()%vocab != 0 {
		return nil, errors.New("deserialize Softmax: invalid matrix dimensions")
	}
	return &Softmax{
		InCount:   weights.Vector.Len() / vocab,
		VocabSize: vocab,
		Weights:   anydiff.NewVar(weights.Vector),
		Biases:    anydiff.NewVar(biases.Vector),
	}, nil
}

// NewSoftmax creates a randomized Softmax.
// The randomization scheme targets a logit variance of 1,
// given that the input variance is 1.
func NewSoftmax(c anyvec.Creator, in, vocab int) *Softmax {
	res := &Softmax{
		InCount:   in,
		VocabSize: vocab,
		Weights:   anydiff.NewVar(c.MakeVector(in * vocab)),
		Biases:    anydiff.NewVar(c.MakeVector(vocab)),
	}
	anyvec.Rand(res.Weights.Vector, anyvec.Normal, nil)
	res.Weights.Vector.Scale(c.MakeNumeric(1 / math.Sqrt(float64(in))))
	return res
}

// Logits computes unnormalized log probabilities for a
// batch of hidden vectors.
func (s *Softmax) Logits(in anydiff.Res, batch int) anydiff.Res {
	if batch*s.InCount != in.Output().Len() {
		panic(fmt.Sprintf("input length should be %d, but got %d",
			batch*s.InCount, in.Output().Len()))
	}
	inMat := &anydiff.Matrix{Data: in, Rows: batch, Cols: s.InCount}
	weightMat := &anydiff.Matrix{Data: s.Weights, Rows: s.InCount, Cols: s.VocabSize}
	product := anydiff.MatMul(false, false, inMat, weightMat)
	return anydiff.AddRepeated(product.Data, s.Biases)
}

// Apply computes log probabilities for a batch of hidden
// vectors.
func (s *Softmax) Apply(in anydiff.Res, batch int) anydiff.Res {
	return LogSoftmax.Apply(s.Logits(in, batch), batch)
}

// Probs turns a batch of logits into probabilities.
// The result is not meant for back-propagation.
func (s *Softmax) Probs(logits anyvec.Vector) anyvec.Vector {
	logProbs := anydiff.LogSoftmax(anydiff.NewConst(logits), s.VocabSize)
	return anydiff.Exp(logProbs).Output()
}

// Parameters returns a slice containing the weights and
// the biases, in that order.
func (s *Softmax) Parameters() []*anydiff.Var {
	return []*anydiff.Var{s.Weights, s.Biases}
}

// SerializerType returns the unique ID used to serialize
// a Softmax with the serializer package.
func (s *Softmax) SerializerType() string {
	return "github.com/yunsangq/tensorflow-rnn-lstm.Softmax"
}

// Serialize serializes the Softmax.
func (s *Softmax) Serialize() ([]byte, error) {
	return serializer.SerializeAny(
		&anyvecsave.S{Vector: s.Weights.Vector},
		&anyvecsave.S{Vector: s.Biases.Vector},
	)
}
