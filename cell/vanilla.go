package cell

import (
	"errors"
	"math"

	"github.com/unixpickle/anydiff"
	"github.com/unixpickle/anyvec"
	"github.com/unixpickle/anyvec/anyvecsave"
	"github.com/unixpickle/essentials"
	"github.com/unixpickle/serializer"
	rnnlstm "github.com/yunsangq/tensorflow-rnn-lstm"
)

func init() {
	var v Vanilla
	serializer.RegisterTypedDeserializer(v.SerializerType(), DeserializeVanilla)
}

// Vanilla implements a plain recurrent block with a single
// linear transformation and squashing function.
//
// The output (and new state) of a Vanilla block is
//
//     out := s(Ws*inState + Wi*input + b)
//
// Where s is the activation, Ws is the state transformation,
// Wi is the input transformation, and b is a bias.
// The start state is always zero.
type Vanilla struct {
	InCount  int
	OutCount int

	StateWeights *anydiff.Var
	InputWeights *anydiff.Var
	Biases       *anydiff.Var
	Activation   rnnlstm.Activation
}

// DeserializeVanilla deserializes a Vanilla block.
func DeserializeVanilla(d []byte) (*Vanilla, error) {
	var stW, inW, b *anyvecsave.S
	var a rnnlstm.Activation
	if err := serializer.DeserializeAny(d, &stW, &inW, &b, &a); err != nil {
		return nil, essentials.AddCtx("deserialize Vanilla", err)
	}

	outCount := b.Vector.Len()
	if outCount == 0 {
		return nil, errors.New("deserialize Vanilla: empty bias vector")
	}
	inCount := inW.Vector.Len() / outCount

	if stW.Vector.Len() != outCount*outCount {
		return nil, errors.New("deserialize Vanilla: incorrect state matrix size")
	}
	if inW.Vector.Len() != inCount*outCount {
		return nil, errors.New("deserialize Vanilla: incorrect input matrix size")
	}

	return &Vanilla{
		InCount:      inCount,
		OutCount:     outCount,
		StateWeights: anydiff.NewVar(stW.Vector),
		InputWeights: anydiff.NewVar(inW.Vector),
		Biases:       anydiff.NewVar(b.Vector),
		Activation:   a,
	}, nil
}

// NewVanilla creates a new, randomized Vanilla block with
// a tanh activation.
func NewVanilla(c anyvec.Creator, in, out int) *Vanilla {
	res := NewVanillaZero(c, in, out)

	anyvec.Rand(res.StateWeights.Vector, anyvec.Normal, nil)
	anyvec.Rand(res.InputWeights.Vector, anyvec.Normal, nil)
	res.StateWeights.Vector.Scale(c.MakeNumeric(1 / math.Sqrt(float64(out))))
	res.InputWeights.Vector.Scale(c.MakeNumeric(1 / math.Sqrt(float64(in))))

	return res
}

// NewVanillaZero creates a new, zero'd out Vanilla block.
func NewVanillaZero(c anyvec.Creator, in, out int) *Vanilla {
	return &Vanilla{
		InCount:      in,
		OutCount:     out,
		StateWeights: anydiff.NewVar(c.MakeVector(out * out)),
		InputWeights: anydiff.NewVar(c.MakeVector(in * out)),
		Biases:       anydiff.NewVar(c.MakeVector(out)),
		Activation:   rnnlstm.Tanh,
	}
}

// Start generates a zero start state.
func (v *Vanilla) Start(n int) State {
	return NewZeroState(v.Biases.Vector.Creator(), v.OutCount, n)
}

// PropagateStart does nothing, since the start state has
// no parameters.
func (v *Vanilla) PropagateStart(s StateGrad, g anydiff.Grad) {
}

// Step performs one timestep.
func (v *Vanilla) Step(s State, in anyvec.Vector) Res {
	res := &vanillaRes{
		InPool:    anydiff.NewVar(in),
		StatePool: anydiff.NewVar(s.(*VecState).Vector),
	}

	wState := applyWeights(v.OutCount, v.OutCount, v.StateWeights, res.StatePool)
	wInput := applyWeights(v.InCount, v.OutCount, v.InputWeights, res.InPool)
	sum := anydiff.Add(wState, wInput)
	biased := anydiff.AddRepeated(sum, v.Biases)
	res.Out = v.Activation.Apply(biased, s.Present().NumPresent())
	res.OutState = &VecState{Vector: res.Out.Output(), PresentMap: s.Present()}

	res.V = anydiff.MergeVarSets(anydiff.VarSet{}, res.Out.Vars())
	res.V.Del(res.InPool)
	res.V.Del(res.StatePool)

	return res
}

// Parameters returns all of the block's parameters.
func (v *Vanilla) Parameters() []*anydiff.Var {
	return []*anydiff.Var{v.InputWeights, v.StateWeights, v.Biases}
}

// SerializerType returns the unique ID used to serialize
// a Vanilla with the serializer package.
func (v *Vanilla) SerializerType() string {
	return "github.com/yunsangq/tensorflow-rnn-lstm/cell.Vanilla"
}

// Serialize serializes the Vanilla.
func (v *Vanilla) Serialize() ([]byte, error) {
	stW := &anyvecsave.S{Vector: v.StateWeights.Vector}
	inW := &anyvecsave.S{Vector: v.InputWeights.Vector}
	b := &anyvecsave.S{Vector: v.Biases.Vector}
	return serializer.SerializeAny(stW, inW, b, v.Activation)
}

type vanillaRes struct {
	InPool    *anydiff.Var
	StatePool *anydiff.Var
	OutState  State
	Out       anydiff.Res
	V         anydiff.VarSet
}

func (v *vanillaRes) State() State {
	return v.OutState
}

func (v *vanillaRes) Output() anyvec.Vector {
	return v.Out.Output()
}

func (v *vanillaRes) Vars() anydiff.VarSet {
	return v.V
}

func (v *vanillaRes) Propagate(u anyvec.Vector, s StateGrad, g anydiff.Grad) (anyvec.Vector,
	StateGrad) {
	c := v.InPool.Vector.Creator()
	down := c.MakeVector(v.InPool.Vector.Len())
	downState := c.MakeVector(v.StatePool.Vector.Len())
	g[v.InPool] = down
	g[v.StatePool] = downState
	if s != nil {
		u.Add(s.(*VecState).Vector)
	}
	v.Out.Propagate(u, g)
	delete(g, v.InPool)
	delete(g, v.StatePool)
	return down, &VecState{
		Vector:     downState,
		PresentMap: v.OutState.Present(),
	}
}

// applyWeights multiplies every vector in a batch by an
// out-by-in weight matrix.
func applyWeights(in, out int, weights anydiff.Res, batch anydiff.Res) anydiff.Res {
	weightMat := &anydiff.Matrix{Data: weights, Rows: out, Cols: in}
	inMat := &anydiff.Matrix{Data: batch, Rows: batch.Output().Len() / in, Cols: in}
	return anydiff.MatMul(false, true, inMat, weightMat).Data
}
