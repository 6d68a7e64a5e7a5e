package cell

import (
	"github.com/unixpickle/anydiff"
	"github.com/unixpickle/anyvec"
	"github.com/unixpickle/anyvec/anyvecsave"
	"github.com/unixpickle/essentials"
	"github.com/unixpickle/serializer"
	rnnlstm "github.com/yunsangq/tensorflow-rnn-lstm"
)

const lstmRememberBias = 1

func init() {
	var l LSTMGate
	serializer.RegisterTypedDeserializer(l.SerializerType(), DeserializeLSTMGate)
	var lstm LSTM
	serializer.RegisterTypedDeserializer(lstm.SerializerType(), DeserializeLSTM)
}

// LSTM is a long short-term memory block without
// peephole connections.
//
// For a cell c and hidden state h, one step computes
//
//     c' := remember*c + in*inValue
//     h' := tanh(c') * output
//
// The output of the block is h'.
type LSTM struct {
	InValue  *LSTMGate
	In       *LSTMGate
	Remember *LSTMGate
	Output   *LSTMGate
}

// DeserializeLSTM deserializes an LSTM.
func DeserializeLSTM(d []byte) (*LSTM, error) {
	var inVal, in, rem, out *LSTMGate
	if err := serializer.DeserializeAny(d, &inVal, &in, &rem, &out); err != nil {
		return nil, essentials.AddCtx("deserialize LSTM", err)
	}
	return &LSTM{
		InValue:  inVal,
		In:       in,
		Remember: rem,
		Output:   out,
	}, nil
}

// NewLSTM creates a new, randomized LSTM.
//
// The remember gates of the LSTM are initially biased to
// remember things.
func NewLSTM(c anyvec.Creator, in, state int) *LSTM {
	res := &LSTM{
		InValue:  NewLSTMGate(c, in, state, rnnlstm.Tanh),
		In:       NewLSTMGate(c, in, state, rnnlstm.Sigmoid),
		Remember: NewLSTMGate(c, in, state, rnnlstm.Sigmoid),
		Output:   NewLSTMGate(c, in, state, rnnlstm.Sigmoid),
	}
	res.Remember.Biases.Vector.AddScalar(c.MakeNumeric(lstmRememberBias))
	return res
}

// NewLSTMZero creates a zero'd LSTM.
func NewLSTMZero(c anyvec.Creator, in, state int) *LSTM {
	return &LSTM{
		InValue:  NewLSTMGateZero(c, in, state, rnnlstm.Tanh),
		In:       NewLSTMGateZero(c, in, state, rnnlstm.Sigmoid),
		Remember: NewLSTMGateZero(c, in, state, rnnlstm.Sigmoid),
		Output:   NewLSTMGateZero(c, in, state, rnnlstm.Sigmoid),
	}
}

// StateSize returns the size of the cell and hidden
// vectors.
func (l *LSTM) StateSize() int {
	return l.InValue.Biases.Vector.Len()
}

// Start produces a zero cell and hidden state.
func (l *LSTM) Start(n int) State {
	c := l.InValue.Biases.Vector.Creator()
	return &LSTMState{
		Cell:   NewZeroState(c, l.StateSize(), n),
		Hidden: NewZeroState(c, l.StateSize(), n),
	}
}

// PropagateStart does nothing, since the start state has
// no parameters.
func (l *LSTM) PropagateStart(s StateGrad, g anydiff.Grad) {
}

// Step applies the block for a single timestep.
func (l *LSTM) Step(s State, in anyvec.Vector) Res {
	ls := s.(*LSTMState)
	n := s.Present().NumPresent()
	res := &lstmRes{
		InPool:      anydiff.NewVar(in),
		HiddenPool:  anydiff.NewVar(ls.Hidden.Vector),
		CellPool:    anydiff.NewVar(ls.Cell.Vector),
		PresentMap:  s.Present(),
		StateLength: l.StateSize(),
	}

	inValue := l.InValue.Apply(res.InPool, res.HiddenPool, n)
	inGate := l.In.Apply(res.InPool, res.HiddenPool, n)
	remGate := l.Remember.Apply(res.InPool, res.HiddenPool, n)
	outGate := l.Output.Apply(res.InPool, res.HiddenPool, n)

	res.NewCell = anydiff.Add(
		anydiff.Mul(remGate, res.CellPool),
		anydiff.Mul(inGate, inValue),
	)
	res.NewCellPool = anydiff.NewVar(res.NewCell.Output())
	res.Hidden = anydiff.Mul(anydiff.Tanh(res.NewCellPool), outGate)

	res.V = anydiff.MergeVarSets(res.NewCell.Vars(), res.Hidden.Vars())
	for _, p := range res.pools() {
		res.V.Del(p)
	}
	return res
}

// Parameters returns the parameters of the block.
func (l *LSTM) Parameters() []*anydiff.Var {
	var res []*anydiff.Var
	for _, g := range []*LSTMGate{l.InValue, l.In, l.Remember, l.Output} {
		res = append(res, g.Parameters()...)
	}
	return res
}

// SerializerType returns the unique ID used to serialize
// an LSTM with the serializer package.
func (l *LSTM) SerializerType() string {
	return "github.com/yunsangq/tensorflow-rnn-lstm/cell.LSTM"
}

// Serialize serializes the LSTM.
func (l *LSTM) Serialize() ([]byte, error) {
	return serializer.SerializeAny(l.InValue, l.In, l.Remember, l.Output)
}

// An LSTMGate computes a value based on the previous
// hidden state and the input.
type LSTMGate struct {
	StateWeights *anydiff.Var
	InputWeights *anydiff.Var
	Biases       *anydiff.Var
	Activation   rnnlstm.Activation
}

// DeserializeLSTMGate deserializes an LSTMGate.
func DeserializeLSTMGate(d []byte) (*LSTMGate, error) {
	var sw, iw, b *anyvecsave.S
	var a rnnlstm.Activation
	if err := serializer.DeserializeAny(d, &sw, &iw, &b, &a); err != nil {
		return nil, essentials.AddCtx("deserialize LSTMGate", err)
	}
	return &LSTMGate{
		StateWeights: anydiff.NewVar(sw.Vector),
		InputWeights: anydiff.NewVar(iw.Vector),
		Biases:       anydiff.NewVar(b.Vector),
		Activation:   a,
	}, nil
}

// NewLSTMGate creates a randomized LSTM gate.
func NewLSTMGate(c anyvec.Creator, in, state int, activation rnnlstm.Activation) *LSTMGate {
	// Hijack the vanilla randomization code.
	vn := NewVanilla(c, in, state)
	return &LSTMGate{
		StateWeights: vn.StateWeights,
		InputWeights: vn.InputWeights,
		Biases:       vn.Biases,
		Activation:   activation,
	}
}

// NewLSTMGateZero creates a zero'd LSTM gate.
func NewLSTMGateZero(c anyvec.Creator, in, state int, activation rnnlstm.Activation) *LSTMGate {
	return &LSTMGate{
		StateWeights: anydiff.NewVar(c.MakeVector(state * state)),
		InputWeights: anydiff.NewVar(c.MakeVector(state * in)),
		Biases:       anydiff.NewVar(c.MakeVector(state)),
		Activation:   activation,
	}
}

// Apply computes the gate for a batch of n inputs and
// hidden states.
func (l *LSTMGate) Apply(in, hidden anydiff.Res, n int) anydiff.Res {
	state := l.Biases.Vector.Len()
	inCount := in.Output().Len() / n
	wIn := applyWeights(inCount, state, l.InputWeights, in)
	wHidden := applyWeights(state, state, l.StateWeights, hidden)
	sum := anydiff.AddRepeated(anydiff.Add(wIn, wHidden), l.Biases)
	return l.Activation.Apply(sum, n)
}

// Parameters returns the parameters of the gate.
func (l *LSTMGate) Parameters() []*anydiff.Var {
	return []*anydiff.Var{l.InputWeights, l.StateWeights, l.Biases}
}

// SerializerType returns the unique ID used to serialize
// an LSTM gate with the serializer package.
func (l *LSTMGate) SerializerType() string {
	return "github.com/yunsangq/tensorflow-rnn-lstm/cell.LSTMGate"
}

// Serialize serializes the gate.
func (l *LSTMGate) Serialize() ([]byte, error) {
	sw := &anyvecsave.S{Vector: l.StateWeights.Vector}
	iw := &anyvecsave.S{Vector: l.InputWeights.Vector}
	b := &anyvecsave.S{Vector: l.Biases.Vector}
	return serializer.SerializeAny(sw, iw, b, l.Activation)
}

// LSTMState is the State and StateGrad type used by LSTM.
type LSTMState struct {
	Cell   *VecState
	Hidden *VecState
}

// Present returns the PresentMap shared by both parts of
// the state.
func (l *LSTMState) Present() PresentMap {
	return l.Hidden.PresentMap
}

// Reduce reduces both parts of the state.
func (l *LSTMState) Reduce(p PresentMap) State {
	return &LSTMState{
		Cell:   l.Cell.Reduce(p).(*VecState),
		Hidden: l.Hidden.Reduce(p).(*VecState),
	}
}

// Expand expands both parts of the state gradient.
func (l *LSTMState) Expand(p PresentMap) StateGrad {
	return &LSTMState{
		Cell:   l.Cell.Expand(p).(*VecState),
		Hidden: l.Hidden.Expand(p).(*VecState),
	}
}

type lstmRes struct {
	InPool      *anydiff.Var
	HiddenPool  *anydiff.Var
	CellPool    *anydiff.Var
	NewCellPool *anydiff.Var

	NewCell anydiff.Res
	Hidden  anydiff.Res

	PresentMap  PresentMap
	StateLength int
	V           anydiff.VarSet
}

func (l *lstmRes) State() State {
	return &LSTMState{
		Cell:   &VecState{Vector: l.NewCell.Output(), PresentMap: l.PresentMap},
		Hidden: &VecState{Vector: l.Hidden.Output(), PresentMap: l.PresentMap},
	}
}

func (l *lstmRes) Output() anyvec.Vector {
	return l.Hidden.Output()
}

func (l *lstmRes) Vars() anydiff.VarSet {
	return l.V
}

func (l *lstmRes) Propagate(u anyvec.Vector, s StateGrad, g anydiff.Grad) (anyvec.Vector,
	StateGrad) {
	for _, p := range l.pools() {
		g[p] = p.Vector.Creator().MakeVector(p.Vector.Len())
	}
	if s != nil {
		ls := s.(*LSTMState)
		u.Add(ls.Hidden.Vector)
		g[l.NewCellPool].Add(ls.Cell.Vector)
	}

	l.Hidden.Propagate(u, g)
	cellUpstream := g[l.NewCellPool]
	delete(g, l.NewCellPool)
	l.NewCell.Propagate(cellUpstream, g)

	downIn := g[l.InPool]
	downState := &LSTMState{
		Cell:   &VecState{Vector: g[l.CellPool], PresentMap: l.PresentMap},
		Hidden: &VecState{Vector: g[l.HiddenPool], PresentMap: l.PresentMap},
	}
	for _, p := range l.pools() {
		delete(g, p)
	}
	return downIn, downState
}

func (l *lstmRes) pools() []*anydiff.Var {
	return []*anydiff.Var{l.InPool, l.HiddenPool, l.CellPool, l.NewCellPool}
}
