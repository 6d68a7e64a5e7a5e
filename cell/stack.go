package cell

import (
	"errors"
	"fmt"

	"github.com/unixpickle/anydiff"
	"github.com/unixpickle/anyvec"
	"github.com/unixpickle/essentials"
	"github.com/unixpickle/serializer"
	rnnlstm "github.com/yunsangq/tensorflow-rnn-lstm"
)

func init() {
	var s Stack
	serializer.RegisterTypedDeserializer(s.SerializerType(), DeserializeStack)
}

// A Stack is a meta-Block for composing Blocks.
// In a Stack, the first Block's output is fed as input to
// the next Block, etc.
//
// An empty Stack is invalid.
type Stack []Block

// DeserializeStack deserializes a Stack.
func DeserializeStack(d []byte) (Stack, error) {
	slice, err := serializer.DeserializeSlice(d)
	if err != nil {
		return nil, essentials.AddCtx("deserialize Stack", err)
	}
	if len(slice) == 0 {
		return nil, errors.New("deserialize Stack: no layers")
	}
	res := make(Stack, len(slice))
	for i, x := range slice {
		if b, ok := x.(Block); ok {
			res[i] = b
		} else {
			return nil, fmt.Errorf("deserialize Stack: not a Block: %T", x)
		}
	}
	return res, nil
}

// Start produces a start state.
func (s Stack) Start(n int) State {
	s.assertNonEmpty()
	res := make(StackState, len(s))
	for i, x := range s {
		res[i] = x.Start(n)
	}
	return res
}

// PropagateStart back-propagates through the start state.
func (s Stack) PropagateStart(sg StateGrad, g anydiff.Grad) {
	for i, x := range s {
		x.PropagateStart(sg.(StackGrad)[i], g)
	}
}

// Step applies the block for a single timestep.
func (s Stack) Step(st State, in anyvec.Vector) Res {
	s.assertNonEmpty()
	res := &stackRes{V: anydiff.VarSet{}}
	inVec := in
	for i, x := range s {
		inState := st.(StackState)[i]
		blockRes := x.Step(inState, inVec)
		inVec = blockRes.Output()
		res.Reses = append(res.Reses, blockRes)
		res.OutState = append(res.OutState, blockRes.State())
		res.V = anydiff.MergeVarSets(res.V, blockRes.Vars())
	}
	return res
}

// Parameters returns the parameters of every layer, from
// the bottom of the stack to the top.
func (s Stack) Parameters() []*anydiff.Var {
	objs := make([]interface{}, len(s))
	for i, x := range s {
		objs[i] = x
	}
	return rnnlstm.AllParameters(objs...)
}

// SerializerType returns the unique ID used to serialize
// a Stack with the serializer package.
func (s Stack) SerializerType() string {
	return "github.com/yunsangq/tensorflow-rnn-lstm/cell.Stack"
}

// Serialize serializes the Stack.
// Every layer must implement serializer.Serializer.
func (s Stack) Serialize() ([]byte, error) {
	var slice []serializer.Serializer
	for _, x := range s {
		if ser, ok := x.(serializer.Serializer); ok {
			slice = append(slice, ser)
		} else {
			return nil, fmt.Errorf("not a Serializer: %T", x)
		}
	}
	return serializer.SerializeSlice(slice)
}

func (s Stack) assertNonEmpty() {
	if len(s) == 0 {
		panic("empty Stack is invalid")
	}
}

type stackRes struct {
	Reses    []Res
	OutState StackState
	V        anydiff.VarSet
}

func (s *stackRes) State() State {
	return s.OutState
}

func (s *stackRes) Output() anyvec.Vector {
	return s.Reses[len(s.Reses)-1].Output()
}

func (s *stackRes) Vars() anydiff.VarSet {
	return s.V
}

func (s *stackRes) Propagate(u anyvec.Vector, sg StateGrad, g anydiff.Grad) (anyvec.Vector,
	StateGrad) {
	downVec := u
	downStates := make(StackGrad, len(s.Reses))
	for i := len(s.Reses) - 1; i >= 0; i-- {
		var stateUpstream StateGrad
		if sg != nil {
			stateUpstream = sg.(StackGrad)[i]
		}
		down, downState := s.Reses[i].Propagate(downVec, stateUpstream, g)
		downVec = down
		downStates[i] = downState
	}
	return downVec, downStates
}

// StackState is the State of a Stack, holding one State
// per layer.
type StackState []State

// Present returns the PresentMap of the first layer.
func (s StackState) Present() PresentMap {
	return s[0].Present()
}

// Reduce reduces every layer's state.
func (s StackState) Reduce(p PresentMap) State {
	res := make(StackState, len(s))
	for i, x := range s {
		res[i] = x.Reduce(p)
	}
	return res
}

// StackGrad is the StateGrad of a Stack.
type StackGrad []StateGrad

// Present returns the PresentMap of the first layer.
func (s StackGrad) Present() PresentMap {
	return s[0].Present()
}

// Expand expands every layer's gradient.
func (s StackGrad) Expand(p PresentMap) StateGrad {
	res := make(StackGrad, len(s))
	for i, x := range s {
		res[i] = x.Expand(p)
	}
	return res
}
