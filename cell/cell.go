// Package cell implements the recurrent cells of a
// language model and the machinery to stack them and
// unroll them over sequences.
package cell

import (
	"fmt"

	"github.com/unixpickle/anydiff"
	"github.com/unixpickle/anyvec"
)

// A PresentMap is used to indicate which sequences are
// present in a State and which ones are not.
// A true value indicates present.
type PresentMap []bool

// NumPresent counts the present sequences.
func (p PresentMap) NumPresent() int {
	var i int
	for _, x := range p {
		if x {
			i++
		}
	}
	return i
}

// AllPresent creates a PresentMap of n present sequences.
func AllPresent(n int) PresentMap {
	res := make(PresentMap, n)
	for i := range res {
		res[i] = true
	}
	return res
}

// A State stores a batch of recurrent states.
//
// A present sequence is one which has not yet terminated.
// Absent sequences have no state in the batch.
type State interface {
	// Present provides information about which sequences
	// have states in the batch.
	Present() PresentMap

	// Reduce creates a copy of the State with a new
	// PresentMap, which must be a subset of Present().
	Reduce(PresentMap) State
}

// A StateGrad is an upstream gradient for a State.
type StateGrad interface {
	// Present provides information about which sequences
	// have upstream gradients in the batch.
	Present() PresentMap

	// Expand inserts zero gradients as necessary to expand
	// the present map.
	// It is the inverse of State.Reduce().
	Expand(PresentMap) StateGrad
}

// A Block is a differentiable recurrent unit.
// It receives an input/state batch and produces a batch
// of outputs and new states.
type Block interface {
	// Start produces the zero state with a batch size of n.
	Start(n int) State

	// PropagateStart back-propagates through the start
	// state.
	PropagateStart(s StateGrad, g anydiff.Grad)

	// Step applies the block for a single timestep.
	Step(s State, in anyvec.Vector) Res
}

// A Res represents the output of a Block for one timestep
// and is used to back-propagate through it.
type Res interface {
	// State returns the output state batch.
	State() State

	// Output returns the Block outputs.
	Output() anyvec.Vector

	// Vars returns the variables upon which the output
	// depends.
	Vars() anydiff.VarSet

	// Propagate propagates the gradient for one timestep.
	// It takes an upstream vector u for the output, an
	// upstream StateGrad s for the output state, and the
	// gradient to which partials should be added.
	// It returns the downstream input vector and the
	// StateGrad for the previous timestep.
	//
	// The upstream state s may be nil, indicating a zero
	// upstream.
	// Propagate may modify u and s.
	Propagate(u anyvec.Vector, s StateGrad, g anydiff.Grad) (anyvec.Vector, StateGrad)
}

// Kind identifies one of the supported cell types.
type Kind int

// These are the supported cell types.
const (
	Plain Kind = iota
	LSTMKind
)

// ParseKind maps a configured cell name to a Kind.
// The accepted names are "rnn" and "lstm".
func ParseKind(name string) (Kind, error) {
	switch name {
	case "rnn":
		return Plain, nil
	case "lstm":
		return LSTMKind, nil
	default:
		return 0, fmt.Errorf("model type not supported: %q", name)
	}
}

// String returns the configured name of the Kind.
func (k Kind) String() string {
	switch k {
	case Plain:
		return "rnn"
	case LSTMKind:
		return "lstm"
	default:
		return fmt.Sprintf("Kind(%d)", int(k))
	}
}

// New creates a randomized block of the given kind with
// in inputs and a state of size hidden.
func New(k Kind, c anyvec.Creator, in, hidden int) Block {
	switch k {
	case Plain:
		return NewVanilla(c, in, hidden)
	case LSTMKind:
		return NewLSTM(c, in, hidden)
	default:
		panic(fmt.Sprintf("unknown cell kind: %d", int(k)))
	}
}
