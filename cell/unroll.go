package cell

import (
	"github.com/unixpickle/anydiff"
	"github.com/unixpickle/anydiff/anyseq"
	"github.com/unixpickle/anyvec"
)

type unrollRes struct {
	C        anyvec.Creator
	Block    Block
	InitPres PresentMap
	In       anyseq.Seq
	Out      []*anyseq.Batch
	BlockRes []Res
	V        anydiff.VarSet
}

// Map maps a Block over an input sequence batch, starting
// from the block's own start state.
func Map(s anyseq.Seq, b Block) anyseq.Seq {
	inSteps := s.Output()
	if len(inSteps) == 0 {
		return &unrollRes{C: seqCreator(s), Block: b, In: s, V: anydiff.VarSet{}}
	}
	out, _ := Unroll(s, b, b.Start(len(inSteps[0].Present)))
	return out
}

// Unroll runs a Block over every timestep of an input
// sequence batch, starting from the given state.
//
// It returns the output sequence batch and the state after
// the last timestep.
// For sequences which end early, the final state is
// reduced to the sequences present at the last timestep.
// If the input has no timesteps, start is returned as the
// final state.
func Unroll(s anyseq.Seq, b Block, start State) (anyseq.Seq, State) {
	res := &unrollRes{
		C:        seqCreator(s),
		Block:    b,
		InitPres: start.Present(),
		In:       s,
		V:        s.Vars(),
	}
	state := start
	for _, x := range s.Output() {
		if x.NumPresent() != state.Present().NumPresent() {
			state = state.Reduce(x.Present)
		}
		step := b.Step(state, x.Packed)
		res.BlockRes = append(res.BlockRes, step)
		res.V = anydiff.MergeVarSets(res.V, step.Vars())
		res.Out = append(res.Out, &anyseq.Batch{
			Packed:  step.Output(),
			Present: x.Present,
		})
		state = step.State()
	}
	return res, state
}

// Creator returns the creator of the input vectors, or nil
// for an empty input.
func (u *unrollRes) Creator() anyvec.Creator {
	return u.C
}

func (u *unrollRes) Output() []*anyseq.Batch {
	return u.Out
}

func (u *unrollRes) Vars() anydiff.VarSet {
	return u.V
}

func (u *unrollRes) Propagate(upstream []*anyseq.Batch, g anydiff.Grad) {
	if len(upstream) == 0 {
		return
	}

	var downstream []*anyseq.Batch
	if g.Intersects(u.In.Vars()) {
		downstream = make([]*anyseq.Batch, len(upstream))
	}

	var upState StateGrad
	for i := len(u.BlockRes) - 1; i >= 0; i-- {
		blockRes := u.BlockRes[i]
		if upState != nil {
			newPres := blockRes.State().Present()
			if newPres.NumPresent() != upState.Present().NumPresent() {
				upState = upState.Expand(newPres)
			}
		}
		down, downState := blockRes.Propagate(upstream[i].Packed, upState, g)
		if downstream != nil {
			downstream[i] = &anyseq.Batch{Packed: down, Present: upstream[i].Present}
		}
		upState = downState
	}

	if upState != nil {
		if u.InitPres.NumPresent() != upState.Present().NumPresent() {
			upState = upState.Expand(u.InitPres)
		}
		u.Block.PropagateStart(upState, g)
	}

	if downstream != nil {
		u.In.Propagate(downstream, g)
	}
}

func seqCreator(s anyseq.Seq) anyvec.Creator {
	if out := s.Output(); len(out) > 0 {
		return out[0].Packed.Creator()
	}
	return nil
}
