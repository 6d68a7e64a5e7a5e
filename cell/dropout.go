package cell

import (
	"fmt"

	"github.com/unixpickle/anydiff"
	"github.com/unixpickle/anyvec"
	"github.com/unixpickle/essentials"
	"github.com/unixpickle/serializer"
	rnnlstm "github.com/yunsangq/tensorflow-rnn-lstm"
)

func init() {
	var d Dropout
	serializer.RegisterTypedDeserializer(d.SerializerType(), DeserializeDropout)
}

// Dropout wraps a Block and applies dropout to its output.
// The state passed to the next timestep is left intact.
type Dropout struct {
	Block   Block
	Dropout *rnnlstm.Dropout
}

// NewDropout wraps b with an enabled dropout layer.
func NewDropout(b Block, keepProb float64) *Dropout {
	return &Dropout{
		Block:   b,
		Dropout: &rnnlstm.Dropout{Enabled: true, KeepProb: keepProb},
	}
}

// DeserializeDropout deserializes a Dropout block.
func DeserializeDropout(d []byte) (*Dropout, error) {
	var b Block
	var drop *rnnlstm.Dropout
	if err := serializer.DeserializeAny(d, &b, &drop); err != nil {
		return nil, essentials.AddCtx("deserialize cell Dropout", err)
	}
	return &Dropout{Block: b, Dropout: drop}, nil
}

// Start returns the wrapped block's start state.
func (d *Dropout) Start(n int) State {
	return d.Block.Start(n)
}

// PropagateStart propagates through the wrapped block's
// start state.
func (d *Dropout) PropagateStart(s StateGrad, g anydiff.Grad) {
	d.Block.PropagateStart(s, g)
}

// Step applies the wrapped block and masks its output.
func (d *Dropout) Step(s State, in anyvec.Vector) Res {
	res := d.Block.Step(s, in)
	if !d.Dropout.Enabled || d.Dropout.KeepProb >= 1 {
		return res
	}
	pool := anydiff.NewVar(res.Output())
	out := d.Dropout.Apply(pool, s.Present().NumPresent())
	v := anydiff.MergeVarSets(res.Vars(), out.Vars())
	v.Del(pool)
	return &dropoutRes{
		Inner: res,
		Pool:  pool,
		Out:   out,
		V:     v,
	}
}

// Parameters returns the wrapped block's parameters.
func (d *Dropout) Parameters() []*anydiff.Var {
	return rnnlstm.AllParameters(d.Block)
}

// SerializerType returns the unique ID used to serialize
// a Dropout block with the serializer package.
func (d *Dropout) SerializerType() string {
	return "github.com/yunsangq/tensorflow-rnn-lstm/cell.Dropout"
}

// Serialize serializes the block.
// The wrapped block must implement serializer.Serializer.
func (d *Dropout) Serialize() ([]byte, error) {
	ser, ok := d.Block.(serializer.Serializer)
	if !ok {
		return nil, fmt.Errorf("serialize cell Dropout: not a Serializer: %T", d.Block)
	}
	return serializer.SerializeAny(ser, d.Dropout)
}

type dropoutRes struct {
	Inner Res
	Pool  *anydiff.Var
	Out   anydiff.Res
	V     anydiff.VarSet
}

func (d *dropoutRes) State() State {
	return d.Inner.State()
}

func (d *dropoutRes) Output() anyvec.Vector {
	return d.Out.Output()
}

func (d *dropoutRes) Vars() anydiff.VarSet {
	return d.V
}

func (d *dropoutRes) Propagate(u anyvec.Vector, s StateGrad, g anydiff.Grad) (anyvec.Vector,
	StateGrad) {
	down := d.Pool.Vector.Creator().MakeVector(d.Pool.Vector.Len())
	g[d.Pool] = down
	d.Out.Propagate(u, g)
	delete(g, d.Pool)
	return d.Inner.Propagate(down, s, g)
}
