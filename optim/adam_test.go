package optim

import (
	"math"
	"reflect"
	"testing"

	"github.com/unixpickle/anydiff"
	"github.com/unixpickle/anyvec/anyvec64"
)

func TestAdam(t *testing.T) {
	x := anydiff.NewVar(anyvec64.MakeVector(2))
	target := []float64{3, -1}
	adam := &Adam{}

	for i := 0; i < 20000; i++ {
		cur := x.Vector.Data().([]float64)
		grad := make([]float64, 2)
		for j := range grad {
			grad[j] = 2 * (cur[j] - target[j])
		}
		g := anydiff.Grad{x: anyvec64.MakeVectorData(grad)}
		Step(g, adam, 0.01)
	}

	cur := x.Vector.Data().([]float64)
	for j, expected := range target {
		if math.Abs(cur[j]-expected) > 1e-2 {
			t.Errorf("bad solution: %v", cur)
			break
		}
	}
	if adam.Iteration() != 20000 {
		t.Errorf("expected 20000 iterations but got %d", adam.Iteration())
	}
}

func TestAdamFirstStep(t *testing.T) {
	// The first update has magnitude close to 1 for every
	// non-zero component, regardless of the gradient scale.
	x := anydiff.NewVar(anyvec64.MakeVector(3))
	g := anydiff.Grad{x: anyvec64.MakeVectorData([]float64{100, -0.5, 0})}
	out := (&Adam{}).Transform(g)
	actual := out[x].Data().([]float64)
	expected := []float64{1, -1, 0}
	for i, e := range expected {
		if math.Abs(actual[i]-e) > 1e-6 {
			t.Errorf("expected %v but got %v", expected, actual)
			break
		}
	}
}

func TestAdamState(t *testing.T) {
	vars := []*anydiff.Var{
		anydiff.NewVar(anyvec64.MakeVector(2)),
		anydiff.NewVar(anyvec64.MakeVector(3)),
	}
	makeGrad := func() anydiff.Grad {
		return anydiff.Grad{
			vars[0]: anyvec64.MakeVectorData([]float64{1, -2}),
			vars[1]: anyvec64.MakeVectorData([]float64{0.5, 3, -1}),
		}
	}

	a1 := &Adam{}
	data, err := a1.MarshalState(vars)
	if err != nil {
		t.Fatal(err)
	}
	if len(data) != 0 {
		t.Errorf("expected empty state but got %d bytes", len(data))
	}

	a1.Transform(makeGrad())
	a1.Transform(makeGrad())
	data, err = a1.MarshalState(vars)
	if err != nil {
		t.Fatal(err)
	}

	a2 := &Adam{}
	if err := a2.UnmarshalState(vars, data); err != nil {
		t.Fatal(err)
	}
	if a2.Iteration() != 2 {
		t.Errorf("expected iteration 2 but got %d", a2.Iteration())
	}

	out1 := a1.Transform(makeGrad())
	out2 := a2.Transform(makeGrad())
	for _, v := range vars {
		if !reflect.DeepEqual(out1[v].Data(), out2[v].Data()) {
			t.Errorf("expected %v but got %v", out1[v].Data(), out2[v].Data())
		}
	}
}
