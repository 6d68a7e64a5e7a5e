package optim

import (
	"math"
	"testing"

	"github.com/unixpickle/anydiff"
	"github.com/unixpickle/anyvec/anyvec32"
	"github.com/unixpickle/anyvec/anyvec64"
)

func TestClipNormLarge(t *testing.T) {
	v1 := anydiff.NewVar(anyvec64.MakeVector(2))
	v2 := anydiff.NewVar(anyvec64.MakeVector(1))
	g := anydiff.Grad{
		v1: anyvec64.MakeVectorData([]float64{3, 0}),
		v2: anyvec64.MakeVectorData([]float64{-4}),
	}
	clip := &ClipNorm{MaxNorm: 1}
	clip.Transform(g)

	if math.Abs(clip.LastNorm-5) > 1e-8 {
		t.Errorf("expected pre-clip norm 5 but got %f", clip.LastNorm)
	}
	if n := GlobalNorm(g); math.Abs(n-1) > 1e-8 {
		t.Errorf("expected norm 1 but got %f", n)
	}
	expected := []float64{0.6, 0}
	actual := g[v1].Data().([]float64)
	for i, e := range expected {
		if math.Abs(actual[i]-e) > 1e-8 {
			t.Errorf("expected %v but got %v", expected, actual)
			break
		}
	}
	if x := g[v2].Data().([]float64)[0]; math.Abs(x+0.8) > 1e-8 {
		t.Errorf("expected -0.8 but got %f", x)
	}
}

func TestClipNormSmall(t *testing.T) {
	v := anydiff.NewVar(anyvec64.MakeVector(2))
	g := anydiff.Grad{v: anyvec64.MakeVectorData([]float64{0.3, -0.4})}
	(&ClipNorm{MaxNorm: 5}).Transform(g)
	actual := g[v].Data().([]float64)
	if actual[0] != 0.3 || actual[1] != -0.4 {
		t.Errorf("gradient should be unchanged but got %v", actual)
	}
}

func TestChain(t *testing.T) {
	v := anydiff.NewVar(anyvec64.MakeVector(1))
	g := anydiff.Grad{v: anyvec64.MakeVectorData([]float64{10})}
	clip := &ClipNorm{MaxNorm: 2}
	out := Chain{clip, &Adam{}}.Transform(g)
	if clip.LastNorm != 10 {
		t.Errorf("expected clip to see norm 10 but got %f", clip.LastNorm)
	}
	if x := out[v].Data().([]float64)[0]; math.Abs(x-1) > 1e-6 {
		t.Errorf("expected 1 but got %f", x)
	}
}

func TestRaters(t *testing.T) {
	if r := ConstRater(0.002).Rate(7); r != 0.002 {
		t.Errorf("expected 0.002 but got %f", r)
	}
	exp := &ExpRater{Initial: 0.002, Decay: 0.97}
	if r := exp.Rate(0); r != 0.002 {
		t.Errorf("expected 0.002 but got %f", r)
	}
	if r := exp.Rate(2); math.Abs(r-0.002*0.97*0.97) > 1e-12 {
		t.Errorf("expected %f but got %f", 0.002*0.97*0.97, r)
	}
}

func TestGlobalNormFloat32(t *testing.T) {
	v1 := anydiff.NewVar(anyvec32.MakeVector(3))
	v2 := anydiff.NewVar(anyvec32.MakeVector(1))
	g := anydiff.Grad{
		v1: anyvec32.MakeVectorData([]float32{1, -2, 2}),
		v2: anyvec32.MakeVectorData([]float32{4}),
	}
	if n := GlobalNorm(g); math.Abs(n-5) > 1e-5 {
		t.Errorf("expected norm 5 but got %f", n)
	}
	if n := GlobalNorm(anydiff.Grad{}); n != 0 {
		t.Errorf("expected norm 0 but got %f", n)
	}
}
