package cell

import (
	"math"
	"reflect"
	"testing"

	"github.com/unixpickle/anydiff/anyseq"
	"github.com/unixpickle/anyvec/anyvec32"
	"github.com/unixpickle/anyvec/anyvec64"
)

func TestVecStateReduce(t *testing.T) {
	s := &VecState{
		Vector:     anyvec32.MakeVectorData([]float32{1, 2, 3, 4, 5, 6, 7, 8, 9, 10}),
		PresentMap: PresentMap{true, false, true, true, false, false, true, true},
	}
	cases := []struct {
		present  PresentMap
		expected []float32
	}{
		{PresentMap{true, false, false, true, false, false, false, true}, []float32{1, 2, 5, 6, 9, 10}},
		{PresentMap{false, false, true, false, false, false, true, false}, []float32{3, 4, 7, 8}},
		{PresentMap{true, false, true, true, false, false, true, true}, []float32{1, 2, 3, 4, 5, 6, 7, 8, 9, 10}},
	}
	for i, c := range cases {
		reduced := s.Reduce(c.present).(*VecState)
		if actual := reduced.Vector.Data().([]float32); !reflect.DeepEqual(actual, c.expected) {
			t.Errorf("case %d: expected %v but got %v", i, c.expected, actual)
		}
		if !reflect.DeepEqual(reduced.PresentMap, c.present) {
			t.Errorf("case %d: bad present map %v", i, reduced.PresentMap)
		}
	}
}

func TestVecStateExpand(t *testing.T) {
	s := &VecState{
		Vector:     anyvec32.MakeVectorData([]float32{1, 2, 3, 4, 5, 6}),
		PresentMap: PresentMap{true, false, true, false, false, false, false, true},
	}
	cases := []struct {
		present  PresentMap
		expected []float32
	}{
		{PresentMap{true, false, true, false, true, false, true, true},
			[]float32{1, 2, 3, 4, 0, 0, 0, 0, 5, 6}},
		{AllPresent(8),
			[]float32{1, 2, 0, 0, 3, 4, 0, 0, 0, 0, 0, 0, 0, 0, 5, 6}},
	}
	for i, c := range cases {
		expanded := s.Expand(c.present).(*VecState)
		if actual := expanded.Vector.Data().([]float32); !reflect.DeepEqual(actual, c.expected) {
			t.Errorf("case %d: expected %v but got %v", i, c.expected, actual)
		}
	}
}

func TestVecStateSubsetPanics(t *testing.T) {
	s := &VecState{
		Vector:     anyvec32.MakeVectorData([]float32{1, 2}),
		PresentMap: PresentMap{true, false},
	}
	funcs := map[string]func(){
		"reduce": func() { s.Reduce(PresentMap{false, true}) },
		"expand": func() { s.Expand(PresentMap{false, true}) },
	}
	for name, f := range funcs {
		func() {
			defer func() {
				if recover() == nil {
					t.Errorf("%s: expected panic", name)
				}
			}()
			f()
		}()
	}
}

func TestZeroState(t *testing.T) {
	s := NewZeroState(anyvec32.CurrentCreator(), 3, 2)
	if !reflect.DeepEqual(s.PresentMap, PresentMap{true, true}) {
		t.Errorf("unexpected present map: %v", s.PresentMap)
	}
	expected := []float32{0, 0, 0, 0, 0, 0}
	if actual := s.Vector.Data().([]float32); !reflect.DeepEqual(actual, expected) {
		t.Errorf("expected %v but got %v", expected, actual)
	}
}

// A zero start state is reduced as sequences end, and the
// final state only holds the sequences present at the last
// timestep.
func TestZeroStateUnroll(t *testing.T) {
	c := anyvec64.CurrentCreator()
	block := NewVanillaZero(c, 1, 2)
	block.InputWeights.Vector.SetData([]float64{1, 2})
	block.StateWeights.Vector.SetData([]float64{0, 0, 0, 0})

	start := NewZeroState(c, 2, 3)
	if start.Present().NumPresent() != 3 {
		t.Fatalf("expected 3 present but got %d", start.Present().NumPresent())
	}
	in := anyseq.ConstSeq(c, []*anyseq.Batch{
		{Packed: anyvec64.MakeVectorData([]float64{0.1, 0.2, 0.3}), Present: AllPresent(3)},
		{Packed: anyvec64.MakeVectorData([]float64{0.4, 0.5}), Present: []bool{true, false, true}},
	})
	_, final := Unroll(in, block, start)

	vs := final.(*VecState)
	if !reflect.DeepEqual(vs.PresentMap, PresentMap{true, false, true}) {
		t.Errorf("unexpected present map: %v", vs.PresentMap)
	}
	expected := anyvec64.MakeVectorData([]float64{
		math.Tanh(0.4), math.Tanh(0.8),
		math.Tanh(0.5), math.Tanh(1.0),
	})
	if !vectorsClose(vs.Vector, expected) {
		t.Errorf("expected %v but got %v", expected.Data(), vs.Vector.Data())
	}

	grad := vs.Expand(AllPresent(3)).(*VecState)
	if len(grad.Vector.Data().([]float64)) != 6 {
		t.Errorf("expanded state has length %d", grad.Vector.Len())
	}
	if row := grad.Vector.Slice(2, 4).Data().([]float64); row[0] != 0 || row[1] != 0 {
		t.Errorf("missing sequence should expand to zeros, got %v", row)
	}
}
