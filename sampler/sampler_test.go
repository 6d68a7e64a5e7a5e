package sampler

import (
	"math/rand"
	"strings"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/unixpickle/anyvec/anyvec64"
	"github.com/yunsangq/tensorflow-rnn-lstm/cell"
	"github.com/yunsangq/tensorflow-rnn-lstm/model"
	"github.com/yunsangq/tensorflow-rnn-lstm/vocab"
)

// chainModel deterministically predicts Next[token], and
// records every token it is fed.
type chainModel struct {
	VocabSize int
	Next      map[int]int
	Fed       []int
}

func (c *chainModel) Start() cell.State {
	return nil
}

func (c *chainModel) Step(s cell.State, token int) ([]float64, cell.State) {
	c.Fed = append(c.Fed, token)
	probs := make([]float64, c.VocabSize)
	probs[c.Next[token]] = 1
	return probs, s
}

func testVocab() *vocab.Vocab {
	return vocab.New([]string{"", "the", "cat", "sat", "\n"})
}

func TestParsePolicy(t *testing.T) {
	cases := map[string]Policy{
		"0":                Greedy,
		"1":                Weighted,
		"2":                NewlineWeighted,
		"greedy":           Greedy,
		"Weighted":         Weighted,
		"newline_weighted": NewlineWeighted,
	}
	for in, expected := range cases {
		actual, err := ParsePolicy(in)
		if err != nil {
			t.Errorf("%q: %v", in, err)
		} else if actual != expected {
			t.Errorf("%q: expected %v but got %v", in, expected, actual)
		}
	}
	for _, bad := range []string{"3", "-1", "random"} {
		if _, err := ParsePolicy(bad); err == nil {
			t.Errorf("%q: expected error", bad)
		}
	}
}

func TestArgMax(t *testing.T) {
	if idx := ArgMax([]float64{0.1, 0.5, 0.2, 0.5}); idx != 1 {
		t.Errorf("expected 1 but got %d", idx)
	}
	if idx := ArgMax([]float64{0.3}); idx != 0 {
		t.Errorf("expected 0 but got %d", idx)
	}
}

func TestWeightedPick(t *testing.T) {
	probs := []float64{0.2, 0.3, 0.5}
	cases := []struct {
		r        float64
		expected int
	}{
		{0, 0},
		{0.1, 0},
		{0.2, 0},
		{0.25, 1},
		{0.49, 1},
		{0.51, 2},
		{0.999, 2},
	}
	for _, c := range cases {
		if actual := WeightedPick(c.r, probs); actual != c.expected {
			t.Errorf("r=%f: expected %d but got %d", c.r, c.expected, actual)
		}
	}

	// Zero-weight entries are never chosen.
	zeroCases := []struct {
		r        float64
		probs    []float64
		expected int
	}{
		{0, []float64{0, 0, 1}, 2},
		{0.999, []float64{0, 0, 1}, 2},
		{0, []float64{0, 0.5, 0, 0.5, 0}, 1},
		{0.75, []float64{0, 0.5, 0, 0.5, 0}, 3},
		{0.999, []float64{0, 0.5, 0, 0.5, 0}, 3},
	}
	for _, c := range zeroCases {
		if actual := WeightedPick(c.r, c.probs); actual != c.expected {
			t.Errorf("r=%f probs=%v: expected %d but got %d", c.r, c.probs, c.expected, actual)
		}
	}

	// Unnormalized weights are scaled by their total.
	if actual := WeightedPick(0.5, []float64{1, 1, 6}); actual != 2 {
		t.Errorf("expected 2 but got %d", actual)
	}
}

func TestWeightedPickDistribution(t *testing.T) {
	probs := []float64{0.1, 0.6, 0.3}
	gen := rand.New(rand.NewSource(1337))
	counts := make([]int, len(probs))
	const trials = 20000
	for i := 0; i < trials; i++ {
		counts[WeightedPick(gen.Float64(), probs)]++
	}
	for i, p := range probs {
		frac := float64(counts[i]) / trials
		if frac < p-0.02 || frac > p+0.02 {
			t.Errorf("index %d: expected frequency %f but got %f", i, p, frac)
		}
	}
}

func TestSampleGreedy(t *testing.T) {
	m := &chainModel{VocabSize: 5, Next: map[int]int{2: 3, 3: 4}}
	s := &Sampler{Model: m, Vocab: testVocab(), Policy: Greedy}
	out := s.Sample(2, "the cat")
	if out != "the cat sat \n" {
		t.Errorf("unexpected output: %q", out)
	}
	expectedFed := []int{1, 2, 3}
	if len(m.Fed) != len(expectedFed) {
		t.Fatalf("expected inputs %v but got %v", expectedFed, m.Fed)
	}
	for i, x := range expectedFed {
		if m.Fed[i] != x {
			t.Errorf("expected inputs %v but got %v", expectedFed, m.Fed)
			break
		}
	}
}

func TestSampleZero(t *testing.T) {
	m := &chainModel{VocabSize: 5, Next: map[int]int{}}
	s := &Sampler{Model: m, Vocab: testVocab(), Policy: Greedy}
	if out := s.Sample(0, "the cat sat"); out != "the cat sat" {
		t.Errorf("unexpected output: %q", out)
	}
	if len(m.Fed) != 2 {
		t.Errorf("expected 2 warm-up steps but got %d", len(m.Fed))
	}
}

func TestSampleUnknownWord(t *testing.T) {
	m := &chainModel{VocabSize: 5, Next: map[int]int{0: 2}}
	s := &Sampler{Model: m, Vocab: testVocab(), Policy: Greedy}
	if out := s.Sample(1, "dog"); out != "dog cat" {
		t.Errorf("unexpected output: %q", out)
	}
}

func TestSampleEmptyPrime(t *testing.T) {
	v := testVocab()
	for seed := int64(0); seed < 20; seed++ {
		for _, prime := range []string{"", " ", "\t"} {
			m := &chainModel{VocabSize: 5, Next: map[int]int{}}
			s := &Sampler{
				Model:  m,
				Vocab:  v,
				Policy: Greedy,
				Rand:   rand.New(rand.NewSource(seed)),
			}
			out := s.Sample(1, prime)
			if !strings.HasSuffix(out, " ") {
				t.Fatalf("prime %q: unexpected output %q", prime, out)
			}
			key := strings.TrimSuffix(out, " ")
			if strings.TrimSpace(key) == "" || v.ID(key) == 0 {
				t.Fatalf("prime %q: output %q does not start with a non-blank key",
					prime, out)
			}
			if len(m.Fed) != 1 || m.Fed[0] != v.ID(key) {
				t.Fatalf("prime %q: expected input %d but got %v", prime, v.ID(key), m.Fed)
			}
		}
	}
}

func TestSampleEmptyPrimeSkipsBlankKeys(t *testing.T) {
	v := vocab.New([]string{"", "a", "\n"})
	for seed := int64(0); seed < 10; seed++ {
		m := &chainModel{VocabSize: 3, Next: map[int]int{}}
		s := &Sampler{Model: m, Vocab: v, Rand: rand.New(rand.NewSource(seed))}
		if out := s.Sample(0, ""); out != "a" {
			t.Fatalf("seed %d: expected %q but got %q", seed, "a", out)
		}
	}
}

func TestSampleEmptyPrimeBlankVocab(t *testing.T) {
	v := vocab.New([]string{"\n", " "})
	m := &chainModel{VocabSize: 2, Next: map[int]int{}}
	s := &Sampler{Model: m, Vocab: v, Policy: Greedy}
	if out := s.Sample(1, ""); out != "\n \n" {
		t.Errorf("unexpected output: %q", out)
	}
}

func TestSampleEmptyVocab(t *testing.T) {
	defer func() {
		r := recover()
		if r == nil {
			t.Fatal("expected panic")
		}
		if msg, ok := r.(string); !ok || !strings.Contains(msg, "vocabulary is empty") {
			t.Errorf("unexpected panic: %v", r)
		}
	}()
	s := &Sampler{
		Model: &chainModel{Next: map[int]int{}},
		Vocab: vocab.New(nil),
	}
	s.Sample(1, "")
}

func TestSampleNewlineWeighted(t *testing.T) {
	v := testVocab()
	probs := []float64{0, 0.1, 0.4, 0.5, 0}
	m := &distModel{Probs: probs}

	// The draw 0.3 lands on "cat", while the arg-max is "sat".
	s := &Sampler{Model: m, Vocab: v, Policy: NewlineWeighted, Rand: fixedRand(0.3)}
	if out := s.Sample(1, "the"); out != "the sat" {
		t.Errorf("unexpected output: %q", out)
	}
	s.Rand = fixedRand(0.3)
	if out := s.Sample(1, "\n"); out != "\n cat" {
		t.Errorf("unexpected output: %q", out)
	}
	s.Policy = Weighted
	s.Rand = fixedRand(0.3)
	if out := s.Sample(1, "the"); out != "the cat" {
		t.Errorf("unexpected output: %q", out)
	}
}

func TestSampleLogsWarmup(t *testing.T) {
	logger, hook := test.NewNullLogger()
	logger.SetLevel(logrus.DebugLevel)
	m := &chainModel{VocabSize: 5, Next: map[int]int{}}
	s := &Sampler{Model: m, Vocab: testVocab(), Policy: Greedy, Log: logger}
	s.Sample(0, "the cat sat")

	var tokens []string
	for _, entry := range hook.AllEntries() {
		if tok, ok := entry.Data["token"]; ok {
			tokens = append(tokens, tok.(string))
		}
	}
	if strings.Join(tokens, ",") != "the,cat" {
		t.Errorf("unexpected warm-up log: %v", tokens)
	}
}

func TestSampleModel(t *testing.T) {
	v := testVocab()
	cfg := model.DefaultConfig()
	cfg.HiddenSize = 8
	cfg.NumLayers = 2
	cfg.VocabSize = v.Len()
	m, err := model.New(anyvec64.CurrentCreator(), cfg, true)
	if err != nil {
		t.Fatal(err)
	}

	s := &Sampler{Model: m, Vocab: v, Policy: Greedy}
	out := s.Sample(5, "the cat")
	if fields := strings.Split(out, " "); len(fields) != 7 {
		t.Fatalf("unexpected output: %q", out)
	}
	if out1 := s.Sample(5, "the cat"); out1 != out {
		t.Errorf("greedy sampling should be deterministic: %q vs %q", out, out1)
	}

	// Greedy sampling agrees with Decode after warm-up.
	_, state := m.Step(nil, v.ID("the"))
	tokens, _ := m.Decode(state, v.ID("cat"), 5)
	var expected strings.Builder
	expected.WriteString("the cat")
	for _, tok := range tokens {
		expected.WriteString(" " + v.Token(tok))
	}
	if out != expected.String() {
		t.Errorf("expected %q but got %q", expected.String(), out)
	}

	s = &Sampler{Model: m, Vocab: v, Policy: Weighted, Rand: rand.New(rand.NewSource(3))}
	out = s.Sample(4, "the")
	s.Rand = rand.New(rand.NewSource(3))
	if out1 := s.Sample(4, "the"); out1 != out {
		t.Errorf("seeded sampling should be repeatable: %q vs %q", out, out1)
	}
}

type distModel struct {
	Probs []float64
}

func (d *distModel) Start() cell.State {
	return nil
}

func (d *distModel) Step(s cell.State, token int) ([]float64, cell.State) {
	return d.Probs, s
}

// fixedRand returns a source whose first Float64 is close
// to x.
func fixedRand(x float64) *rand.Rand {
	return rand.New(&constSource{value: int64(x * (1 << 63))})
}

type constSource struct {
	value int64
}

func (c *constSource) Int63() int64 {
	return c.value
}

func (c *constSource) Seed(int64) {
}
