// Package sampler generates text from a trained language
// model, one token at a time.
package sampler

import (
	"fmt"
	"math/rand"
	"strconv"
	"strings"

	"github.com/sirupsen/logrus"
	"github.com/yunsangq/tensorflow-rnn-lstm/cell"
)

// A Policy decides how the next token is chosen from a
// probability distribution.
type Policy int

const (
	// Greedy always picks the most likely token.
	Greedy Policy = iota

	// Weighted picks a token at random according to the
	// distribution.
	Weighted

	// NewlineWeighted is greedy, except after a newline
	// token, where it samples like Weighted.
	NewlineWeighted
)

// ParsePolicy parses a policy name or numeric code.
func ParsePolicy(s string) (Policy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "greedy", "argmax":
		return Greedy, nil
	case "weighted", "":
		return Weighted, nil
	case "newline", "newline_weighted":
		return NewlineWeighted, nil
	}
	code, err := strconv.Atoi(s)
	if err != nil || code < 0 || code > int(NewlineWeighted) {
		return 0, fmt.Errorf("unknown sampling policy: %q", s)
	}
	return Policy(code), nil
}

// String returns the name of the policy.
func (p Policy) String() string {
	switch p {
	case Greedy:
		return "greedy"
	case Weighted:
		return "weighted"
	case NewlineWeighted:
		return "newline_weighted"
	default:
		return "Policy(" + strconv.Itoa(int(p)) + ")"
	}
}

// A Model predicts the next token from a recurrent state.
//
// Step receives a nil state only if Start returns one.
type Model interface {
	Start() cell.State
	Step(s cell.State, token int) ([]float64, cell.State)
}

// A Vocabulary maps between tokens and ids.
type Vocabulary interface {
	ID(token string) int
	Token(id int) string
	Keys() []string
}

// A Sampler generates token sequences from a Model.
type Sampler struct {
	Model  Model
	Vocab  Vocabulary
	Policy Policy

	// Rand is the source of randomness.
	// If nil, the global source is used.
	Rand *rand.Rand

	// Log receives the warm-up tokens.
	// If nil, the logrus standard logger is used.
	Log logrus.FieldLogger
}

// Sample feeds a prime text through the model and then
// generates num more tokens.
//
// The prime is split on whitespace. Every field but the
// last warms up the state, and the last is the first input
// of the generation loop.
// An empty or blank prime is replaced by a random non-blank
// token from the vocabulary.
// It panics if the vocabulary is empty.
//
// The result is the prime followed by each generated token,
// each preceded by a space.
func (s *Sampler) Sample(num int, prime string) string {
	if strings.TrimSpace(prime) == "" {
		prime = s.randomKey()
	}
	words := strings.Fields(prime)
	if len(words) == 0 {
		words = []string{prime}
	}

	log := s.logger()
	log.WithField("prime", prime).Debug("priming sampler")
	state := s.Model.Start()
	for _, word := range words[:len(words)-1] {
		log.WithField("token", word).Debug("warm-up token")
		_, state = s.Model.Step(state, s.Vocab.ID(word))
	}

	var res strings.Builder
	res.WriteString(prime)
	word := words[len(words)-1]
	for i := 0; i < num; i++ {
		var probs []float64
		probs, state = s.Model.Step(state, s.Vocab.ID(word))
		word = s.Vocab.Token(s.pick(word, probs))
		res.WriteString(" ")
		res.WriteString(word)
	}
	return res.String()
}

// randomKey draws a vocabulary key which has at least one
// whitespace-separated field. If no key qualifies, the
// token with id 0 is used.
func (s *Sampler) randomKey() string {
	keys := s.Vocab.Keys()
	if len(keys) == 0 {
		panic("cannot replace an empty prime: vocabulary is empty")
	}
	var candidates []string
	for _, k := range keys {
		if strings.TrimSpace(k) != "" {
			candidates = append(candidates, k)
		}
	}
	if len(candidates) == 0 {
		return s.Vocab.Token(0)
	}
	return candidates[s.intn(len(candidates))]
}

func (s *Sampler) pick(word string, probs []float64) int {
	switch s.Policy {
	case Greedy:
		return ArgMax(probs)
	case NewlineWeighted:
		if word == "\n" {
			return WeightedPick(s.float64(), probs)
		}
		return ArgMax(probs)
	default:
		return WeightedPick(s.float64(), probs)
	}
}

func (s *Sampler) float64() float64 {
	if s.Rand != nil {
		return s.Rand.Float64()
	}
	return rand.Float64()
}

func (s *Sampler) intn(n int) int {
	if s.Rand != nil {
		return s.Rand.Intn(n)
	}
	return rand.Intn(n)
}

func (s *Sampler) logger() logrus.FieldLogger {
	if s.Log != nil {
		return s.Log
	}
	return logrus.StandardLogger()
}

// ArgMax returns the index of the largest probability.
// Ties go to the lowest index.
func ArgMax(probs []float64) int {
	var maxIdx int
	for i, p := range probs {
		if p > probs[maxIdx] {
			maxIdx = i
		}
	}
	return maxIdx
}

// WeightedPick selects an index using a uniform draw r in
// [0, 1).
//
// The draw is scaled by the total mass, so probs need not
// be normalized. The first index with positive weight whose
// cumulative sum is at least the scaled draw is chosen, so
// zero-weight indices are never picked.
// If no weight is positive, the last index is returned.
func WeightedPick(r float64, probs []float64) int {
	var total float64
	for _, p := range probs {
		total += p
	}
	target := r * total
	var cumSum float64
	last := len(probs) - 1
	for i, p := range probs {
		if p <= 0 {
			continue
		}
		cumSum += p
		last = i
		if cumSum >= target {
			return i
		}
	}
	return last
}
