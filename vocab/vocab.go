// Package vocab maps between tokens and integer ids.
package vocab

import (
	"fmt"
	"sort"
)

// Vocab is a bidirectional mapping between tokens and ids.
//
// Ids are dense, starting at 0.
// A token which is not in the vocabulary resolves to id 0.
type Vocab struct {
	words []string
	ids   map[string]int
}

// New creates a Vocab where words[i] has id i.
// If a word appears more than once, its first id is used
// for lookups.
func New(words []string) *Vocab {
	v := &Vocab{
		words: append([]string{}, words...),
		ids:   make(map[string]int, len(words)),
	}
	for i, w := range words {
		if _, ok := v.ids[w]; !ok {
			v.ids[w] = i
		}
	}
	return v
}

// Build creates a Vocab from a token stream.
// More frequent tokens get smaller ids, and ties are broken
// by first appearance.
func Build(tokens []string) *Vocab {
	counts := map[string]int{}
	var order []string
	for _, t := range tokens {
		if _, ok := counts[t]; !ok {
			order = append(order, t)
		}
		counts[t]++
	}
	sort.SliceStable(order, func(i, j int) bool {
		return counts[order[i]] > counts[order[j]]
	})
	return New(order)
}

// ID returns the id of a token, or 0 if the token is not
// in the vocabulary.
func (v *Vocab) ID(token string) int {
	return v.ids[token]
}

// Token returns the token for an id.
// It panics if the id is out of range.
func (v *Vocab) Token(id int) string {
	if id < 0 || id >= len(v.words) {
		panic(fmt.Sprintf("token id %d out of range [0, %d)", id, len(v.words)))
	}
	return v.words[id]
}

// Keys returns the tokens in id order.
func (v *Vocab) Keys() []string {
	return append([]string{}, v.words...)
}

// Len returns the number of ids.
func (v *Vocab) Len() int {
	return len(v.words)
}

// Encode maps every token to its id.
func (v *Vocab) Encode(tokens []string) []int {
	res := make([]int, len(tokens))
	for i, t := range tokens {
		res[i] = v.ID(t)
	}
	return res
}
