package cell

import "github.com/unixpickle/anyvec"

// A VecState is a State and/or StateGrad that can be
// expressed as a packed batch of vectors.
type VecState struct {
	Vector     anyvec.Vector
	PresentMap PresentMap
}

// NewZeroState creates a VecState of n zero vectors of the
// given size.
func NewZeroState(c anyvec.Creator, size, n int) *VecState {
	return &VecState{
		Vector:     c.MakeVector(size * n),
		PresentMap: AllPresent(n),
	}
}

// Present returns the PresentMap.
func (v *VecState) Present() PresentMap {
	return v.PresentMap
}

// Reduce generates a new *VecState with a subset of the
// chunks in v.
func (v *VecState) Reduce(p PresentMap) State {
	n := v.PresentMap.NumPresent()
	inc := v.Vector.Len() / n

	var chunks []anyvec.Vector
	var chunkStart, chunkSize int
	for i, pres := range p {
		if !v.PresentMap[i] {
			if pres {
				panic("argument to Reduce must be a subset")
			}
			continue
		}
		if pres {
			chunkSize += inc
			continue
		}
		if chunkSize > 0 {
			chunks = append(chunks, v.Vector.Slice(chunkStart, chunkStart+chunkSize))
		}
		chunkStart += chunkSize + inc
		chunkSize = 0
	}
	if chunkSize > 0 {
		chunks = append(chunks, v.Vector.Slice(chunkStart, chunkStart+chunkSize))
	}

	return &VecState{
		Vector:     v.Vector.Creator().Concat(chunks...),
		PresentMap: p,
	}
}

// Expand expands the *VecState by inserting zero chunks
// where necessary, producing a new *VecState.
func (v *VecState) Expand(p PresentMap) StateGrad {
	n := v.PresentMap.NumPresent()
	inc := v.Vector.Len() / n
	filler := v.Vector.Creator().MakeVector(inc)

	var chunks []anyvec.Vector
	var chunkStart, chunkSize int
	for i, pres := range p {
		if v.PresentMap[i] {
			if !pres {
				panic("argument to Expand must be a superset")
			}
			chunkSize += inc
		} else if pres {
			if chunkSize > 0 {
				chunks = append(chunks, v.Vector.Slice(chunkStart, chunkStart+chunkSize))
				chunkStart += chunkSize
				chunkSize = 0
			}
			chunks = append(chunks, filler)
		}
	}
	if chunkSize > 0 {
		chunks = append(chunks, v.Vector.Slice(chunkStart, chunkStart+chunkSize))
	}

	return &VecState{
		Vector:     v.Vector.Creator().Concat(chunks...),
		PresentMap: p,
	}
}
