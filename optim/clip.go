package optim

import (
	"fmt"
	"math"

	"github.com/unixpickle/anydiff"
	"github.com/unixpickle/anyvec"
)

// ClipNorm rescales gradients whose global norm exceeds
// MaxNorm.
//
// The global norm is the Euclidean norm of every gradient
// vector concatenated together.
// When it exceeds MaxNorm, every vector is scaled by
// MaxNorm/norm, preserving the gradient's direction.
type ClipNorm struct {
	MaxNorm float64

	// LastNorm is the global norm of the most recent
	// gradient, measured before clipping.
	LastNorm float64
}

// Transform clips the gradient in place.
func (c *ClipNorm) Transform(g anydiff.Grad) anydiff.Grad {
	c.LastNorm = GlobalNorm(g)
	if c.MaxNorm > 0 && c.LastNorm > c.MaxNorm {
		scaleGrad(g, c.MaxNorm/c.LastNorm)
	}
	return g
}

// GlobalNorm computes the Euclidean norm of an entire
// gradient.
func GlobalNorm(g anydiff.Grad) float64 {
	var sum float64
	for _, vec := range g {
		sum += numericFloat(vec.Dot(vec))
	}
	return math.Sqrt(sum)
}

func numericFloat(n anyvec.Numeric) float64 {
	switch n := n.(type) {
	case float64:
		return n
	case float32:
		return float64(n)
	default:
		panic(fmt.Sprintf("unsupported numeric type: %T", n))
	}
}
