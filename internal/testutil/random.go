package testutil

import (
	"math/rand/v2"
	"strings"

	"github.com/roach88/jsoncrdt/internal/value"
)

const (
	// DefaultAlpha is the branching factor used for whole documents.
	DefaultAlpha = 1.5

	// VariationAlpha is the branching factor for values inserted by Vary.
	VariationAlpha = 0.6

	alphaGain    = 0.5
	maxArrayLen  = 6
	maxObjectLen = 6
	stringLen    = 4
	alphabet     = "abcdefghijklmnopqrstuvwxyz"
)

// Generator produces random JSON documents.
//
// alpha controls nesting: at each node a container is chosen with
// probability alpha (array and object equally likely), and alpha is halved
// for every level of depth, so documents stay finite.
//
// Generator is not safe for concurrent use.
type Generator struct {
	rng *rand.Rand
}

// NewGenerator creates a generator seeded with seed.
func NewGenerator(seed uint64) *Generator {
	return &Generator{rng: rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))}
}

// Rand exposes the underlying source for callers that need extra choices
// (which replica edits next, delivery order) from the same seed.
func (g *Generator) Rand() *rand.Rand {
	return g.rng
}

// String returns a random four-letter lower-case string.
func (g *Generator) String() string {
	var b strings.Builder
	for range stringLen {
		b.WriteByte(alphabet[g.rng.IntN(len(alphabet))])
	}
	return b.String()
}

// JSON returns a random document.
func (g *Generator) JSON(alpha float64) value.Value {
	a := g.rng.Float64()
	switch {
	case a < alpha*0.5:
		return g.array(alpha)
	case a < alpha:
		return g.object(alpha)
	default:
		return g.scalar()
	}
}

func (g *Generator) scalar() value.Value {
	a := g.rng.Float64()
	switch {
	case a < 0.25:
		return value.Number(g.rng.IntN(100))
	case a < 0.5:
		return value.String(g.String())
	case a < 0.75:
		return value.Bool(g.rng.IntN(2) == 0)
	default:
		return value.Null{}
	}
}

func (g *Generator) array(alpha float64) value.Array {
	n := g.rng.IntN(maxArrayLen)
	arr := make(value.Array, n)
	for i := range arr {
		arr[i] = g.JSON(alpha * alphaGain)
	}
	return arr
}

func (g *Generator) object(alpha float64) value.Object {
	n := g.rng.IntN(maxObjectLen)
	obj := make(value.Object, n)
	for range n {
		obj[g.String()] = g.JSON(alpha * alphaGain)
	}
	return obj
}

// Vary returns a random variation of v; v itself is not modified. With
// probability p each of the following happens independently: the whole
// value is replaced, a container element is dropped, an element is varied
// recursively, and another fresh element is inserted (repeatedly). Scalars
// are always replaced.
func (g *Generator) Vary(v value.Value, p float64) value.Value {
	if g.rng.Float64() < p {
		return g.JSON(VariationAlpha)
	}
	switch val := v.(type) {
	case value.Array:
		return g.varyArray(val, p)
	case value.Object:
		return g.varyObject(val, p)
	default:
		return g.JSON(VariationAlpha)
	}
}

func (g *Generator) varyArray(arr value.Array, p float64) value.Array {
	out := value.Array{}
	for _, elem := range arr {
		if g.rng.Float64() < p {
			continue
		}
		if g.rng.Float64() < p {
			out = append(out, g.Vary(elem, p))
			continue
		}
		out = append(out, value.Copy(elem))
	}
	for g.rng.Float64() < p {
		i := 0
		if len(out) > 0 {
			i = g.rng.IntN(len(out))
		}
		out = append(out[:i], append(value.Array{g.JSON(VariationAlpha)}, out[i:]...)...)
	}
	return out
}

func (g *Generator) varyObject(obj value.Object, p float64) value.Object {
	out := value.Object{}
	for _, k := range obj.SortedKeys() {
		if g.rng.Float64() < p {
			continue
		}
		if g.rng.Float64() < p {
			out[k] = g.Vary(obj[k], p)
			continue
		}
		out[k] = value.Copy(obj[k])
	}
	for g.rng.Float64() < p {
		out[g.String()] = g.JSON(VariationAlpha)
	}
	return out
}
