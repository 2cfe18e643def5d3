package embed

import (
	"context"
	"hash/fnv"
	"math"
)

// Mock is a deterministic, offline embedder for tests and dry runs. Vectors
// are derived from a hash of the text and unit-normalized, so identical
// texts embed identically and similarity math behaves.
type Mock struct {
	dims int
}

// NewMock builds a mock embedder with the given dimensionality.
func NewMock(dims int) *Mock {
	if dims <= 0 {
		dims = DefaultDims
	}
	return &Mock{dims: dims}
}

func (m *Mock) Embed(_ context.Context, text string) ([]float32, error) {
	h := fnv.New64a()
	h.Write([]byte(text))
	state := h.Sum64()

	vec := make([]float32, m.dims)
	var norm float64
	for i := range vec {
		state = state*6364136223846793005 + 1442695040888963407
		v := float64(state>>11)/(1<<53)*2 - 1
		vec[i] = float32(v)
		norm += v * v
	}
	norm = math.Sqrt(norm)
	if norm > 0 {
		for i := range vec {
			vec[i] = float32(float64(vec[i]) / norm)
		}
	}
	return vec, nil
}

func (m *Mock) Dims() int { return m.dims }

func (m *Mock) Name() string { return "mock" }
