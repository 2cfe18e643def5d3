// Package embed produces vector embeddings for long-term memory search.
//
// Backends are lazy: nothing dials out until the first Embed call, and a
// backend that fails to construct stays failed so the engine keeps running
// with keyword search only. Per-call errors are transient and do not poison
// the backend.
package embed

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math"
	"sync"

	"github.com/aiovoice/recall/internal/observe"
)

// Provider names accepted in configuration.
const (
	ProviderOllama = "ollama"
	ProviderOpenAI = "openai"
	ProviderGemini = "gemini"
	ProviderMock   = "mock"
)

// DefaultDims is the dimensionality of the default local model.
const DefaultDims = 384

// Embedder turns text into a fixed-dimension vector.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	Dims() int
	Name() string
}

// Config selects and parameterizes a backend.
type Config struct {
	Provider string
	Model    string
	Dims     int
	BaseURL  string
	APIKey   string
}

// New builds the configured backend behind a Lazy wrapper. An empty provider
// selects Ollama with the default local model.
func New(cfg Config, obs *observe.Observer) *Lazy {
	if cfg.Provider == "" {
		cfg.Provider = ProviderOllama
	}
	if cfg.Dims <= 0 {
		cfg.Dims = DefaultDims
	}

	build := func() (Embedder, error) {
		switch cfg.Provider {
		case ProviderOllama:
			return NewOllama(cfg.BaseURL, cfg.Model, cfg.Dims)
		case ProviderOpenAI:
			return NewOpenAI(cfg.APIKey, cfg.BaseURL, cfg.Model, cfg.Dims)
		case ProviderGemini:
			return NewGemini(cfg.APIKey, cfg.Model, cfg.Dims)
		case ProviderMock:
			return NewMock(cfg.Dims), nil
		default:
			return nil, fmt.Errorf("unknown embedding provider %q", cfg.Provider)
		}
	}
	return NewLazy(cfg.Provider, cfg.Dims, build, obs)
}

// Lazy defers backend construction to the first Embed call. Construction
// runs once; if it fails, every later call returns the same error without
// retrying, so a missing model is paid for once rather than on every
// utterance.
type Lazy struct {
	obs   *observe.Observer
	name  string
	dims  int
	build func() (Embedder, error)

	mu      sync.Mutex
	started bool
	e       Embedder
	err     error
}

// NewLazy wraps a backend constructor. name and dims describe the backend
// without forcing construction.
func NewLazy(name string, dims int, build func() (Embedder, error), obs *observe.Observer) *Lazy {
	if obs == nil {
		obs = observe.Nop()
	}
	return &Lazy{obs: obs, name: name, dims: dims, build: build}
}

func (l *Lazy) get() (Embedder, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if !l.started {
		l.started = true
		l.e, l.err = l.build()
		if l.err != nil {
			l.obs.Log().Warn().
				Str("provider", l.name).
				Err(l.err).
				Msg("embedder unavailable, long-term memory degrades to keyword search")
		} else {
			l.obs.Log().Info().
				Str("embedder", l.e.Name()).
				Int("dims", l.e.Dims()).
				Msg("embedder ready")
		}
	}
	return l.e, l.err
}

// Embed produces a vector for text, constructing the backend on first use.
// The backend's vector length must match the configured dimensionality so
// stored embeddings stay comparable; a mismatch disables the backend for
// good, the same as a construction failure.
func (l *Lazy) Embed(ctx context.Context, text string) ([]float32, error) {
	e, err := l.get()
	if err != nil {
		return nil, err
	}
	vec, err := e.Embed(ctx, text)
	if err != nil {
		return nil, err
	}
	if l.dims > 0 && len(vec) != l.dims {
		err := fmt.Errorf("embedding has %d dims, expected %d", len(vec), l.dims)
		l.fail(err)
		return nil, err
	}
	return vec, nil
}

func (l *Lazy) fail(err error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.err = err
	l.obs.Log().Warn().
		Str("provider", l.name).
		Err(err).
		Msg("embedder disabled")
}

// Dims reports the configured dimensionality.
func (l *Lazy) Dims() int { return l.dims }

// Name reports the configured provider name.
func (l *Lazy) Name() string { return l.name }

// Available reports whether the backend constructed successfully, forcing
// construction if it has not run yet.
func (l *Lazy) Available() bool {
	_, err := l.get()
	return err == nil
}

// Close releases the backend if it was ever constructed and holds resources.
func (l *Lazy) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.e != nil {
		if c, ok := l.e.(io.Closer); ok {
			return c.Close()
		}
	}
	return nil
}

// Cosine computes cosine similarity between two vectors, clamped to [-1, 1]
// to guard against float precision. Mismatched or empty vectors score zero.
func Cosine(a, b []float32) float64 {
	if len(a) == 0 || len(b) == 0 || len(a) != len(b) {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	sim := dot / (math.Sqrt(na) * math.Sqrt(nb))
	return math.Max(-1, math.Min(1, sim))
}

var errEmptyEmbedding = errors.New("backend returned an empty embedding")
