package embed

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"os"

	"github.com/ollama/ollama/api"
)

const (
	defaultOllamaHost  = "http://localhost:11434"
	defaultOllamaModel = "all-minilm"
)

// Ollama embeds through a local Ollama server. The default model is
// all-minilm, the 384-dim MiniLM sentence encoder.
type Ollama struct {
	client *api.Client
	model  string
	dims   int
}

// NewOllama connects to an Ollama server. An empty baseURL falls back to
// OLLAMA_HOST and then the local default.
func NewOllama(baseURL, model string, dims int) (*Ollama, error) {
	if baseURL == "" {
		baseURL = os.Getenv("OLLAMA_HOST")
	}
	if baseURL == "" {
		baseURL = defaultOllamaHost
	}
	u, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("parse ollama host %q: %w", baseURL, err)
	}
	if model == "" {
		model = defaultOllamaModel
	}
	if dims <= 0 {
		dims = DefaultDims
	}
	return &Ollama{
		client: api.NewClient(u, http.DefaultClient),
		model:  model,
		dims:   dims,
	}, nil
}

func (o *Ollama) Embed(ctx context.Context, text string) ([]float32, error) {
	resp, err := o.client.Embeddings(ctx, &api.EmbeddingRequest{
		Model:  o.model,
		Prompt: text,
	})
	if err != nil {
		return nil, fmt.Errorf("ollama embeddings: %w", err)
	}
	if len(resp.Embedding) == 0 {
		return nil, errEmptyEmbedding
	}
	vec := make([]float32, len(resp.Embedding))
	for i, v := range resp.Embedding {
		vec[i] = float32(v)
	}
	return vec, nil
}

func (o *Ollama) Dims() int { return o.dims }

func (o *Ollama) Name() string { return "ollama/" + o.model }
