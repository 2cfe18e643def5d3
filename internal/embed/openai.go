package embed

import (
	"context"
	"errors"
	"fmt"

	openai "github.com/sashabaranov/go-openai"
)

// OpenAI embeds through the OpenAI embeddings API or any compatible
// endpoint. The default model is text-embedding-3-small, requested at the
// configured dimensionality so vectors line up with the local default.
type OpenAI struct {
	client *openai.Client
	model  string
	dims   int
}

// NewOpenAI builds an OpenAI-backed embedder. baseURL overrides the API
// endpoint for compatible servers.
func NewOpenAI(apiKey, baseURL, model string, dims int) (*OpenAI, error) {
	if apiKey == "" {
		return nil, errors.New("openai api key is required")
	}
	cfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = baseURL
	}
	if model == "" {
		model = string(openai.SmallEmbedding3)
	}
	if dims <= 0 {
		dims = DefaultDims
	}
	return &OpenAI{
		client: openai.NewClientWithConfig(cfg),
		model:  model,
		dims:   dims,
	}, nil
}

func (o *OpenAI) Embed(ctx context.Context, text string) ([]float32, error) {
	resp, err := o.client.CreateEmbeddings(ctx, openai.EmbeddingRequest{
		Input:      []string{text},
		Model:      openai.EmbeddingModel(o.model),
		Dimensions: o.dims,
	})
	if err != nil {
		return nil, fmt.Errorf("openai embeddings: %w", err)
	}
	if len(resp.Data) == 0 || len(resp.Data[0].Embedding) == 0 {
		return nil, errEmptyEmbedding
	}
	return resp.Data[0].Embedding, nil
}

func (o *OpenAI) Dims() int { return o.dims }

func (o *OpenAI) Name() string { return "openai/" + o.model }
