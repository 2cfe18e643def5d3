package embed

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/option"
)

const defaultGeminiModel = "text-embedding-004"

// geminiDims is the fixed output size of text-embedding-004. Configurations
// selecting Gemini must use this dimensionality so stored vectors compare.
const geminiDims = 768

// Gemini embeds through Google's Generative AI API.
type Gemini struct {
	client *genai.Client
	model  string
	dims   int
}

// NewGemini builds a Gemini-backed embedder.
func NewGemini(apiKey, model string, dims int) (*Gemini, error) {
	if apiKey == "" {
		return nil, errors.New("gemini api key is required")
	}
	if model == "" {
		model = defaultGeminiModel
	}
	if dims <= 0 {
		dims = geminiDims
	}
	client, err := genai.NewClient(context.Background(), option.WithAPIKey(apiKey))
	if err != nil {
		return nil, fmt.Errorf("gemini client: %w", err)
	}
	return &Gemini{client: client, model: model, dims: dims}, nil
}

func (g *Gemini) Embed(ctx context.Context, text string) ([]float32, error) {
	em := g.client.EmbeddingModel(g.model)
	res, err := em.EmbedContent(ctx, genai.Text(text))
	if err != nil {
		return nil, fmt.Errorf("gemini embed content: %w", err)
	}
	if res == nil || res.Embedding == nil || len(res.Embedding.Values) == 0 {
		return nil, errEmptyEmbedding
	}
	return res.Embedding.Values, nil
}

func (g *Gemini) Dims() int { return g.dims }

func (g *Gemini) Name() string { return "gemini/" + g.model }

func (g *Gemini) Close() error { return g.client.Close() }
