package storage

import (
	"context"
	"fmt"

	openai "github.com/sashabaranov/go-openai"
)

// Embedder turns texts into dense vectors, one per input, in input order.
type Embedder interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
	Dimensions() int
}

// OpenAIEmbedder calls an OpenAI-compatible embeddings endpoint.
type OpenAIEmbedder struct {
	cli   *openai.Client
	model string
	dim   int
	batch int
}

func NewOpenAIEmbedder(cli *openai.Client, model string, dim int) *OpenAIEmbedder {
	if dim <= 0 {
		dim = 1536
	}
	return &OpenAIEmbedder{cli: cli, model: model, dim: dim, batch: 64}
}

func (e *OpenAIEmbedder) Dimensions() int { return e.dim }

func (e *OpenAIEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for start := 0; start < len(texts); start += e.batch {
		end := min(start+e.batch, len(texts))
		resp, err := e.cli.CreateEmbeddings(ctx, openai.EmbeddingRequest{
			Model: openai.EmbeddingModel(e.model),
			Input: texts[start:end],
		})
		if err != nil {
			return nil, fmt.Errorf("embedding API failed: %w", err)
		}
		if len(resp.Data) != end-start {
			return nil, fmt.Errorf("embedding API returned %d vectors for %d inputs", len(resp.Data), end-start)
		}
		for _, d := range resp.Data {
			if d.Index < 0 || d.Index >= end-start {
				return nil, fmt.Errorf("embedding API returned out-of-range index %d", d.Index)
			}
			out[start+d.Index] = d.Embedding
		}
	}
	return out, nil
}

func embedOne(ctx context.Context, e Embedder, text string) ([]float32, error) {
	vecs, err := e.Embed(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}
