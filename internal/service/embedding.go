package service

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/timmy/vidtalker/internal/domain"
)

// Embedder turns text into fixed-dimension vectors. EmbedBatch preserves
// input order and returns exactly one vector per text. Implementations do
// not retry; callers decide.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
	Dimensions() int
	Model() string
}

// Supported embedding server flavours.
const (
	EmbeddingProviderTEI    = "tei"
	EmbeddingProviderOpenAI = "openai-compatible"
)

// EmbeddingConfig holds configuration for the embedding client
type EmbeddingConfig struct {
	Provider   string
	BaseURL    string
	Model      string
	APIKey     string
	Dimensions int
	Timeout    time.Duration
}

// HTTPEmbedder calls a sentence-embedding server over HTTP.
type HTTPEmbedder struct {
	client     *resty.Client
	provider   string
	model      string
	dimensions int
}

// NewHTTPEmbedder creates an embedder for a text-embeddings-inference or
// OpenAI-compatible /embeddings endpoint.
func NewHTTPEmbedder(cfg *EmbeddingConfig) (*HTTPEmbedder, error) {
	switch cfg.Provider {
	case EmbeddingProviderTEI, EmbeddingProviderOpenAI:
	default:
		return nil, fmt.Errorf("unsupported embedding provider %q", cfg.Provider)
	}

	client := resty.New().
		SetBaseURL(strings.TrimSuffix(cfg.BaseURL, "/")).
		SetHeader("Content-Type", "application/json")
	if cfg.APIKey != "" {
		client.SetHeader("Authorization", "Bearer "+cfg.APIKey)
	}
	if cfg.Timeout > 0 {
		client.SetTimeout(cfg.Timeout)
	}

	return &HTTPEmbedder{
		client:     client,
		provider:   cfg.Provider,
		model:      cfg.Model,
		dimensions: cfg.Dimensions,
	}, nil
}

// Model returns the model name being used
func (e *HTTPEmbedder) Model() string {
	return e.model
}

// Dimensions returns the expected vector size.
func (e *HTTPEmbedder) Dimensions() int {
	return e.dimensions
}

type teiRequest struct {
	Inputs   []string `json:"inputs"`
	Truncate bool     `json:"truncate"`
}

type openAIEmbeddingRequest struct {
	Model string   `json:"model"`
	Input []string `json:"input"`
}

type openAIEmbeddingResponse struct {
	Data []struct {
		Embedding []float32 `json:"embedding"`
		Index     int       `json:"index"`
	} `json:"data"`
}

type embeddingErrorResponse struct {
	Error     interface{} `json:"error"`
	ErrorType string      `json:"error_type,omitempty"`
}

// Embed generates an embedding for a single text
func (e *HTTPEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	vectors, err := e.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vectors[0], nil
}

// EmbedBatch generates embeddings for multiple texts
func (e *HTTPEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	const op = "embedding.EmbedBatch"

	if len(texts) == 0 {
		return [][]float32{}, nil
	}

	var (
		vectors [][]float32
		err     error
	)
	switch e.provider {
	case EmbeddingProviderTEI:
		vectors, err = e.embedTEI(ctx, texts)
	default:
		vectors, err = e.embedOpenAI(ctx, texts)
	}
	if err != nil {
		return nil, domain.E(domain.KindEmbedding, op, err)
	}

	if len(vectors) != len(texts) {
		return nil, domain.Errorf(domain.KindEmbedding, op, "unexpected number of embeddings: got %d, expected %d", len(vectors), len(texts))
	}
	for i, v := range vectors {
		if e.dimensions > 0 && len(v) != e.dimensions {
			return nil, domain.Errorf(domain.KindEmbedding, op, "embedding %d has dimension %d, expected %d", i, len(v), e.dimensions)
		}
	}
	return vectors, nil
}

func (e *HTTPEmbedder) embedTEI(ctx context.Context, texts []string) ([][]float32, error) {
	var (
		out     [][]float32
		errResp embeddingErrorResponse
	)
	resp, err := e.client.R().
		SetContext(ctx).
		SetBody(teiRequest{Inputs: texts, Truncate: true}).
		SetResult(&out).
		SetError(&errResp).
		Post("/embed")
	if err != nil {
		return nil, fmt.Errorf("failed to call embedding server: %w", err)
	}
	if resp.StatusCode() != http.StatusOK {
		return nil, statusError(resp.StatusCode(), errResp)
	}
	return out, nil
}

func (e *HTTPEmbedder) embedOpenAI(ctx context.Context, texts []string) ([][]float32, error) {
	var (
		out     openAIEmbeddingResponse
		errResp embeddingErrorResponse
	)
	resp, err := e.client.R().
		SetContext(ctx).
		SetBody(openAIEmbeddingRequest{Model: e.model, Input: texts}).
		SetResult(&out).
		SetError(&errResp).
		Post("/embeddings")
	if err != nil {
		return nil, fmt.Errorf("failed to call embedding server: %w", err)
	}
	if resp.StatusCode() != http.StatusOK {
		return nil, statusError(resp.StatusCode(), errResp)
	}

	// Sort by index to ensure correct order
	vectors := make([][]float32, len(out.Data))
	for _, item := range out.Data {
		if item.Index < 0 || item.Index >= len(vectors) {
			return nil, fmt.Errorf("embedding index %d out of range", item.Index)
		}
		vectors[item.Index] = item.Embedding
	}
	return vectors, nil
}

func statusError(code int, body embeddingErrorResponse) error {
	switch msg := body.Error.(type) {
	case string:
		if msg != "" {
			return fmt.Errorf("embedding server error (status %d): %s", code, msg)
		}
	case map[string]interface{}:
		if m, ok := msg["message"].(string); ok {
			return fmt.Errorf("embedding server error (status %d): %s", code, m)
		}
	}
	return fmt.Errorf("embedding server error: status %d", code)
}
