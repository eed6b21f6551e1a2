// Package openai implements ingest.Embedder against an OpenAI-compatible
// /embeddings endpoint.
package openai

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	goopenai "github.com/sashabaranov/go-openai"

	"github.com/JakeFAU/retail-content-ingestor/internal/ingest"
)

var _ ingest.Embedder = (*Embedder)(nil)

// Model dimensions for OpenAI embedding models.
var modelDimensions = map[string]int{
	"text-embedding-3-small": 1536,
	"text-embedding-3-large": 3072,
	"text-embedding-ada-002": 1536,
}

const (
	defaultModel     = "text-embedding-3-small"
	defaultBaseURL   = "https://api.openai.com/v1"
	defaultBatchSize = 96
)

// Config holds client settings. Dimensions overrides the model table for
// compatible servers hosting other models.
type Config struct {
	APIKey     string
	Model      string
	BaseURL    string
	Dimensions int
	BatchSize  int
	Timeout    time.Duration
	// Transport overrides the HTTP transport when set.
	Transport http.RoundTripper
}

// Embedder calls the embeddings API in batches.
type Embedder struct {
	model      string
	baseURL    string
	dimensions int
	batchSize  int
	client     *goopenai.Client
}

// New creates an Embedder.
func New(cfg Config) (*Embedder, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("openai api key is required")
	}
	if cfg.Model == "" {
		cfg.Model = defaultModel
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultBaseURL
	}
	if cfg.Dimensions <= 0 {
		dims, ok := modelDimensions[cfg.Model]
		if !ok {
			dims = 1536
		}
		cfg.Dimensions = dims
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = defaultBatchSize
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 60 * time.Second
	}
	baseURL := strings.TrimRight(cfg.BaseURL, "/")
	clientCfg := goopenai.DefaultConfig(cfg.APIKey)
	clientCfg.BaseURL = baseURL
	clientCfg.HTTPClient = &http.Client{Timeout: cfg.Timeout, Transport: cfg.Transport}
	return &Embedder{
		model:      cfg.Model,
		baseURL:    baseURL,
		dimensions: cfg.Dimensions,
		batchSize:  cfg.BatchSize,
		client:     goopenai.NewClientWithConfig(clientCfg),
	}, nil
}

// Embed returns one vector per text, in input order.
func (e *Embedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	out := make([][]float32, 0, len(texts))
	for start := 0; start < len(texts); start += e.batchSize {
		end := min(start+e.batchSize, len(texts))
		batch, err := e.embedBatch(ctx, texts[start:end])
		if err != nil {
			return nil, err
		}
		out = append(out, batch...)
	}
	return out, nil
}

// Dimensions returns the embedding dimension size.
func (e *Embedder) Dimensions() int {
	return e.dimensions
}

// Model returns the model name being used.
func (e *Embedder) Model() string {
	return e.model
}

func (e *Embedder) embedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	resp, err := e.client.CreateEmbeddings(ctx, goopenai.EmbeddingRequestStrings{
		Input:          texts,
		Model:          goopenai.EmbeddingModel(e.model),
		EncodingFormat: goopenai.EmbeddingEncodingFormatFloat,
	})
	if err != nil {
		var apiErr *goopenai.APIError
		if errors.As(err, &apiErr) {
			return nil, fmt.Errorf("embedding api error: %s (type: %s, status: %d)",
				apiErr.Message, apiErr.Type, apiErr.HTTPStatusCode)
		}
		return nil, fmt.Errorf("embedding request failed: %w", err)
	}
	embeddings := make([][]float32, len(texts))
	for _, d := range resp.Data {
		if d.Index >= 0 && d.Index < len(embeddings) {
			embeddings[d.Index] = d.Embedding
		}
	}
	for i, vec := range embeddings {
		if len(vec) != e.dimensions {
			return nil, fmt.Errorf("embedding %d: got %d dimensions, want %d", i, len(vec), e.dimensions)
		}
	}
	return embeddings, nil
}
