package clients

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/sony/gobreaker"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/zombar/videotagger/internal/tagging"
)

// EmbeddingClient calls a sentence embedding service
type EmbeddingClient struct {
	baseURL    string
	model      string
	httpClient *http.Client
	breaker    *gobreaker.CircuitBreaker
	retry      RetryPolicy
}

var _ tagging.Embedder = (*EmbeddingClient)(nil)

type embedRequest struct {
	Model string   `json:"model"`
	Texts []string `json:"texts"`
}

type embedResponse struct {
	Model      string      `json:"model"`
	Embeddings [][]float64 `json:"embeddings"`
}

// NewEmbeddingClient creates an embedding client for the given model
func NewEmbeddingClient(baseURL, model string, retry RetryPolicy) *EmbeddingClient {
	if model == "" {
		model = tagging.DefaultModel
	}
	return &EmbeddingClient{
		baseURL:    strings.TrimRight(baseURL, "/"),
		model:      model,
		httpClient: newHTTPClient(2 * time.Minute),
		breaker:    newBreaker("embedding"),
		retry:      retry,
	}
}

// Model returns the configured model identity
func (c *EmbeddingClient) Model() string {
	return c.model
}

// Embed returns one vector per text in input order
func (c *EmbeddingClient) Embed(ctx context.Context, texts []string) ([]tagging.Embedding, error) {
	tracer := otel.Tracer(tracerName)
	ctx, span := tracer.Start(ctx, "embedding.Embed")
	defer span.End()
	span.SetAttributes(
		attribute.String("embedding.model", c.model),
		attribute.Int("embedding.batch_size", len(texts)),
	)

	payload, err := json.Marshal(embedRequest{Model: c.model, Texts: texts})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	body, err := throughBreaker(c.breaker, func() ([]byte, error) {
		return doWithRetry(ctx, c.httpClient, "embedding", c.retry, func(ctx context.Context) (*http.Request, error) {
			req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/embed", bytes.NewReader(payload))
			if err != nil {
				return nil, err
			}
			req.Header.Set("Content-Type", "application/json")
			return req, nil
		})
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "request failed")
		return nil, err
	}

	var resp embedResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to unmarshal response")
		return nil, fmt.Errorf("failed to unmarshal response: %w", err)
	}
	if len(resp.Embeddings) != len(texts) {
		err := fmt.Errorf("embedding service returned %d vectors for %d texts", len(resp.Embeddings), len(texts))
		span.SetStatus(codes.Error, "vector count mismatch")
		return nil, err
	}

	out := make([]tagging.Embedding, len(resp.Embeddings))
	for i, v := range resp.Embeddings {
		out[i] = tagging.Embedding(v)
	}
	span.SetStatus(codes.Ok, "success")
	return out, nil
}
