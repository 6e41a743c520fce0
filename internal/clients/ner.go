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

// PersonLabel is the entity label the recognizer uses for people
const PersonLabel = "PERSON"

// NERClient calls a named entity recognition service
type NERClient struct {
	baseURL    string
	httpClient *http.Client
	breaker    *gobreaker.CircuitBreaker
	retry      RetryPolicy
}

var (
	_ tagging.NameDetector      = (*NERClient)(nil)
	_ tagging.BatchNameDetector = (*NERClient)(nil)
)

type nerRequest struct {
	Texts []string `json:"texts"`
}

type nerEntity struct {
	Text  string `json:"text"`
	Label string `json:"label"`
	Start int    `json:"start"`
	End   int    `json:"end"`
}

type nerResponse struct {
	Entities [][]nerEntity `json:"entities"`
}

// NewNERClient creates a recognizer client
func NewNERClient(baseURL string, retry RetryPolicy) *NERClient {
	return &NERClient{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: newHTTPClient(time.Minute),
		breaker:    newBreaker("ner"),
		retry:      retry,
	}
}

// IsPersonName reports whether the recognizer finds a person in the tag
func (c *NERClient) IsPersonName(ctx context.Context, tag string) (bool, error) {
	flags, err := c.ClassifyBatch(ctx, []string{tag})
	if err != nil {
		return false, err
	}
	return flags[0], nil
}

// ClassifyBatch runs recognition over every tag in one request. Each tag is
// analysed as its own document.
func (c *NERClient) ClassifyBatch(ctx context.Context, tags []string) ([]bool, error) {
	tracer := otel.Tracer(tracerName)
	ctx, span := tracer.Start(ctx, "ner.ClassifyBatch")
	defer span.End()
	span.SetAttributes(attribute.Int("ner.batch_size", len(tags)))

	if len(tags) == 0 {
		return []bool{}, nil
	}

	payload, err := json.Marshal(nerRequest{Texts: tags})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	body, err := throughBreaker(c.breaker, func() ([]byte, error) {
		return doWithRetry(ctx, c.httpClient, "ner", c.retry, func(ctx context.Context) (*http.Request, error) {
			req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/entities", bytes.NewReader(payload))
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

	var resp nerResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to unmarshal response")
		return nil, fmt.Errorf("failed to unmarshal response: %w", err)
	}
	if len(resp.Entities) != len(tags) {
		err := fmt.Errorf("ner returned %d results for %d texts", len(resp.Entities), len(tags))
		span.SetStatus(codes.Error, "result count mismatch")
		return nil, err
	}

	flags := make([]bool, len(tags))
	persons := 0
	for i, ents := range resp.Entities {
		for _, e := range ents {
			if e.Label == PersonLabel {
				flags[i] = true
				persons++
				break
			}
		}
	}

	span.SetAttributes(attribute.Int("ner.person_count", persons))
	span.SetStatus(codes.Ok, "success")
	return flags, nil
}
