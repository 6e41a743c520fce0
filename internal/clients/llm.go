package clients

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/sony/gobreaker"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

const systemPrompt = "You are a helpful assistant."

// LLMClient calls an OpenAI-compatible chat completion endpoint
type LLMClient struct {
	baseURL          string
	apiKey           string
	tagModel         string
	intervieweeModel string
	httpClient       *http.Client
	breaker          *gobreaker.CircuitBreaker
	retry            RetryPolicy
}

type chatRequest struct {
	Model    string        `json:"model"`
	Messages []chatMessage `json:"messages"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error"`
}

// NewLLMClient creates a chat completion client. baseURL is the API root,
// for example https://api.openai.com/v1.
func NewLLMClient(baseURL, apiKey, tagModel, intervieweeModel string, retry RetryPolicy) *LLMClient {
	return &LLMClient{
		baseURL:          strings.TrimRight(baseURL, "/"),
		apiKey:           apiKey,
		tagModel:         tagModel,
		intervieweeModel: intervieweeModel,
		httpClient:       newHTTPClient(5 * time.Minute),
		breaker:          newBreaker("llm"),
		retry:            retry,
	}
}

// GenerateTags asks the model for numTags comma-separated tags describing a transcript
func (c *LLMClient) GenerateTags(ctx context.Context, transcript string, numTags int) ([]string, error) {
	prompt := fmt.Sprintf("Generate %d relevant tags for the following transcript. "+
		"The tags are used to describe the content of the transcript. "+
		"Provide the tags as a list separated by commas with no numbers. "+
		"For example: 'tag1, tag2, tag3, tag4'. "+
		"They should be in order of most relevant to least relevant:\n\n%s", numTags, transcript)

	content, err := c.chat(ctx, "llm.GenerateTags", c.tagModel, prompt)
	if err != nil {
		return nil, err
	}
	return SplitList(content), nil
}

// IdentifyInterviewees asks the model for the guests named in a video's title and description
func (c *LLMClient) IdentifyInterviewees(ctx context.Context, title, description string) ([]string, error) {
	prompt := "Based on the following title and description, identify the names of the people being interviewed." +
		" Do not include the host. Do not include any information other than the interviewees." +
		" If there are multiple people, their names should be listed and separated by a comma. For example: 'John Doe, Jane Smith'\n\n" +
		fmt.Sprintf("Title: %s\nDescription: %s", title, description)

	content, err := c.chat(ctx, "llm.IdentifyInterviewees", c.intervieweeModel, prompt)
	if err != nil {
		return nil, err
	}
	return SplitList(content), nil
}

func (c *LLMClient) chat(ctx context.Context, spanName, model, prompt string) (string, error) {
	tracer := otel.Tracer(tracerName)
	ctx, span := tracer.Start(ctx, spanName)
	defer span.End()

	span.SetAttributes(
		attribute.String("llm.model", model),
		attribute.Int("llm.prompt_length", len(prompt)),
	)

	payload, err := json.Marshal(chatRequest{
		Model: model,
		Messages: []chatMessage{
			{Role: "system", Content: systemPrompt},
			{Role: "user", Content: prompt},
		},
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to marshal request")
		return "", fmt.Errorf("failed to marshal request: %w", err)
	}

	body, err := throughBreaker(c.breaker, func() ([]byte, error) {
		return doWithRetry(ctx, c.httpClient, "llm", c.retry, func(ctx context.Context) (*http.Request, error) {
			req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewReader(payload))
			if err != nil {
				return nil, err
			}
			req.Header.Set("Content-Type", "application/json")
			if c.apiKey != "" {
				req.Header.Set("Authorization", "Bearer "+c.apiKey)
			}
			return req, nil
		})
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "request failed")
		return "", err
	}

	var resp chatResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to unmarshal response")
		return "", fmt.Errorf("failed to unmarshal response: %w", err)
	}
	if resp.Error != nil {
		err := fmt.Errorf("llm error: %s", resp.Error.Message)
		span.RecordError(err)
		span.SetStatus(codes.Error, "llm error")
		return "", err
	}
	if len(resp.Choices) == 0 {
		err := errors.New("llm: empty response")
		span.SetStatus(codes.Error, "empty response")
		return "", err
	}

	span.SetStatus(codes.Ok, "success")
	return resp.Choices[0].Message.Content, nil
}

// SplitList splits a comma-separated model answer into trimmed, non-empty items
func SplitList(content string) []string {
	parts := strings.Split(strings.TrimSpace(content), ",")
	items := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			items = append(items, p)
		}
	}
	return items
}
