package inference

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/sashabaranov/go-openai"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/af-corp/prompt-gateway/internal/types"
)

type requestIDKey struct{}

// requestIDTransport forwards the correlation id on calls made by clients
// that do not expose per-request headers.
type requestIDTransport struct {
	base http.RoundTripper
}

func (t requestIDTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	if id, ok := req.Context().Value(requestIDKey{}).(string); ok && id != "" {
		req = req.Clone(req.Context())
		req.Header.Set("X-Request-ID", id)
	}
	return t.base.RoundTrip(req)
}

// OpenAIAdapter talks to any OpenAI-compatible chat completions API and
// returns the result in the same shape as OllamaAdapter.
type OpenAIAdapter struct {
	client *openai.Client
	model  string
}

func NewOpenAIAdapter(baseURL, apiKey, model string, httpClient *http.Client) *OpenAIAdapter {
	cfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = strings.TrimRight(baseURL, "/")
	}

	hc := &http.Client{}
	if httpClient != nil {
		*hc = *httpClient
	}
	base := hc.Transport
	if base == nil {
		base = http.DefaultTransport
	}
	hc.Transport = requestIDTransport{base: base}
	cfg.HTTPClient = hc

	return &OpenAIAdapter{client: openai.NewClientWithConfig(cfg), model: model}
}

func (a *OpenAIAdapter) Name() string { return "OpenAI" }

func (a *OpenAIAdapter) Chat(ctx context.Context, prompt, requestID string) (*types.ChatResponse, error) {
	ctx, span := tracer.Start(ctx, "openai.chat", trace.WithSpanKind(trace.SpanKindClient))
	defer span.End()
	span.SetAttributes(
		attribute.String("llm.model", a.model),
		attribute.String("request.id", requestID),
	)

	ctx = context.WithValue(ctx, requestIDKey{}, requestID)
	start := time.Now()
	resp, err := a.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: a.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleUser, Content: prompt},
		},
	})
	if err != nil {
		ierr := a.classify(err)
		span.RecordError(ierr)
		span.SetStatus(codes.Error, ierr.Error())
		return nil, ierr
	}
	if len(resp.Choices) == 0 {
		err := &Error{Service: a.Name(), Op: "chat", Status: http.StatusBadGateway, Err: errors.New("completion has no choices")}
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	choice := resp.Choices[0]
	return &types.ChatResponse{
		Model:     resp.Model,
		CreatedAt: time.Unix(resp.Created, 0).UTC(),
		Message: types.Message{
			Role:    choice.Message.Role,
			Content: choice.Message.Content,
		},
		Done:            true,
		DoneReason:      string(choice.FinishReason),
		TotalDuration:   time.Since(start).Nanoseconds(),
		PromptEvalCount: resp.Usage.PromptTokens,
		EvalCount:       resp.Usage.CompletionTokens,
	}, nil
}

func (a *OpenAIAdapter) classify(err error) *Error {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return &Error{Service: a.Name(), Op: "chat", Status: http.StatusBadGateway,
			Err: fmt.Errorf("upstream status %d: %w", apiErr.HTTPStatusCode, err)}
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		return &Error{Service: a.Name(), Op: "chat", Status: http.StatusBadGateway,
			Err: fmt.Errorf("upstream status %d: %w", reqErr.HTTPStatusCode, err)}
	}
	return transportError(a.Name(), "chat", err)
}
