package inference

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/af-corp/prompt-gateway/internal/types"
)

// maxErrorBody bounds how much of an upstream error body is kept.
const maxErrorBody = 4 << 10

// OllamaAdapter talks to the Ollama chat API.
type OllamaAdapter struct {
	baseURL string
	model   string
	client  *http.Client
}

func NewOllamaAdapter(baseURL, model string, client *http.Client) *OllamaAdapter {
	if client == nil {
		client = http.DefaultClient
	}
	return &OllamaAdapter{
		baseURL: strings.TrimRight(baseURL, "/"),
		model:   model,
		client:  client,
	}
}

func (a *OllamaAdapter) Name() string { return "Ollama" }

type ollamaChatRequest struct {
	Model    string          `json:"model"`
	Messages []types.Message `json:"messages"`
	Stream   bool            `json:"stream"`
}

// Chat sends the prompt as a single user message with streaming disabled and
// returns the response unchanged.
func (a *OllamaAdapter) Chat(ctx context.Context, prompt, requestID string) (*types.ChatResponse, error) {
	ctx, span := tracer.Start(ctx, "ollama.chat", trace.WithSpanKind(trace.SpanKindClient))
	defer span.End()
	span.SetAttributes(
		attribute.String("llm.model", a.model),
		attribute.String("request.id", requestID),
		attribute.Int("llm.prompt_length", len(prompt)),
	)

	resp, err := a.chat(ctx, prompt, requestID)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	span.SetAttributes(attribute.Int("llm.eval_count", resp.EvalCount))
	return resp, nil
}

func (a *OllamaAdapter) chat(ctx context.Context, prompt, requestID string) (*types.ChatResponse, error) {
	body, err := json.Marshal(ollamaChatRequest{
		Model:    a.model,
		Messages: []types.Message{{Role: "user", Content: prompt}},
		Stream:   false,
	})
	if err != nil {
		return nil, &Error{Service: a.Name(), Op: "encode request", Err: err}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.baseURL+"/api/chat", bytes.NewReader(body))
	if err != nil {
		return nil, &Error{Service: a.Name(), Op: "create request", Err: err}
	}
	req.Header.Set("Content-Type", "application/json")
	if requestID != "" {
		req.Header.Set("X-Request-ID", requestID)
	}

	resp, err := a.client.Do(req)
	if err != nil {
		return nil, transportError(a.Name(), "chat", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		slog.Error("ollama chat returned an error",
			"request_id", requestID,
			"status_code", resp.StatusCode,
		)
		return nil, &Error{
			Service: a.Name(),
			Op:      "chat",
			Status:  http.StatusBadGateway,
			Err:     fmt.Errorf("upstream status %d: %s", resp.StatusCode, strings.TrimSpace(string(msg))),
		}
	}

	var out types.ChatResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, transportError(a.Name(), "decode response", err)
	}
	return &out, nil
}
