// Package inference calls the external model service that answers prompts.
package inference

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"syscall"

	"go.opentelemetry.io/otel"

	"github.com/af-corp/prompt-gateway/internal/config"
	"github.com/af-corp/prompt-gateway/internal/types"
)

var tracer = otel.Tracer("prompt-gateway/inference")

// Adapter sends one prompt to an inference service.
type Adapter interface {
	// Name identifies the service in error messages, e.g. "Ollama".
	Name() string
	Chat(ctx context.Context, prompt, requestID string) (*types.ChatResponse, error)
}

// Error is returned for every failed inference call. Err keeps the transport
// cause so callers can test it with errors.Is.
type Error struct {
	Service string
	Op      string
	Status  int
	Err     error
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Service, e.Op, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

func (e *Error) StatusCode() int {
	if e.Status != 0 {
		return e.Status
	}
	return http.StatusBadGateway
}

// ConnectionRefused reports whether the service actively refused the
// connection.
func (e *Error) ConnectionRefused() bool {
	return errors.Is(e.Err, syscall.ECONNREFUSED)
}

// transportError wraps a failed round trip, mapping refused connections to
// 503 and timeouts to 504.
func transportError(service, op string, err error) *Error {
	status := http.StatusBadGateway
	var netErr net.Error
	switch {
	case errors.Is(err, syscall.ECONNREFUSED):
		status = http.StatusServiceUnavailable
	case errors.Is(err, context.DeadlineExceeded), errors.As(err, &netErr) && netErr.Timeout():
		status = http.StatusGatewayTimeout
	}
	return &Error{Service: service, Op: op, Status: status, Err: err}
}

// NewFromConfig builds the adapter selected by cfg.Provider.
func NewFromConfig(cfg config.InferenceConfig, client *http.Client) (Adapter, error) {
	if client == nil {
		client = &http.Client{Timeout: cfg.Timeout}
	}
	switch cfg.Provider {
	case "", "ollama":
		return NewOllamaAdapter(cfg.BaseURL, cfg.Model, client), nil
	case "openai":
		return NewOpenAIAdapter(cfg.BaseURL, cfg.APIKey, cfg.Model, client), nil
	default:
		return nil, fmt.Errorf("unknown inference provider %q", cfg.Provider)
	}
}
