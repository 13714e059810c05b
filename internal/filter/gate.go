package filter

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/af-corp/prompt-gateway/internal/reqctx"
)

// excerptRunes bounds how much of a rejected prompt reaches the logs.
const excerptRunes = 50

// ValidatedPrompt is the output of a successful Gate.Validate.
type ValidatedPrompt struct {
	// Prompt is trimmed and within the configured length.
	Prompt string
	// Raw is the untouched request body, kept for auditing.
	Raw []byte
}

// ContentRejectedError is returned when a content filter blocks the prompt.
type ContentRejectedError struct {
	Filter  string
	Pattern string
}

func (e *ContentRejectedError) Error() string {
	return fmt.Sprintf("prompt rejected by %s filter (%s)", e.Filter, e.Pattern)
}

func (e *ContentRejectedError) StatusCode() int { return http.StatusBadRequest }

// SchemaValidator checks the structure of a raw request body and returns the
// trimmed prompt.
type SchemaValidator interface {
	Validate(raw []byte) (string, error)
}

// Gate validates raw request bodies before they reach inference.
type Gate struct {
	schema   SchemaValidator
	chain    *Chain
	logger   *slog.Logger
	onReject func(filterName string)
}

// NewGate builds a gate from a structural validator and a content chain.
func NewGate(schema SchemaValidator, chain *Chain, logger *slog.Logger) *Gate {
	if logger == nil {
		logger = slog.Default()
	}
	if chain == nil {
		chain = NewChain()
	}
	return &Gate{schema: schema, chain: chain, logger: logger}
}

// OnReject registers a hook invoked with the filter name on every content
// rejection. Must be called before the gate is used.
func (g *Gate) OnReject(fn func(filterName string)) { g.onReject = fn }

// Validate runs the structural stage, then the content stage. Either failure
// is terminal for the request.
func (g *Gate) Validate(ctx context.Context, raw []byte) (ValidatedPrompt, error) {
	prompt, err := g.schema.Validate(raw)
	if err != nil {
		return ValidatedPrompt{}, err
	}

	_, blocked := g.chain.Run(ctx, prompt)
	if blocked != nil {
		g.logger.Warn("prompt rejected by content filter",
			"request_id", reqctx.RequestID(ctx),
			"filter", blocked.FilterName,
			"pattern", blocked.Pattern,
			"excerpt", Excerpt(prompt, excerptRunes),
		)
		if g.onReject != nil {
			g.onReject(blocked.FilterName)
		}
		return ValidatedPrompt{}, &ContentRejectedError{Filter: blocked.FilterName, Pattern: blocked.Pattern}
	}

	return ValidatedPrompt{Prompt: prompt, Raw: raw}, nil
}

// Excerpt truncates s to at most n runes, appending "..." when cut.
func Excerpt(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n]) + "..."
}
