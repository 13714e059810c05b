// Package gateway composes the prompt pipeline behind POST /.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/af-corp/prompt-gateway/internal/config"
	"github.com/af-corp/prompt-gateway/internal/filter"
	"github.com/af-corp/prompt-gateway/internal/httputil"
	"github.com/af-corp/prompt-gateway/internal/inference"
	"github.com/af-corp/prompt-gateway/internal/reqctx"
	"github.com/af-corp/prompt-gateway/internal/telemetry"
	"github.com/af-corp/prompt-gateway/internal/types"
)

// PromptValidator runs the structural and content checks on a raw body.
type PromptValidator interface {
	Validate(ctx context.Context, raw []byte) (filter.ValidatedPrompt, error)
}

// SuccessRecorder receives one audit record per answered prompt.
type SuccessRecorder interface {
	RecordSuccess(rec types.AuditRecord)
}

// ErrorHandler writes the response for a failed request.
type ErrorHandler func(w http.ResponseWriter, r *http.Request, err error)

// BodyError is returned when the request body cannot be read.
type BodyError struct {
	Err error
}

func (e *BodyError) Error() string { return fmt.Sprintf("read request body: %v", e.Err) }

func (e *BodyError) Unwrap() error { return e.Err }

func (e *BodyError) StatusCode() int {
	var tooLarge *http.MaxBytesError
	if errors.As(e.Err, &tooLarge) {
		return http.StatusRequestEntityTooLarge
	}
	return http.StatusBadRequest
}

// Handler holds dependencies for the gateway HTTP handler.
type Handler struct {
	gate     PromptValidator
	adapter  inference.Adapter
	recorder SuccessRecorder
	onError  ErrorHandler
	cfg      func() *config.Config
	metrics  *telemetry.Metrics
	logger   *slog.Logger
}

// NewHandler wires the pipeline. recorder and metrics may be nil.
func NewHandler(gate PromptValidator, adapter inference.Adapter, recorder SuccessRecorder, onError ErrorHandler, cfg func() *config.Config, metrics *telemetry.Metrics, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		gate:     gate,
		adapter:  adapter,
		recorder: recorder,
		onError:  onError,
		cfg:      cfg,
		metrics:  metrics,
		logger:   logger,
	}
}

// Prompt handles POST /.
func (h *Handler) Prompt(w http.ResponseWriter, r *http.Request) {
	cfg := h.cfg()
	rc, _ := reqctx.FromContext(r.Context())

	if cfg.Server.MaxBodyBytes > 0 {
		r.Body = http.MaxBytesReader(w, r.Body, cfg.Server.MaxBodyBytes)
	}
	raw, err := io.ReadAll(r.Body)
	if err != nil {
		h.onError(w, r, &BodyError{Err: err})
		return
	}

	validated, err := h.gate.Validate(r.Context(), raw)
	if err != nil {
		var rejected *filter.ContentRejectedError
		if errors.As(err, &rejected) {
			h.recordRequest(rc, http.StatusBadRequest, "content_rejected")
			httputil.WriteContentRejected(w)
			return
		}
		h.onError(w, r, err)
		return
	}

	// A client disconnect does not cancel an inference call already in flight.
	ctx := context.WithoutCancel(r.Context())
	if cfg.Inference.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, cfg.Inference.Timeout)
		defer cancel()
	}

	inferStart := time.Now()
	resp, err := h.adapter.Chat(ctx, validated.Prompt, rc.ID)
	inferMs := float64(time.Since(inferStart).Milliseconds())
	if err != nil {
		h.recordInference("error", inferMs)
		h.onError(w, r, err)
		return
	}
	h.recordInference("success", inferMs)

	h.logger.Info("prompt answered",
		"request_id", rc.ID,
		"service", h.adapter.Name(),
		"model", resp.Model,
		"prompt_eval_count", resp.PromptEvalCount,
		"eval_count", resp.EvalCount,
		"inference_ms", int64(inferMs),
	)

	if h.recorder != nil {
		rec := types.AuditRecord{
			RequestID:  rc.ID,
			Method:     r.Method,
			URL:        r.URL.String(),
			ClientIP:   httputil.ClientIP(r),
			StatusCode: http.StatusOK,
			RawBody:    string(validated.Raw),
			Prompt:     validated.Prompt,
			Model:      resp.Model,
			Response:   resp.Message.Content,
			StartedAt:  rc.StartTime,
		}
		if !rc.StartTime.IsZero() {
			rec.DurationMs = rc.Elapsed().Milliseconds()
		}
		h.recorder.RecordSuccess(rec)
		reqctx.MarkAudited(r.Context())
	}

	h.recordRequest(rc, http.StatusOK, "ok")
	httputil.WriteJSON(w, http.StatusOK, resp)
}

// RecordCompletion writes a metadata-only audit record for requests that
// finished without one, such as content rejections, rate limiting and
// unknown routes. Prompt and body are never included.
func (h *Handler) RecordCompletion(r *http.Request, status int) {
	if h.recorder == nil || reqctx.Audited(r.Context()) {
		return
	}
	rc, _ := reqctx.FromContext(r.Context())
	rec := types.AuditRecord{
		RequestID:  rc.ID,
		Method:     r.Method,
		URL:        r.URL.String(),
		ClientIP:   httputil.ClientIP(r),
		StatusCode: status,
		StartedAt:  rc.StartTime,
	}
	if !rc.StartTime.IsZero() {
		rec.DurationMs = rc.Elapsed().Milliseconds()
	}
	h.recorder.RecordSuccess(rec)
}

func (h *Handler) recordRequest(rc reqctx.RequestContext, status int, category string) {
	if h.metrics == nil {
		return
	}
	var ms float64
	if !rc.StartTime.IsZero() {
		ms = float64(rc.Elapsed().Milliseconds())
	}
	h.metrics.RecordRequest(telemetry.RequestLabels{Status: status, Category: category, DurationMs: ms})
}

func (h *Handler) recordInference(outcome string, ms float64) {
	if h.metrics != nil {
		h.metrics.RecordInference(h.adapter.Name(), outcome, ms)
	}
}
