// Package dispatch turns errors into HTTP responses through an ordered rule
// list, logging and auditing each one on the way.
package dispatch

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"runtime/debug"
	"time"

	"github.com/af-corp/prompt-gateway/internal/httputil"
	"github.com/af-corp/prompt-gateway/internal/reqctx"
	"github.com/af-corp/prompt-gateway/internal/types"
)

// FailureRecorder receives one audit record per dispatched error.
type FailureRecorder interface {
	RecordFailure(rec types.ErrorAuditRecord)
}

// stackTracer is implemented by errors that captured their own stack.
type stackTracer interface {
	StackTrace() string
}

// Dispatcher is the single place errors become responses.
type Dispatcher struct {
	rules    []Rule
	recorder FailureRecorder
	logger   *slog.Logger
	observe  func(Classified)
}

// New creates a dispatcher with DefaultRules. recorder may be nil.
func New(recorder FailureRecorder, logger *slog.Logger) *Dispatcher {
	return NewWithRules(DefaultRules(), recorder, logger)
}

// NewWithRules creates a dispatcher evaluating rules in order. The last rule
// should match every error.
func NewWithRules(rules []Rule, recorder FailureRecorder, logger *slog.Logger) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{rules: rules, recorder: recorder, logger: logger}
}

// OnDispatch registers a hook invoked for every classified error, used for
// metrics. Must be called before the dispatcher is used.
func (d *Dispatcher) OnDispatch(fn func(Classified)) { d.observe = fn }

// Classify runs the rules and returns the first match. It has no side effects.
func (d *Dispatcher) Classify(err error) Classified {
	for _, rule := range d.rules {
		if rule.Match(err) {
			return rule.Classify(err)
		}
	}
	return classifyGeneric(err)
}

// Dispatch classifies err, logs it, records an audit entry and writes the
// response. Failures in logging or auditing never change the response.
func (d *Dispatcher) Dispatch(w http.ResponseWriter, r *http.Request, err error) {
	c := d.Classify(err)

	d.isolate("log", func() { d.log(r, err, c) })
	d.isolate("audit", func() { d.audit(r, err, c) })
	if d.observe != nil {
		d.isolate("observe", func() { d.observe(c) })
	}

	httputil.WriteError(w, c.StatusCode, c.PublicMessage, c.Details)
}

// NotFound answers unmatched routes.
func (d *Dispatcher) NotFound(w http.ResponseWriter, r *http.Request) {
	httputil.WriteNotFound(w)
}

func (d *Dispatcher) isolate(stage string, fn func()) {
	defer func() {
		if v := recover(); v != nil {
			d.logger.Error("error dispatch side effect panicked", "stage", stage, "panic", fmt.Sprint(v))
		}
	}()
	fn()
}

func (d *Dispatcher) log(r *http.Request, err error, c Classified) {
	attrs := []any{
		"request_id", reqctx.RequestID(r.Context()),
		"method", r.Method,
		"path", r.URL.Path,
		"status_code", c.StatusCode,
		"category", string(c.Category),
		"error", err.Error(),
	}
	if c.StatusCode >= 500 {
		d.logger.Error("request failed", append(attrs, "stack", stackOf(err))...)
		return
	}
	d.logger.Warn("request rejected", attrs...)
}

func (d *Dispatcher) audit(r *http.Request, err error, c Classified) {
	if d.recorder == nil {
		return
	}
	rc, _ := reqctx.FromContext(r.Context())
	rec := types.ErrorAuditRecord{
		RequestID:  rc.ID,
		Method:     r.Method,
		URL:        r.URL.String(),
		ClientIP:   httputil.ClientIP(r),
		Name:       c.Name,
		Message:    err.Error(),
		StatusCode: c.StatusCode,
		Category:   string(c.Category),
		StartedAt:  rc.StartTime,
	}
	if !rc.StartTime.IsZero() {
		rec.DurationMs = time.Since(rc.StartTime).Milliseconds()
	}
	if c.StatusCode >= 500 {
		rec.Stack = stackOf(err)
	}
	d.recorder.RecordFailure(rec)
	reqctx.MarkAudited(r.Context())
}

func stackOf(err error) string {
	var st stackTracer
	if errors.As(err, &st) {
		return st.StackTrace()
	}
	return string(debug.Stack())
}
