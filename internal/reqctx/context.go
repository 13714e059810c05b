// Package reqctx issues the per-request correlation context and logs the
// start and completion of every request.
package reqctx

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// HeaderRequestID carries the correlation id on every response.
const HeaderRequestID = "X-Request-ID"

type contextKey string

const (
	requestContextKey contextKey = "request_context"
	auditedKey        contextKey = "audited"
)

// RequestContext identifies one inbound request for its whole lifetime.
type RequestContext struct {
	ID        string
	StartTime time.Time
}

// Elapsed returns the time since the request started.
func (rc RequestContext) Elapsed() time.Duration {
	return time.Since(rc.StartTime)
}

// Generate issues a new RequestContext. It cannot fail.
func Generate() RequestContext {
	return RequestContext{
		ID:        uuid.NewString(),
		StartTime: time.Now(),
	}
}

func WithRequestContext(ctx context.Context, rc RequestContext) context.Context {
	return context.WithValue(ctx, requestContextKey, rc)
}

func FromContext(ctx context.Context) (RequestContext, bool) {
	rc, ok := ctx.Value(requestContextKey).(RequestContext)
	return rc, ok
}

// RequestID returns the correlation id, or "" outside a request.
func RequestID(ctx context.Context) string {
	rc, _ := FromContext(ctx)
	return rc.ID
}

func withAuditMark(ctx context.Context) (context.Context, *atomic.Bool) {
	mark := &atomic.Bool{}
	return context.WithValue(ctx, auditedKey, mark), mark
}

// MarkAudited records that an audit entry was already written for the
// request, so the completion hook does not write a second one.
func MarkAudited(ctx context.Context) {
	if mark, ok := ctx.Value(auditedKey).(*atomic.Bool); ok {
		mark.Store(true)
	}
}

// Audited reports whether MarkAudited was called for the request.
func Audited(ctx context.Context) bool {
	mark, ok := ctx.Value(auditedKey).(*atomic.Bool)
	return ok && mark.Load()
}
