package reqctx

import (
	"log/slog"
	"net/http"
)

// statusRecorder captures the status code written by downstream handlers.
type statusRecorder struct {
	http.ResponseWriter
	status  int
	written bool
}

func (sr *statusRecorder) WriteHeader(code int) {
	if !sr.written {
		sr.status = code
		sr.written = true
	}
	sr.ResponseWriter.WriteHeader(code)
}

func (sr *statusRecorder) Write(b []byte) (int, error) {
	if !sr.written {
		sr.status = http.StatusOK
		sr.written = true
	}
	return sr.ResponseWriter.Write(b)
}

func (sr *statusRecorder) Flush() {
	if f, ok := sr.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (sr *statusRecorder) Unwrap() http.ResponseWriter {
	return sr.ResponseWriter
}

// Completion runs once the handler chain has returned, with the request
// carrying its RequestContext and the final status code.
type Completion func(r *http.Request, status int)

// Middleware attaches a fresh RequestContext to every request, echoes its id
// in the X-Request-ID response header and logs request start and completion.
// Client supplied X-Request-ID headers are ignored. onComplete may be nil.
func Middleware(logger *slog.Logger, onComplete Completion) func(http.Handler) http.Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			rc := Generate()
			w.Header().Set(HeaderRequestID, rc.ID)

			logger.Info("request started",
				"request_id", rc.ID,
				"method", r.Method,
				"path", r.URL.Path,
				"client_ip", r.RemoteAddr,
			)

			ctx, _ := withAuditMark(WithRequestContext(r.Context(), rc))
			req := r.WithContext(ctx)
			rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(rec, req)

			if onComplete != nil {
				onComplete(req, rec.status)
			}

			level := slog.LevelInfo
			switch {
			case rec.status >= 500:
				level = slog.LevelError
			case rec.status >= 400:
				level = slog.LevelWarn
			}
			logger.Log(r.Context(), level, "request completed",
				"request_id", rc.ID,
				"method", r.Method,
				"path", r.URL.Path,
				"client_ip", r.RemoteAddr,
				"status_code", rec.status,
				"duration_ms", rc.Elapsed().Milliseconds(),
			)
		})
	}
}
