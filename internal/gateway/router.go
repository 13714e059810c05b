package gateway

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/af-corp/prompt-gateway/internal/config"
	"github.com/af-corp/prompt-gateway/internal/dispatch"
	"github.com/af-corp/prompt-gateway/internal/ratelimit"
	"github.com/af-corp/prompt-gateway/internal/reqctx"
	"github.com/af-corp/prompt-gateway/internal/store"
)

// RouterDeps are the middleware collaborators around the Handler.
type RouterDeps struct {
	Handler    *Handler
	Dispatcher *dispatch.Dispatcher
	// Store may be nil, in which case requests are not gated on connectivity.
	Store       *store.Manager
	Limiter     *ratelimit.Limiter
	RateLimit   func() config.RateLimitConfig
	OnRateLimit func()
}

// NewRouter builds the public router. Any path other than POST / answers 404,
// including other methods on /.
func NewRouter(d RouterDeps) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RealIP)
	r.Use(reqctx.Middleware(d.Handler.logger, d.Handler.RecordCompletion))
	r.Use(d.Dispatcher.Recover)
	if d.Limiter != nil {
		r.Use(ratelimit.Middleware(d.Limiter, d.RateLimit, d.OnRateLimit))
	}

	r.NotFound(d.Dispatcher.NotFound)
	r.MethodNotAllowed(d.Dispatcher.NotFound)

	r.Group(func(r chi.Router) {
		if d.Store != nil {
			r.Use(store.Gate(d.Store, d.Dispatcher.Dispatch))
		}
		r.Post("/", d.Handler.Prompt)
	})
	return r
}
