package telemetry

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/af-corp/prompt-gateway/internal/httputil"
)

// HealthFunc reports component status for /healthz.
type HealthFunc func() map[string]any

// OpsHandler serves /metrics from gatherer and /healthz from health. It is
// mounted on its own listener, away from the public endpoint.
func OpsHandler(gatherer prometheus.Gatherer, health HealthFunc) http.Handler {
	r := chi.NewRouter()
	r.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		body := map[string]any{"status": "ok"}
		if health != nil {
			for k, v := range health() {
				body[k] = v
			}
		}
		httputil.WriteJSON(w, http.StatusOK, body)
	})
	return r
}
