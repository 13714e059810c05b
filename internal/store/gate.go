package store

import "net/http"

// ErrorHandler writes the response for an error raised by a middleware.
type ErrorHandler func(w http.ResponseWriter, r *http.Request, err error)

// Gate blocks requests until the backing store is connected. It runs once per
// request so the gateway recovers from outages without a restart; the
// connected fast path costs a read lock.
func Gate(m *Manager, onError ErrorHandler) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if err := m.EnsureConnected(r.Context()); err != nil {
				onError(w, r, err)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
