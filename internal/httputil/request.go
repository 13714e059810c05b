package httputil

import (
	"net"
	"net/http"
)

// ClientIP returns the request's remote address without the port. Run
// chi's middleware.RealIP first to honour proxy headers.
func ClientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
