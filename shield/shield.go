// Package shield provides the HTTP middleware in front of the domselect
// API: security headers, request body limits, request ids and HEAD
// handling.
//
// Usage:
//
//	r := chi.NewRouter()
//	for _, mw := range shield.DefaultAPIStack(logger) {
//	    r.Use(mw)
//	}
package shield

import (
	"log/slog"
	"net/http"
)

// DefaultMaxBody bounds request bodies; captured pages are the largest
// payloads the API accepts.
const DefaultMaxBody = 8 << 20

// DefaultAPIStack returns the standard middleware stack of a JSON API.
// Order: HeadToGet → SecurityHeaders → MaxBody → RequestID.
func DefaultAPIStack(logger *slog.Logger) []func(http.Handler) http.Handler {
	return []func(http.Handler) http.Handler{
		HeadToGet,
		SecurityHeaders(APIHeaders()),
		MaxBody(DefaultMaxBody),
		RequestID(logger),
	}
}

// HeadToGet serves HEAD through the GET route of the same path, so uptime
// health checks hitting /health or /stats with HEAD get 200 instead of 405.
// net/http drops the body of HEAD responses.
func HeadToGet(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodHead {
			next.ServeHTTP(w, r)
			return
		}
		r2 := r.Clone(r.Context())
		r2.Method = http.MethodGet
		next.ServeHTTP(w, r2)
	})
}
