// Package requesttime provides middleware for request-scoped time.
// Every timestamp produced while serving a request (decision time,
// recorded_at, velocity windows) uses the same "now".
package requesttime

import (
	"net/http"
	"time"

	"arbiter/pkg/requestcontext"
)

// Middleware captures the current UTC time at the start of the request.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := requestcontext.WithTime(r.Context(), time.Now().UTC())
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}
