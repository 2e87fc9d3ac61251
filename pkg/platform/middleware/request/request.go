// Package request assigns each inbound request an ID shared by logs,
// decisions and audit records.
package request

import (
	"context"
	"net/http"

	"github.com/google/uuid"

	"arbiter/pkg/requestcontext"
)

const HeaderRequestID = "X-Request-ID"

// RequestID reuses an inbound X-Request-ID or generates one, stores it
// in the context and echoes it on the response.
func RequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reqID := r.Header.Get(HeaderRequestID)
		if reqID == "" || len(reqID) > 128 {
			reqID = uuid.NewString()
		}
		w.Header().Set(HeaderRequestID, reqID)
		ctx := requestcontext.WithRequestID(r.Context(), reqID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// GetRequestID retrieves the request ID from the context.
func GetRequestID(ctx context.Context) string {
	return requestcontext.RequestID(ctx)
}
