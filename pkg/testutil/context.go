package testutil

import (
	"net/http"

	"arbiter/pkg/requestcontext"
)

// WithRequestID attaches a request ID the way the request middleware would.
func WithRequestID(req *http.Request, requestID string) *http.Request {
	return req.WithContext(requestcontext.WithRequestID(req.Context(), requestID))
}
