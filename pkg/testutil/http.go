// Package testutil holds helpers shared by handler and integration tests.
package testutil

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
)

// NewJSONRequest builds a request whose body is body marshaled to JSON.
func NewJSONRequest(t *testing.T, method, path string, body any) *http.Request {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body), "encode request body")
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	return req
}

func NewRequest(t *testing.T, method, path string) *http.Request {
	t.Helper()
	return httptest.NewRequest(method, path, nil)
}

func DoRequest(handler http.Handler, req *http.Request) *httptest.ResponseRecorder {
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)
	return rr
}

// UnmarshalResponse decodes the response body into a new T.
func UnmarshalResponse[T any](t *testing.T, rr *httptest.ResponseRecorder) *T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &out), "decode response: %s", rr.Body.String())
	return &out
}

// ErrorResponse mirrors the error envelope written by httputil.
type ErrorResponse struct {
	Error       string          `json:"error"`
	Description string          `json:"error_description"`
	Details     json.RawMessage `json:"details"`
}

// DecodeDetails unmarshals the details payload into v.
func (e ErrorResponse) DecodeDetails(t *testing.T, v any) {
	t.Helper()
	require.NotEmpty(t, e.Details, "error response carries no details")
	require.NoError(t, json.Unmarshal(e.Details, v), "decode error details")
}

func UnmarshalErrorResponse(t *testing.T, rr *httptest.ResponseRecorder) ErrorResponse {
	t.Helper()
	return *UnmarshalResponse[ErrorResponse](t, rr)
}
