// Package admin guards operator routes (policy reload, corrections,
// chain verification) with HS256 bearer tokens.
package admin

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	dErrors "arbiter/pkg/domain-errors"
	"arbiter/pkg/platform/httputil"
	request "arbiter/pkg/platform/middleware/request"
	"arbiter/pkg/requestcontext"
)

const (
	issuer       = "arbiter"
	operatorRole = "compliance-operator"
)

// Claims carried by operator tokens.
type Claims struct {
	Role string `json:"role"`
	jwt.RegisteredClaims
}

// Verifier validates operator bearer tokens.
type Verifier struct {
	key []byte
}

func NewVerifier(signingKey string) *Verifier {
	return &Verifier{key: []byte(signingKey)}
}

// Verify parses and validates a token, returning its subject.
func (v *Verifier) Verify(token string) (string, error) {
	var claims Claims
	parsed, err := jwt.ParseWithClaims(token, &claims, func(t *jwt.Token) (any, error) {
		return v.key, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(issuer),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		return "", fmt.Errorf("parse token: %w", err)
	}
	if !parsed.Valid {
		return "", errors.New("token invalid")
	}
	if claims.Role != operatorRole {
		return "", fmt.Errorf("role %q not permitted", claims.Role)
	}
	if claims.Subject == "" {
		return "", errors.New("token has no subject")
	}
	return claims.Subject, nil
}

// Issue signs an operator token. Used by tooling and tests.
func (v *Verifier) Issue(subject string, ttl time.Duration, now time.Time) (string, error) {
	claims := Claims{
		Role: operatorRole,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    issuer,
			Subject:   subject,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(v.key)
}

// RequireOperator rejects requests without a valid operator token.
func RequireOperator(v *Verifier, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			token, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
			if !ok || token == "" {
				httputil.WriteError(w, dErrors.New(dErrors.CodeUnauthorized, "operator token required"))
				return
			}
			subject, err := v.Verify(token)
			if err != nil {
				logger.WarnContext(ctx, "operator token rejected",
					"request_id", request.GetRequestID(ctx),
					"error", err,
				)
				httputil.WriteError(w, dErrors.New(dErrors.CodeUnauthorized, "invalid or expired operator token"))
				return
			}
			next.ServeHTTP(w, r.WithContext(requestcontext.WithSubject(ctx, subject)))
		})
	}
}
