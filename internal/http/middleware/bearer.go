package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/einvoice-tools/registry-workbench/internal/http/response"
	"github.com/einvoice-tools/registry-workbench/internal/observability"
)

type contextKey string

const SubjectContextKey contextKey = "subject"

// TokenValidator checks a raw bearer token and returns the subject it was
// issued to.
type TokenValidator func(raw string) (subject string, err error)

// Bearer guards a route group with Authorization: Bearer tokens. Cookies are
// deliberately not consulted; the workbench always sends a header.
func Bearer(validate TokenValidator) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			auth := r.Header.Get("Authorization")
			if !strings.HasPrefix(strings.ToLower(auth), "bearer ") {
				observability.RecordBearerValidation("missing")
				response.Error(w, r, http.StatusUnauthorized, "UNAUTHORIZED", "missing bearer token")
				return
			}
			raw := strings.TrimSpace(auth[7:])
			subject, err := validate(raw)
			if err != nil {
				observability.RecordBearerValidation("invalid")
				response.Error(w, r, http.StatusUnauthorized, "UNAUTHORIZED", "invalid bearer token")
				return
			}
			observability.RecordBearerValidation("valid")
			ctx := context.WithValue(r.Context(), SubjectContextKey, subject)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func SubjectFromContext(ctx context.Context) (string, bool) {
	s, ok := ctx.Value(SubjectContextKey).(string)
	return s, ok
}
