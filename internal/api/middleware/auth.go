package middleware

import (
	"context"
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/cloo-solutions/kbbot/internal/api"
)

type contextKey string

const (
	CallerKey     contextKey = "caller"
	callerSlotKey contextKey = "caller_slot"
)

// TokenValidator resolves a bearer token to the caller it belongs to
type TokenValidator interface {
	ValidateToken(ctx context.Context, token string) (string, error)
}

// StaticTokens validates bearer tokens against a fixed token-to-caller map
type StaticTokens map[string]string

func (s StaticTokens) ValidateToken(_ context.Context, token string) (string, error) {
	var caller string
	for known, name := range s {
		if subtle.ConstantTimeCompare([]byte(known), []byte(token)) == 1 {
			caller = name
		}
	}
	if caller == "" {
		return "", errInvalidToken
	}
	return caller, nil
}

type authError string

func (e authError) Error() string { return string(e) }

const errInvalidToken = authError("invalid token")

func TokenAuth(validator TokenValidator) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authHeader := r.Header.Get("Authorization")
			if authHeader == "" {
				api.Error(w, http.StatusUnauthorized, "missing authorization header")
				return
			}

			if !strings.HasPrefix(authHeader, "Bearer ") {
				api.Error(w, http.StatusUnauthorized, "invalid authorization format")
				return
			}

			token := strings.TrimPrefix(authHeader, "Bearer ")

			caller, err := validator.ValidateToken(r.Context(), token)
			if err != nil {
				api.Error(w, http.StatusUnauthorized, "invalid api token")
				return
			}

			slots, _ := r.Context().Value(callerSlotKey).([]*string)
			for _, slot := range slots {
				*slot = caller
			}
			ctx := context.WithValue(r.Context(), CallerKey, caller)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func GetCaller(ctx context.Context) string {
	caller, _ := ctx.Value(CallerKey).(string)
	return caller
}

// withCallerSlot lets middleware that runs before auth observe the resolved caller
func withCallerSlot(ctx context.Context, slot *string) context.Context {
	slots, _ := ctx.Value(callerSlotKey).([]*string)
	slots = append(slots[:len(slots):len(slots)], slot)
	return context.WithValue(ctx, callerSlotKey, slots)
}
