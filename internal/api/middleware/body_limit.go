package middleware

import (
	"net/http"

	"github.com/cloo-solutions/kbbot/internal/api"
)

const (
	// DefaultBodyBytes covers questions, chat messages and review decisions
	DefaultBodyBytes int64 = 64 << 10
	// ImportBodyBytes covers bulk knowledge imports
	ImportBodyBytes int64 = 5 << 20
)

// BodyLimit rejects declared oversize bodies up front and caps streamed ones at limit.
// Apply it once per route group; nested limits cannot raise an outer one.
func BodyLimit(limit int64) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if limit <= 0 || r.Body == nil || r.Body == http.NoBody {
				next.ServeHTTP(w, r)
				return
			}

			if r.ContentLength > limit {
				api.Error(w, http.StatusRequestEntityTooLarge, "request body too large")
				return
			}

			r.Body = http.MaxBytesReader(w, r.Body, limit)
			next.ServeHTTP(w, r)
		})
	}
}
