package web

import (
	"net/http"

	"github.com/JonMunkholm/importer/internal/core"
)

// withActor records the caller's address and user agent on the request
// context so runs started by the request name who triggered them.
func withActor(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := core.ContextWithActor(r.Context(), core.Actor{
			IPAddress: clientIP(r),
			UserAgent: r.UserAgent(),
		})
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}
