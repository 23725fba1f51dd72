package middleware

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/queueup/backend/internal/logging"
	"github.com/queueup/backend/internal/session"
)

// RequestContextMiddleware adds request attributes to context early in the middleware chain.
func RequestContextMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attrs := &logging.RequestAttrs{
			Method: r.Method,
			Path:   r.URL.Path,
			IP:     logging.ExtractClientIP(r),
		}
		ctx := logging.WithRequestAttrs(r.Context(), attrs)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// AccessCodeContextMiddleware records the {code} route parameter in the
// request attributes. Mount it inside the /sessions/{code} route.
func AccessCodeContextMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if code := chi.URLParam(r, "code"); code != "" {
			ctx := logging.UpdateRequestAttrs(r.Context(), session.NormalizeCode(code), "")
			r = r.WithContext(ctx)
		}
		next.ServeHTTP(w, r)
	})
}
