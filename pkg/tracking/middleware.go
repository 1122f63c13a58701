package tracking

import (
	"context"
	"net/http"
	"net/url"

	"github.com/gabrielmiguelok/easyforms/pkg/logging"
)

type storeContextKey struct{}

// Middleware captures tracked parameters on every page request and makes the
// request-scoped Store available through FromContext.
func Middleware(config Config, logger logging.Logger) func(next http.Handler) http.Handler {
	if logger == nil {
		logger = logging.DefaultLogger
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			store := NewStore(requestURL(r), NewRequestCookies(w, r), config)
			if n := store.CaptureFromURL(); n > 0 {
				logger.Debug("tracking parameters captured",
					logging.Int("count", n),
					logging.String("path", r.URL.Path),
				)
			}
			ctx := context.WithValue(r.Context(), storeContextKey{}, store)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// FromContext returns the Store installed by Middleware, or nil.
func FromContext(ctx context.Context) *Store {
	store, _ := ctx.Value(storeContextKey{}).(*Store)
	return store
}

// requestURL rebuilds the absolute page URL so the Secure flag follows the
// scheme the visitor used.
func requestURL(r *http.Request) *url.URL {
	u := *r.URL
	u.Host = r.Host
	u.Scheme = "http"
	if r.TLS != nil || r.Header.Get("X-Forwarded-Proto") == "https" {
		u.Scheme = "https"
	}
	return &u
}
