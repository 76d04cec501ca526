package middleware

import (
	"context"
	"net/http"
	"time"

	"go.uber.org/zap"

	"gridprompt/pkg/logging"
)

// Timeout bounds the whole request with one deadline. The per-attempt
// provider timeouts are tighter; this is the outer stop so a stuck handler
// cannot hold the connection forever. Expired requests answer 504.
func Timeout(d time.Duration) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx, cancel := context.WithTimeout(r.Context(), d)
			defer cancel()

			done := make(chan struct{})
			go func() {
				next.ServeHTTP(w, r.WithContext(ctx))
				close(done)
			}()

			select {
			case <-done:
			case <-ctx.Done():
				logging.L(ctx).Warn("request deadline exceeded",
					zap.Duration("timeout", d),
					zap.String("path", r.URL.Path),
				)
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusGatewayTimeout)
				_, _ = w.Write([]byte(`{"ok":false,"error_code":"TIMEOUT","message":"request deadline exceeded"}`))
			}
		})
	}
}
