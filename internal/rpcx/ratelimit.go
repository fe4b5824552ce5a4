package rpcx

import (
	"net/http"

	"golang.org/x/time/rate"
)

// IngressLimiter throttles inbound HTTP requests with a shared token
// bucket, distinct from the watch package's per-subscriber sliding-window
// limiter: this one protects the RPC/streaming surface itself rather than
// watch event delivery.
type IngressLimiter struct {
	limiter *rate.Limiter
}

// NewIngressLimiter returns a limiter allowing burst immediate requests and
// refilling at ratePerSec thereafter.
func NewIngressLimiter(ratePerSec float64, burst int) *IngressLimiter {
	return &IngressLimiter{limiter: rate.NewLimiter(rate.Limit(ratePerSec), burst)}
}

// Middleware rejects requests over the configured rate with 429.
func (l *IngressLimiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !l.limiter.Allow() {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusTooManyRequests)
			_, _ = w.Write([]byte(`{"code":"RateLimited","message":"ingress rate exceeded"}`))
			return
		}
		next.ServeHTTP(w, r)
	})
}
