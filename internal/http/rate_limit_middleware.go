package httpx

import (
	"net"
	"net/http"
	"strings"

	"github.com/splax/localvercel/intake/internal/ratelimit"
)

// admit counts the request against the webhook or api budget, sets the
// X-RateLimit-* headers and writes 429 when the budget is spent.
func (r *Router) admit(w http.ResponseWriter, req *http.Request, route string, webhook bool) bool {
	if r.limiter == nil {
		return true
	}
	key := r.clientKey(req)
	result := r.limiter.CheckLimit(req.Context(), key, webhook)
	copyHeaders(w.Header(), ratelimit.GenerateHeaders(result.Info, result.RetryAfter))
	if result.Allowed {
		return true
	}
	r.recordRateLimitHit(route, rateMetricKey(key))
	r.logger.Warn("rate limit exceeded", "route", route, "key", rateMetricKey(key))
	writeError(w, http.StatusTooManyRequests, "rate limit exceeded")
	return false
}

// clientKey identifies the caller: an authenticated credential when present,
// otherwise the peer address.
func (r *Router) clientKey(req *http.Request) string {
	if info, ok := authInfoFromContext(req.Context()); ok && info.Fingerprint != "" {
		return "key:" + info.Fingerprint
	}
	if info, ok := r.validator.Identify(req); ok {
		return "key:" + info.Fingerprint
	}
	ip := r.clientIP(req)
	if ip == "" {
		ip = "unknown"
	}
	return "ip:" + ip
}

// clientIP returns the peer address. Proxy headers are only trusted when the
// service is configured to sit behind a proxy that sets them.
func (r *Router) clientIP(req *http.Request) string {
	if r.trustProxy {
		if forwarded := strings.TrimSpace(req.Header.Get("X-Forwarded-For")); forwarded != "" {
			if ip := strings.TrimSpace(strings.Split(forwarded, ",")[0]); ip != "" {
				return ip
			}
		}
		if realIP := strings.TrimSpace(req.Header.Get("X-Real-IP")); realIP != "" {
			return realIP
		}
	}
	host, _, err := net.SplitHostPort(strings.TrimSpace(req.RemoteAddr))
	if err != nil {
		return strings.TrimSpace(req.RemoteAddr)
	}
	return host
}

func rateMetricKey(key string) string {
	if key == "" {
		return "unknown"
	}
	if idx := strings.IndexRune(key, ':'); idx > 0 {
		return key[:idx]
	}
	return key
}
