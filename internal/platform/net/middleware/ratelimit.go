package middleware

import (
	"net"
	"net/http"
	"strings"

	perr "accelproxy/internal/platform/errors"
	"accelproxy/internal/platform/logger"
	phttp "accelproxy/internal/platform/net/http"
	"accelproxy/internal/ratelimit"
)

var rateLimitLog = logger.Named("ratelimit")

// exemptPaths are never metered, regardless of rate-limit bucket state:
// the home page, the search UI, the favicon, and any static asset.
var exemptPaths = []string{"/", "/favicon.ico", "/search.html", "/images.html"}

func isExempt(path string) bool {
	for _, p := range exemptPaths {
		if path == p {
			return true
		}
	}
	return strings.HasPrefix(path, "/public/")
}

// RateLimit admits requests through limiter, skipping exempt paths and
// rejecting denied/exhausted IPs itself: it writes a {"error": ...} JSON
// body with the status mapped from a perr.ErrorCode (403 or 429), the same
// shape the proxies use for their own errors.
//
// metrics is optional and variadic so existing call sites that don't
// care about Prometheus recording don't need to change; pass at most one.
func RateLimit(limiter *ratelimit.Limiter, metrics ...*phttp.Metrics) func(http.Handler) http.Handler {
	var m *phttp.Metrics
	if len(metrics) > 0 {
		m = metrics[0]
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if isExempt(r.URL.Path) {
				next.ServeHTTP(w, r)
				return
			}

			host, _, err := net.SplitHostPort(r.RemoteAddr)
			if err != nil {
				host = r.RemoteAddr
			}

			switch limiter.Admit(host) {
			case ratelimit.VerdictDeniedIP:
				if m != nil {
					m.RateLimitRejections.WithLabelValues("denied_ip").Inc()
				}
				rateLimitLog.Info().Str("ip", host).Str("path", r.URL.Path).Msg("access denied")
				writeRateLimitError(w, perr.New(perr.ErrorCodeForbidden, "access denied"))
				return
			case ratelimit.VerdictRateLimited:
				if m != nil {
					m.RateLimitRejections.WithLabelValues("rate_limited").Inc()
				}
				w.Header().Set("Retry-After", "60")
				rateLimitLog.Info().Str("ip", host).Str("path", r.URL.Path).Msg("rate limited")
				writeRateLimitError(w, perr.New(perr.ErrorCodeTooManyRequests, "rate limited"))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func writeRateLimitError(w http.ResponseWriter, err error) {
	status := perr.HTTPStatus(err)
	msg := err.Error()
	if e, ok := perr.As(err); ok {
		msg = e.ToWire().Message
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write([]byte(`{"error":"` + strings.NewReplacer(`\`, `\\`, `"`, `\"`).Replace(msg) + `"}`))
}
