package middleware

import (
	"crypto/subtle"
	"net"
	"net/http"
	"strings"

	"github.com/EasterCompany/dex-triage-service/internal/logging"
)

// APIKeyHeader carries the shared key on protected routes.
const APIKeyHeader = "X-Api-Key"

// APIKeyAuth rejects requests without the configured key. Requests from
// localhost are always trusted, and an empty key disables the check.
func APIKeyAuth(key string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if key == "" {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			clientIP := getClientIP(r)
			if isLocalhost(clientIP) {
				next.ServeHTTP(w, r)
				return
			}

			got := r.Header.Get(APIKeyHeader)
			if got == "" {
				logging.Named(logging.LoggerHTTP).Warn("auth denied: missing API key", "header", APIKeyHeader, "remote", r.RemoteAddr)
				http.Error(w, "Unauthorized: "+APIKeyHeader+" header required", http.StatusUnauthorized)
				return
			}
			if subtle.ConstantTimeCompare([]byte(got), []byte(key)) != 1 {
				logging.Named(logging.LoggerHTTP).Warn("auth denied: invalid API key", "client", clientIP)
				http.Error(w, "Forbidden: invalid API key", http.StatusForbidden)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func getClientIP(r *http.Request) string {
	if forwarded := r.Header.Get("X-Forwarded-For"); forwarded != "" {
		return strings.TrimSpace(strings.Split(forwarded, ",")[0])
	}
	if realIP := r.Header.Get("X-Real-IP"); realIP != "" {
		return realIP
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func isLocalhost(ip string) bool {
	parsed := net.ParseIP(strings.Trim(ip, "[]"))
	return parsed != nil && parsed.IsLoopback()
}
