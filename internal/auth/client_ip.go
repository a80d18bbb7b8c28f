package auth

import (
	"net/http"
	"strings"
)

// ClientIP reads the caller address from proxy headers in order of trust:
// the first X-Forwarded-For hop, then X-Real-IP, then the Vercel header.
func ClientIP(r *http.Request) string {
	if forwarded := firstHop(r.Header.Get("X-Forwarded-For")); forwarded != "" {
		return forwarded
	}
	if realIP := strings.TrimSpace(r.Header.Get("X-Real-IP")); realIP != "" {
		return realIP
	}
	if vercel := firstHop(r.Header.Get("X-Vercel-Forwarded-For")); vercel != "" {
		return vercel
	}
	return "unknown"
}

func firstHop(header string) string {
	header = strings.TrimSpace(header)
	if header == "" {
		return ""
	}
	first, _, _ := strings.Cut(header, ",")
	return strings.TrimSpace(first)
}
