package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestClientIP(t *testing.T) {
	tests := []struct {
		name    string
		headers map[string]string
		want    string
	}{
		{name: "first forwarded hop", headers: map[string]string{"X-Forwarded-For": " 203.0.113.5 , 10.0.0.1, 10.0.0.2"}, want: "203.0.113.5"},
		{name: "real ip fallback", headers: map[string]string{"X-Real-IP": "198.51.100.4"}, want: "198.51.100.4"},
		{name: "forwarded wins over real ip", headers: map[string]string{"X-Forwarded-For": "203.0.113.5", "X-Real-IP": "198.51.100.4"}, want: "203.0.113.5"},
		{name: "empty forwarded falls through", headers: map[string]string{"X-Forwarded-For": " , ", "X-Real-IP": "198.51.100.4"}, want: "198.51.100.4"},
		{name: "vercel header", headers: map[string]string{"X-Vercel-Forwarded-For": "192.0.2.8, 10.0.0.1"}, want: "192.0.2.8"},
		{name: "nothing", want: "unknown"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			for k, v := range tt.headers {
				req.Header.Set(k, v)
			}
			assert.Equal(t, tt.want, ClientIP(req))
		})
	}
}
