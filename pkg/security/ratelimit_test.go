package security

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestAttemptLimiter(t *testing.T) {
	l := NewAttemptLimiter(6, 2)
	now := time.Date(2026, 9, 7, 12, 0, 0, 0, time.UTC)
	l.now = func() time.Time { return now }

	assert.True(t, l.Allow("1.2.3.4"))
	assert.True(t, l.Allow("1.2.3.4"))
	assert.False(t, l.Allow("1.2.3.4"), "burst spent")
	assert.True(t, l.Allow("5.6.7.8"), "keys are independent")

	// Six per minute refills one token every ten seconds.
	now = now.Add(10 * time.Second)
	assert.True(t, l.Allow("1.2.3.4"))
	assert.False(t, l.Allow("1.2.3.4"))

	now = now.Add(time.Hour)
	l.Allow("9.9.9.9")
	assert.Len(t, l.clients, 1, "idle clients dropped")
}

func TestRateLimitMiddleware(t *testing.T) {
	l := NewAttemptLimiter(1, 1)
	handler := RateLimitMiddleware(l, ClientKey)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	send := func(addr string) int {
		req := httptest.NewRequest(http.MethodPost, "/q/abc/pin", nil)
		req.RemoteAddr = addr
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, req)
		return w.Code
	}

	assert.Equal(t, http.StatusOK, send("10.0.0.1:5000"))
	assert.Equal(t, http.StatusTooManyRequests, send("10.0.0.1:5001"), "same host, other port")
	assert.Equal(t, http.StatusOK, send("10.0.0.2:5000"))
}

func TestClientKey(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "192.0.2.1:1234"
	assert.Equal(t, "192.0.2.1", ClientKey(req))
	req.RemoteAddr = "garbage"
	assert.Equal(t, "garbage", ClientKey(req))
}

func TestClientIP_IgnoresForwardedForFromUntrustedPeer(t *testing.T) {
	c, err := NewClientIP(nil)
	assert.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, "/q/abc/pin", nil)
	req.RemoteAddr = "198.51.100.7:4000"
	req.Header.Set("X-Forwarded-For", "203.0.113.99")
	assert.Equal(t, "198.51.100.7", c.Key(req))
}

func TestClientIP_TrustedProxy(t *testing.T) {
	c, err := NewClientIP([]string{"10.0.0.0/8", " 192.0.2.0/24 "})
	assert.NoError(t, err)

	tests := []struct {
		name     string
		remote   string
		xff      []string
		expected string
	}{
		{"no header", "10.1.1.1:80", nil, "10.1.1.1"},
		{"single hop", "10.1.1.1:80", []string{"203.0.113.5"}, "203.0.113.5"},
		{"rightmost untrusted wins", "10.1.1.1:80", []string{"1.1.1.1, 203.0.113.5, 192.0.2.9"}, "203.0.113.5"},
		{"split headers", "10.1.1.1:80", []string{"1.1.1.1", "203.0.113.6"}, "203.0.113.6"},
		{"garbage hop stops at peer", "10.1.1.1:80", []string{"nonsense"}, "10.1.1.1"},
		{"only proxies", "10.1.1.1:80", []string{"10.2.2.2"}, "10.1.1.1"},
		{"untrusted peer", "198.51.100.7:80", []string{"203.0.113.5"}, "198.51.100.7"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			req.RemoteAddr = tt.remote
			for _, v := range tt.xff {
				req.Header.Add("X-Forwarded-For", v)
			}
			assert.Equal(t, tt.expected, c.Key(req))
		})
	}
}

func TestNewClientIP_RejectsBadCIDR(t *testing.T) {
	_, err := NewClientIP([]string{"10.0.0.0/33"})
	assert.Error(t, err)
}
