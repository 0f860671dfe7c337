package security

import (
	"fmt"
	"net"
	"net/http"
	"net/netip"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// AttemptLimiter throttles PIN guesses per client. Each key gets its own token
// bucket; idle buckets are dropped.
type AttemptLimiter struct {
	mu      sync.Mutex
	limit   rate.Limit
	burst   int
	idle    time.Duration
	now     func() time.Time
	clients map[string]*client
}

type client struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// NewAttemptLimiter allows perMinute attempts per key with the given burst.
func NewAttemptLimiter(perMinute, burst int) *AttemptLimiter {
	if burst <= 0 {
		burst = 1
	}
	return &AttemptLimiter{
		limit:   rate.Limit(perMinute) / 60,
		burst:   burst,
		idle:    10 * time.Minute,
		now:     time.Now,
		clients: make(map[string]*client),
	}
}

func (l *AttemptLimiter) Allow(key string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	now := l.now()
	for k, c := range l.clients {
		if now.Sub(c.lastSeen) > l.idle {
			delete(l.clients, k)
		}
	}
	c, ok := l.clients[key]
	if !ok {
		c = &client{limiter: rate.NewLimiter(l.limit, l.burst)}
		l.clients[key] = c
	}
	c.lastSeen = now
	return c.limiter.AllowN(now, 1)
}

// ClientKey identifies the caller by the address of the direct peer.
func ClientKey(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// ClientIP keys requests by client address. X-Forwarded-For is read only when
// the direct peer is a trusted proxy, and then the rightmost hop outside the
// trusted ranges is the client. Without trusted ranges the header is ignored.
type ClientIP struct {
	trusted []netip.Prefix
}

func NewClientIP(cidrs []string) (*ClientIP, error) {
	c := &ClientIP{}
	for _, raw := range cidrs {
		raw = strings.TrimSpace(raw)
		if raw == "" {
			continue
		}
		p, err := netip.ParsePrefix(raw)
		if err != nil {
			return nil, fmt.Errorf("trusted proxy %q: %w", raw, err)
		}
		c.trusted = append(c.trusted, p.Masked())
	}
	return c, nil
}

func (c *ClientIP) isTrusted(a netip.Addr) bool {
	a = a.Unmap()
	for _, p := range c.trusted {
		if p.Contains(a) {
			return true
		}
	}
	return false
}

func (c *ClientIP) Key(r *http.Request) string {
	peer := ClientKey(r)
	addr, err := netip.ParseAddr(peer)
	if err != nil || !c.isTrusted(addr) {
		return peer
	}
	hops := strings.Split(strings.Join(r.Header.Values("X-Forwarded-For"), ","), ",")
	for i := len(hops) - 1; i >= 0; i-- {
		hop, err := netip.ParseAddr(strings.TrimSpace(hops[i]))
		if err != nil {
			break
		}
		if !c.isTrusted(hop) {
			return hop.Unmap().String()
		}
	}
	return peer
}

// RateLimitMiddleware answers 429 once the client named by key runs out of
// attempts.
func RateLimitMiddleware(l *AttemptLimiter, key func(*http.Request) string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !l.Allow(key(r)) {
				w.Header().Set("Retry-After", "60")
				http.Error(w, "Too many attempts", http.StatusTooManyRequests)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
