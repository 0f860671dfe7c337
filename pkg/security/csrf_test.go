package security

import (
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTokenManager_GenerateAndValidate(t *testing.T) {
	m := NewTokenManager(time.Minute)
	now := time.Date(2026, 9, 7, 12, 0, 0, 0, time.UTC)
	m.now = func() time.Time { return now }

	tok, err := m.GenerateToken("s1")
	require.NoError(t, err)
	assert.NotEmpty(t, tok)

	assert.True(t, m.ValidateToken("s1", tok))
	assert.False(t, m.ValidateToken("s1", tok+"x"))
	assert.False(t, m.ValidateToken("s2", tok))

	now = now.Add(2 * time.Minute)
	assert.False(t, m.ValidateToken("s1", tok), "expired")

	tok, err = m.GenerateToken("s1")
	require.NoError(t, err)
	m.InvalidateToken("s1")
	assert.False(t, m.ValidateToken("s1", tok))
}

func TestTokenManager_ConcurrentUse(t *testing.T) {
	m := NewCSRFTokenManager()
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			key := string(rune('a' + i))
			tok, err := m.GenerateToken(key)
			assert.NoError(t, err)
			assert.True(t, m.ValidateToken(key, tok))
		}(i)
	}
	wg.Wait()
}

func TestCSRFMiddleware(t *testing.T) {
	m := NewCSRFTokenManager()
	handler := CSRFMiddleware(m)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodGet, "/q/abc", nil)
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code, "safe methods pass")

	req = httptest.NewRequest(http.MethodPost, "/q/abc/pin", strings.NewReader("pin=1234"))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	w = httptest.NewRecorder()
	handler.ServeHTTP(w, req)
	assert.Equal(t, http.StatusForbidden, w.Code)

	tok, err := m.GenerateToken("session-1")
	require.NoError(t, err)
	form := url.Values{"pin": {"1234"}, "csrf_token": {tok}}
	req = httptest.NewRequest(http.MethodPost, "/q/abc/pin", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.AddCookie(&http.Cookie{Name: SessionCookieName, Value: "session-1"})
	w = httptest.NewRecorder()
	handler.ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestGetOrCreateSessionID(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	w := httptest.NewRecorder()
	id := GetOrCreateSessionID(w, req)
	assert.NotEmpty(t, id)
	assert.Contains(t, w.Header().Get("Set-Cookie"), SessionCookieName+"="+id)
	assert.Equal(t, id, GetOrCreateSessionID(httptest.NewRecorder(), req), "stable within the request")
}
