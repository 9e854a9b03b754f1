package ratelimit

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestAllow_PerCallerBurst(t *testing.T) {
	l := New(1, 2)
	fixed := time.Now()
	l.now = func() time.Time { return fixed }

	assert.True(t, l.Allow("a"))
	assert.True(t, l.Allow("a"))
	assert.False(t, l.Allow("a"))
	// Other callers have their own bucket.
	assert.True(t, l.Allow("b"))

	fixed = fixed.Add(time.Second)
	assert.True(t, l.Allow("a"))
}

func TestAllow_Unlimited(t *testing.T) {
	l := New(0, 0)
	for i := 0; i < 1000; i++ {
		assert.True(t, l.Allow("a"))
	}
}

func TestAllow_SweepsIdleBuckets(t *testing.T) {
	l := New(1, 1)
	fixed := time.Now()
	l.now = func() time.Time { return fixed }

	l.Allow("a")
	l.Allow("b")
	assert.Equal(t, 2, l.Len())

	fixed = fixed.Add(2 * idleTTL)
	l.Allow("c")
	assert.Equal(t, 1, l.Len())
}

func TestKey(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/", nil)
	r.RemoteAddr = "10.0.0.1:5555"
	assert.Equal(t, "ip:10.0.0.1", Key(r))

	r.Header.Set("X-User-ID", "u1")
	assert.Equal(t, "user:u1", Key(r))
}

func TestMiddleware(t *testing.T) {
	l := New(1, 1)
	h := l.Middleware(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))

	req := func() int {
		w := httptest.NewRecorder()
		r := httptest.NewRequest(http.MethodGet, "/", nil)
		r.Header.Set("X-User-ID", "u1")
		h.ServeHTTP(w, r)
		return w.Code
	}
	assert.Equal(t, http.StatusNoContent, req())
	assert.Equal(t, http.StatusTooManyRequests, req())
}
