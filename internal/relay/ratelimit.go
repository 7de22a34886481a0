package relay

import (
	"net"
	"net/http"
	"sync"
	"time"
)

// FixedWindow limits each key to limit hits per window. A key's window
// starts at its first hit and resets once it has passed.
type FixedWindow struct {
	limit  int
	window time.Duration
	now    func() time.Time

	mu   sync.Mutex
	hits map[string]*windowEntry
}

type windowEntry struct {
	count   int
	expires time.Time
}

// pruneThreshold is the map size above which expired entries are swept.
const pruneThreshold = 4096

// NewFixedWindow returns a limiter. now defaults to time.Now.
func NewFixedWindow(limit int, window time.Duration, now func() time.Time) *FixedWindow {
	if now == nil {
		now = time.Now
	}
	return &FixedWindow{
		limit:  limit,
		window: window,
		now:    now,
		hits:   make(map[string]*windowEntry),
	}
}

// Allow records a hit for key and reports whether it is within the limit.
func (l *FixedWindow) Allow(key string) bool {
	now := l.now()

	l.mu.Lock()
	defer l.mu.Unlock()

	if len(l.hits) > pruneThreshold {
		for k, e := range l.hits {
			if now.After(e.expires) {
				delete(l.hits, k)
			}
		}
	}

	e, ok := l.hits[key]
	if !ok || now.After(e.expires) {
		e = &windowEntry{expires: now.Add(l.window)}
		l.hits[key] = e
	}
	e.count++
	return e.count <= l.limit
}

// Middleware rejects requests over the limit with 429.
func (l *FixedWindow) Middleware(onLimited func(r *http.Request)) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !l.Allow(clientIP(r)) {
				if onLimited != nil {
					onLimited(r)
				}
				writeJSON(w, http.StatusTooManyRequests, map[string]string{"error": "Too many requests"})
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// clientIP returns the host part of RemoteAddr, which chi's RealIP
// middleware has already rewritten from forwarding headers.
func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
