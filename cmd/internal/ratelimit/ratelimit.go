// Package ratelimit provides a keyed sliding-window limiter and its HTTP middleware.
package ratelimit

import (
	"math"
	"net/http"
	"strconv"
	"sync"
	"time"
)

// Limiter admits at most Limit events per key inside any Window-long interval.
// Each key keeps the timestamps of its admitted events; keys with no event
// inside the window are evicted.
type Limiter struct {
	mu     sync.Mutex
	keys   map[string][]time.Time
	limit  int
	window time.Duration

	lastSweep time.Time
}

// New returns a Limiter. A non-positive limit or window disables limiting.
func New(limit int, window time.Duration) *Limiter {
	return &Limiter{
		keys:   make(map[string][]time.Time),
		limit:  limit,
		window: window,
	}
}

// Enabled reports whether the limiter can ever deny.
func (l *Limiter) Enabled() bool { return l != nil && l.limit > 0 && l.window > 0 }

// Allow is AllowAt(key, time.Now()).
func (l *Limiter) Allow(key string) (bool, time.Duration) {
	return l.AllowAt(key, time.Now())
}

// AllowAt records an event for key at now if fewer than Limit events were
// admitted in (now-Window, now]. When denied it returns the delay until the
// oldest admitted event leaves the window. Denied events are not recorded.
func (l *Limiter) AllowAt(key string, now time.Time) (bool, time.Duration) {
	if !l.Enabled() {
		return true, 0
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	l.sweep(now)

	events := prune(l.keys[key], now.Add(-l.window))
	if len(events) >= l.limit {
		l.keys[key] = events
		return false, events[0].Add(l.window).Sub(now)
	}
	l.keys[key] = append(events, now)
	return true, 0
}

// prune drops events at or before cut, reusing the backing array.
func prune(events []time.Time, cut time.Time) []time.Time {
	i := 0
	for i < len(events) && !events[i].After(cut) {
		i++
	}
	if i == 0 {
		return events
	}
	return append(events[:0], events[i:]...)
}

// Len reports the number of tracked keys.
func (l *Limiter) Len() int {
	if l == nil {
		return 0
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.keys)
}

// sweep drops idle keys at most once per window. Caller holds mu.
func (l *Limiter) sweep(now time.Time) {
	if now.Sub(l.lastSweep) < l.window {
		return
	}
	l.lastSweep = now
	cut := now.Add(-l.window)
	for k, events := range l.keys {
		if len(events) == 0 || !events[len(events)-1].After(cut) {
			delete(l.keys, k)
		}
	}
}

// KeyFunc derives the limiter key for a request. An empty key is not limited.
type KeyFunc func(r *http.Request) string

// DeniedFunc writes the response for a limited request.
type DeniedFunc func(w http.ResponseWriter, r *http.Request, retryAfter time.Duration)

// Middleware limits requests by key. The Retry-After header is always set on
// denial; onDenied writes the body.
func Middleware(l *Limiter, key KeyFunc, onDenied DeniedFunc) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if !l.Enabled() {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			k := key(r)
			if k == "" {
				next.ServeHTTP(w, r)
				return
			}
			ok, retry := l.Allow(k)
			if ok {
				next.ServeHTTP(w, r)
				return
			}
			w.Header().Set("Retry-After", RetryAfterSeconds(retry))
			if onDenied != nil {
				onDenied(w, r, retry)
				return
			}
			http.Error(w, http.StatusText(http.StatusTooManyRequests), http.StatusTooManyRequests)
		})
	}
}

// RetryAfterSeconds formats d as whole seconds, rounding up, minimum 1.
func RetryAfterSeconds(d time.Duration) string {
	s := int64(math.Ceil(d.Seconds()))
	if s < 1 {
		s = 1
	}
	return strconv.FormatInt(s, 10)
}
