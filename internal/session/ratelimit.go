package session

import "time"

const rateWindow = time.Minute

type window struct {
	count   int
	resetAt time.Time
}

// rateLimiter is a fixed-window counter per user. The window resets wholesale
// once its reset time has passed. Only the actor touches it.
type rateLimiter struct {
	limit   int
	windows map[string]*window
}

func newRateLimiter(limit int) *rateLimiter {
	if limit <= 0 {
		limit = 60
	}
	return &rateLimiter{limit: limit, windows: make(map[string]*window)}
}

// allow counts one message for userID and reports whether it fits the window.
func (l *rateLimiter) allow(userID string, now time.Time) bool {
	w, ok := l.windows[userID]
	if !ok || now.After(w.resetAt) {
		l.windows[userID] = &window{count: 1, resetAt: now.Add(rateWindow)}
		return true
	}
	if w.count >= l.limit {
		return false
	}
	w.count++
	return true
}

// limited reports whether userID has exhausted its current window.
func (l *rateLimiter) limited(userID string, now time.Time) bool {
	w, ok := l.windows[userID]
	return ok && !now.After(w.resetAt) && w.count >= l.limit
}

func (l *rateLimiter) reset(userID string) {
	delete(l.windows, userID)
}

// cleanup drops expired windows and returns how many were removed.
func (l *rateLimiter) cleanup(now time.Time) int {
	removed := 0
	for userID, w := range l.windows {
		if now.After(w.resetAt) {
			delete(l.windows, userID)
			removed++
		}
	}
	return removed
}

func (l *rateLimiter) limitedUsers(now time.Time) int {
	n := 0
	for _, w := range l.windows {
		if !now.After(w.resetAt) && w.count >= l.limit {
			n++
		}
	}
	return n
}

func (l *rateLimiter) clear() { clear(l.windows) }

func (l *rateLimiter) retryAfter(userID string, now time.Time) time.Duration {
	w, ok := l.windows[userID]
	if !ok || now.After(w.resetAt) {
		return 0
	}
	return w.resetAt.Sub(now)
}
