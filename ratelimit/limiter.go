package ratelimit

import (
	"math"
	"sync"
	"time"
)

const (
	DefaultWindow      = 1 * time.Minute
	DefaultMaxAttempts = 60
)

// sweepThreshold is the number of tracked keys above which a full sweep of
// stale windows runs on the next check.
const sweepThreshold = 4096

// Decision is the outcome of a single check-and-record
type Decision struct {
	Allowed    bool
	Remaining  int
	RetryAfter time.Duration
}

// RetryAfterSeconds returns the Retry-After hint rounded up to whole seconds,
// never less than 1 for a rejection.
func (d Decision) RetryAfterSeconds() int {
	if d.Allowed || d.RetryAfter <= 0 {
		return 0
	}
	secs := int(math.Ceil(d.RetryAfter.Seconds()))
	if secs < 1 {
		secs = 1
	}
	return secs
}

// Config configures a Limiter
type Config struct {
	// Window is the sliding window length. Defaults to 1 minute.
	Window time.Duration

	// MaxAttempts is the number of requests allowed inside one window.
	// Defaults to 60.
	MaxAttempts int

	// Clock overrides time.Now, for tests
	Clock func() time.Time
}

// Limiter tracks request timestamps per identifier inside a sliding window.
// Counting events in a moving interval means bursts aligned to window
// boundaries are not permitted, unlike a fixed-bucket counter.
//
// Different identifiers never contend on the same lock; the same identifier
// serializes its check-and-append so that two concurrent requests cannot
// both observe count = max-1 and both pass.
type Limiter struct {
	window time.Duration
	max    int
	now    func() time.Time

	mu   sync.Mutex
	keys map[string]*window
}

type window struct {
	mu     sync.Mutex
	stamps []time.Time
}

// NewLimiter builds a Limiter from the given config
func NewLimiter(cfg Config) *Limiter {
	if cfg.Window <= 0 {
		cfg.Window = DefaultWindow
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = DefaultMaxAttempts
	}
	if cfg.Clock == nil {
		cfg.Clock = time.Now
	}

	return &Limiter{
		window: cfg.Window,
		max:    cfg.MaxAttempts,
		now:    cfg.Clock,
		keys:   make(map[string]*window),
	}
}

// CheckAndRecord decides whether one more request from the identifier fits
// in the current window, and records it if so. A consumed attempt is never
// rolled back, even if the caller later disconnects.
func (l *Limiter) CheckAndRecord(identifier string) Decision {
	now := l.now()

	l.mu.Lock()
	w, ok := l.keys[identifier]
	if !ok {
		w = &window{}
		l.keys[identifier] = w
	}
	if len(l.keys) > sweepThreshold {
		l.sweepLocked(now)
	}
	l.mu.Unlock()

	w.mu.Lock()
	defer w.mu.Unlock()

	// Drop timestamps that slid out of the window
	cutoff := now.Add(-l.window)
	i := 0
	for i < len(w.stamps) && !w.stamps[i].After(cutoff) {
		i++
	}
	if i > 0 {
		w.stamps = append(w.stamps[:0], w.stamps[i:]...)
	}

	if len(w.stamps) >= l.max {
		// The oldest recorded attempt leaving the window frees a slot
		return Decision{
			Allowed:    false,
			Remaining:  0,
			RetryAfter: w.stamps[0].Add(l.window).Sub(now),
		}
	}

	w.stamps = append(w.stamps, now)
	return Decision{
		Allowed:   true,
		Remaining: l.max - len(w.stamps),
	}
}

// Len returns the number of identifiers currently tracked
func (l *Limiter) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.keys)
}

// sweepLocked drops identifiers whose newest timestamp is already outside
// the window. Caller holds l.mu.
func (l *Limiter) sweepLocked(now time.Time) {
	cutoff := now.Add(-l.window)
	for key, w := range l.keys {
		if !w.mu.TryLock() {
			continue
		}
		// Windows with no stamps yet belong to an in-flight check; leave them
		if len(w.stamps) > 0 && w.stamps[len(w.stamps)-1].Before(cutoff) {
			delete(l.keys, key)
		}
		w.mu.Unlock()
	}
}
