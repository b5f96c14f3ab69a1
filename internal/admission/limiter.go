package admission

import (
	"context"
	"time"
)

const (
	// DefaultWindow is the default length of a rate limit window.
	DefaultWindow = 15 * time.Minute
	// DefaultLimit is the default number of requests admitted per window.
	DefaultLimit = 5
)

// Limiter gates requests per client identity with a fixed window counter.
type Limiter struct {
	store  Store
	window time.Duration
	limit  int
	now    func() time.Time
}

// NewLimiter returns a Limiter over store. Non-positive window or limit use
// DefaultWindow and DefaultLimit.
func NewLimiter(store Store, window time.Duration, limit int) *Limiter {
	if window <= 0 {
		window = DefaultWindow
	}
	if limit <= 0 {
		limit = DefaultLimit
	}
	return &Limiter{store: store, window: window, limit: limit, now: time.Now}
}

// Window returns the configured window length.
func (l *Limiter) Window() time.Duration { return l.window }

// Limit returns the configured maximum per window.
func (l *Limiter) Limit() int { return l.limit }

// Admit records one request for identity, or rejects it if the identity has
// used up its window. A store error is returned as is; the caller decides
// whether to fail open.
func (l *Limiter) Admit(ctx context.Context, identity string) (Decision, error) {
	now := l.now()
	w, ok, err := l.store.Take(ctx, identity, now, l.window, l.limit)
	if err != nil {
		return Decision{}, err
	}

	d := Decision{Allowed: ok, Count: w.Count, Limit: l.limit}
	if !ok {
		d.RetryAfter = w.Start.Add(l.window).Sub(now)
		if d.RetryAfter < time.Second {
			d.RetryAfter = time.Second
		}
	}
	return d, nil
}

// Tracked returns the number of identities held by an in-memory store, or
// -1 when the store cannot tell.
func (l *Limiter) Tracked() int {
	if s, ok := l.store.(*InMemoryStore); ok {
		return s.Len()
	}
	return -1
}

// Run sweeps expired windows every interval until ctx is done. It is a no-op
// for stores that expire keys themselves.
func (l *Limiter) Run(ctx context.Context, interval time.Duration) {
	s, ok := l.store.(*InMemoryStore)
	if !ok {
		return
	}
	if interval <= 0 {
		interval = time.Minute
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.Sweep(l.now(), l.window)
		case <-ctx.Done():
			return
		}
	}
}
