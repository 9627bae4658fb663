package security

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"
)


const (
	defaultWindow      = 60 * time.Second
	defaultMaxRequests = 60
)

// RateLimitConfig holds configurable rate limits.
type RateLimitConfig struct {
	// Window is the width of one counting window.
	Window time.Duration `yaml:"window"`

	// MaxRequests is the ceiling of requests per identity per window.
	MaxRequests int `yaml:"max_requests"`
}

// WithDefaults returns a copy of c with zero values replaced by defaults.
func (c RateLimitConfig) WithDefaults() RateLimitConfig {
	if c.Window <= 0 {
		c.Window = defaultWindow
	}
	if c.MaxRequests <= 0 {
		c.MaxRequests = defaultMaxRequests
	}
	return c
}

// Validate rejects negative limits. Zero values are filled by WithDefaults.
func (c RateLimitConfig) Validate() error {
	var errs []error
	if c.Window < 0 {
		errs = append(errs, fmt.Errorf("ratelimit: window must be non-negative, got %s", c.Window))
	}
	if c.MaxRequests < 0 {
		errs = append(errs, fmt.Errorf("ratelimit: max_requests must be non-negative, got %d", c.MaxRequests))
	}
	return errors.Join(errs...)
}

// Decision is the outcome of one Allow call.
type Decision struct {
	Allowed bool

	// RetryAfter is set on denials and equals the window width.
	RetryAfter time.Duration
}

// RateLimiter implements a fixed-window counter per caller identity.
// All methods are safe for concurrent use.
type RateLimiter struct {
	mu      sync.Mutex
	windows map[string]*window
	config  RateLimitConfig
	now     func() time.Time
}

type window struct {
	start time.Time
	count int
}

// NewRateLimiter creates a rate limiter with the given config.
// Zero-value fields in cfg are replaced with defaults.
func NewRateLimiter(cfg RateLimitConfig) *RateLimiter {
	return &RateLimiter{
		config:  cfg.WithDefaults(),
		windows: make(map[string]*window),
		now:     time.Now,
	}
}

// Allow records one request for identity and reports whether it is
// within the limit. The first request of a window resets the count to 1.
func (rl *RateLimiter) Allow(identity string) Decision {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	w, ok := rl.windows[identity]
	if !ok || now.Sub(w.start) >= rl.config.Window {
		rl.windows[identity] = &window{start: now, count: 1}
		return Decision{Allowed: true}
	}

	if w.count < rl.config.MaxRequests {
		w.count++
		return Decision{Allowed: true}
	}

	return Decision{RetryAfter: rl.config.Window}
}

// Sweep evicts windows that started at least one window width before now
// and returns how many were removed.
func (rl *RateLimiter) Sweep(now time.Time) int {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	n := 0
	for id, w := range rl.windows {
		if now.Sub(w.start) >= rl.config.Window {
			delete(rl.windows, id)
			n++
		}
	}
	return n
}

// Len returns the number of tracked identities.
func (rl *RateLimiter) Len() int {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	return len(rl.windows)
}

// Config returns the active limits.
func (rl *RateLimiter) Config() RateLimitConfig {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	return rl.config
}

// SetConfig replaces the limits. Existing windows keep their start time
// and count and are judged against the new limits from the next request.
func (rl *RateLimiter) SetConfig(cfg RateLimitConfig) {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	rl.config = cfg.WithDefaults()
}

// RunSweeper evicts expired windows every window width until ctx is done.
func (rl *RateLimiter) RunSweeper(ctx context.Context) {
	ticker := time.NewTicker(rl.Config().Window)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			rl.Sweep(rl.now())
			ticker.Reset(rl.Config().Window)
		}
	}
}
