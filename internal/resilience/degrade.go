package resilience

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"
)

// ErrDegradationExhausted is returned when primary, cache, and fallback
// all fail for a service.
var ErrDegradationExhausted = errors.New("Primary and fallback both failed")

// FallbackFunc produces a degraded replacement value for a service.
type FallbackFunc func(ctx context.Context) (any, error)

type fallbackEntry struct {
	fn  FallbackFunc
	ttl time.Duration
}

type cacheEntry struct {
	value   any
	expires time.Time
}

// Degradation provides a per-service recovery chain: primary -> TTL cache
// of the last good value -> registered fallback.
type Degradation struct {
	mu         sync.Mutex
	fallbacks  map[string]fallbackEntry
	cache      map[string]cacheEntry
	degraded   map[string]bool
	defaultTTL time.Duration
}

func NewDegradation() *Degradation {
	return &Degradation{
		fallbacks:  make(map[string]fallbackEntry),
		cache:      make(map[string]cacheEntry),
		degraded:   make(map[string]bool),
		defaultTTL: 5 * time.Minute,
	}
}

// RegisterFallback installs a fallback for the named service. ttl bounds
// how long a cached primary result may substitute for a fresh one; zero
// uses the default.
func (d *Degradation) RegisterFallback(name string, fn FallbackFunc, ttl time.Duration) {
	if ttl <= 0 {
		ttl = d.defaultTTL
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.fallbacks[name] = fallbackEntry{fn: fn, ttl: ttl}
}

// Execute tries the primary; on failure serves the cached value if fresh,
// then the fallback. A primary success repopulates the cache and clears
// the degraded flag; serving cache or fallback sets it.
func (d *Degradation) Execute(ctx context.Context, name string, primary func(ctx context.Context) (any, error)) (any, error) {
	value, primaryErr := primary(ctx)
	if primaryErr == nil {
		d.mu.Lock()
		ttl := d.defaultTTL
		if fb, ok := d.fallbacks[name]; ok {
			ttl = fb.ttl
		}
		d.cache[name] = cacheEntry{value: value, expires: time.Now().Add(ttl)}
		d.degraded[name] = false
		d.mu.Unlock()
		return value, nil
	}

	d.mu.Lock()
	entry, cached := d.cache[name]
	fb, hasFallback := d.fallbacks[name]
	d.mu.Unlock()

	if cached && time.Now().Before(entry.expires) {
		d.setDegraded(name)
		return entry.value, nil
	}

	if hasFallback {
		value, err := fb.fn(ctx)
		if err == nil {
			d.setDegraded(name)
			return value, nil
		}
		return nil, fmt.Errorf("%w: %s: primary: %v, fallback: %v", ErrDegradationExhausted, name, primaryErr, err)
	}

	return nil, fmt.Errorf("%w: %s: %v", ErrDegradationExhausted, name, primaryErr)
}

func (d *Degradation) setDegraded(name string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.degraded[name] = true
}

// HasFallback reports whether a fallback is registered for the named
// service.
func (d *Degradation) HasFallback(name string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	_, ok := d.fallbacks[name]
	return ok
}

// Degraded reports whether the named service last served a non-primary
// value.
func (d *Degradation) Degraded(name string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.degraded[name]
}
