// Package ratelimit throttles failed logins per key, the way a CAS server blocks a
// username and client address after repeated authentication failures.
package ratelimit

import (
	"net"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Config defines the throttling configuration.
type Config struct {
	FailuresPerSecond float64       // Refill rate of the failure allowance
	Burst             int           // Failures allowed before the key is blocked
	IdleTimeout       time.Duration // Entries unused this long are dropped
}

// DefaultConfig allows three failures, then one more every ten seconds.
var DefaultConfig = Config{
	FailuresPerSecond: 0.1,
	Burst:             3,
	IdleTimeout:       time.Hour,
}

type entry struct {
	limiter  *rate.Limiter
	lastUsed time.Time
}

// Throttle tracks failed logins per key.
type Throttle struct {
	mu          sync.Mutex
	limiters    map[string]*entry
	config      Config
	lastCleanup time.Time

	// now is replaced in tests.
	now func() time.Time
}

// New creates a throttle. A non-positive Burst disables blocking.
func New(config Config) *Throttle {
	return &Throttle{
		limiters: make(map[string]*entry),
		config:   config,
		now:      time.Now,
	}
}

// Key combines the username and the client address of r.RemoteAddr form.
func Key(username, remoteAddr string) string {
	host, _, err := net.SplitHostPort(remoteAddr)
	if err != nil {
		host = remoteAddr
	}
	return strings.ToLower(strings.TrimSpace(username)) + "|" + host
}

// Blocked reports whether key has used up its failure allowance. It does not
// consume anything.
func (t *Throttle) Blocked(key string) bool {
	if t.config.Burst <= 0 {
		return false
	}
	t.mu.Lock()
	defer t.mu.Unlock()

	e, ok := t.limiters[key]
	if !ok {
		return false
	}
	return e.limiter.TokensAt(t.now()) < 1
}

// RecordFailure counts one failed login for key and reports whether the key is
// now blocked.
func (t *Throttle) RecordFailure(key string) bool {
	if t.config.Burst <= 0 {
		return false
	}
	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.now()
	t.cleanupLocked(now)

	e, ok := t.limiters[key]
	if !ok {
		e = &entry{limiter: rate.NewLimiter(rate.Limit(t.config.FailuresPerSecond), t.config.Burst)}
		t.limiters[key] = e
	}
	e.lastUsed = now
	e.limiter.AllowN(now, 1)
	return e.limiter.TokensAt(now) < 1
}

// Reset forgets the failures of key, after a successful login.
func (t *Throttle) Reset(key string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.limiters, key)
}

// Cleanup removes entries idle for longer than IdleTimeout.
func (t *Throttle) Cleanup() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.lastCleanup = time.Time{}
	t.cleanupLocked(t.now())
}

func (t *Throttle) cleanupLocked(now time.Time) {
	if t.config.IdleTimeout <= 0 || now.Sub(t.lastCleanup) < t.config.IdleTimeout {
		return
	}
	t.lastCleanup = now

	cutoff := now.Add(-t.config.IdleTimeout)
	for key, e := range t.limiters {
		if e.lastUsed.Before(cutoff) {
			delete(t.limiters, key)
		}
	}
}

// Len returns the number of tracked keys.
func (t *Throttle) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.limiters)
}
