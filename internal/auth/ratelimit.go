package auth

import (
	"net/http"
	"strings"
	"sync"
	"time"
)

// Login throttling: an IP that fails this many times inside the window is
// locked out until the window rolls over.
const (
	DefaultMaxFailedAttempts = 5
	DefaultRateLimitWindow   = 15 * time.Minute
	DefaultCleanupInterval   = 5 * time.Minute
)

// RateLimiterConfig holds rate limiter configuration.
type RateLimiterConfig struct {
	MaxFailedAttempts int
	Window            time.Duration
	CleanupInterval   time.Duration
}

// DefaultRateLimiterConfig returns the default rate limiter configuration.
func DefaultRateLimiterConfig() RateLimiterConfig {
	return RateLimiterConfig{
		MaxFailedAttempts: DefaultMaxFailedAttempts,
		Window:            DefaultRateLimitWindow,
		CleanupInterval:   DefaultCleanupInterval,
	}
}

type failureRecord struct {
	count       int
	windowStart time.Time
}

// RateLimiter counts failed login attempts per client IP inside a rolling
// window.
type RateLimiter struct {
	mu       sync.RWMutex
	failures map[string]*failureRecord
	config   RateLimiterConfig
	stopCh   chan struct{}
	stopOnce sync.Once
}

// NewRateLimiter creates a RateLimiter and starts its background sweep of
// expired entries. Call Stop on shutdown.
func NewRateLimiter(config RateLimiterConfig) *RateLimiter {
	rl := &RateLimiter{
		failures: make(map[string]*failureRecord),
		config:   config,
		stopCh:   make(chan struct{}),
	}

	go rl.sweep()

	return rl
}

func (rl *RateLimiter) sweep() {
	ticker := time.NewTicker(rl.config.CleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-rl.stopCh:
			return
		case <-ticker.C:
			rl.removeExpired()
		}
	}
}

func (rl *RateLimiter) removeExpired() {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := time.Now()
	for ip, record := range rl.failures {
		if now.Sub(record.windowStart) > rl.config.Window {
			delete(rl.failures, ip)
		}
	}
}

// Stop ends the background sweep.
func (rl *RateLimiter) Stop() {
	rl.stopOnce.Do(func() {
		close(rl.stopCh)
	})
}

// IsLimited reports whether the IP has exhausted its failed attempts for
// the current window.
func (rl *RateLimiter) IsLimited(ip string) bool {
	rl.mu.RLock()
	defer rl.mu.RUnlock()

	record, exists := rl.failures[ip]
	if !exists {
		return false
	}
	if time.Since(record.windowStart) > rl.config.Window {
		return false
	}

	return record.count >= rl.config.MaxFailedAttempts
}

// RecordFailure counts one failed login for the IP, opening a fresh window
// if the previous one has expired.
func (rl *RateLimiter) RecordFailure(ip string) {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	record, exists := rl.failures[ip]
	if !exists || time.Since(record.windowStart) > rl.config.Window {
		rl.failures[ip] = &failureRecord{
			count:       1,
			windowStart: time.Now(),
		}
		return
	}

	record.count++
}

// Reset clears the failure count for the IP after a successful login.
func (rl *RateLimiter) Reset(ip string) {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	delete(rl.failures, ip)
}

// GetClientIP extracts the client IP, preferring the proxy-set
// X-Forwarded-For and X-Real-IP headers over the socket address.
func GetClientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		if idx := strings.Index(xff, ","); idx != -1 {
			return strings.TrimSpace(xff[:idx])
		}
		return strings.TrimSpace(xff)
	}

	if xri := r.Header.Get("X-Real-IP"); xri != "" {
		return strings.TrimSpace(xri)
	}

	addr := r.RemoteAddr
	if idx := strings.LastIndex(addr, ":"); idx != -1 {
		return addr[:idx]
	}
	return addr
}
