package server

import (
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

// ConnectionRateLimiter protects a match id's writer slot from a single
// remote address opening many writer connections in a burst, adapted from
// the teacher's two-level (per-IP + global) connection rate limiter.
type ConnectionRateLimiter struct {
	ipLimiters map[string]*ipLimiterEntry
	ipMu       sync.Mutex
	ipBurst    int
	ipRate     float64
	ipTTL      time.Duration

	globalLimiter *rate.Limiter

	logger zerolog.Logger

	stopCleanup chan struct{}
	cleanupOnce sync.Once
}

type ipLimiterEntry struct {
	limiter    *rate.Limiter
	lastAccess time.Time
}

// RateLimitConfig configures both rate-limiting tiers.
type RateLimitConfig struct {
	IPBurst     int
	IPRate      float64
	IPTTL       time.Duration
	GlobalBurst int
	GlobalRate  float64
}

// DefaultRateLimitConfig mirrors the teacher's defaults.
func DefaultRateLimitConfig() RateLimitConfig {
	return RateLimitConfig{
		IPBurst:     10,
		IPRate:      1.0,
		IPTTL:       5 * time.Minute,
		GlobalBurst: 300,
		GlobalRate:  50.0,
	}
}

// NewConnectionRateLimiter builds a limiter and starts its stale-entry
// cleanup loop.
func NewConnectionRateLimiter(cfg RateLimitConfig, logger zerolog.Logger) *ConnectionRateLimiter {
	crl := &ConnectionRateLimiter{
		ipLimiters:    make(map[string]*ipLimiterEntry),
		ipBurst:       cfg.IPBurst,
		ipRate:        cfg.IPRate,
		ipTTL:         cfg.IPTTL,
		globalLimiter: rate.NewLimiter(rate.Limit(cfg.GlobalRate), cfg.GlobalBurst),
		logger:        logger.With().Str("component", "connection_rate_limiter").Logger(),
		stopCleanup:   make(chan struct{}),
	}
	go crl.cleanupLoop()
	return crl
}

// Allow reports whether a new connection attempt from addr should proceed,
// checking the global bucket before the per-IP bucket (cheap rejection path
// first).
func (crl *ConnectionRateLimiter) Allow(addr string) bool {
	if !crl.globalLimiter.Allow() {
		crl.logger.Debug().Str("addr", addr).Msg("connection rejected: global rate limit exceeded")
		return false
	}
	if !crl.ipLimiterFor(addr).Allow() {
		crl.logger.Debug().Str("addr", addr).Msg("connection rejected: per-address rate limit exceeded")
		return false
	}
	return true
}

func (crl *ConnectionRateLimiter) ipLimiterFor(addr string) *rate.Limiter {
	crl.ipMu.Lock()
	defer crl.ipMu.Unlock()

	entry, ok := crl.ipLimiters[addr]
	if ok {
		entry.lastAccess = time.Now()
		return entry.limiter
	}

	entry = &ipLimiterEntry{
		limiter:    rate.NewLimiter(rate.Limit(crl.ipRate), crl.ipBurst),
		lastAccess: time.Now(),
	}
	crl.ipLimiters[addr] = entry
	return entry.limiter
}

func (crl *ConnectionRateLimiter) cleanupLoop() {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			crl.cleanup()
		case <-crl.stopCleanup:
			return
		}
	}
}

func (crl *ConnectionRateLimiter) cleanup() {
	crl.ipMu.Lock()
	defer crl.ipMu.Unlock()
	now := time.Now()
	for addr, entry := range crl.ipLimiters {
		if now.Sub(entry.lastAccess) > crl.ipTTL {
			delete(crl.ipLimiters, addr)
		}
	}
}

// Stop ends the cleanup loop. Safe to call more than once.
func (crl *ConnectionRateLimiter) Stop() {
	crl.cleanupOnce.Do(func() { close(crl.stopCleanup) })
}

// TrackedAddrs reports how many distinct addresses currently have a
// rate-limiter entry, used by tests and diagnostics.
func (crl *ConnectionRateLimiter) TrackedAddrs() int {
	crl.ipMu.Lock()
	defer crl.ipMu.Unlock()
	return len(crl.ipLimiters)
}
