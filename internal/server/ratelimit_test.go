package server

import (
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func TestConnectionRateLimiterAllowsWithinBurst(t *testing.T) {
	crl := NewConnectionRateLimiter(RateLimitConfig{
		IPBurst: 3, IPRate: 0.001, IPTTL: time.Minute,
		GlobalBurst: 100, GlobalRate: 100,
	}, zerolog.Nop())
	defer crl.Stop()

	for i := 0; i < 3; i++ {
		if !crl.Allow("10.0.0.1") {
			t.Fatalf("expected attempt %d within burst to be allowed", i)
		}
	}
	if crl.Allow("10.0.0.1") {
		t.Fatal("expected attempt beyond burst to be rejected")
	}
}

func TestConnectionRateLimiterTracksPerAddrIndependently(t *testing.T) {
	crl := NewConnectionRateLimiter(RateLimitConfig{
		IPBurst: 1, IPRate: 0.001, IPTTL: time.Minute,
		GlobalBurst: 100, GlobalRate: 100,
	}, zerolog.Nop())
	defer crl.Stop()

	if !crl.Allow("10.0.0.1") {
		t.Fatal("first connection from addr 1 should be allowed")
	}
	if !crl.Allow("10.0.0.2") {
		t.Fatal("first connection from a different addr should be allowed independently")
	}
	if crl.TrackedAddrs() != 2 {
		t.Fatalf("expected 2 tracked addrs, got %d", crl.TrackedAddrs())
	}
}

func TestConnectionRateLimiterGlobalCapBindsAcrossAddrs(t *testing.T) {
	crl := NewConnectionRateLimiter(RateLimitConfig{
		IPBurst: 100, IPRate: 100, IPTTL: time.Minute,
		GlobalBurst: 2, GlobalRate: 0.001,
	}, zerolog.Nop())
	defer crl.Stop()

	if !crl.Allow("10.0.0.1") || !crl.Allow("10.0.0.2") {
		t.Fatal("expected first two connections to be allowed under the global burst")
	}
	if crl.Allow("10.0.0.3") {
		t.Fatal("expected third connection to be rejected by the global limiter")
	}
}
