package ratelimit

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/JakeFAU/marketplace-insignia/internal/insights"
	"github.com/JakeFAU/marketplace-insignia/internal/metrics"
)

func TestMain(m *testing.M) {
	metrics.Init()
	os.Exit(m.Run())
}

func TestLimiter_Wait(t *testing.T) {
	// 10 calls per second is one token every 100ms.
	l := New(Config{
		RatePerSecond: 10,
		Burst:         1,
	})
	ctx := context.Background()

	start := time.Now()
	if err := l.Wait(ctx, insights.PlatformShopee); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if time.Since(start) > 10*time.Millisecond {
		t.Logf("warning: first wait took %v", time.Since(start))
	}

	start = time.Now()
	if err := l.Wait(ctx, insights.PlatformShopee); err != nil {
		t.Fatal(err)
	}
	if dur := time.Since(start); dur < 80*time.Millisecond {
		t.Errorf("expected wait ~100ms, got %v", dur)
	}
}

func TestLimiter_DifferentPlatforms(t *testing.T) {
	l := New(Config{
		RatePerSecond: 1,
		Burst:         1,
	})
	ctx := context.Background()

	if err := l.Wait(ctx, insights.PlatformShopee); err != nil {
		t.Fatal(err)
	}

	// Tokopedia has its own bucket.
	start := time.Now()
	if err := l.Wait(ctx, insights.PlatformTokopedia); err != nil {
		t.Fatal(err)
	}
	if time.Since(start) > 10*time.Millisecond {
		t.Errorf("tokopedia blocked unexpectedly")
	}
}

func TestLimiter_Unlimited(t *testing.T) {
	l := New(Config{})
	ctx := context.Background()

	start := time.Now()
	for i := 0; i < 50; i++ {
		if err := l.Wait(ctx, insights.PlatformTikTokShop); err != nil {
			t.Fatal(err)
		}
	}
	if time.Since(start) > 50*time.Millisecond {
		t.Errorf("unlimited limiter delayed calls: %v", time.Since(start))
	}
}

func TestLimiter_DeadlineBeforeToken(t *testing.T) {
	l := New(Config{
		RatePerSecond: 0.1,
		Burst:         1,
	})
	if err := l.Wait(context.Background(), insights.PlatformShopee); err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	// The next token is ten seconds out, past the deadline.
	if err := l.Wait(ctx, insights.PlatformShopee); err == nil {
		t.Fatal("expected error when the token arrives after the deadline")
	}
}
