package redis

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/kursadbilgin/consult-payments/internal/ratelimit"
	goredis "github.com/redis/go-redis/v9"
)

func newTestLimiter(t *testing.T, budgets GatewayBudgets, now *time.Time) *GatewayRateLimiter {
	t.Helper()

	limiter, err := NewGatewayRateLimiter(newTestRedisClient(t), budgets)
	if err != nil {
		t.Fatalf("NewGatewayRateLimiter() error = %v", err)
	}
	limiter.now = func() time.Time { return *now }
	return limiter
}

func TestGatewayRateLimiterAllowWithinWindow(t *testing.T) {
	t.Parallel()

	now := time.Unix(1_700_000_000, 0)
	limiter := newTestLimiter(t, GatewayBudgets{StatusPerSec: 2}, &now)

	want := []bool{true, true, false}
	for i, expected := range want {
		allowed, err := limiter.Allow(context.Background(), ratelimit.KeyGatewayStatus)
		if err != nil {
			t.Fatalf("Allow() #%d error = %v", i+1, err)
		}
		if allowed != expected {
			t.Fatalf("Allow() #%d = %v, want %v", i+1, allowed, expected)
		}
	}

	now = now.Add(time.Second)
	allowed, err := limiter.Allow(context.Background(), ratelimit.KeyGatewayStatus)
	if err != nil {
		t.Fatalf("Allow() error = %v", err)
	}
	if !allowed {
		t.Fatal("next window should refill the status budget")
	}
}

func TestGatewayRateLimiterBudgetsAreSeparate(t *testing.T) {
	t.Parallel()

	now := time.Unix(1_700_000_100, 0)
	limiter := newTestLimiter(t, GatewayBudgets{StatusPerSec: 1, InitiatePerSec: 3}, &now)

	if allowed, _ := limiter.Allow(context.Background(), ratelimit.KeyGatewayStatus); !allowed {
		t.Fatal("first status poll should be allowed")
	}
	if allowed, _ := limiter.Allow(context.Background(), ratelimit.KeyGatewayStatus); allowed {
		t.Fatal("second status poll should exceed its budget")
	}

	for i := 0; i < 3; i++ {
		allowed, err := limiter.Allow(context.Background(), ratelimit.KeyGatewayInitiate)
		if err != nil {
			t.Fatalf("Allow(initiate) error = %v", err)
		}
		if !allowed {
			t.Fatalf("initiation #%d should not be starved by status polls", i+1)
		}
	}
}

func TestGatewayRateLimiterDefaultBudget(t *testing.T) {
	t.Parallel()

	now := time.Unix(1_700_000_150, 0)
	limiter := newTestLimiter(t, GatewayBudgets{}, &now)

	for i := 0; i < defaultBudgetPerSec; i++ {
		if allowed, _ := limiter.Allow(context.Background(), ratelimit.KeyGatewayStatus); !allowed {
			t.Fatalf("call #%d should fit the default budget", i+1)
		}
	}
	if allowed, _ := limiter.Allow(context.Background(), ratelimit.KeyGatewayStatus); allowed {
		t.Fatal("call past the default budget should be refused")
	}
}

func TestGatewayRateLimiterWaitSleepsUntilNextWindow(t *testing.T) {
	t.Parallel()

	now := time.Unix(1_700_000_200, 0).Add(300 * time.Millisecond)
	limiter := newTestLimiter(t, GatewayBudgets{StatusPerSec: 1}, &now)

	var slept []time.Duration
	limiter.sleep = func(ctx context.Context, d time.Duration) error {
		slept = append(slept, d)
		now = now.Add(d)
		return nil
	}

	if err := limiter.Wait(context.Background(), ratelimit.KeyGatewayStatus); err != nil {
		t.Fatalf("Wait() first error = %v", err)
	}
	if len(slept) != 0 {
		t.Fatalf("first Wait() slept %v, want no sleep", slept)
	}

	if err := limiter.Wait(context.Background(), ratelimit.KeyGatewayStatus); err != nil {
		t.Fatalf("Wait() second error = %v", err)
	}
	if len(slept) != 1 {
		t.Fatalf("sleeps = %v, want exactly one", slept)
	}
	if want := 700*time.Millisecond + windowSlack; slept[0] != want {
		t.Fatalf("slept %v, want %v", slept[0], want)
	}
}

func TestGatewayRateLimiterWaitContextDeadline(t *testing.T) {
	t.Parallel()

	now := time.Unix(1_700_000_300, 0)
	limiter := newTestLimiter(t, GatewayBudgets{StatusPerSec: 1}, &now)

	if allowed, _ := limiter.Allow(context.Background(), ratelimit.KeyGatewayStatus); !allowed {
		t.Fatal("expected first call to be allowed")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 25*time.Millisecond)
	defer cancel()

	err := limiter.Wait(ctx, ratelimit.KeyGatewayStatus)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("Wait() error = %v, want %v", err, context.DeadlineExceeded)
	}
}

func TestGatewayRateLimiterRejectsUnknownKeys(t *testing.T) {
	t.Parallel()

	now := time.Unix(1_700_000_400, 0)
	limiter := newTestLimiter(t, GatewayBudgets{}, &now)

	for _, key := range []string{"  ", "gateway-refund"} {
		if _, err := limiter.Allow(context.Background(), key); err == nil {
			t.Fatalf("Allow(%q) expected error", key)
		}
	}
}

func TestGatewayRateLimiterKeyNormalization(t *testing.T) {
	t.Parallel()

	now := time.Unix(1_700_000_500, 0)
	limiter := newTestLimiter(t, GatewayBudgets{StatusPerSec: 1}, &now)

	if allowed, _ := limiter.Allow(context.Background(), "Gateway-Status"); !allowed {
		t.Fatal("first call should be allowed")
	}
	if allowed, _ := limiter.Allow(context.Background(), " gateway-status "); allowed {
		t.Fatal("normalized key should share the window budget")
	}
}

func TestNewGatewayRateLimiterRequiresClient(t *testing.T) {
	t.Parallel()

	if _, err := NewGatewayRateLimiter(nil, GatewayBudgets{}); err == nil {
		t.Fatal("expected error for nil client")
	}
}

func newTestRedisClient(t *testing.T) *goredis.Client {
	t.Helper()

	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis.Run() error = %v", err)
	}
	t.Cleanup(mr.Close)

	rdb := goredis.NewClient(&goredis.Options{
		Addr: mr.Addr(),
	})
	t.Cleanup(func() {
		_ = rdb.Close()
	})

	return rdb
}
