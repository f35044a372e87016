package ratelimit

import (
	"context"
	"errors"
	"testing"
)

func TestUnlimited(t *testing.T) {
	t.Parallel()

	var limiter RateLimiter = Unlimited{}

	allowed, err := limiter.Allow(context.Background(), KeyGatewayStatus)
	if err != nil || !allowed {
		t.Fatalf("Allow() = %v, %v; want true, nil", allowed, err)
	}
	if err := limiter.Wait(context.Background(), KeyGatewayStatus); err != nil {
		t.Fatalf("Wait() error = %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := limiter.Wait(ctx, KeyGatewayStatus); !errors.Is(err, context.Canceled) {
		t.Fatalf("Wait(canceled) error = %v, want context.Canceled", err)
	}
}
