package ratelimit

import "context"

// Keys for throttled outbound gateway operations.
const (
	KeyGatewayStatus   = "gateway-status"
	KeyGatewayInitiate = "gateway-initiate"
)

// RateLimiter throttles outbound calls per key.
type RateLimiter interface {
	Allow(ctx context.Context, key string) (bool, error)
	Wait(ctx context.Context, key string) error
}

// Unlimited admits every call. Services fall back to it when no limiter is wired.
type Unlimited struct{}

func (Unlimited) Allow(context.Context, string) (bool, error) { return true, nil }

func (Unlimited) Wait(ctx context.Context, _ string) error {
	if ctx == nil {
		return nil
	}
	return ctx.Err()
}
