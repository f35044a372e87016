package redis

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/kursadbilgin/consult-payments/internal/ratelimit"
	goredis "github.com/redis/go-redis/v9"
)

const (
	defaultBudgetPerSec = 20
	keyPrefix           = "consult-payments:ratelimit"
	gatewayWindow       = time.Second
	// Slack added past the window boundary so a waiter does not wake a hair early.
	windowSlack = 5 * time.Millisecond
)

// takeScript spends one call from the window budget. It returns the calls left
// in the window, or -1 when the budget is exhausted.
var takeScript = goredis.NewScript(`
local spent = redis.call("INCR", KEYS[1])
if spent == 1 then
  redis.call("PEXPIRE", KEYS[1], ARGV[2])
end
local budget = tonumber(ARGV[1])
if spent > budget then
  return -1
end
return budget - spent
`)

var _ ratelimit.RateLimiter = (*GatewayRateLimiter)(nil)

// GatewayBudgets caps outbound PhonePe calls per second, per operation.
// Zero values fall back to the default budget.
type GatewayBudgets struct {
	StatusPerSec   int
	InitiatePerSec int
}

func (b GatewayBudgets) byKey() map[string]int64 {
	budget := func(perSec int) int64 {
		if perSec <= 0 {
			return defaultBudgetPerSec
		}
		return int64(perSec)
	}

	return map[string]int64{
		ratelimit.KeyGatewayStatus:   budget(b.StatusPerSec),
		ratelimit.KeyGatewayInitiate: budget(b.InitiatePerSec),
	}
}

// GatewayRateLimiter keeps the gateway call budget in Redis so that every API
// replica and reconcile worker draws from the same one-second window.
type GatewayRateLimiter struct {
	client  *goredis.Client
	budgets map[string]int64
	now     func() time.Time
	sleep   func(ctx context.Context, d time.Duration) error
}

func NewGatewayRateLimiter(client *goredis.Client, budgets GatewayBudgets) (*GatewayRateLimiter, error) {
	if client == nil {
		return nil, fmt.Errorf("redis client is required")
	}

	return &GatewayRateLimiter{
		client:  client,
		budgets: budgets.byKey(),
		now:     time.Now,
		sleep:   sleepWithContext,
	}, nil
}

// Allow spends one call of the key's budget in the current window.
func (l *GatewayRateLimiter) Allow(ctx context.Context, key string) (bool, error) {
	remaining, err := l.take(ctx, key)
	if err != nil {
		return false, err
	}
	return remaining >= 0, nil
}

// Wait blocks until a call fits the budget. Each refusal sleeps until the next
// window opens rather than spinning on Redis.
func (l *GatewayRateLimiter) Wait(ctx context.Context, key string) error {
	if ctx == nil {
		ctx = context.Background()
	}

	for {
		remaining, err := l.take(ctx, key)
		if err != nil {
			return err
		}
		if remaining >= 0 {
			return nil
		}

		if err := l.sleep(ctx, l.untilNextWindow()); err != nil {
			return err
		}
	}
}

func (l *GatewayRateLimiter) take(ctx context.Context, key string) (int64, error) {
	if l == nil || l.client == nil {
		return 0, fmt.Errorf("rate limiter is not initialized")
	}
	if ctx == nil {
		ctx = context.Background()
	}

	key = strings.ToLower(strings.TrimSpace(key))
	if key == "" {
		return 0, fmt.Errorf("rate limit key is required")
	}
	budget, ok := l.budgets[key]
	if !ok {
		return 0, fmt.Errorf("no gateway budget for key %q", key)
	}

	windowKey := fmt.Sprintf("%s:%s:%d", keyPrefix, key, l.now().UTC().Unix())
	remaining, err := takeScript.Run(ctx, l.client, []string{windowKey}, budget, gatewayWindow.Milliseconds()).Int64()
	if err != nil {
		return 0, fmt.Errorf("failed to spend gateway budget: %w", err)
	}

	return remaining, nil
}

func (l *GatewayRateLimiter) untilNextWindow() time.Duration {
	now := l.now()
	return now.Truncate(gatewayWindow).Add(gatewayWindow).Sub(now) + windowSlack
}

func sleepWithContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
