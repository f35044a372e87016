package redis

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	goredis "github.com/redis/go-redis/v9"
)

const defaultLeaseTTL = 15 * time.Second

var releaseScript = goredis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
  return redis.call("DEL", KEYS[1])
end
return 0
`)

// PollLease hands out a short per-order lease so that only one replica queries
// the gateway for a given order at a time.
type PollLease struct {
	client *goredis.Client
	ttl    time.Duration
}

func NewPollLease(client *goredis.Client, ttl time.Duration) (*PollLease, error) {
	if client == nil {
		return nil, fmt.Errorf("redis client is required")
	}
	if ttl <= 0 {
		ttl = defaultLeaseTTL
	}
	return &PollLease{client: client, ttl: ttl}, nil
}

// TryAcquire returns a release func when the lease was taken. When another
// holder owns it, acquired is false and release is a no-op.
func (l *PollLease) TryAcquire(ctx context.Context, orderID string) (release func(), acquired bool, err error) {
	noop := func() {}

	orderID = strings.TrimSpace(orderID)
	if orderID == "" {
		return noop, false, fmt.Errorf("order id is required")
	}
	if ctx == nil {
		ctx = context.Background()
	}

	key := fmt.Sprintf("%s:poll:%s", keyPrefix, orderID)
	token := uuid.NewString()

	ok, err := l.client.SetNX(ctx, key, token, l.ttl).Result()
	if err != nil {
		return noop, false, fmt.Errorf("failed to acquire poll lease: %w", err)
	}
	if !ok {
		return noop, false, nil
	}

	return func() {
		// Released on a fresh context so a canceled request still frees the lease.
		releaseCtx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = releaseScript.Run(releaseCtx, l.client, []string{key}, token).Err()
	}, true, nil
}
