// Package redislock is a single-key lease shared by every market replica.
package redislock

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/sakashimaa/freshsave/pkg/mylogger"
	"go.uber.org/zap"
)

// release only deletes the key while it still holds our token, so a lease
// that expired and was taken by another replica is left alone.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

type Lock struct {
	client redis.Cmdable
	logger *zap.Logger
}

func NewLock(client redis.Cmdable, logger *zap.Logger) *Lock {
	return &Lock{
		client: client,
		logger: logger,
	}
}

func (l *Lock) Acquire(ctx context.Context, key string, ttl time.Duration) (func(context.Context), bool, error) {
	token := uuid.NewString()

	ok, err := l.client.SetNX(ctx, key, token, ttl).Result()
	if err != nil {
		return nil, false, fmt.Errorf("failed to acquire lock %s: %w", key, err)
	}
	if !ok {
		mylogger.Debug(ctx, l.logger, "Lock held elsewhere", zap.String("key", key))
		return func(context.Context) {}, false, nil
	}

	release := func(ctx context.Context) {
		if err := releaseScript.Run(ctx, l.client, []string{key}, token).Err(); err != nil {
			mylogger.Warn(ctx, l.logger, "Failed to release lock", zap.String("key", key), zap.Error(err))
		}
	}

	return release, true, nil
}
