package service

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/godilite/valuation-server/pkg/cache"
)

type FetchFunc[T any] func(ctx context.Context) (T, error)

const (
	defaultSetTimeout = 2 * time.Second
	jitterThreshold   = time.Minute
)

// addTTLJitter adds up to ±15s random jitter to TTLs above a minute to avoid
// mass expiration.
func addTTLJitter(ttl time.Duration) time.Duration {
	if ttl <= jitterThreshold {
		return ttl
	}
	jitter := time.Duration(rand.Intn(30)-15) * time.Second
	return ttl + jitter
}

// FindAndCache implements read-through caching with singleflight. A miss only
// populates an absent key, so a reader that loaded before a mutation committed
// cannot overwrite the snapshot the mutation wrote through.
func FindAndCache[T any](
	ctx context.Context,
	c Cacher,
	sf *singleflight.Group,
	key string,
	ttl time.Duration,
	logger *zap.Logger,
	fn FetchFunc[T],
) (T, error) {
	var zero T
	if logger == nil {
		logger = zap.NewNop()
	}

	var cached T
	err := c.Get(ctx, key, &cached)
	switch {
	case err == nil:
		logger.Debug("cache hit", zap.String("key", key))
		return cached, nil

	case errors.Is(err, cache.ErrCacheMiss):
		logger.Debug("cache miss", zap.String("key", key))

	default:
		logger.Warn("cache get error (treating as miss)", zap.String("key", key), zap.Error(err))
	}

	v, err, shared := sf.Do(key, func() (any, error) {
		value, err := fn(ctx)
		if err != nil {
			return nil, err
		}

		setCtx, cancel := context.WithTimeout(context.Background(), defaultSetTimeout)
		defer cancel()
		stored, err := c.SetNX(setCtx, key, value, addTTLJitter(ttl))
		switch {
		case err != nil:
			logger.Warn("failed to set cache on miss", zap.String("key", key), zap.Error(err))
		case !stored:
			logger.Debug("cache already populated, keeping newer snapshot", zap.String("key", key))
		}
		return value, nil
	})
	if err != nil {
		return zero, err
	}

	value, ok := v.(T)
	if !ok {
		logger.Error("singleflight type mismatch", zap.String("key", key))
		return zero, fmt.Errorf("type mismatch for key %q", key)
	}

	if shared {
		logger.Debug("singleflight shared result", zap.String("key", key))
	}

	return value, nil
}
