package mocks

import (
	"context"
	"time"

	"github.com/godilite/valuation-server/pkg/cache"
)

// MockCacher is a mock implementation of the Cacher interface
// for testing the service layer. Unset functions behave like an empty cache.
type MockCacher struct {
	GetFunc   func(ctx context.Context, key string, dest any) error
	SetFunc   func(ctx context.Context, key string, value any, expiration time.Duration) error
	SetNXFunc func(ctx context.Context, key string, value any, expiration time.Duration) (bool, error)
	DelFunc   func(ctx context.Context, keys ...string) error
}

// Get implements the Cacher interface
func (m *MockCacher) Get(ctx context.Context, key string, dest any) error {
	if m.GetFunc != nil {
		return m.GetFunc(ctx, key, dest)
	}
	return cache.ErrCacheMiss
}

// Set implements the Cacher interface
func (m *MockCacher) Set(ctx context.Context, key string, value any, expiration time.Duration) error {
	if m.SetFunc != nil {
		return m.SetFunc(ctx, key, value, expiration)
	}
	return nil
}

// SetNX implements the Cacher interface. Without SetNXFunc it behaves like
// Set on an empty cache.
func (m *MockCacher) SetNX(ctx context.Context, key string, value any, expiration time.Duration) (bool, error) {
	if m.SetNXFunc != nil {
		return m.SetNXFunc(ctx, key, value, expiration)
	}
	if m.SetFunc != nil {
		return true, m.SetFunc(ctx, key, value, expiration)
	}
	return true, nil
}

// Del implements the Cacher interface
func (m *MockCacher) Del(ctx context.Context, keys ...string) error {
	if m.DelFunc != nil {
		return m.DelFunc(ctx, keys...)
	}
	return nil
}
