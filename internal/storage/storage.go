package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/quickoh/relay/internal/ntp"
)

var (
	ErrNotFound    = errors.New("key not found")
	ErrUnavailable = errors.New("backing store unavailable")
)

// Backend is the key-value surface the ephemeral state and the rate limiter
// are built on. Every write that takes a ttl (re)sets the expiry of the whole
// key.
type Backend interface {
	// HIncrBy adds delta to a hash field and returns the new value. A field
	// that ends at or below zero is removed.
	HIncrBy(ctx context.Context, key, field string, delta int64, ttl time.Duration) (int64, error)
	HSet(ctx context.Context, key string, fields map[string]string, ttl time.Duration) error
	HGetAll(ctx context.Context, key string) (map[string]string, error)
	HDel(ctx context.Context, key string, ttl time.Duration, fields ...string) error

	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Get(ctx context.Context, key string) ([]byte, error)
	Del(ctx context.Context, keys ...string) error

	// IncrWindow increments a counter and starts its expiry only when the
	// counter is created.
	IncrWindow(ctx context.Context, key string, window time.Duration) (int64, error)

	HealthCheck() error
	Close() error
}

func NewBackend(kind string, uri string, clock ntp.TimeProvider) (Backend, error) {
	switch kind {
	case "valkey", "redis":
		return NewValkeyBackend(uri)
	case "memory", "":
		return NewMemBackend(clock), nil
	default:
		return nil, fmt.Errorf("unsupported storage type: %s", kind)
	}
}
