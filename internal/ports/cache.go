package ports

import (
	"context"
	"time"
)

// Cache is a durable string key-value capability. The offline queue keeps
// its whole persisted state under one key.
type Cache interface {
	Get(ctx context.Context, key string) (value string, found bool, err error)
	Set(ctx context.Context, key string, value string, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
}
