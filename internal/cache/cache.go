package cache

import (
	"context"
	"time"
)

// BytesCache is a best-effort byte cache. Misses and errors are distinct so
// callers can treat errors as misses without losing the signal.
type BytesCache interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
}
