package persist

import (
	"context"
	"encoding/json"
	"fmt"

	"golang.org/x/sync/singleflight"

	"github.com/benmeehan/thinq-agent/pkg/encryption"
)

// Cache is a key-value store for data that must outlive the process:
// the broker key pair, the CSR, the refresh token and device models.
type Cache interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte) error
	Delete(ctx context.Context, key string) error

	// ComputeIfAbsentForever returns the stored value for key, or runs
	// compute once, stores its result without expiry and returns it.
	// Concurrent callers for the same key share one compute.
	ComputeIfAbsentForever(ctx context.Context, key string, compute func(context.Context) ([]byte, error)) ([]byte, error)
}

type getSetter interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte) error
}

// computeGroup implements ComputeIfAbsentForever on top of Get and Set.
type computeGroup struct {
	group singleflight.Group
}

func (g *computeGroup) computeIfAbsent(ctx context.Context, store getSetter, key string, compute func(context.Context) ([]byte, error)) ([]byte, error) {
	if value, ok, err := store.Get(ctx, key); err != nil {
		return nil, err
	} else if ok {
		return value, nil
	}

	v, err, _ := g.group.Do(key, func() (any, error) {
		// Another caller may have stored it while we waited for the group.
		if value, ok, err := store.Get(ctx, key); err != nil {
			return nil, err
		} else if ok {
			return value, nil
		}

		value, err := compute(ctx)
		if err != nil {
			return nil, err
		}
		if err := store.Set(ctx, key, value); err != nil {
			return nil, fmt.Errorf("failed to store %q: %w", key, err)
		}
		return value, nil
	})
	if err != nil {
		return nil, err
	}
	return v.([]byte), nil
}

// sealer optionally encrypts values at rest.
type sealer struct {
	enc encryption.EncryptionManagerInterface
}

func (s sealer) seal(value []byte) ([]byte, error) {
	if s.enc == nil {
		return value, nil
	}
	return s.enc.Encrypt(value)
}

func (s sealer) open(value []byte) ([]byte, error) {
	if s.enc == nil {
		return value, nil
	}
	return s.enc.Decrypt(value)
}

// GetJSON reads and decodes a JSON value.
func GetJSON[T any](ctx context.Context, c Cache, key string) (T, bool, error) {
	var out T
	data, ok, err := c.Get(ctx, key)
	if err != nil || !ok {
		return out, ok, err
	}
	if err := json.Unmarshal(data, &out); err != nil {
		return out, false, fmt.Errorf("failed to decode cached %q: %w", key, err)
	}
	return out, true, nil
}

// SetJSON encodes and stores a JSON value.
func SetJSON(ctx context.Context, c Cache, key string, value any) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("failed to encode %q: %w", key, err)
	}
	return c.Set(ctx, key, data)
}

// CacheForever is ComputeIfAbsentForever for JSON-encoded values.
func CacheForever[T any](ctx context.Context, c Cache, key string, compute func(context.Context) (T, error)) (T, error) {
	var out T
	data, err := c.ComputeIfAbsentForever(ctx, key, func(ctx context.Context) ([]byte, error) {
		value, err := compute(ctx)
		if err != nil {
			return nil, err
		}
		return json.Marshal(value)
	})
	if err != nil {
		return out, err
	}
	if err := json.Unmarshal(data, &out); err != nil {
		return out, fmt.Errorf("failed to decode cached %q: %w", key, err)
	}
	return out, nil
}
