// Package kv is the durable key-value layer. Values are opaque bytes (JSON by
// convention), writes are last-write-wins and there are no transactions.
package kv

import (
	"context"
	"encoding/json"
	"fmt"
	"time"
)

// Store is implemented by RedisStore and MemoryStore.
type Store interface {
	// Get returns the value and true, or false when the key is absent or expired.
	Get(ctx context.Context, key string) ([]byte, bool, error)
	// Put writes value under key. A zero ttl keeps the key until overwritten.
	Put(ctx context.Context, key string, value []byte, ttl time.Duration) error
}

// GetJSON decodes the value stored under key into out.
func GetJSON(ctx context.Context, s Store, key string, out interface{}) (bool, error) {
	raw, ok, err := s.Get(ctx, key)
	if err != nil || !ok {
		return false, err
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return false, fmt.Errorf("decode %s: %w", key, err)
	}
	return true, nil
}

// PutJSON encodes v and stores it under key.
func PutJSON(ctx context.Context, s Store, key string, v interface{}, ttl time.Duration) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode %s: %w", key, err)
	}
	return s.Put(ctx, key, raw, ttl)
}
