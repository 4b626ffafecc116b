package cache

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	gocache "github.com/patrickmn/go-cache"
)

// Memory is an in-process cache for single-replica deployments and the CLI. Values are stored
// JSON encoded so callers get the same copy semantics as with Redis.
type Memory struct {
	items *gocache.Cache
}

// NewMemory constructs a Memory cache with the given TTL.
func NewMemory(ttl time.Duration) *Memory {
	if ttl <= 0 {
		ttl = gocache.NoExpiration
	}
	return &Memory{items: gocache.New(ttl, 2*ttl)}
}

// GetJSON unmarshals a cached payload into dst.
func (c *Memory) GetJSON(_ context.Context, key string, dst any) (bool, error) {
	if c == nil || key == "" {
		return false, nil
	}
	raw, ok := c.items.Get(key)
	if !ok {
		return false, nil
	}
	if err := json.Unmarshal(raw.([]byte), dst); err != nil {
		return false, err
	}
	return true, nil
}

// SetJSON stores v with the default TTL.
func (c *Memory) SetJSON(_ context.Context, key string, v any) error {
	if c == nil || key == "" {
		return nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	c.items.SetDefault(key, data)
	return nil
}

// PurgeDigest drops every quote cached against an entity digest.
func (c *Memory) PurgeDigest(_ context.Context, digest string) (int, error) {
	if c == nil || digest == "" {
		return 0, nil
	}
	prefix := DigestPrefix(digest)
	deleted := 0
	for key := range c.items.Items() {
		if strings.HasPrefix(key, prefix) {
			c.items.Delete(key)
			deleted++
		}
	}
	return deleted, nil
}

// Len reports the number of live entries.
func (c *Memory) Len() int {
	if c == nil {
		return 0
	}
	return c.items.ItemCount()
}
