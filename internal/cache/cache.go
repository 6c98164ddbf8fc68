// Package cache holds denormalized Link snapshots and access counters in Redis.
//
// The cache is an optimization and never a source of truth. Every operation
// swallows backend errors, logs them, and reports absence or failure through
// its return value so callers can fall back to the store.
//
// Snapshots (link:{code}) expire after a TTL. Access counters
// (access_count:{code}) have no expiry of their own, so the two facets can
// drift apart: a counter may outlive its snapshot. Readers treat the counter
// as a lower bound on resolutions, not an exact figure.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	// DefaultLinkTTL is how long a snapshot lives when no TTL is configured.
	DefaultLinkTTL = time.Hour

	linkKeyPrefix        = "link:"
	accessCountKeyPrefix = "access_count:"
)

// Snapshot is the projection of a Link kept in the cache.
type Snapshot struct {
	ID        int64  `json:"id"`
	ShortCode string `json:"short_code"`
	TargetURL string `json:"target_url"`
	Title     string `json:"title"`
	IsActive  bool   `json:"is_active"`
}

// LinkKey returns the key holding the snapshot for code.
func LinkKey(code string) string { return linkKeyPrefix + code }

// AccessCountKey returns the key holding the access counter for code.
func AccessCountKey(code string) string { return accessCountKeyPrefix + code }

// LinkCache is safe for concurrent use; it holds no state beyond the client.
type LinkCache struct {
	client redis.Cmdable
	ttl    time.Duration
	logger *slog.Logger
}

// Config holds configuration for the cache.
type Config struct {
	LinkTTL time.Duration
	Logger  *slog.Logger
}

// New creates a LinkCache over an existing Redis client. The caller owns the
// client and closes it on shutdown.
func New(client redis.Cmdable, cfg *Config) *LinkCache {
	if cfg == nil {
		cfg = &Config{}
	}

	ttl := cfg.LinkTTL
	if ttl <= 0 {
		ttl = DefaultLinkTTL
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &LinkCache{
		client: client,
		ttl:    ttl,
		logger: logger.With("component", "cache"),
	}
}

// TTL returns the default snapshot lifetime.
func (c *LinkCache) TTL() time.Duration { return c.ttl }

// GetLink returns the cached snapshot for code. A missing key, an undecodable
// value and a backend failure all report ok=false.
func (c *LinkCache) GetLink(ctx context.Context, code string) (Snapshot, bool) {
	raw, err := c.client.Get(ctx, LinkKey(code)).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			c.warn(ctx, "get link failed", code, err)
		}
		return Snapshot{}, false
	}

	var snap Snapshot
	if err := json.Unmarshal(raw, &snap); err != nil {
		c.warn(ctx, "decode link snapshot failed", code, err)
		return Snapshot{}, false
	}
	return snap, true
}

// SetLink stores snap under code. A ttl of zero or less uses the configured default.
func (c *LinkCache) SetLink(ctx context.Context, code string, snap Snapshot, ttl time.Duration) bool {
	if ttl <= 0 {
		ttl = c.ttl
	}

	payload, err := json.Marshal(snap)
	if err != nil {
		c.warn(ctx, "encode link snapshot failed", code, err)
		return false
	}

	if err := c.client.Set(ctx, LinkKey(code), payload, ttl).Err(); err != nil {
		c.warn(ctx, "set link failed", code, err)
		return false
	}
	return true
}

// DeleteLink removes the snapshot for code. Deleting an absent key succeeds.
func (c *LinkCache) DeleteLink(ctx context.Context, code string) bool {
	if err := c.client.Del(ctx, LinkKey(code)).Err(); err != nil {
		c.warn(ctx, "delete link failed", code, err)
		return false
	}
	return true
}

// IncrementAccessCount atomically bumps the counter for code using INCR and
// returns the new value.
func (c *LinkCache) IncrementAccessCount(ctx context.Context, code string) (int64, bool) {
	n, err := c.client.Incr(ctx, AccessCountKey(code)).Result()
	if err != nil {
		c.warn(ctx, "increment access count failed", code, err)
		return 0, false
	}
	return n, true
}

// GetAccessCount returns the counter for code, or 0 when it is absent or unreadable.
func (c *LinkCache) GetAccessCount(ctx context.Context, code string) int64 {
	n, err := c.client.Get(ctx, AccessCountKey(code)).Int64()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			c.warn(ctx, "get access count failed", code, err)
		}
		return 0
	}
	return n
}

// ResetAccessCount drops the counter for code.
func (c *LinkCache) ResetAccessCount(ctx context.Context, code string) bool {
	if err := c.client.Del(ctx, AccessCountKey(code)).Err(); err != nil {
		c.warn(ctx, "reset access count failed", code, err)
		return false
	}
	return true
}

// ClearAll flushes the whole logical database. Administrative use only.
func (c *LinkCache) ClearAll(ctx context.Context) bool {
	if err := c.client.FlushDB(ctx).Err(); err != nil {
		c.logger.WarnContext(ctx, "flush cache failed", "error", err.Error())
		return false
	}
	c.logger.InfoContext(ctx, "cache flushed")
	return true
}

// Ping reports whether the backend is reachable.
func (c *LinkCache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

func (c *LinkCache) warn(ctx context.Context, msg, code string, err error) {
	c.logger.WarnContext(ctx, msg,
		"short_code", code,
		"error", err.Error(),
	)
}
