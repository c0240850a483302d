// Package store keeps dashboard side state in Redis: the latest snapshot for
// read-only consumers and the per-session release locks.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"

	"github.com/round-cube/parking-dashboard/lot"
)

const SnapshotKey = "dashboard:snapshot"

// SnapshotCache writes the newest snapshot behind the dashboard. Observe never
// blocks; a snapshot still waiting to be written is replaced by a newer one.
type SnapshotCache struct {
	Redis   redis.Cmdable
	TTL     time.Duration
	Timeout time.Duration
	pending chan lot.Snapshot
}

func NewSnapshotCache(rds redis.Cmdable, ttl time.Duration) *SnapshotCache {
	return &SnapshotCache{
		Redis:   rds,
		TTL:     ttl,
		Timeout: 2 * time.Second,
		pending: make(chan lot.Snapshot, 1),
	}
}

func (c *SnapshotCache) Observe(s lot.Snapshot) {
	for {
		select {
		case c.pending <- s:
			return
		default:
		}
		select {
		case <-c.pending:
		default:
		}
	}
}

// Run writes observed snapshots until ctx is done.
func (c *SnapshotCache) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case s := <-c.pending:
			wctx, cancel := context.WithTimeout(ctx, c.Timeout)
			if err := c.Save(wctx, s); err != nil {
				log.Errorf("failed to cache snapshot: %s", err)
			}
			cancel()
		}
	}
}

func (c *SnapshotCache) Save(ctx context.Context, s lot.Snapshot) error {
	body, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("failed to encode snapshot: %w", err)
	}
	if err := c.Redis.Set(ctx, SnapshotKey, body, c.TTL).Err(); err != nil {
		return fmt.Errorf("failed to save snapshot to Redis: %w", err)
	}
	return nil
}

// Load returns the cached snapshot; found is false when none is stored.
func (c *SnapshotCache) Load(ctx context.Context) (s lot.Snapshot, found bool, err error) {
	body, err := c.Redis.Get(ctx, SnapshotKey).Bytes()
	if errors.Is(err, redis.Nil) {
		return s, false, nil
	}
	if err != nil {
		return s, false, fmt.Errorf("failed to fetch snapshot from Redis: %w", err)
	}
	if err := json.Unmarshal(body, &s); err != nil {
		return s, false, fmt.Errorf("failed to decode cached snapshot: %w", err)
	}
	return s, true, nil
}
