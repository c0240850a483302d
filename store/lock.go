package store

import (
	"context"
	"fmt"
	"time"

	"github.com/bsm/redislock"
	log "github.com/sirupsen/logrus"

	"github.com/round-cube/parking-dashboard/lot"
)

// ReleaseLocker guards a release with a Redis lock so two dashboard replicas
// never settle the same session at once.
type ReleaseLocker struct {
	Locker   *redislock.Client
	LockOpts *redislock.Options
	TTL      time.Duration
}

func NewReleaseLocker(client redislock.RedisClient, ttl time.Duration) *ReleaseLocker {
	return &ReleaseLocker{
		Locker: redislock.New(client),
		LockOpts: &redislock.Options{
			RetryStrategy: redislock.LimitRetry(redislock.LinearBackoff(100*time.Millisecond), 3),
		},
		TTL: ttl,
	}
}

func LockKey(id lot.SessionID) string {
	return "LOCK:release:" + string(id)
}

func (l *ReleaseLocker) Lock(ctx context.Context, id lot.SessionID) (func(), error) {
	lock, err := l.Locker.Obtain(ctx, LockKey(id), l.TTL, l.LockOpts)
	if err != nil {
		return nil, fmt.Errorf("failed to obtain lock: %w", err)
	}
	return func() {
		if err := lock.Release(context.Background()); err != nil {
			log.Warnf("failed to release lock %s: %s", LockKey(id), err)
		}
	}, nil
}
