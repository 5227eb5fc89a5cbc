package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/nightscape/holon/holonerr"
)

// DistLock is an optional cross-process upgrade of Backend's in-process
// reader-writer gate, for deployments where more than one process shares
// the same database file over a network filesystem. A single process
// should prefer Backend's gate directly; DistLock only matters once a
// second process exists.
//
// Grounded on the teacher's db/repository.RedisRepository
// AcquireLock/ReleaseLock/IsLocked (SET NX EX / DEL / EXISTS), reused
// here as a held write lease rather than an idempotency lock.
type DistLock struct {
	client *redis.Client
	key    string
}

// NewDistLock dials url and prepares a lock named key.
func NewDistLock(url, key string) (*DistLock, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("storage: parse redis url: %w", err)
	}
	return &DistLock{client: redis.NewClient(opts), key: "holon:lock:" + key}, nil
}

func (d *DistLock) Close() error { return d.client.Close() }

// Acquire tries to take the lease for ttl, returning false if another
// process already holds it.
func (d *DistLock) Acquire(ctx context.Context, ttl time.Duration) (bool, error) {
	ok, err := d.client.SetNX(ctx, d.key, "1", ttl).Result()
	if err != nil {
		return false, holonerr.New(holonerr.KindExternal, err).WithEntity(d.key, "acquire_lock")
	}
	return ok, nil
}

// Release drops the lease immediately.
func (d *DistLock) Release(ctx context.Context) error {
	if err := d.client.Del(ctx, d.key).Err(); err != nil {
		return holonerr.New(holonerr.KindExternal, err).WithEntity(d.key, "release_lock")
	}
	return nil
}

// Held reports whether the lease is currently taken by anyone.
func (d *DistLock) Held(ctx context.Context) (bool, error) {
	n, err := d.client.Exists(ctx, d.key).Result()
	if err != nil {
		return false, holonerr.New(holonerr.KindExternal, err).WithEntity(d.key, "check_lock")
	}
	return n > 0, nil
}
