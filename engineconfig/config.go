// Package engineconfig loads the engine's runtime configuration from
// environment variables, following the HOLON_ prefix convention.
package engineconfig

import (
	"os"
	"strconv"
	"time"
)

// env is a minimal typed environment-variable reader, the same shape as
// the teacher's config.EnvConfig: a prefix plus Get*/MustGet* accessors.
type env struct {
	prefix string
}

func (e env) key(k string) string {
	if e.prefix == "" {
		return k
	}
	return e.prefix + "_" + k
}

func (e env) getString(k, def string) string {
	if v := os.Getenv(e.key(k)); v != "" {
		return v
	}
	return def
}

func (e env) getInt(k string, def int) int {
	if v := os.Getenv(e.key(k)); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func (e env) getDuration(k string, def time.Duration) time.Duration {
	if v := os.Getenv(e.key(k)); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}

// Config is the engine's top-level configuration.
type Config struct {
	// StoragePath is the sqlite database file, or ":memory:" for a
	// process-local ephemeral store.
	StoragePath string

	// BroadcastBufferSize bounds each per-relation broadcast channel
	// (spec.md §5: "bound of ~1000 batches; overflow causes lag").
	BroadcastBufferSize int

	// UndoLogMaxSize trims the persisted operations table once it grows
	// past this many rows (spec.md §4.8).
	UndoLogMaxSize int

	// SyncPollInterval is how often the engine invokes registered
	// providers' sync() on its own schedule, when no external trigger
	// drives it.
	SyncPollInterval time.Duration

	// DistLockRedisURL, if non-empty, makes Open take a Redis-held lease
	// (30-second expiry, not renewed) named after StoragePath and fail
	// if another process already holds it. The storage reader-writer
	// gate itself stays an in-process sync.RWMutex. Empty disables it.
	DistLockRedisURL string

	// BroadcastRelayRedisURL, if non-empty, mirrors the storage CDC
	// stream onto a Redis pub/sub channel so a second process (a replica
	// cache, a monitoring tool) can observe it without an in-process
	// subscription. Empty disables it.
	BroadcastRelayRedisURL string

	// BroadcastRelayChannel names the Redis pub/sub channel
	// BroadcastRelayRedisURL publishes/subscribes on.
	BroadcastRelayChannel string
}

// FromEnv loads Config from the process environment using the HOLON_
// prefix, falling back to documented defaults for anything unset.
func FromEnv() Config {
	e := env{prefix: "HOLON"}
	return Config{
		StoragePath:            e.getString("STORAGE_PATH", "holon.db"),
		BroadcastBufferSize:    e.getInt("BROADCAST_BUFFER_SIZE", 1000),
		UndoLogMaxSize:         e.getInt("UNDO_LOG_MAX_SIZE", 10000),
		SyncPollInterval:       e.getDuration("SYNC_POLL_INTERVAL", 30*time.Second),
		DistLockRedisURL:       e.getString("DISTLOCK_REDIS_URL", ""),
		BroadcastRelayRedisURL: e.getString("BROADCAST_RELAY_REDIS_URL", ""),
		BroadcastRelayChannel:  e.getString("BROADCAST_RELAY_CHANNEL", "holon:cdc"),
	}
}
