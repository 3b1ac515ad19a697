package types

import "time"

// ArtifactBackend is the storage capability the engine depends on. The
// in-memory store is the default implementation; the Redis backend swaps in
// behind the same contract. All implementations must be safe for concurrent
// use and must never return an entry whose ExpiresAt has passed.
type ArtifactBackend interface {
	// Put inserts or replaces the entry for entry.Key, reconciling tenant and
	// provenance index memberships atomically with respect to readers.
	Put(entry *CacheEntry) error

	// Get returns the live entry or nil. An expired entry discovered on read
	// is removed as a side effect.
	Get(key string) (*CacheEntry, error)

	// Remove deletes the entry and its index memberships, reporting whether
	// anything was removed.
	Remove(key string) (bool, error)

	KeysForTenant(tenant string) ([]string, error)
	KeysForProvenance(tenant, hash string) ([]string, error)

	Size() (int, error)

	// Sweep removes every entry expired at now and returns the count.
	Sweep(now time.Time) (int, error)

	Close() error
}

// MetricsRecorder is the slice of observability the engine emits. The
// prometheus implementation is the production one; a no-op exists for tests.
type MetricsRecorder interface {
	RecordHit()
	RecordMiss()
	RecordStore()
	RecordPurge(count int)
	RecordExpired(count int)
	SetCacheSize(size int)
	RecordRequest(route string, duration time.Duration)
	RecordUpstreamRequest()
	RecordUpstreamFailure()
	RecordUpstreamLatency(duration time.Duration)
}
