// Package storage provides the durable key-value contract a unit persists into.
package storage

import "context"

// Backend is the raw durable key-value primitive underneath a unit.
//
// Keys are scoped strings; values are opaque strings that may hold binary
// data. A Backend only needs atomic per-key reads plus a batch write: the
// Adapter above it owns buffering and the commit boundary.
//
// Example implementations:
//   - memstore.Store: in-memory map, used for tests and ephemeral units
//   - sqlstore.Store: SQLite table, batches applied in one SQL transaction
//   - natskv.Store: NATS JetStream KV bucket, batches replayed from a journal
//
// Thread Safety:
// All Backend implementations must be safe for concurrent use.
type Backend interface {
	// Get returns the value stored at key. found is false when the key is absent.
	Get(ctx context.Context, key string) (value string, found bool, err error)

	// Apply writes a batch. Implementations apply the batch atomically where
	// the underlying store allows it and must make a partially applied batch
	// recoverable otherwise.
	Apply(ctx context.Context, batch []Write) error

	// List returns all keys starting with prefix, in lexicographic order.
	List(ctx context.Context, prefix string) ([]string, error)

	// Close releases the backend's resources.
	Close() error
}

// Write is one staged mutation in a batch.
type Write struct {
	Key    string `json:"key"`
	Value  string `json:"value,omitempty"`
	Delete bool   `json:"delete,omitempty"`
}

// KV is the per-key surface the virtual object manager reads and writes through.
type KV interface {
	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key, value string) error
	Delete(ctx context.Context, key string) error
}

// Txn is a KV with an explicit commit boundary.
type Txn interface {
	KV

	// Commit makes every write staged since the last Commit or Abort durable.
	Commit(ctx context.Context) error

	// Abort discards every uncommitted write.
	Abort()

	// Keys lists committed and staged keys with the given prefix, in order.
	Keys(ctx context.Context, prefix string) ([]string, error)
}
