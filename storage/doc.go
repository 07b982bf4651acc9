// Package storage defines the durable key-value layer a unit persists its
// virtual object state into.
//
// # Layers
//
// Backend is the raw store: per-key reads, prefix listing, and a batch Apply.
// Three implementations ship with vatdata:
//
//   - memstore: in-memory map for tests and ephemeral units
//   - sqlstore: a single SQLite table (modernc.org/sqlite, no cgo)
//   - natskv: a NATS JetStream key-value bucket
//
// Adapter sits on top of a Backend and gives the crank its commit boundary.
// Set and Delete only stage writes; Get reads staged writes before committed
// ones; Commit hands the whole batch to Backend.Apply in key order; Abort
// throws the batch away.
//
//	backend := memstore.New()
//	store, err := storage.NewAdapter(backend)
//	if err != nil {
//	    return err
//	}
//	_ = store.Set(ctx, "vom.nextKindID", "2")
//	if err := store.Commit(ctx); err != nil {
//	    // fatal: durable state and memory have diverged
//	}
//
// # Keys
//
// Keys are opaque to this package. The virtual object manager owns every key
// under the "vom." prefix; the layout is documented in package vom.
//
// # Errors
//
// Read failures keep the backend's classification. A failed Commit is always
// wrapped as fatal because the crank's in-memory effects can no longer be
// made durable.
package storage
