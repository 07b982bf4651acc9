// Package cache provides WriteBack, the bounded write-back LRU that backs a
// unit's working set of virtual objects.
//
// # Model
//
// Each entry carries a value, a dirty flag and a pin count:
//
//   - dirty: the value is newer than durable storage and must be flushed
//     before the entry can be dropped
//   - pinned: the value is referenced by an active call frame and must not
//     be evicted
//
// Eviction runs after Insert and Unpin. While the cache holds more than its
// bound, the least recently used unpinned entry is flushed (when dirty) and
// removed. No dirty entry ever leaves the cache without a successful flush
// unless the caller asks for that explicitly with Remove or Discard.
//
// # Usage
//
//	wb, err := cache.NewWriteBack[*instance](cacheSize, func(key string, inst *instance) error {
//	    return store.Set(ctx, "vom."+key, inst.encode())
//	}, cache.WithMetrics[*instance](registry, "vom"))
//
//	inst, err := wb.Materialize(slot, func() (*instance, error) {
//	    return loadFromStore(slot)
//	})
//	wb.Pin(slot)
//	defer wb.Unpin(slot)
//	wb.MarkDirty(slot)
//
//	// at the end of a crank
//	if err := wb.FlushAll(); err != nil {
//	    // fatal: halt the unit
//	}
//
// # Errors
//
// Flush failures are returned classified fatal. Materialize of a key whose
// loader is still running returns ErrReentrantMaterialize, classified
// invalid.
//
// # Observability
//
// Statistics are always collected. WithMetrics additionally exports them
// through a metric.MetricsRegistry.
//
// # Thread Safety
//
// WriteBack is not safe for concurrent use; Statistics is.
package cache
