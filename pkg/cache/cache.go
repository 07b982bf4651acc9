// Package cache provides a bounded write-back cache for durable object state.
package cache

import (
	stderrors "errors"

	"github.com/c360/vatdata/errors"
)

// ErrReentrantMaterialize is returned when a loader asks the cache for the
// key it is currently loading.
var ErrReentrantMaterialize = stderrors.New("re-entrant materialization")

// FlushFunc writes one dirty value back to durable storage.
type FlushFunc[V any] func(key string, value V) error

// LoadFunc reconstructs a value on a cache miss.
type LoadFunc[V any] func() (V, error)

// EvictCallback is called after an entry has been flushed and removed by
// eviction. It is not called for Remove or Discard.
type EvictCallback[V any] func(key string, value V)

func validateKey(key, method string) error {
	if key == "" {
		return errors.WrapInvalid(errors.ErrInvalidData, "cache", method, "key cannot be empty")
	}
	return nil
}
