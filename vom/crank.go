package vom

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/c360/vatdata/errors"
	"github.com/c360/vatdata/metric"
)

// Crank runs fn as one unit of work and checkpoints its effects.
//
// After fn returns, every dirty cached instance is flushed and the store
// commits. An ordinary error from fn is returned after the commit. A fatal
// error, a panic, or a failed flush or commit instead discards every
// uncommitted write together with the cache and halts the unit: every later
// call returns ErrUnitHalted.
func (m *Manager) Crank(ctx context.Context, fn func(ctx context.Context) error) error {
	if err := m.live("Crank"); err != nil {
		return err
	}
	if m.crankCtx != nil {
		return errors.WrapInvalid(ErrNestedCrank, "Manager", "Crank", "start crank")
	}
	if ctx == nil {
		ctx = context.Background()
	}
	m.crankCtx = ctx
	defer func() { m.crankCtx = nil }()
	start := time.Now()

	fnErr := m.run(ctx, fn)
	if errors.IsDeclaredFatal(fnErr) {
		m.fail(fnErr)
	}
	if m.halted != nil {
		return m.abort(start)
	}

	if err := m.cache.FlushAll(); err != nil {
		m.fail(err)
		return m.abort(start)
	}
	if err := m.store.Commit(ctx); err != nil {
		m.fail(errors.WrapFatal(err, "Manager", "Crank", "commit"))
		return m.abort(start)
	}

	if n := m.pruneReps(); n > 0 {
		m.logger.Debug("Pruned collected representatives", "count", n)
	}
	if m.core != nil {
		m.core.RecordCrank(m.unit, metric.OutcomeCommitted, time.Since(start))
	}
	return fnErr
}

// run calls fn, turning a panic into a fatal error.
func (m *Manager) run(ctx context.Context, fn func(ctx context.Context) error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = errors.WrapFatal(fmt.Errorf("panic: %v", r), "Manager", "Crank", "run crank")
		}
	}()
	return fn(ctx)
}

func (m *Manager) abort(start time.Time) error {
	m.store.Abort()
	m.cache.Discard()
	if m.core != nil {
		m.core.RecordCrank(m.unit, metric.OutcomeAborted, time.Since(start))
	}
	m.logger.Warn("Crank aborted", "error", m.halted)
	return errors.WrapFatal(m.halted, "Manager", "Crank", "run crank")
}

// Entry is one key of a store dump.
type Entry struct {
	Key   string `json:"key" yaml:"key"`
	Value string `json:"value" yaml:"value"`
}

// DumpStore returns every key the manager has written, committed or staged,
// in key order. Dirty state still in the cache is not included.
func (m *Manager) DumpStore(ctx context.Context) ([]Entry, error) {
	keys, err := m.store.Keys(ctx, keyPrefix)
	if err != nil {
		return nil, errors.Wrap(err, "Manager", "DumpStore", "list keys")
	}
	sort.Strings(keys)
	out := make([]Entry, 0, len(keys))
	for _, k := range keys {
		v, ok, err := m.store.Get(ctx, k)
		if err != nil {
			return nil, errors.Wrap(err, "Manager", "DumpStore", "read "+k)
		}
		if ok {
			out = append(out, Entry{Key: k, Value: v})
		}
	}
	return out, nil
}

// IsValueKey reports whether a dumped key holds a single marshaled value:
// a weak store entry or a baggage entry.
func IsValueKey(key string) bool {
	return strings.HasPrefix(key, baggagePrefix) || strings.HasPrefix(key, weakStorePrefix)
}

// IsStateKey reports whether a dumped key holds a virtual object's state record.
func IsStateKey(key string) bool {
	return strings.HasPrefix(key, keyPrefix+"o+v")
}
