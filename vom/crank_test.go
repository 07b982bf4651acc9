package vom_test

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/vatdata/errors"
	"github.com/c360/vatdata/storage"
	"github.com/c360/vatdata/storage/memstore"
	"github.com/c360/vatdata/vom"
	"github.com/c360/vatdata/vom/vomtest"
)

// setupCounter commits one counter kind with a single instance starting at 10.
func setupCounter(t *testing.T, u *vomtest.Unit) *vom.Representative {
	t.Helper()
	var r *vom.Representative
	u.Crank(func(ctx context.Context) error {
		makeCounter, err := defineCounter(ctx, u.Manager)
		require.NoError(t, err)
		r, err = makeCounter(ctx, 10)
		return err
	})
	return r
}

// committedCount reads the counter's value after a restart.
func committedCount(t *testing.T, u *vomtest.Unit) int64 {
	t.Helper()
	m := u.Restart()
	var n int64
	u.Crank(func(ctx context.Context) error {
		_, err := defineCounter(ctx, m)
		require.NoError(t, err)
		v, err := m.SlotToVal(ctx, "o+v1/1")
		require.NoError(t, err)
		n = invokeInt(t, ctx, v.(*vom.Representative), "get")
		return nil
	})
	return n
}

func TestCrank_CommitsOnSuccess(t *testing.T) {
	u := vomtest.New(t)
	r := setupCounter(t, u)

	u.Crank(func(ctx context.Context) error {
		_, err := r.Invoke(ctx, "incr")
		return err
	})
	assert.Equal(t, int64(11), committedCount(t, u))
}

func TestCrank_InvalidErrorStillCommits(t *testing.T) {
	u := vomtest.New(t)
	m := u.Manager
	r := setupCounter(t, u)

	err := m.Crank(context.Background(), func(ctx context.Context) error {
		if _, err := r.Invoke(ctx, "incr"); err != nil {
			return err
		}
		ws, err := m.MakeWeakStore(ctx)
		if err != nil {
			return err
		}
		return ws.Set(ctx, "not an object", 1)
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, vom.ErrNotIdentityKey)
	assert.NoError(t, m.Halted())
	assert.Equal(t, int64(11), committedCount(t, u))
}

func TestCrank_UnclassifiedErrorsDoNotHalt(t *testing.T) {
	u := vomtest.New(t)
	m := u.Manager
	r := setupCounter(t, u)

	memoBehavior := vom.Behavior{
		"review": vom.IgnoreContext(func(...any) (any, error) {
			return nil, fmt.Errorf("memo looks corrupt, rejected")
		}),
	}
	memoInit := func(args ...any) (vom.State, error) {
		if len(args) > 0 {
			return nil, fmt.Errorf("panic: memo %v is fatal to the budget", args[0])
		}
		return vom.State{"text": ""}, nil
	}

	err := m.Crank(context.Background(), func(ctx context.Context) error {
		if _, err := r.Invoke(ctx, "incr"); err != nil {
			return err
		}
		makeMemo, err := m.VivifyKind(ctx, "memo", memoInit, memoBehavior)
		require.NoError(t, err)

		_, err = makeMemo(ctx, "overspend")
		require.Error(t, err)
		assert.NoError(t, m.Halted())

		memo, err := makeMemo(ctx)
		require.NoError(t, err)
		_, err = memo.Invoke(ctx, "review")
		return err
	})
	require.Error(t, err)
	assert.Equal(t, "memo looks corrupt, rejected", err.Error())
	assert.NoError(t, m.Halted())
	assert.Equal(t, int64(11), committedCount(t, u))
}

func TestCrank_FatalErrorDiscardsWrites(t *testing.T) {
	u := vomtest.New(t)
	m := u.Manager
	r := setupCounter(t, u)
	before := u.Committed()

	err := m.Crank(context.Background(), func(ctx context.Context) error {
		for i := 0; i < 3; i++ {
			if _, err := r.Invoke(ctx, "incr"); err != nil {
				return err
			}
		}
		if _, err := m.MakeWeakStore(ctx); err != nil {
			return err
		}
		return errors.WrapFatal(errors.ErrDataCorrupted, "test", "crank", "detect corruption")
	})
	require.Error(t, err)
	assert.True(t, errors.IsFatal(err))
	assert.Equal(t, before, u.Committed(), "nothing from the aborted crank reached the store")
	assert.Zero(t, m.CachedCount())

	_, err = r.Invoke(context.Background(), "get")
	assert.ErrorIs(t, err, vom.ErrUnitHalted)
	err = m.Crank(context.Background(), func(context.Context) error { return nil })
	assert.ErrorIs(t, err, vom.ErrUnitHalted)

	assert.Equal(t, int64(10), committedCount(t, u))
}

func TestCrank_PanicHalts(t *testing.T) {
	u := vomtest.New(t)
	m := u.Manager
	r := setupCounter(t, u)

	err := m.Crank(context.Background(), func(ctx context.Context) error {
		if _, err := r.Invoke(ctx, "incr"); err != nil {
			return err
		}
		panic("method blew up")
	})
	require.Error(t, err)
	assert.True(t, errors.IsFatal(err))
	assert.Contains(t, err.Error(), "method blew up")
	assert.Error(t, m.Halted())
	assert.Equal(t, int64(10), committedCount(t, u))
}

func TestCrank_PanicInsideMethodRestoresPins(t *testing.T) {
	u := vomtest.New(t, vom.WithCacheSize(1))
	m := u.Manager

	u.Crank(func(ctx context.Context) error {
		makeBomb, err := m.VivifyKind(ctx, "bomb", counterInit, vom.Behavior{
			"explode": func(*vom.Context, ...any) (any, error) { panic("kaboom") },
		})
		require.NoError(t, err)
		r, err := makeBomb(ctx)
		require.NoError(t, err)

		func() {
			defer func() { assert.Equal(t, "kaboom", recover()) }()
			_, _ = r.Invoke(ctx, "explode")
		}()

		_, err = makeBomb(ctx)
		require.NoError(t, err)
		assert.False(t, m.Cached(r.Slot()), "the exploded instance was unpinned and could be evicted")
		return nil
	})
	assert.NoError(t, m.Halted())
}

func TestCrank_CommitFailureHalts(t *testing.T) {
	u := vomtest.New(t)
	m := u.Manager
	r := setupCounter(t, u)

	u.Store.FailNextApply(fmt.Errorf("disk gone"))
	err := m.Crank(context.Background(), func(ctx context.Context) error {
		_, err := r.Invoke(ctx, "incr")
		return err
	})
	require.Error(t, err)
	assert.True(t, errors.IsFatal(err))
	assert.Contains(t, err.Error(), "disk gone")

	_, err = r.Invoke(context.Background(), "incr")
	assert.ErrorIs(t, err, vom.ErrUnitHalted)
	assert.Equal(t, int64(10), committedCount(t, u))
}

func TestCrank_FlushFailureHalts(t *testing.T) {
	u := vomtest.NewWithStorage(t, []storage.Option{storage.WithMaxValueSize(1024)}, vom.WithCacheSize(1))
	m := u.Manager

	err := m.Crank(context.Background(), func(ctx context.Context) error {
		makeCounter, err := defineCounter(ctx, m)
		require.NoError(t, err)
		a, err := makeCounter(ctx)
		require.NoError(t, err)
		// A value too large for the store fails when a's state is flushed.
		_, err = a.Invoke(ctx, "setLabel", string(make([]byte, 2048)))
		require.NoError(t, err)
		_, err = makeCounter(ctx)
		return err
	})
	require.Error(t, err)
	assert.True(t, errors.IsFatal(err))
	assert.Empty(t, u.Committed())
}

func TestCrank_Nested(t *testing.T) {
	u := vomtest.New(t)
	m := u.Manager

	var inner error
	u.Crank(func(ctx context.Context) error {
		inner = m.Crank(ctx, func(context.Context) error { return nil })
		return nil
	})
	assert.ErrorIs(t, inner, vom.ErrNestedCrank)
	assert.NoError(t, m.Halted())
}

func TestDumpStore_KeyKinds(t *testing.T) {
	u := vomtest.New(t)
	m := u.Manager
	r := setupCounter(t, u)
	u.Crank(func(ctx context.Context) error {
		ws, err := m.MakeWeakStore(ctx)
		require.NoError(t, err)
		require.NoError(t, ws.Set(ctx, r, "tagged"))
		return m.Baggage().Set(ctx, "store", ws)
	})

	entries, err := m.DumpStore(context.Background())
	require.NoError(t, err)

	var state, values, other []string
	for _, e := range entries {
		switch {
		case vom.IsStateKey(e.Key):
			state = append(state, e.Key)
		case vom.IsValueKey(e.Key):
			values = append(values, e.Key)
		default:
			other = append(other, e.Key)
		}
	}
	assert.Equal(t, []string{"vom.o+v1/1"}, state)
	assert.Contains(t, values, "vom.ws1.o+v1/1")
	assert.Contains(t, values, "vom.baggage.store")
	assert.Contains(t, other, "vom.kind.1")
	assert.Contains(t, other, "vom.nextWeakStoreID")
}

type crankKey struct{}

// ctxRecordingTxn records, for every state record write, which crank's
// context it carried.
type ctxRecordingTxn struct {
	storage.Txn
	seen map[string]any
}

func (r *ctxRecordingTxn) Set(ctx context.Context, key, value string) error {
	if vom.IsStateKey(key) {
		r.seen[key] = ctx.Value(crankKey{})
	}
	return r.Txn.Set(ctx, key, value)
}

func TestCrank_FlushesUseCrankContext(t *testing.T) {
	adapter, err := storage.NewAdapter(memstore.New())
	require.NoError(t, err)
	txn := &ctxRecordingTxn{Txn: adapter, seen: make(map[string]any)}
	m, err := vom.NewManager(txn, vom.WithCacheSize(1), vom.WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))))
	require.NoError(t, err)

	ctx := context.WithValue(context.Background(), crankKey{}, "first")
	require.NoError(t, m.Crank(ctx, func(ctx context.Context) error {
		makeCounter, err := defineCounter(ctx, m)
		require.NoError(t, err)
		for i := 0; i < 3; i++ {
			if _, err := makeCounter(ctx, i); err != nil {
				return err
			}
		}
		return nil
	}))

	// o+v1/1 and o+v1/2 were flushed by eviction, o+v1/3 at crank end
	assert.Equal(t, map[string]any{
		"vom.o+v1/1": "first",
		"vom.o+v1/2": "first",
		"vom.o+v1/3": "first",
	}, txn.seen)
}
