package cache

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/vatdata/errors"
)

// recorder is a flush target that logs every write in order.
type recorder struct {
	store  map[string]string
	writes []string
	fail   error
}

func newRecorder() *recorder {
	return &recorder{store: make(map[string]string)}
}

func (r *recorder) flush(key, value string) error {
	if r.fail != nil {
		return r.fail
	}
	r.store[key] = value
	r.writes = append(r.writes, key)
	return nil
}

func newTestCache(t *testing.T, size int, r *recorder, opts ...Option[string]) *WriteBack[string] {
	t.Helper()
	c, err := NewWriteBack[string](size, r.flush, opts...)
	require.NoError(t, err)
	return c
}

func TestNewWriteBack_Validation(t *testing.T) {
	_, err := NewWriteBack[string](0, newRecorder().flush)
	assert.True(t, errors.IsInvalid(err))

	_, err = NewWriteBack[string](1, nil)
	assert.True(t, errors.IsInvalid(err))
}

func TestWriteBack_LookupAndRecency(t *testing.T) {
	c := newTestCache(t, 2, newRecorder())

	_, ok := c.Lookup("a")
	assert.False(t, ok)

	require.NoError(t, c.Insert("a", "1", false, false))
	require.NoError(t, c.Insert("b", "2", false, false))
	_, ok = c.Lookup("a")
	require.True(t, ok)
	assert.Equal(t, []string{"a", "b"}, c.Keys())

	// c evicts b, the least recently used.
	require.NoError(t, c.Insert("c", "3", false, false))
	assert.ElementsMatch(t, []string{"a", "c"}, c.Keys())
	assert.Equal(t, int64(1), c.Stats().Evictions())
	assert.Equal(t, int64(1), c.Stats().Hits())
	assert.Equal(t, int64(1), c.Stats().Misses())
}

func TestWriteBack_FlushBeforeEvict(t *testing.T) {
	r := newRecorder()
	var evicted []string
	var flushedAtEviction []bool

	c := newTestCache(t, 1, r, WithEvictionCallback[string](func(key, _ string) {
		evicted = append(evicted, key)
		_, written := r.store[key]
		flushedAtEviction = append(flushedAtEviction, written)
	}))

	require.NoError(t, c.Insert("a", "A1", true, false))
	require.NoError(t, c.Insert("b", "B1", false, false))

	assert.Equal(t, []string{"a"}, evicted)
	assert.Equal(t, []bool{true}, flushedAtEviction, "dirty entry written before removal")
	assert.Equal(t, "A1", r.store["a"])

	// Clean entries are evicted without a write.
	require.NoError(t, c.Insert("c", "C1", false, false))
	assert.Equal(t, []string{"a"}, r.writes)
	assert.Equal(t, []string{"a", "b"}, evicted)
}

func TestWriteBack_PinnedEntriesExceedBoundTransiently(t *testing.T) {
	c := newTestCache(t, 1, newRecorder())

	require.NoError(t, c.Insert("a", "1", false, true))
	require.NoError(t, c.Insert("b", "2", false, true))
	require.NoError(t, c.Insert("c", "3", false, true))
	assert.Equal(t, 3, c.Len())
	assert.Equal(t, 0, c.Unpinned())

	require.NoError(t, c.Unpin("c"))
	assert.Equal(t, 2, c.Len(), "unpinned c is evicted while a and b stay pinned")

	require.NoError(t, c.Unpin("b"))
	require.NoError(t, c.Unpin("a"))
	assert.Equal(t, 1, c.Len())
	assert.LessOrEqual(t, c.Unpinned(), c.MaxSize())
}

func TestWriteBack_PinCountsNest(t *testing.T) {
	c := newTestCache(t, 1, newRecorder())

	require.NoError(t, c.Insert("a", "1", false, true))
	assert.True(t, c.Pin("a"))
	assert.False(t, c.Pin("missing"))
	assert.Equal(t, 2, c.Pins("a"))

	require.NoError(t, c.Insert("b", "2", false, false))
	require.NoError(t, c.Unpin("a"))
	assert.True(t, c.Contains("a"), "still pinned once")

	require.NoError(t, c.Unpin("a"))
	require.NoError(t, c.Unpin("a"), "extra unpin is a no-op")
	require.NoError(t, c.Unpin("missing"))
	assert.Equal(t, 1, c.Len())
}

func TestWriteBack_BoundHoldsAfterEveryOperation(t *testing.T) {
	const size = 3
	c := newTestCache(t, size, newRecorder())

	for i := 0; i < 50; i++ {
		key := fmt.Sprintf("k%d", i%11)
		pinned := i%4 == 0
		require.NoError(t, c.Insert(key, fmt.Sprint(i), i%2 == 0, pinned))
		if pinned {
			require.NoError(t, c.Unpin(key))
		}
		assert.LessOrEqual(t, c.Unpinned(), size, "after insert %d", i)
		assert.LessOrEqual(t, c.Len(), size, "no pins outstanding after %d", i)
	}
}

func TestWriteBack_MarkDirtyAndFlush(t *testing.T) {
	r := newRecorder()
	c := newTestCache(t, 4, r)

	assert.False(t, c.MarkDirty("a"))
	require.NoError(t, c.Insert("a", "1", false, false))
	require.NoError(t, c.Insert("b", "2", false, false))
	assert.True(t, c.MarkDirty("a"))
	assert.True(t, c.IsDirty("a"))

	require.NoError(t, c.Flush("a"))
	assert.False(t, c.IsDirty("a"))
	require.NoError(t, c.Flush("a"), "clean flush writes nothing")
	require.NoError(t, c.Flush("missing"))
	assert.Equal(t, []string{"a"}, r.writes)
}

func TestWriteBack_FlushAllOrderAndFailure(t *testing.T) {
	r := newRecorder()
	c := newTestCache(t, 4, r)

	require.NoError(t, c.Insert("a", "1", true, false))
	require.NoError(t, c.Insert("b", "2", true, false))
	require.NoError(t, c.Insert("c", "3", false, false))

	require.NoError(t, c.FlushAll())
	assert.Equal(t, []string{"a", "b"}, r.writes, "least recently used first")
	assert.Equal(t, int64(2), c.Stats().Flushes())

	c.MarkDirty("c")
	r.fail = fmt.Errorf("disk full")
	err := c.FlushAll()
	require.Error(t, err)
	assert.True(t, errors.IsFatal(err))
	assert.True(t, c.IsDirty("c"), "failed flush keeps the entry dirty")
}

func TestWriteBack_EvictionFlushFailureIsFatal(t *testing.T) {
	r := newRecorder()
	c := newTestCache(t, 1, r)

	require.NoError(t, c.Insert("a", "1", true, false))
	r.fail = fmt.Errorf("write refused")

	err := c.Insert("b", "2", false, false)
	require.Error(t, err)
	assert.True(t, errors.IsFatal(err))
	assert.True(t, c.Contains("a"), "dirty entry is not dropped when its flush fails")
}

func TestWriteBack_Materialize(t *testing.T) {
	c := newTestCache(t, 2, newRecorder())

	loads := 0
	load := func() (string, error) {
		loads++
		return "loaded", nil
	}

	v, err := c.Materialize("a", load)
	require.NoError(t, err)
	assert.Equal(t, "loaded", v)

	v, err = c.Materialize("a", load)
	require.NoError(t, err)
	assert.Equal(t, "loaded", v)
	assert.Equal(t, 1, loads)
	assert.False(t, c.IsDirty("a"))

	_, err = c.Materialize("", load)
	assert.True(t, errors.IsInvalid(err))
}

func TestWriteBack_MaterializeLoaderError(t *testing.T) {
	c := newTestCache(t, 2, newRecorder())

	_, err := c.Materialize("a", func() (string, error) { return "", fmt.Errorf("gone") })
	require.Error(t, err)
	assert.False(t, c.Contains("a"))
	assert.False(t, c.Loading("a"))
}

func TestWriteBack_ReentrantMaterialize(t *testing.T) {
	c := newTestCache(t, 2, newRecorder())

	var inner error
	_, err := c.Materialize("a", func() (string, error) {
		_, inner = c.Materialize("a", func() (string, error) { return "nested", nil })
		return "outer", nil
	})
	require.NoError(t, err)
	require.Error(t, inner)
	assert.ErrorIs(t, inner, ErrReentrantMaterialize)
	assert.True(t, errors.IsInvalid(inner))

	c.BeginLoad("b")
	_, err = c.Materialize("b", func() (string, error) { return "x", nil })
	assert.ErrorIs(t, err, ErrReentrantMaterialize)
	c.EndLoad("b")
}

func TestWriteBack_RemoveAndDiscard(t *testing.T) {
	r := newRecorder()
	c := newTestCache(t, 4, r)

	require.NoError(t, c.Insert("a", "1", true, false))
	require.NoError(t, c.Insert("b", "2", true, true))

	v, ok := c.Remove("a")
	assert.True(t, ok)
	assert.Equal(t, "1", v)
	_, ok = c.Remove("a")
	assert.False(t, ok)

	c.Discard()
	assert.Equal(t, 0, c.Len())
	assert.Empty(t, r.writes, "neither Remove nor Discard flushes")
}

func TestStatistics_Summary(t *testing.T) {
	s := NewStatistics()
	s.Hit()
	s.Hit()
	s.Miss()
	s.UpdateSize(5)
	s.UpdateSize(2)

	sum := s.Summary()
	assert.Equal(t, int64(2), sum.Hits)
	assert.Equal(t, int64(2), sum.CurrentSize)
	assert.Equal(t, int64(5), sum.MaxSize)
	assert.InDelta(t, 2.0/3.0, sum.HitRatio, 1e-9)
	assert.Equal(t, 0.0, NewStatistics().HitRatio())
}

func TestWriteBack_AcquirePinsBeforeEviction(t *testing.T) {
	c := newTestCache(t, 1, newRecorder())

	require.NoError(t, c.Insert("held", "h", false, true))

	v, err := c.Acquire("fresh", func() (string, error) { return "f", nil })
	require.NoError(t, err)
	assert.Equal(t, "f", v)
	assert.True(t, c.Contains("fresh"), "acquired entry survives its own insertion")
	assert.Equal(t, 1, c.Pins("fresh"))

	_, err = c.Acquire("fresh", func() (string, error) { return "", fmt.Errorf("not called") })
	require.NoError(t, err)
	assert.Equal(t, 2, c.Pins("fresh"))

	require.NoError(t, c.Unpin("fresh"))
	require.NoError(t, c.Unpin("fresh"))
	assert.False(t, c.Contains("fresh"))
	assert.True(t, c.Contains("held"))
}
