package sqlstore

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/vatdata/errors"
	"github.com/c360/vatdata/storage"
)

func TestStore_ApplyGetList(t *testing.T) {
	ctx := context.Background()
	s, err := Open(ctx, ":memory:", nil)
	require.NoError(t, err)
	defer s.Close()

	require.NoError(t, s.Apply(ctx, []storage.Write{
		{Key: "vom.kind.1", Value: `{"kindID":1}`},
		{Key: "vom.kind.2", Value: `{"kindID":2}`},
		{Key: "vom.o+v1/1", Value: "\x00\xa1binary"},
		{Key: "vom.nextKindID", Value: "3"},
	}))

	value, found, err := s.Get(ctx, "vom.o+v1/1")
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, "\x00\xa1binary", value)

	keys, err := s.List(ctx, "vom.kind.")
	require.NoError(t, err)
	assert.Equal(t, []string{"vom.kind.1", "vom.kind.2"}, keys)

	require.NoError(t, s.Apply(ctx, []storage.Write{
		{Key: "vom.kind.1", Delete: true},
		{Key: "vom.nextKindID", Value: "4"},
	}))

	_, found, err = s.Get(ctx, "vom.kind.1")
	require.NoError(t, err)
	assert.False(t, found)

	value, _, err = s.Get(ctx, "vom.nextKindID")
	require.NoError(t, err)
	assert.Equal(t, "4", value)
}

func TestStore_SurvivesReopen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "unit", "vat.db")

	s, err := Open(ctx, path, nil)
	require.NoError(t, err)
	require.NoError(t, s.Apply(ctx, []storage.Write{{Key: "vom.nextKindID", Value: "7"}}))
	require.NoError(t, s.Close())

	s, err = Open(ctx, path, nil)
	require.NoError(t, err)
	defer s.Close()

	value, found, err := s.Get(ctx, "vom.nextKindID")
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, "7", value)
	assert.Equal(t, path, s.Path())
}

func TestStore_ApplyCanceledLeavesNoPartialBatch(t *testing.T) {
	ctx := context.Background()
	s, err := Open(ctx, ":memory:", nil)
	require.NoError(t, err)
	defer s.Close()

	canceled, cancel := context.WithCancel(ctx)
	cancel()
	err = s.Apply(canceled, []storage.Write{{Key: "a", Value: "1"}, {Key: "b", Value: "2"}})
	require.Error(t, err)

	keys, err := s.List(ctx, "")
	require.NoError(t, err)
	assert.Empty(t, keys)
}

func TestOpen_EmptyPath(t *testing.T) {
	_, err := Open(context.Background(), "", nil)
	assert.True(t, errors.IsInvalid(err))
}
