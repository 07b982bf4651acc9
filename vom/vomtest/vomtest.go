// Package vomtest builds virtual object managers over an in-memory store for
// tests, with restarts that keep only committed state.
package vomtest

import (
	"context"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/c360/vatdata/storage"
	"github.com/c360/vatdata/storage/memstore"
	"github.com/c360/vatdata/vom"
)

// Unit is a manager plus the backend it persists into.
type Unit struct {
	t           testing.TB
	opts        []vom.Option
	storageOpts []storage.Option
	Store       *memstore.Store
	Adapter     *storage.Adapter
	Manager     *vom.Manager
}

// New creates a unit with a fresh in-memory store. Logging is discarded
// unless opts set a logger.
func New(t testing.TB, opts ...vom.Option) *Unit {
	t.Helper()
	return NewWithStorage(t, nil, opts...)
}

// NewWithStorage is New with options for the store adapter.
func NewWithStorage(t testing.TB, storageOpts []storage.Option, opts ...vom.Option) *Unit {
	t.Helper()
	quiet := vom.WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil)))
	u := &Unit{
		t:           t,
		opts:        append([]vom.Option{quiet}, opts...),
		storageOpts: storageOpts,
		Store:       memstore.New(),
	}
	u.start()
	return u
}

// Restart drops the current incarnation, including anything not committed,
// and starts a new manager over the same store.
func (u *Unit) Restart() *vom.Manager {
	u.t.Helper()
	u.Adapter.Abort()
	u.start()
	return u.Manager
}

// Crank runs fn in a crank and fails the test on error.
func (u *Unit) Crank(fn func(ctx context.Context) error) {
	u.t.Helper()
	require.NoError(u.t, u.Manager.Crank(context.Background(), fn))
}

// Committed returns a copy of the committed store contents.
func (u *Unit) Committed() map[string]string {
	return u.Store.Snapshot()
}

func (u *Unit) start() {
	u.t.Helper()
	adapter, err := storage.NewAdapter(u.Store, u.storageOpts...)
	require.NoError(u.t, err)
	m, err := vom.NewManager(adapter, u.opts...)
	require.NoError(u.t, err)
	u.Adapter = adapter
	u.Manager = m
}
