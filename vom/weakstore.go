package vom

import (
	"context"
	"fmt"

	"github.com/c360/vatdata/errors"
	"github.com/c360/vatdata/marshal"
	"github.com/c360/vatdata/slot"
)

// WeakStore is a durable map keyed by identity: representatives, kind
// handles and other weak stores. Entries are never removed automatically.
// Every call reads or writes the store directly.
type WeakStore struct {
	m  *Manager
	id uint64
}

// MakeWeakStore allocates a new weak store.
func (m *Manager) MakeWeakStore(ctx context.Context) (*WeakStore, error) {
	if err := m.live("MakeWeakStore"); err != nil {
		return nil, err
	}
	id, err := m.allocate(ctx, nextWeakStoreIDKey)
	if err != nil {
		return nil, err
	}
	ws := &WeakStore{m: m, id: id}
	m.weakStores[id] = ws
	return ws, nil
}

// ID returns the store id.
func (ws *WeakStore) ID() uint64 { return ws.id }

// Slot returns the store's slot, o+w<id>.
func (ws *WeakStore) Slot() string { return slot.EncodeWeakStore(ws.id) }

func (ws *WeakStore) key(method string, k any) (string, error) {
	if err := ws.m.live("WeakStore." + method); err != nil {
		return "", err
	}
	s, ok := ws.m.ValToSlot(k)
	if !ok {
		return "", errors.WrapInvalid(ErrNotIdentityKey, "WeakStore", method, fmt.Sprintf("use %T as key", k))
	}
	return weakStoreKey(ws.id, s), nil
}

// Get returns the value stored under key.
func (ws *WeakStore) Get(ctx context.Context, key any) (any, bool, error) {
	sk, err := ws.key("Get", key)
	if err != nil {
		return nil, false, err
	}
	raw, ok, err := ws.m.store.Get(ctx, sk)
	if err != nil {
		return nil, false, ws.m.fail(errors.Wrap(err, "WeakStore", "Get", "read "+sk))
	}
	if !ok {
		return nil, false, nil
	}
	v, err := ws.m.decodeValue(ctx, raw)
	if err != nil {
		return nil, false, ws.m.fail(err)
	}
	return v, true, nil
}

// Has reports whether key is present. A key without identity is never present.
func (ws *WeakStore) Has(ctx context.Context, key any) (bool, error) {
	sk, err := ws.key("Has", key)
	if errors.Is(err, ErrNotIdentityKey) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	_, ok, err := ws.m.store.Get(ctx, sk)
	if err != nil {
		return false, ws.m.fail(errors.Wrap(err, "WeakStore", "Has", "read "+sk))
	}
	return ok, nil
}

// Set stores value under key, replacing any previous value.
func (ws *WeakStore) Set(ctx context.Context, key, value any) error {
	sk, err := ws.key("Set", key)
	if err != nil {
		return err
	}
	return ws.put(ctx, "Set", sk, value)
}

// Init stores value under key, failing if key is already present.
func (ws *WeakStore) Init(ctx context.Context, key, value any) error {
	sk, err := ws.key("Init", key)
	if err != nil {
		return err
	}
	_, ok, err := ws.m.store.Get(ctx, sk)
	if err != nil {
		return ws.m.fail(errors.Wrap(err, "WeakStore", "Init", "read "+sk))
	}
	if ok {
		return errors.WrapInvalid(ErrKeyExists, "WeakStore", "Init", "init "+sk)
	}
	return ws.put(ctx, "Init", sk, value)
}

// Delete removes key, failing if it is absent.
func (ws *WeakStore) Delete(ctx context.Context, key any) error {
	sk, err := ws.key("Delete", key)
	if err != nil {
		return err
	}
	_, ok, err := ws.m.store.Get(ctx, sk)
	if err != nil {
		return ws.m.fail(errors.Wrap(err, "WeakStore", "Delete", "read "+sk))
	}
	if !ok {
		return errors.WrapInvalid(errors.ErrKeyNotFound, "WeakStore", "Delete", "delete "+sk)
	}
	if err := ws.m.store.Delete(ctx, sk); err != nil {
		return ws.m.fail(errors.Wrap(err, "WeakStore", "Delete", "delete "+sk))
	}
	return nil
}

func (ws *WeakStore) put(ctx context.Context, method, sk string, value any) error {
	raw, err := ws.m.encodeValue(value)
	if err != nil {
		return err
	}
	if err := ws.m.store.Set(ctx, sk, raw); err != nil {
		return ws.m.fail(errors.Wrap(err, "WeakStore", method, "write "+sk))
	}
	return nil
}

// encodeValue serializes a value into a standalone record.
func (m *Manager) encodeValue(v any) (string, error) {
	data, err := m.marshaler.Serialize(v)
	if err != nil {
		return "", err
	}
	return marshal.EncodeRecord(data)
}

func (m *Manager) decodeValue(ctx context.Context, raw string) (any, error) {
	data, err := marshal.DecodeRecord(raw)
	if err != nil {
		return nil, err
	}
	return m.marshaler.Unserialize(ctx, data)
}
