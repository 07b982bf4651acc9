package vom

import (
	"context"
	"strings"

	"github.com/c360/vatdata/errors"
)

// Baggage is the unit's durable root map, available before any kind is
// defined. Values go through the same codec as instance state, so kind
// handles, representatives and weak stores stored here resolve again after
// a restart once their kinds are redefined.
type Baggage struct {
	m *Manager
}

func (b *Baggage) check(method, name string) error {
	if err := b.m.live("Baggage." + method); err != nil {
		return err
	}
	if name == "" {
		return errors.WrapInvalid(nil, "Baggage", method, "key cannot be empty")
	}
	return nil
}

// Get returns the value stored under name.
func (b *Baggage) Get(ctx context.Context, name string) (any, bool, error) {
	if err := b.check("Get", name); err != nil {
		return nil, false, err
	}
	raw, ok, err := b.m.store.Get(ctx, baggageKey(name))
	if err != nil {
		return nil, false, b.m.fail(errors.Wrap(err, "Baggage", "Get", "read "+name))
	}
	if !ok {
		return nil, false, nil
	}
	v, err := b.m.decodeValue(ctx, raw)
	if err != nil {
		return nil, false, b.m.fail(err)
	}
	return v, true, nil
}

// Has reports whether name is present.
func (b *Baggage) Has(ctx context.Context, name string) (bool, error) {
	if err := b.check("Has", name); err != nil {
		return false, err
	}
	_, ok, err := b.m.store.Get(ctx, baggageKey(name))
	if err != nil {
		return false, b.m.fail(errors.Wrap(err, "Baggage", "Has", "read "+name))
	}
	return ok, nil
}

// Set stores value under name.
func (b *Baggage) Set(ctx context.Context, name string, value any) error {
	if err := b.check("Set", name); err != nil {
		return err
	}
	return b.put(ctx, "Set", name, value)
}

// Init stores value under name, failing if name is already present.
func (b *Baggage) Init(ctx context.Context, name string, value any) error {
	ok, err := b.Has(ctx, name)
	if err != nil {
		return err
	}
	if ok {
		return errors.WrapInvalid(ErrKeyExists, "Baggage", "Init", "init "+name)
	}
	return b.put(ctx, "Init", name, value)
}

// Delete removes name, failing if it is absent.
func (b *Baggage) Delete(ctx context.Context, name string) error {
	ok, err := b.Has(ctx, name)
	if err != nil {
		return err
	}
	if !ok {
		return errors.WrapInvalid(errors.ErrKeyNotFound, "Baggage", "Delete", "delete "+name)
	}
	if err := b.m.store.Delete(ctx, baggageKey(name)); err != nil {
		return b.m.fail(errors.Wrap(err, "Baggage", "Delete", "delete "+name))
	}
	return nil
}

// Keys returns every name in baggage, sorted.
func (b *Baggage) Keys(ctx context.Context) ([]string, error) {
	if err := b.m.live("Baggage.Keys"); err != nil {
		return nil, err
	}
	keys, err := b.m.store.Keys(ctx, baggagePrefix)
	if err != nil {
		return nil, b.m.fail(errors.Wrap(err, "Baggage", "Keys", "list keys"))
	}
	names := make([]string, len(keys))
	for i, k := range keys {
		names[i] = strings.TrimPrefix(k, baggagePrefix)
	}
	return names, nil
}

// Provide returns the value under name, storing the result of makeFn first
// if name is absent.
func (b *Baggage) Provide(ctx context.Context, name string, makeFn func() (any, error)) (any, error) {
	v, ok, err := b.Get(ctx, name)
	if err != nil {
		return nil, err
	}
	if ok {
		return v, nil
	}
	v, err = makeFn()
	if err != nil {
		return nil, err
	}
	if err := b.Init(ctx, name, v); err != nil {
		return nil, err
	}
	return v, nil
}

func (b *Baggage) put(ctx context.Context, method, name string, value any) error {
	raw, err := b.m.encodeValue(value)
	if err != nil {
		return err
	}
	if err := b.m.store.Set(ctx, baggageKey(name), raw); err != nil {
		return b.m.fail(errors.Wrap(err, "Baggage", method, "write "+name))
	}
	return nil
}
