package vom

import (
	"context"
	"fmt"
	"maps"
	"slices"

	"github.com/c360/vatdata/errors"
	"github.com/c360/vatdata/marshal"
	"github.com/c360/vatdata/slot"
)

// instance is the cached state of one virtual object, shared by all its facets.
// ephemeral lives only as long as this cache entry: it is never flushed and
// is gone once the instance is evicted.
type instance struct {
	kind      *kindInfo
	id        uint64
	base      string
	fields    map[string]marshal.CapData
	ephemeral map[string]any
}

// Representative is the in-memory stand-in for one facet of a virtual object.
// There is at most one live Representative per slot per incarnation.
type Representative struct {
	m        *Manager
	kind     *kindInfo
	instance uint64
	facet    int
	slot     string
	base     string
}

// Slot returns the representative's slot.
func (r *Representative) Slot() string { return r.slot }

// Kind returns the tag of the representative's kind.
func (r *Representative) Kind() string { return r.kind.tag }

// Facet returns the facet name, empty for single-faceted kinds.
func (r *Representative) Facet() string { return r.kind.facets[r.facet].Name }

// Methods returns the names of the methods this facet responds to, sorted.
func (r *Representative) Methods() []string {
	return slices.Sorted(maps.Keys(r.kind.facets[r.facet].Behavior))
}

func (r *Representative) String() string {
	return fmt.Sprintf("%s(%s)", r.kind.tag, r.slot)
}

// Invoke calls method with the instance's state materialized and pinned for
// the duration of the call.
func (r *Representative) Invoke(ctx context.Context, method string, args ...any) (result any, err error) {
	m := r.m
	if err := m.live("Invoke"); err != nil {
		return nil, err
	}
	fn, ok := r.kind.facets[r.facet].Behavior[method]
	if !ok {
		return nil, errors.WrapInvalid(ErrNoSuchMethod, "Representative", "Invoke",
			fmt.Sprintf("call %s on %s", method, r))
	}

	inst, err := m.acquire(ctx, r.kind, r.base)
	if err != nil {
		return nil, err
	}
	defer func() {
		if uerr := m.release(r.base); uerr != nil && err == nil {
			err = uerr
		}
	}()

	return fn(m.newContext(ctx, inst, r.facet), args...)
}

// Cohort is the ordered set of facets of one multi-faceted instance.
type Cohort struct {
	reps []*Representative
}

// Len returns the number of facets.
func (c *Cohort) Len() int { return len(c.reps) }

// At returns the i-th facet in definition order.
func (c *Cohort) At(i int) *Representative { return c.reps[i] }

// Facet returns the facet named name.
func (c *Cohort) Facet(name string) (*Representative, bool) {
	for _, r := range c.reps {
		if r.Facet() == name {
			return r, true
		}
	}
	return nil, false
}

// All returns every facet in definition order.
func (c *Cohort) All() []*Representative { return slices.Clone(c.reps) }

// Context is what a Method sees of its instance.
type Context struct {
	ctx   context.Context
	m     *Manager
	inst  *instance
	facet int
}

func (m *Manager) newContext(ctx context.Context, inst *instance, facet int) *Context {
	return &Context{ctx: ctx, m: m, inst: inst, facet: facet}
}

// Context returns the call's context.
func (c *Context) Context() context.Context { return c.ctx }

// Manager returns the owning manager.
func (c *Context) Manager() *Manager { return c.m }

// Get returns the current value of a state field.
func (c *Context) Get(field string) (any, error) {
	data, ok := c.inst.fields[field]
	if !ok {
		return nil, errors.WrapInvalid(ErrUnknownField, "Context", "Get",
			fmt.Sprintf("read %s of %s", field, c.inst.base))
	}
	return c.m.marshaler.Unserialize(c.ctx, data)
}

// Set replaces the value of a state field. The value is serialized at once,
// so a value that is not passable leaves the field untouched.
func (c *Context) Set(field string, v any) error {
	if _, ok := c.inst.fields[field]; !ok {
		return errors.WrapInvalid(ErrUnknownField, "Context", "Set",
			fmt.Sprintf("write %s of %s", field, c.inst.base))
	}
	data, err := c.m.marshaler.Serialize(v)
	if err != nil {
		return err
	}
	c.inst.fields[field] = data
	c.m.cache.MarkDirty(c.inst.base)
	return nil
}

// Ephemeral returns the instance's in-memory scratch map, shared by its
// facets. It is never written to the store and starts empty whenever the
// instance is reconstituted, so a reanimate hook is the place to rebuild it.
func (c *Context) Ephemeral() map[string]any {
	if c.inst.ephemeral == nil {
		c.inst.ephemeral = make(map[string]any)
	}
	return c.inst.ephemeral
}

// Fields returns the names of the state fields, sorted.
func (c *Context) Fields() []string {
	return slices.Sorted(maps.Keys(c.inst.fields))
}

// Self returns the representative of the facet being invoked.
func (c *Context) Self() *Representative {
	return c.m.representative(c.inst.kind, c.inst.id, c.facet)
}

// Facets returns every facet of the instance.
func (c *Context) Facets() *Cohort {
	return c.m.cohort(c.inst.kind, c.inst.id)
}

// construct allocates an instance number, runs init, caches the new state
// dirty and pinned, runs the finish hook, then returns one representative per facet.
func (m *Manager) construct(ctx context.Context, k *kindInfo, args []any) (reps []*Representative, err error) {
	if err := m.live("construct"); err != nil {
		return nil, err
	}

	id, err := m.allocate(ctx, instanceCounterKey(k.id))
	if err != nil {
		return nil, err
	}
	base := slot.Encode(k.id, id)

	state, err := m.runInit(k, base, args)
	if err != nil {
		return nil, m.fail(errors.Wrap(err, "Manager", "construct", "initialize "+k.tag))
	}

	inst := &instance{kind: k, id: id, base: base, fields: make(map[string]marshal.CapData, len(state))}
	for name, v := range state {
		data, err := m.marshaler.Serialize(v)
		if err != nil {
			return nil, errors.Wrap(err, "Manager", "construct", fmt.Sprintf("serialize %s.%s", k.tag, name))
		}
		inst.fields[name] = data
	}

	if err := m.cache.Insert(base, inst, true, true); err != nil {
		return nil, m.fail(err)
	}
	defer func() {
		if uerr := m.release(base); uerr != nil && err == nil {
			reps, err = nil, uerr
		}
	}()
	if m.metrics != nil {
		m.metrics.instancesCreated.Inc()
	}

	if k.finish != nil {
		if err := k.finish(m.newContext(ctx, inst, 0)); err != nil {
			return nil, m.fail(errors.Wrap(err, "Manager", "construct", "finish "+k.tag))
		}
	}
	return m.cohort(k, id).All(), nil
}

// runInit marks base as loading while init runs, so init cannot resolve the
// slot it is constructing.
func (m *Manager) runInit(k *kindInfo, base string, args []any) (State, error) {
	m.cache.BeginLoad(base)
	defer m.cache.EndLoad(base)
	return k.init(args...)
}

// acquire materializes and pins an instance. The caller owns one release.
func (m *Manager) acquire(ctx context.Context, k *kindInfo, base string) (*instance, error) {
	cached := m.cache.Contains(base)
	inst, err := m.cache.Acquire(base, func() (*instance, error) {
		return m.load(ctx, k, base)
	})
	if err != nil {
		return nil, m.fail(err)
	}
	if !cached && k.reanimate != nil {
		if err := k.reanimate(m.newContext(ctx, inst, 0)); err != nil {
			// Dropping the entry also drops its pin and anything the hook
			// wrote, so the next access reloads and reanimates again.
			m.cache.Remove(base)
			return nil, m.fail(errors.Wrap(err, "Manager", "acquire", "reanimate "+base))
		}
	}
	return inst, nil
}

func (m *Manager) release(base string) error {
	return m.fail(m.cache.Unpin(base))
}

// load reads an instance's state record.
func (m *Manager) load(ctx context.Context, k *kindInfo, base string) (*instance, error) {
	raw, ok, err := m.store.Get(ctx, stateKey(base))
	if err != nil {
		return nil, errors.Wrap(err, "Manager", "load", "read "+base)
	}
	if !ok {
		if k.deletable {
			return nil, errors.WrapInvalid(ErrInstanceDeleted, "Manager", "load", "read "+base)
		}
		return nil, errors.WrapFatal(errors.ErrDataCorrupted, "Manager", "load",
			"missing state record for "+base)
	}
	fields, err := marshal.DecodeFields(raw)
	if err != nil {
		return nil, err
	}
	ref, err := slot.Decode(base)
	if err != nil {
		return nil, err
	}
	m.logger.Debug("Instance reconstituted", "slot", base)
	return &instance{kind: k, id: ref.Instance, base: base, fields: fields}, nil
}

// Delete removes an instance of a Deletable kind. Representatives of the
// instance still held by callers fail with ErrInstanceDeleted afterwards.
func (m *Manager) Delete(ctx context.Context, r *Representative) error {
	if err := m.live("Delete"); err != nil {
		return err
	}
	if r == nil || r.m != m {
		return errors.WrapInvalid(ErrForeignValue, "Manager", "Delete", "check representative")
	}
	if !r.kind.deletable {
		return errors.WrapInvalid(ErrNotDeletable, "Manager", "Delete", "delete "+r.slot)
	}
	if m.cache.Pins(r.base) > 0 {
		return errors.WrapInvalid(ErrInstanceInUse, "Manager", "Delete", "delete "+r.slot)
	}

	_, ok, err := m.store.Get(ctx, stateKey(r.base))
	if err != nil {
		return m.fail(errors.Wrap(err, "Manager", "Delete", "read "+r.base))
	}
	if !ok && !m.cache.Contains(r.base) {
		return errors.WrapInvalid(ErrInstanceDeleted, "Manager", "Delete", "delete "+r.slot)
	}

	m.cache.Remove(r.base)
	if err := m.store.Delete(ctx, stateKey(r.base)); err != nil {
		return m.fail(errors.Wrap(err, "Manager", "Delete", "delete "+r.base))
	}
	if m.metrics != nil {
		m.metrics.instancesDeleted.Inc()
	}
	m.logger.Debug("Instance deleted", "slot", r.base)
	return nil
}
