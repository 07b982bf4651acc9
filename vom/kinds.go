package vom

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/c360/vatdata/errors"
	"github.com/c360/vatdata/slot"
)

// State is the initial state of a new instance. Its keys fix the set of
// fields the instance has for its whole life.
type State map[string]any

// InitFunc computes the initial state of a new instance from the maker's arguments.
type InitFunc func(args ...any) (State, error)

// Method is one behavior entry. It runs with the instance pinned.
type Method func(c *Context, args ...any) (any, error)

// Behavior maps method names to methods.
type Behavior map[string]Method

// Facet is one named behavior of a multi-faceted kind.
type Facet struct {
	Name     string
	Behavior Behavior
}

// Hook runs with the instance pinned after construction or reconstitution.
type Hook func(c *Context) error

// Maker constructs a new instance of a single-faceted kind.
type Maker func(ctx context.Context, args ...any) (*Representative, error)

// MultiMaker constructs a new instance of a multi-faceted kind.
type MultiMaker func(ctx context.Context, args ...any) (*Cohort, error)

// KindOption configures a kind definition.
type KindOption func(*kindInfo)

// WithFinish runs fn once, right after an instance is constructed.
func WithFinish(fn Hook) KindOption {
	return func(k *kindInfo) { k.finish = fn }
}

// WithReanimate runs fn each time an instance's state is reconstituted from
// the store.
func WithReanimate(fn Hook) KindOption {
	return func(k *kindInfo) { k.reanimate = fn }
}

// Deletable allows Manager.Delete on instances of the kind.
func Deletable() KindOption {
	return func(k *kindInfo) { k.deletable = true }
}

// IgnoreContext adapts a function that does not need its instance into a Method.
func IgnoreContext(fn func(args ...any) (any, error)) Method {
	return func(_ *Context, args ...any) (any, error) {
		return fn(args...)
	}
}

// KindDescriptor is the durable description of a kind, stored at vom.kind.<id>.
type KindDescriptor struct {
	KindID  uint64   `json:"kindID"`
	Tag     string   `json:"tag"`
	Defined bool     `json:"defined,omitempty"`
	Facets  []string `json:"facets,omitempty"`
}

type kindInfo struct {
	id        uint64
	tag       string
	multi     bool
	facets    []Facet
	init      InitFunc
	finish    Hook
	reanimate Hook
	deletable bool
}

func (k *kindInfo) facetIndex(name string) (int, bool) {
	for i, f := range k.facets {
		if f.Name == name {
			return i, true
		}
	}
	return 0, false
}

func (k *kindInfo) slotOf(instance uint64, facet int) string {
	if k.multi {
		return slot.EncodeFacet(k.id, instance, uint32(facet))
	}
	return slot.Encode(k.id, instance)
}

// MakeKindHandle allocates a fresh kind id and records its descriptor.
func (m *Manager) MakeKindHandle(ctx context.Context, tag string) (*KindHandle, error) {
	if err := m.live("MakeKindHandle"); err != nil {
		return nil, err
	}
	if tag == "" {
		return nil, errors.WrapInvalid(nil, "Manager", "MakeKindHandle", "kind tag cannot be empty")
	}

	id, err := m.allocate(ctx, nextKindIDKey)
	if err != nil {
		return nil, err
	}
	if err := m.writeDescriptor(ctx, KindDescriptor{KindID: id, Tag: tag}); err != nil {
		return nil, err
	}

	h := &KindHandle{m: m, id: id, tag: tag}
	m.handles[id] = h
	m.logger.Debug("Kind handle created", "kind_id", id, "tag", tag)
	return h, nil
}

// ProvideKindHandle returns the kind handle stored in baggage under
// <tag>_kindHandle, creating it on first use. After a restart the same tag
// yields the same kind id.
func (m *Manager) ProvideKindHandle(ctx context.Context, tag string) (*KindHandle, error) {
	v, err := m.baggage.Provide(ctx, tag+"_kindHandle", func() (any, error) {
		return m.MakeKindHandle(ctx, tag)
	})
	if err != nil {
		return nil, err
	}
	h, ok := v.(*KindHandle)
	if !ok {
		return nil, errors.WrapInvalid(nil, "Manager", "ProvideKindHandle",
			fmt.Sprintf("baggage entry %s_kindHandle holds %T", tag, v))
	}
	return h, nil
}

// DefineKind binds behavior to a single-faceted kind for this incarnation.
func (m *Manager) DefineKind(ctx context.Context, h *KindHandle, init InitFunc, behavior Behavior, opts ...KindOption) (Maker, error) {
	k, err := m.define(ctx, h, init, false, []Facet{{Behavior: behavior}}, opts)
	if err != nil {
		return nil, err
	}
	return func(ctx context.Context, args ...any) (*Representative, error) {
		reps, err := m.construct(ctx, k, args)
		if err != nil {
			return nil, err
		}
		return reps[0], nil
	}, nil
}

// DefineKindMulti binds an ordered set of facets sharing one state to a kind.
func (m *Manager) DefineKindMulti(ctx context.Context, h *KindHandle, init InitFunc, facets []Facet, opts ...KindOption) (MultiMaker, error) {
	if len(facets) == 0 {
		return nil, errors.WrapInvalid(nil, "Manager", "DefineKindMulti", "at least one facet is required")
	}
	seen := make(map[string]bool, len(facets))
	for _, f := range facets {
		if f.Name == "" || seen[f.Name] {
			return nil, errors.WrapInvalid(nil, "Manager", "DefineKindMulti",
				fmt.Sprintf("facet names must be unique and non-empty, got %q", f.Name))
		}
		seen[f.Name] = true
	}

	k, err := m.define(ctx, h, init, true, facets, opts)
	if err != nil {
		return nil, err
	}
	return func(ctx context.Context, args ...any) (*Cohort, error) {
		reps, err := m.construct(ctx, k, args)
		if err != nil {
			return nil, err
		}
		return &Cohort{reps: reps}, nil
	}, nil
}

// VivifyKind provides the kind handle for tag and defines it.
func (m *Manager) VivifyKind(ctx context.Context, tag string, init InitFunc, behavior Behavior, opts ...KindOption) (Maker, error) {
	h, err := m.ProvideKindHandle(ctx, tag)
	if err != nil {
		return nil, err
	}
	return m.DefineKind(ctx, h, init, behavior, opts...)
}

// VivifyKindMulti provides the kind handle for tag and defines it with facets.
func (m *Manager) VivifyKindMulti(ctx context.Context, tag string, init InitFunc, facets []Facet, opts ...KindOption) (MultiMaker, error) {
	h, err := m.ProvideKindHandle(ctx, tag)
	if err != nil {
		return nil, err
	}
	return m.DefineKindMulti(ctx, h, init, facets, opts...)
}

// VivifySingleton defines a stateless kind for tag and provides its only
// instance in baggage under the_<tag>.
func (m *Manager) VivifySingleton(ctx context.Context, tag string, methods map[string]func(args ...any) (any, error), opts ...KindOption) (*Representative, error) {
	behavior := make(Behavior, len(methods))
	for name, fn := range methods {
		behavior[name] = IgnoreContext(fn)
	}
	makeSingleton, err := m.VivifyKind(ctx, tag, func(...any) (State, error) { return State{}, nil }, behavior, opts...)
	if err != nil {
		return nil, err
	}

	v, err := m.baggage.Provide(ctx, "the_"+tag, func() (any, error) {
		return makeSingleton(ctx)
	})
	if err != nil {
		return nil, err
	}
	rep, ok := v.(*Representative)
	if !ok {
		return nil, errors.WrapInvalid(nil, "Manager", "VivifySingleton",
			fmt.Sprintf("baggage entry the_%s holds %T", tag, v))
	}
	return rep, nil
}

// Kinds lists the descriptors of every kind ever created in the store.
func (m *Manager) Kinds(ctx context.Context) ([]KindDescriptor, error) {
	keys, err := m.store.Keys(ctx, kindPrefix)
	if err != nil {
		return nil, errors.Wrap(err, "Manager", "Kinds", "list kind keys")
	}
	var out []KindDescriptor
	for _, key := range keys {
		if strings.HasSuffix(key, nextIDSuffix) {
			continue
		}
		raw, ok, err := m.store.Get(ctx, key)
		if err != nil {
			return nil, errors.Wrap(err, "Manager", "Kinds", "read "+key)
		}
		if !ok {
			continue
		}
		var d KindDescriptor
		if err := json.Unmarshal([]byte(raw), &d); err != nil {
			return nil, errors.WrapFatal(errors.ErrDataCorrupted, "Manager", "Kinds", "decode "+key)
		}
		out = append(out, d)
	}
	return out, nil
}

func (m *Manager) define(ctx context.Context, h *KindHandle, init InitFunc, multi bool, facets []Facet, opts []KindOption) (*kindInfo, error) {
	if err := m.live("DefineKind"); err != nil {
		return nil, err
	}
	if h == nil || h.m != m {
		return nil, errors.WrapInvalid(ErrForeignValue, "Manager", "DefineKind", "check kind handle")
	}
	if init == nil {
		return nil, errors.WrapInvalid(nil, "Manager", "DefineKind", "init cannot be nil")
	}
	if _, ok := m.kinds[h.id]; ok {
		return nil, errors.WrapInvalid(ErrKindAlreadyDefined, "Manager", "DefineKind",
			fmt.Sprintf("define kind %d (%s)", h.id, h.tag))
	}

	d, err := m.readDescriptor(ctx, h.id)
	if err != nil {
		return nil, err
	}

	names := make([]string, 0, len(facets))
	if multi {
		for _, f := range facets {
			names = append(names, f.Name)
		}
	}
	if d.Defined && len(d.Facets) != len(names) {
		return nil, m.fail(errors.WrapFatal(ErrFacetMismatch, "Manager", "DefineKind",
			fmt.Sprintf("kind %d (%s) has %d facets, redefined with %d", h.id, h.tag, len(d.Facets), len(names))))
	}
	if !d.Defined {
		d.Defined = true
		d.Facets = names
		if err := m.writeDescriptor(ctx, d); err != nil {
			return nil, err
		}
	}

	k := &kindInfo{id: h.id, tag: h.tag, multi: multi, facets: facets, init: init}
	for _, opt := range opts {
		opt(k)
	}
	m.kinds[k.id] = k
	if m.metrics != nil {
		m.metrics.kindsDefined.Inc()
	}
	m.logger.Debug("Kind defined", "kind_id", k.id, "tag", k.tag, "facets", len(names))
	return k, nil
}

func (m *Manager) readDescriptor(ctx context.Context, id uint64) (KindDescriptor, error) {
	raw, ok, err := m.store.Get(ctx, kindKey(id))
	if err != nil {
		return KindDescriptor{}, m.fail(errors.Wrap(err, "Manager", "readDescriptor", "read "+kindKey(id)))
	}
	if !ok {
		return KindDescriptor{}, m.fail(errors.WrapFatal(ErrUnknownKind, "Manager", "readDescriptor",
			fmt.Sprintf("find descriptor for kind %d", id)))
	}
	var d KindDescriptor
	if err := json.Unmarshal([]byte(raw), &d); err != nil || d.KindID != id {
		return KindDescriptor{}, m.fail(errors.WrapFatal(errors.ErrDataCorrupted, "Manager", "readDescriptor",
			"decode "+kindKey(id)))
	}
	return d, nil
}

func (m *Manager) writeDescriptor(ctx context.Context, d KindDescriptor) error {
	raw, err := json.Marshal(d)
	if err != nil {
		return errors.WrapInvalid(err, "Manager", "writeDescriptor", "encode descriptor")
	}
	if err := m.store.Set(ctx, kindKey(d.KindID), string(raw)); err != nil {
		return m.fail(errors.Wrap(err, "Manager", "writeDescriptor", "write "+kindKey(d.KindID)))
	}
	return nil
}
