package vom

import (
	"context"
	"fmt"
	"strings"
	"weak"

	"github.com/c360/vatdata/errors"
	"github.com/c360/vatdata/slot"
)

// ValToSlot returns the slot of a representative, kind handle or weak store
// owned by this manager. It never touches the store.
func (m *Manager) ValToSlot(v any) (string, bool) {
	switch x := v.(type) {
	case *Representative:
		if x != nil && x.m == m {
			return x.slot, true
		}
	case *KindHandle:
		if x != nil && x.m == m {
			return x.Slot(), true
		}
	case *WeakStore:
		if x != nil && x.m == m {
			return x.Slot(), true
		}
	}
	return "", false
}

// SlotToVal returns the value a slot names. A representative still held by
// any caller is returned as is; otherwise the instance's state is
// materialized through the cache and a new representative is registered.
//
// A slot of a kind not defined in this incarnation, or a corrupt virtual
// slot, halts the unit. A slot that is valid but not virtual is returned as
// an invalid-class error.
func (m *Manager) SlotToVal(ctx context.Context, s string) (any, error) {
	if err := m.live("SlotToVal"); err != nil {
		return nil, err
	}

	if strings.HasPrefix(s, "o+w") {
		id, err := slot.DecodeWeakStore(s)
		if err != nil {
			return nil, m.fail(err)
		}
		return m.weakStore(ctx, id)
	}

	ref, err := slot.Decode(s)
	if err != nil {
		return nil, m.fail(err)
	}
	if ref.IsKindHandle() {
		return m.kindHandle(ctx, ref.Instance)
	}
	if rep := m.lookupRep(s); rep != nil {
		return rep, nil
	}

	k, ok := m.kinds[ref.KindID]
	if !ok {
		return nil, m.fail(errors.WrapFatal(ErrUnknownKind, "Manager", "SlotToVal",
			fmt.Sprintf("resolve %s: kind %d not defined", s, ref.KindID)))
	}
	if k.multi != ref.HasFacet || (k.multi && int(ref.Facet) >= len(k.facets)) {
		return nil, m.fail(errors.WrapFatal(slot.ErrMalformedSlot, "Manager", "SlotToVal",
			fmt.Sprintf("resolve %s: kind %s has %d facets", s, k.tag, len(k.facets))))
	}

	base := ref.Base().String()
	if _, err := m.acquire(ctx, k, base); err != nil {
		return nil, err
	}
	if err := m.release(base); err != nil {
		return nil, err
	}
	return m.representative(k, ref.Instance, int(ref.Facet)), nil
}

// representative returns the canonical representative for one facet,
// creating and registering it if none is alive.
func (m *Manager) representative(k *kindInfo, instance uint64, facet int) *Representative {
	s := k.slotOf(instance, facet)
	if rep := m.lookupRep(s); rep != nil {
		return rep
	}
	rep := &Representative{
		m:        m,
		kind:     k,
		instance: instance,
		facet:    facet,
		slot:     s,
		base:     slot.Encode(k.id, instance),
	}
	m.reps[s] = weak.Make(rep)
	return rep
}

func (m *Manager) cohort(k *kindInfo, instance uint64) *Cohort {
	reps := make([]*Representative, len(k.facets))
	for i := range k.facets {
		reps[i] = m.representative(k, instance, i)
	}
	return &Cohort{reps: reps}
}

func (m *Manager) lookupRep(s string) *Representative {
	wp, ok := m.reps[s]
	if !ok {
		return nil
	}
	if rep := wp.Value(); rep != nil {
		return rep
	}
	delete(m.reps, s)
	return nil
}

// pruneReps drops table entries whose representative has been collected.
func (m *Manager) pruneReps() int {
	pruned := 0
	for s, wp := range m.reps {
		if wp.Value() == nil {
			delete(m.reps, s)
			pruned++
		}
	}
	return pruned
}

// LiveRepresentatives returns the number of registered representatives that
// have not been collected.
func (m *Manager) LiveRepresentatives() int {
	n := 0
	for _, wp := range m.reps {
		if wp.Value() != nil {
			n++
		}
	}
	return n
}

func (m *Manager) kindHandle(ctx context.Context, id uint64) (*KindHandle, error) {
	if h, ok := m.handles[id]; ok {
		return h, nil
	}
	d, err := m.readDescriptor(ctx, id)
	if err != nil {
		return nil, err
	}
	h := &KindHandle{m: m, id: id, tag: d.Tag}
	m.handles[id] = h
	return h, nil
}

func (m *Manager) weakStore(ctx context.Context, id uint64) (*WeakStore, error) {
	if ws, ok := m.weakStores[id]; ok {
		return ws, nil
	}
	next, err := m.readCounter(ctx, nextWeakStoreIDKey)
	if err != nil {
		return nil, err
	}
	if id == 0 || id >= next {
		return nil, m.fail(errors.WrapFatal(errors.ErrDataCorrupted, "Manager", "SlotToVal",
			fmt.Sprintf("weak store %d was never allocated", id)))
	}
	ws := &WeakStore{m: m, id: id}
	m.weakStores[id] = ws
	return ws, nil
}

func baseOf(s string) (string, error) {
	return slot.BaseSlot(s)
}
