// Package vom is the durable virtual object manager of a unit.
//
// A unit with bounded memory may own an unbounded number of long-lived
// objects. Each object ("instance") belongs to a kind, keeps its state in one
// record of the unit's store, and is reached through a Representative. Only
// a bounded working set of instance state is held in memory at a time; the
// rest is reconstituted from the store on demand.
//
// # Kinds
//
// A kind is created once with a durable id and redefined in every later
// incarnation by binding behavior to the same handle:
//
//	makeCounter, err := m.VivifyKind(ctx, "counter",
//	    func(args ...any) (vom.State, error) {
//	        return vom.State{"count": args[0]}, nil
//	    },
//	    vom.Behavior{
//	        "incr": func(c *vom.Context, _ ...any) (any, error) {
//	            n, err := c.Get("count")
//	            if err != nil {
//	                return nil, err
//	            }
//	            return n.(int64) + 1, c.Set("count", n.(int64)+1)
//	        },
//	    })
//
// The handle lives in baggage under "counter_kindHandle", so the same tag
// maps to the same kind id after a restart. Redefining a kind with a
// different number of facets halts the unit.
//
// # Slots
//
// Instances are named by slots: o+v<kind>/<instance> for single-faceted
// kinds and o+v<kind>/<instance>:<facet> for each facet of a multi-faceted
// kind. Kind handles are o+v0/<kind> and weak stores o+w<id>. ValToSlot and
// SlotToVal are the only places where slots and in-memory values meet.
//
// # Identity
//
// The representative table holds weak pointers. A representative referenced
// anywhere in the program stays the canonical value of its slot, even after
// its instance state has been evicted from the cache: the next call simply
// reloads the state. Once nothing references it, the next resolution of the
// slot creates a fresh representative.
//
// # Cranks
//
// Work runs in cranks:
//
//	err := m.Crank(ctx, func(ctx context.Context) error {
//	    _, err := counter.Invoke(ctx, "incr")
//	    return err
//	})
//
// At the end of a crank every dirty instance is flushed and the store
// commits. Errors classified fatal, such as a failed flush, a corrupt state
// record or an unknown kind, abort the crank and halt the unit. Errors
// classified invalid, such as a weak store key without identity, are returned
// to the caller and the crank still commits.
//
// # Thread Safety
//
// A Manager and everything it returns are confined to the goroutine running
// the unit.
package vom
