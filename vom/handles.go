package vom

import "github.com/c360/vatdata/slot"

// KindHandle is the durable capability naming a kind. It serializes as
// o+v0/<kindID> so it can be kept in baggage across restarts.
type KindHandle struct {
	m   *Manager
	id  uint64
	tag string
}

// KindID returns the durable kind id.
func (h *KindHandle) KindID() uint64 { return h.id }

// Tag returns the kind's logical name.
func (h *KindHandle) Tag() string { return h.tag }

// Slot returns the handle's slot.
func (h *KindHandle) Slot() string { return slot.EncodeKindHandle(h.id) }

func (h *KindHandle) String() string { return "KindHandle(" + h.tag + ")" }
