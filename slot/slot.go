// Package slot encodes and decodes the reference identifiers ("slots") that a
// unit uses to name objects, promises and devices across its boundary.
//
// Virtual object slots have the form
//
//	o+v<kindID>/<instance>[:<facet>]
//
// where kind id 0 is reserved for kind handles. Durable weak stores use
// o+w<storeID>. Every other well-formed slot (o+N, o-N, p+N, p-N, d+N, d-N) is
// a valid reference that simply is not a virtual object.
package slot

import (
	stderrors "errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/c360/vatdata/errors"
)

// HandleKindID is the kind id reserved for kind handles.
const HandleKindID uint64 = 0

const (
	virtualPrefix   = "o+v"
	weakStorePrefix = "o+w"
)

var (
	// ErrMalformedSlot means a string claiming to be a virtual object slot
	// failed structural validation. Callers treat it as store corruption.
	ErrMalformedSlot = stderrors.New("malformed virtual object slot")
	// ErrNotVirtual means the slot is a valid reference of another kind.
	ErrNotVirtual = stderrors.New("not a virtual object slot")
	// ErrUnrecognized means the string is not a slot at all.
	ErrUnrecognized = stderrors.New("unrecognized slot")
)

// Type is the reference type encoded in the first character of a slot.
type Type byte

const (
	TypeObject  Type = 'o'
	TypePromise Type = 'p'
	TypeDevice  Type = 'd'
)

// String returns the human-readable name of the type.
func (t Type) String() string {
	switch t {
	case TypeObject:
		return "object"
	case TypePromise:
		return "promise"
	case TypeDevice:
		return "device"
	default:
		return "unknown"
	}
}

// Info describes any well-formed slot.
type Info struct {
	Type Type
	// Allocated is true when the unit itself allocated the id ("+").
	Allocated bool
	// Virtual is true for virtual object and kind handle slots.
	Virtual bool
	// WeakStore is true for durable weak store slots.
	WeakStore bool
}

// Ref is a decoded virtual object slot.
type Ref struct {
	KindID   uint64
	Instance uint64
	Facet    uint32
	HasFacet bool
}

// String re-encodes the reference.
func (r Ref) String() string {
	if r.HasFacet {
		return EncodeFacet(r.KindID, r.Instance, r.Facet)
	}
	return Encode(r.KindID, r.Instance)
}

// Base returns the reference without its facet, naming the shared instance.
func (r Ref) Base() Ref {
	return Ref{KindID: r.KindID, Instance: r.Instance}
}

// IsKindHandle reports whether the reference names a kind handle.
func (r Ref) IsKindHandle() bool {
	return r.KindID == HandleKindID
}

// Encode returns the slot of a single-faceted instance.
func Encode(kindID, instance uint64) string {
	return virtualPrefix + strconv.FormatUint(kindID, 10) + "/" + strconv.FormatUint(instance, 10)
}

// EncodeFacet returns the slot of one facet of a multi-faceted instance.
func EncodeFacet(kindID, instance uint64, facet uint32) string {
	return Encode(kindID, instance) + ":" + strconv.FormatUint(uint64(facet), 10)
}

// EncodeKindHandle returns the slot of the kind handle for kindID.
func EncodeKindHandle(kindID uint64) string {
	return Encode(HandleKindID, kindID)
}

// EncodeWeakStore returns the slot of a durable weak store.
func EncodeWeakStore(storeID uint64) string {
	return weakStorePrefix + strconv.FormatUint(storeID, 10)
}

// Decode parses a virtual object slot. A valid slot of another kind yields an
// invalid-class error wrapping ErrNotVirtual; a corrupt virtual slot yields a
// fatal-class error wrapping ErrMalformedSlot.
func Decode(s string) (Ref, error) {
	if !strings.HasPrefix(s, virtualPrefix) {
		info, err := Parse(s)
		if err != nil {
			return Ref{}, err
		}
		return Ref{}, errors.WrapInvalid(ErrNotVirtual, "slot", "Decode",
			fmt.Sprintf("decode %s slot %q", info.Type, s))
	}

	ref, ok := decodeVirtual(s[len(virtualPrefix):])
	if !ok {
		return Ref{}, errors.WrapFatal(ErrMalformedSlot, "slot", "Decode", fmt.Sprintf("decode %q", s))
	}
	return ref, nil
}

// DecodeWeakStore parses a weak store slot and returns the store id.
func DecodeWeakStore(s string) (uint64, error) {
	rest, ok := strings.CutPrefix(s, weakStorePrefix)
	if !ok {
		return 0, errors.WrapInvalid(ErrUnrecognized, "slot", "DecodeWeakStore", fmt.Sprintf("decode %q", s))
	}
	id, ok := parseCanonical(rest)
	if !ok {
		return 0, errors.WrapFatal(ErrMalformedSlot, "slot", "DecodeWeakStore", fmt.Sprintf("decode %q", s))
	}
	return id, nil
}

// Parse classifies any slot without requiring it to be virtual.
func Parse(s string) (Info, error) {
	if len(s) < 3 {
		return Info{}, errors.WrapInvalid(ErrUnrecognized, "slot", "Parse", fmt.Sprintf("parse %q", s))
	}

	info := Info{Type: Type(s[0])}
	switch info.Type {
	case TypeObject, TypePromise, TypeDevice:
	default:
		return Info{}, errors.WrapInvalid(ErrUnrecognized, "slot", "Parse", fmt.Sprintf("parse %q", s))
	}

	switch s[1] {
	case '+':
		info.Allocated = true
	case '-':
	default:
		return Info{}, errors.WrapInvalid(ErrUnrecognized, "slot", "Parse", fmt.Sprintf("parse %q", s))
	}

	switch {
	case strings.HasPrefix(s, virtualPrefix):
		if _, ok := decodeVirtual(s[len(virtualPrefix):]); !ok {
			return Info{}, errors.WrapFatal(ErrMalformedSlot, "slot", "Parse", fmt.Sprintf("parse %q", s))
		}
		info.Virtual = true
	case strings.HasPrefix(s, weakStorePrefix):
		if _, ok := parseCanonical(s[len(weakStorePrefix):]); !ok {
			return Info{}, errors.WrapFatal(ErrMalformedSlot, "slot", "Parse", fmt.Sprintf("parse %q", s))
		}
		info.WeakStore = true
	default:
		if _, ok := parseCanonical(s[2:]); !ok {
			return Info{}, errors.WrapInvalid(ErrUnrecognized, "slot", "Parse", fmt.Sprintf("parse %q", s))
		}
	}
	return info, nil
}

// IsVirtual reports whether s is a well-formed virtual object slot.
func IsVirtual(s string) bool {
	_, err := Decode(s)
	return err == nil
}

// BaseSlot strips the facet from a virtual object slot.
func BaseSlot(s string) (string, error) {
	ref, err := Decode(s)
	if err != nil {
		return "", err
	}
	return ref.Base().String(), nil
}

// decodeVirtual parses "<kind>/<instance>[:<facet>]".
func decodeVirtual(body string) (Ref, bool) {
	kindPart, rest, ok := strings.Cut(body, "/")
	if !ok {
		return Ref{}, false
	}
	kindID, ok := parseCanonical(kindPart)
	if !ok {
		return Ref{}, false
	}

	instancePart, facetPart, hasFacet := strings.Cut(rest, ":")
	instance, ok := parseCanonical(instancePart)
	if !ok {
		return Ref{}, false
	}

	ref := Ref{KindID: kindID, Instance: instance}
	if hasFacet {
		facet, ok := parseCanonical(facetPart)
		if !ok || facet > uint64(^uint32(0)) {
			return Ref{}, false
		}
		if kindID == HandleKindID {
			// kind handles are never faceted
			return Ref{}, false
		}
		ref.Facet = uint32(facet)
		ref.HasFacet = true
	}
	return ref, true
}

// parseCanonical accepts only canonical unsigned decimals so that every
// accepted slot re-encodes to the identical string.
func parseCanonical(s string) (uint64, bool) {
	if s == "" || (len(s) > 1 && s[0] == '0') {
		return 0, false
	}
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return 0, false
		}
	}
	n, err := strconv.ParseUint(s, 10, 64)
	if err != nil {
		return 0, false
	}
	return n, true
}
