// Package marshal converts values to and from CapData, the reference-annotated
// form used for every durable state record of a unit.
//
// The body is canonical CBOR. A value the unit can name by slot is replaced in
// the body by CBOR tag 27001 around its index into Slots, so the same value
// always serializes to the same bytes and references survive restarts as
// slots rather than pointers.
package marshal

import (
	"context"
	stderrors "errors"
	"fmt"
	"math"
	"reflect"

	"github.com/fxamacker/cbor/v2"

	"github.com/c360/vatdata/errors"
)

// ReferenceTag is the CBOR tag number wrapping a slot index.
const ReferenceTag uint64 = 27001

// maxDepth bounds nesting so that cyclic containers are rejected.
const maxDepth = 64

var (
	// ErrNotPassable means a value has no serialized form.
	ErrNotPassable = stderrors.New("value is not passable")
	// ErrBadReference means a body refers to a slot index it does not carry.
	ErrBadReference = stderrors.New("reference index out of range")
)

var (
	encMode cbor.EncMode
	decMode cbor.DecMode
)

func init() {
	em, err := cbor.CanonicalEncOptions().EncMode()
	if err != nil {
		panic(fmt.Sprintf("marshal: failed to create CBOR enc mode: %v", err))
	}
	encMode = em

	dm, err := cbor.DecOptions{
		DefaultMapType: reflect.TypeOf(map[string]any(nil)),
		IntDec:         cbor.IntDecConvertSignedOrFail,
	}.DecMode()
	if err != nil {
		panic(fmt.Sprintf("marshal: failed to create CBOR dec mode: %v", err))
	}
	decMode = dm
}

// CapData is a serialized value plus the slots it references.
type CapData struct {
	Body  []byte   `cbor:"1,keyasint" json:"body"`
	Slots []string `cbor:"2,keyasint,omitempty" json:"slots,omitempty"`
}

// ValToSlotFunc names a value by slot. It reports false for values the unit
// has no slot for.
type ValToSlotFunc func(v any) (string, bool)

// SlotToValFunc resolves a slot back into a value.
type SlotToValFunc func(ctx context.Context, slot string) (any, error)

// Marshaler serializes values through a pair of slot conversion functions.
type Marshaler struct {
	valToSlot ValToSlotFunc
	slotToVal SlotToValFunc
}

// New creates a Marshaler. Either function may be nil, in which case no value
// is treated as a reference, or any reference fails to unserialize.
func New(valToSlot ValToSlotFunc, slotToVal SlotToValFunc) *Marshaler {
	return &Marshaler{valToSlot: valToSlot, slotToVal: slotToVal}
}

// Serialize encodes v. Values outside the passable set yield an invalid-class
// error wrapping ErrNotPassable.
func (m *Marshaler) Serialize(v any) (CapData, error) {
	enc := &encoder{m: m, index: make(map[string]int)}
	tree, err := enc.walk(v, 0)
	if err != nil {
		return CapData{}, err
	}
	body, err := encMode.Marshal(tree)
	if err != nil {
		return CapData{}, errors.WrapInvalid(err, "Marshaler", "Serialize", "encode body")
	}
	return CapData{Body: body, Slots: enc.slots}, nil
}

// Unserialize decodes data, resolving each reference through the slot
// function. Integers come back as int64, maps as map[string]any and lists as
// []any.
func (m *Marshaler) Unserialize(ctx context.Context, data CapData) (any, error) {
	var tree any
	if err := decMode.Unmarshal(data.Body, &tree); err != nil {
		return nil, errors.WrapFatal(errors.ErrDataCorrupted, "Marshaler", "Unserialize",
			fmt.Sprintf("decode body: %v", err))
	}
	dec := &decoder{m: m, slots: data.Slots, resolved: make(map[int]any)}
	return dec.walk(ctx, tree)
}

type encoder struct {
	m     *Marshaler
	slots []string
	index map[string]int
}

func (e *encoder) ref(s string) cbor.Tag {
	i, ok := e.index[s]
	if !ok {
		i = len(e.slots)
		e.slots = append(e.slots, s)
		e.index[s] = i
	}
	return cbor.Tag{Number: ReferenceTag, Content: uint64(i)}
}

func (e *encoder) walk(v any, depth int) (any, error) {
	if depth > maxDepth {
		return nil, notPassable(v, "nesting too deep")
	}

	switch x := v.(type) {
	case nil, bool, string, []byte,
		int, int8, int16, int32, int64,
		uint8, uint16, uint32,
		float32, float64:
		return x, nil
	case uint:
		return checkUnsigned(v, uint64(x))
	case uint64:
		return checkUnsigned(v, x)
	}

	if e.m.valToSlot != nil {
		if s, ok := e.m.valToSlot(v); ok {
			return e.ref(s), nil
		}
	}

	switch x := v.(type) {
	case []any:
		out := make([]any, len(x))
		for i, item := range x {
			w, err := e.walk(item, depth+1)
			if err != nil {
				return nil, err
			}
			out[i] = w
		}
		return out, nil
	case map[string]any:
		out := make(map[string]any, len(x))
		for k, item := range x {
			w, err := e.walk(item, depth+1)
			if err != nil {
				return nil, err
			}
			out[k] = w
		}
		return out, nil
	}

	// Typed slices and string-keyed maps are passable when their elements are.
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Slice, reflect.Array:
		out := make([]any, rv.Len())
		for i := range out {
			w, err := e.walk(rv.Index(i).Interface(), depth+1)
			if err != nil {
				return nil, err
			}
			out[i] = w
		}
		return out, nil
	case reflect.Map:
		if rv.Type().Key().Kind() != reflect.String {
			return nil, notPassable(v, "map key is not a string")
		}
		out := make(map[string]any, rv.Len())
		iter := rv.MapRange()
		for iter.Next() {
			w, err := e.walk(iter.Value().Interface(), depth+1)
			if err != nil {
				return nil, err
			}
			out[iter.Key().String()] = w
		}
		return out, nil
	case reflect.String:
		return rv.String(), nil
	}
	return nil, notPassable(v, "unsupported type")
}

// checkUnsigned admits unsigned values only while they fit in int64, the
// type every integer decodes to.
func checkUnsigned(v any, n uint64) (any, error) {
	if n > math.MaxInt64 {
		return nil, notPassable(v, "unsigned value exceeds int64")
	}
	return n, nil
}

func notPassable(v any, why string) error {
	return errors.WrapInvalid(ErrNotPassable, "Marshaler", "Serialize", fmt.Sprintf("%T: %s", v, why))
}

type decoder struct {
	m        *Marshaler
	slots    []string
	resolved map[int]any
}

func (d *decoder) walk(ctx context.Context, v any) (any, error) {
	switch x := v.(type) {
	case cbor.Tag:
		if x.Number != ReferenceTag {
			return nil, errors.WrapFatal(errors.ErrDataCorrupted, "Marshaler", "Unserialize",
				fmt.Sprintf("unexpected tag %d", x.Number))
		}
		return d.resolve(ctx, x.Content)
	case []any:
		for i, item := range x {
			w, err := d.walk(ctx, item)
			if err != nil {
				return nil, err
			}
			x[i] = w
		}
		return x, nil
	case map[string]any:
		for k, item := range x {
			w, err := d.walk(ctx, item)
			if err != nil {
				return nil, err
			}
			x[k] = w
		}
		return x, nil
	default:
		return x, nil
	}
}

func (d *decoder) resolve(ctx context.Context, content any) (any, error) {
	var i int
	switch n := content.(type) {
	case int64:
		i = int(n)
	case uint64:
		i = int(n)
	default:
		return nil, errors.WrapFatal(ErrBadReference, "Marshaler", "Unserialize",
			fmt.Sprintf("reference content %T", content))
	}
	if i < 0 || i >= len(d.slots) {
		return nil, errors.WrapFatal(ErrBadReference, "Marshaler", "Unserialize",
			fmt.Sprintf("index %d of %d slots", i, len(d.slots)))
	}
	if v, ok := d.resolved[i]; ok {
		return v, nil
	}
	if d.m.slotToVal == nil {
		return nil, errors.WrapInvalid(ErrNotPassable, "Marshaler", "Unserialize",
			fmt.Sprintf("no resolver for slot %s", d.slots[i]))
	}
	v, err := d.m.slotToVal(ctx, d.slots[i])
	if err != nil {
		return nil, errors.Wrap(err, "Marshaler", "Unserialize", fmt.Sprintf("resolve slot %s", d.slots[i]))
	}
	d.resolved[i] = v
	return v, nil
}
