package slot

import (
	stderrors "errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/vatdata/errors"
)

func TestEncodeDecode_RoundTrip(t *testing.T) {
	tests := []struct {
		name string
		ref  Ref
		want string
	}{
		{"single facet", Ref{KindID: 3, Instance: 1}, "o+v3/1"},
		{"large numbers", Ref{KindID: 18446744073709551615, Instance: 42}, "o+v18446744073709551615/42"},
		{"with facet", Ref{KindID: 7, Instance: 12, Facet: 2, HasFacet: true}, "o+v7/12:2"},
		{"facet zero", Ref{KindID: 7, Instance: 12, Facet: 0, HasFacet: true}, "o+v7/12:0"},
		{"kind handle", Ref{KindID: HandleKindID, Instance: 9}, "o+v0/9"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			encoded := tt.ref.String()
			assert.Equal(t, tt.want, encoded)

			decoded, err := Decode(encoded)
			require.NoError(t, err)
			assert.Equal(t, tt.ref, decoded)
			assert.Equal(t, encoded, decoded.String())
		})
	}
}

func TestEncodeHelpers(t *testing.T) {
	assert.Equal(t, "o+v2/5", Encode(2, 5))
	assert.Equal(t, "o+v2/5:1", EncodeFacet(2, 5, 1))
	assert.Equal(t, "o+v0/4", EncodeKindHandle(4))
	assert.Equal(t, "o+w11", EncodeWeakStore(11))
}

func TestDecode_NotVirtual(t *testing.T) {
	for _, s := range []string{"o+5", "o-12", "p+3", "p-1", "d+0", "d-7", "o+w2"} {
		t.Run(s, func(t *testing.T) {
			_, err := Decode(s)
			require.Error(t, err)
			assert.True(t, stderrors.Is(err, ErrNotVirtual), "got %v", err)
			assert.True(t, errors.IsInvalid(err))
			assert.False(t, errors.IsFatal(err))
		})
	}
}

func TestDecode_Malformed(t *testing.T) {
	for _, s := range []string{
		"o+v", "o+v1", "o+v1/", "o+v/1", "o+vx/1", "o+v1/x",
		"o+v01/1", "o+v1/01", "o+v1/1:", "o+v1/1:x", "o+v1/1:01",
		"o+v1/1:4294967296", "o+v0/3:1", "o+v1/1/2", "o+v-1/2",
		"o+v18446744073709551616/1",
	} {
		t.Run(s, func(t *testing.T) {
			_, err := Decode(s)
			require.Error(t, err)
			assert.True(t, stderrors.Is(err, ErrMalformedSlot), "got %v", err)
			assert.True(t, errors.IsFatal(err))
		})
	}
}

func TestDecode_Unrecognized(t *testing.T) {
	for _, s := range []string{"", "x", "q+1", "o*1", "o+", "o+abc", "p+01"} {
		t.Run(s, func(t *testing.T) {
			_, err := Decode(s)
			require.Error(t, err)
			assert.True(t, stderrors.Is(err, ErrUnrecognized), "got %v", err)
			assert.False(t, errors.IsFatal(err))
		})
	}
}

func TestParse(t *testing.T) {
	info, err := Parse("o+v3/1:0")
	require.NoError(t, err)
	assert.Equal(t, Info{Type: TypeObject, Allocated: true, Virtual: true}, info)

	info, err = Parse("p-4")
	require.NoError(t, err)
	assert.Equal(t, Info{Type: TypePromise}, info)
	assert.Equal(t, "promise", info.Type.String())

	info, err = Parse("o+w9")
	require.NoError(t, err)
	assert.True(t, info.WeakStore)
	assert.False(t, info.Virtual)

	_, err = Parse("o+w09")
	assert.True(t, errors.IsFatal(err))
}

func TestDecodeWeakStore(t *testing.T) {
	id, err := DecodeWeakStore("o+w17")
	require.NoError(t, err)
	assert.Equal(t, uint64(17), id)

	_, err = DecodeWeakStore("o+v1/1")
	assert.True(t, stderrors.Is(err, ErrUnrecognized))

	_, err = DecodeWeakStore("o+wx")
	assert.True(t, stderrors.Is(err, ErrMalformedSlot))
}

func TestBaseSlot(t *testing.T) {
	base, err := BaseSlot("o+v4/8:3")
	require.NoError(t, err)
	assert.Equal(t, "o+v4/8", base)

	base, err = BaseSlot("o+v4/8")
	require.NoError(t, err)
	assert.Equal(t, "o+v4/8", base)

	assert.True(t, IsVirtual("o+v4/8"))
	assert.False(t, IsVirtual("o+8"))
}

func TestRef_IsKindHandle(t *testing.T) {
	assert.True(t, Ref{KindID: 0, Instance: 1}.IsKindHandle())
	assert.False(t, Ref{KindID: 1, Instance: 1}.IsKindHandle())
}
