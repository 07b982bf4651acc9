package marshal

import (
	"fmt"

	"github.com/fxamacker/cbor/v2"

	"github.com/c360/vatdata/errors"
)

// EncodeRecord encodes a CapData for storage.
func EncodeRecord(data CapData) (string, error) {
	b, err := encMode.Marshal(data)
	if err != nil {
		return "", errors.WrapInvalid(err, "marshal", "EncodeRecord", "encode record")
	}
	return string(b), nil
}

// DecodeRecord decodes a CapData previously produced by EncodeRecord. A record
// that does not decode is corruption.
func DecodeRecord(raw string) (CapData, error) {
	var data CapData
	if err := decMode.Unmarshal([]byte(raw), &data); err != nil {
		return CapData{}, errors.WrapFatal(errors.ErrDataCorrupted, "marshal", "DecodeRecord",
			fmt.Sprintf("decode record: %v", err))
	}
	return data, nil
}

// EncodeFields encodes a set of named CapData values, the shape of a virtual
// object's state record.
func EncodeFields(fields map[string]CapData) (string, error) {
	b, err := encMode.Marshal(fields)
	if err != nil {
		return "", errors.WrapInvalid(err, "marshal", "EncodeFields", "encode fields")
	}
	return string(b), nil
}

// DecodeFields decodes a state record produced by EncodeFields.
func DecodeFields(raw string) (map[string]CapData, error) {
	var fields map[string]CapData
	if err := decMode.Unmarshal([]byte(raw), &fields); err != nil {
		return nil, errors.WrapFatal(errors.ErrDataCorrupted, "marshal", "DecodeFields",
			fmt.Sprintf("decode fields: %v", err))
	}
	if fields == nil {
		fields = make(map[string]CapData)
	}
	return fields, nil
}

// Diagnose renders raw CBOR in extended diagnostic notation.
func Diagnose(raw []byte) (string, error) {
	return cbor.Diagnose(raw)
}
