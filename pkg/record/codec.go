package record

import (
	"errors"
	"fmt"
	"unicode/utf8"

	"google.golang.org/protobuf/encoding/protowire"
)

// MaxEncodedSize bounds the encoding of a single patient
const MaxEncodedSize = 1024

var (
	// ErrSerialization is returned when a record cannot be encoded or decoded
	ErrSerialization = errors.New("record serialization failed")
	// ErrRecordTooLarge is returned when an encoded record exceeds its bound
	ErrRecordTooLarge = errors.New("record too large")
)

// Field numbers of the wire encoding. They are part of the storage format.
const (
	fieldID              protowire.Number = 1
	fieldName            protowire.Number = 2
	fieldHistory         protowire.Number = 3
	fieldStaffName       protowire.Number = 4
	fieldCreatedAt       protowire.Number = 5
	fieldUpdatedAt       protowire.Number = 6
	fieldNextAppointment protowire.Number = 7
	fieldInClinic        protowire.Number = 8
)

// Encode serializes r in protobuf wire format. Zero values are omitted,
// except UpdatedAt which is written whenever it is set.
func Encode(r *Patient) ([]byte, error) {
	if r == nil {
		return nil, fmt.Errorf("%w: nil record", ErrSerialization)
	}
	if err := validate(r); err != nil {
		return nil, err
	}

	buf := make([]byte, 0, Size(r))
	buf = appendVarint(buf, fieldID, r.ID)
	buf = appendString(buf, fieldName, r.Name)
	buf = appendString(buf, fieldHistory, r.History)
	buf = appendString(buf, fieldStaffName, r.StaffName)
	buf = appendVarint(buf, fieldCreatedAt, r.CreatedAt)
	if r.UpdatedAt != nil {
		buf = protowire.AppendTag(buf, fieldUpdatedAt, protowire.VarintType)
		buf = protowire.AppendVarint(buf, *r.UpdatedAt)
	}
	buf = appendVarint(buf, fieldNextAppointment, r.NextAppointment)
	if r.InClinic {
		buf = appendVarint(buf, fieldInClinic, 1)
	}
	return buf, nil
}

// EncodeBounded encodes r and rejects encodings longer than max bytes
func EncodeBounded(r *Patient, max int) ([]byte, error) {
	if n := Size(r); n > max {
		return nil, fmt.Errorf("%w: %d bytes, limit %d", ErrRecordTooLarge, n, max)
	}
	return Encode(r)
}

// Size returns the length of the encoding of r without encoding it
func Size(r *Patient) int {
	if r == nil {
		return 0
	}
	n := varintSize(fieldID, r.ID) +
		stringSize(fieldName, r.Name) +
		stringSize(fieldHistory, r.History) +
		stringSize(fieldStaffName, r.StaffName) +
		varintSize(fieldCreatedAt, r.CreatedAt) +
		varintSize(fieldNextAppointment, r.NextAppointment)
	if r.UpdatedAt != nil {
		n += protowire.SizeTag(fieldUpdatedAt) + protowire.SizeVarint(*r.UpdatedAt)
	}
	if r.InClinic {
		n += varintSize(fieldInClinic, 1)
	}
	return n
}

// Decode parses a record produced by Encode. Unknown fields are skipped.
func Decode(data []byte) (*Patient, error) {
	r := &Patient{}
	for len(data) > 0 {
		num, typ, n := protowire.ConsumeTag(data)
		if n < 0 {
			return nil, decodeError(protowire.ParseError(n))
		}
		data = data[n:]

		switch {
		case typ == protowire.VarintType && isVarintField(num):
			v, n := protowire.ConsumeVarint(data)
			if n < 0 {
				return nil, decodeError(protowire.ParseError(n))
			}
			data = data[n:]
			setVarint(r, num, v)

		case typ == protowire.BytesType && isStringField(num):
			b, n := protowire.ConsumeBytes(data)
			if n < 0 {
				return nil, decodeError(protowire.ParseError(n))
			}
			data = data[n:]
			if !utf8.Valid(b) {
				return nil, fmt.Errorf("%w: field %d is not valid UTF-8", ErrSerialization, num)
			}
			setString(r, num, string(b))

		case isVarintField(num) || isStringField(num):
			return nil, fmt.Errorf("%w: field %d has wire type %d", ErrSerialization, num, typ)

		default:
			n := protowire.ConsumeFieldValue(num, typ, data)
			if n < 0 {
				return nil, decodeError(protowire.ParseError(n))
			}
			data = data[n:]
		}
	}
	return r, nil
}

func validate(r *Patient) error {
	for _, f := range []struct {
		name  string
		value string
	}{
		{"name", r.Name},
		{"history", r.History},
		{"associated_staff_name", r.StaffName},
	} {
		if !utf8.ValidString(f.value) {
			return fmt.Errorf("%w: %s is not valid UTF-8", ErrSerialization, f.name)
		}
	}
	return nil
}

func decodeError(err error) error {
	return fmt.Errorf("%w: %v", ErrSerialization, err)
}

func isVarintField(num protowire.Number) bool {
	switch num {
	case fieldID, fieldCreatedAt, fieldUpdatedAt, fieldNextAppointment, fieldInClinic:
		return true
	}
	return false
}

func isStringField(num protowire.Number) bool {
	switch num {
	case fieldName, fieldHistory, fieldStaffName:
		return true
	}
	return false
}

func setVarint(r *Patient, num protowire.Number, v uint64) {
	switch num {
	case fieldID:
		r.ID = v
	case fieldCreatedAt:
		r.CreatedAt = v
	case fieldUpdatedAt:
		r.UpdatedAt = &v
	case fieldNextAppointment:
		r.NextAppointment = v
	case fieldInClinic:
		r.InClinic = protowire.DecodeBool(v)
	}
}

func setString(r *Patient, num protowire.Number, s string) {
	switch num {
	case fieldName:
		r.Name = s
	case fieldHistory:
		r.History = s
	case fieldStaffName:
		r.StaffName = s
	}
}

func appendVarint(buf []byte, num protowire.Number, v uint64) []byte {
	if v == 0 {
		return buf
	}
	buf = protowire.AppendTag(buf, num, protowire.VarintType)
	return protowire.AppendVarint(buf, v)
}

func appendString(buf []byte, num protowire.Number, s string) []byte {
	if s == "" {
		return buf
	}
	buf = protowire.AppendTag(buf, num, protowire.BytesType)
	return protowire.AppendString(buf, s)
}

func varintSize(num protowire.Number, v uint64) int {
	if v == 0 {
		return 0
	}
	return protowire.SizeTag(num) + protowire.SizeVarint(v)
}

func stringSize(num protowire.Number, s string) int {
	if s == "" {
		return 0
	}
	return protowire.SizeTag(num) + protowire.SizeBytes(len(s))
}
