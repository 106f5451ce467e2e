package record

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/protobuf/encoding/protowire"
)

func u64(v uint64) *uint64 { return &v }

func TestRoundTrip(t *testing.T) {
	tests := []struct {
		name string
		in   *Patient
	}{
		{"zero record", &Patient{}},
		{"freshly created", &Patient{ID: 1, Name: "Alice", History: "asthma", StaffName: "Dr. Who", CreatedAt: 1700000000000000000}},
		{"updated at zero", &Patient{ID: 2, UpdatedAt: u64(0)}},
		{"all fields", &Patient{
			ID:              1 << 40,
			Name:            "Zoë Ångström",
			History:         "line one\nline two",
			StaffName:       "Dr. Ng",
			CreatedAt:       1,
			UpdatedAt:       u64(^uint64(0)),
			NextAppointment: 1800000000000000000,
			InClinic:        true,
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			data, err := Encode(tt.in)
			require.NoError(t, err)
			assert.Equal(t, Size(tt.in), len(data))

			out, err := Decode(data)
			require.NoError(t, err)
			assert.Equal(t, tt.in, out)
		})
	}
}

func TestUnsetUpdatedAtStaysUnset(t *testing.T) {
	data, err := Encode(&Patient{ID: 3, Name: "Bob"})
	require.NoError(t, err)

	out, err := Decode(data)
	require.NoError(t, err)
	assert.Nil(t, out.UpdatedAt)
}

func TestEncodeRejectsInvalidUTF8(t *testing.T) {
	_, err := Encode(&Patient{ID: 1, Name: string([]byte{0xff, 0xfe})})
	assert.ErrorIs(t, err, ErrSerialization)

	_, err = Encode(nil)
	assert.ErrorIs(t, err, ErrSerialization)
}

func TestEncodeBounded(t *testing.T) {
	small := &Patient{ID: 1, Name: "Alice"}
	data, err := EncodeBounded(small, MaxEncodedSize)
	require.NoError(t, err)
	assert.NotEmpty(t, data)

	big := &Patient{ID: 1, History: strings.Repeat("h", MaxEncodedSize)}
	_, err = EncodeBounded(big, MaxEncodedSize)
	assert.ErrorIs(t, err, ErrRecordTooLarge)

	// Exactly at the bound
	exact := &Patient{ID: 1}
	exact.History = strings.Repeat("h", MaxEncodedSize-Size(exact)-protowire.SizeTag(fieldHistory)-2)
	require.Equal(t, MaxEncodedSize, Size(exact))
	_, err = EncodeBounded(exact, MaxEncodedSize)
	assert.NoError(t, err)
}

func TestDecodeMalformed(t *testing.T) {
	valid, err := Encode(&Patient{ID: 7, Name: "Carol", History: "x"})
	require.NoError(t, err)

	var wrongType []byte
	wrongType = protowire.AppendTag(wrongType, fieldName, protowire.VarintType)
	wrongType = protowire.AppendVarint(wrongType, 5)

	var badUTF8 []byte
	badUTF8 = protowire.AppendTag(badUTF8, fieldHistory, protowire.BytesType)
	badUTF8 = protowire.AppendBytes(badUTF8, []byte{0xc3, 0x28})

	tests := []struct {
		name string
		data []byte
	}{
		{"truncated", valid[:len(valid)-2]},
		{"bad tag", []byte{0x00}},
		{"wrong wire type", wrongType},
		{"invalid utf8", badUTF8},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Decode(tt.data)
			assert.ErrorIs(t, err, ErrSerialization)
		})
	}
}

func TestDecodeSkipsUnknownFields(t *testing.T) {
	data, err := Encode(&Patient{ID: 9, Name: "Dan"})
	require.NoError(t, err)

	data = protowire.AppendTag(data, 42, protowire.BytesType)
	data = protowire.AppendString(data, "future field")

	out, err := Decode(data)
	require.NoError(t, err)
	assert.Equal(t, &Patient{ID: 9, Name: "Dan"}, out)
}

func TestPatientHelpers(t *testing.T) {
	p := New(4, Payload{Name: "Eve", History: "flu", StaffName: "Dr. A", NextAppointment: 50, InClinic: true}, 10)
	assert.Equal(t, uint64(4), p.ID)
	assert.Equal(t, uint64(10), p.CreatedAt)
	assert.Nil(t, p.UpdatedAt)
	assert.Equal(t, "Dr. A", p.Payload().StaffName)

	assert.Equal(t, []ChangeRecord{{Timestamp: 10, ChangeType: ChangeCreation}}, p.Changes())

	c := p.Clone()
	p.Touch(20)
	assert.Nil(t, c.UpdatedAt, "clone is independent")
	assert.Equal(t, []ChangeRecord{
		{Timestamp: 20, ChangeType: ChangeUpdate},
		{Timestamp: 10, ChangeType: ChangeCreation},
	}, p.Changes())

	c = p.Clone()
	*p.UpdatedAt = 99
	assert.Equal(t, uint64(20), *c.UpdatedAt)
}

func TestPayloadValidate(t *testing.T) {
	assert.NoError(t, Payload{Name: "Ada", History: "ok"}.Validate())
	assert.ErrorIs(t, Payload{StaffName: "\xff"}.Validate(), ErrSerialization)
}
