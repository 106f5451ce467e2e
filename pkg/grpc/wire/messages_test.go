package wire

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/KevoDB/healthrec/pkg/record"
)

func updated(v uint64) *uint64 { return &v }

func TestMessagesThroughCodec(t *testing.T) {
	alice := &record.Patient{
		ID:              7,
		Name:            "Alice",
		History:         "flu",
		StaffName:       "Dr. Who",
		CreatedAt:       100,
		UpdatedAt:       updated(200),
		NextAppointment: 300,
		InClinic:        true,
	}

	tests := []struct {
		name string
		in   Message
		out  Message
	}{
		{"empty", &Empty{}, &Empty{}},
		{"create", &CreateRequest{Payload: alice.Payload()}, &CreateRequest{}},
		{"id", &IDRequest{ID: 42}, &IDRequest{}},
		{"update", &UpdateRequest{ID: 3, Payload: record.Payload{Name: "Bob"}}, &UpdateRequest{}},
		{"search", &SearchRequest{Text: "ali"}, &SearchRequest{}},
		{"paginate", &PaginateRequest{Limit: 10, Offset: 20}, &PaginateRequest{}},
		{"presence", &PresenceRequest{ID: 1, InClinic: true}, &PresenceRequest{}},
		{"appointment", &AppointmentRequest{ID: 1, At: 99}, &AppointmentRequest{}},
		{"bulk", &BulkUpdateRequest{Items: []UpdateRequest{
			{ID: 1, Payload: record.Payload{Name: "A"}},
			{ID: 2},
		}}, &BulkUpdateRequest{}},
		{"patient", &PatientResponse{Patient: alice}, &PatientResponse{}},
		{"list", &PatientList{Patients: []*record.Patient{alice, {ID: 8, Name: "Bob"}}}, &PatientList{}},
		{"bulk results", &BulkUpdateResponse{Results: []BulkResult{
			{Patient: alice},
			{Code: 5, Message: "patient 9 not found"},
		}}, &BulkUpdateResponse{}},
		{"in clinic", &InClinicResponse{InClinic: true}, &InClinicResponse{}},
		{"history", &HistoryResponse{Changes: []record.ChangeRecord{
			{Timestamp: 200, ChangeType: record.ChangeUpdate},
			{Timestamp: 100, ChangeType: record.ChangeCreation},
		}}, &HistoryResponse{}},
	}

	var c Codec
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			data, err := c.Marshal(tt.in)
			require.NoError(t, err)
			require.NoError(t, c.Unmarshal(data, tt.out))
			assert.Equal(t, tt.in, tt.out)
		})
	}
}

func TestEmptyListsDecodeAsEmpty(t *testing.T) {
	var list PatientList
	require.NoError(t, list.UnmarshalWire(nil))
	assert.NotNil(t, list.Patients)
	assert.Empty(t, list.Patients)

	var h HistoryResponse
	require.NoError(t, h.UnmarshalWire([]byte{}))
	assert.NotNil(t, h.Changes)
}

func TestUnknownFieldsAreSkipped(t *testing.T) {
	data := appendUint(nil, 9, 5)
	data = appendString(data, 10, "ignored")
	data = appendUint(data, 1, 42)

	var req IDRequest
	require.NoError(t, req.UnmarshalWire(data))
	assert.Equal(t, uint64(42), req.ID)
}

func TestMalformedInput(t *testing.T) {
	tests := []struct {
		name string
		data []byte
		msg  Message
	}{
		{"truncated tag", []byte{0x80}, &IDRequest{}},
		{"truncated bytes", []byte{0x0a, 0x05, 'a'}, &SearchRequest{}},
		{"wrong wire type", appendString(nil, 1, "x"), &IDRequest{}},
		{"bad utf8", appendMessage(nil, 1, []byte{0xff, 0xfe}), &SearchRequest{}},
		{"bad patient", appendMessage(nil, 1, []byte{0x08}), &PatientResponse{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.msg.UnmarshalWire(tt.data)
			assert.ErrorIs(t, err, ErrMalformed)
		})
	}
}

func TestCodecRejectsForeignTypes(t *testing.T) {
	var c Codec
	_, err := c.Marshal("not a message")
	assert.Error(t, err)
	assert.Error(t, c.Unmarshal(nil, new(int)))
	assert.Equal(t, CodecName, c.Name())
}
