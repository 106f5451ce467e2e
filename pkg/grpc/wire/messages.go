package wire

import (
	"fmt"

	"github.com/KevoDB/healthrec/pkg/record"
)

func encodePayload(p record.Payload) ([]byte, error) {
	return record.Encode(record.New(0, p, 0))
}

func decodePayload(b []byte) (record.Payload, error) {
	r, err := record.Decode(b)
	if err != nil {
		return record.Payload{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	return r.Payload(), nil
}

func decodePatient(b []byte) (*record.Patient, error) {
	r, err := record.Decode(b)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	return r, nil
}

// Empty is the request of the parameterless listing calls
type Empty struct{}

func (m *Empty) MarshalWire() ([]byte, error) { return []byte{}, nil }

func (m *Empty) UnmarshalWire(data []byte) error {
	return eachField(data, func(field) error { return nil })
}

// CreateRequest carries the payload of a new patient
type CreateRequest struct {
	Payload record.Payload
}

func (m *CreateRequest) MarshalWire() ([]byte, error) {
	p, err := encodePayload(m.Payload)
	if err != nil {
		return nil, err
	}
	return appendMessage(nil, 1, p), nil
}

func (m *CreateRequest) UnmarshalWire(data []byte) error {
	*m = CreateRequest{}
	return eachField(data, func(f field) (err error) {
		if f.num == 1 {
			var b []byte
			if b, err = f.raw(); err == nil {
				m.Payload, err = decodePayload(b)
			}
		}
		return err
	})
}

// IDRequest addresses one patient
type IDRequest struct {
	ID uint64
}

func (m *IDRequest) MarshalWire() ([]byte, error) {
	return appendUint(nil, 1, m.ID), nil
}

func (m *IDRequest) UnmarshalWire(data []byte) error {
	*m = IDRequest{}
	return eachField(data, func(f field) (err error) {
		if f.num == 1 {
			m.ID, err = f.uint()
		}
		return err
	})
}

// UpdateRequest replaces the mutable fields of one patient. It is also the
// item type of BulkUpdateRequest.
type UpdateRequest struct {
	ID      uint64
	Payload record.Payload
}

func (m *UpdateRequest) MarshalWire() ([]byte, error) {
	p, err := encodePayload(m.Payload)
	if err != nil {
		return nil, err
	}
	buf := appendUint(nil, 1, m.ID)
	return appendMessage(buf, 2, p), nil
}

func (m *UpdateRequest) UnmarshalWire(data []byte) error {
	*m = UpdateRequest{}
	return eachField(data, func(f field) (err error) {
		switch f.num {
		case 1:
			m.ID, err = f.uint()
		case 2:
			var b []byte
			if b, err = f.raw(); err == nil {
				m.Payload, err = decodePayload(b)
			}
		}
		return err
	})
}

// SearchRequest carries the substring to look for
type SearchRequest struct {
	Text string
}

func (m *SearchRequest) MarshalWire() ([]byte, error) {
	return appendString(nil, 1, m.Text), nil
}

func (m *SearchRequest) UnmarshalWire(data []byte) error {
	*m = SearchRequest{}
	return eachField(data, func(f field) (err error) {
		if f.num == 1 {
			m.Text, err = f.string()
		}
		return err
	})
}

// PaginateRequest selects a window of the ascending id order
type PaginateRequest struct {
	Limit  uint64
	Offset uint64
}

func (m *PaginateRequest) MarshalWire() ([]byte, error) {
	buf := appendUint(nil, 1, m.Limit)
	return appendUint(buf, 2, m.Offset), nil
}

func (m *PaginateRequest) UnmarshalWire(data []byte) error {
	*m = PaginateRequest{}
	return eachField(data, func(f field) (err error) {
		switch f.num {
		case 1:
			m.Limit, err = f.uint()
		case 2:
			m.Offset, err = f.uint()
		}
		return err
	})
}

// PresenceRequest marks a patient in or out of the clinic
type PresenceRequest struct {
	ID       uint64
	InClinic bool
}

func (m *PresenceRequest) MarshalWire() ([]byte, error) {
	buf := appendUint(nil, 1, m.ID)
	return appendBool(buf, 2, m.InClinic), nil
}

func (m *PresenceRequest) UnmarshalWire(data []byte) error {
	*m = PresenceRequest{}
	return eachField(data, func(f field) (err error) {
		switch f.num {
		case 1:
			m.ID, err = f.uint()
		case 2:
			m.InClinic, err = f.bool()
		}
		return err
	})
}

// AppointmentRequest sets the next appointment of a patient
type AppointmentRequest struct {
	ID uint64
	At uint64
}

func (m *AppointmentRequest) MarshalWire() ([]byte, error) {
	buf := appendUint(nil, 1, m.ID)
	return appendUint(buf, 2, m.At), nil
}

func (m *AppointmentRequest) UnmarshalWire(data []byte) error {
	*m = AppointmentRequest{}
	return eachField(data, func(f field) (err error) {
		switch f.num {
		case 1:
			m.ID, err = f.uint()
		case 2:
			m.At, err = f.uint()
		}
		return err
	})
}

// BulkUpdateRequest applies several updates in order
type BulkUpdateRequest struct {
	Items []UpdateRequest
}

func (m *BulkUpdateRequest) MarshalWire() ([]byte, error) {
	var buf []byte
	for i := range m.Items {
		b, err := m.Items[i].MarshalWire()
		if err != nil {
			return nil, fmt.Errorf("item %d: %w", i, err)
		}
		buf = appendMessage(buf, 1, b)
	}
	return buf, nil
}

func (m *BulkUpdateRequest) UnmarshalWire(data []byte) error {
	*m = BulkUpdateRequest{}
	return eachField(data, func(f field) error {
		if f.num != 1 {
			return nil
		}
		b, err := f.raw()
		if err != nil {
			return err
		}
		var item UpdateRequest
		if err := item.UnmarshalWire(b); err != nil {
			return err
		}
		m.Items = append(m.Items, item)
		return nil
	})
}

// PatientResponse carries one patient
type PatientResponse struct {
	Patient *record.Patient
}

func (m *PatientResponse) MarshalWire() ([]byte, error) {
	if m.Patient == nil {
		return []byte{}, nil
	}
	b, err := record.Encode(m.Patient)
	if err != nil {
		return nil, err
	}
	return appendMessage(nil, 1, b), nil
}

func (m *PatientResponse) UnmarshalWire(data []byte) error {
	*m = PatientResponse{}
	return eachField(data, func(f field) (err error) {
		if f.num == 1 {
			var b []byte
			if b, err = f.raw(); err == nil {
				m.Patient, err = decodePatient(b)
			}
		}
		return err
	})
}

// PatientList carries patients in the order the call defines
type PatientList struct {
	Patients []*record.Patient
}

func (m *PatientList) MarshalWire() ([]byte, error) {
	buf := []byte{}
	for _, p := range m.Patients {
		b, err := record.Encode(p)
		if err != nil {
			return nil, err
		}
		buf = appendMessage(buf, 1, b)
	}
	return buf, nil
}

func (m *PatientList) UnmarshalWire(data []byte) error {
	*m = PatientList{Patients: []*record.Patient{}}
	return eachField(data, func(f field) error {
		if f.num != 1 {
			return nil
		}
		b, err := f.raw()
		if err != nil {
			return err
		}
		p, err := decodePatient(b)
		if err != nil {
			return err
		}
		m.Patients = append(m.Patients, p)
		return nil
	})
}

// BulkResult is the outcome of one bulk item. Code is a gRPC status code;
// zero means the update was applied.
type BulkResult struct {
	Patient *record.Patient
	Code    uint32
	Message string
}

func (m *BulkResult) MarshalWire() ([]byte, error) {
	var buf []byte
	if m.Patient != nil {
		b, err := record.Encode(m.Patient)
		if err != nil {
			return nil, err
		}
		buf = appendMessage(buf, 1, b)
	}
	buf = appendUint(buf, 2, uint64(m.Code))
	return appendString(buf, 3, m.Message), nil
}

func (m *BulkResult) UnmarshalWire(data []byte) error {
	*m = BulkResult{}
	return eachField(data, func(f field) (err error) {
		switch f.num {
		case 1:
			var b []byte
			if b, err = f.raw(); err == nil {
				m.Patient, err = decodePatient(b)
			}
		case 2:
			var v uint64
			v, err = f.uint()
			m.Code = uint32(v)
		case 3:
			m.Message, err = f.string()
		}
		return err
	})
}

// BulkUpdateResponse lines up with the items of the request
type BulkUpdateResponse struct {
	Results []BulkResult
}

func (m *BulkUpdateResponse) MarshalWire() ([]byte, error) {
	buf := []byte{}
	for i := range m.Results {
		b, err := m.Results[i].MarshalWire()
		if err != nil {
			return nil, err
		}
		buf = appendMessage(buf, 1, b)
	}
	return buf, nil
}

func (m *BulkUpdateResponse) UnmarshalWire(data []byte) error {
	*m = BulkUpdateResponse{}
	return eachField(data, func(f field) error {
		if f.num != 1 {
			return nil
		}
		b, err := f.raw()
		if err != nil {
			return err
		}
		var r BulkResult
		if err := r.UnmarshalWire(b); err != nil {
			return err
		}
		m.Results = append(m.Results, r)
		return nil
	})
}

// InClinicResponse answers the presence query
type InClinicResponse struct {
	InClinic bool
}

func (m *InClinicResponse) MarshalWire() ([]byte, error) {
	return appendBool([]byte{}, 1, m.InClinic), nil
}

func (m *InClinicResponse) UnmarshalWire(data []byte) error {
	*m = InClinicResponse{}
	return eachField(data, func(f field) (err error) {
		if f.num == 1 {
			m.InClinic, err = f.bool()
		}
		return err
	})
}

// HistoryResponse lists changes newest first
type HistoryResponse struct {
	Changes []record.ChangeRecord
}

func (m *HistoryResponse) MarshalWire() ([]byte, error) {
	buf := []byte{}
	for _, c := range m.Changes {
		entry := appendUint(nil, 1, c.Timestamp)
		entry = appendString(entry, 2, c.ChangeType)
		buf = appendMessage(buf, 1, entry)
	}
	return buf, nil
}

func (m *HistoryResponse) UnmarshalWire(data []byte) error {
	*m = HistoryResponse{Changes: []record.ChangeRecord{}}
	return eachField(data, func(f field) error {
		if f.num != 1 {
			return nil
		}
		b, err := f.raw()
		if err != nil {
			return err
		}
		var c record.ChangeRecord
		err = eachField(b, func(f field) (err error) {
			switch f.num {
			case 1:
				c.Timestamp, err = f.uint()
			case 2:
				c.ChangeType, err = f.string()
			}
			return err
		})
		if err != nil {
			return err
		}
		m.Changes = append(m.Changes, c)
		return nil
	})
}
