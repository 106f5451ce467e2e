// Package record defines the patient record and its bounded binary encoding.
package record

// Patient is the stored record. ID and CreatedAt are assigned once by the
// store; the remaining fields are replaced through a Payload.
type Patient struct {
	ID              uint64  `json:"id"`
	Name            string  `json:"name"`
	History         string  `json:"history"`
	StaffName       string  `json:"associated_staff_name"`
	CreatedAt       uint64  `json:"created_at"`
	UpdatedAt       *uint64 `json:"updated_at,omitempty"`
	NextAppointment uint64  `json:"next_appointment"`
	InClinic        bool    `json:"in_clinic"`
}

// Payload carries the mutable fields of a patient
type Payload struct {
	Name            string `json:"name"`
	History         string `json:"history"`
	StaffName       string `json:"associated_staff_name"`
	NextAppointment uint64 `json:"next_appointment"`
	InClinic        bool   `json:"in_clinic"`
}

// Change types reported by History
const (
	ChangeCreation = "Creation"
	ChangeUpdate   = "Update"
)

// ChangeRecord is one entry of a patient's change history
type ChangeRecord struct {
	Timestamp  uint64 `json:"timestamp"`
	ChangeType string `json:"change_type"`
}

// Validate checks that the text fields of p can be encoded
func (p Payload) Validate() error {
	return validate(&Patient{Name: p.Name, History: p.History, StaffName: p.StaffName})
}

// New builds a patient from a payload
func New(id uint64, p Payload, createdAt uint64) *Patient {
	r := &Patient{ID: id, CreatedAt: createdAt}
	r.Apply(p)
	return r
}

// Apply overwrites the mutable fields with p
func (r *Patient) Apply(p Payload) {
	r.Name = p.Name
	r.History = p.History
	r.StaffName = p.StaffName
	r.NextAppointment = p.NextAppointment
	r.InClinic = p.InClinic
}

// Payload returns the mutable fields of r
func (r *Patient) Payload() Payload {
	return Payload{
		Name:            r.Name,
		History:         r.History,
		StaffName:       r.StaffName,
		NextAppointment: r.NextAppointment,
		InClinic:        r.InClinic,
	}
}

// Touch stamps the update time
func (r *Patient) Touch(now uint64) {
	r.UpdatedAt = &now
}

// Clone returns a deep copy of r
func (r *Patient) Clone() *Patient {
	c := *r
	if r.UpdatedAt != nil {
		v := *r.UpdatedAt
		c.UpdatedAt = &v
	}
	return &c
}

// Changes returns the change history of r, newest first
func (r *Patient) Changes() []ChangeRecord {
	changes := make([]ChangeRecord, 0, 2)
	if r.UpdatedAt != nil {
		changes = append(changes, ChangeRecord{Timestamp: *r.UpdatedAt, ChangeType: ChangeUpdate})
	}
	return append(changes, ChangeRecord{Timestamp: r.CreatedAt, ChangeType: ChangeCreation})
}
