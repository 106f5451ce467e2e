package region

// ID addresses one virtual region inside the flat memory
type ID uint8

// The region table below is a versioned storage contract: reassigning an id
// to a different purpose is a breaking format change and must bump
// LayoutVersion.
const (
	// CounterRegion holds the record id counter cell
	CounterRegion ID = 0
	// RecordRegion holds the ordered map of encoded patient records
	RecordRegion ID = 1
)

const (
	PurposeCounter = "record-id-counter"
	PurposeRecords = "patient-records"
)

// LayoutVersion is the version of the region table and header format
const LayoutVersion = 1

// Purpose returns the registered purpose of a region id, or "" when the id is unassigned
func Purpose(id ID) string {
	switch id {
	case CounterRegion:
		return PurposeCounter
	case RecordRegion:
		return PurposeRecords
	default:
		return ""
	}
}
