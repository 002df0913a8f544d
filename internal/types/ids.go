package types

import (
	"github.com/google/uuid"
)

// NewRecordID generates a UUIDv7 record identifier.
// Panics on clock regression (uuid.Must); acceptable for ID generation.
func NewRecordID() RecordID {
	return RecordID(uuid.Must(uuid.NewV7()).String())
}
