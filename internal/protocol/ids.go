package protocol

import (
	"encoding/hex"

	"github.com/google/uuid"
)

// EventID is a 32 character lowercase hex identifier.
type EventID string

// NewEventID returns a random version 4 identifier without dashes.
func NewEventID() EventID {
	id := uuid.New()
	return EventID(hex.EncodeToString(id[:]))
}
