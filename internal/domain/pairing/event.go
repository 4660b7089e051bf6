package pairing

import "github.com/google/uuid"

// Event describes a session lifecycle transition, broadcast to the owner's
// dashboard listeners.
type Event struct {
	SessionID string     `json:"sessionId"`
	OwnerRef  uuid.UUID  `json:"ownerRef"`
	Status    Status     `json:"status"`
	ResultRef *uuid.UUID `json:"resultRef,omitempty"`
}
