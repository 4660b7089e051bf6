package pairing

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Status is the lifecycle state of a pairing session.
type Status string

const (
	StatusActive    Status = "active"
	StatusCompleted Status = "completed"
	StatusCancelled Status = "cancelled"
	StatusExpired   Status = "expired"
)

// IsTerminal reports whether no further transition is possible.
func (s Status) IsTerminal() bool {
	return s == StatusCompleted || s == StatusCancelled || s == StatusExpired
}

// Valid reports whether s is a known status value.
func (s Status) Valid() bool {
	switch s {
	case StatusActive, StatusCompleted, StatusCancelled, StatusExpired:
		return true
	}
	return false
}

// Session is a short-lived pairing record linking a scannable code to a
// pending pass creation.
type Session struct {
	SessionID   string          `json:"sessionId"`
	Payload     string          `json:"payload"`
	TargetKind  string          `json:"targetKind"`
	TargetData  json.RawMessage `json:"targetData"`
	OwnerRef    uuid.UUID       `json:"ownerRef"`
	Status      Status          `json:"status"`
	CreatedAt   time.Time       `json:"createdAt"`
	ExpiresAt   time.Time       `json:"expiresAt"`
	ScannerRef  string          `json:"scannerRef,omitempty"`
	ResultRef   *uuid.UUID      `json:"resultRef,omitempty"`
	FinalizedAt *time.Time      `json:"finalizedAt,omitempty"`
}

// IsExpired reports whether the session's deadline has passed. A session may
// be logically expired before any store has flipped its status.
func (s *Session) IsExpired(now time.Time) bool {
	return now.After(s.ExpiresAt)
}

// Scanned reports whether the session was completed by a scanning device.
func (s *Session) Scanned() bool {
	return s.Status == StatusCompleted
}

// CanTransition reports whether the state machine permits moving to next.
// Every terminal status is absorbing; active may move to any terminal one.
func (s *Session) CanTransition(next Status) bool {
	return s.Status == StatusActive && next.IsTerminal()
}

// Clone returns a deep copy, so store implementations can hand out sessions
// without sharing mutable state with callers.
func (s *Session) Clone() *Session {
	c := *s
	if s.TargetData != nil {
		c.TargetData = append(json.RawMessage(nil), s.TargetData...)
	}
	if s.ResultRef != nil {
		ref := *s.ResultRef
		c.ResultRef = &ref
	}
	if s.FinalizedAt != nil {
		at := *s.FinalizedAt
		c.FinalizedAt = &at
	}
	return &c
}
