package pass

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Kind identifies what kind of pass a pairing session creates.
type Kind string

const (
	KindLogin Kind = "login"
	KindCard  Kind = "card"
	KindNote  Kind = "note"
)

// requiredFields lists the template fields each kind must carry. The schema
// is owned by the resource-creation subsystem; session creation validates
// against it before anything is stored.
var requiredFields = map[Kind][]string{
	KindLogin: {"title", "username", "password"},
	KindCard:  {"title", "number", "expiry"},
	KindNote:  {"title", "body"},
}

// KnownKind reports whether k is a recognized pass kind.
func KnownKind(k Kind) bool {
	_, ok := requiredFields[k]
	return ok
}

// ValidateData checks that data is a JSON object carrying every required
// field for the kind, with non-empty string values.
func ValidateData(k Kind, data json.RawMessage) error {
	fields, ok := requiredFields[k]
	if !ok {
		return fmt.Errorf("unknown pass kind %q", k)
	}
	var obj map[string]json.RawMessage
	if err := json.Unmarshal(data, &obj); err != nil {
		return fmt.Errorf("targetData is not a JSON object: %w", err)
	}
	for _, f := range fields {
		raw, ok := obj[f]
		if !ok {
			return fmt.Errorf("targetData missing field %q for kind %q", f, k)
		}
		var s string
		if err := json.Unmarshal(raw, &s); err != nil || s == "" {
			return fmt.Errorf("targetData field %q must be a non-empty string", f)
		}
	}
	return nil
}

// Pass is the record created when a pairing session completes. SessionID is
// the idempotency key: a session creates at most one pass even if completion
// is reprocessed.
type Pass struct {
	PassID    uuid.UUID       `json:"passId"`
	SessionID string          `json:"sessionId"`
	OwnerRef  uuid.UUID       `json:"ownerRef"`
	Kind      Kind            `json:"kind"`
	Data      json.RawMessage `json:"data"`
	CreatedAt time.Time       `json:"createdAt"`
}

// New builds a pass for the given pairing session inputs.
func New(sessionID string, ownerRef uuid.UUID, kind Kind, data json.RawMessage) *Pass {
	return &Pass{
		PassID:    uuid.New(),
		SessionID: sessionID,
		OwnerRef:  ownerRef,
		Kind:      kind,
		Data:      append(json.RawMessage(nil), data...),
		CreatedAt: time.Now().UTC(),
	}
}
