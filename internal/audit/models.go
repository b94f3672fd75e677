package audit

import "time"

// Event is an immutable, append-only call lifecycle record.
//
// Invariants:
// - Events are never updated or deleted.
// - call_id is required.
// - ip capture is best-effort; do not block call coordination on audit failures.
type Event struct {
	ID     string    `json:"id"`
	CallID int64     `json:"callId"`
	Type   EventType `json:"type"`

	KioskID   int64 `json:"kioskId,omitempty"`
	OfficerID int64 `json:"officerId,omitempty"`

	// IPAddress is the resolved client IP of the request that caused the event.
	IPAddress string `json:"ipAddress,omitempty"`

	// Message is a short human-readable description for operators.
	Message string `json:"message,omitempty"`

	// Status and Reason snapshot the record at the time of the event.
	Status string `json:"status,omitempty"`
	Reason string `json:"reason,omitempty"`

	CreatedAt time.Time `json:"createdAt"`
}

type EventType string

const (
	EventTypeCallInitiated    EventType = "call_initiated"
	EventTypeCallAcknowledged EventType = "call_acknowledged"
	EventTypeCallEnded        EventType = "call_ended"
)
