package calls

// Record is one kiosk-to-officer call attempt.
//
// Immutable after creation: CallID, KioskID, OfficerID, CallType, PeerID, Timestamp.
// Acknowledged only ever moves false -> true. Status only moves forward
// (pending -> active), and Completed marks the end of the call.
//
// JSON names match what kiosk and officer pages already consume.
type Record struct {
	CallID    int64  `json:"callId"`
	KioskID   int64  `json:"kioskId"`
	OfficerID int64  `json:"officerId"`
	CallType  string `json:"callType"`
	Autostart bool   `json:"autostart"`

	// PeerID is the media-layer address of the initiating endpoint, if known.
	PeerID string `json:"peerId"`

	// Timestamp is the creation time in milliseconds since epoch.
	Timestamp int64 `json:"timestamp"`

	Acknowledged bool   `json:"acknowledged"`
	Status       Status `json:"status"`

	Completed bool      `json:"completed"`
	EndTime   *int64    `json:"endTime,omitempty"`
	Notes     string    `json:"notes,omitempty"`
	EndReason EndReason `json:"endReason,omitempty"`
}

type Status string

const (
	StatusPending   Status = "pending"
	StatusActive    Status = "active"
	StatusCompleted Status = "completed"
)

// EndReason tags why a call was ended.
type EndReason string

const (
	EndReasonManual       EndReason = "manual"
	EndReasonRejected     EndReason = "rejected"
	EndReasonAutoDeclined EndReason = "auto-declined"
	EndReasonRemoteClosed EndReason = "remote-closed"
	EndReasonError        EndReason = "error"
)

// Valid reports whether r is empty or one of the known reasons.
func (r EndReason) Valid() bool {
	switch r {
	case "", EndReasonManual, EndReasonRejected, EndReasonAutoDeclined, EndReasonRemoteClosed, EndReasonError:
		return true
	}
	return false
}

// DefaultCallType is used when initiate-call omits callType.
const DefaultCallType = "reporting"

// NewCall carries the creation inputs of a Record.
type NewCall struct {
	KioskID   int64
	OfficerID int64
	CallType  string
	Autostart bool
	PeerID    string
}

// EndRequest carries the optional end-of-call annotations.
type EndRequest struct {
	CallID int64     `json:"callId"`
	Notes  string    `json:"notes,omitempty"`
	Reason EndReason `json:"reason,omitempty"`
}

// Stats is a registry-wide aggregate. Each bucket is its own predicate over
// all records; the buckets do not partition Total.
type Stats struct {
	// Total counts every record.
	Total int `json:"totalCalls"`
	// Completed counts records with Completed set.
	Completed int `json:"completedCalls"`
	// AcknowledgedNotCompleted counts Acknowledged && !Completed.
	AcknowledgedNotCompleted int `json:"acknowledgedCalls"`
	// StillPending counts !Acknowledged.
	StillPending int `json:"pendingCallsCount"`
}

func (r Record) clone() Record {
	out := r
	if r.EndTime != nil {
		t := *r.EndTime
		out.EndTime = &t
	}
	return out
}
