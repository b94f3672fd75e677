package calls

import (
	"context"
	"errors"
)

var (
	ErrInvalidInput = errors.New("invalid input")
	ErrNotFound     = errors.New("call not found")
)

// Store is the call registry contract. The Coordination API is its only writer.
//
// Each method runs as one indivisible step relative to every other method:
// no caller can observe a partially applied create, acknowledge or end.
// Records are never deleted for the lifetime of the store.
type Store interface {
	// Create allocates the next id and stores the record. With Autostart the
	// record is created acknowledged and active.
	Create(ctx context.Context, in NewCall) (Record, error)
	Get(ctx context.Context, callID int64) (Record, error)
	// Acknowledge is idempotent.
	Acknowledge(ctx context.Context, callID int64) (Record, error)
	// End marks the call completed. Repeated calls re-stamp EndTime.
	End(ctx context.Context, req EndRequest) (Record, error)
	// ListByOfficer returns every record of the officer in creation order.
	ListByOfficer(ctx context.Context, officerID int64) ([]Record, error)
	// OldestUnacknowledgedForKiosk selects the unacknowledged record of the kiosk
	// with the smallest timestamp, ties broken by ascending id.
	OldestUnacknowledgedForKiosk(ctx context.Context, kioskID int64) (Record, bool, error)
	Stats(ctx context.Context) (Stats, error)
}
