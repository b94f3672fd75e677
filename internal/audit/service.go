package audit

import (
	"context"
	"errors"
	"fmt"
	"time"

	"kiosk-call/internal/calls"

	"github.com/google/uuid"
)

// Repository is the persistence contract for audit events.
//
// It MUST be append-only. No Update/Delete methods are provided.
type Repository interface {
	Append(ctx context.Context, e Event) error
	ListByCall(ctx context.Context, callID int64) ([]Event, error)
}

// Service records call lifecycle history. It satisfies calls.Auditor.
//
// Callers should treat audit logging as best-effort.
type Service struct {
	repo  Repository
	clock func() time.Time
}

func NewService(repo Repository) *Service {
	return &Service{repo: repo, clock: time.Now}
}

var ErrInvalidEvent = errors.New("audit: invalid event")

func (s *Service) Append(ctx context.Context, e Event) error {
	if s.repo == nil {
		return errors.New("audit: repository not configured")
	}
	if e.CallID <= 0 {
		return ErrInvalidEvent
	}
	if e.Type == "" {
		return ErrInvalidEvent
	}

	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = s.clock().UTC()
	}
	if e.IPAddress == "" {
		e.IPAddress = ClientIPFromContext(ctx)
	}
	return s.repo.Append(ctx, e)
}

// History returns the events of one call in append order.
func (s *Service) History(ctx context.Context, callID int64) ([]Event, error) {
	if s.repo == nil {
		return nil, errors.New("audit: repository not configured")
	}
	return s.repo.ListByCall(ctx, callID)
}

func (s *Service) CallInitiated(ctx context.Context, rec calls.Record) error {
	msg := fmt.Sprintf("kiosk %d -> officer %d (%s)", rec.KioskID, rec.OfficerID, rec.CallType)
	if rec.Autostart {
		msg += ", autostart"
	}
	return s.Append(ctx, fromRecord(rec, EventTypeCallInitiated, msg))
}

func (s *Service) CallAcknowledged(ctx context.Context, rec calls.Record) error {
	return s.Append(ctx, fromRecord(rec, EventTypeCallAcknowledged, "pending call consumed"))
}

func (s *Service) CallEnded(ctx context.Context, rec calls.Record) error {
	e := fromRecord(rec, EventTypeCallEnded, rec.Notes)
	e.Reason = string(rec.EndReason)
	return s.Append(ctx, e)
}

func fromRecord(rec calls.Record, typ EventType, msg string) Event {
	return Event{
		CallID:    rec.CallID,
		Type:      typ,
		KioskID:   rec.KioskID,
		OfficerID: rec.OfficerID,
		Status:    string(rec.Status),
		Message:   msg,
	}
}
