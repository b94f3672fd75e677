package calls

import (
	"context"
	"log/slog"

	"kiosk-call/internal/metrics"
	"kiosk-call/internal/push"
)

// Auditor receives call lifecycle entries. Callers treat it as best-effort.
type Auditor interface {
	CallInitiated(ctx context.Context, rec Record) error
	CallAcknowledged(ctx context.Context, rec Record) error
	CallEnded(ctx context.Context, rec Record) error
}

// Service implements the Coordination API on top of a Store.
//
// State-changing operations publish push events; publishing and auditing never
// fail the operation. Registry errors stay local to the operation that raised them.
type Service struct {
	store Store
	pub   push.Publisher
	audit Auditor
	log   *slog.Logger
}

type ServiceOption func(*Service)

func WithPublisher(p push.Publisher) ServiceOption { return func(s *Service) { s.pub = p } }

func WithAuditor(a Auditor) ServiceOption { return func(s *Service) { s.audit = a } }

func WithLogger(l *slog.Logger) ServiceOption { return func(s *Service) { s.log = l } }

func NewService(store Store, opts ...ServiceOption) *Service {
	s := &Service{store: store, log: slog.Default()}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Initiate creates a call record. An autostarted call is announced to the
// officer's room (new-call, full record) and to the kiosk's room (call-started).
func (s *Service) Initiate(ctx context.Context, in NewCall) (Record, error) {
	if in.KioskID <= 0 || in.OfficerID <= 0 {
		return Record{}, ErrInvalidInput
	}
	rec, err := s.store.Create(ctx, in)
	if err != nil {
		return Record{}, err
	}
	s.log.Info("call initiated",
		"call_id", rec.CallID,
		"kiosk_id", rec.KioskID,
		"officer_id", rec.OfficerID,
		"call_type", rec.CallType,
		"autostart", rec.Autostart,
	)
	metrics.CallsTotal.WithLabelValues("initiated").Inc()
	if s.audit != nil {
		s.auditFailed(rec, "initiated", s.audit.CallInitiated(ctx, rec))
	}

	if rec.Status == StatusActive {
		s.publish(ctx, push.OfficerRoom(rec.OfficerID), push.EventNewCall, rec)
		s.publish(ctx, push.KioskRoom(rec.KioskID), push.EventCallStarted, push.CallStarted{
			CallID: rec.CallID,
			Status: string(rec.Status),
		})
	}
	return rec, nil
}

// PendingForKiosk returns the oldest unacknowledged call of the kiosk, if any.
func (s *Service) PendingForKiosk(ctx context.Context, kioskID int64) (Record, bool, error) {
	if kioskID <= 0 {
		return Record{}, false, ErrInvalidInput
	}
	return s.store.OldestUnacknowledgedForKiosk(ctx, kioskID)
}

func (s *Service) Acknowledge(ctx context.Context, callID int64) (Record, error) {
	if callID <= 0 {
		return Record{}, ErrInvalidInput
	}
	rec, err := s.store.Acknowledge(ctx, callID)
	if err != nil {
		return Record{}, err
	}
	s.log.Info("call acknowledged", "call_id", rec.CallID)
	metrics.CallsTotal.WithLabelValues("acknowledged").Inc()
	if s.audit != nil {
		s.auditFailed(rec, "acknowledged", s.audit.CallAcknowledged(ctx, rec))
	}
	return rec, nil
}

// OfficerCalls lists every call of the officer, live and historical.
func (s *Service) OfficerCalls(ctx context.Context, officerID int64) ([]Record, error) {
	if officerID <= 0 {
		return nil, ErrInvalidInput
	}
	return s.store.ListByOfficer(ctx, officerID)
}

func (s *Service) End(ctx context.Context, req EndRequest) (Record, error) {
	if req.CallID <= 0 || !req.Reason.Valid() {
		return Record{}, ErrInvalidInput
	}
	rec, err := s.store.End(ctx, req)
	if err != nil {
		return Record{}, err
	}
	s.log.Info("call ended", "call_id", rec.CallID, "reason", rec.EndReason)
	metrics.CallsTotal.WithLabelValues("ended").Inc()
	if s.audit != nil {
		s.auditFailed(rec, "ended", s.audit.CallEnded(ctx, rec))
	}
	return rec, nil
}

func (s *Service) Stats(ctx context.Context) (Stats, error) {
	return s.store.Stats(ctx)
}

func (s *Service) Get(ctx context.Context, callID int64) (Record, error) {
	if callID <= 0 {
		return Record{}, ErrNotFound
	}
	return s.store.Get(ctx, callID)
}

func (s *Service) publish(ctx context.Context, room, event string, payload any) {
	if s.pub == nil {
		return
	}
	if err := s.pub.Publish(ctx, room, event, payload); err != nil {
		s.log.Warn("push publish failed", "room", room, "event", event, "err", err)
	}
}

func (s *Service) auditFailed(rec Record, entry string, err error) {
	if err != nil {
		s.log.Warn("audit append failed", "call_id", rec.CallID, "entry", entry, "err", err)
	}
}
