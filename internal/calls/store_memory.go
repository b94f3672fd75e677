package calls

import (
	"context"
	"strings"
	"sync"
	"time"
)

// MemoryStore is the in-process call registry. State lives only as long as
// the process; there is no eviction.
type MemoryStore struct {
	mu     sync.Mutex
	nextID int64
	// ids keeps creation order; records are looked up by id.
	ids     []int64
	records map[int64]*Record

	// clock is injectable for deterministic tests.
	clock func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		nextID:  1,
		records: make(map[int64]*Record),
		clock:   time.Now,
	}
}

// WithClock replaces the time source. Intended for tests.
func (s *MemoryStore) WithClock(clock func() time.Time) *MemoryStore {
	s.clock = clock
	return s
}

func (s *MemoryStore) Create(ctx context.Context, in NewCall) (Record, error) {
	if in.KioskID <= 0 || in.OfficerID <= 0 {
		return Record{}, ErrInvalidInput
	}
	callType := strings.TrimSpace(in.CallType)
	if callType == "" {
		callType = DefaultCallType
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	rec := &Record{
		CallID:    s.nextID,
		KioskID:   in.KioskID,
		OfficerID: in.OfficerID,
		CallType:  callType,
		Autostart: in.Autostart,
		PeerID:    in.PeerID,
		Timestamp: s.clock().UnixMilli(),
		Status:    StatusPending,
	}
	if in.Autostart {
		rec.Acknowledged = true
		rec.Status = StatusActive
	}
	s.nextID++
	s.ids = append(s.ids, rec.CallID)
	s.records[rec.CallID] = rec
	return rec.clone(), nil
}

func (s *MemoryStore) Get(ctx context.Context, callID int64) (Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[callID]
	if !ok {
		return Record{}, ErrNotFound
	}
	return rec.clone(), nil
}

func (s *MemoryStore) Acknowledge(ctx context.Context, callID int64) (Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[callID]
	if !ok {
		return Record{}, ErrNotFound
	}
	rec.Acknowledged = true
	return rec.clone(), nil
}

func (s *MemoryStore) End(ctx context.Context, req EndRequest) (Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[req.CallID]
	if !ok {
		return Record{}, ErrNotFound
	}
	now := s.clock().UnixMilli()
	rec.Completed = true
	rec.Status = StatusCompleted
	rec.EndTime = &now
	if req.Notes != "" {
		rec.Notes = req.Notes
	}
	if req.Reason != "" {
		rec.EndReason = req.Reason
	}
	return rec.clone(), nil
}

func (s *MemoryStore) ListByOfficer(ctx context.Context, officerID int64) ([]Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Record, 0)
	for _, id := range s.ids {
		rec := s.records[id]
		if rec.OfficerID == officerID {
			out = append(out, rec.clone())
		}
	}
	return out, nil
}

func (s *MemoryStore) OldestUnacknowledgedForKiosk(ctx context.Context, kioskID int64) (Record, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var best *Record
	// ids is ascending, so a strict comparison keeps the lowest id on ties.
	for _, id := range s.ids {
		rec := s.records[id]
		if rec.KioskID != kioskID || rec.Acknowledged {
			continue
		}
		if best == nil || rec.Timestamp < best.Timestamp {
			best = rec
		}
	}
	if best == nil {
		return Record{}, false, nil
	}
	return best.clone(), true, nil
}

func (s *MemoryStore) Stats(ctx context.Context) (Stats, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	st := Stats{Total: len(s.ids)}
	for _, id := range s.ids {
		rec := s.records[id]
		if rec.Completed {
			st.Completed++
		}
		if rec.Acknowledged && !rec.Completed {
			st.AcknowledgedNotCompleted++
		}
		if !rec.Acknowledged {
			st.StillPending++
		}
	}
	return st, nil
}
