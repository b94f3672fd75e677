package push

import (
	"context"
	"log/slog"
	"sync"

	"kiosk-call/internal/metrics"
)

// outboxSize bounds the frames queued for one subscriber. Frames published to a
// full outbox are dropped; push is a best-effort latency optimisation.
const outboxSize = 64

// Subscriber is one push channel connection.
type Subscriber struct {
	out   chan Message
	rooms map[string]struct{}
	once  sync.Once
}

// C returns the frames addressed to rooms the subscriber has joined. It is
// closed when the subscriber is removed from the hub.
func (s *Subscriber) C() <-chan Message { return s.out }

// Hub routes published events to the subscribers of each room.
type Hub struct {
	mu    sync.RWMutex
	rooms map[string]map[*Subscriber]struct{}
	subs  map[*Subscriber]struct{}
	log   *slog.Logger
}

func NewHub(log *slog.Logger) *Hub {
	if log == nil {
		log = slog.Default()
	}
	return &Hub{
		rooms: make(map[string]map[*Subscriber]struct{}),
		subs:  make(map[*Subscriber]struct{}),
		log:   log,
	}
}

func (h *Hub) Subscribe() *Subscriber {
	s := &Subscriber{out: make(chan Message, outboxSize), rooms: make(map[string]struct{})}
	h.mu.Lock()
	h.subs[s] = struct{}{}
	h.mu.Unlock()
	metrics.PushConnections.Inc()
	return s
}

// Unsubscribe leaves every room and closes the subscriber's channel. Safe to
// call more than once.
func (h *Hub) Unsubscribe(s *Subscriber) {
	h.mu.Lock()
	if _, ok := h.subs[s]; !ok {
		h.mu.Unlock()
		return
	}
	delete(h.subs, s)
	for room := range s.rooms {
		h.leaveLocked(s, room)
	}
	h.mu.Unlock()
	s.once.Do(func() { close(s.out) })
	metrics.PushConnections.Dec()
}

func (h *Hub) Join(s *Subscriber, room string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.subs[s]; !ok {
		return
	}
	members, ok := h.rooms[room]
	if !ok {
		members = make(map[*Subscriber]struct{})
		h.rooms[room] = members
	}
	members[s] = struct{}{}
	s.rooms[room] = struct{}{}
}

func (h *Hub) Leave(s *Subscriber, room string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.leaveLocked(s, room)
}

func (h *Hub) leaveLocked(s *Subscriber, room string) {
	delete(s.rooms, room)
	members, ok := h.rooms[room]
	if !ok {
		return
	}
	delete(members, s)
	if len(members) == 0 {
		delete(h.rooms, room)
	}
}

// LeaveAll removes s from every room it joined but keeps it subscribed.
func (h *Hub) LeaveAll(s *Subscriber) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for room := range s.rooms {
		h.leaveLocked(s, room)
	}
}

// Members reports how many subscribers are in room.
func (h *Hub) Members(room string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms[room])
}

// Publish encodes payload once and queues it for every member of room. A room
// with no members is not an error.
func (h *Hub) Publish(ctx context.Context, room, event string, payload any) error {
	msg, err := NewMessage(event, payload)
	if err != nil {
		return err
	}
	h.Deliver(room, msg)
	return nil
}

// Deliver queues an already-encoded frame.
func (h *Hub) Deliver(room string, msg Message) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for s := range h.rooms[room] {
		h.enqueue(s, room, msg)
	}
}

// deliverTo queues a frame for a single subscriber, e.g. a join acknowledgement.
func (h *Hub) deliverTo(s *Subscriber, msg Message) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if _, ok := h.subs[s]; !ok {
		return
	}
	h.enqueue(s, "", msg)
}

// enqueue must be called with h.mu held.
func (h *Hub) enqueue(s *Subscriber, room string, msg Message) {
	select {
	case s.out <- msg:
		metrics.PushDeliveredTotal.WithLabelValues(msg.Event).Inc()
	default:
		metrics.PushDroppedTotal.WithLabelValues(msg.Event).Inc()
		h.log.Warn("push outbox full, dropping frame", "room", room, "event", msg.Event)
	}
}
