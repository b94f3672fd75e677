package loopback

import "sync"

// slot holds one event handler. Values fired before a handler is set are
// queued and delivered, in order, when it is.
type slot[T any] struct {
	mu      sync.Mutex
	fn      func(T)
	pending []T
}

func (s *slot[T]) set(fn func(T)) {
	s.mu.Lock()
	s.fn = fn
	queued := s.pending
	s.pending = nil
	s.mu.Unlock()
	for _, v := range queued {
		fn(v)
	}
}

func (s *slot[T]) fire(v T) {
	s.mu.Lock()
	fn := s.fn
	if fn == nil {
		s.pending = append(s.pending, v)
		s.mu.Unlock()
		return
	}
	s.mu.Unlock()
	fn(v)
}
