package loopback

import (
	"context"
	"sync"

	"kiosk-call/internal/media"

	"github.com/google/uuid"
)

// Track is an in-process media track.
type Track struct {
	id   string
	kind media.Kind

	mu        sync.Mutex
	ended     bool
	listeners []func()
}

func newTrack(kind media.Kind) *Track {
	return &Track{id: uuid.NewString(), kind: kind}
}

func (t *Track) ID() string { return t.id }
func (t *Track) Kind() media.Kind { return t.kind }
func (t *Track) Stop() { t.end() }

func (t *Track) Ended() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.ended
}

func (t *Track) OnEnded(fn func()) {
	t.mu.Lock()
	if t.ended {
		t.mu.Unlock()
		fn()
		return
	}
	t.listeners = append(t.listeners, fn)
	t.mu.Unlock()
}

func (t *Track) end() {
	t.mu.Lock()
	if t.ended {
		t.mu.Unlock()
		return
	}
	t.ended = true
	ls := t.listeners
	t.listeners = nil
	t.mu.Unlock()
	for _, fn := range ls {
		fn()
	}
}

// Stream groups tracks.
type Stream struct {
	id     string
	tracks []*Track
}

func newStream(kinds ...media.Kind) *Stream {
	s := &Stream{id: uuid.NewString()}
	for _, k := range kinds {
		s.tracks = append(s.tracks, newTrack(k))
	}
	return s
}

// mirrorOf returns the receiving side's view of src: one track per source
// track, ended when the source track ends.
func mirrorOf(src media.Stream) *Stream {
	s := &Stream{id: uuid.NewString()}
	if src == nil {
		return s
	}
	for _, t := range src.Tracks() {
		m := newTrack(t.Kind())
		s.tracks = append(s.tracks, m)
		t.OnEnded(m.end)
	}
	return s
}

func (s *Stream) ID() string { return s.id }

func (s *Stream) Tracks() []media.Track {
	out := make([]media.Track, len(s.tracks))
	for i, t := range s.tracks {
		out[i] = t
	}
	return out
}

func (s *Stream) Stop() {
	for _, t := range s.tracks {
		t.end()
	}
}

// Devices hands out camera+microphone streams and remembers them so tests can
// check that every acquired track was released.
type Devices struct {
	mu          sync.Mutex
	deny        bool
	unavailable bool
	issued      []*Stream
}

func NewDevices() *Devices { return &Devices{} }

// DenyAccess makes later UserMedia calls fail with media.ErrAccessDenied.
func (d *Devices) DenyAccess(deny bool) {
	d.mu.Lock()
	d.deny = deny
	d.mu.Unlock()
}

// SetUnavailable makes later UserMedia calls fail with media.ErrUnavailable.
func (d *Devices) SetUnavailable(v bool) {
	d.mu.Lock()
	d.unavailable = v
	d.mu.Unlock()
}

func (d *Devices) UserMedia(ctx context.Context) (media.Stream, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	switch {
	case d.deny:
		return nil, media.ErrAccessDenied
	case d.unavailable:
		return nil, media.ErrUnavailable
	}
	s := newStream(media.KindAudio, media.KindVideo)
	d.issued = append(d.issued, s)
	return s, nil
}

// Issued reports how many streams were handed out.
func (d *Devices) Issued() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.issued)
}

// LiveTracks counts acquired tracks that have not been stopped.
func (d *Devices) LiveTracks() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	n := 0
	for _, s := range d.issued {
		for _, t := range s.tracks {
			if !t.Ended() {
				n++
			}
		}
	}
	return n
}
