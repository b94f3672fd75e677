package loopback

import (
	"encoding/json"
	"errors"
	"sync"

	"kiosk-call/internal/media"
)

// link is one call between two endpoints; caller and callee are its two ends.
type link struct {
	from, to *Endpoint
	md       media.Metadata

	mu          sync.Mutex
	closed      bool
	answered    bool
	callerLocal media.Stream
	mirrors     []*Stream

	caller, callee *Call
}

func newLink(from, to *Endpoint, local media.Stream, md media.Metadata) *link {
	l := &link{from: from, to: to, md: md, callerLocal: local}
	l.caller = &Call{l: l, peer: to.id}
	l.callee = &Call{l: l, peer: from.id}
	return l
}

func (l *link) close(err error) {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return
	}
	l.closed = true
	mirrors := l.mirrors
	l.mirrors = nil
	l.mu.Unlock()

	l.from.detachCall(l)
	l.to.detachCall(l)
	if err != nil {
		l.caller.onErr.fire(err)
		l.callee.onErr.fire(err)
	}
	for _, m := range mirrors {
		m.Stop()
	}
	l.caller.onClose.fire(struct{}{})
	l.callee.onClose.fire(struct{}{})
}

// Call is one side of a loopback call.
type Call struct {
	l    *link
	peer string

	onStream slot[media.Stream]
	onClose  slot[struct{}]
	onErr    slot[error]
}

func (c *Call) Peer() string { return c.peer }
func (c *Call) Metadata() media.Metadata { return c.l.md }

// Answer mirrors each side's local stream to the other. Only the callee answers.
func (c *Call) Answer(local media.Stream) error {
	l := c.l
	if c != l.callee {
		return errors.New("loopback: only the called side can answer")
	}
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return media.ErrClosed
	}
	if l.answered {
		l.mu.Unlock()
		return nil
	}
	l.answered = true
	toCallee := mirrorOf(l.callerLocal)
	toCaller := mirrorOf(local)
	l.mirrors = append(l.mirrors, toCallee, toCaller)
	l.mu.Unlock()

	l.callee.onStream.fire(toCallee)
	l.caller.onStream.fire(toCaller)
	return nil
}

func (c *Call) Close() { c.l.close(nil) }

// Fail raises err on both sides and closes the call.
func (c *Call) Fail(err error) { c.l.close(err) }

// Answered reports whether the callee has answered.
func (c *Call) Answered() bool {
	c.l.mu.Lock()
	defer c.l.mu.Unlock()
	return c.l.answered
}

func (c *Call) Closed() bool {
	c.l.mu.Lock()
	defer c.l.mu.Unlock()
	return c.l.closed
}

func (c *Call) OnStream(fn func(media.Stream)) { c.onStream.set(fn) }
func (c *Call) OnClose(fn func()) { c.onClose.set(func(struct{}) { fn() }) }
func (c *Call) OnError(fn func(error)) { c.onErr.set(fn) }

// chanLink is one data channel between two endpoints.
type chanLink struct {
	ea, eb *Endpoint
	md     media.Metadata

	mu     sync.Mutex
	closed bool

	a, b *DataChannel
}

func newChanLink(from, to *Endpoint, md media.Metadata) *chanLink {
	l := &chanLink{ea: from, eb: to, md: md}
	l.a = &DataChannel{l: l, peer: to.id}
	l.b = &DataChannel{l: l, peer: from.id}
	l.a.other, l.b.other = l.b, l.a
	return l
}

func (l *chanLink) close() {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return
	}
	l.closed = true
	l.mu.Unlock()

	l.ea.detachChan(l)
	l.eb.detachChan(l)
	l.a.onClose.fire(struct{}{})
	l.b.onClose.fire(struct{}{})
}

// DataChannel is one side of a loopback data channel.
type DataChannel struct {
	l     *chanLink
	peer  string
	other *DataChannel

	onData  slot[[]byte]
	onClose slot[struct{}]
}

func (d *DataChannel) Peer() string { return d.peer }
func (d *DataChannel) Metadata() media.Metadata { return d.l.md }

func (d *DataChannel) Send(v any) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return err
	}
	d.l.mu.Lock()
	closed := d.l.closed
	d.l.mu.Unlock()
	if closed {
		return media.ErrClosed
	}
	d.other.onData.fire(raw)
	return nil
}

func (d *DataChannel) OnData(fn func([]byte)) { d.onData.set(fn) }
func (d *DataChannel) OnClose(fn func()) { d.onClose.set(func(struct{}) { fn() }) }
func (d *DataChannel) Close() { d.l.close() }
