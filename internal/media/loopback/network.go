// Package loopback is an in-process media layer. Endpoints on one Network
// reach each other by name; calls carry mirrored streams instead of real
// audio and video. It backs the call simulator and the controller tests.
package loopback

import (
	"context"
	"fmt"
	"sync"

	"kiosk-call/internal/media"
)

// Network is a registry of live endpoints.
type Network struct {
	mu        sync.Mutex
	endpoints map[string]*Endpoint
}

func NewNetwork() *Network {
	return &Network{endpoints: make(map[string]*Endpoint)}
}

func (n *Network) Open(ctx context.Context, id string) (media.Endpoint, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if id == "" {
		return nil, fmt.Errorf("%w: empty endpoint id", media.ErrUnavailable)
	}
	n.mu.Lock()
	defer n.mu.Unlock()
	if _, ok := n.endpoints[id]; ok {
		return nil, fmt.Errorf("%w: %s", media.ErrIDTaken, id)
	}
	ep := &Endpoint{
		net:   n,
		id:    id,
		calls: make(map[*link]struct{}),
		chans: make(map[*chanLink]struct{}),
	}
	n.endpoints[id] = ep
	return ep, nil
}

// Endpoint returns the live endpoint named id.
func (n *Network) Endpoint(id string) (*Endpoint, bool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	ep, ok := n.endpoints[id]
	return ep, ok
}

// Disconnect drops id from signaling: it cannot place or receive new calls
// until it reconnects. Established calls are kept.
func (n *Network) Disconnect(id string) bool {
	ep, ok := n.Endpoint(id)
	if !ok {
		return false
	}
	ep.mu.Lock()
	ep.disconnected = true
	ep.mu.Unlock()
	ep.onDisc.fire(struct{}{})
	return true
}

// Fail raises an endpoint-level error on id.
func (n *Network) Fail(id string, err error) bool {
	ep, ok := n.Endpoint(id)
	if !ok {
		return false
	}
	ep.onErr.fire(err)
	return true
}

// ActiveCalls counts open calls on endpoint id.
func (n *Network) ActiveCalls(id string) int {
	ep, ok := n.Endpoint(id)
	if !ok {
		return 0
	}
	ep.mu.Lock()
	defer ep.mu.Unlock()
	return len(ep.calls)
}

func (n *Network) reachable(from *Endpoint, remote string) (*Endpoint, error) {
	if !from.usable() {
		return nil, media.ErrClosed
	}
	to, ok := n.Endpoint(remote)
	if !ok || !to.usable() {
		return nil, fmt.Errorf("%w: %s", media.ErrPeerUnavailable, remote)
	}
	return to, nil
}

func (n *Network) remove(ep *Endpoint) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.endpoints[ep.id] == ep {
		delete(n.endpoints, ep.id)
	}
}

// Endpoint is one named participant.
type Endpoint struct {
	net *Network
	id  string

	mu           sync.Mutex
	closed       bool
	disconnected bool
	calls        map[*link]struct{}
	chans        map[*chanLink]struct{}

	onCall slot[media.Call]
	onConn slot[media.DataChannel]
	onDisc slot[struct{}]
	onErr  slot[error]
}

func (e *Endpoint) ID() string { return e.id }

func (e *Endpoint) usable() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return !e.closed && !e.disconnected
}

func (e *Endpoint) Call(ctx context.Context, remote string, local media.Stream, md media.Metadata) (media.Call, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	to, err := e.net.reachable(e, remote)
	if err != nil {
		return nil, err
	}
	l := newLink(e, to, local, md)
	e.attachCall(l)
	to.attachCall(l)
	to.onCall.fire(l.callee)
	return l.caller, nil
}

func (e *Endpoint) Connect(ctx context.Context, remote string, md media.Metadata) (media.DataChannel, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	to, err := e.net.reachable(e, remote)
	if err != nil {
		return nil, err
	}
	l := newChanLink(e, to, md)
	e.attachChan(l)
	to.attachChan(l)
	to.onConn.fire(l.b)
	return l.a, nil
}

func (e *Endpoint) OnCall(fn func(media.Call)) { e.onCall.set(fn) }
func (e *Endpoint) OnConnection(fn func(media.DataChannel)) { e.onConn.set(fn) }
func (e *Endpoint) OnDisconnected(fn func()) { e.onDisc.set(func(struct{}) { fn() }) }
func (e *Endpoint) OnError(fn func(error)) { e.onErr.set(fn) }

func (e *Endpoint) Reconnect(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return media.ErrClosed
	}
	e.disconnected = false
	return nil
}

func (e *Endpoint) Close() error {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return nil
	}
	e.closed = true
	calls := make([]*link, 0, len(e.calls))
	for l := range e.calls {
		calls = append(calls, l)
	}
	chans := make([]*chanLink, 0, len(e.chans))
	for l := range e.chans {
		chans = append(chans, l)
	}
	e.mu.Unlock()

	e.net.remove(e)
	for _, l := range calls {
		l.close(nil)
	}
	for _, l := range chans {
		l.close()
	}
	return nil
}

func (e *Endpoint) attachCall(l *link) {
	e.mu.Lock()
	e.calls[l] = struct{}{}
	e.mu.Unlock()
}

func (e *Endpoint) detachCall(l *link) {
	e.mu.Lock()
	delete(e.calls, l)
	e.mu.Unlock()
}

func (e *Endpoint) attachChan(l *chanLink) {
	e.mu.Lock()
	e.chans[l] = struct{}{}
	e.mu.Unlock()
}

func (e *Endpoint) detachChan(l *chanLink) {
	e.mu.Lock()
	delete(e.chans, l)
	e.mu.Unlock()
}

var (
	_ media.Opener      = (*Network)(nil)
	_ media.Endpoint    = (*Endpoint)(nil)
	_ media.Call        = (*Call)(nil)
	_ media.DataChannel = (*DataChannel)(nil)
	_ media.Devices     = (*Devices)(nil)
)
