// Package media is the contract the call controllers hold against the
// peer-to-peer media layer: named endpoints that place and receive calls,
// local capture streams, and a side data channel between two endpoints.
//
// Implementations dispatch events on their own goroutines or synchronously
// from the method that caused them; handlers must not assume either.
// An event raised before its handler is registered is delivered on registration.
package media

import (
	"context"
	"errors"
)

var (
	// ErrAccessDenied means the user or platform refused camera/microphone access.
	ErrAccessDenied = errors.New("media: device access denied")
	// ErrUnavailable means no capture device could be opened, or the endpoint could not be created.
	ErrUnavailable = errors.New("media: unavailable")
	// ErrPeerUnavailable means the remote endpoint name is unknown or unreachable.
	ErrPeerUnavailable = errors.New("media: peer unavailable")
	// ErrIDTaken means another live endpoint already uses the requested name.
	ErrIDTaken = errors.New("media: endpoint id taken")
	// ErrClosed is returned by operations on closed calls, channels and endpoints.
	ErrClosed = errors.New("media: closed")
)

type Kind string

const (
	KindAudio Kind = "audio"
	KindVideo Kind = "video"
)

// Metadata travels with a call or data channel offer.
type Metadata struct {
	KioskID int64 `json:"kioskId"`
	CallID  int64 `json:"callId,omitempty"`
}

type Track interface {
	ID() string
	Kind() Kind
	// Stop ends the track. Stopping an ended track is a no-op.
	Stop()
	Ended() bool
	// OnEnded registers fn to run once when the track ends; immediately if it already has.
	OnEnded(fn func())
}

type Stream interface {
	ID() string
	Tracks() []Track
	// Stop stops every track.
	Stop()
}

type Call interface {
	Peer() string
	Metadata() Metadata
	// Answer accepts an offered call with the local stream.
	Answer(local Stream) error
	// Close hangs up. Closing twice is a no-op.
	Close()
	OnStream(fn func(remote Stream))
	OnClose(fn func())
	OnError(fn func(err error))
}

type DataChannel interface {
	Peer() string
	Metadata() Metadata
	// Send encodes v as JSON and delivers it to the other side.
	Send(v any) error
	OnData(fn func(raw []byte))
	OnClose(fn func())
	Close()
}

type Endpoint interface {
	ID() string
	Call(ctx context.Context, remote string, local Stream, md Metadata) (Call, error)
	Connect(ctx context.Context, remote string, md Metadata) (DataChannel, error)
	OnCall(fn func(Call))
	OnConnection(fn func(DataChannel))
	OnDisconnected(fn func())
	OnError(fn func(err error))
	// Reconnect re-registers a disconnected endpoint under the same name.
	Reconnect(ctx context.Context) error
	// Close releases the endpoint and closes its calls and channels.
	Close() error
}

// Opener creates endpoints. Open returns once the endpoint is ready to place
// and receive calls.
type Opener interface {
	Open(ctx context.Context, id string) (Endpoint, error)
}

// Devices acquires local capture streams.
type Devices interface {
	UserMedia(ctx context.Context) (Stream, error)
}

// StopStream stops s if it is non-nil.
func StopStream(s Stream) {
	if s != nil {
		s.Stop()
	}
}

// AllTracksEnded reports whether s has at least one track and every track has ended.
func AllTracksEnded(s Stream) bool {
	if s == nil {
		return false
	}
	tracks := s.Tracks()
	if len(tracks) == 0 {
		return false
	}
	for _, t := range tracks {
		if !t.Ended() {
			return false
		}
	}
	return true
}

// Signal is a control message exchanged over a DataChannel.
type Signal struct {
	Type   string `json:"type"`
	CallID int64  `json:"callId,omitempty"`
}

const (
	SignalCallRequest = "CALL_REQUEST"
	SignalCallEnded   = "CALL_ENDED"
	SignalEndCall     = "END_CALL"
)
