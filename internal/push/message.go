// Package push is the push channel adapter: kiosks and officers join named
// rooms and receive events addressed to those rooms.
//
// Frames are JSON text messages {"event": "...", "data": ...} in both directions.
package push

import (
	"context"
	"encoding/json"
	"strconv"
)

// Event names.
const (
	EventNewCall     = "new-call"
	EventCallStarted = "call-started"
	EventRegistered  = "registered"

	EventRegisterOfficer = "register-officer"
	EventRegisterKiosk   = "register-kiosk"
	EventLeave           = "leave"
)

// Message is one push frame.
type Message struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// Decode unmarshals the payload into v.
func (m Message) Decode(v any) error {
	return json.Unmarshal(m.Data, v)
}

// NewMessage encodes payload into a frame.
func NewMessage(event string, payload any) (Message, error) {
	if payload == nil {
		return Message{Event: event}, nil
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return Message{}, err
	}
	return Message{Event: event, Data: raw}, nil
}

// Publisher emits an event to every member of a room. Delivery is fire-and-forget.
type Publisher interface {
	Publish(ctx context.Context, room, event string, payload any) error
}

func OfficerRoom(officerID int64) string { return "officer-" + strconv.FormatInt(officerID, 10) }

func KioskRoom(kioskID int64) string { return "kiosk-" + strconv.FormatInt(kioskID, 10) }

// CallStarted is the payload of call-started.
type CallStarted struct {
	CallID int64  `json:"callId"`
	Status string `json:"status"`
}
