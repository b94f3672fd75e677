package kiosk

// WindowMessage is exchanged with the window that opened the kiosk page.
type WindowMessage struct {
	Type      string `json:"type"`
	OfficerID int64  `json:"officerId,omitempty"`
	KioskID   int64  `json:"kioskId,omitempty"`
}

const (
	MsgInitiateCall  = "INITIATE_CALL"
	MsgEndCall       = "END_CALL"
	MsgCallConnected = "CALL_CONNECTED"
	MsgCallEnded     = "CALL_ENDED"
)

// WindowNotifier receives CALL_CONNECTED and CALL_ENDED.
type WindowNotifier interface {
	Notify(msg WindowMessage)
}

// WindowFunc adapts a function to WindowNotifier.
type WindowFunc func(msg WindowMessage)

func (f WindowFunc) Notify(msg WindowMessage) { f(msg) }
