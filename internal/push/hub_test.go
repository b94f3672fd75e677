package push

import (
	"context"
	"errors"
	"testing"
)

func TestHub_PublishReachesOnlyRoomMembers(t *testing.T) {
	h := NewHub(nil)
	officer := h.Subscribe()
	other := h.Subscribe()
	h.Join(officer, OfficerRoom(4))
	h.Join(other, OfficerRoom(5))

	if err := h.Publish(context.Background(), OfficerRoom(4), EventCallStarted, CallStarted{CallID: 9, Status: "active"}); err != nil {
		t.Fatalf("publish: %v", err)
	}

	select {
	case msg := <-officer.C():
		var got CallStarted
		if err := msg.Decode(&got); err != nil {
			t.Fatalf("decode: %v", err)
		}
		if msg.Event != EventCallStarted || got.CallID != 9 || got.Status != "active" {
			t.Fatalf("unexpected frame: %s %+v", msg.Event, got)
		}
	default:
		t.Fatalf("expected a frame for officer-4")
	}
	select {
	case msg := <-other.C():
		t.Fatalf("officer-5 should not receive %s", msg.Event)
	default:
	}
}

func TestHub_EmptyRoomIsNotAnError(t *testing.T) {
	h := NewHub(nil)
	if err := h.Publish(context.Background(), KioskRoom(1), EventCallStarted, nil); err != nil {
		t.Fatalf("expected nil, got %v", err)
	}
}

func TestHub_FullOutboxDropsFrames(t *testing.T) {
	h := NewHub(nil)
	s := h.Subscribe()
	h.Join(s, KioskRoom(2))

	for i := 0; i < outboxSize+10; i++ {
		if err := h.Publish(context.Background(), KioskRoom(2), EventCallStarted, CallStarted{CallID: int64(i + 1)}); err != nil {
			t.Fatalf("publish %d: %v", i, err)
		}
	}
	if got := len(s.C()); got != outboxSize {
		t.Fatalf("expected %d queued frames, got %d", outboxSize, got)
	}
}

func TestHub_UnsubscribeLeavesRoomsAndClosesChannel(t *testing.T) {
	h := NewHub(nil)
	s := h.Subscribe()
	h.Join(s, OfficerRoom(1))
	h.Join(s, KioskRoom(1))

	h.Unsubscribe(s)
	h.Unsubscribe(s)

	if h.Members(OfficerRoom(1)) != 0 || h.Members(KioskRoom(1)) != 0 {
		t.Fatalf("expected rooms to be empty")
	}
	if _, ok := <-s.C(); ok {
		t.Fatalf("expected closed channel")
	}
	h.Join(s, OfficerRoom(1))
	if h.Members(OfficerRoom(1)) != 0 {
		t.Fatalf("removed subscriber must not rejoin")
	}
}

func TestHub_LeaveAllKeepsSubscription(t *testing.T) {
	h := NewHub(nil)
	s := h.Subscribe()
	h.Join(s, OfficerRoom(3))
	h.LeaveAll(s)
	if h.Members(OfficerRoom(3)) != 0 {
		t.Fatalf("expected officer-3 empty")
	}
	h.Join(s, KioskRoom(3))
	if h.Members(KioskRoom(3)) != 1 {
		t.Fatalf("expected subscriber to rejoin after LeaveAll")
	}
}

type failingPublisher struct{ err error }

func (f failingPublisher) Publish(context.Context, string, string, any) error { return f.err }

func TestFanout_PublishesToAllAndJoinsErrors(t *testing.T) {
	h := NewHub(nil)
	s := h.Subscribe()
	h.Join(s, OfficerRoom(1))

	boom := errors.New("boom")
	f := Fanout{failingPublisher{err: boom}, nil, h}
	err := f.Publish(context.Background(), OfficerRoom(1), EventNewCall, map[string]int{"callId": 1})
	if !errors.Is(err, boom) {
		t.Fatalf("expected joined error to wrap boom, got %v", err)
	}
	if len(s.C()) != 1 {
		t.Fatalf("expected hub to still receive the frame")
	}
}

func TestDecodeID(t *testing.T) {
	cases := map[string]struct {
		raw  string
		want int64
		ok   bool
	}{
		"number":         {`5`, 5, true},
		"numeric string": {`"12"`, 12, true},
		"zero":           {`0`, 0, false},
		"negative":       {`-3`, 0, false},
		"word":           {`"abc"`, 0, false},
		"object":         {`{"id":1}`, 0, false},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			got, ok := decodeID([]byte(tc.raw))
			if ok != tc.ok || got != tc.want {
				t.Fatalf("decodeID(%s) = %d, %v", tc.raw, got, ok)
			}
		})
	}
}
