package coordclient

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"kiosk-call/internal/calls"
	"kiosk-call/internal/httpapi"

	"github.com/gin-gonic/gin"
)

func newServer(t *testing.T) *Client {
	t.Helper()
	gin.SetMode(gin.TestMode)
	r := gin.New()
	httpapi.Handlers{Calls: calls.NewService(calls.NewMemoryStore())}.Register(r)
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return New(srv.URL + "/")
}

func TestClient_Lifecycle(t *testing.T) {
	c := newServer(t)
	ctx := context.Background()

	res, err := c.Initiate(ctx, calls.NewCall{KioskID: 1, OfficerID: 3, PeerID: "caller-x"})
	if err != nil {
		t.Fatalf("initiate: %v", err)
	}
	if !res.Success || res.CallID != 1 || res.Status != calls.StatusPending || res.Autostart {
		t.Fatalf("unexpected result %+v", res)
	}

	rec, ok, err := c.PendingForKiosk(ctx, 1)
	if err != nil || !ok {
		t.Fatalf("expected pending call, got %v %v", ok, err)
	}
	if rec.CallID != 1 || rec.OfficerID != 3 || rec.PeerID != "caller-x" {
		t.Fatalf("unexpected pending record %+v", rec)
	}

	if err := c.Acknowledge(ctx, 1); err != nil {
		t.Fatalf("ack: %v", err)
	}
	if _, ok, _ := c.PendingForKiosk(ctx, 1); ok {
		t.Fatalf("expected no pending call after ack")
	}

	list, err := c.OfficerCalls(ctx, 3)
	if err != nil || len(list) != 1 || !list[0].Acknowledged {
		t.Fatalf("unexpected officer calls %+v %v", list, err)
	}

	if err := c.EndCall(ctx, calls.EndRequest{CallID: 1, Reason: calls.EndReasonAutoDeclined}); err != nil {
		t.Fatalf("end: %v", err)
	}
	got, err := c.Get(ctx, 1)
	if err != nil || !got.Completed || got.EndReason != calls.EndReasonAutoDeclined {
		t.Fatalf("unexpected record %+v %v", got, err)
	}

	st, err := c.Stats(ctx)
	if err != nil || st.Total != 1 || st.Completed != 1 {
		t.Fatalf("unexpected stats %+v %v", st, err)
	}
}

func TestClient_MapsStatusCodes(t *testing.T) {
	c := newServer(t)
	ctx := context.Background()

	if err := c.Acknowledge(ctx, 42); !errors.Is(err, calls.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if _, err := c.Initiate(ctx, calls.NewCall{KioskID: 1}); !errors.Is(err, calls.ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput, got %v", err)
	}
	if _, err := c.Get(ctx, 9); !errors.Is(err, calls.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestClient_NetworkFailures(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":"boom"}`, http.StatusInternalServerError)
	}))
	c := New(srv.URL)
	if err := c.Acknowledge(context.Background(), 1); !errors.Is(err, ErrNetwork) {
		t.Fatalf("expected ErrNetwork for 500, got %v", err)
	}
	srv.Close()

	if _, err := c.Stats(context.Background()); !errors.Is(err, ErrNetwork) {
		t.Fatalf("expected ErrNetwork for closed server, got %v", err)
	}
}
