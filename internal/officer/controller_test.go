package officer

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"kiosk-call/internal/calls"
	"kiosk-call/internal/media"
	"kiosk-call/internal/media/loopback"

	"github.com/benbjohnson/clock"
)

type fakeAPI struct {
	mu      sync.Mutex
	records []calls.Record
	acked   []int64
	ended   []calls.EndRequest
	endErr  error
}

func (f *fakeAPI) OfficerCalls(ctx context.Context, officerID int64) ([]calls.Record, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]calls.Record, 0, len(f.records))
	for _, r := range f.records {
		if r.OfficerID == officerID {
			out = append(out, r)
		}
	}
	return out, nil
}

func (f *fakeAPI) Acknowledge(ctx context.Context, callID int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.acked = append(f.acked, callID)
	return nil
}

func (f *fakeAPI) EndCall(ctx context.Context, req calls.EndRequest) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ended = append(f.ended, req)
	return f.endErr
}

func (f *fakeAPI) endedCalls() []calls.EndRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]calls.EndRequest(nil), f.ended...)
}

func (f *fakeAPI) ackedCalls() []int64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]int64(nil), f.acked...)
}

type harness struct {
	ctrl    *Controller
	net     *loopback.Network
	devices *loopback.Devices
	clock   *clock.Mock
	api     *fakeAPI
}

func newHarness(t *testing.T, autoAnswer bool) *harness {
	t.Helper()
	devices := loopback.NewDevices()
	return newHarnessWith(t, autoAnswer, devices, devices)
}

// newHarnessWith lets a test put a wrapper in front of the loopback devices.
func newHarnessWith(t *testing.T, autoAnswer bool, devices *loopback.Devices, via media.Devices) *harness {
	t.Helper()
	h := &harness{
		net:     loopback.NewNetwork(),
		devices: devices,
		clock:   clock.NewMock(),
		api:     &fakeAPI{},
	}
	ctrl, err := New(Config{
		OfficerID:  1,
		AutoAnswer: autoAnswer,
		Media:      h.net,
		Devices:    via,
		API:        h.api,
		Clock:      h.clock,
	})
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	h.ctrl = ctrl
	t.Cleanup(ctrl.Stop)
	if err := ctrl.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	return h
}

// gatedDevices holds every UserMedia call until gate is closed.
type gatedDevices struct {
	*loopback.Devices
	gate chan struct{}
}

func (g *gatedDevices) UserMedia(ctx context.Context) (media.Stream, error) {
	<-g.gate
	return g.Devices.UserMedia(ctx)
}

// caller is a bare kiosk endpoint.
type caller struct {
	ep      media.Endpoint
	devices *loopback.Devices

	mu     sync.Mutex
	remote media.Stream
	closed bool
}

func newCaller(t *testing.T, n *loopback.Network, name string) *caller {
	t.Helper()
	ep, err := n.Open(context.Background(), name)
	if err != nil {
		t.Fatalf("open %s: %v", name, err)
	}
	return &caller{ep: ep, devices: loopback.NewDevices()}
}

func (c *caller) call(t *testing.T, md media.Metadata) media.Call {
	t.Helper()
	local, _ := c.devices.UserMedia(context.Background())
	call, err := c.ep.Call(context.Background(), EndpointName(1), local, md)
	if err != nil {
		t.Fatalf("call: %v", err)
	}
	call.OnStream(func(s media.Stream) {
		c.mu.Lock()
		c.remote = s
		c.mu.Unlock()
	})
	call.OnClose(func() {
		c.mu.Lock()
		c.closed = true
		c.mu.Unlock()
		local.Stop()
	})
	return call
}

func (c *caller) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func TestStart_RegistersOfficerEndpoint(t *testing.T) {
	h := newHarness(t, true)
	snap := h.ctrl.Snapshot()
	if snap.EndpointID != "officer-1" || snap.Phase != PhaseWaiting || snap.Status != StatusOnline || !snap.Online {
		t.Fatalf("unexpected snapshot %+v", snap)
	}
	if _, err := h.net.Open(context.Background(), "officer-1"); !errors.Is(err, media.ErrIDTaken) {
		t.Fatalf("expected officer name to be taken, got %v", err)
	}
}

func TestAutoAnswer_ConnectsAndCountsDuration(t *testing.T) {
	h := newHarness(t, true)
	k := newCaller(t, h.net, "caller-a")

	k.call(t, media.Metadata{KioskID: 1, CallID: 3})

	snap := h.ctrl.Snapshot()
	if snap.Phase != PhaseConnected || snap.Status != StatusConnected || snap.KioskID != 1 || snap.CallID != 3 {
		t.Fatalf("unexpected snapshot %+v", snap)
	}
	k.mu.Lock()
	gotRemote := k.remote != nil
	k.mu.Unlock()
	if !gotRemote {
		t.Fatalf("expected kiosk to receive the officer stream")
	}

	h.clock.Add(time.Second)
	waitFor(t, "first second", func() bool { return h.ctrl.Snapshot().Duration == 1 })
	h.clock.Add(time.Second)
	waitFor(t, "second second", func() bool { return h.ctrl.Snapshot().Duration == 2 })
}

func TestManualAccept(t *testing.T) {
	h := newHarness(t, false)
	k := newCaller(t, h.net, "caller-a")

	if err := h.ctrl.Accept(context.Background()); !errors.Is(err, ErrNoIncomingCall) {
		t.Fatalf("expected ErrNoIncomingCall, got %v", err)
	}

	k.call(t, media.Metadata{KioskID: 2})
	snap := h.ctrl.Snapshot()
	if snap.Phase != PhaseRinging || snap.Status != "Incoming call from kiosk #2..." {
		t.Fatalf("unexpected snapshot %+v", snap)
	}
	if h.devices.Issued() != 0 {
		t.Fatalf("expected no media before accept")
	}

	if err := h.ctrl.Accept(context.Background()); err != nil {
		t.Fatalf("accept: %v", err)
	}
	if h.ctrl.Snapshot().Phase != PhaseConnected {
		t.Fatalf("expected connected")
	}
	if err := h.ctrl.Accept(context.Background()); !errors.Is(err, ErrNoIncomingCall) {
		t.Fatalf("expected second accept to fail, got %v", err)
	}
}

func TestAccept_OverlappingAcceptsAnswerOnce(t *testing.T) {
	gated := &gatedDevices{Devices: loopback.NewDevices(), gate: make(chan struct{})}
	h := newHarnessWith(t, false, gated.Devices, gated)
	k := newCaller(t, h.net, "caller-a")
	k.call(t, media.Metadata{KioskID: 1, CallID: 7})

	errs := make(chan error, 2)
	for i := 0; i < 2; i++ {
		go func() { errs <- h.ctrl.Accept(context.Background()) }()
	}

	// One accept holds the devices; the other must give up without waiting.
	select {
	case err := <-errs:
		if !errors.Is(err, ErrNoIncomingCall) {
			t.Fatalf("expected the overlapping accept to fail, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for the overlapping accept")
	}
	close(gated.gate)
	if err := <-errs; err != nil {
		t.Fatalf("accept: %v", err)
	}

	if h.devices.Issued() != 1 {
		t.Fatalf("expected a single stream acquired, got %d", h.devices.Issued())
	}
	if h.ctrl.Snapshot().Phase != PhaseConnected {
		t.Fatalf("expected connected")
	}
	if err := h.ctrl.EndCall(); err != nil {
		t.Fatalf("end: %v", err)
	}
	h.ctrl.Stop()
	if h.devices.LiveTracks() != 0 {
		t.Fatalf("expected camera and microphone released, %d live tracks", h.devices.LiveTracks())
	}
}

func TestAccept_MediaFailureLeavesRegistryAlone(t *testing.T) {
	h := newHarness(t, false)
	h.devices.DenyAccess(true)
	k := newCaller(t, h.net, "caller-a")
	k.call(t, media.Metadata{KioskID: 1, CallID: 7})

	if err := h.ctrl.Accept(context.Background()); !errors.Is(err, media.ErrAccessDenied) {
		t.Fatalf("expected ErrAccessDenied, got %v", err)
	}
	snap := h.ctrl.Snapshot()
	if snap.Phase != PhaseWaiting || snap.Status != StatusMediaError || snap.LastReason != calls.EndReasonError {
		t.Fatalf("unexpected snapshot %+v", snap)
	}
	if !k.isClosed() {
		t.Fatalf("expected the offer closed")
	}

	h.clock.Add(DefaultRingTimeout)
	time.Sleep(20 * time.Millisecond)
	if ended := h.api.endedCalls(); len(ended) != 0 {
		t.Fatalf("expected no end-call report, got %+v", ended)
	}
}

func TestRingTimeout_AutoDeclines(t *testing.T) {
	h := newHarness(t, false)
	k := newCaller(t, h.net, "caller-a")
	k.call(t, media.Metadata{KioskID: 1, CallID: 7})

	h.clock.Add(DefaultRingTimeout - time.Second)
	time.Sleep(10 * time.Millisecond)
	if h.ctrl.Snapshot().Phase != PhaseRinging {
		t.Fatalf("expected still ringing before the timeout")
	}

	h.clock.Add(time.Second)
	waitFor(t, "auto-decline", func() bool { return len(h.api.endedCalls()) == 1 })

	ended := h.api.endedCalls()[0]
	if ended.CallID != 7 || ended.Reason != calls.EndReasonAutoDeclined {
		t.Fatalf("unexpected end report %+v", ended)
	}
	snap := h.ctrl.Snapshot()
	if snap.Phase != PhaseWaiting || snap.Status != StatusMissed || snap.LastReason != calls.EndReasonAutoDeclined {
		t.Fatalf("unexpected snapshot %+v", snap)
	}
	if !k.isClosed() {
		t.Fatalf("expected the offer closed")
	}
}

func TestRingTimeout_TeardownSurvivesAPIFailure(t *testing.T) {
	h := newHarness(t, false)
	h.api.endErr = errors.New("coordination api unreachable")
	k := newCaller(t, h.net, "caller-a")
	k.call(t, media.Metadata{KioskID: 1, CallID: 7})

	h.clock.Add(DefaultRingTimeout)
	waitFor(t, "end report attempted", func() bool { return len(h.api.endedCalls()) == 1 })
	if !k.isClosed() || h.ctrl.Snapshot().Phase != PhaseWaiting {
		t.Fatalf("expected local teardown despite api failure")
	}
	h.clock.Add(statusResetDelay)
	waitFor(t, "status reset", func() bool { return h.ctrl.Snapshot().Status == StatusOnline })
}

func TestAcceptCancelsRingTimeout(t *testing.T) {
	h := newHarness(t, false)
	k := newCaller(t, h.net, "caller-a")
	k.call(t, media.Metadata{KioskID: 1, CallID: 7})

	if err := h.ctrl.Accept(context.Background()); err != nil {
		t.Fatalf("accept: %v", err)
	}
	h.clock.Add(DefaultRingTimeout)
	time.Sleep(20 * time.Millisecond)
	if h.ctrl.Snapshot().Phase != PhaseConnected {
		t.Fatalf("expected call to stay connected")
	}
	if len(h.api.endedCalls()) != 0 {
		t.Fatalf("expected no end report")
	}
}

func TestReject_ReportsRejected(t *testing.T) {
	h := newHarness(t, false)
	k := newCaller(t, h.net, "caller-a")
	k.call(t, media.Metadata{KioskID: 1, CallID: 2})

	if err := h.ctrl.Reject(); err != nil {
		t.Fatalf("reject: %v", err)
	}
	ended := h.api.endedCalls()
	if len(ended) != 1 || ended[0].Reason != calls.EndReasonRejected {
		t.Fatalf("unexpected end reports %+v", ended)
	}
	if h.ctrl.Snapshot().Status != StatusDeclined {
		t.Fatalf("unexpected status %q", h.ctrl.Snapshot().Status)
	}
	if err := h.ctrl.Reject(); !errors.Is(err, ErrNoIncomingCall) {
		t.Fatalf("expected ErrNoIncomingCall, got %v", err)
	}
}

func TestEndCall_NotifiesKioskOverDataChannelAndAPI(t *testing.T) {
	h := newHarness(t, true)
	k := newCaller(t, h.net, "caller-a")
	md := media.Metadata{KioskID: 1, CallID: 11}
	k.call(t, md)

	dc, err := k.ep.Connect(context.Background(), EndpointName(1), md)
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	var (
		mu      sync.Mutex
		signals []media.Signal
	)
	dc.OnData(func(raw []byte) {
		var sig media.Signal
		_ = json.Unmarshal(raw, &sig)
		mu.Lock()
		signals = append(signals, sig)
		mu.Unlock()
	})
	h.clock.Add(65 * time.Second)
	waitFor(t, "duration", func() bool { return h.ctrl.Snapshot().Duration > 0 })

	if err := h.ctrl.EndCall(); err != nil {
		t.Fatalf("end call: %v", err)
	}

	mu.Lock()
	got := append([]media.Signal(nil), signals...)
	mu.Unlock()
	if len(got) != 1 || got[0].Type != media.SignalCallEnded || got[0].CallID != 11 {
		t.Fatalf("expected CALL_ENDED over data channel, got %+v", got)
	}
	ended := h.api.endedCalls()
	if len(ended) != 1 || ended[0].CallID != 11 || ended[0].Reason != calls.EndReasonManual {
		t.Fatalf("unexpected end reports %+v", ended)
	}
	if h.devices.LiveTracks() != 0 {
		t.Fatalf("expected officer media released")
	}
	if !k.isClosed() {
		t.Fatalf("expected kiosk call closed")
	}
	if err := h.ctrl.EndCall(); !errors.Is(err, ErrNoActiveCall) {
		t.Fatalf("expected ErrNoActiveCall, got %v", err)
	}
}

func TestRemoteClose_ReportsRemoteClosedOnce(t *testing.T) {
	h := newHarness(t, true)
	k := newCaller(t, h.net, "caller-a")
	call := k.call(t, media.Metadata{KioskID: 1, CallID: 4})

	call.Close()
	call.Close()

	ended := h.api.endedCalls()
	if len(ended) != 1 || ended[0].Reason != calls.EndReasonRemoteClosed {
		t.Fatalf("unexpected end reports %+v", ended)
	}
	if snap := h.ctrl.Snapshot(); snap.Phase != PhaseWaiting || snap.Status != StatusEnded {
		t.Fatalf("unexpected snapshot %+v", snap)
	}
	if h.devices.LiveTracks() != 0 {
		t.Fatalf("expected media released")
	}
}

func TestCallError_ReportsError(t *testing.T) {
	h := newHarness(t, true)
	k := newCaller(t, h.net, "caller-a")
	call := k.call(t, media.Metadata{KioskID: 1, CallID: 4})

	call.(*loopback.Call).Fail(errors.New("ice failed"))

	ended := h.api.endedCalls()
	if len(ended) != 1 || ended[0].Reason != calls.EndReasonError {
		t.Fatalf("unexpected end reports %+v", ended)
	}
	if got := h.ctrl.Snapshot().Status; got != "Call error: ice failed" {
		t.Fatalf("unexpected status %q", got)
	}
}

func TestKioskEndSignal_TearsDown(t *testing.T) {
	h := newHarness(t, true)
	k := newCaller(t, h.net, "caller-a")
	md := media.Metadata{KioskID: 1, CallID: 4}
	k.call(t, md)
	dc, err := k.ep.Connect(context.Background(), EndpointName(1), md)
	if err != nil {
		t.Fatalf("connect: %v", err)
	}

	if err := dc.Send(media.Signal{Type: media.SignalEndCall, CallID: 4}); err != nil {
		t.Fatalf("send: %v", err)
	}
	if h.ctrl.Snapshot().Phase != PhaseWaiting {
		t.Fatalf("expected teardown on END_CALL")
	}
	if ended := h.api.endedCalls(); len(ended) != 1 || ended[0].Reason != calls.EndReasonRemoteClosed {
		t.Fatalf("unexpected end reports %+v", ended)
	}
}

func TestBusy_ClosesSecondOffer(t *testing.T) {
	h := newHarness(t, true)
	a := newCaller(t, h.net, "caller-a")
	b := newCaller(t, h.net, "caller-b")
	a.call(t, media.Metadata{KioskID: 1, CallID: 1})

	b.call(t, media.Metadata{KioskID: 2, CallID: 2})

	if !b.isClosed() {
		t.Fatalf("expected second offer closed")
	}
	if a.isClosed() || h.ctrl.Snapshot().KioskID != 1 {
		t.Fatalf("expected first call untouched")
	}
}

func TestPoll_DetectsCallOnceAndPreparesMedia(t *testing.T) {
	h := newHarness(t, false)
	h.api.records = []calls.Record{
		{CallID: 4, KioskID: 2, OfficerID: 1, Acknowledged: true, Status: calls.StatusPending},
		{CallID: 3, KioskID: 1, OfficerID: 1, Acknowledged: true, Completed: true},
		{CallID: 5, KioskID: 1, OfficerID: 1},
	}

	h.clock.Add(DefaultPollInterval)
	waitFor(t, "media prepared", func() bool { return h.ctrl.Snapshot().Status == StatusPrepared })
	if acked := h.api.ackedCalls(); len(acked) != 1 || acked[0] != 4 {
		t.Fatalf("expected only call 4 processed, got %v", acked)
	}

	h.clock.Add(DefaultPollInterval)
	time.Sleep(20 * time.Millisecond)
	if acked := h.api.ackedCalls(); len(acked) != 1 {
		t.Fatalf("expected duplicate poll hit ignored, got %v", acked)
	}
	if h.devices.Issued() != 1 {
		t.Fatalf("expected one pre-acquired stream, got %d", h.devices.Issued())
	}

	k := newCaller(t, h.net, "caller-b")
	k.call(t, media.Metadata{KioskID: 2})
	if got := h.ctrl.Snapshot().CallID; got != 4 {
		t.Fatalf("expected call id learned from the poll, got %d", got)
	}
	if err := h.ctrl.Accept(context.Background()); err != nil {
		t.Fatalf("accept: %v", err)
	}
	if h.devices.Issued() != 1 {
		t.Fatalf("expected the prepared stream to be reused")
	}

	if err := h.ctrl.EndCall(); err != nil {
		t.Fatalf("end: %v", err)
	}
	if ended := h.api.endedCalls(); len(ended) != 1 || ended[0].CallID != 4 {
		t.Fatalf("unexpected end reports %+v", ended)
	}
}

func TestPoll_IgnoresCallsOlderThanRingTimeout(t *testing.T) {
	h := newHarness(t, false)
	h.clock.Add(DefaultRingTimeout + time.Second)

	now := h.clock.Now().UnixMilli()
	h.api.mu.Lock()
	h.api.records = []calls.Record{
		{CallID: 8, KioskID: 1, OfficerID: 1, Acknowledged: true, Timestamp: 1},
		{CallID: 9, KioskID: 2, OfficerID: 1, Acknowledged: true, Timestamp: now - 1000},
	}
	h.api.mu.Unlock()

	h.clock.Add(DefaultPollInterval)
	waitFor(t, "fresh call detected", func() bool { return len(h.api.ackedCalls()) == 1 })
	h.clock.Add(DefaultPollInterval)
	time.Sleep(20 * time.Millisecond)

	if acked := h.api.ackedCalls(); len(acked) != 1 || acked[0] != 9 {
		t.Fatalf("expected only the fresh call processed, got %v", acked)
	}
	if h.devices.Issued() != 1 {
		t.Fatalf("expected media prepared once, got %d", h.devices.Issued())
	}
}

func TestKnownCallID_ExpiresAfterRingTimeout(t *testing.T) {
	h := newHarness(t, true)
	a := newCaller(t, h.net, "caller-a")
	a.call(t, media.Metadata{KioskID: 1, CallID: 1})

	// Kiosk 2 registers a call while kiosk 1 is on the line and never dials.
	h.ctrl.NotifyNewCall(calls.Record{CallID: 9, KioskID: 2, OfficerID: 1, Acknowledged: true, Status: calls.StatusActive})
	h.clock.Add(DefaultRingTimeout + time.Second)
	if err := h.ctrl.EndCall(); err != nil {
		t.Fatalf("end: %v", err)
	}

	b := newCaller(t, h.net, "caller-b")
	b.call(t, media.Metadata{KioskID: 2})
	if snap := h.ctrl.Snapshot(); snap.KioskID != 2 || snap.CallID != 0 {
		t.Fatalf("expected no call id for a late offer, got %+v", snap)
	}
	if err := h.ctrl.EndCall(); err != nil {
		t.Fatalf("end: %v", err)
	}
	for _, e := range h.api.endedCalls() {
		if e.CallID == 9 {
			t.Fatalf("expected the expired call left alone, got %+v", h.api.endedCalls())
		}
	}
}

func TestPreparedMediaReleasedWithoutOffer(t *testing.T) {
	h := newHarness(t, false)
	h.ctrl.NotifyNewCall(calls.Record{CallID: 6, KioskID: 1, OfficerID: 1, Acknowledged: true, Status: calls.StatusActive})
	if h.devices.LiveTracks() != 2 {
		t.Fatalf("expected media prepared, %d live tracks", h.devices.LiveTracks())
	}

	h.clock.Add(DefaultRingTimeout)
	waitFor(t, "prepared media released", func() bool { return h.devices.LiveTracks() == 0 })
	waitFor(t, "status back online", func() bool { return h.ctrl.Snapshot().Status == StatusOnline })
}

func TestNotifyNewCall_Dedups(t *testing.T) {
	h := newHarness(t, true)
	rec := calls.Record{CallID: 6, KioskID: 1, OfficerID: 1, Acknowledged: true, Status: calls.StatusActive}

	h.ctrl.NotifyNewCall(rec)
	h.ctrl.NotifyNewCall(rec)
	h.ctrl.NotifyNewCall(calls.Record{CallID: 9, KioskID: 1, OfficerID: 2})

	if acked := h.api.ackedCalls(); len(acked) != 1 || acked[0] != 6 {
		t.Fatalf("expected a single acknowledgment, got %v", acked)
	}

	// The media offer for the same call is the one that rings.
	k := newCaller(t, h.net, "caller-a")
	k.call(t, media.Metadata{KioskID: 1, CallID: 6})
	if snap := h.ctrl.Snapshot(); snap.Phase != PhaseConnected || snap.CallID != 6 {
		t.Fatalf("unexpected snapshot %+v", snap)
	}
	h.ctrl.NotifyNewCall(calls.Record{CallID: 10, KioskID: 1, OfficerID: 1})
	if snap := h.ctrl.Snapshot(); snap.CallID != 6 {
		t.Fatalf("expected current call untouched, got %+v", snap)
	}
}

func TestDisconnect_ReconnectsAfterDelay(t *testing.T) {
	h := newHarness(t, true)

	h.net.Disconnect("officer-1")
	snap := h.ctrl.Snapshot()
	if snap.Online || snap.Status != StatusReconnecting {
		t.Fatalf("unexpected snapshot %+v", snap)
	}

	h.clock.Add(disconnectReconnectDelay)
	waitFor(t, "reconnect", func() bool { return h.ctrl.Snapshot().Online })
	if h.ctrl.Snapshot().Status != StatusOnline {
		t.Fatalf("expected online status")
	}

	k := newCaller(t, h.net, "caller-a")
	k.call(t, media.Metadata{KioskID: 1})
	if h.ctrl.Snapshot().Phase != PhaseConnected {
		t.Fatalf("expected calls accepted after reconnect")
	}
}

func TestEndpointError_RetriesAfterFiveSeconds(t *testing.T) {
	h := newHarness(t, true)

	h.net.Fail("officer-1", errors.New("server-error"))
	if got := h.ctrl.Snapshot().Status; got != "Error: server-error" {
		t.Fatalf("unexpected status %q", got)
	}
	h.clock.Add(disconnectReconnectDelay)
	time.Sleep(20 * time.Millisecond)
	if got := h.ctrl.Snapshot().Status; got != "Error: server-error" {
		t.Fatalf("expected no retry before five seconds, got %q", got)
	}
	h.clock.Add(errorReconnectDelay - disconnectReconnectDelay)
	waitFor(t, "retry", func() bool { return h.ctrl.Snapshot().Status == StatusOnline })
}

func TestStop_ReleasesAndCancelsTimers(t *testing.T) {
	h := newHarness(t, false)
	k := newCaller(t, h.net, "caller-a")
	k.call(t, media.Metadata{KioskID: 1, CallID: 5})

	h.ctrl.Stop()
	h.ctrl.Stop()

	if !k.isClosed() {
		t.Fatalf("expected offer closed on stop")
	}
	if _, ok := h.net.Endpoint("officer-1"); ok {
		t.Fatalf("expected endpoint closed")
	}
	h.clock.Add(DefaultRingTimeout)
	time.Sleep(20 * time.Millisecond)
	if len(h.api.endedCalls()) != 0 {
		t.Fatalf("expected ring timer cancelled")
	}
	if h.ctrl.Snapshot().Phase != PhaseStopped {
		t.Fatalf("expected stopped")
	}
}

func TestFormatDuration(t *testing.T) {
	tests := []struct {
		in   int
		want string
	}{
		{0, "0:00"},
		{9, "0:09"},
		{65, "1:05"},
		{600, "10:00"},
		{-3, "0:00"},
	}
	for _, tt := range tests {
		if got := FormatDuration(tt.in); got != tt.want {
			t.Fatalf("FormatDuration(%d) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
