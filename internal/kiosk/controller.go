// Package kiosk drives the citizen-facing side of a call: it owns the kiosk's
// media endpoint, places calls to officers on the allow-list, polls the
// Coordination API for operator-initiated requests and tears every call down
// to a clean ready state however it ends.
package kiosk

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"

	"kiosk-call/internal/calls"
	"kiosk-call/internal/coordclient"
	"kiosk-call/internal/media"
	"kiosk-call/pkg/logger"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"
)

var (
	ErrOfficerNotAllowed = errors.New("kiosk: officer not on this kiosk's allow-list")
	ErrBusy              = errors.New("kiosk: a call is already in progress")
	ErrNotReady          = errors.New("kiosk: endpoint not ready")
	// ErrCanceled is returned by PlaceCall when the call was ended or the
	// controller stopped while it was being set up.
	ErrCanceled = errors.New("kiosk: call canceled")
)

// Status texts shown on the kiosk screen.
const (
	StatusConnecting = "Connecting..."
	StatusSelect     = "Ready - Select an officer to call"
	StatusCalling    = "Calling..."
	StatusConnected  = "Call connected!"
	StatusEnded      = "Call ended"
	StatusNotReady   = "Cannot call: Peer not ready."
)

const (
	DefaultPollInterval = 3 * time.Second
	statusResetDelay    = time.Second
)

type Phase string

const (
	PhaseIdle      Phase = "idle"
	PhaseStarting  Phase = "starting"
	PhaseReady     Phase = "ready"
	PhaseCalling   Phase = "calling"
	PhaseConnected Phase = "connected"
	PhaseStopped   Phase = "stopped"
)

// Outcome tells a normal end apart from a failure.
type Outcome string

const (
	OutcomeNone   Outcome = ""
	OutcomeEnded  Outcome = "ended"
	OutcomeFailed Outcome = "failed"
)

// API is the subset of the Coordination API the kiosk uses.
type API interface {
	Initiate(ctx context.Context, in calls.NewCall) (coordclient.InitiateResult, error)
	PendingForKiosk(ctx context.Context, kioskID int64) (calls.Record, bool, error)
	Acknowledge(ctx context.Context, callID int64) error
}

type Config struct {
	KioskID   int64
	AllowList AllowList

	// PollInterval is the pending-call poll period. Zero means DefaultPollInterval.
	PollInterval time.Duration

	// AutoStartOfficer, when non-zero, is called as soon as the endpoint is ready.
	AutoStartOfficer int64

	// RegisterCalls records calls placed without a pending record through
	// initiate-call, so the officer side learns their call id.
	RegisterCalls bool

	Media   media.Opener
	Devices media.Devices
	API     API            // optional; nil disables polling and registration
	Window  WindowNotifier // optional
	Clock   clock.Clock    // optional
	Logger  *slog.Logger   // optional
}

// Snapshot is a point-in-time view of the controller.
type Snapshot struct {
	Phase      Phase
	Status     string
	EndpointID string
	OfficerID  int64
	CallID     int64
	Outcome    Outcome
}

// session is one call attempt. A callback holding a session that is no longer
// current is stale and does nothing.
type session struct {
	officerID int64
	callID    int64
	local     media.Stream
	call      media.Call
	remote    media.Stream
	dc        media.DataChannel
}

type Controller struct {
	cfg Config
	clk clock.Clock
	log *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu         sync.Mutex
	phase      Phase
	status     string
	outcome    Outcome
	ep         media.Endpoint
	sess       *session
	resetTimer *clock.Timer
}

func New(cfg Config) (*Controller, error) {
	if cfg.KioskID <= 0 {
		return nil, fmt.Errorf("kiosk: invalid kiosk id %d", cfg.KioskID)
	}
	if cfg.Media == nil || cfg.Devices == nil {
		return nil, errors.New("kiosk: media opener and devices are required")
	}
	if cfg.AllowList == nil {
		cfg.AllowList = DefaultAllowList()
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultPollInterval
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.New()
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Controller{
		cfg:    cfg,
		clk:    cfg.Clock,
		log:    logger.Component(cfg.Logger, "kiosk").With("kiosk_id", cfg.KioskID),
		phase:  PhaseIdle,
		status: StatusConnecting,
	}, nil
}

// endpointName is unique per controller instance.
func endpointName() string {
	return "caller-" + strings.ReplaceAll(uuid.NewString(), "-", "")[:9]
}

// Start opens the media endpoint, starts polling and applies the auto-start
// instruction. The controller runs until Stop; ctx only bounds startup.
func (c *Controller) Start(ctx context.Context) error {
	c.mu.Lock()
	if c.phase != PhaseIdle {
		c.mu.Unlock()
		return errors.New("kiosk: already started")
	}
	c.phase = PhaseStarting
	c.ctx, c.cancel = context.WithCancel(context.Background())
	c.mu.Unlock()

	ep, err := c.cfg.Media.Open(ctx, endpointName())
	if err != nil {
		c.mu.Lock()
		c.phase = PhaseIdle
		c.status = "Error: " + err.Error()
		c.mu.Unlock()
		c.cancel()
		return err
	}

	ep.OnError(func(err error) {
		c.log.Warn("kiosk endpoint error", "err", err)
		c.mu.Lock()
		c.status = "Error: " + err.Error()
		c.mu.Unlock()
	})
	ep.OnDisconnected(c.onDisconnected)
	ep.OnConnection(func(dc media.DataChannel) {
		dc.OnData(func(raw []byte) { c.onSignal(nil, raw) })
	})

	c.mu.Lock()
	if c.phase != PhaseStarting {
		// Stopped while opening.
		c.mu.Unlock()
		_ = ep.Close()
		return ErrCanceled
	}
	c.ep = ep
	c.phase = PhaseReady
	c.status = fmt.Sprintf("Ready (ID: %s)", ep.ID())
	var ticker *clock.Ticker
	if c.cfg.API != nil {
		ticker = c.clk.Ticker(c.cfg.PollInterval)
		c.wg.Add(1)
	}
	c.mu.Unlock()
	c.log.Info("kiosk ready", "endpoint", ep.ID())

	if ticker != nil {
		go c.pollLoop(ticker)
	}

	if officer := c.cfg.AutoStartOfficer; officer != 0 {
		if err := c.PlaceCall(ctx, officer); err != nil {
			c.log.Warn("kiosk auto-start failed", "officer_id", officer, "err", err)
		}
	}
	return nil
}

// PlaceCall calls an officer on the allow-list. It returns once the offer is
// placed; connection and teardown are reported through Snapshot and the window.
func (c *Controller) PlaceCall(ctx context.Context, officerID int64) error {
	return c.placeCall(ctx, officerID, 0)
}

func (c *Controller) placeCall(ctx context.Context, officerID, callID int64) error {
	if !c.cfg.AllowList.Allowed(c.cfg.KioskID, officerID) {
		c.log.Warn("kiosk refused officer outside allow-list", "officer_id", officerID)
		return ErrOfficerNotAllowed
	}

	c.mu.Lock()
	switch {
	case c.sess != nil:
		c.mu.Unlock()
		return ErrBusy
	case c.phase != PhaseReady:
		if c.phase != PhaseStopped {
			c.status = StatusNotReady
		}
		c.mu.Unlock()
		return ErrNotReady
	}
	sess := &session{officerID: officerID, callID: callID}
	c.sess = sess
	c.phase = PhaseCalling
	c.status = StatusCalling
	c.outcome = OutcomeNone
	c.stopResetTimerLocked()
	ep := c.ep
	c.mu.Unlock()

	log := c.log.With("officer_id", officerID)

	local, err := c.cfg.Devices.UserMedia(ctx)
	if err != nil {
		log.Warn("kiosk media acquisition failed", "err", err)
		c.teardown(sess, OutcomeFailed, "Error: "+err.Error())
		return err
	}
	if !c.update(sess, func() { sess.local = local }) {
		local.Stop()
		return ErrCanceled
	}

	if callID == 0 && c.cfg.RegisterCalls && c.cfg.API != nil {
		res, err := c.cfg.API.Initiate(ctx, calls.NewCall{
			KioskID:   c.cfg.KioskID,
			OfficerID: officerID,
			Autostart: true,
			PeerID:    ep.ID(),
		})
		if err != nil {
			log.Warn("kiosk call registration failed", "err", err)
		} else {
			callID = res.CallID
			if !c.update(sess, func() { sess.callID = callID }) {
				return ErrCanceled
			}
		}
	}

	md := media.Metadata{KioskID: c.cfg.KioskID, CallID: callID}
	call, err := ep.Call(ctx, officerPeer(officerID), local, md)
	if err != nil {
		log.Warn("kiosk call placement failed", "err", err)
		c.teardown(sess, OutcomeFailed, "Error: "+err.Error())
		return err
	}
	if !c.update(sess, func() { sess.call = call }) {
		call.Close()
		return ErrCanceled
	}

	call.OnStream(func(remote media.Stream) { c.onRemoteStream(sess, remote) })
	call.OnClose(func() { c.teardown(sess, OutcomeEnded, StatusEnded) })
	call.OnError(func(err error) {
		log.Warn("kiosk call error", "err", err)
		c.teardown(sess, OutcomeFailed, "Call error: "+err.Error())
	})
	log.Info("kiosk call placed", "call_id", callID)
	return nil
}

func (c *Controller) onRemoteStream(sess *session, remote media.Stream) {
	var callID int64
	ok := c.update(sess, func() {
		sess.remote = remote
		callID = sess.callID
		c.phase = PhaseConnected
		c.status = StatusConnected
	})
	if !ok {
		media.StopStream(remote)
		return
	}
	c.log.Info("kiosk call connected", "officer_id", sess.officerID, "call_id", callID)
	c.notify(WindowMessage{Type: MsgCallConnected, OfficerID: sess.officerID, KioskID: c.cfg.KioskID})

	for _, t := range remote.Tracks() {
		t.OnEnded(func() {
			if media.AllTracksEnded(remote) {
				c.teardown(sess, OutcomeEnded, StatusEnded)
			}
		})
	}

	c.openDataChannel(sess, callID)
}

// openDataChannel gives the officer a direct path to end the call.
func (c *Controller) openDataChannel(sess *session, callID int64) {
	c.mu.Lock()
	ep := c.ep
	ctx := c.ctx
	c.mu.Unlock()
	if ep == nil {
		return
	}

	md := media.Metadata{KioskID: c.cfg.KioskID, CallID: callID}
	dc, err := ep.Connect(ctx, officerPeer(sess.officerID), md)
	if err != nil {
		c.log.Warn("kiosk data channel failed", "err", err)
		return
	}
	if !c.update(sess, func() { sess.dc = dc }) {
		dc.Close()
		return
	}
	dc.OnData(func(raw []byte) { c.onSignal(sess, raw) })
	if err := dc.Send(media.Signal{Type: media.SignalCallRequest, CallID: callID}); err != nil {
		c.log.Warn("kiosk data channel send failed", "err", err)
	}
}

// onSignal handles a data channel message. A nil sess means the current call.
func (c *Controller) onSignal(sess *session, raw []byte) {
	var sig media.Signal
	if err := json.Unmarshal(raw, &sig); err != nil {
		c.log.Debug("kiosk ignored data channel message", "err", err)
		return
	}
	switch sig.Type {
	case media.SignalCallEnded, media.SignalEndCall:
		if sess == nil {
			c.mu.Lock()
			sess = c.sess
			c.mu.Unlock()
		}
		c.log.Info("kiosk call ended by officer", "call_id", sig.CallID)
		c.teardown(sess, OutcomeEnded, StatusEnded)
	}
}

func (c *Controller) onDisconnected() {
	c.mu.Lock()
	sess := c.sess
	ep := c.ep
	ctx := c.ctx
	c.mu.Unlock()

	c.log.Warn("kiosk endpoint disconnected")
	c.teardown(sess, OutcomeEnded, StatusEnded)
	if ep != nil && ctx.Err() == nil {
		if err := ep.Reconnect(ctx); err != nil {
			c.log.Warn("kiosk reconnect failed", "err", err)
		}
	}
}

// EndCall hangs up the current call, if any.
func (c *Controller) EndCall() {
	c.mu.Lock()
	sess := c.sess
	c.mu.Unlock()
	c.teardown(sess, OutcomeEnded, StatusEnded)
}

// NotifyCallStarted handles a call-started push event for this kiosk.
func (c *Controller) NotifyCallStarted(callID int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.sess != nil && c.sess.callID == 0 {
		c.sess.callID = callID
	}
	c.log.Info("kiosk call started", "call_id", callID)
}

// HandleWindowMessage applies an INITIATE_CALL or END_CALL message from the
// opening window. Messages addressed to another kiosk are ignored.
func (c *Controller) HandleWindowMessage(ctx context.Context, msg WindowMessage) error {
	switch msg.Type {
	case MsgInitiateCall:
		if msg.KioskID != 0 && msg.KioskID != c.cfg.KioskID {
			c.log.Debug("kiosk ignored message for another kiosk", "target", msg.KioskID)
			return nil
		}
		return c.PlaceCall(ctx, msg.OfficerID)
	case MsgEndCall:
		c.EndCall()
	}
	return nil
}

func (c *Controller) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	s := Snapshot{Phase: c.phase, Status: c.status, Outcome: c.outcome}
	if c.ep != nil {
		s.EndpointID = c.ep.ID()
	}
	if c.sess != nil {
		s.OfficerID = c.sess.officerID
		s.CallID = c.sess.callID
	}
	return s
}

// Stop cancels polling and timers, releases the current call and closes the endpoint.
func (c *Controller) Stop() {
	c.mu.Lock()
	if c.phase == PhaseStopped {
		c.mu.Unlock()
		return
	}
	c.phase = PhaseStopped
	sess := c.sess
	c.sess = nil
	c.stopResetTimerLocked()
	ep := c.ep
	cancel := c.cancel
	c.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	c.wg.Wait()
	release(sess)
	if ep != nil {
		_ = ep.Close()
	}
	c.log.Info("kiosk stopped")
}

func (c *Controller) pollLoop(ticker *clock.Ticker) {
	defer c.wg.Done()
	defer ticker.Stop()
	for {
		select {
		case <-c.ctx.Done():
			return
		case <-ticker.C:
			c.pollOnce(c.ctx)
		}
	}
}

// pollOnce consumes at most one pending call request.
func (c *Controller) pollOnce(ctx context.Context) {
	c.mu.Lock()
	busy := c.sess != nil || c.phase != PhaseReady
	c.mu.Unlock()
	if busy {
		// Left unacknowledged; a later tick picks it up.
		return
	}

	rec, ok, err := c.cfg.API.PendingForKiosk(ctx, c.cfg.KioskID)
	if err != nil {
		c.log.Warn("kiosk poll failed", "err", err)
		return
	}
	if !ok {
		return
	}
	log := c.log.With("call_id", rec.CallID, "officer_id", rec.OfficerID)

	if !c.cfg.AllowList.Allowed(c.cfg.KioskID, rec.OfficerID) {
		log.Warn("kiosk refused pending call: officer not allowed")
		c.acknowledge(ctx, rec.CallID)
		return
	}

	err = c.placeCall(ctx, rec.OfficerID, rec.CallID)
	if errors.Is(err, ErrBusy) || errors.Is(err, ErrNotReady) {
		return
	}
	if err != nil {
		log.Warn("kiosk pending call failed", "err", err)
	}
	c.acknowledge(ctx, rec.CallID)
}

func (c *Controller) acknowledge(ctx context.Context, callID int64) {
	if err := c.cfg.API.Acknowledge(ctx, callID); err != nil {
		c.log.Warn("kiosk acknowledge failed", "call_id", callID, "err", err)
	}
}

// update applies fn under the lock if sess is still the current call.
func (c *Controller) update(sess *session, fn func()) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.sess != sess {
		return false
	}
	fn()
	return true
}

// teardown ends sess once. Later triggers for the same session are no-ops.
func (c *Controller) teardown(sess *session, outcome Outcome, status string) {
	if sess == nil {
		return
	}
	c.mu.Lock()
	if c.sess != sess {
		c.mu.Unlock()
		return
	}
	c.sess = nil
	c.outcome = outcome
	if c.phase != PhaseStopped {
		c.phase = PhaseReady
		c.status = status
		c.stopResetTimerLocked()
		c.resetTimer = c.clk.AfterFunc(statusResetDelay, c.resetStatus)
	}
	c.mu.Unlock()

	release(sess)
	c.log.Info("kiosk call ended", "officer_id", sess.officerID, "call_id", sess.callID, "outcome", outcome)
	c.notify(WindowMessage{Type: MsgCallEnded, OfficerID: sess.officerID, KioskID: c.cfg.KioskID})
}

func (c *Controller) resetStatus() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.phase == PhaseReady && c.sess == nil {
		c.status = StatusSelect
	}
	c.resetTimer = nil
}

func (c *Controller) stopResetTimerLocked() {
	if c.resetTimer != nil {
		c.resetTimer.Stop()
		c.resetTimer = nil
	}
}

func (c *Controller) notify(msg WindowMessage) {
	if c.cfg.Window != nil {
		c.cfg.Window.Notify(msg)
	}
}

// release frees everything a session holds. It must be called without c.mu.
func release(sess *session) {
	if sess == nil {
		return
	}
	if sess.dc != nil {
		sess.dc.Close()
	}
	if sess.call != nil {
		sess.call.Close()
	}
	media.StopStream(sess.local)
	media.StopStream(sess.remote)
}

func officerPeer(officerID int64) string {
	return "officer-" + strconv.FormatInt(officerID, 10)
}
