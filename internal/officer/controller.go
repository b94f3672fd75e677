// Package officer drives the receiving side of a call. Incoming calls are
// detected three ways (a media offer, the officer-calls poll and the new-call
// push event) and all three feed one state machine that deduplicates them.
package officer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"kiosk-call/internal/calls"
	"kiosk-call/internal/media"
	"kiosk-call/pkg/logger"

	"github.com/benbjohnson/clock"
	lru "github.com/hashicorp/golang-lru/v2"
)

var (
	ErrNoIncomingCall = errors.New("officer: no incoming call")
	ErrNoActiveCall   = errors.New("officer: no active call")
)

const (
	StatusConnecting   = "Connecting..."
	StatusOnline       = "Online - Waiting for incoming calls"
	StatusPrepared     = "Ready to answer incoming call"
	StatusConnected    = "Call connected"
	StatusEnded        = "Call ended"
	StatusDeclined     = "Call declined"
	StatusMissed       = "Call auto-declined - no answer"
	StatusReconnecting = "Connection lost - Reconnecting..."
	StatusMediaError   = "Error accessing media devices"
)

const (
	DefaultPollInterval = 3 * time.Second
	DefaultRingTimeout  = 30 * time.Second
	defaultDedupSize    = 256

	errorReconnectDelay      = 5 * time.Second
	disconnectReconnectDelay = 3 * time.Second
	statusResetDelay         = time.Second
)

type Phase string

const (
	PhaseIdle      Phase = "idle"
	PhaseStarting  Phase = "starting"
	PhaseWaiting   Phase = "waiting"
	PhaseRinging   Phase = "ringing"
	PhaseConnected Phase = "connected"
	PhaseStopped   Phase = "stopped"
)

// API is the subset of the Coordination API the officer uses.
type API interface {
	OfficerCalls(ctx context.Context, officerID int64) ([]calls.Record, error)
	Acknowledge(ctx context.Context, callID int64) error
	EndCall(ctx context.Context, req calls.EndRequest) error
}

type Config struct {
	OfficerID int64

	// AutoAnswer accepts every incoming call as soon as it rings.
	AutoAnswer bool

	RingTimeout  time.Duration // zero means DefaultRingTimeout
	PollInterval time.Duration // zero means DefaultPollInterval

	// DedupSize bounds the set of call ids already handled.
	DedupSize int

	Media   media.Opener
	Devices media.Devices
	API     API          // optional; nil disables polling and end-call reports
	Clock   clock.Clock  // optional
	Logger  *slog.Logger // optional
}

// Snapshot is a point-in-time view of the controller.
type Snapshot struct {
	Phase      Phase
	Status     string
	Online     bool
	EndpointID string
	KioskID    int64
	CallID     int64
	// Duration counts whole seconds since the call was answered.
	Duration int
	// LastReason is the end reason of the previous call.
	LastReason calls.EndReason
}

// session spans one call from ringing to teardown.
type session struct {
	call     media.Call
	kioskID  int64
	callID   int64
	answered bool
	seconds  int
	local    media.Stream
	remote   media.Stream
	dc       media.DataChannel

	// answering is set while Accept acquires media, so a second Accept loses.
	answering bool

	done     chan struct{}
	stopOnce sync.Once
}

func (s *session) stop() {
	s.stopOnce.Do(func() { close(s.done) })
}

type Controller struct {
	cfg       Config
	clk       clock.Clock
	log       *slog.Logger
	processed *lru.Cache[int64, struct{}]

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu         sync.Mutex
	phase      Phase
	status     string
	online     bool
	lastReason calls.EndReason
	ep         media.Endpoint
	sess       *session
	// known remembers call ids learned from the API per kiosk until that
	// kiosk's media offer arrives or the ring timeout passes.
	known map[int64]knownCall

	prepared      media.Stream
	preparedTimer *clock.Timer
	ringTimer     *clock.Timer
	reconnTimer   *clock.Timer
	resetTimer    *clock.Timer
}

type knownCall struct {
	callID int64
	seen   time.Time
}

func New(cfg Config) (*Controller, error) {
	if cfg.OfficerID <= 0 {
		return nil, fmt.Errorf("officer: invalid officer id %d", cfg.OfficerID)
	}
	if cfg.Media == nil || cfg.Devices == nil {
		return nil, errors.New("officer: media opener and devices are required")
	}
	if cfg.RingTimeout <= 0 {
		cfg.RingTimeout = DefaultRingTimeout
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultPollInterval
	}
	if cfg.DedupSize <= 0 {
		cfg.DedupSize = defaultDedupSize
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.New()
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	processed, err := lru.New[int64, struct{}](cfg.DedupSize)
	if err != nil {
		return nil, fmt.Errorf("officer: dedup cache: %w", err)
	}
	return &Controller{
		cfg:       cfg,
		clk:       cfg.Clock,
		log:       logger.Component(cfg.Logger, "officer").With("officer_id", cfg.OfficerID),
		processed: processed,
		phase:     PhaseIdle,
		status:    StatusConnecting,
		known:     make(map[int64]knownCall),
	}, nil
}

// EndpointName is the media-layer name of an officer.
func EndpointName(officerID int64) string {
	return "officer-" + strconv.FormatInt(officerID, 10)
}

// Start registers the officer's endpoint and begins polling. The controller
// runs until Stop; ctx only bounds startup.
func (c *Controller) Start(ctx context.Context) error {
	c.mu.Lock()
	if c.phase != PhaseIdle {
		c.mu.Unlock()
		return errors.New("officer: already started")
	}
	c.phase = PhaseStarting
	c.ctx, c.cancel = context.WithCancel(context.Background())
	c.mu.Unlock()

	ep, err := c.cfg.Media.Open(ctx, EndpointName(c.cfg.OfficerID))
	if err != nil {
		c.mu.Lock()
		c.phase = PhaseIdle
		c.status = "Error: " + err.Error()
		c.mu.Unlock()
		c.cancel()
		return err
	}
	ep.OnCall(c.onCall)
	ep.OnConnection(c.onConnection)
	ep.OnError(c.onEndpointError)
	ep.OnDisconnected(c.onDisconnected)

	c.mu.Lock()
	if c.phase != PhaseStarting {
		c.mu.Unlock()
		_ = ep.Close()
		return errors.New("officer: stopped during start")
	}
	c.ep = ep
	c.online = true
	if c.sess == nil {
		c.phase = PhaseWaiting
		c.status = StatusOnline
	}
	var ticker *clock.Ticker
	if c.cfg.API != nil {
		ticker = c.clk.Ticker(c.cfg.PollInterval)
		c.wg.Add(1)
	}
	c.mu.Unlock()
	c.log.Info("officer online", "endpoint", ep.ID())

	if ticker != nil {
		go c.pollLoop(ticker)
	}
	return nil
}

func (c *Controller) onCall(call media.Call) {
	md := call.Metadata()

	c.mu.Lock()
	if c.phase == PhaseStopped {
		c.mu.Unlock()
		call.Close()
		return
	}
	if c.sess != nil {
		busyWith := c.sess.kioskID
		c.mu.Unlock()
		c.log.Warn("officer busy, closing offer", "kiosk_id", md.KioskID, "busy_with", busyWith)
		call.Close()
		return
	}
	callID := md.CallID
	if callID == 0 {
		callID = c.knownCallLocked(md.KioskID)
	}
	if callID != 0 {
		c.processed.Add(callID, struct{}{})
	}
	sess := &session{call: call, kioskID: md.KioskID, callID: callID, done: make(chan struct{})}
	c.sess = sess
	c.phase = PhaseRinging
	c.status = fmt.Sprintf("Incoming call from kiosk #%d...", md.KioskID)
	c.stopTimerLocked(&c.resetTimer)
	c.ringTimer = c.clk.AfterFunc(c.cfg.RingTimeout, func() { c.autoDecline(sess) })
	c.mu.Unlock()

	c.log.Info("officer incoming call", "kiosk_id", md.KioskID, "call_id", callID, "peer", call.Peer())

	call.OnStream(func(remote media.Stream) { c.onRemoteStream(sess, remote) })
	call.OnClose(func() { c.finish(sess, calls.EndReasonRemoteClosed, StatusEnded) })
	call.OnError(func(err error) {
		c.log.Warn("officer call error", "kiosk_id", sess.kioskID, "err", err)
		c.finish(sess, calls.EndReasonError, "Call error: "+err.Error())
	})

	if c.cfg.AutoAnswer {
		if err := c.accept(c.ctx, sess); err != nil {
			c.log.Warn("officer auto-answer failed", "err", err)
		}
	}
}

// Accept answers the ringing call.
func (c *Controller) Accept(ctx context.Context) error {
	c.mu.Lock()
	sess := c.sess
	c.mu.Unlock()
	if sess == nil {
		return ErrNoIncomingCall
	}
	return c.accept(ctx, sess)
}

func (c *Controller) accept(ctx context.Context, sess *session) error {
	c.mu.Lock()
	if c.sess != sess || sess.answered || sess.answering {
		c.mu.Unlock()
		return ErrNoIncomingCall
	}
	sess.answering = true
	c.stopTimerLocked(&c.ringTimer)
	local := c.takePreparedLocked()
	c.mu.Unlock()

	if local == nil {
		var err error
		local, err = c.cfg.Devices.UserMedia(ctx)
		if err != nil {
			// The attempt is aborted locally; the registry is left alone.
			c.log.Warn("officer media acquisition failed", "err", err)
			c.teardown(sess, calls.EndReasonError, StatusMediaError, false)
			return err
		}
	}

	ticker := c.clk.Ticker(time.Second)
	ok := c.update(sess, func() {
		sess.answering = false
		sess.local = local
		sess.answered = true
		sess.seconds = 0
		c.phase = PhaseConnected
		c.status = StatusConnected
		c.wg.Add(1)
	})
	if !ok {
		ticker.Stop()
		local.Stop()
		return ErrNoIncomingCall
	}
	go c.countDuration(sess, ticker)

	if err := sess.call.Answer(local); err != nil {
		c.log.Warn("officer answer failed", "err", err)
		c.finish(sess, calls.EndReasonError, "Call error: "+err.Error())
		return err
	}
	c.log.Info("officer answered", "kiosk_id", sess.kioskID, "call_id", sess.callID)
	return nil
}

func (c *Controller) onRemoteStream(sess *session, remote media.Stream) {
	if !c.update(sess, func() { sess.remote = remote }) {
		media.StopStream(remote)
		return
	}
	for _, t := range remote.Tracks() {
		t.OnEnded(func() {
			if media.AllTracksEnded(remote) {
				c.finish(sess, calls.EndReasonRemoteClosed, StatusEnded)
			}
		})
	}
}

// Reject declines the ringing call.
func (c *Controller) Reject() error {
	c.mu.Lock()
	sess := c.sess
	ringing := sess != nil && !sess.answered
	c.mu.Unlock()
	if !ringing {
		return ErrNoIncomingCall
	}
	c.finish(sess, calls.EndReasonRejected, StatusDeclined)
	return nil
}

func (c *Controller) autoDecline(sess *session) {
	c.mu.Lock()
	ringing := c.sess == sess && !sess.answered
	c.mu.Unlock()
	if !ringing {
		return
	}
	c.log.Info("officer auto-declined call", "kiosk_id", sess.kioskID, "after", c.cfg.RingTimeout)
	c.finish(sess, calls.EndReasonAutoDeclined, StatusMissed)
}

// EndCall hangs up. The kiosk is told over the data channel as well as
// through the Coordination API.
func (c *Controller) EndCall() error {
	c.mu.Lock()
	sess := c.sess
	answered := sess != nil && sess.answered
	c.mu.Unlock()
	if sess == nil {
		return ErrNoActiveCall
	}
	if !answered {
		return c.Reject()
	}
	c.finish(sess, calls.EndReasonManual, StatusEnded)
	return nil
}

// NotifyNewCall handles a new-call push event.
func (c *Controller) NotifyNewCall(rec calls.Record) {
	if rec.OfficerID != c.cfg.OfficerID {
		return
	}
	c.noteIncoming(rec, "push")
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

func (c *Controller) pollOnce(ctx context.Context) {
	recs, err := c.cfg.API.OfficerCalls(ctx, c.cfg.OfficerID)
	if err != nil {
		c.log.Warn("officer poll failed", "err", err)
		return
	}
	for _, rec := range recs {
		if rec.Acknowledged && !rec.Completed {
			c.noteIncoming(rec, "poll")
		}
	}
}

// noteIncoming records a call learned from the API. Calls already handled,
// or from the kiosk currently on the line, are ignored.
func (c *Controller) noteIncoming(rec calls.Record, source string) {
	c.mu.Lock()
	if c.phase == PhaseStopped || rec.CallID <= 0 || c.processed.Contains(rec.CallID) {
		c.mu.Unlock()
		return
	}
	c.processed.Add(rec.CallID, struct{}{})
	if c.staleLocked(rec) {
		c.mu.Unlock()
		c.log.Debug("officer ignored stale call", "call_id", rec.CallID, "kiosk_id", rec.KioskID, "source", source)
		return
	}
	if c.sess != nil && c.sess.kioskID == rec.KioskID {
		if c.sess.callID == 0 {
			c.sess.callID = rec.CallID
		}
		c.mu.Unlock()
		return
	}
	c.known[rec.KioskID] = knownCall{callID: rec.CallID, seen: c.clk.Now()}
	prepare := c.sess == nil && c.prepared == nil
	if c.sess == nil {
		c.status = fmt.Sprintf("Incoming call from kiosk #%d...", rec.KioskID)
	}
	ctx := c.ctx
	c.mu.Unlock()

	log := c.log.With("call_id", rec.CallID, "kiosk_id", rec.KioskID, "source", source)
	log.Info("officer incoming call detected")

	if c.cfg.API != nil {
		if err := c.cfg.API.Acknowledge(ctx, rec.CallID); err != nil {
			log.Warn("officer acknowledge failed", "err", err)
		}
	}
	if prepare {
		c.prepare(ctx)
	}
}

// staleLocked reports whether rec was created longer ago than a call can
// ring. Such records belong to calls nobody ended, not to a live offer.
func (c *Controller) staleLocked(rec calls.Record) bool {
	if rec.Timestamp <= 0 {
		return false
	}
	return c.clk.Since(time.UnixMilli(rec.Timestamp)) > c.cfg.RingTimeout
}

// knownCallLocked returns the call id learned for kioskID, forgetting it once
// the ring timeout has passed.
func (c *Controller) knownCallLocked(kioskID int64) int64 {
	k, ok := c.known[kioskID]
	if !ok {
		return 0
	}
	if c.clk.Since(k.seen) > c.cfg.RingTimeout {
		delete(c.known, kioskID)
		return 0
	}
	return k.callID
}

func (c *Controller) pruneKnownLocked() {
	for kioskID := range c.known {
		c.knownCallLocked(kioskID)
	}
}

// prepare acquires local media ahead of the offer. The stream is released if
// no call uses it within the ring timeout.
func (c *Controller) prepare(ctx context.Context) {
	local, err := c.cfg.Devices.UserMedia(ctx)
	if err != nil {
		c.log.Warn("officer media pre-acquisition failed", "err", err)
		c.mu.Lock()
		if c.sess == nil {
			c.status = StatusMediaError
		}
		c.mu.Unlock()
		return
	}

	c.mu.Lock()
	if c.prepared != nil || c.phase == PhaseStopped {
		c.mu.Unlock()
		local.Stop()
		return
	}
	c.prepared = local
	if c.sess == nil {
		c.status = StatusPrepared
	}
	c.preparedTimer = c.clk.AfterFunc(c.cfg.RingTimeout, c.dropPrepared)
	c.mu.Unlock()
}

func (c *Controller) dropPrepared() {
	c.mu.Lock()
	local := c.prepared
	c.prepared = nil
	c.preparedTimer = nil
	c.pruneKnownLocked()
	if local != nil && c.sess == nil && c.phase == PhaseWaiting {
		c.status = StatusOnline
	}
	c.mu.Unlock()
	media.StopStream(local)
}

func (c *Controller) takePreparedLocked() media.Stream {
	local := c.prepared
	c.prepared = nil
	c.stopTimerLocked(&c.preparedTimer)
	return local
}

func (c *Controller) onConnection(dc media.DataChannel) {
	md := dc.Metadata()
	var sess *session
	c.mu.Lock()
	if s := c.sess; s != nil && s.kioskID == md.KioskID && s.dc == nil {
		s.dc = dc
		if s.callID == 0 {
			s.callID = md.CallID
		}
		sess = s
	}
	c.mu.Unlock()

	if sess == nil {
		c.log.Debug("officer data channel without a matching call", "kiosk_id", md.KioskID)
	}
	dc.OnData(func(raw []byte) { c.onData(dc, raw) })
}

func (c *Controller) onData(dc media.DataChannel, raw []byte) {
	var sig media.Signal
	if err := json.Unmarshal(raw, &sig); err != nil {
		c.log.Debug("officer ignored data channel message", "err", err)
		return
	}

	c.mu.Lock()
	sess := c.sess
	if sess != nil && sess.dc != dc {
		sess = nil
	}
	if sess != nil && sess.callID == 0 && sig.CallID != 0 {
		sess.callID = sig.CallID
	}
	c.mu.Unlock()

	switch sig.Type {
	case media.SignalCallRequest:
		c.log.Info("officer call request received", "call_id", sig.CallID)
	case media.SignalCallEnded, media.SignalEndCall:
		if sess != nil {
			c.finish(sess, calls.EndReasonRemoteClosed, StatusEnded)
		}
	}
}

func (c *Controller) countDuration(sess *session, ticker *clock.Ticker) {
	defer c.wg.Done()
	defer ticker.Stop()
	for {
		select {
		case <-sess.done:
			return
		case <-ticker.C:
			c.update(sess, func() { sess.seconds++ })
		}
	}
}

// finish tears sess down once and reports the end. Local release always
// completes before the Coordination API is contacted.
func (c *Controller) finish(sess *session, reason calls.EndReason, status string) {
	c.teardown(sess, reason, status, true)
}

func (c *Controller) teardown(sess *session, reason calls.EndReason, status string, report bool) {
	c.mu.Lock()
	if c.sess != sess {
		c.mu.Unlock()
		return
	}
	c.sess = nil
	sess.stop()
	c.stopTimerLocked(&c.ringTimer)
	prepared := c.takePreparedLocked()
	callID := sess.callID
	if callID == 0 {
		callID = c.knownCallLocked(sess.kioskID)
	}
	delete(c.known, sess.kioskID)
	c.lastReason = reason
	if c.phase != PhaseStopped {
		c.phase = PhaseWaiting
		c.status = status
		c.stopTimerLocked(&c.resetTimer)
		c.resetTimer = c.clk.AfterFunc(statusResetDelay, c.resetStatus)
	}
	ctx := c.ctx
	seconds := sess.seconds
	dc := sess.dc
	c.mu.Unlock()

	if reason == calls.EndReasonManual && dc != nil {
		if err := dc.Send(media.Signal{Type: media.SignalCallEnded, CallID: callID}); err != nil {
			c.log.Warn("officer could not signal kiosk", "err", err)
		}
	}
	release(sess)
	media.StopStream(prepared)

	log := c.log.With("kiosk_id", sess.kioskID, "call_id", callID, "reason", reason)
	log.Info("officer call ended", "duration", FormatDuration(seconds))

	if !report || c.cfg.API == nil || callID == 0 || ctx.Err() != nil {
		return
	}
	err := c.cfg.API.EndCall(ctx, calls.EndRequest{
		CallID: callID,
		Reason: reason,
		Notes:  "duration " + FormatDuration(seconds),
	})
	if err != nil {
		log.Warn("officer end-call report failed", "err", err)
	}
}

func (c *Controller) resetStatus() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.resetTimer = nil
	if c.phase != PhaseWaiting || c.sess != nil {
		return
	}
	if c.online {
		c.status = StatusOnline
	} else {
		c.status = StatusReconnecting
	}
}

func (c *Controller) onEndpointError(err error) {
	c.log.Warn("officer endpoint error", "err", err)
	c.mu.Lock()
	c.status = "Error: " + err.Error()
	c.mu.Unlock()
	c.scheduleReconnect(errorReconnectDelay)
}

func (c *Controller) onDisconnected() {
	c.log.Warn("officer endpoint disconnected")
	c.mu.Lock()
	c.online = false
	c.status = StatusReconnecting
	c.mu.Unlock()
	c.scheduleReconnect(disconnectReconnectDelay)
}

func (c *Controller) scheduleReconnect(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.phase == PhaseStopped {
		return
	}
	c.stopTimerLocked(&c.reconnTimer)
	c.reconnTimer = c.clk.AfterFunc(d, c.reconnect)
}

func (c *Controller) reconnect() {
	c.mu.Lock()
	c.reconnTimer = nil
	ep, ctx := c.ep, c.ctx
	stopped := c.phase == PhaseStopped
	c.mu.Unlock()
	if stopped || ep == nil {
		return
	}

	if err := ep.Reconnect(ctx); err != nil {
		c.log.Warn("officer reconnect failed", "err", err)
		c.mu.Lock()
		c.status = "Error: " + err.Error()
		c.mu.Unlock()
		return
	}
	c.log.Info("officer reconnected")
	c.mu.Lock()
	c.online = true
	switch c.phase {
	case PhaseWaiting:
		c.status = StatusOnline
	case PhaseConnected:
		c.status = StatusConnected
	}
	c.mu.Unlock()
}

func (c *Controller) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	s := Snapshot{
		Phase:      c.phase,
		Status:     c.status,
		Online:     c.online,
		LastReason: c.lastReason,
	}
	if c.ep != nil {
		s.EndpointID = c.ep.ID()
	}
	if c.sess != nil {
		s.KioskID = c.sess.kioskID
		s.CallID = c.sess.callID
		s.Duration = c.sess.seconds
	}
	return s
}

// Stop cancels every timer and the poll loop, releases media and closes the endpoint.
func (c *Controller) Stop() {
	c.mu.Lock()
	if c.phase == PhaseStopped {
		c.mu.Unlock()
		return
	}
	c.phase = PhaseStopped
	c.online = false
	sess := c.sess
	c.sess = nil
	if sess != nil {
		sess.stop()
	}
	prepared := c.takePreparedLocked()
	c.stopTimerLocked(&c.ringTimer)
	c.stopTimerLocked(&c.reconnTimer)
	c.stopTimerLocked(&c.resetTimer)
	ep, cancel := c.ep, c.cancel
	c.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	c.wg.Wait()
	release(sess)
	media.StopStream(prepared)
	if ep != nil {
		_ = ep.Close()
	}
	c.log.Info("officer stopped")
}

func (c *Controller) update(sess *session, fn func()) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.sess != sess {
		return false
	}
	fn()
	return true
}

func (c *Controller) stopTimerLocked(t **clock.Timer) {
	if *t != nil {
		(*t).Stop()
		*t = nil
	}
}

func release(sess *session) {
	if sess == nil {
		return
	}
	if sess.dc != nil {
		sess.dc.Close()
	}
	sess.call.Close()
	media.StopStream(sess.local)
	media.StopStream(sess.remote)
}

// FormatDuration renders whole seconds as M:SS.
func FormatDuration(seconds int) string {
	if seconds < 0 {
		seconds = 0
	}
	return fmt.Sprintf("%d:%02d", seconds/60, seconds%60)
}
