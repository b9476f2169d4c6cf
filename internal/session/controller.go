package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"invoicely/internal/mirror"
)

// Sentinel errors.
var (
	ErrGatewayInit         = errors.New("session: gateway initialization failed")
	ErrNoFactory           = errors.New("session: no gateway factory configured")
	ErrNotConnected        = errors.New("session: channel is not connected")
	ErrDeliveryUnsupported = errors.New("session: gateway cannot deliver messages")
	ErrMirror              = errors.New("session: mirror record update failed")
)

// Transition names reported to the Recorder.
const (
	kindConnect      = "connect"
	kindInitFailed   = "init_failed"
	kindPairingCode  = "pairing_code"
	kindReady        = "ready"
	kindDisconnected = "disconnected"
	kindDisconnect   = "disconnect"
)

// Transition outcomes reported to the Recorder.
const (
	outcomeApplied     = "applied"
	outcomeIgnored     = "ignored"
	outcomeStale       = "stale"
	outcomeFailed      = "failed"
	outcomeMirrorError = "mirror_error"
)

// Option configures a Controller.
type Option func(*Controller)

// WithLogger sets a structured logger. If l is nil the default slog logger is used.
func WithLogger(l *slog.Logger) Option {
	return func(c *Controller) {
		if l != nil {
			c.logger = l
		}
	}
}

// WithFactory sets the gateway factory used by Connect.
func WithFactory(f Factory) Option {
	return func(c *Controller) { c.factory = f }
}

// WithMirror sets the store that mirrors the bound number.
func WithMirror(m mirror.Store) Option {
	return func(c *Controller) { c.mirror = m }
}

// WithMirrorTimeout bounds every mirror operation. Zero means no bound.
func WithMirrorTimeout(d time.Duration) Option {
	return func(c *Controller) { c.mirrorTimeout = d }
}

// WithMirrorFallback makes Status report the mirrored number as connected
// until the first lifecycle transition of this process.
func WithMirrorFallback(enabled bool) Option {
	return func(c *Controller) { c.fallback = enabled }
}

// WithRecorder sets the transition observer.
func WithRecorder(r Recorder) Option {
	return func(c *Controller) {
		if r != nil {
			c.recorder = r
		}
	}
}

// WithClock overrides time.Now for transition timestamps.
func WithClock(now func() time.Time) Option {
	return func(c *Controller) {
		if now != nil {
			c.now = now
		}
	}
}

// Controller owns every transition of the session Store:
//
//	Disconnected --pairing code--> Pairing --ready--> Connected
//	Pairing|Connected --disconnected/Disconnect--> Disconnected
//
// All transitions run under mu. Mirror writes happen inside the critical
// section so the mirror cannot be reordered against memory; Store reads only
// take the Store's read lock and are never blocked by mirror I/O.
type Controller struct {
	mu        sync.Mutex // serializes transitions
	connectMu sync.Mutex // serializes Connect attempts
	store     *Store
	gen       uint64

	factory       Factory
	mirror        mirror.Store
	mirrorTimeout time.Duration
	fallback      bool
	recorder      Recorder
	logger        *slog.Logger
	now           func() time.Time

	watchMu  sync.Mutex
	watchers map[int]chan View
	nextID   int
}

// NewController returns a Controller over a fresh, disconnected Store.
func NewController(opts ...Option) *Controller {
	c := &Controller{
		store:    NewStore(),
		recorder: nopRecorder{},
		now:      time.Now,
		watchers: make(map[int]chan View),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// log returns the Controller's logger, falling back to the default slog logger.
func (c *Controller) log() *slog.Logger {
	if c.logger != nil {
		return c.logger
	}
	return slog.Default()
}

// Snapshot returns the current state.
func (c *Controller) Snapshot() State {
	return c.store.Snapshot()
}

// PairingCode returns the pairing payload while in the pairing phase, else "".
func (c *Controller) PairingCode() string {
	snap := c.store.Snapshot()
	if Project(snap) != StatusQR {
		return ""
	}
	return snap.PairingCode
}

// Status returns the projected status. Before any transition in this process,
// and when fallback is enabled, a mirrored number is reported as connected.
// Status never fails: mirror read errors degrade to disconnected.
func (c *Controller) Status(ctx context.Context) View {
	snap := c.store.Snapshot()
	if snap.Observed || !c.fallback || c.mirror == nil {
		return ViewOf(snap)
	}
	ctx, cancel := c.mirrorContext(ctx)
	defer cancel()
	number, err := c.mirror.Get(ctx, mirror.NumberKey)
	switch {
	case errors.Is(err, mirror.ErrNotFound):
		return ViewOf(snap)
	case err != nil:
		c.log().Warn("session: mirror read failed; reporting disconnected", "error", err)
		return DisconnectedView()
	case number == "":
		return ViewOf(snap)
	}
	return View{Status: StatusConnected, PhoneNumber: &number}
}

// Connect releases any held client, creates a new one and starts its
// initialization in the background. Factory failures are returned directly.
// The returned channel yields the Initialize result (nil, or an error wrapping
// ErrGatewayInit) and is then closed. Connect never retries.
//
// The previous client is destroyed before the factory runs, so at most one
// client exists at a time. Gateways are never destroyed with mu held: their
// event dispatch may be blocked waiting for mu.
func (c *Controller) Connect(ctx context.Context) (<-chan error, error) {
	if c.factory == nil {
		return nil, ErrNoFactory
	}
	c.connectMu.Lock()
	defer c.connectMu.Unlock()

	c.mu.Lock()
	prev, _ := c.detachLocked(kindConnect)
	c.mu.Unlock()
	release(prev)

	gw, err := c.factory(ctx)
	if err != nil {
		c.recorder.Transition(kindConnect, outcomeFailed)
		c.log().Error("session: gateway create failed", "error", err)
		return nil, fmt.Errorf("%w: %w", ErrGatewayInit, err)
	}

	c.mu.Lock()
	c.gen++
	gen := c.gen
	gw.Subscribe(func(ev Event) { c.handle(gen, ev) })
	now := c.now()
	snap := c.store.update(func(r *record) {
		r.clear()
		r.client = gw
		r.generation = gen
		r.since = now
		r.observed = true
	})
	c.applied(kindConnect, snap)
	c.mu.Unlock()

	c.log().Info("session: gateway initializing", "generation", gen)
	done := make(chan error, 1)
	initCtx := context.WithoutCancel(ctx)
	go func() {
		defer close(done)
		if err := gw.Initialize(initCtx); err != nil {
			done <- c.initFailed(gen, err)
			return
		}
		done <- nil
	}()
	return done, nil
}

// initFailed returns the state to disconnected if gen is still current.
func (c *Controller) initFailed(gen uint64, cause error) error {
	err := fmt.Errorf("%w: %w", ErrGatewayInit, cause)
	c.mu.Lock()
	var gw Gateway
	if c.isCurrent(gen) {
		gw, _ = c.detachLocked(kindInitFailed)
	} else {
		c.recorder.Transition(kindInitFailed, outcomeStale)
	}
	c.mu.Unlock()
	release(gw)
	c.log().Error("session: gateway initialization failed", "generation", gen, "error", cause)
	return err
}

// handle applies a gateway event if it comes from the currently held client.
func (c *Controller) handle(gen uint64, ev Event) {
	c.mu.Lock()
	if !c.isCurrent(gen) {
		c.recorder.Transition(string(ev.Kind), outcomeStale)
		c.mu.Unlock()
		c.log().Debug("session: dropping event from released client", "event", ev.Kind, "generation", gen)
		return
	}
	var released Gateway
	switch ev.Kind {
	case EventPairingCode:
		c.pairingLocked(ev.Code)
	case EventReady:
		c.readyLocked(ev.BoundNumber)
	case EventDisconnected:
		released, _ = c.detachLocked(kindDisconnected)
	default:
		c.log().Warn("session: unknown gateway event", "event", ev.Kind)
	}
	c.mu.Unlock()
	if released != nil {
		// Handlers may run on the gateway's own event goroutine.
		go released.Destroy()
	}
}

func (c *Controller) isCurrent(gen uint64) bool {
	_, current, snap := c.store.current()
	return snap.HasClient && current == gen
}

// PairingCodeIssued records a new pairing code. It is ignored while connected.
func (c *Controller) PairingCodeIssued(code string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.pairingLocked(code)
}

// Ready marks the channel usable and mirrors the bound number best-effort.
func (c *Controller) Ready(boundNumber string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.readyLocked(boundNumber)
}

// Disconnected handles a gateway-reported disconnection from any state.
func (c *Controller) Disconnected() {
	c.mu.Lock()
	gw, _ := c.detachLocked(kindDisconnected)
	c.mu.Unlock()
	release(gw)
}

// Disconnect is the administrative command: it clears the state, deletes the
// mirror record and destroys the held client. It is idempotent. The in-memory
// transition is applied even when the mirror delete fails; that failure is
// returned wrapped in ErrMirror.
func (c *Controller) Disconnect(ctx context.Context) error {
	c.mu.Lock()
	gw, _ := c.detachLocked(kindDisconnect)
	err := c.deleteMirrorLocked(ctx)
	c.mu.Unlock()
	release(gw)
	return err
}

// AbandonPairing disconnects only if the channel is still pairing and the
// pairing phase began before cutoff. It reports whether it disconnected.
func (c *Controller) AbandonPairing(ctx context.Context, cutoff time.Time) (bool, error) {
	c.mu.Lock()
	snap := c.store.Snapshot()
	if Project(snap) != StatusQR || snap.PairingSince.IsZero() || !snap.PairingSince.Before(cutoff) {
		c.mu.Unlock()
		return false, nil
	}
	gw, _ := c.detachLocked(kindDisconnect)
	err := c.deleteMirrorLocked(ctx)
	c.mu.Unlock()
	release(gw)
	return true, err
}

// Deliver sends d through the live client.
func (c *Controller) Deliver(ctx context.Context, d Delivery) error {
	gw, _, snap := c.store.current()
	if gw == nil || Project(snap) != StatusConnected {
		return ErrNotConnected
	}
	dl, ok := gw.(Deliverer)
	if !ok {
		return ErrDeliveryUnsupported
	}
	return dl.Deliver(ctx, d)
}

func (c *Controller) pairingLocked(code string) {
	snap := c.store.Snapshot()
	if code == "" {
		c.recorder.Transition(kindPairingCode, outcomeIgnored)
		c.log().Warn("session: ignoring empty pairing code")
		return
	}
	if Project(snap) == StatusConnected {
		c.recorder.Transition(kindPairingCode, outcomeIgnored)
		c.log().Warn("session: ignoring pairing code while connected", "number", snap.BoundNumber)
		return
	}
	now := c.now()
	snap = c.store.update(func(r *record) {
		if r.pairingCode == "" {
			r.pairingSince = now
		}
		r.pairingCode = code
		r.ready = false
		r.boundNumber = ""
		r.since = now
		r.observed = true
	})
	c.applied(kindPairingCode, snap)
}

func (c *Controller) readyLocked(number string) {
	if number == "" {
		c.recorder.Transition(kindReady, outcomeIgnored)
		c.log().Warn("session: ignoring ready event without bound number")
		return
	}
	now := c.now()
	snap := c.store.update(func(r *record) {
		r.ready = true
		r.pairingCode = ""
		r.pairingSince = time.Time{}
		r.boundNumber = number
		r.since = now
		r.observed = true
	})
	c.applied(kindReady, snap)
	c.log().Info("session: channel ready", "number", number)

	if c.mirror == nil {
		return
	}
	ctx, cancel := c.mirrorContext(context.Background())
	defer cancel()
	if err := c.mirror.Set(ctx, mirror.NumberKey, number); err != nil {
		c.recorder.Transition(kindReady, outcomeMirrorError)
		c.log().Warn("session: mirror write failed", "error", err)
	}
}

// detachLocked clears the state and returns the released client, if any.
// When already disconnected with no client it changes nothing and reports false.
func (c *Controller) detachLocked(kind string) (Gateway, bool) {
	gw, _, snap := c.store.current()
	if gw == nil && snap.PairingCode == "" && !snap.Ready && snap.BoundNumber == "" {
		c.recorder.Transition(kind, outcomeIgnored)
		return nil, false
	}
	now := c.now()
	snap = c.store.update(func(r *record) {
		r.clear()
		r.since = now
		r.observed = true
	})
	c.applied(kind, snap)
	if gw != nil {
		c.log().Info("session: client released", "reason", kind)
	}
	return gw, true
}

func (c *Controller) deleteMirrorLocked(ctx context.Context) error {
	if c.mirror == nil {
		return nil
	}
	ctx, cancel := c.mirrorContext(ctx)
	defer cancel()
	if err := c.mirror.Delete(ctx, mirror.NumberKey); err != nil {
		c.recorder.Transition(kindDisconnect, outcomeMirrorError)
		c.log().Error("session: mirror delete failed", "error", err)
		return fmt.Errorf("%w: %w", ErrMirror, err)
	}
	return nil
}

func (c *Controller) mirrorContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if c.mirrorTimeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, c.mirrorTimeout)
}

func (c *Controller) applied(kind string, snap State) {
	st := Project(snap)
	c.recorder.Transition(kind, outcomeApplied)
	c.recorder.Status(st)
	c.publish(ViewOf(snap))
}

func release(gw Gateway) {
	if gw != nil {
		gw.Destroy()
	}
}
