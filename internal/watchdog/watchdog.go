// Package watchdog abandons pairing attempts that stay unscanned for too long.
// The session controller has no timeout of its own; this is the policy layer.
package watchdog

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// Sentinel errors for validation.
var (
	ErrInvalidTimeout  = errors.New("watchdog: timeout must be positive")
	ErrInvalidInterval = errors.New("watchdog: interval must be at least one second")
	ErrAlreadyRunning  = errors.New("watchdog: already running")
)

// checkTimeout bounds one check, including the mirror delete.
const checkTimeout = 10 * time.Second

// Abandoner disconnects a pairing phase that began before cutoff.
// *session.Controller implements it.
type Abandoner interface {
	AbandonPairing(ctx context.Context, cutoff time.Time) (bool, error)
}

// Option configures a Watchdog.
type Option func(*Watchdog)

// WithLogger sets a structured logger. If l is nil the default slog logger is used.
func WithLogger(l *slog.Logger) Option {
	return func(w *Watchdog) {
		if l != nil {
			w.logger = l
		}
	}
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(w *Watchdog) {
		if now != nil {
			w.now = now
		}
	}
}

// WithOnExpire registers a callback run after each abandoned pairing.
func WithOnExpire(fn func()) Option {
	return func(w *Watchdog) { w.onExpire = fn }
}

// Watchdog periodically abandons pairing phases older than timeout.
type Watchdog struct {
	engine   CronEngine
	target   Abandoner
	timeout  time.Duration
	interval time.Duration
	now      func() time.Time
	onExpire func()
	logger   *slog.Logger

	mu      sync.Mutex
	entryID int
	running bool
}

// New validates the durations and returns a stopped Watchdog.
func New(engine CronEngine, target Abandoner, timeout, interval time.Duration, opts ...Option) (*Watchdog, error) {
	if engine == nil {
		panic("watchdog: engine must not be nil")
	}
	if target == nil {
		panic("watchdog: target must not be nil")
	}
	if timeout <= 0 {
		return nil, ErrInvalidTimeout
	}
	if interval < time.Second {
		return nil, ErrInvalidInterval
	}
	w := &Watchdog{
		engine:   engine,
		target:   target,
		timeout:  timeout,
		interval: interval,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(w)
	}
	return w, nil
}

func (w *Watchdog) log() *slog.Logger {
	if w.logger != nil {
		return w.logger
	}
	return slog.Default()
}

// Start schedules Check every interval and starts the engine.
func (w *Watchdog) Start() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.running {
		return ErrAlreadyRunning
	}
	id, err := w.engine.AddFunc("@every "+w.interval.String(), func() { w.Check() })
	if err != nil {
		return fmt.Errorf("watchdog: schedule: %w", err)
	}
	w.entryID = id
	w.running = true
	w.engine.Start()
	w.log().Info("watchdog: started", "timeout", w.timeout, "interval", w.interval)
	return nil
}

// Stop halts the engine and unschedules the check. Safe to call when stopped.
func (w *Watchdog) Stop() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if !w.running {
		return
	}
	w.engine.Stop()
	w.engine.Remove(w.entryID)
	w.running = false
}

// Check abandons the current pairing phase if it began more than timeout ago.
// It reports whether the session was disconnected.
func (w *Watchdog) Check() bool {
	ctx, cancel := context.WithTimeout(context.Background(), checkTimeout)
	defer cancel()
	cutoff := w.now().Add(-w.timeout)
	expired, err := w.target.AbandonPairing(ctx, cutoff)
	if err != nil {
		// The in-memory state is already disconnected; only the mirror lagged.
		w.log().Error("watchdog: abandon pairing", "error", err)
	}
	if !expired {
		return false
	}
	w.log().Warn("watchdog: pairing timed out; session disconnected", "timeout", w.timeout)
	if w.onExpire != nil {
		w.onExpire()
	}
	return true
}
