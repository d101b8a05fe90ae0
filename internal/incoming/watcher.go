// Package incoming watches the call backend for calls ringing this user.
package incoming

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/pion/logging"

	"livecall/native/internal/domain"
	applog "livecall/native/internal/logging"
)

// DefaultInterval is the poll period when Config.Interval is zero.
const DefaultInterval = 2500 * time.Millisecond

// ErrNoCall is returned by Accept and Decline when nothing is ringing.
var ErrNoCall = errors.New("no incoming call")

// Config configures a Watcher.
type Config struct {
	Interval time.Duration

	// Lister queries the backend. Required.
	Lister domain.RingingCallLister
	// Rejecter declines calls. Required for Decline.
	Rejecter domain.CallRejecter
	// Alerter rings. Optional.
	Alerter domain.Alerter
	// Acceptor joins an accepted call. Required for Accept.
	Acceptor domain.CallAcceptor

	// CallScreenOpen reports whether a call is already on screen. Polling
	// and alerting are suspended while it returns true.
	CallScreenOpen func() bool

	// OnRing is called once per distinct ringing call, after the alert.
	OnRing func(domain.IncomingCall)

	// LoggerFactory is the factory for creating loggers.
	// If nil, logging is disabled.
	LoggerFactory logging.LoggerFactory
}

// Watcher polls for ringing calls and alerts once per call id. The zero
// value is not usable; create one with New.
type Watcher struct {
	cfg Config
	log logging.LeveledLogger

	mu        sync.Mutex
	current   *domain.IncomingCall
	alertedID string
}

// New creates a Watcher.
func New(cfg Config) (*Watcher, error) {
	if cfg.Lister == nil {
		return nil, errors.New("incoming: lister is required")
	}
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultInterval
	}
	return &Watcher{cfg: cfg, log: applog.Scoped(cfg.LoggerFactory, "incoming")}, nil
}

// Run polls until ctx is done. Poll failures never stop the loop.
func (w *Watcher) Run(ctx context.Context) {
	w.log.Infof("watching for incoming calls every %s", w.cfg.Interval)
	t := time.NewTicker(w.cfg.Interval)
	defer t.Stop()

	w.Poll(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			w.Poll(ctx)
		}
	}
}

// Poll runs one query and updates the ringing state.
func (w *Watcher) Poll(ctx context.Context) {
	if w.screenOpen() {
		return
	}

	pctx, cancel := context.WithTimeout(ctx, w.cfg.Interval)
	calls, err := w.cfg.Lister.ListRingingCalls(pctx)
	cancel()
	if err != nil {
		if ctx.Err() == nil {
			w.log.Warnf("poll ringing calls: %v", err)
		}
		calls = nil
	}

	ringing, ok := firstRinging(calls)
	if !ok {
		w.clear()
		return
	}

	w.mu.Lock()
	if ringing.ID == w.alertedID {
		if w.current != nil {
			w.current = &ringing
		}
		w.mu.Unlock()
		return
	}
	w.mu.Unlock()

	// The call screen may have opened while the query was in flight.
	if w.screenOpen() {
		return
	}

	w.mu.Lock()
	w.current = &ringing
	w.alertedID = ringing.ID
	w.mu.Unlock()

	w.log.Infof("incoming %s call %s from %s", ringing.Type, ringing.ID, ringing.Caller.Name)
	if w.cfg.Alerter != nil {
		if err := w.cfg.Alerter.Alert(ctx, ringing); err != nil {
			w.log.Warnf("alert: %v", err)
		}
	}
	if w.cfg.OnRing != nil {
		w.cfg.OnRing(ringing)
	}
}

// Current returns the call that is ringing, if any.
func (w *Watcher) Current() (domain.IncomingCall, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.current == nil {
		return domain.IncomingCall{}, false
	}
	return *w.current, true
}

// Accept hands the ringing call to the acceptor, which joins its room as
// callee.
func (w *Watcher) Accept(ctx context.Context) (domain.IncomingCall, error) {
	if w.cfg.Acceptor == nil {
		return domain.IncomingCall{}, errors.New("incoming: no acceptor configured")
	}
	call, ok := w.Current()
	if !ok {
		return domain.IncomingCall{}, ErrNoCall
	}
	if err := w.cfg.Acceptor.AcceptCall(ctx, call); err != nil {
		return call, fmt.Errorf("accept call %s: %w", call.ID, err)
	}
	w.dismiss(call.ID)
	return call, nil
}

// Decline rejects the ringing call through the backend.
func (w *Watcher) Decline(ctx context.Context) (domain.IncomingCall, error) {
	if w.cfg.Rejecter == nil {
		return domain.IncomingCall{}, errors.New("incoming: no rejecter configured")
	}
	call, ok := w.Current()
	if !ok {
		return domain.IncomingCall{}, ErrNoCall
	}
	if err := w.cfg.Rejecter.RejectCall(ctx, call.ID); err != nil {
		return call, fmt.Errorf("reject call %s: %w", call.ID, err)
	}
	w.dismiss(call.ID)
	w.log.Infof("declined call %s", call.ID)
	return call, nil
}

// dismiss drops the exposed call but remembers its id, so a backend that
// still reports it as ringing does not ring again.
func (w *Watcher) dismiss(id string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.current != nil && w.current.ID == id {
		w.current = nil
	}
}

func (w *Watcher) clear() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.alertedID != "" {
		w.log.Debugf("call %s stopped ringing", w.alertedID)
	}
	w.current = nil
	w.alertedID = ""
}

func (w *Watcher) screenOpen() bool {
	return w.cfg.CallScreenOpen != nil && w.cfg.CallScreenOpen()
}

func firstRinging(calls []domain.IncomingCall) (domain.IncomingCall, bool) {
	for _, c := range calls {
		if c.Ringing() {
			return c, true
		}
	}
	return domain.IncomingCall{}, false
}
