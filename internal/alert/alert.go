// Package alert rings for incoming calls with a tone and a desktop
// notification.
package alert

import (
	"context"
	"errors"
	"fmt"

	"github.com/gen2brain/beeep"
	"github.com/pion/logging"

	"livecall/native/internal/domain"
	applog "livecall/native/internal/logging"
)

// Config configures an Alerter.
type Config struct {
	// Tone plays the system beep.
	Tone bool
	// Notify shows an OS notification. It is off when the user has not
	// granted notification permission.
	Notify bool

	// LoggerFactory is the factory for creating loggers.
	// If nil, logging is disabled.
	LoggerFactory logging.LoggerFactory
}

// Alerter implements domain.Alerter.
type Alerter struct {
	cfg Config
	log logging.LeveledLogger

	beep   func(freq float64, duration int) error
	notify func(title, message string, icon any) error
}

var _ domain.Alerter = (*Alerter)(nil)

// New creates an Alerter backed by beeep.
func New(cfg Config) *Alerter {
	return &Alerter{
		cfg:    cfg,
		log:    applog.Scoped(cfg.LoggerFactory, "alert"),
		beep:   beeep.Beep,
		notify: beeep.Notify,
	}
}

// Alert rings once for call. Both channels are attempted even if one fails.
func (a *Alerter) Alert(_ context.Context, call domain.IncomingCall) error {
	var errs []error
	if a.cfg.Tone {
		if err := a.beep(beeep.DefaultFreq, beeep.DefaultDuration); err != nil {
			errs = append(errs, fmt.Errorf("beep: %w", err))
		}
	}
	if a.cfg.Notify {
		if err := a.notify(Title(call), Message(call), ""); err != nil {
			errs = append(errs, fmt.Errorf("notify: %w", err))
		}
	}
	a.log.Debugf("rang for call %s", call.ID)
	return errors.Join(errs...)
}

// Title is the notification title for call.
func Title(call domain.IncomingCall) string {
	if call.Type == domain.CallVideo {
		return "Incoming video call"
	}
	return "Incoming call"
}

// Message is the notification body for call.
func Message(call domain.IncomingCall) string {
	name := call.Caller.Name
	if name == "" {
		name = "Someone"
	}
	return name + " is calling"
}
