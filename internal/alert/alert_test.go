package alert

import (
	"context"
	"errors"
	"testing"

	"livecall/native/internal/domain"
)

func TestAlertChannels(t *testing.T) {
	var beeps, notes int
	var title, msg string
	a := New(Config{Tone: true, Notify: true})
	a.beep = func(float64, int) error { beeps++; return nil }
	a.notify = func(t, m string, _ any) error {
		notes++
		title, msg = t, m
		return nil
	}

	call := domain.IncomingCall{ID: "c1", Type: domain.CallVideo, Caller: domain.Caller{Name: "Ada"}}
	if err := a.Alert(context.Background(), call); err != nil {
		t.Fatal(err)
	}
	if beeps != 1 || notes != 1 {
		t.Errorf("beeps=%d notes=%d", beeps, notes)
	}
	if title != "Incoming video call" || msg != "Ada is calling" {
		t.Errorf("notification %q / %q", title, msg)
	}
}

func TestAlertNotificationsDisabled(t *testing.T) {
	a := New(Config{Tone: true})
	a.beep = func(float64, int) error { return errors.New("no audio device") }
	a.notify = func(string, string, any) error {
		t.Error("notified without permission")
		return nil
	}

	err := a.Alert(context.Background(), domain.IncomingCall{ID: "c1"})
	if err == nil {
		t.Fatal("beep failure swallowed")
	}
}

func TestMessageWithoutName(t *testing.T) {
	if got := Message(domain.IncomingCall{}); got != "Someone is calling" {
		t.Errorf("message = %q", got)
	}
	if got := Title(domain.IncomingCall{Type: domain.CallAudio}); got != "Incoming call" {
		t.Errorf("title = %q", got)
	}
}
