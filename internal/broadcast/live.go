package broadcast

import (
	"context"
	"errors"
	"sync"

	"livecall/native/internal/domain"
)

var (
	// ErrAlreadyLive is returned when a broadcast is already publishing.
	ErrAlreadyLive = errors.New("already broadcasting")
	// ErrNotLive is returned by Stop when nothing is publishing.
	ErrNotLive = errors.New("not broadcasting")
)

// Live holds at most one publish session against a fixed media server.
type Live struct {
	pub     *Publisher
	baseURL string
	ice     domain.ICEConfig

	mu      sync.Mutex
	key     string
	session *Session
}

// NewLive publishes through pub to baseURL.
func NewLive(pub *Publisher, baseURL string, ice domain.ICEConfig) *Live {
	return &Live{pub: pub, baseURL: baseURL, ice: ice}
}

// Start publishes streamKey. The capture devices stay held until Stop.
func (l *Live) Start(ctx context.Context, streamKey string) (*Session, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.session != nil {
		return nil, ErrAlreadyLive
	}
	s, err := l.pub.Publish(ctx, streamKey, l.baseURL, l.ice)
	if err != nil {
		return nil, err
	}
	l.key, l.session = streamKey, s
	return s, nil
}

// Stop closes the live session.
func (l *Live) Stop() error {
	l.mu.Lock()
	s := l.session
	l.key, l.session = "", nil
	l.mu.Unlock()
	if s == nil {
		return ErrNotLive
	}
	return s.Close()
}

// Active reports whether a broadcast holds the capture devices. It is the
// call manager's capture-busy check.
func (l *Live) Active() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.session != nil
}

// StreamKey returns the key being published, empty when idle.
func (l *Live) StreamKey() string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.key
}
