package call

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/pion/logging"

	"livecall/native/internal/domain"
	applog "livecall/native/internal/logging"
	"livecall/native/internal/media"
	"livecall/native/internal/webrtc"
)

// ManagerConfig configures a Manager. The fields mirror Config and are
// copied into every session.
type ManagerConfig struct {
	Acquirer      media.Acquirer
	Dial          SignalingDialer
	NewNegotiator NegotiatorFactory
	RemoteSink    webrtc.Sink

	// CaptureBusy reports whether another activity (a broadcast) holds
	// the capture devices. Optional.
	CaptureBusy func() bool

	// OnStateChange observes every session.
	OnStateChange func(s *Session, st State, err error)

	// LoggerFactory is the factory for creating loggers.
	// If nil, logging is disabled.
	LoggerFactory logging.LoggerFactory
}

// Manager enforces at most one live call per process.
type Manager struct {
	cfg ManagerConfig
	log logging.LeveledLogger

	mu      sync.Mutex
	current *Session
}

var _ domain.CallAcceptor = (*Manager)(nil)

// NewManager creates a Manager.
func NewManager(cfg ManagerConfig) *Manager {
	return &Manager{cfg: cfg, log: applog.Scoped(cfg.LoggerFactory, "calls")}
}

// Start places an outgoing call. An empty roomID gets a generated one.
func (m *Manager) Start(roomID string, kind domain.MediaKind) (*Session, error) {
	if roomID == "" {
		roomID = uuid.NewString()
	}
	return m.open(roomID, domain.RoleCaller, kind)
}

// Accept joins the room of an incoming call as callee.
func (m *Manager) Accept(call domain.IncomingCall) (*Session, error) {
	if call.RoomID == "" {
		return nil, fmt.Errorf("call %s has no room", call.ID)
	}
	return m.open(call.RoomID, domain.RoleCallee, call.Type.MediaKind())
}

// AcceptCall implements domain.CallAcceptor.
func (m *Manager) AcceptCall(_ context.Context, call domain.IncomingCall) error {
	_, err := m.Accept(call)
	return err
}

// Current returns the live session, or nil.
func (m *Manager) Current() *Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.current != nil && m.current.State().Terminal() {
		m.current = nil
	}
	return m.current
}

// CallScreenOpen reports whether a call is in progress. The incoming call
// watcher consults it before polling and before alerting.
func (m *Manager) CallScreenOpen() bool {
	return m.Current() != nil
}

// End hangs up the live session and waits for its release.
func (m *Manager) End(ctx context.Context) error {
	s := m.Current()
	if s == nil {
		return ErrNoSession
	}
	return s.End(ctx)
}

func (m *Manager) open(roomID string, role domain.Role, kind domain.MediaKind) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.current != nil && !m.current.State().Terminal() {
		return nil, ErrSessionActive
	}
	if m.cfg.CaptureBusy != nil && m.cfg.CaptureBusy() {
		return nil, ErrCaptureBusy
	}

	s, err := NewSession(Config{
		RoomID:        roomID,
		Role:          role,
		Kind:          kind,
		Acquirer:      m.cfg.Acquirer,
		Dial:          m.cfg.Dial,
		NewNegotiator: m.cfg.NewNegotiator,
		RemoteSink:    m.cfg.RemoteSink,
		OnStateChange: m.cfg.OnStateChange,
		LoggerFactory: m.cfg.LoggerFactory,
	})
	if err != nil {
		return nil, err
	}
	m.current = s
	m.log.Infof("%s %s call in room %s", role, kind, roomID)
	s.Start()
	return s, nil
}
