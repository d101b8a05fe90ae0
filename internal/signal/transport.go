// Package signal implements the WebSocket signaling transport for direct
// calls. One Transport serves exactly one call; it never reconnects.
package signal

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/pion/logging"

	applog "livecall/native/internal/logging"
)

var (
	// ErrDial is returned when the socket could not be opened.
	ErrDial = errors.New("signaling: dial failed")
	// ErrClosedUnexpectedly is reported through CloseInfo when the socket
	// dropped without a normal close.
	ErrClosedUnexpectedly = errors.New("signaling: socket closed unexpectedly")
	// ErrAlreadyListening is returned by a second Listen call.
	ErrAlreadyListening = errors.New("signaling: handler already registered")
)

// Config configures a Transport.
type Config struct {
	// HandshakeTimeout bounds the WebSocket upgrade. Defaults to 10s.
	HandshakeTimeout time.Duration

	// PingInterval enables keepalive pings when positive.
	PingInterval time.Duration

	// WriteTimeout bounds each frame write. Defaults to 5s.
	WriteTimeout time.Duration

	// Header is sent with the upgrade request (auth, origin).
	Header http.Header

	// LoggerFactory is the factory for creating loggers.
	// If nil, logging is disabled.
	LoggerFactory logging.LoggerFactory
}

// CloseInfo describes why the socket ended.
type CloseInfo struct {
	Code        int
	Intentional bool
	Err         error
}

// Transport manages one WebSocket connection to the signaling server.
type Transport struct {
	conn *websocket.Conn
	cfg  Config
	log  logging.LeveledLogger

	mu        sync.Mutex
	listening atomic.Bool
	local     atomic.Bool
	closed    chan struct{}
	closeOnce sync.Once
}

// Dial connects to url. The read loop does not start until Listen.
func Dial(ctx context.Context, url string, cfg Config) (*Transport, error) {
	if cfg.HandshakeTimeout <= 0 {
		cfg.HandshakeTimeout = 10 * time.Second
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = 5 * time.Second
	}
	log := applog.Scoped(cfg.LoggerFactory, "signal")

	log.Infof("connecting to %s", url)
	dialer := websocket.Dialer{
		Proxy:            http.ProxyFromEnvironment,
		HandshakeTimeout: cfg.HandshakeTimeout,
	}
	conn, resp, err := dialer.DialContext(ctx, url, cfg.Header)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("%w: %s: http %d: %v", ErrDial, url, resp.StatusCode, err)
		}
		return nil, fmt.Errorf("%w: %s: %v", ErrDial, url, err)
	}

	return &Transport{
		conn:   conn,
		cfg:    cfg,
		log:    log,
		closed: make(chan struct{}),
	}, nil
}

// Listen registers the single inbound handler and the close callback, then
// starts reading. onClose fires exactly once.
func (t *Transport) Listen(onMessage func(Message), onClose func(CloseInfo)) error {
	if !t.listening.CompareAndSwap(false, true) {
		return ErrAlreadyListening
	}
	go t.readLoop(onMessage, onClose)
	if t.cfg.PingInterval > 0 {
		go t.pingLoop()
	}
	return nil
}

// Send writes m. When the socket is not open the message is dropped and
// the drop is logged; callers learn about the socket state from onClose.
func (t *Transport) Send(m Message) {
	select {
	case <-t.closed:
		t.log.Debugf("drop %T: socket closed", m)
		return
	default:
	}

	data, err := Encode(m)
	if err != nil {
		t.log.Errorf("encode %T: %v", m, err)
		return
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	t.log.Tracef(">>> %s", data)
	_ = t.conn.SetWriteDeadline(time.Now().Add(t.cfg.WriteTimeout))
	if err := t.conn.WriteMessage(websocket.TextMessage, data); err != nil {
		t.log.Warnf("write %T: %v", m, err)
	}
}

// Close sends a normal close frame and tears down the socket.
func (t *Transport) Close() error {
	var err error
	t.closeOnce.Do(func() {
		t.local.Store(true)
		close(t.closed)

		t.mu.Lock()
		_ = t.conn.WriteControl(
			websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, "hangup"),
			time.Now().Add(time.Second),
		)
		t.mu.Unlock()
		err = t.conn.Close()
	})
	return err
}

// Done is closed once the transport is closed for any reason.
func (t *Transport) Done() <-chan struct{} {
	return t.closed
}

func (t *Transport) shutdown() {
	t.closeOnce.Do(func() {
		close(t.closed)
		_ = t.conn.Close()
	})
}

func (t *Transport) readLoop(onMessage func(Message), onClose func(CloseInfo)) {
	var info CloseInfo
	defer func() {
		t.shutdown()
		if onClose != nil {
			onClose(info)
		}
	}()

	for {
		_, data, err := t.conn.ReadMessage()
		if err != nil {
			info = t.closeInfo(err)
			if info.Intentional {
				t.log.Infof("socket closed (code=%d)", info.Code)
			} else {
				t.log.Warnf("read error: %v", err)
			}
			return
		}
		t.log.Tracef("<<< %s", data)

		msg := DecodeOrMalformed(data)
		if bad, ok := msg.(Malformed); ok {
			t.log.Warnf("malformed frame: %v", bad.Err)
		}
		if onMessage != nil {
			onMessage(msg)
		}
	}
}

func (t *Transport) closeInfo(err error) CloseInfo {
	if t.local.Load() {
		return CloseInfo{Code: websocket.CloseNormalClosure, Intentional: true}
	}
	var ce *websocket.CloseError
	if errors.As(err, &ce) {
		if ce.Code == websocket.CloseNormalClosure || ce.Code == websocket.CloseGoingAway {
			return CloseInfo{Code: ce.Code, Intentional: true}
		}
		return CloseInfo{Code: ce.Code, Err: fmt.Errorf("%w: %v", ErrClosedUnexpectedly, err)}
	}
	return CloseInfo{Code: websocket.CloseAbnormalClosure, Err: fmt.Errorf("%w: %v", ErrClosedUnexpectedly, err)}
}

func (t *Transport) pingLoop() {
	ticker := time.NewTicker(t.cfg.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-t.closed:
			return
		case <-ticker.C:
			t.mu.Lock()
			err := t.conn.WriteControl(websocket.PingMessage, []byte{}, time.Now().Add(t.cfg.WriteTimeout))
			t.mu.Unlock()
			if err != nil {
				select {
				case <-t.closed:
				default:
					t.log.Warnf("ping error: %v", err)
				}
				return
			}
		}
	}
}
