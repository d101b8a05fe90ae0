// Package control serves the local HTTP API a UI shell uses to drive calls,
// incoming call decisions and broadcasts.
package control

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/pion/logging"
	pion "github.com/pion/webrtc/v4"

	"livecall/native/internal/broadcast"
	"livecall/native/internal/call"
	"livecall/native/internal/domain"
	"livecall/native/internal/incoming"
	applog "livecall/native/internal/logging"
	"livecall/native/internal/media"
)

const endTimeout = 5 * time.Second

// CallManager places and ends calls. *call.Manager implements it.
type CallManager interface {
	Start(roomID string, kind domain.MediaKind) (*call.Session, error)
	Current() *call.Session
	End(ctx context.Context) error
}

// IncomingCalls exposes the ringing call. *incoming.Watcher implements it.
type IncomingCalls interface {
	Current() (domain.IncomingCall, bool)
	Accept(ctx context.Context) (domain.IncomingCall, error)
	Decline(ctx context.Context) (domain.IncomingCall, error)
}

// Broadcaster publishes the local camera. *broadcast.Live implements it.
type Broadcaster interface {
	Start(ctx context.Context, streamKey string) (*broadcast.Session, error)
	Stop() error
	Active() bool
}

// Config configures the router. Nil components disable their routes.
type Config struct {
	Calls     CallManager
	Incoming  IncomingCalls
	Broadcast Broadcaster

	// Debug enables gin's debug mode and request logging.
	Debug bool

	// LoggerFactory is the factory for creating loggers.
	// If nil, logging is disabled.
	LoggerFactory logging.LoggerFactory
}

type server struct {
	cfg Config
	log logging.LeveledLogger
}

// NewRouter builds the gin engine.
func NewRouter(cfg Config) *gin.Engine {
	if !cfg.Debug {
		gin.SetMode(gin.ReleaseMode)
	}
	s := &server{cfg: cfg, log: applog.Scoped(cfg.LoggerFactory, "control")}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(s.requestLog())

	api := r.Group("/api")
	if cfg.Calls != nil {
		calls := api.Group("/calls")
		calls.POST("", s.startCall)
		calls.GET("/current", s.currentCall)
		calls.DELETE("/current", s.endCall)
		calls.POST("/current/audio", s.toggle(domain.MediaAudio))
		calls.POST("/current/video", s.toggle(domain.MediaVideo))
	}
	if cfg.Incoming != nil {
		api.GET("/incoming", s.ringing)
		api.POST("/incoming/accept", s.accept)
		api.POST("/incoming/decline", s.decline)
	}
	if cfg.Broadcast != nil {
		api.POST("/broadcast/publish", s.publish)
		api.DELETE("/broadcast/publish", s.unpublish)
	}

	s.log.Infof("control routes ready")
	return r
}

func (s *server) requestLog() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		s.log.Debugf("%s %s -> %d (%s)", c.Request.Method, c.Request.URL.Path, c.Writer.Status(), time.Since(start))
	}
}

type startCallRequest struct {
	Room string `json:"room"`
	Kind string `json:"kind" binding:"required,oneof=audio video"`
}

type toggleRequest struct {
	Enabled *bool `json:"enabled" binding:"required"`
}

type publishRequest struct {
	StreamKey string `json:"streamKey" binding:"required"`
}

type sessionView struct {
	Room  string `json:"room"`
	Role  string `json:"role"`
	Kind  string `json:"kind"`
	State string `json:"state"`
	Audio *bool  `json:"audio,omitempty"`
	Video *bool  `json:"video,omitempty"`
	Error string `json:"error,omitempty"`
}

func viewOf(sess *call.Session) sessionView {
	v := sessionView{
		Room:  sess.RoomID(),
		Role:  sess.Role().String(),
		Kind:  sess.Kind().String(),
		State: sess.State().String(),
	}
	if err := sess.Err(); err != nil {
		v.Error = err.Error()
	}
	if stream := sess.LocalStream(); stream != nil {
		for _, t := range stream.Tracks() {
			on := t.Enabled()
			if t.Kind() == pion.RTPCodecTypeAudio {
				v.Audio = &on
			} else {
				v.Video = &on
			}
		}
	}
	return v
}

func (s *server) startCall(c *gin.Context) {
	var req startCallRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "kind must be audio or video"})
		return
	}
	if s.cfg.Broadcast != nil && s.cfg.Broadcast.Active() {
		c.JSON(http.StatusConflict, gin.H{"error": call.ErrCaptureBusy.Error()})
		return
	}

	sess, err := s.cfg.Calls.Start(req.Room, domain.ParseMediaKind(req.Kind))
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, viewOf(sess))
}

func (s *server) currentCall(c *gin.Context) {
	sess := s.cfg.Calls.Current()
	if sess == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": call.ErrNoSession.Error()})
		return
	}
	c.JSON(http.StatusOK, viewOf(sess))
}

func (s *server) endCall(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), endTimeout)
	defer cancel()
	if err := s.cfg.Calls.End(ctx); err != nil {
		s.fail(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (s *server) toggle(kind domain.MediaKind) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req toggleRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "enabled is required"})
			return
		}
		sess := s.cfg.Calls.Current()
		if sess == nil {
			c.JSON(http.StatusNotFound, gin.H{"error": call.ErrNoSession.Error()})
			return
		}
		if kind == domain.MediaVideo {
			sess.SetVideoEnabled(*req.Enabled)
		} else {
			sess.SetAudioEnabled(*req.Enabled)
		}
		c.Status(http.StatusAccepted)
	}
}

func (s *server) ringing(c *gin.Context) {
	ic, ok := s.cfg.Incoming.Current()
	if !ok {
		c.Status(http.StatusNoContent)
		return
	}
	c.JSON(http.StatusOK, ic)
}

func (s *server) accept(c *gin.Context) {
	ic, err := s.cfg.Incoming.Accept(c.Request.Context())
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, ic)
}

func (s *server) decline(c *gin.Context) {
	ic, err := s.cfg.Incoming.Decline(c.Request.Context())
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, ic)
}

func (s *server) publish(c *gin.Context) {
	var req publishRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "streamKey is required"})
		return
	}
	if s.cfg.Calls != nil && s.cfg.Calls.Current() != nil {
		c.JSON(http.StatusConflict, gin.H{"error": call.ErrSessionActive.Error()})
		return
	}

	sess, err := s.cfg.Broadcast.Start(c.Request.Context(), req.StreamKey)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"streamKey": req.StreamKey, "resource": sess.Resource()})
}

func (s *server) unpublish(c *gin.Context) {
	if err := s.cfg.Broadcast.Stop(); err != nil {
		s.fail(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// fail maps domain errors to HTTP statuses.
func (s *server) fail(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	var (
		handshake *broadcast.HandshakeError
		mediaErr  *media.Error
	)
	switch {
	case errors.Is(err, call.ErrSessionActive), errors.Is(err, call.ErrCaptureBusy),
		errors.Is(err, broadcast.ErrAlreadyLive):
		status = http.StatusConflict
	case errors.Is(err, call.ErrNoSession), errors.Is(err, incoming.ErrNoCall),
		errors.Is(err, broadcast.ErrNotLive):
		status = http.StatusNotFound
	case errors.Is(err, context.DeadlineExceeded):
		status = http.StatusGatewayTimeout
	case errors.As(err, &handshake):
		status = http.StatusBadGateway
	case errors.As(err, &mediaErr):
		c.JSON(http.StatusFailedDependency, gin.H{"error": err.Error(), "hint": mediaErr.Category.Hint()})
		return
	}
	if status >= http.StatusInternalServerError {
		s.log.Warnf("%s %s: %v", c.Request.Method, c.Request.URL.Path, err)
	}
	c.JSON(status, gin.H{"error": err.Error()})
}
