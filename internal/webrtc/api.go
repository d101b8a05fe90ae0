// Package webrtc wraps pion PeerConnections for call and broadcast
// negotiation.
package webrtc

import (
	"fmt"
	"time"

	"github.com/pion/interceptor"
	"github.com/pion/interceptor/pkg/nack"
	"github.com/pion/logging"
	pion "github.com/pion/webrtc/v4"

	"livecall/native/internal/domain"
)

// CodecRegistrar registers the codecs local capture can encode.
type CodecRegistrar interface {
	Populate(m *pion.MediaEngine) error
}

// APIConfig configures the shared pion API.
type APIConfig struct {
	// Codecs replaces the default codec set when set.
	Codecs CodecRegistrar

	// STUNGatherTimeout bounds server reflexive gathering. Zero keeps the
	// pion default.
	STUNGatherTimeout time.Duration

	// LoggerFactory is handed to pion so ICE/DTLS logs share the app sink.
	LoggerFactory logging.LoggerFactory
}

// NewAPI builds a pion API with NACK interceptors and the app logger.
func NewAPI(cfg APIConfig) (*pion.API, error) {
	m := &pion.MediaEngine{}
	if cfg.Codecs != nil {
		if err := cfg.Codecs.Populate(m); err != nil {
			return nil, fmt.Errorf("register capture codecs: %w", err)
		}
		// The default codec set already carries these.
		m.RegisterFeedback(pion.RTCPFeedback{Type: "nack"}, pion.RTPCodecTypeVideo)
		m.RegisterFeedback(pion.RTCPFeedback{Type: "nack", Parameter: "pli"}, pion.RTPCodecTypeVideo)
	} else if err := m.RegisterDefaultCodecs(); err != nil {
		return nil, fmt.Errorf("register default codecs: %w", err)
	}

	i := &interceptor.Registry{}
	responder, err := nack.NewResponderInterceptor()
	if err != nil {
		return nil, fmt.Errorf("create nack responder: %w", err)
	}
	i.Add(responder)
	generator, err := nack.NewGeneratorInterceptor()
	if err != nil {
		return nil, fmt.Errorf("create nack generator: %w", err)
	}
	i.Add(generator)

	s := pion.SettingEngine{}
	if cfg.LoggerFactory != nil {
		s.LoggerFactory = cfg.LoggerFactory
	}
	if cfg.STUNGatherTimeout > 0 {
		s.SetSTUNGatherTimeout(cfg.STUNGatherTimeout)
	}

	return pion.NewAPI(
		pion.WithMediaEngine(m),
		pion.WithInterceptorRegistry(i),
		pion.WithSettingEngine(s),
	), nil
}

// Configuration converts the ICE config into a pion configuration.
func Configuration(ice domain.ICEConfig) pion.Configuration {
	var servers []pion.ICEServer
	for _, s := range ice.Servers() {
		server := pion.ICEServer{URLs: []string{s.URL}}
		if s.Username != "" || s.Credential != "" {
			server.Username = s.Username
			server.Credential = s.Credential
		}
		servers = append(servers, server)
	}
	return pion.Configuration{
		ICEServers:   servers,
		BundlePolicy: pion.BundlePolicyMaxBundle,
	}
}
