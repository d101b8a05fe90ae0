package broadcast

import (
	"context"
	"fmt"
	"net/http"
	"sync"

	"github.com/pion/logging"
	pion "github.com/pion/webrtc/v4"

	"livecall/native/internal/domain"
	applog "livecall/native/internal/logging"
	"livecall/native/internal/webrtc"
)

// PlayerConfig configures a Player.
type PlayerConfig struct {
	// API is the shared pion API. If nil a default one is built per session.
	API *pion.API

	HTTPClient *http.Client

	// LoggerFactory is the factory for creating loggers.
	// If nil, logging is disabled.
	LoggerFactory logging.LoggerFactory
}

// Player receives a live stream over WHEP.
type Player struct {
	cfg clientConfig
	log logging.LeveledLogger
}

// NewPlayer creates a Player.
func NewPlayer(cfg PlayerConfig) *Player {
	return &Player{
		cfg: clientConfig{api: cfg.API, http: cfg.HTTPClient, lf: cfg.LoggerFactory},
		log: applog.Scoped(cfg.LoggerFactory, "whep"),
	}
}

// Play offers receive-only audio and video to {baseURL}/whep/ and hands the
// tracks of the first remote stream to sink. Tracks of any later stream are
// drained. There is no retry.
func (p *Player) Play(ctx context.Context, streamKey, baseURL string, ice domain.ICEConfig, sink webrtc.Sink) (*Session, error) {
	if sink == nil {
		sink = webrtc.DrainSink
	}

	neg, err := p.cfg.negotiator(ice)
	if err != nil {
		return nil, err
	}
	s := &Session{neg: neg, http: p.cfg.httpClient(), log: p.log}
	_ = s.cleanup.Push("peer connection", neg.Close)

	// The server rejects offers without both sections, even for audio-only
	// streams.
	if err := neg.AddRecvOnly(pion.RTPCodecTypeAudio, pion.RTPCodecTypeVideo); err != nil {
		_ = s.cleanup.Release()
		return nil, err
	}
	neg.OnRemoteTrack(firstStream(sink, p.log))

	if err := p.negotiate(ctx, s, streamKey, baseURL); err != nil {
		if rerr := s.cleanup.Release(); rerr != nil {
			p.log.Warnf("release after failed play: %v", rerr)
		}
		return nil, err
	}
	return s, nil
}

func (p *Player) negotiate(ctx context.Context, s *Session, streamKey, baseURL string) error {
	offer, err := s.neg.CreateOffer(ctx, true)
	if err != nil {
		return err
	}

	answer, resource, err := exchange(ctx, s.http, endpoint(baseURL, "whep", streamKey), offer)
	if err != nil {
		return fmt.Errorf("whep: %w", err)
	}
	s.resource = resource

	if err := s.neg.AcceptAnswer(answer); err != nil {
		return fmt.Errorf("whep: %w", err)
	}
	p.log.Infof("playing %q from %s", streamKey, baseURL)
	return nil
}

// firstStream routes the tracks of the first remote stream to sink.
func firstStream(sink webrtc.Sink, log logging.LeveledLogger) func(*pion.TrackRemote, *pion.RTPReceiver) {
	var (
		mu    sync.Mutex
		first string
	)
	return func(track *pion.TrackRemote, receiver *pion.RTPReceiver) {
		mu.Lock()
		if first == "" {
			first = track.StreamID()
		}
		ours := track.StreamID() == first
		mu.Unlock()

		if !ours {
			log.Debugf("draining track of extra stream %s", track.StreamID())
			webrtc.DrainSink.OnTrack(track, receiver)
			return
		}
		sink.OnTrack(track, receiver)
	}
}
