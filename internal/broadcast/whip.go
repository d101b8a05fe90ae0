package broadcast

import (
	"context"
	"fmt"
	"net/http"

	"github.com/pion/logging"
	pion "github.com/pion/webrtc/v4"

	"livecall/native/internal/domain"
	applog "livecall/native/internal/logging"
	"livecall/native/internal/media"
)

// PublisherConfig configures a Publisher.
type PublisherConfig struct {
	// Acquirer captures local media. Required.
	Acquirer media.Acquirer

	// Ladder overrides media.BroadcastLadder().
	Ladder media.Ladder

	// API is the shared pion API. If nil a default one is built per session.
	API *pion.API

	HTTPClient *http.Client

	// LoggerFactory is the factory for creating loggers.
	// If nil, logging is disabled.
	LoggerFactory logging.LoggerFactory
}

// Publisher sends local camera and microphone to a media server over WHIP.
type Publisher struct {
	acq    media.Acquirer
	ladder media.Ladder
	cfg    clientConfig
	log    logging.LeveledLogger
}

// NewPublisher creates a Publisher.
func NewPublisher(cfg PublisherConfig) *Publisher {
	ladder := cfg.Ladder
	if len(ladder) == 0 {
		ladder = media.BroadcastLadder()
	}
	return &Publisher{
		acq:    cfg.Acquirer,
		ladder: ladder,
		cfg:    clientConfig{api: cfg.API, http: cfg.HTTPClient, lf: cfg.LoggerFactory},
		log:    applog.Scoped(cfg.LoggerFactory, "whip"),
	}
}

// Publish captures local media, offers it to {baseURL}/whip/ and applies the
// answer. On failure every acquired track is stopped and the connection is
// closed before the error is returned.
func (p *Publisher) Publish(ctx context.Context, streamKey, baseURL string, ice domain.ICEConfig) (*Session, error) {
	if p.acq == nil {
		return nil, fmt.Errorf("publish: no media acquirer configured")
	}

	stream, used, err := media.AcquireWithFallback(ctx, p.acq, p.ladder, p.log)
	if err != nil {
		return nil, err
	}
	p.log.Infof("publishing %s as %q", used, streamKey)

	s := &Session{stream: stream, http: p.cfg.httpClient(), log: p.log}
	_ = s.cleanup.Push("local media", stream.Stop)

	if err := p.negotiate(ctx, s, streamKey, baseURL, ice); err != nil {
		if rerr := s.cleanup.Release(); rerr != nil {
			p.log.Warnf("release after failed publish: %v", rerr)
		}
		return nil, err
	}
	return s, nil
}

func (p *Publisher) negotiate(ctx context.Context, s *Session, streamKey, baseURL string, ice domain.ICEConfig) error {
	neg, err := p.cfg.negotiator(ice)
	if err != nil {
		return err
	}
	s.neg = neg
	_ = s.cleanup.Push("peer connection", neg.Close)

	if err := neg.AddStream(s.stream); err != nil {
		return fmt.Errorf("attach local media: %w", err)
	}

	offer, err := neg.CreateOffer(ctx, true)
	if err != nil {
		return err
	}

	answer, resource, err := exchange(ctx, s.http, endpoint(baseURL, "whip", streamKey), offer)
	if err != nil {
		return fmt.Errorf("whip: %w", err)
	}
	s.resource = resource

	if err := neg.AcceptAnswer(answer); err != nil {
		return fmt.Errorf("whip: %w", err)
	}
	p.log.Infof("publishing to %s", baseURL)
	return nil
}
