// Package broadcast publishes to and plays from a live-stream media server
// over WHIP and WHEP. Both are one-shot HTTP offer/answer exchanges; the
// returned Session is owned by the caller.
package broadcast

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/pion/logging"
	pion "github.com/pion/webrtc/v4"

	"livecall/native/internal/domain"
	"livecall/native/internal/media"
	"livecall/native/internal/release"
	"livecall/native/internal/webrtc"
)

const (
	contentTypeSDP = "application/sdp"
	closeTimeout   = 5 * time.Second
	maxBodySize    = 1 << 20
)

// ErrResponseTooLarge is returned when the media server's response body
// exceeds 1 MiB.
var ErrResponseTooLarge = errors.New("response body too large")

// HandshakeError is returned when the media server refuses the offer.
type HandshakeError struct {
	Status int
	Body   string
}

func (e *HandshakeError) Error() string {
	return fmt.Sprintf("media server answered %d: %s", e.Status, e.Body)
}

// Session is a live publish or play connection.
type Session struct {
	neg      *webrtc.Negotiator
	stream   *media.Stream
	resource string
	http     *http.Client
	log      logging.LeveledLogger

	cleanup release.Stack
}

// Stream returns the published local media, nil for playback.
func (s *Session) Stream() *media.Stream { return s.stream }

// Resource is the session URL the server returned in Location, if any.
func (s *Session) Resource() string { return s.resource }

// Close tears the session down. When the server handed out a resource URL
// it is deleted first; a failed delete is logged and does not keep local
// resources alive.
func (s *Session) Close() error {
	if s.cleanup.Released() {
		return nil
	}
	if s.resource != "" {
		ctx, cancel := context.WithTimeout(context.Background(), closeTimeout)
		if err := s.deleteResource(ctx); err != nil {
			s.log.Warnf("delete session resource: %v", err)
		}
		cancel()
	}
	return s.cleanup.Release()
}

func (s *Session) deleteResource(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, s.resource, nil)
	if err != nil {
		return err
	}
	resp, err := s.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)
	if resp.StatusCode >= 300 && resp.StatusCode != http.StatusNotFound {
		return fmt.Errorf("http %d", resp.StatusCode)
	}
	return nil
}

// clientConfig is shared by Publisher and Player.
type clientConfig struct {
	api  *pion.API
	http *http.Client
	lf   logging.LoggerFactory

	// onNegotiator sees every peer connection the client creates.
	onNegotiator func(*webrtc.Negotiator)
}

func (c clientConfig) httpClient() *http.Client {
	if c.http != nil {
		return c.http
	}
	return http.DefaultClient
}

func (c clientConfig) negotiator(ice domain.ICEConfig) (*webrtc.Negotiator, error) {
	neg, err := webrtc.NewNegotiator(webrtc.Config{API: c.api, ICE: ice, LoggerFactory: c.lf})
	if err != nil {
		return nil, err
	}
	if c.onNegotiator != nil {
		c.onNegotiator(neg)
	}
	return neg, nil
}

// endpoint builds {base}/{kind}/?app=live&stream={key}.
func endpoint(baseURL, kind, streamKey string) string {
	q := url.Values{}
	q.Set("app", "live")
	q.Set("stream", streamKey)
	return strings.TrimRight(baseURL, "/") + "/" + kind + "/?" + q.Encode()
}

// exchange POSTs the offer and returns the answer and the resource URL.
func exchange(ctx context.Context, client *http.Client, endpointURL string, offer domain.SDPPayload) (domain.SDPPayload, string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpointURL, strings.NewReader(offer.SDP))
	if err != nil {
		return domain.SDPPayload{}, "", fmt.Errorf("create http request: %w", err)
	}
	req.Header.Set("Content-Type", contentTypeSDP)
	req.Header.Set("Accept", contentTypeSDP)

	resp, err := client.Do(req)
	if err != nil {
		return domain.SDPPayload{}, "", fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodySize+1))
	if err != nil {
		return domain.SDPPayload{}, "", fmt.Errorf("read response: %w", err)
	}
	if len(body) > maxBodySize {
		return domain.SDPPayload{}, "", fmt.Errorf("%w: status %d", ErrResponseTooLarge, resp.StatusCode)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return domain.SDPPayload{}, "", &HandshakeError{Status: resp.StatusCode, Body: strings.TrimSpace(string(body))}
	}

	return domain.SDPPayload{Type: "answer", SDP: string(body)}, resolveLocation(endpointURL, resp.Header.Get("Location")), nil
}

func resolveLocation(endpointURL, location string) string {
	if location == "" {
		return ""
	}
	base, err := url.Parse(endpointURL)
	if err != nil {
		return ""
	}
	ref, err := url.Parse(location)
	if err != nil {
		return ""
	}
	return base.ResolveReference(ref).String()
}
