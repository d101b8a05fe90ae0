package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	ossignal "os/signal"
	"syscall"
	"time"

	pionlog "github.com/pion/logging"
	// Register the host capture drivers with mediadevices.
	_ "github.com/pion/mediadevices/pkg/driver/camera"
	_ "github.com/pion/mediadevices/pkg/driver/microphone"
	pion "github.com/pion/webrtc/v4"

	"livecall/native/internal/alert"
	"livecall/native/internal/api"
	"livecall/native/internal/broadcast"
	"livecall/native/internal/call"
	"livecall/native/internal/config"
	"livecall/native/internal/control"
	"livecall/native/internal/domain"
	"livecall/native/internal/incoming"
	"livecall/native/internal/logging"
	"livecall/native/internal/media"
	sigclient "livecall/native/internal/signal"
	"livecall/native/internal/webrtc"
)

const helpText = `livecall - Direct WebRTC calls and live broadcasts from the desktop

Usage:
  livecall <command> [options]

Commands:
  call     Place a call, or join a room as callee with -answer
  watch    Ring on incoming calls
  publish  Publish camera and microphone over WHIP
  play     Play a live stream over WHEP; H264 video is written to stdout
  serve    Run the local control API and the incoming call watcher

Environment Variables:
  LIVECALL_SIGNALING_URL   WebSocket signaling URL, "{room}" is replaced (call, serve)
  LIVECALL_API_BASE_URL    Call backend base URL (watch, serve)
  LIVECALL_API_TOKEN       Bearer token for the call backend and signaling
  LIVECALL_MEDIA_BASE_URL  Media server base URL (publish, play, serve)
  LIVECALL_STUN_URL        STUN server (default stun:stun.l.google.com:19302)
  LIVECALL_TURN_URL        TURN server, with LIVECALL_TURN_USERNAME/PASSWORD
  LIVECALL_POLL_INTERVAL   Incoming call poll interval (default 2.5s)
  LIVECALL_NOTIFICATIONS   Show desktop notifications (default true)
  LIVECALL_CONTROL_ADDR    Control API listen address (default 127.0.0.1:8765)
  LIVECALL_LOG_LEVEL       trace, debug, info, warn or error (default info)

Values may also come from a .env file or livecall.yaml.

Examples:
  # Video call in a new room
  livecall call -video

  # Answer in a known room and watch the remote video
  livecall call -answer -room 42 -video -stdout | ffplay -f h264 -

  # Watch a live stream
  livecall play -key demo | ffplay -f h264 -

Options:
  -h, --help    Show this help message
  -config FILE  Read configuration from FILE
`

func main() {
	if len(os.Args) < 2 || os.Args[1] == "-h" || os.Args[1] == "--help" {
		fmt.Print(helpText)
		os.Exit(0)
	}

	cmd, args := os.Args[1], os.Args[2:]
	run, ok := commands[cmd]
	if !ok {
		fmt.Fprintf(os.Stderr, "unknown command %q\n\n%s", cmd, helpText)
		os.Exit(2)
	}

	fs := flag.NewFlagSet(cmd, flag.ExitOnError)
	configFile := fs.String("config", "", "configuration file")
	opts := run.flags(fs)
	_ = fs.Parse(args)

	cfg, err := config.Load(*configFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "livecall: %v\n", err)
		os.Exit(1)
	}

	lf := logging.NewConsoleFactory(os.Stderr, cfg.LogLevel)
	log := lf.NewLogger("main")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	ossignal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		log.Infof("received %s, shutting down", sig)
		cancel()
	}()

	a := &app{cfg: cfg, lf: lf, log: log}
	if err := run.run(ctx, a, opts); err != nil {
		log.Errorf("%s: %v", cmd, err)
		os.Exit(1)
	}
	log.Infof("done")
}

type command struct {
	flags func(fs *flag.FlagSet) any
	run   func(ctx context.Context, a *app, opts any) error
}

var commands = map[string]command{
	"call":    {flags: callFlags, run: runCall},
	"watch":   {flags: noFlags, run: runWatch},
	"publish": {flags: keyFlags, run: runPublish},
	"play":    {flags: keyFlags, run: runPlay},
	"serve":   {flags: noFlags, run: runServe},
}

func noFlags(*flag.FlagSet) any { return nil }

// app builds the shared components on demand.
type app struct {
	cfg *config.Config
	lf  *logging.Factory
	log pionlog.LeveledLogger

	devices *media.Devices
	api     *pion.API
}

func (a *app) media() (*media.Devices, *pion.API, error) {
	if a.devices != nil {
		return a.devices, a.api, nil
	}
	devices, err := media.NewDevices(media.DevicesConfig{
		VideoBitRate:  a.cfg.VideoBitRate,
		AudioBitRate:  a.cfg.AudioBitRate,
		LoggerFactory: a.lf,
	})
	if err != nil {
		return nil, nil, err
	}
	pionAPI, err := webrtc.NewAPI(webrtc.APIConfig{Codecs: devices, LoggerFactory: a.lf})
	if err != nil {
		return nil, nil, err
	}
	a.devices, a.api = devices, pionAPI
	return devices, pionAPI, nil
}

func (a *app) manager(sink webrtc.Sink, busy func() bool) (*call.Manager, error) {
	if err := a.cfg.Require("signaling_url"); err != nil {
		return nil, err
	}
	devices, pionAPI, err := a.media()
	if err != nil {
		return nil, err
	}

	header := http.Header{}
	if a.cfg.APIToken != "" {
		header.Set("Authorization", "Bearer "+a.cfg.APIToken)
	}
	return call.NewManager(call.ManagerConfig{
		Acquirer: devices,
		Dial: call.NewWebSocketDialer(a.cfg.SignalingURL, sigclient.Config{
			PingInterval:  20 * time.Second,
			Header:        header,
			LoggerFactory: a.lf,
		}),
		NewNegotiator: call.NewPionNegotiatorFactory(webrtc.Config{
			API:           pionAPI,
			ICE:           a.cfg.ICE(),
			LoggerFactory: a.lf,
		}),
		RemoteSink:    sink,
		CaptureBusy:   busy,
		LoggerFactory: a.lf,
		OnStateChange: func(s *call.Session, st call.State, err error) {
			if err != nil {
				a.log.Warnf("call %s is %s: %v", s.RoomID(), st, err)
			}
		},
	}), nil
}

func (a *app) watcher(acceptor domain.CallAcceptor, screenOpen func() bool, onRing func(domain.IncomingCall)) (*incoming.Watcher, error) {
	if err := a.cfg.Require("api_base_url"); err != nil {
		return nil, err
	}
	client := api.NewClient(a.cfg.APIBaseURL, a.cfg.APIToken, nil)
	return incoming.New(incoming.Config{
		Interval: a.cfg.PollInterval,
		Lister:   client,
		Rejecter: client,
		Alerter: alert.New(alert.Config{
			Tone:          a.cfg.Tone,
			Notify:        a.cfg.Notifications,
			LoggerFactory: a.lf,
		}),
		Acceptor:       acceptor,
		CallScreenOpen: screenOpen,
		OnRing:         onRing,
		LoggerFactory:  a.lf,
	})
}

type callOptions struct {
	room   *string
	video  *bool
	answer *bool
	stdout *bool
}

func callFlags(fs *flag.FlagSet) any {
	return &callOptions{
		room:   fs.String("room", "", "room id; generated when empty"),
		video:  fs.Bool("video", false, "video call"),
		answer: fs.Bool("answer", false, "join as callee"),
		stdout: fs.Bool("stdout", false, "write remote H264 video to stdout"),
	}
}

func runCall(ctx context.Context, a *app, opts any) error {
	o := opts.(*callOptions)

	var sink webrtc.Sink = webrtc.DrainSink
	if *o.stdout {
		sink = webrtc.NewAnnexBSink(os.Stdout, a.lf)
	}
	m, err := a.manager(sink, nil)
	if err != nil {
		return err
	}

	kind := domain.MediaAudio
	if *o.video {
		kind = domain.MediaVideo
	}

	var s *call.Session
	if *o.answer {
		s, err = m.Accept(domain.IncomingCall{ID: *o.room, RoomID: *o.room, Type: callType(kind)})
	} else {
		s, err = m.Start(*o.room, kind)
	}
	if err != nil {
		return err
	}
	a.log.Infof("room %s", s.RoomID())

	select {
	case <-s.Done():
	case <-ctx.Done():
		endCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.End(endCtx); err != nil {
			return fmt.Errorf("hang up: %w", err)
		}
	}
	return s.Err()
}

func callType(k domain.MediaKind) domain.CallType {
	if k == domain.MediaVideo {
		return domain.CallVideo
	}
	return domain.CallAudio
}

func runWatch(ctx context.Context, a *app, _ any) error {
	w, err := a.watcher(nil, nil, func(c domain.IncomingCall) {
		fmt.Printf("%s call from %s in room %s\n", c.Type, c.Caller.Name, c.RoomID)
	})
	if err != nil {
		return err
	}
	w.Run(ctx)
	return nil
}

type keyOptions struct {
	key *string
}

func keyFlags(fs *flag.FlagSet) any {
	return &keyOptions{key: fs.String("key", "", "stream key")}
}

func runPublish(ctx context.Context, a *app, opts any) error {
	o := opts.(*keyOptions)
	if *o.key == "" {
		return errors.New("-key is required")
	}
	if err := a.cfg.Require("media_base_url"); err != nil {
		return err
	}
	devices, pionAPI, err := a.media()
	if err != nil {
		return err
	}

	p := broadcast.NewPublisher(broadcast.PublisherConfig{Acquirer: devices, API: pionAPI, LoggerFactory: a.lf})
	s, err := p.Publish(ctx, *o.key, a.cfg.MediaBaseURL, a.cfg.ICE())
	if err != nil {
		var me *media.Error
		if errors.As(err, &me) {
			a.log.Errorf("%s", me.Category.Hint())
		}
		return err
	}
	<-ctx.Done()
	return s.Close()
}

func runPlay(ctx context.Context, a *app, opts any) error {
	o := opts.(*keyOptions)
	if *o.key == "" {
		return errors.New("-key is required")
	}
	if err := a.cfg.Require("media_base_url"); err != nil {
		return err
	}

	pl := broadcast.NewPlayer(broadcast.PlayerConfig{LoggerFactory: a.lf})
	s, err := pl.Play(ctx, *o.key, a.cfg.MediaBaseURL, a.cfg.ICE(), webrtc.NewAnnexBSink(os.Stdout, a.lf))
	if err != nil {
		return err
	}
	<-ctx.Done()
	return s.Close()
}

func runServe(ctx context.Context, a *app, _ any) error {
	var live *broadcast.Live
	busy := func() bool { return false }
	if a.cfg.MediaBaseURL != "" {
		devices, pionAPI, err := a.media()
		if err != nil {
			return err
		}
		pub := broadcast.NewPublisher(broadcast.PublisherConfig{Acquirer: devices, API: pionAPI, LoggerFactory: a.lf})
		live = broadcast.NewLive(pub, a.cfg.MediaBaseURL, a.cfg.ICE())
		busy = live.Active
	}

	m, err := a.manager(webrtc.DrainSink, busy)
	if err != nil {
		return err
	}

	ctrl := control.Config{Calls: m, LoggerFactory: a.lf, Debug: a.cfg.LogLevel == "debug"}
	if live != nil {
		ctrl.Broadcast = live
		defer func() { _ = live.Stop() }()
	}
	if a.cfg.APIBaseURL != "" {
		w, err := a.watcher(m, m.CallScreenOpen, nil)
		if err != nil {
			return err
		}
		ctrl.Incoming = w
		go w.Run(ctx)
	} else {
		a.log.Warnf("LIVECALL_API_BASE_URL not set, incoming calls are not watched")
	}

	srv := &http.Server{Addr: a.cfg.ControlAddr, Handler: control.NewRouter(ctrl)}
	errCh := make(chan error, 1)
	go func() {
		a.log.Infof("control API listening on %s", a.cfg.ControlAddr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := m.End(shutdownCtx); err != nil && !errors.Is(err, call.ErrNoSession) {
		a.log.Warnf("end call: %v", err)
	}
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown control API: %w", err)
	}
	return nil
}
