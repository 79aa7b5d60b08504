package main

import (
	"context"
	"fmt"
	"log"
	"os"
	ossignal "os/signal"
	"syscall"

	"clivox/broadcast/internal/api"
	"clivox/broadcast/internal/config"
	"clivox/broadcast/internal/domain"
	"clivox/broadcast/internal/media"
	"clivox/broadcast/internal/rtc"
	"clivox/broadcast/internal/session"
	sigclient "clivox/broadcast/internal/signal"

	"github.com/google/uuid"
)

const helpText = `clivox - live-training room participant

Joins a room as instructor (broadcaster) or cliente (viewer) and streams the
local camera and microphone to the other side. Remote video is written to
stdout as IVF. Pipe to ffplay for playback:

  clivox | ffplay -f ivf -

Environment Variables:
  CLIVOX_SIGNAL_URL   Signaling relay base URL (required), e.g. ws://localhost:8000
  CLIVOX_ROOM         Room id to join (required)
  CLIVOX_ROLE         instructor or cliente (default cliente)
  CLIVOX_USER         Participant id (default: backend identity or random)
  CLIVOX_BACKEND_URL  REST backend for identity and call telemetry (optional)

Options:
  -h, --help  Show this help message
`

func main() {
	if len(os.Args) > 1 && (os.Args[1] == "-h" || os.Args[1] == "--help") {
		fmt.Print(helpText)
		os.Exit(0)
	}

	log.SetOutput(os.Stderr)
	log.SetFlags(log.Ltime | log.Lmicroseconds)

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("[main] %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	ossignal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		log.Printf("[main] received %s, shutting down", sig)
		cancel()
	}()

	var backend *api.Client
	if cfg.BackendURL != "" {
		backend = api.NewClient(cfg.BackendURL)
	}

	userID := cfg.UserID
	if userID == "" && backend != nil {
		if tok, err := backend.FetchToken(); err != nil {
			log.Printf("[main] backend identity unavailable: %v", err)
		} else {
			userID = tok.UserID
		}
	}
	if userID == "" {
		userID = uuid.NewString()
	}

	sink := rtc.NewMediaSink(os.Stdout, nil)
	transportFactory := rtc.NewPionTransportFactory(rtc.Config{
		ICEServers: []string{"stun:stun.l.google.com:19302"},
	}, sink)

	signalerFactory := func(room, participantID, role string, h domain.Handler) domain.Signaler {
		return sigclient.NewClient(cfg.SignalURL, room, participantID, role, h)
	}

	captureFactory := func() (domain.Capture, error) {
		return media.NewCaptureSession()
	}

	orch := session.New(session.Role(cfg.Role), userID, signalerFactory, captureFactory, transportFactory)

	if err := orch.Start(cfg.Room); err != nil {
		log.Fatalf("[main] start: %v", err)
	}
	if backend != nil {
		backend.LogEvent(userID, cfg.Room, "call_started")
	}

	<-ctx.Done()
	log.Printf("[main] shutting down")

	orch.Stop()
	if backend != nil {
		backend.LogEvent(userID, cfg.Room, "call_ended")
	}

	log.Printf("[main] done")
}
