package session

import (
	"encoding/json"
	"log"
	"sync"
	"time"

	"clivox/broadcast/internal/domain"
	"clivox/broadcast/internal/rtc"
)

// Role is the participant role inside a room.
type Role string

const (
	// RoleBroadcaster is the instructor: one peer session per viewer.
	RoleBroadcaster Role = "instructor"
	// RoleViewer is the client: exactly one peer session, with the
	// broadcaster.
	RoleViewer Role = "cliente"
)

const (
	// maxEarlyICEPerPeer caps candidates buffered ahead of a peer's offer.
	// Real negotiations produce a handful.
	maxEarlyICEPerPeer = 32
	// maxEarlyICEPeers caps the distinct peer ids with pending buffers. A
	// viewer expects candidates from one broadcaster only.
	maxEarlyICEPeers = 4
)

// SignalerFactory builds the signaling channel for one session attempt.
type SignalerFactory func(room, participantID, role string, h domain.Handler) domain.Signaler

// CaptureFactory acquires the local camera and microphone.
type CaptureFactory func() (domain.Capture, error)

// Orchestrator is the top-level per-participant component. It owns the
// capture session, the signaling channel and the peer session registry, and
// drives negotiation from the inbound message stream.
//
// The hosting UI must call Stop (or Dispose) when navigating away; nothing
// here depends on a UI lifecycle.
type Orchestrator struct {
	role   Role
	selfID string

	newSignaler  SignalerFactory
	newCapture   CaptureFactory
	newTransport rtc.TransportFactory

	mu        sync.Mutex
	gen       int
	started   bool
	room      string
	startedAt time.Time
	cameraOn  bool
	micOn     bool
	capture   domain.Capture
	signaler  domain.Signaler
	registry  *rtc.Registry
	earlyICE  map[string][]domain.ICECandidatePayload
}

// New creates an orchestrator for the given role and participant id.
func New(role Role, selfID string, sf SignalerFactory, cf CaptureFactory, tf rtc.TransportFactory) *Orchestrator {
	return &Orchestrator{
		role:         role,
		selfID:       selfID,
		newSignaler:  sf,
		newCapture:   cf,
		newTransport: tf,
	}
}

// boundHandler ties channel callbacks to one session generation so events
// from a torn-down channel cannot resurrect state.
type boundHandler struct {
	o   *Orchestrator
	gen int
}

func (h boundHandler) OnOpened()                 { log.Printf("[session] signaling channel open") }
func (h boundHandler) OnMessage(m domain.Message) { h.o.onMessage(h.gen, m) }
func (h boundHandler) OnClosed()                 { h.o.onClosed(h.gen) }

// Start acquires devices, opens the signaling channel and begins serving the
// room. Calling it while already connected is a no-op.
func (o *Orchestrator) Start(roomID string) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.started {
		log.Printf("[session] start: already connected to room %s", o.room)
		return nil
	}
	if roomID == "" {
		return domain.ErrInvalidRoom
	}

	capture, err := o.newCapture()
	if err != nil {
		return err
	}

	o.gen++
	sig := o.newSignaler(roomID, o.selfID, string(o.role), boundHandler{o: o, gen: o.gen})
	if err := sig.Connect(); err != nil {
		capture.Stop()
		return err
	}

	o.capture = capture
	o.signaler = sig
	o.registry = rtc.NewRegistry()
	o.earlyICE = make(map[string][]domain.ICECandidatePayload)
	o.room = roomID
	o.startedAt = time.Now()
	o.cameraOn = true
	o.micOn = true
	o.started = true

	log.Printf("[session] %s %s joined room %s", o.role, o.selfID, roomID)
	return nil
}

// Stop tears down every peer session, stops the capture tracks and closes
// the signaling channel. Safe to call before Start and more than once.
func (o *Orchestrator) Stop() {
	o.mu.Lock()
	if !o.started {
		o.mu.Unlock()
		return
	}

	o.gen++ // invalidate in-flight callbacks
	o.started = false
	sessions := o.registry.Drain()
	capture := o.capture
	sig := o.signaler
	o.capture = nil
	o.signaler = nil
	o.registry = nil
	o.earlyICE = nil
	o.room = ""
	o.mu.Unlock()

	for _, s := range sessions {
		s.Close()
	}
	capture.Stop()
	sig.Close()

	log.Printf("[session] stopped")
}

// Dispose is the explicit teardown contract for hosting layers. It is Stop.
func (o *Orchestrator) Dispose() { o.Stop() }

// ToggleCamera flips the video tracks' enabled flag and returns the new
// value. Purely local: no renegotiation, no signaling traffic.
func (o *Orchestrator) ToggleCamera() bool {
	return o.toggle("video")
}

// ToggleMicrophone flips the audio tracks' enabled flag and returns the new
// value.
func (o *Orchestrator) ToggleMicrophone() bool {
	return o.toggle("audio")
}

func (o *Orchestrator) toggle(kind string) bool {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.capture == nil {
		return false
	}

	enabled := false
	if kind == "video" {
		o.cameraOn = !o.cameraOn
		enabled = o.cameraOn
	} else {
		o.micOn = !o.micOn
		enabled = o.micOn
	}

	for _, t := range o.capture.Tracks() {
		if t.Kind() == kind {
			t.SetEnabled(enabled)
		}
	}

	log.Printf("[session] %s enabled=%v", kind, enabled)
	return enabled
}

// Started reports whether a session is live.
func (o *Orchestrator) Started() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.started
}

// StartedAt returns when the live session began, zero when stopped.
func (o *Orchestrator) StartedAt() time.Time {
	o.mu.Lock()
	defer o.mu.Unlock()
	if !o.started {
		return time.Time{}
	}
	return o.startedAt
}

// CameraEnabled reports the camera mute flag.
func (o *Orchestrator) CameraEnabled() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.cameraOn
}

// MicrophoneEnabled reports the microphone mute flag.
func (o *Orchestrator) MicrophoneEnabled() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.micOn
}

// Role returns the orchestrator's role.
func (o *Orchestrator) Role() Role { return o.role }

func (o *Orchestrator) onClosed(gen int) {
	o.mu.Lock()
	stale := gen != o.gen || !o.started
	o.mu.Unlock()
	if stale {
		return
	}

	log.Printf("[session] signaling channel closed, ending session")
	o.Stop()
}

func (o *Orchestrator) onMessage(gen int, msg domain.Message) {
	o.mu.Lock()
	defer o.mu.Unlock()

	if gen != o.gen || !o.started {
		return
	}

	if o.role == RoleBroadcaster {
		o.dispatchBroadcaster(msg)
	} else {
		o.dispatchViewer(msg)
	}
}

func (o *Orchestrator) dispatchBroadcaster(msg domain.Message) {
	switch msg.Kind {
	case domain.KindNewPeer:
		if o.registry.Has(msg.PeerID) {
			log.Printf("[session] duplicate NEW_CLIENT for %s, ignored", msg.PeerID)
			return
		}
		o.openOffererSession(msg.PeerID)

	case domain.KindAnswer:
		s := o.registry.Get(msg.PeerID)
		if s == nil {
			log.Printf("[session] dropping ANSWER for unknown peer %s: %v", msg.PeerID, domain.ErrUnknownPeer)
			return
		}
		sdp, ok := decodeSDP(msg)
		if !ok {
			return
		}
		if err := s.HandleAnswer(sdp); err != nil {
			log.Printf("[session] %v", err)
		}

	case domain.KindICE:
		s := o.registry.Get(msg.PeerID)
		if s == nil {
			// No session to buffer against; accepted lossy case.
			log.Printf("[session] dropping ICE for unknown peer %s", msg.PeerID)
			return
		}
		cand, ok := decodeCandidate(msg)
		if !ok {
			return
		}
		if err := s.AddRemoteCandidate(cand); err != nil {
			log.Printf("[session] %v", err)
		}

	default:
		log.Printf("[session] unexpected %s frame for broadcaster, ignored", msg.Kind)
	}
}

func (o *Orchestrator) dispatchViewer(msg domain.Message) {
	switch msg.Kind {
	case domain.KindOffer:
		if o.registry.Has(msg.PeerID) {
			log.Printf("[session] duplicate OFFER from %s, ignored", msg.PeerID)
			return
		}
		sdp, ok := decodeSDP(msg)
		if !ok {
			return
		}
		early := o.earlyICE[msg.PeerID]
		delete(o.earlyICE, msg.PeerID)
		o.openAnswererSession(msg.PeerID, sdp, early)

	case domain.KindICE:
		cand, ok := decodeCandidate(msg)
		if !ok {
			return
		}
		if s := o.registry.Get(msg.PeerID); s != nil {
			if err := s.AddRemoteCandidate(cand); err != nil {
				log.Printf("[session] %v", err)
			}
			return
		}
		// The broadcaster's candidates can outrun its offer; hold them
		// until the session exists. Bounded so a misbehaving relay
		// cannot grow the buffer without limit.
		buf := o.earlyICE[msg.PeerID]
		if len(buf) >= maxEarlyICEPerPeer {
			log.Printf("[session] dropping early ICE from %s: buffer full", msg.PeerID)
			return
		}
		if len(buf) == 0 && len(o.earlyICE) >= maxEarlyICEPeers {
			log.Printf("[session] dropping early ICE from %s: too many pending peers", msg.PeerID)
			return
		}
		o.earlyICE[msg.PeerID] = append(buf, cand)
		log.Printf("[session] buffered early ICE from %s", msg.PeerID)

	default:
		log.Printf("[session] unexpected %s frame for viewer, ignored", msg.Kind)
	}
}

func (o *Orchestrator) openOffererSession(peerID string) {
	transport, err := o.newTransport()
	if err != nil {
		log.Printf("[session] transport for %s: %v", peerID, err)
		return
	}

	reg := o.registry
	s, err := rtc.NewOfferer(peerID, transport, o.capture.Tracks(), o.signaler.Send, func(id string) {
		reg.Remove(id)
	})
	if err != nil {
		log.Printf("[session] offer to %s: %v", peerID, err)
		return
	}
	reg.Add(s)
}

func (o *Orchestrator) openAnswererSession(peerID string, offer domain.SDPPayload, early []domain.ICECandidatePayload) {
	transport, err := o.newTransport()
	if err != nil {
		log.Printf("[session] transport for %s: %v", peerID, err)
		return
	}

	reg := o.registry
	s, err := rtc.NewAnswerer(peerID, transport, o.capture.Tracks(), offer, early, o.signaler.Send, func(id string) {
		reg.Remove(id)
	})
	if err != nil {
		log.Printf("[session] answer to %s: %v", peerID, err)
		return
	}
	reg.Add(s)
}

func decodeSDP(msg domain.Message) (domain.SDPPayload, bool) {
	var sdp domain.SDPPayload
	if err := json.Unmarshal(msg.Payload, &sdp); err != nil {
		log.Printf("[session] bad %s payload from %s: %v", msg.Kind, msg.PeerID, err)
		return domain.SDPPayload{}, false
	}
	return sdp, true
}

func decodeCandidate(msg domain.Message) (domain.ICECandidatePayload, bool) {
	var cand domain.ICECandidatePayload
	if err := json.Unmarshal(msg.Payload, &cand); err != nil {
		log.Printf("[session] bad ICE payload from %s: %v", msg.PeerID, err)
		return domain.ICECandidatePayload{}, false
	}
	return cand, true
}
