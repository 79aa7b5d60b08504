package rtc

import (
	"log"
	"sync"
	"sync/atomic"

	"clivox/broadcast/internal/domain"
)

// NegotiationRole says which side of the offer/answer exchange a session is.
type NegotiationRole int

const (
	// Offerer initiates negotiation. The broadcaster is the offerer for
	// every viewer.
	Offerer NegotiationRole = iota
	// Answerer responds to a received offer. The viewer is always the
	// answerer.
	Answerer
)

// State is the negotiation state of a peer session.
type State int

const (
	StateIdle State = iota
	StateOfferCreated
	StateOfferSent
	StateOfferReceived
	StateAnswerCreated
	StateAnswerSent
	StateNegotiating
	StateConnected
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateOfferCreated:
		return "offer-created"
	case StateOfferSent:
		return "offer-sent"
	case StateOfferReceived:
		return "offer-received"
	case StateAnswerCreated:
		return "answer-created"
	case StateAnswerSent:
		return "answer-sent"
	case StateNegotiating:
		return "negotiating"
	case StateConnected:
		return "connected"
	case StateClosed:
		return "closed"
	}
	return "unknown"
}

// PeerSession drives the negotiation with one remote participant. Remote ICE
// candidates arriving before the remote description are buffered in arrival
// order and flushed right after the description is applied; a candidate is
// never handed to the transport before a remote description exists.
//
// The session borrows its tracks from the capture session and never stops
// them.
type PeerSession struct {
	peerID    string
	role      NegotiationRole
	transport Transport
	send      func(domain.Message)
	onClosed  func(peerID string)

	mu            sync.Mutex
	state         State
	remoteDescSet bool
	pending       []domain.ICECandidatePayload

	closed atomic.Bool
}

// NewOfferer creates the broadcaster-side session for a freshly joined
// viewer: it attaches the local tracks, generates an offer and emits it
// addressed to peerID.
func NewOfferer(peerID string, transport Transport, tracks []domain.Track, send func(domain.Message), onClosed func(string)) (*PeerSession, error) {
	s := &PeerSession{
		peerID:    peerID,
		role:      Offerer,
		transport: transport,
		send:      send,
		onClosed:  onClosed,
		state:     StateIdle,
	}
	s.wireTransport()

	if err := s.attachTracks(tracks); err != nil {
		s.Close()
		return nil, err
	}

	s.mu.Lock()
	offer, err := transport.CreateOffer()
	if err != nil {
		s.mu.Unlock()
		s.Close()
		return nil, &domain.NegotiationError{PeerID: peerID, Err: err}
	}
	s.state = StateOfferCreated
	s.mu.Unlock()

	send(domain.NewOfferMessage(peerID, offer))

	s.mu.Lock()
	if s.state == StateOfferCreated {
		s.state = StateOfferSent
	}
	s.mu.Unlock()

	log.Printf("[peer %s] offer sent", peerID)
	return s, nil
}

// NewAnswerer creates the viewer-side session for a received offer. Remote
// candidates that arrived before the offer are applied, in their original
// order, immediately after the remote description.
func NewAnswerer(peerID string, transport Transport, tracks []domain.Track, offer domain.SDPPayload, early []domain.ICECandidatePayload, send func(domain.Message), onClosed func(string)) (*PeerSession, error) {
	s := &PeerSession{
		peerID:    peerID,
		role:      Answerer,
		transport: transport,
		send:      send,
		onClosed:  onClosed,
		state:     StateOfferReceived,
	}
	s.wireTransport()

	if err := s.attachTracks(tracks); err != nil {
		s.Close()
		return nil, err
	}

	s.mu.Lock()
	if err := transport.SetRemoteDescription(offer); err != nil {
		s.mu.Unlock()
		s.Close()
		return nil, &domain.NegotiationError{PeerID: peerID, Err: err}
	}
	s.remoteDescSet = true

	for _, c := range early {
		if err := transport.AddICECandidate(c); err != nil {
			s.mu.Unlock()
			s.Close()
			return nil, &domain.NegotiationError{PeerID: peerID, Err: err}
		}
	}

	answer, err := transport.CreateAnswer()
	if err != nil {
		s.mu.Unlock()
		s.Close()
		return nil, &domain.NegotiationError{PeerID: peerID, Err: err}
	}
	s.state = StateAnswerCreated
	s.mu.Unlock()

	send(domain.NewAnswerMessage(peerID, answer))

	s.mu.Lock()
	if s.state == StateAnswerCreated {
		s.state = StateAnswerSent
	}
	s.mu.Unlock()

	log.Printf("[peer %s] answer sent (%d early candidates applied)", peerID, len(early))
	return s, nil
}

// PeerID returns the remote participant id this session negotiates with.
func (s *PeerSession) PeerID() string { return s.peerID }

// Role returns the session's negotiation role.
func (s *PeerSession) Role() NegotiationRole { return s.role }

// State returns the current negotiation state.
func (s *PeerSession) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *PeerSession) wireTransport() {
	// Locally discovered candidates go out immediately, whatever the
	// negotiation state.
	s.transport.OnICECandidate(func(c domain.ICECandidatePayload) {
		if s.closed.Load() {
			return
		}
		s.send(domain.NewICEMessage(s.peerID, c))
	})

	s.transport.OnStateChange(func(state TransportState) {
		switch state {
		case TransportStateConnected:
			s.mu.Lock()
			if !s.closed.Load() {
				s.state = StateConnected
			}
			s.mu.Unlock()
		case TransportStateFailed, TransportStateClosed:
			if !s.closed.Load() {
				log.Printf("[peer %s] transport %s, tearing down", s.peerID, state)
				s.Close()
			}
		}
	})
}

func (s *PeerSession) attachTracks(tracks []domain.Track) error {
	for _, t := range tracks {
		if err := s.transport.AddTrack(t); err != nil {
			return &domain.NegotiationError{PeerID: s.peerID, Err: err}
		}
	}
	return nil
}

// HandleAnswer applies the remote answer and flushes any buffered
// candidates in arrival order. A rejected description tears down this
// session only.
func (s *PeerSession) HandleAnswer(sdp domain.SDPPayload) error {
	s.mu.Lock()
	if s.closed.Load() {
		s.mu.Unlock()
		return nil
	}

	if err := s.transport.SetRemoteDescription(sdp); err != nil {
		s.mu.Unlock()
		s.Close()
		return &domain.NegotiationError{PeerID: s.peerID, Err: err}
	}
	s.remoteDescSet = true
	s.state = StateNegotiating

	pending := s.pending
	s.pending = nil
	for _, c := range pending {
		if err := s.transport.AddICECandidate(c); err != nil {
			s.mu.Unlock()
			s.Close()
			return &domain.NegotiationError{PeerID: s.peerID, Err: err}
		}
	}
	s.mu.Unlock()

	if len(pending) > 0 {
		log.Printf("[peer %s] answer applied, flushed %d buffered candidates", s.peerID, len(pending))
	}
	return nil
}

// AddRemoteCandidate applies a remote candidate, or buffers it when the
// remote description has not been set yet.
func (s *PeerSession) AddRemoteCandidate(c domain.ICECandidatePayload) error {
	s.mu.Lock()
	if s.closed.Load() {
		s.mu.Unlock()
		return nil
	}

	if !s.remoteDescSet {
		s.pending = append(s.pending, c)
		s.mu.Unlock()
		log.Printf("[peer %s] buffered candidate (no remote description yet)", s.peerID)
		return nil
	}

	if err := s.transport.AddICECandidate(c); err != nil {
		s.mu.Unlock()
		s.Close()
		return &domain.NegotiationError{PeerID: s.peerID, Err: err}
	}
	s.mu.Unlock()
	return nil
}

// Close releases the transport and reports the closure. Idempotent.
func (s *PeerSession) Close() {
	if !s.closed.CompareAndSwap(false, true) {
		return
	}

	s.mu.Lock()
	s.state = StateClosed
	s.pending = nil
	s.mu.Unlock()

	if err := s.transport.Close(); err != nil {
		log.Printf("[peer %s] close transport: %v", s.peerID, err)
	}
	if s.onClosed != nil {
		s.onClosed(s.peerID)
	}
}
