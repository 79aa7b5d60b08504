package rtc

import (
	"fmt"
	"log"

	"clivox/broadcast/internal/domain"

	"github.com/pion/interceptor"
	"github.com/pion/webrtc/v4"
)

// TransportState is the condensed connection state of a peer transport.
type TransportState int

const (
	TransportStateNew TransportState = iota
	TransportStateConnecting
	TransportStateConnected
	TransportStateDisconnected
	TransportStateFailed
	TransportStateClosed
)

func (s TransportState) String() string {
	switch s {
	case TransportStateNew:
		return "new"
	case TransportStateConnecting:
		return "connecting"
	case TransportStateConnected:
		return "connected"
	case TransportStateDisconnected:
		return "disconnected"
	case TransportStateFailed:
		return "failed"
	case TransportStateClosed:
		return "closed"
	}
	return "unknown"
}

// Transport is one point-to-point media transport under negotiation.
// CreateOffer and CreateAnswer also set the local description.
type Transport interface {
	AddTrack(t domain.Track) error
	CreateOffer() (domain.SDPPayload, error)
	CreateAnswer() (domain.SDPPayload, error)
	SetRemoteDescription(sdp domain.SDPPayload) error
	AddICECandidate(c domain.ICECandidatePayload) error
	OnICECandidate(fn func(domain.ICECandidatePayload))
	OnStateChange(fn func(TransportState))
	Close() error
}

// TransportFactory creates a fresh transport for each new peer session.
type TransportFactory func() (Transport, error)

// Config holds the ICE server list for new transports.
type Config struct {
	ICEServers []string
}

// localTrackProvider is implemented by capture tracks that can hand out the
// underlying webrtc track for attachment.
type localTrackProvider interface {
	Local() webrtc.TrackLocal
}

// PionTransport adapts a Pion PeerConnection to the Transport interface.
type PionTransport struct {
	pc *webrtc.PeerConnection
}

// NewPionTransportFactory returns a factory producing Pion transports that
// write every remote track into sink. A nil sink drains remote media.
func NewPionTransportFactory(cfg Config, sink *MediaSink) TransportFactory {
	return func() (Transport, error) {
		return NewPionTransport(cfg, sink)
	}
}

// NewPionTransport creates a PeerConnection with default codecs and
// interceptors.
func NewPionTransport(cfg Config, sink *MediaSink) (*PionTransport, error) {
	m := &webrtc.MediaEngine{}
	if err := m.RegisterDefaultCodecs(); err != nil {
		return nil, fmt.Errorf("register codecs: %w", err)
	}

	i := &interceptor.Registry{}
	if err := webrtc.RegisterDefaultInterceptors(m, i); err != nil {
		return nil, fmt.Errorf("register interceptors: %w", err)
	}

	api := webrtc.NewAPI(
		webrtc.WithMediaEngine(m),
		webrtc.WithInterceptorRegistry(i),
	)

	var servers []webrtc.ICEServer
	for _, u := range cfg.ICEServers {
		servers = append(servers, webrtc.ICEServer{URLs: []string{u}})
	}

	pc, err := api.NewPeerConnection(webrtc.Configuration{ICEServers: servers})
	if err != nil {
		return nil, fmt.Errorf("create peer connection: %w", err)
	}

	pc.OnTrack(func(track *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
		codec := track.Codec()
		log.Printf("[rtc] got remote track: kind=%s codec=%s", track.Kind(), codec.MimeType)
		if sink != nil {
			go sink.Consume(track)
		} else {
			go drainTrack(track)
		}
	})

	return &PionTransport{pc: pc}, nil
}

// AddTrack attaches a local capture track and drains its RTCP stream.
func (t *PionTransport) AddTrack(track domain.Track) error {
	p, ok := track.(localTrackProvider)
	if !ok {
		return fmt.Errorf("track %s does not expose a local webrtc track", track.ID())
	}

	sender, err := t.pc.AddTrack(p.Local())
	if err != nil {
		return fmt.Errorf("add %s track: %w", track.Kind(), err)
	}

	// Reading the sender keeps interceptor feedback flowing.
	go func() {
		buf := make([]byte, 1500)
		for {
			if _, _, err := sender.Read(buf); err != nil {
				return
			}
		}
	}()

	return nil
}

func (t *PionTransport) CreateOffer() (domain.SDPPayload, error) {
	offer, err := t.pc.CreateOffer(nil)
	if err != nil {
		return domain.SDPPayload{}, fmt.Errorf("create offer: %w", err)
	}
	if err := t.pc.SetLocalDescription(offer); err != nil {
		return domain.SDPPayload{}, fmt.Errorf("set local description: %w", err)
	}
	return domain.SDPPayload{Type: "offer", SDP: offer.SDP}, nil
}

func (t *PionTransport) CreateAnswer() (domain.SDPPayload, error) {
	answer, err := t.pc.CreateAnswer(nil)
	if err != nil {
		return domain.SDPPayload{}, fmt.Errorf("create answer: %w", err)
	}
	if err := t.pc.SetLocalDescription(answer); err != nil {
		return domain.SDPPayload{}, fmt.Errorf("set local description: %w", err)
	}
	return domain.SDPPayload{Type: "answer", SDP: answer.SDP}, nil
}

func (t *PionTransport) SetRemoteDescription(sdp domain.SDPPayload) error {
	sdpType := webrtc.NewSDPType(sdp.Type)
	desc := webrtc.SessionDescription{Type: sdpType, SDP: sdp.SDP}
	if err := t.pc.SetRemoteDescription(desc); err != nil {
		return fmt.Errorf("set remote description: %w", err)
	}
	return nil
}

func (t *PionTransport) AddICECandidate(c domain.ICECandidatePayload) error {
	mid := c.SDPMid
	mLineIndex := uint16(c.SDPMLineIndex)
	init := webrtc.ICECandidateInit{
		Candidate:     c.Candidate,
		SDPMid:        &mid,
		SDPMLineIndex: &mLineIndex,
	}
	if err := t.pc.AddICECandidate(init); err != nil {
		return fmt.Errorf("add ice candidate: %w", err)
	}
	return nil
}

func (t *PionTransport) OnICECandidate(fn func(domain.ICECandidatePayload)) {
	t.pc.OnICECandidate(func(c *webrtc.ICECandidate) {
		if c == nil {
			log.Printf("[rtc] ICE gathering complete")
			return
		}
		j := c.ToJSON()
		payload := domain.ICECandidatePayload{Candidate: j.Candidate}
		if j.SDPMid != nil {
			payload.SDPMid = *j.SDPMid
		}
		if j.SDPMLineIndex != nil {
			payload.SDPMLineIndex = int(*j.SDPMLineIndex)
		}
		fn(payload)
	})
}

func (t *PionTransport) OnStateChange(fn func(TransportState)) {
	t.pc.OnConnectionStateChange(func(state webrtc.PeerConnectionState) {
		log.Printf("[rtc] peer connection state: %s", state.String())
		fn(mapPeerConnectionState(state))
	})
}

func (t *PionTransport) Close() error {
	return t.pc.Close()
}

func mapPeerConnectionState(state webrtc.PeerConnectionState) TransportState {
	switch state {
	case webrtc.PeerConnectionStateNew:
		return TransportStateNew
	case webrtc.PeerConnectionStateConnecting:
		return TransportStateConnecting
	case webrtc.PeerConnectionStateConnected:
		return TransportStateConnected
	case webrtc.PeerConnectionStateDisconnected:
		return TransportStateDisconnected
	case webrtc.PeerConnectionStateFailed:
		return TransportStateFailed
	case webrtc.PeerConnectionStateClosed:
		return TransportStateClosed
	}
	return TransportStateNew
}

func drainTrack(track *webrtc.TrackRemote) {
	buf := make([]byte, 1500)
	for {
		if _, _, err := track.Read(buf); err != nil {
			return
		}
	}
}
