package media

import (
	"fmt"
	"log"
	"math/rand"
	"sync"
	"sync/atomic"

	"clivox/broadcast/internal/domain"

	"github.com/pion/mediadevices"
	"github.com/pion/mediadevices/pkg/codec/opus"
	"github.com/pion/mediadevices/pkg/codec/vpx"
	_ "github.com/pion/mediadevices/pkg/driver/camera"     // registers the camera driver
	_ "github.com/pion/mediadevices/pkg/driver/microphone" // registers the microphone driver
	"github.com/pion/mediadevices/pkg/prop"
	"github.com/pion/rtp"
	"github.com/pion/webrtc/v4"
)

const rtpMTU = 1200

// rtpSource yields encoded packet batches from a capture device.
type rtpSource interface {
	Read() (pkts []*rtp.Packet, release func(), err error)
}

// rtpSink receives the packets bound transports will send out.
type rtpSink interface {
	WriteRTP(p *rtp.Packet) error
}

// pumpRTP forwards packets from src to dst until src ends. Packets read
// while enabled is false are dropped, so every bound peer stops receiving
// media the moment the flag flips. The encoder keeps running either way;
// only delivery is gated.
func pumpRTP(src rtpSource, dst rtpSink, enabled *atomic.Bool) {
	for {
		pkts, release, err := src.Read()
		if err != nil {
			return
		}
		if enabled.Load() {
			for _, p := range pkts {
				if err := dst.WriteRTP(p); err != nil {
					log.Printf("[media] write rtp: %v", err)
				}
			}
		}
		release()
	}
}

// Track wraps one captured mediadevices track with a local mute flag.
// The peer transports bind to a relay track fed by an RTP pump; disabling
// the track starves the relay, so muting is visible to every connected
// peer without touching the negotiation layer.
type Track struct {
	source  mediadevices.Track
	local   *webrtc.TrackLocalStaticRTP
	rtp     mediadevices.RTPReadCloser
	kind    string
	enabled atomic.Bool

	stopOnce sync.Once
}

func newTrack(t mediadevices.Track) (*Track, error) {
	kind, mime, clock := "audio", webrtc.MimeTypeOpus, uint32(48000)
	if t.Kind() == webrtc.RTPCodecTypeVideo {
		kind, mime, clock = "video", webrtc.MimeTypeVP8, 90000
	}

	local, err := webrtc.NewTrackLocalStaticRTP(
		webrtc.RTPCodecCapability{MimeType: mime, ClockRate: clock},
		t.ID(), t.StreamID(),
	)
	if err != nil {
		return nil, fmt.Errorf("create %s relay track: %w", kind, err)
	}

	reader, err := t.NewRTPReader(mime, rand.Uint32(), rtpMTU)
	if err != nil {
		return nil, fmt.Errorf("read %s track: %w", kind, err)
	}

	w := &Track{source: t, local: local, rtp: reader, kind: kind}
	w.enabled.Store(true)
	go pumpRTP(reader, local, &w.enabled)
	return w, nil
}

func (t *Track) ID() string   { return t.source.ID() }
func (t *Track) Kind() string { return t.kind }

func (t *Track) Enabled() bool { return t.enabled.Load() }

func (t *Track) SetEnabled(enabled bool) { t.enabled.Store(enabled) }

// Stop releases the underlying device track. Stopping twice is a no-op.
func (t *Track) Stop() {
	t.stopOnce.Do(func() {
		if err := t.rtp.Close(); err != nil {
			log.Printf("[media] close %s reader: %v", t.kind, err)
		}
		if err := t.source.Close(); err != nil {
			log.Printf("[media] close %s track: %v", t.kind, err)
		}
	})
}

// Local exposes the relay track for attachment to a peer transport.
func (t *Track) Local() webrtc.TrackLocal { return t.local }

// CaptureSession owns the local camera and microphone. One exists per
// participant process and it must outlive every peer session its tracks are
// attached to.
type CaptureSession struct {
	tracks []domain.Track

	stopOnce sync.Once
}

// NewCaptureSession acquires the camera and microphone, encoding VP8 video
// and opus audio. A denied or missing device surfaces as DeviceAccessError.
func NewCaptureSession() (*CaptureSession, error) {
	vpxParams, err := vpx.NewVP8Params()
	if err != nil {
		return nil, fmt.Errorf("vp8 params: %w", err)
	}
	vpxParams.BitRate = 500_000

	opusParams, err := opus.NewParams()
	if err != nil {
		return nil, fmt.Errorf("opus params: %w", err)
	}

	selector := mediadevices.NewCodecSelector(
		mediadevices.WithVideoEncoders(&vpxParams),
		mediadevices.WithAudioEncoders(&opusParams),
	)

	stream, err := mediadevices.GetUserMedia(mediadevices.MediaStreamConstraints{
		Video: func(c *mediadevices.MediaTrackConstraints) {
			c.Width = prop.Int(640)
			c.Height = prop.Int(480)
			c.FrameRate = prop.Float(30)
		},
		Audio: func(c *mediadevices.MediaTrackConstraints) {
			c.SampleRate = prop.Int(48000)
			c.ChannelCount = prop.Int(1)
		},
		Codec: selector,
	})
	if err != nil {
		return nil, &domain.DeviceAccessError{Err: err}
	}

	s := &CaptureSession{}
	for _, t := range stream.GetTracks() {
		w, err := newTrack(t)
		if err != nil {
			t.Close()
			s.Stop()
			return nil, err
		}
		s.tracks = append(s.tracks, w)
	}

	log.Printf("[media] capture started with %d tracks", len(s.tracks))
	return s, nil
}

// Tracks returns the capture tracks. Callers borrow them; ownership stays
// with the capture session.
func (s *CaptureSession) Tracks() []domain.Track { return s.tracks }

// Stop releases every device track exactly once.
func (s *CaptureSession) Stop() {
	s.stopOnce.Do(func() {
		for _, t := range s.tracks {
			t.Stop()
		}
		log.Printf("[media] capture stopped")
	})
}
