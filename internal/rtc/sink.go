package rtc

import (
	"io"
	"log"
	"strings"
	"sync/atomic"

	"github.com/pion/webrtc/v4"
	"github.com/pion/webrtc/v4/pkg/media/ivfwriter"
	"github.com/pion/webrtc/v4/pkg/media/oggwriter"
)

// MediaSink turns remote tracks into byte streams an external player can
// consume: VP8 as IVF, opus as OGG. Each writer carries one stream, so only
// the first remote track of a kind is written; later tracks (a broadcaster
// receives one per viewer) are drained so their transports stay alive.
type MediaSink struct {
	video io.Writer
	audio io.Writer

	videoTaken atomic.Bool
	audioTaken atomic.Bool
}

// NewMediaSink writes remote video to video and remote audio to audio.
// Either writer may be nil to discard that kind.
func NewMediaSink(video, audio io.Writer) *MediaSink {
	return &MediaSink{video: video, audio: audio}
}

func (s *MediaSink) claimVideo() bool { return s.videoTaken.CompareAndSwap(false, true) }
func (s *MediaSink) claimAudio() bool { return s.audioTaken.CompareAndSwap(false, true) }

// Consume reads the track until it ends. Run it on its own goroutine.
func (s *MediaSink) Consume(track *webrtc.TrackRemote) {
	codec := track.Codec()
	switch {
	case strings.EqualFold(codec.MimeType, webrtc.MimeTypeVP8) && s.video != nil && s.claimVideo():
		s.writeVideo(track)
	case strings.EqualFold(codec.MimeType, webrtc.MimeTypeOpus) && s.audio != nil && s.claimAudio():
		s.writeAudio(track)
	default:
		drainTrack(track)
	}
}

func (s *MediaSink) writeVideo(track *webrtc.TrackRemote) {
	w, err := ivfwriter.NewWith(s.video)
	if err != nil {
		log.Printf("[sink] ivf writer: %v", err)
		drainTrack(track)
		return
	}

	for {
		pkt, _, err := track.ReadRTP()
		if err != nil {
			return
		}
		if err := w.WriteRTP(pkt); err != nil {
			log.Printf("[sink] write video: %v", err)
			return
		}
	}
}

func (s *MediaSink) writeAudio(track *webrtc.TrackRemote) {
	w, err := oggwriter.NewWith(s.audio, 48000, 1)
	if err != nil {
		log.Printf("[sink] ogg writer: %v", err)
		drainTrack(track)
		return
	}

	for {
		pkt, _, err := track.ReadRTP()
		if err != nil {
			return
		}
		if err := w.WriteRTP(pkt); err != nil {
			log.Printf("[sink] write audio: %v", err)
			return
		}
	}
}
