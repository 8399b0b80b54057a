package transport

import (
	"context"
	"io"
	"sync"

	"github.com/edaniels/golog"
	"github.com/pion/webrtc/v3"

	"go.viam.com/callsignal"
)

// MediaConstraints says which kinds of media a call carries.
type MediaConstraints struct {
	Audio bool
	Video bool
}

// A MediaSource provides the local tracks of a call.
type MediaSource interface {
	// Open returns the local tracks satisfying the constraints.
	Open(ctx context.Context, constraints MediaConstraints) ([]webrtc.TrackLocal, error)

	// Close releases whatever Open acquired.
	Close() error
}

// A MediaSink receives the remote tracks of a call.
type MediaSink interface {
	OnTrack(track *webrtc.TrackRemote, receiver *webrtc.RTPReceiver)
}

// A SampleSource is a MediaSource whose tracks are fed by the application, for example
// from files or a synthetic generator.
type SampleSource struct {
	streamID string

	mu     sync.Mutex
	audio  *webrtc.TrackLocalStaticSample
	video  *webrtc.TrackLocalStaticSample
	closed bool
}

// NewSampleSource returns a source whose tracks belong to the given stream.
func NewSampleSource(streamID string) *SampleSource {
	return &SampleSource{streamID: streamID}
}

// Open creates an opus track for audio and a VP8 track for video as requested.
func (s *SampleSource) Open(ctx context.Context, constraints MediaConstraints) ([]webrtc.TrackLocal, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, ErrClosed
	}

	var tracks []webrtc.TrackLocal
	if constraints.Audio {
		if s.audio == nil {
			track, err := webrtc.NewTrackLocalStaticSample(
				webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeOpus}, "audio", s.streamID)
			if err != nil {
				return nil, err
			}
			s.audio = track
		}
		tracks = append(tracks, s.audio)
	}
	if constraints.Video {
		if s.video == nil {
			track, err := webrtc.NewTrackLocalStaticSample(
				webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeVP8}, "video", s.streamID)
			if err != nil {
				return nil, err
			}
			s.video = track
		}
		tracks = append(tracks, s.video)
	}
	return tracks, nil
}

// AudioTrack returns the audio track once opened.
func (s *SampleSource) AudioTrack() *webrtc.TrackLocalStaticSample {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.audio
}

// VideoTrack returns the video track once opened.
func (s *SampleSource) VideoTrack() *webrtc.TrackLocalStaticSample {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.video
}

// Close marks the source closed.
func (s *SampleSource) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

// A DiscardSink reads and drops remote media so the receive buffers never fill.
type DiscardSink struct {
	Logger golog.Logger
}

// OnTrack drains the track until it ends.
func (s DiscardSink) OnTrack(track *webrtc.TrackRemote, receiver *webrtc.RTPReceiver) {
	logger := s.Logger
	if logger == nil {
		logger = callsignal.Logger
	}
	logger.Debugw("remote track started", "kind", track.Kind().String(), "codec", track.Codec().MimeType)
	callsignal.PanicCapturingGo(func() {
		buf := make([]byte, 1500)
		for {
			if _, _, err := track.Read(buf); err != nil {
				if err != io.EOF {
					logger.Debugw("remote track ended", "kind", track.Kind().String(), "error", err)
				}
				return
			}
		}
	})
}
