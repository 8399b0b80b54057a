package transport

import (
	"context"
	"sync"

	"github.com/edaniels/golog"
	"github.com/pion/ice/v2"
	"github.com/pion/interceptor"
	"github.com/pion/webrtc/v3"
	"github.com/pkg/errors"
	"go.uber.org/multierr"

	"go.viam.com/callsignal"
	"go.viam.com/callsignal/call"
)

func newWebRTCAPI(logger golog.Logger) (*webrtc.API, error) {
	m := webrtc.MediaEngine{}
	if err := m.RegisterDefaultCodecs(); err != nil {
		return nil, err
	}
	i := interceptor.Registry{}
	if err := webrtc.RegisterDefaultInterceptors(&m, &i); err != nil {
		return nil, err
	}

	var settingEngine webrtc.SettingEngine
	// resolve peers that hide their address behind mDNS without advertising our own.
	settingEngine.SetICEMulticastDNSMode(ice.MulticastDNSModeQueryOnly)

	options := []func(a *webrtc.API){webrtc.WithMediaEngine(&m), webrtc.WithInterceptorRegistry(&i)}
	if callsignal.Debug {
		settingEngine.LoggerFactory = LoggerFactory{logger}
	}
	options = append(options, webrtc.WithSettingEngine(settingEngine))
	return webrtc.NewAPI(options...), nil
}

// A PeerEngine is an Engine backed by a pion WebRTC peer connection.
type PeerEngine struct {
	source MediaSource
	sink   MediaSink
	logger golog.Logger

	mu          sync.Mutex
	peerConn    *webrtc.PeerConnection
	constraints MediaConstraints
	closed      bool

	handlerMu   sync.RWMutex
	onCandidate func(call.ICECandidate)

	closeOnce sync.Once
	closeErr  error
}

// NewPeerEngine returns an engine sending the source's tracks and handing remote tracks
// to the sink. Either may be nil.
func NewPeerEngine(source MediaSource, sink MediaSink, logger golog.Logger) *PeerEngine {
	if logger == nil {
		logger = callsignal.Logger
	}
	return &PeerEngine{
		source: source,
		sink:   sink,
		logger: logger,
	}
}

// PeerEngineFactory returns a Factory creating peer engines that share a source and sink.
func PeerEngineFactory(source MediaSource, sink MediaSink, logger golog.Logger) Factory {
	return func() Engine {
		return NewPeerEngine(source, sink, logger)
	}
}

// Initialize opens local media and creates the peer connection.
func (e *PeerEngine) Initialize(ctx context.Context, cfg Config) (err error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return ErrClosed
	}
	if e.peerConn != nil {
		return errors.Wrap(ErrInvalidState, "already initialized")
	}

	var tracks []webrtc.TrackLocal
	if e.source != nil {
		tracks, err = e.source.Open(ctx, cfg.Media)
		if err != nil {
			return err
		}
	}

	webAPI, err := newWebRTCAPI(e.logger)
	if err != nil {
		return err
	}
	var iceServers []webrtc.ICEServer
	if len(cfg.ICEServers) != 0 {
		iceServers = []webrtc.ICEServer{{URLs: cfg.ICEServers}}
	}
	peerConn, err := webAPI.NewPeerConnection(webrtc.Configuration{ICEServers: iceServers})
	if err != nil {
		return err
	}
	var successful bool
	defer func() {
		if !successful {
			err = multierr.Combine(err, peerConn.Close())
		}
	}()

	for _, track := range tracks {
		sender, err := peerConn.AddTrack(track)
		if err != nil {
			return errors.Wrapf(err, "failed to add %s track", track.Kind())
		}
		drainRTCP(sender)
	}

	peerConn.OnICECandidate(func(candidate *webrtc.ICECandidate) {
		// nil marks the end of gathering
		if candidate == nil {
			return
		}
		e.handlerMu.RLock()
		onCandidate := e.onCandidate
		e.handlerMu.RUnlock()
		if onCandidate != nil {
			onCandidate(candidateFromPion(candidate.ToJSON()))
		}
	})
	peerConn.OnTrack(func(track *webrtc.TrackRemote, receiver *webrtc.RTPReceiver) {
		if e.sink != nil {
			e.sink.OnTrack(track, receiver)
		}
	})
	peerConn.OnConnectionStateChange(func(state webrtc.PeerConnectionState) {
		e.logger.Debugw("connection state changed", "state", state.String())
	})

	e.peerConn = peerConn
	e.constraints = cfg.Media
	successful = true
	return nil
}

// drainRTCP reads incoming RTCP so interceptors such as NACK keep working.
func drainRTCP(sender *webrtc.RTPSender) {
	callsignal.PanicCapturingGo(func() {
		buf := make([]byte, 1500)
		for {
			if _, _, err := sender.Read(buf); err != nil {
				return
			}
		}
	})
}

func (e *PeerEngine) connection() (*webrtc.PeerConnection, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return nil, ErrClosed
	}
	if e.peerConn == nil {
		return nil, errors.Wrap(ErrInvalidState, "not initialized")
	}
	return e.peerConn, nil
}

// CreateOffer creates an offer that also receives the requested kinds of media we are
// not sending.
func (e *PeerEngine) CreateOffer(ctx context.Context) (call.SessionDescription, error) {
	peerConn, err := e.connection()
	if err != nil {
		return call.SessionDescription{}, err
	}

	e.mu.Lock()
	constraints := e.constraints
	e.mu.Unlock()
	if err := addReceiveOnlyTransceivers(peerConn, constraints); err != nil {
		return call.SessionDescription{}, err
	}

	offer, err := peerConn.CreateOffer(nil)
	if err != nil {
		return call.SessionDescription{}, err
	}
	if err := peerConn.SetLocalDescription(offer); err != nil {
		return call.SessionDescription{}, err
	}
	return descriptionFromPion(offer), nil
}

func addReceiveOnlyTransceivers(peerConn *webrtc.PeerConnection, constraints MediaConstraints) error {
	sending := map[webrtc.RTPCodecType]bool{}
	for _, transceiver := range peerConn.GetTransceivers() {
		sending[transceiver.Kind()] = true
	}
	wanted := []struct {
		kind webrtc.RTPCodecType
		want bool
	}{
		{webrtc.RTPCodecTypeAudio, constraints.Audio},
		{webrtc.RTPCodecTypeVideo, constraints.Video},
	}
	for _, w := range wanted {
		if !w.want || sending[w.kind] {
			continue
		}
		if _, err := peerConn.AddTransceiverFromKind(w.kind, webrtc.RTPTransceiverInit{
			Direction: webrtc.RTPTransceiverDirectionRecvonly,
		}); err != nil {
			return errors.Wrapf(err, "failed to receive %s", w.kind)
		}
	}
	return nil
}

// CreateAnswer answers the remote offer.
func (e *PeerEngine) CreateAnswer(ctx context.Context) (call.SessionDescription, error) {
	peerConn, err := e.connection()
	if err != nil {
		return call.SessionDescription{}, err
	}
	if peerConn.RemoteDescription() == nil {
		return call.SessionDescription{}, errors.Wrap(ErrInvalidState, "no remote offer")
	}
	answer, err := peerConn.CreateAnswer(nil)
	if err != nil {
		return call.SessionDescription{}, err
	}
	if err := peerConn.SetLocalDescription(answer); err != nil {
		return call.SessionDescription{}, err
	}
	return descriptionFromPion(answer), nil
}

// SetRemoteDescription applies the other side's offer or answer.
func (e *PeerEngine) SetRemoteDescription(desc call.SessionDescription) error {
	peerConn, err := e.connection()
	if err != nil {
		return err
	}
	sdpType := webrtc.NewSDPType(desc.Type)
	switch sdpType {
	case webrtc.SDPTypeOffer, webrtc.SDPTypeAnswer, webrtc.SDPTypePranswer:
	default:
		return errors.Errorf("unknown session description type %q", desc.Type)
	}
	return peerConn.SetRemoteDescription(webrtc.SessionDescription{Type: sdpType, SDP: desc.SDP})
}

// AddICECandidate applies a remote candidate.
func (e *PeerEngine) AddICECandidate(candidate call.ICECandidate) error {
	peerConn, err := e.connection()
	if err != nil {
		return err
	}
	if peerConn.RemoteDescription() == nil {
		return errors.Wrap(ErrInvalidState, "no remote description")
	}
	return peerConn.AddICECandidate(candidateToPion(candidate))
}

// OnICECandidate sets the callback for locally gathered candidates. It may be set
// before or after Initialize.
func (e *PeerEngine) OnICECandidate(f func(candidate call.ICECandidate)) {
	e.handlerMu.Lock()
	defer e.handlerMu.Unlock()
	e.onCandidate = f
}

// ConnectionState returns the state of the peer connection.
func (e *PeerEngine) ConnectionState() webrtc.PeerConnectionState {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.peerConn == nil {
		return webrtc.PeerConnectionStateNew
	}
	return e.peerConn.ConnectionState()
}

// Close closes the peer connection and the media source.
func (e *PeerEngine) Close() error {
	e.closeOnce.Do(func() {
		e.mu.Lock()
		e.closed = true
		peerConn := e.peerConn
		e.mu.Unlock()

		e.OnICECandidate(nil)
		if peerConn != nil {
			e.closeErr = multierr.Combine(e.closeErr, peerConn.Close())
		}
		if e.source != nil {
			e.closeErr = multierr.Combine(e.closeErr, e.source.Close())
		}
	})
	return e.closeErr
}

func descriptionFromPion(desc webrtc.SessionDescription) call.SessionDescription {
	return call.SessionDescription{Type: desc.Type.String(), SDP: desc.SDP}
}

func candidateFromPion(i webrtc.ICECandidateInit) call.ICECandidate {
	candidate := call.ICECandidate{
		Candidate: i.Candidate,
	}
	if i.SDPMid != nil {
		val := *i.SDPMid
		candidate.SDPMid = &val
	}
	if i.SDPMLineIndex != nil {
		val := *i.SDPMLineIndex
		candidate.SDPMLineIndex = &val
	}
	if i.UsernameFragment != nil {
		val := *i.UsernameFragment
		candidate.UsernameFragment = &val
	}
	return candidate
}

func candidateToPion(i call.ICECandidate) webrtc.ICECandidateInit {
	candidate := webrtc.ICECandidateInit{
		Candidate: i.Candidate,
	}
	if i.SDPMid != nil {
		val := *i.SDPMid
		candidate.SDPMid = &val
	}
	if i.SDPMLineIndex != nil {
		val := *i.SDPMLineIndex
		candidate.SDPMLineIndex = &val
	}
	if i.UsernameFragment != nil {
		val := *i.UsernameFragment
		candidate.UsernameFragment = &val
	}
	return candidate
}
