package rtc

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/dkeye/VoiceGuide/internal/core"
	"github.com/google/uuid"
	"github.com/pion/interceptor"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

var ErrUnsupportedTrack = errors.New("rtc: local track has no pion track")

// PeerConnection is the pion-backed core.PeerTransport.
type PeerConnection struct {
	pc     *webrtc.PeerConnection
	id     string
	ctx    context.Context
	cancel context.CancelFunc
	logger zerolog.Logger

	mu      sync.Mutex
	tracks  []core.LocalTrack
	onTrack func(ctx context.Context, track core.RemoteTrack)
}

func DefaultWebRTCConfig(iceURLs ...string) webrtc.Configuration {
	if len(iceURLs) == 0 {
		iceURLs = []string{"stun:stun.l.google.com:19302"}
	}
	return webrtc.Configuration{
		ICEServers: []webrtc.ICEServer{
			{
				URLs: iceURLs,
			},
		},
	}
}

// Factory builds one PeerConnection per session attempt.
type Factory struct {
	api *webrtc.API
	cfg webrtc.Configuration
}

func NewFactory(cfg webrtc.Configuration) (*Factory, error) {
	m := &webrtc.MediaEngine{}
	if err := m.RegisterDefaultCodecs(); err != nil {
		return nil, fmt.Errorf("register codecs: %w", err)
	}
	ir := &interceptor.Registry{}
	if err := webrtc.RegisterDefaultInterceptors(m, ir); err != nil {
		return nil, fmt.Errorf("register interceptors: %w", err)
	}
	api := webrtc.NewAPI(webrtc.WithMediaEngine(m), webrtc.WithInterceptorRegistry(ir))
	return &Factory{api: api, cfg: cfg}, nil
}

func (f *Factory) NewTransport() (core.PeerTransport, error) {
	pc, err := f.api.NewPeerConnection(f.cfg)
	if err != nil {
		return nil, err
	}
	return newPeerConnection(pc, uuid.NewString()), nil
}

func newPeerConnection(pc *webrtc.PeerConnection, id string) *PeerConnection {
	ctx, cancel := context.WithCancel(context.Background())
	c := &PeerConnection{
		pc:     pc,
		id:     id,
		ctx:    ctx,
		cancel: cancel,
		logger: log.With().Str("module", "webrtc").Str("pc", id).Logger(),
	}

	pc.OnICEConnectionStateChange(func(s webrtc.ICEConnectionState) {
		c.logger.Info().Str("ice_state", s.String()).Msg("ICE state")
		if s == webrtc.ICEConnectionStateFailed ||
			s == webrtc.ICEConnectionStateClosed {
			cancel()
		}
	})

	pc.OnConnectionStateChange(func(s webrtc.PeerConnectionState) {
		c.logger.Info().Str("peer_connection_state", s.String()).Msg("Peer state")
	})

	pc.OnTrack(func(track *webrtc.TrackRemote, receiver *webrtc.RTPReceiver) {
		c.logger.Info().
			Str("kind", track.Kind().String()).
			Str("track_id", track.ID()).
			Str("stream_id", track.StreamID()).
			Msg("OnTrack received")
		c.mu.Lock()
		fn := c.onTrack
		c.mu.Unlock()
		if fn != nil {
			fn(c.ctx, track)
		}
	})

	return c
}

// AttachTrack adds a local outbound track and drains its RTCP.
func (c *PeerConnection) AttachTrack(t core.LocalTrack) error {
	local := t.TrackLocal()
	if local == nil {
		return ErrUnsupportedTrack
	}
	sender, err := c.pc.AddTrack(local)
	if err != nil {
		return err
	}
	c.mu.Lock()
	c.tracks = append(c.tracks, t)
	c.mu.Unlock()

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

func (c *PeerConnection) OpenChannel(label string, events core.ChannelEvents) (core.Channel, error) {
	dc, err := c.pc.CreateDataChannel(label, nil)
	if err != nil {
		return nil, err
	}
	return bindChannel(dc, events, c.logger), nil
}

// CreateOffer sets the local offer and waits for ICE gathering so the
// returned description carries every candidate.
func (c *PeerConnection) CreateOffer(ctx context.Context) (string, error) {
	offer, err := c.pc.CreateOffer(nil)
	if err != nil {
		return "", err
	}
	gatherComplete := webrtc.GatheringCompletePromise(c.pc)
	if err := c.pc.SetLocalDescription(offer); err != nil {
		return "", err
	}
	select {
	case <-gatherComplete:
	case <-ctx.Done():
		return "", ctx.Err()
	}
	return c.pc.LocalDescription().SDP, nil
}

func (c *PeerConnection) ApplyAnswer(sdp string) error {
	return c.pc.SetRemoteDescription(webrtc.SessionDescription{
		Type: webrtc.SDPTypeAnswer,
		SDP:  sdp,
	})
}

// OnTrack sets application-level callback for remote tracks.
func (c *PeerConnection) OnTrack(fn func(ctx context.Context, track core.RemoteTrack)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onTrack = fn
}

func (c *PeerConnection) StopTracks() error {
	c.mu.Lock()
	tracks := c.tracks
	c.tracks = nil
	c.mu.Unlock()

	var errs []error
	for _, t := range tracks {
		if err := t.Stop(); err != nil {
			errs = append(errs, fmt.Errorf("stop track %s: %w", t.ID(), err))
		}
	}
	return errors.Join(errs...)
}

func (c *PeerConnection) Close() error {
	c.cancel()
	if err := c.pc.Close(); err != nil {
		c.logger.Error().Err(err).Msg("close error")
		return err
	}
	c.logger.Info().Msg("closed")
	return nil
}
