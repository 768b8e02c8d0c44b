package core

import (
	"context"

	"github.com/pion/interceptor"
	"github.com/pion/rtp"
	"github.com/pion/webrtc/v4"
)

// LocalTrack is an acquired capture handle. Stop releases the hardware or
// file behind it and must be safe to call twice.
type LocalTrack interface {
	ID() string
	// TrackLocal exposes the pion track for attaching to a PeerConnection.
	TrackLocal() webrtc.TrackLocal
	Stop() error
}

// MediaSource acquires one local audio track.
type MediaSource interface {
	Acquire(ctx context.Context) (LocalTrack, error)
}

// RemoteTrack is the part of *webrtc.TrackRemote the audio sink reads.
type RemoteTrack interface {
	ID() string
	ReadRTP() (*rtp.Packet, interceptor.Attributes, error)
}

// AudioSink consumes remote audio.
type AudioSink interface {
	Attach(ctx context.Context, track RemoteTrack)
	Close() error
}
