package core

import (
	"context"
	"time"
)

// Credential is a short-lived bearer secret for the realtime endpoint.
type Credential struct {
	Value     string
	ExpiresAt time.Time
}

type CredentialSource interface {
	FetchCredential(ctx context.Context) (Credential, error)
}

// DescriptionExchanger posts a local offer and returns the remote answer.
type DescriptionExchanger interface {
	Exchange(ctx context.Context, cred Credential, offerSDP string) (string, error)
}

// PeerTransport is the negotiated media/control link.
type PeerTransport interface {
	// AttachTrack adds a local outbound track.
	AttachTrack(LocalTrack) error
	// OpenChannel creates the data channel in connecting state.
	OpenChannel(label string, events ChannelEvents) (Channel, error)
	// CreateOffer sets and returns the local description once gathering completes.
	CreateOffer(ctx context.Context) (string, error)
	ApplyAnswer(sdp string) error
	// OnTrack sets a callback invoked for every remote track.
	OnTrack(func(ctx context.Context, track RemoteTrack))
	// StopTracks stops every attached local track.
	StopTracks() error
	Close() error
}

type TransportFactory interface {
	NewTransport() (PeerTransport, error)
}

// Link bundles the handles produced by a negotiation. Any field may be nil
// when negotiation failed part way.
type Link struct {
	Transport PeerTransport
	Channel   Channel
	Track     LocalTrack
	Sink      AudioSink
}
