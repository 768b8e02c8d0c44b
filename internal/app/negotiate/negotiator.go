// Package negotiate performs the connection handshake with the realtime
// endpoint and yields a ready-to-open channel.
package negotiate

import (
	"context"
	"errors"
	"time"

	"github.com/dkeye/VoiceGuide/internal/core"
	"github.com/rs/zerolog/log"
)

const DefaultChannelLabel = "oai-events"

type Negotiator struct {
	Credentials  core.CredentialSource
	Media        core.MediaSource
	Transports   core.TransportFactory
	Exchange     core.DescriptionExchanger
	ChannelLabel string
	// NewSink is optional; when set every remote track is attached to the
	// sink it returns.
	NewSink func() core.AudioSink
}

// Negotiate runs the handshake. On failure it returns the partially built
// link together with a *Error; the caller owns teardown of both.
func (n *Negotiator) Negotiate(ctx context.Context, events core.ChannelEvents) (*core.Link, error) {
	logger := log.With().Str("module", "negotiate").Logger()
	started := time.Now()
	link := &core.Link{}

	cred, err := n.Credentials.FetchCredential(ctx)
	if err != nil {
		return link, fail(StageCredential, err)
	}
	if cred.Value == "" {
		return link, fail(StageCredential, errors.New("empty credential"))
	}
	logger.Debug().Time("expires_at", cred.ExpiresAt).Msg("credential fetched")

	tr, err := n.Transports.NewTransport()
	if err != nil {
		return link, fail(StageTransport, err)
	}
	link.Transport = tr

	if n.NewSink != nil {
		sink := n.NewSink()
		link.Sink = sink
		tr.OnTrack(func(trackCtx context.Context, track core.RemoteTrack) {
			logger.Info().Str("track_id", track.ID()).Msg("remote track attached to sink")
			sink.Attach(trackCtx, track)
		})
	}

	track, err := n.Media.Acquire(ctx)
	if err != nil {
		return link, fail(StageMedia, err)
	}
	link.Track = track
	if err := tr.AttachTrack(track); err != nil {
		return link, fail(StageMedia, err)
	}

	label := n.ChannelLabel
	if label == "" {
		label = DefaultChannelLabel
	}
	ch, err := tr.OpenChannel(label, events)
	if err != nil {
		return link, fail(StageChannel, err)
	}
	link.Channel = ch

	offer, err := tr.CreateOffer(ctx)
	if err != nil {
		return link, fail(StageOffer, err)
	}
	answer, err := n.Exchange.Exchange(ctx, cred, offer)
	if err != nil {
		return link, fail(StageExchange, err)
	}
	if err := tr.ApplyAnswer(answer); err != nil {
		return link, fail(StageAnswer, err)
	}

	logger.Info().
		Str("channel", label).
		Str("track_id", track.ID()).
		Dur("took", time.Since(started)).
		Msg("negotiation complete")
	return link, nil
}
