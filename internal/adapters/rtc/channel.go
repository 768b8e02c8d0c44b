package rtc

import (
	"github.com/dkeye/VoiceGuide/internal/core"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog"
)

// DataChannel adapts *webrtc.DataChannel to core.Channel.
type DataChannel struct {
	dc *webrtc.DataChannel
}

// bindChannel wires pion callbacks to events. Close and error callbacks are
// dispatched on their own goroutine because pion may fire them while the
// session is inside PeerConnection.Close.
func bindChannel(dc *webrtc.DataChannel, events core.ChannelEvents, logger zerolog.Logger) *DataChannel {
	logger = logger.With().Str("label", dc.Label()).Logger()

	dc.OnOpen(func() {
		logger.Info().Msg("data channel open")
		events.OnOpen()
	})
	dc.OnMessage(func(msg webrtc.DataChannelMessage) {
		if !msg.IsString {
			logger.Warn().Int("bytes", len(msg.Data)).Msg("ignoring binary message")
			return
		}
		events.OnMessage(msg.Data)
	})
	dc.OnClose(func() {
		logger.Info().Msg("data channel closed")
		go events.OnClose()
	})
	dc.OnError(func(err error) {
		logger.Error().Err(err).Msg("data channel error")
		go events.OnError(err)
	})
	return &DataChannel{dc: dc}
}

func (c *DataChannel) Label() string { return c.dc.Label() }

func (c *DataChannel) IsOpen() bool {
	return c.dc.ReadyState() == webrtc.DataChannelStateOpen
}

func (c *DataChannel) SendText(s string) error { return c.dc.SendText(s) }

func (c *DataChannel) Close() error { return c.dc.Close() }
