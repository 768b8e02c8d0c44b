package rtc

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/dkeye/VoiceGuide/internal/core/coretest"
	"github.com/pion/webrtc/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testLabel = "oai-events"

type channelRecorder struct {
	mu     sync.Mutex
	opened chan struct{}
	msgs   chan string
	closed int
}

func newChannelRecorder() *channelRecorder {
	return &channelRecorder{opened: make(chan struct{}), msgs: make(chan string, 4)}
}

func (r *channelRecorder) OnOpen()            { close(r.opened) }
func (r *channelRecorder) OnMessage(b []byte) { r.msgs <- string(b) }
func (r *channelRecorder) OnError(error)      {}

func (r *channelRecorder) OnClose() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closed++
}

func TestAttachTrackRejectsTrackWithoutPionTrack(t *testing.T) {
	f, err := NewFactory(webrtc.Configuration{})
	require.NoError(t, err)
	tr, err := f.NewTransport()
	require.NoError(t, err)
	defer tr.Close()

	require.ErrorIs(t, tr.AttachTrack(coretest.NewTrack("fake")), ErrUnsupportedTrack)
}

func TestCreateOfferHonoursContext(t *testing.T) {
	f, err := NewFactory(webrtc.Configuration{})
	require.NoError(t, err)
	tr, err := f.NewTransport()
	require.NoError(t, err)
	defer tr.Close()

	_, err = tr.OpenChannel(testLabel, newChannelRecorder())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = tr.CreateOffer(ctx)
	if err != nil {
		require.ErrorIs(t, err, context.Canceled)
	}
}

// TestLoopbackNegotiation negotiates against a plain pion peer on the same
// host and exchanges one message each way over the data channel.
func TestLoopbackNegotiation(t *testing.T) {
	f, err := NewFactory(webrtc.Configuration{})
	require.NoError(t, err)
	tr, err := f.NewTransport()
	require.NoError(t, err)
	defer tr.Close()

	src := FileSource{}
	track, err := src.Acquire(context.Background())
	require.NoError(t, err)
	require.NoError(t, tr.AttachTrack(track))

	rec := newChannelRecorder()
	ch, err := tr.OpenChannel(testLabel, rec)
	require.NoError(t, err)
	assert.Equal(t, testLabel, ch.Label())
	assert.False(t, ch.IsOpen())

	remote, err := webrtc.NewPeerConnection(webrtc.Configuration{})
	require.NoError(t, err)
	defer remote.Close()
	remote.OnDataChannel(func(dc *webrtc.DataChannel) {
		dc.OnMessage(func(msg webrtc.DataChannelMessage) {
			_ = dc.SendText("echo:" + string(msg.Data))
		})
	})

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	offer, err := tr.CreateOffer(ctx)
	require.NoError(t, err)

	require.NoError(t, remote.SetRemoteDescription(webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: offer}))
	answer, err := remote.CreateAnswer(nil)
	require.NoError(t, err)
	gathered := webrtc.GatheringCompletePromise(remote)
	require.NoError(t, remote.SetLocalDescription(answer))
	<-gathered
	require.NoError(t, tr.ApplyAnswer(remote.LocalDescription().SDP))

	select {
	case <-rec.opened:
	case <-ctx.Done():
		t.Fatal("data channel never opened")
	}
	assert.True(t, ch.IsOpen())
	require.NoError(t, ch.SendText(`{"type":"ping"}`))

	select {
	case got := <-rec.msgs:
		assert.Equal(t, `echo:{"type":"ping"}`, got)
	case <-ctx.Done():
		t.Fatal("no echo received")
	}

	require.NoError(t, tr.StopTracks())
	require.NoError(t, tr.StopTracks())
}
