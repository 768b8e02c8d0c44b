package rtc

import (
	"context"
	"errors"
	"io"
	"os"
	"sync"
	"time"

	"github.com/dkeye/VoiceGuide/internal/core"
	"github.com/google/uuid"
	"github.com/pion/webrtc/v4"
	"github.com/pion/webrtc/v4/pkg/media"
	"github.com/pion/webrtc/v4/pkg/media/oggreader"
	"github.com/rs/zerolog/log"
)

const (
	opusFrame     = 20 * time.Millisecond
	opusClockRate = 48000
)

// opusSilence is a single Opus frame of digital silence.
var opusSilence = []byte{0xf8, 0xff, 0xfe}

// FileSource feeds an Ogg/Opus file into the outbound track. With an empty
// Path, or once the file ends, it sends silence.
type FileSource struct {
	Path string
}

func (s FileSource) Acquire(ctx context.Context) (core.LocalTrack, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	track, err := webrtc.NewTrackLocalStaticSample(
		webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeOpus, ClockRate: opusClockRate, Channels: 2},
		"audio", "voiceguide-"+uuid.NewString(),
	)
	if err != nil {
		return nil, err
	}

	var (
		f    *os.File
		ogg  *oggreader.OggReader
		last uint64
	)
	if s.Path != "" {
		f, err = os.Open(s.Path)
		if err != nil {
			return nil, err
		}
		ogg, _, err = oggreader.NewWith(f)
		if err != nil {
			_ = f.Close()
			return nil, err
		}
	}

	pumpCtx, cancel := context.WithCancel(context.Background())
	lt := &localTrack{track: track, cancel: cancel, file: f, done: make(chan struct{})}

	logger := log.With().Str("module", "media").Str("track_id", track.ID()).Logger()
	go func() {
		defer close(lt.done)
		ticker := time.NewTicker(opusFrame)
		defer ticker.Stop()
		for {
			select {
			case <-pumpCtx.Done():
				return
			case <-ticker.C:
			}

			sample := media.Sample{Data: opusSilence, Duration: opusFrame}
			if ogg != nil {
				page, header, err := ogg.ParseNextPage()
				switch {
				case errors.Is(err, io.EOF):
					logger.Info().Msg("input file finished, sending silence")
					ogg = nil
				case err != nil:
					logger.Error().Err(err).Msg("input file unreadable, sending silence")
					ogg = nil
				default:
					samples := header.GranulePosition - last
					last = header.GranulePosition
					sample = media.Sample{
						Data:     page,
						Duration: time.Duration(float64(samples) / opusClockRate * float64(time.Second)),
					}
				}
			}
			if err := track.WriteSample(sample); err != nil {
				logger.Warn().Err(err).Msg("write sample failed")
			}
		}
	}()
	return lt, nil
}

type localTrack struct {
	track  *webrtc.TrackLocalStaticSample
	cancel context.CancelFunc
	file   *os.File
	done   chan struct{}
	once   sync.Once
	err    error
}

func (t *localTrack) ID() string                    { return t.track.ID() }
func (t *localTrack) TrackLocal() webrtc.TrackLocal { return t.track }

func (t *localTrack) Stop() error {
	t.once.Do(func() {
		t.cancel()
		<-t.done
		if t.file != nil {
			t.err = t.file.Close()
		}
	})
	return t.err
}
