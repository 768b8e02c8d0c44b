package rtc

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFileSourceSilenceStopsTwice(t *testing.T) {
	track, err := FileSource{}.Acquire(context.Background())
	require.NoError(t, err)
	assert.NotEmpty(t, track.ID())
	assert.NotNil(t, track.TrackLocal())

	require.NoError(t, track.Stop())
	require.NoError(t, track.Stop())
}

func TestFileSourceMissingFile(t *testing.T) {
	_, err := FileSource{Path: filepath.Join(t.TempDir(), "missing.ogg")}.Acquire(context.Background())
	require.ErrorIs(t, err, os.ErrNotExist)
}

func TestFileSourceRejectsNonOgg(t *testing.T) {
	path := filepath.Join(t.TempDir(), "notes.txt")
	require.NoError(t, os.WriteFile(path, []byte("not an ogg stream"), 0o600))
	_, err := FileSource{Path: path}.Acquire(context.Background())
	require.Error(t, err)
}

func TestFileSourceCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := FileSource{}.Acquire(ctx)
	require.ErrorIs(t, err, context.Canceled)
}
