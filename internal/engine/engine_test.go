package engine

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/Slade66/media-fetcher/internal/config"
)

func TestNewWiresComponents(t *testing.T) {
	cfg, err := config.Load(filepath.Join(t.TempDir(), "none.env"))
	require.NoError(t, err)
	base := t.TempDir()
	cfg.DownloadDir = filepath.Join(base, "downloads")
	cfg.TempDir = filepath.Join(base, "temp")
	cfg.YtDlpPath = filepath.Join(base, "no-such-yt-dlp")

	e, err := New(cfg, Deps{Logger: zaptest.NewLogger(t)})
	require.NoError(t, err)
	t.Cleanup(func() { _ = e.Close(context.Background()) })

	assert.DirExists(t, cfg.DownloadDir)
	assert.DirExists(t, cfg.TempDir)
	assert.Equal(t, "direct", e.Backend.For("https://cdn.example.com/clip.mp4"))
	assert.Equal(t, "yt-dlp", e.Backend.For("https://www.youtube.com/watch?v=abc"))
	assert.Equal(t, 3, e.Tracker.Stats().MaxConcurrent)
	assert.Equal(t, 5, e.Policy.Config().MaxAttempts)

	tools := e.Tools()
	require.Contains(t, tools, "ffmpeg")
	require.Contains(t, tools, "yt_dlp")
	assert.False(t, tools["yt_dlp"]())
}
