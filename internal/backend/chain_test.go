package backend

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Slade66/media-fetcher/internal/backend/direct"
	"github.com/Slade66/media-fetcher/internal/backend/ytdlp"
	"github.com/Slade66/media-fetcher/internal/fault"
	"github.com/Slade66/media-fetcher/internal/media"
)

func TestChainRoutesByURL(t *testing.T) {
	c := NewChain(direct.New(), ytdlp.New(ytdlp.Options{}))

	assert.Equal(t, "direct", c.For("https://cdn.example.com/a.mp4"))
	assert.Equal(t, "yt-dlp", c.For("https://www.youtube.com/watch?v=abc"))
	assert.True(t, c.CanHandle("https://example.com/anything"))
}

func TestEmptyChainIsUnsupported(t *testing.T) {
	c := NewChain()
	_, err := c.Probe(context.Background(), "https://example.com", media.ClientConfig{})
	require.Error(t, err)
	assert.Equal(t, fault.KindUnsupported, fault.KindOf(err))

	_, err = c.Fetch(context.Background(), media.FetchRequest{URL: "https://example.com"})
	assert.Equal(t, fault.KindUnsupported, fault.KindOf(err))
}
