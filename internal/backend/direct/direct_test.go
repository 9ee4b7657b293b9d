package direct

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Slade66/media-fetcher/internal/fault"
	"github.com/Slade66/media-fetcher/internal/media"
)

func TestCanHandle(t *testing.T) {
	b := New()
	assert.True(t, b.CanHandle("https://cdn.example.com/a/clip.MP4?sig=1"))
	assert.True(t, b.CanHandle("https://cdn.example.com/song.mp3"))
	assert.False(t, b.CanHandle("https://www.youtube.com/watch?v=abc"))
	assert.False(t, b.CanHandle("https://example.com/page.html"))
}

func TestProbe(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "video/mp4")
		w.Header().Set("Content-Length", "1024")
	}))
	defer srv.Close()

	b := NewWithClient(srv.Client())
	md, err := b.Probe(context.Background(), srv.URL+"/movies/trailer.mp4", media.ClientConfig{UserAgent: "ua"})
	require.NoError(t, err)
	assert.Equal(t, "trailer", md.Title)
	require.Len(t, md.Formats, 1)
	assert.Equal(t, "mp4", md.Formats[0].Ext)
	assert.True(t, md.Formats[0].HasVideo)
	assert.Equal(t, int64(1024), md.Formats[0].Filesize)
}

func TestProbeClassifiesStatus(t *testing.T) {
	cases := map[int]fault.Kind{
		http.StatusNotFound:             fault.KindSourceNotFound,
		http.StatusTooManyRequests:      fault.KindBlocked,
		http.StatusServiceUnavailable:   fault.KindBlocked,
		http.StatusUnauthorized:         fault.KindUnsupported,
		http.StatusUnsupportedMediaType: fault.KindUnsupported,
	}
	for code, kind := range cases {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(code)
		}))
		_, err := NewWithClient(srv.Client()).Probe(context.Background(), srv.URL+"/a.mp4", media.ClientConfig{})
		assert.Equal(t, kind, fault.KindOf(err), "status %d", code)
		srv.Close()
	}
}

func TestProbeRejectsNonMedia(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
	}))
	defer srv.Close()

	_, err := NewWithClient(srv.Client()).Probe(context.Background(), srv.URL+"/a.mp4", media.ClientConfig{})
	assert.Equal(t, fault.KindUnsupported, fault.KindOf(err))
}

func TestFetchWritesIntoWorkDir(t *testing.T) {
	payload := []byte("fake-audio-bytes")
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "agent-x", r.Header.Get("User-Agent"))
		w.Header().Set("Content-Type", "audio/mpeg")
		w.Write(payload)
	}))
	defer srv.Close()

	dir := t.TempDir()
	var last float64
	res, err := NewWithClient(srv.Client()).Fetch(context.Background(), media.FetchRequest{
		URL:      srv.URL + "/song.mp3",
		Client:   media.ClientConfig{UserAgent: "agent-x"},
		WorkDir:  dir,
		Progress: func(p float64) { last = p },
	})
	require.NoError(t, err)
	assert.Equal(t, int64(len(payload)), res.Bytes)
	assert.Equal(t, ".mp3", res.Path[len(res.Path)-4:])
	assert.Equal(t, float64(100), last)

	data, err := os.ReadFile(res.Path)
	require.NoError(t, err)
	assert.Equal(t, payload, data)
}

func TestFetchRejectsOversizedContentLength(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Length", "4096")
		w.Write(make([]byte, 4096))
	}))
	defer srv.Close()

	dir := t.TempDir()
	_, err := NewWithClient(srv.Client(), WithMaxFileSize(1024)).Fetch(context.Background(), media.FetchRequest{
		URL:     srv.URL + "/movie.mp4",
		WorkDir: dir,
	})
	require.Error(t, err)
	assert.Equal(t, fault.KindStorage, fault.KindOf(err))

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestFetchStopsStreamingPastLimit(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// 分块传输，不带 Content-Length
		for i := 0; i < 8; i++ {
			w.Write(make([]byte, 512))
			w.(http.Flusher).Flush()
		}
	}))
	defer srv.Close()

	dir := t.TempDir()
	_, err := NewWithClient(srv.Client(), WithMaxFileSize(1024)).Fetch(context.Background(), media.FetchRequest{
		URL:     srv.URL + "/movie.mp4",
		WorkDir: dir,
	})
	require.Error(t, err)
	assert.Equal(t, fault.KindStorage, fault.KindOf(err))

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestFetchAtLimitSucceeds(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write(make([]byte, 1024))
	}))
	defer srv.Close()

	res, err := NewWithClient(srv.Client(), WithMaxFileSize(1024)).Fetch(context.Background(), media.FetchRequest{
		URL:     srv.URL + "/movie.mp4",
		WorkDir: t.TempDir(),
	})
	require.NoError(t, err)
	assert.Equal(t, int64(1024), res.Bytes)
}
