package fileinfo

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGet(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodHead, r.Method)
		assert.Equal(t, "test-agent", r.Header.Get("User-Agent"))
		w.Header().Set("Content-Length", "2048")
		w.Header().Set("Accept-Ranges", "bytes")
		w.Header().Set("Content-Type", "video/mp4")
		w.Header().Set("Content-Disposition", `attachment; filename="clip.mp4"`)
	}))
	defer srv.Close()

	info, err := Get(context.Background(), srv.Client(), srv.URL+"/clip.mp4", "test-agent")
	require.NoError(t, err)
	assert.Equal(t, int64(2048), info.Size)
	assert.True(t, info.AcceptsRanges)
	assert.Equal(t, "video/mp4", info.ContentType)
	assert.Equal(t, "clip.mp4", info.FileName)
}

func TestGetStatusError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	_, err := Get(context.Background(), srv.Client(), srv.URL, "")
	var se *StatusError
	require.True(t, errors.As(err, &se))
	assert.Equal(t, http.StatusTooManyRequests, se.Code)
}
