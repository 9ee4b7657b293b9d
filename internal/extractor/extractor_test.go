package extractor

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/Slade66/media-fetcher/internal/antiblock"
	"github.com/Slade66/media-fetcher/internal/backend/direct"
	"github.com/Slade66/media-fetcher/internal/fault"
	"github.com/Slade66/media-fetcher/internal/media"
)

// flakyServer 前 failures 次请求返回 status，之后返回一个正常的 mp4 响应
type flakyServer struct {
	mu       sync.Mutex
	failures int
	status   int
	hits     []time.Time
	agents   []string
}

func (f *flakyServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	f.hits = append(f.hits, time.Now())
	f.agents = append(f.agents, r.Header.Get("User-Agent"))
	n := len(f.hits)
	f.mu.Unlock()

	if n <= f.failures {
		w.WriteHeader(f.status)
		return
	}
	w.Header().Set("Content-Type", "video/mp4")
	w.Header().Set("Content-Length", "4096")
}

func newPolicy(t *testing.T, base time.Duration) *antiblock.Policy {
	return antiblock.New(antiblock.Config{
		MaxAttempts: 5,
		BaseDelay:   base,
		MaxDelay:    time.Second,
		UserAgents:  []string{"ua-1", "ua-2", "ua-3"},
	}, antiblock.WithLogger(zaptest.NewLogger(t)))
}

func TestProbeSucceedsOnThirdAttemptAfter429(t *testing.T) {
	fs := &flakyServer{failures: 2, status: http.StatusTooManyRequests}
	srv := httptest.NewServer(fs)
	defer srv.Close()

	base := 30 * time.Millisecond
	ex := New(direct.NewWithClient(srv.Client()), newPolicy(t, base), time.Minute, zaptest.NewLogger(t))

	md, err := ex.Probe(context.Background(), srv.URL+"/media/clip.mp4")
	require.NoError(t, err)
	assert.Equal(t, "clip", md.Title)

	require.Len(t, fs.hits, 3)
	first := fs.hits[1].Sub(fs.hits[0])
	second := fs.hits[2].Sub(fs.hits[1])
	assert.GreaterOrEqual(t, first, base)
	assert.GreaterOrEqual(t, second, 2*base)
	assert.Equal(t, []string{"ua-1", "ua-2", "ua-3"}, fs.agents)
}

func TestProbeNoRetryOnNotFound(t *testing.T) {
	fs := &flakyServer{failures: 10, status: http.StatusNotFound}
	srv := httptest.NewServer(fs)
	defer srv.Close()

	ex := New(direct.NewWithClient(srv.Client()), newPolicy(t, time.Millisecond), time.Minute, zaptest.NewLogger(t))

	_, err := ex.Probe(context.Background(), srv.URL+"/missing.mp4")
	require.Error(t, err)
	assert.Equal(t, fault.KindSourceNotFound, fault.KindOf(err))
	assert.Len(t, fs.hits, 1)
}

func TestProbeExhaustsAttempts(t *testing.T) {
	fs := &flakyServer{failures: 100, status: http.StatusServiceUnavailable}
	srv := httptest.NewServer(fs)
	defer srv.Close()

	ex := New(direct.NewWithClient(srv.Client()), newPolicy(t, time.Millisecond), time.Minute, zaptest.NewLogger(t))

	_, err := ex.Probe(context.Background(), srv.URL+"/busy.mp4")
	require.Error(t, err)
	assert.Equal(t, fault.KindBlocked, fault.KindOf(err))
	assert.Len(t, fs.hits, 5)
}

func TestProbeRejectsInvalidURL(t *testing.T) {
	ex := New(direct.New(), newPolicy(t, 0), time.Minute, zaptest.NewLogger(t))
	_, err := ex.Probe(context.Background(), "ftp://example.com/a.mp4")
	assert.Equal(t, fault.KindValidation, fault.KindOf(err))
}

type hangingBackend struct{}

func (hangingBackend) Name() string          { return "hang" }
func (hangingBackend) CanHandle(string) bool { return true }
func (hangingBackend) Probe(ctx context.Context, _ string, _ media.ClientConfig) (*media.Metadata, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}
func (hangingBackend) Fetch(ctx context.Context, _ media.FetchRequest) (media.FetchResult, error) {
	return media.FetchResult{}, nil
}

func TestProbeTimeout(t *testing.T) {
	ex := New(hangingBackend{}, newPolicy(t, 0), 50*time.Millisecond, zaptest.NewLogger(t))
	_, err := ex.Probe(context.Background(), "https://example.com/watch")
	require.Error(t, err)
	assert.Equal(t, fault.KindTimeout, fault.KindOf(err))
}

func TestProbeSpacingBeyondTimeoutReportsTimeout(t *testing.T) {
	fs := &flakyServer{failures: 100, status: http.StatusTooManyRequests}
	srv := httptest.NewServer(fs)
	defer srv.Close()

	policy := antiblock.New(antiblock.Config{
		MaxAttempts: 5,
		BaseDelay:   time.Millisecond,
		MaxDelay:    time.Second,
		MinSpacing:  2 * time.Second,
	}, antiblock.WithLogger(zaptest.NewLogger(t)))
	ex := New(direct.NewWithClient(srv.Client()), policy, 500*time.Millisecond, zaptest.NewLogger(t))

	_, err := ex.Probe(context.Background(), srv.URL+"/clip.mp4")
	require.Error(t, err)
	assert.Equal(t, fault.KindTimeout, fault.KindOf(err))
	assert.Len(t, fs.hits, 1)
}
