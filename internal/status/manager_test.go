package status

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Slade66/media-fetcher/internal/fault"
	"github.com/Slade66/media-fetcher/internal/jobs"
	"github.com/Slade66/media-fetcher/pkg/task"
)

// captureHook 记录 pipeline 中的命令，不访问真实的 Redis
type captureHook struct {
	mu   sync.Mutex
	cmds [][]interface{}
	err  error
}

func (h *captureHook) DialHook(next redis.DialHook) redis.DialHook {
	return func(ctx context.Context, network, addr string) (net.Conn, error) {
		return nil, errors.New("dial disabled in tests")
	}
}

func (h *captureHook) ProcessHook(next redis.ProcessHook) redis.ProcessHook {
	return func(ctx context.Context, cmd redis.Cmder) error {
		h.record(cmd)
		return h.err
	}
}

func (h *captureHook) ProcessPipelineHook(next redis.ProcessPipelineHook) redis.ProcessPipelineHook {
	return func(ctx context.Context, cmds []redis.Cmder) error {
		for _, c := range cmds {
			h.record(c)
		}
		return h.err
	}
}

func (h *captureHook) record(cmd redis.Cmder) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.cmds = append(h.cmds, cmd.Args())
}

func newClient(h *captureHook) *redis.Client {
	rdb := redis.NewClient(&redis.Options{Addr: "127.0.0.1:0"})
	rdb.AddHook(h)
	return rdb
}

func hashFields(args []interface{}) map[string]string {
	out := make(map[string]string)
	for i := 2; i+1 < len(args); i += 2 {
		out[fmt.Sprint(args[i])] = fmt.Sprint(args[i+1])
	}
	return out
}

func TestPublishWritesHashAndTTL(t *testing.T) {
	h := &captureHook{}
	m := NewManager(newClient(h), 24*time.Hour)

	created := time.Date(2026, 5, 1, 8, 0, 0, 0, time.UTC)
	finished := created.Add(time.Minute)
	job := jobs.Job{
		ID:         "abc",
		State:      jobs.StateFailed,
		Request:    task.Request{URL: "https://example.com/v", FormatType: task.FormatAudio, Quality: "best"},
		Progress:   12.5,
		Error:      &jobs.ErrorInfo{Kind: fault.KindBlocked, Message: "HTTP 429"},
		CreatedAt:  created,
		FinishedAt: &finished,
	}
	require.NoError(t, m.Publish(context.Background(), job))

	require.Len(t, h.cmds, 2)
	hset := h.cmds[0]
	assert.Equal(t, "hset", hset[0])
	assert.Equal(t, "job:status:abc", hset[1])

	fields := hashFields(hset)
	assert.Equal(t, "failed", fields["state"])
	assert.Equal(t, "audio", fields["format_type"])
	assert.Equal(t, "12.50", fields["progress"])
	assert.Equal(t, "blocked", fields["error_kind"])
	assert.Equal(t, "2026-05-01T08:00:00Z", fields["submit_time"])
	assert.Equal(t, "2026-05-01T08:01:00Z", fields["finish_time"])
	assert.NotContains(t, fields, "title", "empty fields are not stored")
	assert.NotContains(t, fields, "start_time")

	expire := h.cmds[1]
	assert.Equal(t, "expire", expire[0])
	assert.Equal(t, "job:status:abc", expire[1])
	assert.Equal(t, int64(86400), expire[2])
}

func TestPublishWithoutTTL(t *testing.T) {
	h := &captureHook{}
	m := NewManager(newClient(h), 0)
	require.NoError(t, m.Publish(context.Background(), jobs.Job{ID: "x", State: jobs.StateQueued}))
	require.Len(t, h.cmds, 1)
	assert.Equal(t, "hset", h.cmds[0][0])
}

func TestPublishError(t *testing.T) {
	h := &captureHook{err: errors.New("connection refused")}
	m := NewManager(newClient(h), time.Hour)
	err := m.Publish(context.Background(), jobs.Job{ID: "x"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "job:status:x")
}
