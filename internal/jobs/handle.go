package jobs

import (
	"context"
	"errors"
	"sync"

	"go.uber.org/zap"

	"github.com/Slade66/media-fetcher/internal/fault"
	"github.com/Slade66/media-fetcher/internal/media"
)

// Handle 是执行器与 Tracker 之间的通道，每个任务一个，只在该任务的 goroutine 中使用。
type Handle struct {
	t        *Tracker
	id       string
	acquired bool
	release  sync.Once
}

// ID 返回任务 ID
func (h *Handle) ID() string { return h.id }

// Acquire 等待一个并发槽位，拿到后把任务标记为 running。
// 等待期间任务被取消或超时会返回对应类别的错误。
func (h *Handle) Acquire(ctx context.Context) error {
	const op = "acquire"
	if err := h.t.sem.Acquire(ctx, 1); err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return fault.E(fault.KindTimeout, op, err)
		}
		return fault.E(fault.KindCanceled, op, err)
	}

	h.t.mu.Lock()
	e, ok := h.t.jobs[h.id]
	if !ok || e.job.State != StateQueued || e.canceled {
		h.t.mu.Unlock()
		h.t.sem.Release(1)
		return fault.Errorf(fault.KindCanceled, op, "任务已被取消")
	}
	now := h.t.now()
	e.job.State = StateRunning
	e.job.StartedAt = &now
	snap := e.job.clone()
	h.t.mu.Unlock()

	h.acquired = true
	h.t.logger.Info("▶️ 任务开始执行", zap.String("job_id", h.id))
	h.t.publish(snap)
	return nil
}

// Canceled 报告任务是否收到了取消请求
func (h *Handle) Canceled() bool {
	h.t.mu.Lock()
	defer h.t.mu.Unlock()
	e, ok := h.t.jobs[h.id]
	return ok && e.canceled
}

// SetMetadata 记录解析出的标题和下载指令
func (h *Handle) SetMetadata(title string, d media.Directive) {
	h.t.mu.Lock()
	defer h.t.mu.Unlock()
	if e, ok := h.t.jobs[h.id]; ok {
		e.job.Title = title
		e.job.Directive = &d
	}
}

// Reserve 声明任务将要写入存储根目录下的 name，任务结束前清理器不会删除它
func (h *Handle) Reserve(name string) {
	h.t.mu.Lock()
	defer h.t.mu.Unlock()
	if e, ok := h.t.jobs[h.id]; ok {
		e.reserved = name
	}
}

// Finish 记录任务终态（只有第一次调用生效），随后释放并发槽位。
func (h *Handle) Finish(res Result, err error) {
	h.t.mu.Lock()
	e, ok := h.t.jobs[h.id]
	var changed bool
	var snap Job
	if ok {
		changed = h.t.terminate(e, res, err)
		snap = e.job.clone()
	}
	h.t.mu.Unlock()

	if h.acquired {
		h.release.Do(func() { h.t.sem.Release(1) })
	}
	if !changed {
		return
	}

	if snap.State == StateSucceeded {
		h.t.logger.Info("✅ 任务成功完成",
			zap.String("job_id", h.id),
			zap.String("file", snap.FileName),
			zap.Int64("size_bytes", snap.SizeBytes))
	} else {
		h.t.logger.Warn("🔥 任务执行失败",
			zap.String("job_id", h.id),
			zap.String("kind", string(snap.Error.Kind)),
			zap.String("error", snap.Error.Message))
	}
	h.t.publish(snap)
}
