// Package jobs 是内存中的任务注册表：分配任务 ID、维护状态机、
// 用一个全局信号量限制同时处于 running 的任务数，并持有每个任务的取消句柄。
package jobs

import (
	"context"
	"errors"
	"net/url"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"github.com/Slade66/media-fetcher/internal/fault"
	"github.com/Slade66/media-fetcher/pkg/task"
)

const (
	// DefaultMaxConcurrent 是默认的并发下载上限
	DefaultMaxConcurrent = 3
	// DefaultTimeout 是单个任务从提交到终态的默认墙钟上限
	DefaultTimeout = 300 * time.Second

	mirrorTimeout = 3 * time.Second
)

// Runner 执行一个任务。实现必须先调用 h.Acquire 获取并发槽位，
// 并且在返回前调用 h.Finish 记录终态。
type Runner interface {
	Run(ctx context.Context, job Job, h *Handle)
}

// RunnerFunc 让普通函数满足 Runner 接口
type RunnerFunc func(ctx context.Context, job Job, h *Handle)

func (f RunnerFunc) Run(ctx context.Context, job Job, h *Handle) { f(ctx, job, h) }

// Mirror 接收每一次状态迁移后的快照，比如把它写到 Redis 供外部查看。
// 镜像失败只记录日志，不影响任务本身。
type Mirror interface {
	Publish(ctx context.Context, job Job) error
}

// Options 是 Tracker 的可选参数
type Options struct {
	MaxConcurrent int
	Timeout       time.Duration
	Mirror        Mirror
	Logger        *zap.Logger
	Now           func() time.Time
}

type entry struct {
	job      Job
	cancel   context.CancelFunc
	canceled bool
	reserved string
	done     chan struct{}
}

// Tracker 是任务注册表。所有方法都可以并发调用。
type Tracker struct {
	mu      sync.Mutex
	jobs    map[string]*entry
	sem     *semaphore.Weighted
	max     int
	timeout time.Duration
	runner  Runner
	mirror  Mirror
	logger  *zap.Logger
	now     func() time.Time

	ctx    context.Context
	stop   context.CancelFunc
	wg     sync.WaitGroup
	closed bool
}

// New 创建一个 Tracker，由 runner 执行提交的任务
func New(runner Runner, opts Options) *Tracker {
	if opts.MaxConcurrent <= 0 {
		opts.MaxConcurrent = DefaultMaxConcurrent
	}
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	ctx, stop := context.WithCancel(context.Background())
	return &Tracker{
		jobs:    make(map[string]*entry),
		sem:     semaphore.NewWeighted(int64(opts.MaxConcurrent)),
		max:     opts.MaxConcurrent,
		timeout: opts.Timeout,
		runner:  runner,
		mirror:  opts.Mirror,
		logger:  opts.Logger,
		now:     opts.Now,
		ctx:     ctx,
		stop:    stop,
	}
}

// Submit 校验请求并立即登记为 queued，不等待并发槽位。
func (t *Tracker) Submit(req task.Request) (Job, error) {
	const op = "submit"
	norm, err := req.Normalize()
	if err != nil {
		var fe *task.FormatError
		if errors.As(err, &fe) {
			return Job{}, fault.E(fault.KindUnsupportedFormat, op, err)
		}
		return Job{}, fault.E(fault.KindValidation, op, err)
	}

	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return Job{}, fault.Errorf(fault.KindInternal, op, "任务注册表已关闭")
	}
	id := uuid.NewString()
	ctx, cancel := context.WithTimeout(t.ctx, t.timeout)
	e := &entry{
		job: Job{
			ID:        id,
			State:     StateQueued,
			Request:   norm,
			CreatedAt: t.now(),
		},
		cancel: cancel,
		done:   make(chan struct{}),
	}
	t.jobs[id] = e
	snap := e.job.clone()
	t.wg.Add(1)
	t.mu.Unlock()

	t.logger.Info("📥 任务已登记",
		zap.String("job_id", id),
		zap.String("url", norm.URL),
		zap.String("format_type", string(norm.FormatType)),
		zap.String("quality", norm.Quality))

	go t.run(ctx, cancel, snap)
	return snap, nil
}

func (t *Tracker) run(ctx context.Context, cancel context.CancelFunc, snap Job) {
	defer t.wg.Done()
	defer cancel()

	t.publish(snap)
	h := &Handle{t: t, id: snap.ID}
	defer func() {
		if r := recover(); r != nil {
			t.logger.Error("‼️ 任务执行发生 panic", zap.String("job_id", snap.ID), zap.Any("panic", r))
			h.Finish(Result{}, fault.Errorf(fault.KindInternal, "run", "任务执行异常: %v", r))
			return
		}
		// 兜底：Runner 没有报告终态时按内部错误处理
		h.Finish(Result{}, fault.Errorf(fault.KindInternal, "run", "任务没有报告结果"))
	}()
	t.runner.Run(ctx, snap, h)
}

// Status 返回任务快照，未知或已淘汰的 ID 返回 not_found
func (t *Tracker) Status(id string) (Job, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	e, ok := t.jobs[id]
	if !ok {
		return Job{}, fault.Errorf(fault.KindNotFound, "status", "任务不存在: %s", id)
	}
	return e.job.clone(), nil
}

// Wait 阻塞到任务进入终态或 ctx 结束
func (t *Tracker) Wait(ctx context.Context, id string) (Job, error) {
	t.mu.Lock()
	e, ok := t.jobs[id]
	t.mu.Unlock()
	if !ok {
		return Job{}, fault.Errorf(fault.KindNotFound, "wait", "任务不存在: %s", id)
	}
	select {
	case <-e.done:
		return t.Status(id)
	case <-ctx.Done():
		return Job{}, ctx.Err()
	}
}

// Cancel 尽力取消任务。排队中的任务立即失败；运行中的任务设置取消标记并
// 取消其 context，执行器会在下一个检查点停下。已经结束的任务保持不变。
func (t *Tracker) Cancel(id string) (Job, error) {
	t.mu.Lock()
	e, ok := t.jobs[id]
	if !ok {
		t.mu.Unlock()
		return Job{}, fault.Errorf(fault.KindNotFound, "cancel", "任务不存在: %s", id)
	}
	var publish bool
	switch e.job.State {
	case StateQueued:
		e.canceled = true
		t.terminate(e, Result{}, fault.Errorf(fault.KindCanceled, "cancel", "任务在排队时被取消"))
		publish = true
	case StateRunning:
		e.canceled = true
	}
	cancel := e.cancel
	snap := e.job.clone()
	t.mu.Unlock()

	if !snap.State.Terminal() || publish {
		cancel()
	}
	if publish {
		t.publish(snap)
	}
	t.logger.Info("🛑 收到取消请求", zap.String("job_id", id), zap.String("state", string(snap.State)))
	return snap, nil
}

// List 返回所有任务快照，按提交时间排序
func (t *Tracker) List() []Job {
	t.mu.Lock()
	out := make([]Job, 0, len(t.jobs))
	for _, e := range t.jobs {
		out = append(out, e.job.clone())
	}
	t.mu.Unlock()
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

// Stats 返回各状态的任务数
func (t *Tracker) Stats() Stats {
	t.mu.Lock()
	defer t.mu.Unlock()
	s := Stats{Total: len(t.jobs), MaxConcurrent: t.max}
	for _, e := range t.jobs {
		switch e.job.State {
		case StateQueued:
			s.Queued++
		case StateRunning:
			s.Running++
		case StateSucceeded:
			s.Succeeded++
		case StateFailed:
			s.Failed++
		}
	}
	return s
}

// InUse 报告 name 是否被一个尚未结束的任务占用，清理器不能删除这样的文件
func (t *Tracker) InUse(name string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, e := range t.jobs {
		if !e.job.State.Terminal() && e.reserved == name {
			return true
		}
	}
	return false
}

// Evict 从注册表删除 before 之前结束的任务，返回删除数量
func (t *Tracker) Evict(before time.Time) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	n := 0
	for id, e := range t.jobs {
		if e.job.FinishedAt != nil && e.job.FinishedAt.Before(before) {
			delete(t.jobs, id)
			n++
		}
	}
	return n
}

// Update 实现了 observer.Observer，记录任务的下载进度。进度只增不减。
func (t *Tracker) Update(jobID string, percent float64) {
	if percent < 0 {
		percent = 0
	}
	if percent > 100 {
		percent = 100
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if e, ok := t.jobs[jobID]; ok && e.job.State == StateRunning && percent > e.job.Progress {
		e.job.Progress = percent
	}
}

// Close 取消所有未结束的任务并等待它们退出，之后的 Submit 会失败
func (t *Tracker) Close(ctx context.Context) error {
	t.mu.Lock()
	t.closed = true
	t.mu.Unlock()
	t.stop()

	done := make(chan struct{})
	go func() {
		t.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// terminate 在持有锁的情况下把任务迁移到终态，重复调用无效
func (t *Tracker) terminate(e *entry, res Result, err error) bool {
	if e.job.State.Terminal() {
		return false
	}
	now := t.now()
	e.job.FinishedAt = &now
	if err == nil {
		e.job.State = StateSucceeded
		e.job.Progress = 100
		e.job.ResultPath = res.Path
		e.job.FileName = res.FileName
		e.job.SizeBytes = res.SizeBytes
		e.job.DownloadURL = DownloadURL(res.FileName, e.job.Title)
	} else {
		kind := fault.KindOf(err)
		if e.canceled && kind != fault.KindTimeout {
			kind = fault.KindCanceled
		}
		e.job.State = StateFailed
		e.job.Error = &ErrorInfo{Kind: kind, Message: err.Error()}
	}
	close(e.done)
	return true
}

func (t *Tracker) publish(job Job) {
	if t.mirror == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), mirrorTimeout)
	defer cancel()
	if err := t.mirror.Publish(ctx, job); err != nil {
		t.logger.Warn("⚠️ 同步任务状态失败", zap.String("job_id", job.ID), zap.Error(err))
	}
}

// DownloadURL 返回产物的下载地址，标题会被清洗后作为下载文件名
func DownloadURL(fileName, title string) string {
	if fileName == "" {
		return ""
	}
	return "/api/file/" + url.PathEscape(fileName) + "?title=" + url.QueryEscape(task.SanitizeTitle(title))
}
