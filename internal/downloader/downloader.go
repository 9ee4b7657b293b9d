// Package downloader 是下载执行器：在一个并发槽位内完成
// 元数据提取、格式解析、下载、可选转码和原子提交。
package downloader

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"

	"go.uber.org/zap"

	"github.com/Slade66/media-fetcher/internal/antiblock"
	"github.com/Slade66/media-fetcher/internal/extractor"
	"github.com/Slade66/media-fetcher/internal/fault"
	"github.com/Slade66/media-fetcher/internal/jobs"
	"github.com/Slade66/media-fetcher/internal/media"
	"github.com/Slade66/media-fetcher/internal/observer"
	"github.com/Slade66/media-fetcher/internal/resolver"
	"github.com/Slade66/media-fetcher/internal/storage"
)

// ArtifactPrefix 是产物文件名的前缀，完整文件名为 final_<jobid><ext>
const ArtifactPrefix = "final_"

// Archiver 在产物提交后把它额外归档到别处（例如对象存储）
type Archiver interface {
	Archive(ctx context.Context, objectKey, filePath string) error
}

// Options 是 Downloader 的依赖
type Options struct {
	Extractor *extractor.Extractor
	Backend   media.Backend
	Converter media.Converter
	Policy    *antiblock.Policy
	Store     *storage.Store
	// Archiver 可以为 nil
	Archiver Archiver
	// MaxFileSize 是单个产物的字节上限，<=0 表示不限制
	MaxFileSize int64
	Logger      *zap.Logger
}

// Downloader 结构体封装了执行下载任务所需的全部协作者，
// 多个任务共享同一个实例。它实现了 jobs.Runner。
type Downloader struct {
	extractor   *extractor.Extractor
	backend     media.Backend
	converter   media.Converter
	policy      *antiblock.Policy
	store       *storage.Store
	archiver    Archiver
	maxFileSize int64
	logger      *zap.Logger

	observers []observer.Observer
	mu        sync.Mutex
}

// New 创建一个新的 Downloader 实例
func New(opts Options) *Downloader {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Extractor == nil {
		opts.Extractor = extractor.New(opts.Backend, opts.Policy, 0, opts.Logger)
	}
	return &Downloader{
		extractor:   opts.Extractor,
		backend:     opts.Backend,
		converter:   opts.Converter,
		policy:      opts.Policy,
		store:       opts.Store,
		archiver:    opts.Archiver,
		maxFileSize: opts.MaxFileSize,
		logger:      opts.Logger,
		observers:   make([]observer.Observer, 0),
	}
}

// AddObserver 实现了 Observable 接口，用于添加观察者
func (d *Downloader) AddObserver(o observer.Observer) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.observers = append(d.observers, o)
}

// Notify 实现了 Observable 接口，用于通知所有观察者
func (d *Downloader) Notify(jobID string, percent float64) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, obs := range d.observers {
		obs.Update(jobID, percent)
	}
}

// Run 执行一个任务并通过 h 报告终态，实现了 jobs.Runner
func (d *Downloader) Run(ctx context.Context, job jobs.Job, h *jobs.Handle) {
	res, err := d.execute(ctx, job, h)
	if err != nil {
		err = contextError(ctx, err)
	}
	h.Finish(res, err)
}

func (d *Downloader) execute(ctx context.Context, job jobs.Job, h *jobs.Handle) (jobs.Result, error) {
	log := d.logger.With(zap.String("job_id", job.ID))

	// 1. 获取并发槽位
	if err := h.Acquire(ctx); err != nil {
		return jobs.Result{}, err
	}

	// 2. 提取元数据并解析下载指令，探测和下载共享同一个请求间隔
	if d.policy != nil {
		ctx = d.policy.WithSequence(ctx)
	}
	md, err := d.extractor.Probe(ctx, job.Request.URL)
	if err != nil {
		return jobs.Result{}, err
	}
	dir, err := resolver.Resolve(string(job.Request.FormatType), job.Request.Quality, md.Formats)
	if err != nil {
		return jobs.Result{}, err
	}
	h.SetMetadata(md.Title, dir)
	log.Info("🚀 准备下载",
		zap.String("title", md.Title),
		zap.String("backend", d.backend.Name()),
		zap.String("selector", dir.Selector),
		zap.Bool("transcode", dir.Transcode),
		zap.Bool("fallback", dir.Fallback))

	workDir, err := d.store.WorkDir(job.ID)
	if err != nil {
		return jobs.Result{}, err
	}
	// 无论成功失败，都清理临时目录里的中间文件
	defer os.RemoveAll(workDir)

	// 3. 下载
	if err := checkpoint(ctx, h, "fetch"); err != nil {
		return jobs.Result{}, err
	}
	fetched, err := d.fetch(ctx, job, dir, workDir)
	if err != nil {
		return jobs.Result{}, err
	}

	// 4. 按需转码
	path := fetched.Path
	if needsTranscode(dir, path) {
		if err := checkpoint(ctx, h, "transcode"); err != nil {
			return jobs.Result{}, err
		}
		log.Info("🎞️ 开始转码", zap.String("container", dir.Container))
		if path, err = d.convert(ctx, path, dir); err != nil {
			return jobs.Result{}, err
		}
	}

	// 5. 原子提交到存储根目录
	art, err := d.commit(ctx, h, job.ID, path)
	if err != nil {
		return jobs.Result{}, err
	}

	// 6. 可选归档，失败不影响任务结果
	d.archive(ctx, log, art)

	return jobs.Result{Path: art.Path, FileName: art.Name, SizeBytes: art.SizeBytes}, nil
}

// checkpoint 是协作式取消的检查点
func checkpoint(ctx context.Context, h *jobs.Handle, step string) error {
	if h.Canceled() {
		return fault.Errorf(fault.KindCanceled, step, "任务已被取消")
	}
	return ctx.Err()
}

// contextError 把因任务 context 结束而产生的错误归类为 timeout 或 canceled
func contextError(ctx context.Context, err error) error {
	switch {
	case fault.Is(err, fault.KindTimeout), fault.Is(err, fault.KindCanceled):
		return err
	case errors.Is(ctx.Err(), context.DeadlineExceeded):
		return fault.E(fault.KindTimeout, "job", fmt.Errorf("任务超过时限: %w", err))
	case errors.Is(ctx.Err(), context.Canceled):
		return fault.E(fault.KindCanceled, "job", err)
	}
	return err
}
