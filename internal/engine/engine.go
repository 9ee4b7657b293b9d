// Package engine 按配置组装下载编排引擎，供 HTTP 服务和命令行共用。
package engine

import (
	"context"

	"go.uber.org/zap"

	"github.com/Slade66/media-fetcher/internal/antiblock"
	"github.com/Slade66/media-fetcher/internal/backend"
	"github.com/Slade66/media-fetcher/internal/backend/direct"
	"github.com/Slade66/media-fetcher/internal/backend/ytdlp"
	"github.com/Slade66/media-fetcher/internal/cleanup"
	"github.com/Slade66/media-fetcher/internal/config"
	"github.com/Slade66/media-fetcher/internal/downloader"
	"github.com/Slade66/media-fetcher/internal/extractor"
	"github.com/Slade66/media-fetcher/internal/jobs"
	"github.com/Slade66/media-fetcher/internal/storage"
	"github.com/Slade66/media-fetcher/internal/transcode"
)

// Deps 是可选的外部协作者
type Deps struct {
	Mirror   jobs.Mirror
	Archiver downloader.Archiver
	Logger   *zap.Logger
}

// Engine 持有组装好的各个组件
type Engine struct {
	Store      *storage.Store
	Policy     *antiblock.Policy
	Backend    *backend.Chain
	YtDlp      *ytdlp.Backend
	FFmpeg     *transcode.FFmpeg
	Extractor  *extractor.Extractor
	Downloader *downloader.Downloader
	Tracker    *jobs.Tracker
	Cleanup    *cleanup.Manager
}

// New 按配置创建引擎。直链 URL 由 direct 后端处理，其余交给 yt-dlp。
func New(cfg config.Config, deps Deps) (*Engine, error) {
	log := deps.Logger
	if log == nil {
		log = zap.NewNop()
	}

	store, err := storage.New(cfg.DownloadDir, cfg.TempDir)
	if err != nil {
		return nil, err
	}

	policy := antiblock.New(cfg.Policy(), antiblock.WithLogger(log.Named("antiblock")))
	yt := ytdlp.New(ytdlp.Options{
		Binary:      cfg.YtDlpPath,
		CookiesFile: cfg.CookiesFile,
		MaxFileSize: cfg.MaxFileSize(),
	})
	chain := backend.NewChain(direct.New(direct.WithMaxFileSize(cfg.MaxFileSize())), yt)
	ff := transcode.New(cfg.FFmpegPath)
	ex := extractor.New(chain, policy, cfg.APITimeout(), log.Named("extractor"))

	dl := downloader.New(downloader.Options{
		Extractor:   ex,
		Backend:     chain,
		Converter:   ff,
		Policy:      policy,
		Store:       store,
		Archiver:    deps.Archiver,
		MaxFileSize: cfg.MaxFileSize(),
		Logger:      log.Named("executor"),
	})
	tracker := jobs.New(dl, jobs.Options{
		MaxConcurrent: cfg.MaxConcurrentDownloads,
		Timeout:       cfg.APITimeout(),
		Mirror:        deps.Mirror,
		Logger:        log.Named("tracker"),
	})
	dl.AddObserver(tracker)

	cm := cleanup.New(store, tracker, cleanup.Options{
		Interval:  cfg.CleanupInterval(),
		Expiry:    cfg.FileExpiry(),
		MaxBytes:  cfg.MaxStorage(),
		Retention: cfg.JobRetention(),
		Logger:    log.Named("cleanup"),
	})

	return &Engine{
		Store:      store,
		Policy:     policy,
		Backend:    chain,
		YtDlp:      yt,
		FFmpeg:     ff,
		Extractor:  ex,
		Downloader: dl,
		Tracker:    tracker,
		Cleanup:    cm,
	}, nil
}

// Tools 返回健康检查中报告的外部工具
func (e *Engine) Tools() map[string]func() bool {
	return map[string]func() bool{
		"ffmpeg": e.FFmpeg.Available,
		"yt_dlp": e.YtDlp.Available,
	}
}

// Close 取消未结束的任务并等待它们退出
func (e *Engine) Close(ctx context.Context) error {
	return e.Tracker.Close(ctx)
}
