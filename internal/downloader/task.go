package downloader

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"

	"github.com/Slade66/media-fetcher/internal/fault"
	"github.com/Slade66/media-fetcher/internal/jobs"
	"github.com/Slade66/media-fetcher/internal/media"
	"github.com/Slade66/media-fetcher/internal/storage"
)

// fetch 在反封锁策略的包装下调用后端下载，每次尝试前清空工作目录
func (d *Downloader) fetch(ctx context.Context, job jobs.Job, dir media.Directive, workDir string) (media.FetchResult, error) {
	var res media.FetchResult
	err := d.policy.Do(ctx, "fetch", func(ctx context.Context, cc media.ClientConfig) error {
		if cc.Attempt > 1 {
			if err := resetDir(workDir); err != nil {
				return fault.E(fault.KindStorage, "fetch", err)
			}
		}
		r, err := d.backend.Fetch(ctx, media.FetchRequest{
			URL:       job.Request.URL,
			Directive: dir,
			Client:    cc,
			WorkDir:   workDir,
			Progress:  func(p float64) { d.Notify(job.ID, p) },
		})
		if err != nil {
			return err
		}
		res = r
		return nil
	})
	if err != nil {
		return media.FetchResult{}, err
	}
	if res.Path == "" {
		return media.FetchResult{}, fault.Errorf(fault.KindInternal, "fetch", "后端没有返回下载文件")
	}
	return res, nil
}

// convert 调用转码后端。转码失败从不重试。
func (d *Downloader) convert(ctx context.Context, src string, dir media.Directive) (string, error) {
	if d.converter == nil {
		return "", fault.Errorf(fault.KindConversion, "transcode", "未配置转码后端")
	}
	out, err := d.converter.Convert(ctx, src, dir)
	if err != nil {
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		if fault.KindOf(err) == fault.KindInternal {
			err = fault.E(fault.KindConversion, "transcode", err)
		}
		return "", err
	}
	return out, nil
}

// commit 检查大小上限后把文件提交为 final_<jobid><ext>
func (d *Downloader) commit(ctx context.Context, h *jobs.Handle, jobID, path string) (storage.Artifact, error) {
	const op = "commit"
	info, err := os.Stat(path)
	if err != nil {
		return storage.Artifact{}, fault.E(fault.KindStorage, op, err)
	}
	if d.maxFileSize > 0 && info.Size() > d.maxFileSize {
		return storage.Artifact{}, fault.Errorf(fault.KindStorage, op,
			"文件大小 %.2f MB 超过上限 %.2f MB", float64(info.Size())/1024/1024, float64(d.maxFileSize)/1024/1024)
	}
	if err := ctx.Err(); err != nil {
		return storage.Artifact{}, err
	}

	name := ArtifactPrefix + jobID + strings.ToLower(filepath.Ext(path))
	h.Reserve(name)
	return d.store.Commit(path, name)
}

func (d *Downloader) archive(ctx context.Context, log *zap.Logger, art storage.Artifact) {
	if d.archiver == nil {
		return
	}
	if err := d.archiver.Archive(context.WithoutCancel(ctx), art.Name, art.Path); err != nil {
		log.Warn("⚠️ 归档到对象存储失败", zap.String("file", art.Name), zap.Error(err))
		return
	}
	log.Info("☁️ 已归档到对象存储", zap.String("file", art.Name))
}

// needsTranscode 判断下载结果是否还要经过转码。
// 后端可能已经合并成目标容器，扩展名一致时视频不再重复编码；
// 音频指令要求转码时总是执行，以保证码率。
func needsTranscode(dir media.Directive, path string) bool {
	if dir.Container == "" {
		return false
	}
	ext := strings.TrimPrefix(strings.ToLower(filepath.Ext(path)), ".")
	if ext != dir.Container {
		return true
	}
	return dir.Transcode && dir.AudioOnly
}

func resetDir(dir string) error {
	if err := os.RemoveAll(dir); err != nil {
		return fmt.Errorf("无法清空工作目录: %w", err)
	}
	return os.MkdirAll(dir, 0o755)
}
