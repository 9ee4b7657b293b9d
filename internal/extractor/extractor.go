// Package extractor 查询提取后端获取标题、时长、缩略图和可用格式。
package extractor

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/Slade66/media-fetcher/internal/antiblock"
	"github.com/Slade66/media-fetcher/internal/fault"
	"github.com/Slade66/media-fetcher/internal/media"
	"github.com/Slade66/media-fetcher/pkg/task"
)

// DefaultTimeout 是一次提取的总超时，包含所有重试
const DefaultTimeout = 300 * time.Second

// Extractor 除日志外不修改任何共享状态，可以并发使用。
type Extractor struct {
	backend media.Backend
	policy  *antiblock.Policy
	timeout time.Duration
	logger  *zap.Logger
}

// New 创建提取器，timeout<=0 时使用 DefaultTimeout
func New(backend media.Backend, policy *antiblock.Policy, timeout time.Duration, logger *zap.Logger) *Extractor {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Extractor{backend: backend, policy: policy, timeout: timeout, logger: logger}
}

// Probe 返回 rawURL 的元数据。失败时错误类别为 validation、unsupported、
// blocked、source_not_found 或 timeout 之一。
func (e *Extractor) Probe(ctx context.Context, rawURL string) (*media.Metadata, error) {
	u, err := task.ValidateURL(rawURL)
	if err != nil {
		return nil, fault.E(fault.KindValidation, "probe", err)
	}

	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	start := time.Now()
	var md *media.Metadata
	err = e.policy.Do(ctx, "probe", func(ctx context.Context, cc media.ClientConfig) error {
		m, err := e.backend.Probe(ctx, u, cc)
		if err != nil {
			return err
		}
		md = m
		return nil
	})
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) && !fault.Is(err, fault.KindTimeout) {
			err = fault.E(fault.KindTimeout, "probe", err)
		}
		e.logger.Warn("❌ 元数据提取失败",
			zap.String("url", u),
			zap.String("kind", string(fault.KindOf(err))),
			zap.Duration("duration", time.Since(start).Round(time.Millisecond)),
			zap.Error(err))
		return nil, err
	}

	e.logger.Info("🔎 元数据提取完成",
		zap.String("url", u),
		zap.String("title", md.Title),
		zap.Int("formats", len(md.Formats)),
		zap.Duration("duration", time.Since(start).Round(time.Millisecond)))
	return md, nil
}
