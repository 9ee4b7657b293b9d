// Package cleanup 周期性地回收存储根目录：删除过期产物，
// 在总占用超过上限时按从旧到新的顺序继续删除，并淘汰注册表中已结束的旧任务。
package cleanup

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/Slade66/media-fetcher/internal/storage"
)

const (
	DefaultInterval = time.Hour
	DefaultExpiry   = 24 * time.Hour
)

// Store 是清理器需要的存储操作
type Store interface {
	List() ([]storage.Artifact, error)
	Remove(name string) error
}

// Registry 是清理器需要的任务注册表操作
type Registry interface {
	// InUse 报告文件是否属于一个尚未结束的任务
	InUse(name string) bool
	// Evict 删除 before 之前结束的任务
	Evict(before time.Time) int
}

// Options 是清理器参数
type Options struct {
	Interval time.Duration
	Expiry   time.Duration
	// MaxBytes 是存储根目录的总字节上限，<=0 表示不限制
	MaxBytes int64
	// Retention 是已结束任务在注册表中保留的时长，<=0 表示不淘汰
	Retention time.Duration
	Now       func() time.Time
	Logger    *zap.Logger
}

// Report 是一次清理的结果
type Report struct {
	Expired     []string `json:"expired"`
	OverCeiling []string `json:"over_ceiling"`
	Partials    []string `json:"partials"`
	Skipped     []string `json:"skipped"`
	FreedBytes  int64    `json:"freed_bytes"`
	StoredBytes int64    `json:"stored_bytes"`
	EvictedJobs int      `json:"evicted_jobs"`
}

// Manager 是产物生命周期管理器
type Manager struct {
	store    Store
	registry Registry
	opts     Options
	logger   *zap.Logger
}

// New 创建清理器。registry 为 nil 时不做占用检查。
func New(store Store, registry Registry, opts Options) *Manager {
	if opts.Interval <= 0 {
		opts.Interval = DefaultInterval
	}
	if opts.Expiry <= 0 {
		opts.Expiry = DefaultExpiry
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	return &Manager{store: store, registry: registry, opts: opts, logger: opts.Logger}
}

// Sweep 执行一轮清理。
// 先删除年龄超过 Expiry 的产物，再从最旧的开始删除，直到总占用不超过 MaxBytes。
// 尚未结束的任务占用的文件永远不删；提交中断遗留的临时文件只在过期后删除。
// 删除是尽力而为的，单个文件删除失败只记录日志。
func (m *Manager) Sweep(ctx context.Context) (Report, error) {
	var rep Report
	now := m.opts.Now()

	if m.registry != nil && m.opts.Retention > 0 {
		rep.EvictedJobs = m.registry.Evict(now.Add(-m.opts.Retention))
	}

	artifacts, err := m.store.List()
	if err != nil {
		return rep, err
	}

	var kept []storage.Artifact
	for _, a := range artifacts {
		if err := ctx.Err(); err != nil {
			return rep, err
		}
		expired := now.Sub(a.CreatedAt) > m.opts.Expiry
		switch {
		case a.Partial:
			if expired && m.remove(a) {
				rep.Partials = append(rep.Partials, a.Name)
			}
		case m.inUse(a.Name):
			rep.Skipped = append(rep.Skipped, a.Name)
			rep.StoredBytes += a.SizeBytes
		case expired:
			if m.remove(a) {
				rep.Expired = append(rep.Expired, a.Name)
				rep.FreedBytes += a.SizeBytes
			} else {
				rep.StoredBytes += a.SizeBytes
			}
		default:
			kept = append(kept, a)
			rep.StoredBytes += a.SizeBytes
		}
	}

	// kept 已按创建时间从旧到新排列
	if m.opts.MaxBytes > 0 {
		for _, a := range kept {
			if rep.StoredBytes <= m.opts.MaxBytes {
				break
			}
			if err := ctx.Err(); err != nil {
				return rep, err
			}
			// 两次检查之间任务可能刚刚开始写入
			if m.inUse(a.Name) {
				rep.Skipped = append(rep.Skipped, a.Name)
				continue
			}
			if m.remove(a) {
				rep.OverCeiling = append(rep.OverCeiling, a.Name)
				rep.FreedBytes += a.SizeBytes
				rep.StoredBytes -= a.SizeBytes
			}
		}
	}

	if n := len(rep.Expired) + len(rep.OverCeiling) + len(rep.Partials); n > 0 || rep.EvictedJobs > 0 {
		m.logger.Info("🧹 清理完成",
			zap.Int("expired", len(rep.Expired)),
			zap.Int("over_ceiling", len(rep.OverCeiling)),
			zap.Int("partials", len(rep.Partials)),
			zap.Int("skipped", len(rep.Skipped)),
			zap.Int64("freed_bytes", rep.FreedBytes),
			zap.Int64("stored_bytes", rep.StoredBytes),
			zap.Int("evicted_jobs", rep.EvictedJobs))
	}
	return rep, nil
}

// Run 立即清理一次，然后按 Interval 周期清理，直到 ctx 结束
func (m *Manager) Run(ctx context.Context) {
	m.logger.Info("▶️ 清理任务已启动",
		zap.Duration("interval", m.opts.Interval),
		zap.Duration("expiry", m.opts.Expiry),
		zap.Int64("max_bytes", m.opts.MaxBytes))

	ticker := time.NewTicker(m.opts.Interval)
	defer ticker.Stop()
	for {
		if _, err := m.Sweep(ctx); err != nil && !errors.Is(err, context.Canceled) {
			m.logger.Warn("⚠️ 清理失败", zap.Error(err))
		}
		select {
		case <-ctx.Done():
			m.logger.Info("⏹️ 清理任务已停止")
			return
		case <-ticker.C:
		}
	}
}

func (m *Manager) inUse(name string) bool {
	return m.registry != nil && m.registry.InUse(name)
}

func (m *Manager) remove(a storage.Artifact) bool {
	if err := m.store.Remove(a.Name); err != nil {
		m.logger.Warn("⚠️ 删除文件失败", zap.String("file", a.Name), zap.Error(err))
		return false
	}
	return true
}
