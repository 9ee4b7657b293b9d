// Package status 把任务快照镜像到 Redis，方便外部系统查看任务进度。
// 镜像是只写的旁路，注册表本身始终以内存为准。
package status

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/Slade66/media-fetcher/internal/jobs"
)

// KeyPrefix 是任务状态在 Redis 中的键名前缀
const KeyPrefix = "job:status:"

// StatusInfo 定义了任务状态的详细信息，用于写入 Redis Hash
type StatusInfo struct {
	ID          string `json:"id"`
	URL         string `json:"url"`
	FormatType  string `json:"format_type"`
	Quality     string `json:"quality"`
	State       string `json:"state"`
	Title       string `json:"title,omitempty"`
	Progress    string `json:"progress"`
	FileName    string `json:"file_name,omitempty"`
	SizeBytes   string `json:"size_bytes,omitempty"`
	DownloadURL string `json:"download_url,omitempty"`
	ErrorKind   string `json:"error_kind,omitempty"`
	Error       string `json:"error,omitempty"`
	SubmitTime  string `json:"submit_time"`
	StartTime   string `json:"start_time,omitempty"`
	FinishTime  string `json:"finish_time,omitempty"`
}

// Manager 结构体封装了与Redis的交互，实现了 jobs.Mirror
type Manager struct {
	rdb *redis.Client
	ttl time.Duration
}

// NewManager 创建一个新的状态管理器实例，ttl 是每个键的过期时间，<=0 表示不过期
func NewManager(rdb *redis.Client, ttl time.Duration) *Manager {
	return &Manager{rdb: rdb, ttl: ttl}
}

// Key 返回一个任务状态在Redis中的键名
func Key(jobID string) string {
	return KeyPrefix + jobID
}

// Publish 用一个 pipeline 写入快照并刷新过期时间
func (m *Manager) Publish(ctx context.Context, job jobs.Job) error {
	statusMap, err := structToMap(FromJob(job))
	if err != nil {
		return err
	}
	key := Key(job.ID)
	_, err = m.rdb.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		// HSet 会一次性设置多个字段
		pipe.HSet(ctx, key, statusMap)
		if m.ttl > 0 {
			pipe.Expire(ctx, key, m.ttl)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("写入任务状态 %s 失败: %w", key, err)
	}
	return nil
}

// FromJob 把任务快照展开成 Hash 字段
func FromJob(job jobs.Job) StatusInfo {
	s := StatusInfo{
		ID:          job.ID,
		URL:         job.Request.URL,
		FormatType:  string(job.Request.FormatType),
		Quality:     job.Request.Quality,
		State:       string(job.State),
		Title:       job.Title,
		Progress:    strconv.FormatFloat(job.Progress, 'f', 2, 64),
		FileName:    job.FileName,
		DownloadURL: job.DownloadURL,
		SubmitTime:  job.CreatedAt.UTC().Format(time.RFC3339),
	}
	if job.SizeBytes > 0 {
		s.SizeBytes = strconv.FormatInt(job.SizeBytes, 10)
	}
	if job.Error != nil {
		s.ErrorKind = string(job.Error.Kind)
		s.Error = job.Error.Message
	}
	if job.StartedAt != nil {
		s.StartTime = job.StartedAt.UTC().Format(time.RFC3339)
	}
	if job.FinishedAt != nil {
		s.FinishTime = job.FinishedAt.UTC().Format(time.RFC3339)
	}
	return s
}

// structToMap 是一个辅助函数，用于将结构体转换为 map
func structToMap(s StatusInfo) (map[string]interface{}, error) {
	// 使用 json 标签来控制键名
	data, err := json.Marshal(s)
	if err != nil {
		return nil, err
	}
	var resultMap map[string]interface{}
	if err := json.Unmarshal(data, &resultMap); err != nil {
		return nil, err
	}
	// 删除空的字段，避免在 Redis 中存储空值
	for k, v := range resultMap {
		if vs, ok := v.(string); ok && vs == "" {
			delete(resultMap, k)
		}
	}
	return resultMap, nil
}
