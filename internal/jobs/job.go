package jobs

import (
	"time"

	"github.com/Slade66/media-fetcher/internal/fault"
	"github.com/Slade66/media-fetcher/internal/media"
	"github.com/Slade66/media-fetcher/pkg/task"
)

// State 是任务状态机中的一个状态：queued → running → {succeeded | failed}
type State string

const (
	StateQueued    State = "queued"
	StateRunning   State = "running"
	StateSucceeded State = "succeeded"
	StateFailed    State = "failed"
)

// Terminal 判断状态是否为终态，终态之后不再有任何迁移
func (s State) Terminal() bool {
	return s == StateSucceeded || s == StateFailed
}

// ErrorInfo 是失败任务对外展示的错误
type ErrorInfo struct {
	Kind    fault.Kind `json:"kind"`
	Message string     `json:"message"`
}

// Job 是任务的只读快照
type Job struct {
	ID          string           `json:"id"`
	State       State            `json:"state"`
	Request     task.Request     `json:"request"`
	Title       string           `json:"title,omitempty"`
	Directive   *media.Directive `json:"directive,omitempty"`
	Progress    float64          `json:"progress"`
	ResultPath  string           `json:"result_path,omitempty"`
	FileName    string           `json:"file_name,omitempty"`
	SizeBytes   int64            `json:"size_bytes,omitempty"`
	DownloadURL string           `json:"download_url,omitempty"`
	Error       *ErrorInfo       `json:"error,omitempty"`
	CreatedAt   time.Time        `json:"created_at"`
	StartedAt   *time.Time       `json:"started_at,omitempty"`
	FinishedAt  *time.Time       `json:"finished_at,omitempty"`
}

// Result 是执行器成功后交给 Tracker 的产物信息
type Result struct {
	Path      string
	FileName  string
	SizeBytes int64
}

// Stats 是注册表的计数
type Stats struct {
	Total         int `json:"total"`
	Queued        int `json:"queued"`
	Running       int `json:"running"`
	Succeeded     int `json:"succeeded"`
	Failed        int `json:"failed"`
	MaxConcurrent int `json:"max_concurrent"`
}

func (j Job) clone() Job {
	if j.Directive != nil {
		d := *j.Directive
		j.Directive = &d
	}
	if j.Error != nil {
		e := *j.Error
		j.Error = &e
	}
	if j.StartedAt != nil {
		t := *j.StartedAt
		j.StartedAt = &t
	}
	if j.FinishedAt != nil {
		t := *j.FinishedAt
		j.FinishedAt = &t
	}
	return j
}
