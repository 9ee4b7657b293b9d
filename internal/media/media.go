// Package media 定义了提取、下载和转码三个环节之间共享的数据结构和后端契约。
package media

import (
	"context"

	"github.com/Slade66/media-fetcher/pkg/task"
)

// FormatDescriptor 描述上游提供的一路可下载流。
type FormatDescriptor struct {
	ID           string  `json:"id"`
	Ext          string  `json:"ext"`
	Height       int     `json:"height,omitempty"`
	HasVideo     bool    `json:"has_video"`
	HasAudio     bool    `json:"has_audio"`
	AudioBitrate float64 `json:"audio_bitrate,omitempty"` // kbps
	TotalBitrate float64 `json:"total_bitrate,omitempty"` // kbps
	Filesize     int64   `json:"filesize,omitempty"`
}

// Metadata 是提取阶段的结果。Formats 按上游返回的顺序排列。
type Metadata struct {
	Title           string             `json:"title"`
	Uploader        string             `json:"uploader,omitempty"`
	DurationSeconds int                `json:"duration_seconds"`
	ThumbnailURL    string             `json:"thumbnail_url"`
	Formats         []FormatDescriptor `json:"formats"`
}

// Directive 是解析后的下载指令：取哪一路流、是否需要转码、转成什么。
type Directive struct {
	FormatType task.FormatType `json:"format_type"`
	// Selector 是交给提取后端的格式选择表达式。
	Selector string `json:"selector"`
	// FormatID 是在已知格式列表中选中的具体流，列表为空时留空。
	FormatID string `json:"format_id,omitempty"`
	// Container 是最终产物的扩展名（不带点），为空表示沿用下载得到的扩展名。
	Container string `json:"container,omitempty"`
	MaxHeight int    `json:"max_height,omitempty"`
	// Transcode 为 true 时，下载完成后必须经过转码步骤。
	Transcode        bool   `json:"transcode"`
	AudioOnly        bool   `json:"audio_only"`
	AudioCodec       string `json:"audio_codec,omitempty"`
	AudioBitrateKbps int    `json:"audio_bitrate_kbps,omitempty"`
	// Fallback 表示请求的质量不可用，已退回到最佳可用流。
	Fallback bool `json:"fallback"`
}

// ClientConfig 是反封锁策略为单次出站请求生成的客户端身份。
type ClientConfig struct {
	UserAgent string
	ProxyURL  string
	Attempt   int
}

// FetchRequest 描述一次下载调用。
type FetchRequest struct {
	URL       string
	Directive Directive
	Client    ClientConfig
	// WorkDir 是本任务独占的临时目录，后端只能在其中写文件。
	WorkDir string
	// Progress 接收 0-100 的进度百分比，可以为 nil。
	Progress func(percent float64)
}

// FetchResult 是下载后端写出的文件。
type FetchResult struct {
	Path  string
	Bytes int64
}

// Backend 是提取/下载后端的契约。
type Backend interface {
	Name() string
	CanHandle(rawURL string) bool
	Probe(ctx context.Context, rawURL string, cc ClientConfig) (*Metadata, error)
	Fetch(ctx context.Context, req FetchRequest) (FetchResult, error)
}

// Converter 是转码后端的契约，返回转码后文件的路径。
type Converter interface {
	Convert(ctx context.Context, srcPath string, d Directive) (string, error)
}
