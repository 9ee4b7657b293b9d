// Package ytdlp 通过 yt-dlp 命令行实现提取和下载。
package ytdlp

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"

	"github.com/Slade66/media-fetcher/internal/fault"
	"github.com/Slade66/media-fetcher/internal/media"
)

var progressRegex = regexp.MustCompile(`\[download\]\s+([\d.]+)%`)

// Runner 执行外部命令，测试中用假实现替换
type Runner func(ctx context.Context, name string, args []string, stdout, stderr io.Writer) error

func execRunner(ctx context.Context, name string, args []string, stdout, stderr io.Writer) error {
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Stdout = stdout
	cmd.Stderr = stderr
	return cmd.Run()
}

// Options 配置 yt-dlp 后端
type Options struct {
	Binary      string
	CookiesFile string
	// MaxFileSize 为单个文件的字节上限，0 表示不限制
	MaxFileSize int64
	Runner      Runner
}

// Backend 是 yt-dlp 后端，能处理任意 URL，应放在后端链的最后
type Backend struct {
	bin         string
	cookiesFile string
	maxFileSize int64
	run         Runner
}

// New 创建 yt-dlp 后端
func New(opts Options) *Backend {
	b := &Backend{
		bin:         opts.Binary,
		cookiesFile: opts.CookiesFile,
		maxFileSize: opts.MaxFileSize,
		run:         opts.Runner,
	}
	if b.bin == "" {
		b.bin = "yt-dlp"
	}
	if b.run == nil {
		b.run = execRunner
	}
	return b
}

func (b *Backend) Name() string { return "yt-dlp" }

func (b *Backend) CanHandle(string) bool { return true }

// Available 报告 yt-dlp 可执行文件是否存在
func (b *Backend) Available() bool {
	_, err := exec.LookPath(b.bin)
	return err == nil
}

type probeFormat struct {
	FormatID       string  `json:"format_id"`
	Ext            string  `json:"ext"`
	Height         int     `json:"height"`
	VCodec         string  `json:"vcodec"`
	ACodec         string  `json:"acodec"`
	ABR            float64 `json:"abr"`
	TBR            float64 `json:"tbr"`
	Filesize       float64 `json:"filesize"`
	FilesizeApprox float64 `json:"filesize_approx"`
}

type probeOutput struct {
	Title     string        `json:"title"`
	Uploader  string        `json:"uploader"`
	Duration  float64       `json:"duration"`
	Thumbnail string        `json:"thumbnail"`
	Formats   []probeFormat `json:"formats"`
}

func (b *Backend) Probe(ctx context.Context, rawURL string, cc media.ClientConfig) (*media.Metadata, error) {
	const op = "yt-dlp.probe"
	args := append([]string{"-J"}, b.commonArgs(cc)...)
	args = append(args, "--", rawURL)

	var stdout, stderr bytes.Buffer
	if err := b.run(ctx, b.bin, args, &stdout, &stderr); err != nil {
		return nil, classify(ctx, op, err, stderr.String())
	}

	var out probeOutput
	if err := json.Unmarshal(stdout.Bytes(), &out); err != nil {
		return nil, fault.Errorf(fault.KindUnsupported, op, "无法解析 yt-dlp 输出: %v", err)
	}

	md := &media.Metadata{
		Title:           out.Title,
		Uploader:        out.Uploader,
		DurationSeconds: int(out.Duration),
		ThumbnailURL:    out.Thumbnail,
		Formats:         make([]media.FormatDescriptor, 0, len(out.Formats)),
	}
	if md.Title == "" {
		md.Title = "video"
	}
	for _, f := range out.Formats {
		hasVideo := f.VCodec != "" && f.VCodec != "none"
		hasAudio := f.ACodec != "" && f.ACodec != "none"
		if !hasVideo && !hasAudio {
			continue
		}
		size := f.Filesize
		if size == 0 {
			size = f.FilesizeApprox
		}
		md.Formats = append(md.Formats, media.FormatDescriptor{
			ID:           f.FormatID,
			Ext:          f.Ext,
			Height:       f.Height,
			HasVideo:     hasVideo,
			HasAudio:     hasAudio,
			AudioBitrate: f.ABR,
			TotalBitrate: f.TBR,
			Filesize:     int64(size),
		})
	}
	return md, nil
}

func (b *Backend) Fetch(ctx context.Context, req media.FetchRequest) (media.FetchResult, error) {
	const op = "yt-dlp.fetch"
	args := b.fetchArgs(req)

	var stdout bytes.Buffer
	var stderr bytes.Buffer
	lw := &lineWriter{fn: func(line string) {
		stdout.WriteString(line)
		stdout.WriteByte('\n')
		if req.Progress == nil {
			return
		}
		if m := progressRegex.FindStringSubmatch(line); len(m) == 2 {
			if p, err := strconv.ParseFloat(m[1], 64); err == nil {
				req.Progress(p)
			}
		}
	}}
	err := b.run(ctx, b.bin, args, lw, &stderr)
	lw.Flush()
	if err != nil {
		return media.FetchResult{}, classify(ctx, op, err, stderr.String())
	}

	path, err := findOutput(req.WorkDir)
	if err != nil {
		if strings.Contains(stdout.String(), "larger than max-filesize") {
			return media.FetchResult{}, fault.Errorf(fault.KindStorage, op, "文件超过大小上限 %d 字节", b.maxFileSize)
		}
		return media.FetchResult{}, fault.E(fault.KindUnsupported, op, err)
	}
	info, err := os.Stat(path)
	if err != nil {
		return media.FetchResult{}, fault.E(fault.KindStorage, op, err)
	}
	return media.FetchResult{Path: path, Bytes: info.Size()}, nil
}

func (b *Backend) commonArgs(cc media.ClientConfig) []string {
	args := []string{
		"--no-playlist",
		"--no-warnings",
		"--no-color",
		"--no-check-certificates",
		"--extractor-args", "youtube:player_client=android,web",
	}
	if cc.UserAgent != "" {
		args = append(args, "--user-agent", cc.UserAgent)
	}
	if cc.ProxyURL != "" {
		args = append(args, "--proxy", cc.ProxyURL)
	}
	if b.cookiesFile != "" {
		if _, err := os.Stat(b.cookiesFile); err == nil {
			args = append(args, "--cookies", b.cookiesFile)
		}
	}
	return args
}

func (b *Backend) fetchArgs(req media.FetchRequest) []string {
	selector := req.Directive.Selector
	if selector == "" {
		selector = "best"
	}
	args := []string{
		"-f", selector,
		"-o", filepath.Join(req.WorkDir, "source.%(ext)s"),
		"--newline",
		"--progress",
	}
	args = append(args, b.commonArgs(req.Client)...)
	if !req.Directive.AudioOnly && req.Directive.Container == "mp4" {
		args = append(args, "--merge-output-format", "mp4")
	}
	if b.maxFileSize > 0 {
		args = append(args, "--max-filesize", strconv.FormatInt(b.maxFileSize, 10))
	}
	return append(args, "--", req.URL)
}

// findOutput 在工作目录中找到 yt-dlp 写出的媒体文件，忽略未完成的分片和缩略图
func findOutput(dir string) (string, error) {
	files, err := filepath.Glob(filepath.Join(dir, "source.*"))
	if err != nil {
		return "", err
	}
	for _, f := range files {
		switch strings.ToLower(filepath.Ext(f)) {
		case ".part", ".ytdl", ".temp", ".jpg", ".jpeg", ".png", ".webp":
			continue
		}
		return f, nil
	}
	return "", fmt.Errorf("yt-dlp 执行成功但在 %s 中没有找到文件", dir)
}

// classify 根据 yt-dlp 的 stderr 判断错误类别
func classify(ctx context.Context, op string, err error, stderr string) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return ctxErr
	}
	if errors.Is(err, exec.ErrNotFound) {
		return fault.E(fault.KindInternal, op, fmt.Errorf("yt-dlp 未安装或不在 PATH 中: %w", err))
	}

	msg := strings.TrimSpace(stderr)
	wrapped := fmt.Errorf("yt-dlp 执行失败: %w: %s", err, msg)
	lower := strings.ToLower(msg)
	switch {
	case strings.Contains(lower, "http error 429"),
		strings.Contains(lower, "too many requests"),
		strings.Contains(lower, "sign in to confirm"),
		strings.Contains(lower, "http error 403"),
		strings.Contains(lower, "http error 5"):
		return fault.E(fault.KindBlocked, op, wrapped)
	case strings.Contains(lower, "timed out"),
		strings.Contains(lower, "timeout"):
		return fault.E(fault.KindTimeout, op, wrapped)
	case strings.Contains(lower, "unsupported url"):
		return fault.E(fault.KindUnsupported, op, wrapped)
	case strings.Contains(lower, "http error 404"),
		strings.Contains(lower, "video unavailable"),
		strings.Contains(lower, "private video"),
		strings.Contains(lower, "does not exist"):
		return fault.E(fault.KindSourceNotFound, op, wrapped)
	default:
		return fault.E(fault.KindUnsupported, op, wrapped)
	}
}

// lineWriter 把写入的字节按行回调
type lineWriter struct {
	buf []byte
	fn  func(line string)
}

func (w *lineWriter) Write(p []byte) (int, error) {
	w.buf = append(w.buf, p...)
	for {
		i := bytes.IndexByte(w.buf, '\n')
		if i < 0 {
			break
		}
		w.fn(strings.TrimRight(string(w.buf[:i]), "\r"))
		w.buf = w.buf[i+1:]
	}
	return len(p), nil
}

// Flush 处理最后一行没有换行符的输出
func (w *lineWriter) Flush() {
	if len(w.buf) > 0 {
		w.fn(string(w.buf))
		w.buf = nil
	}
}
