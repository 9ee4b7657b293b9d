// Package direct 处理直接指向媒体文件的 URL：HEAD 获取信息，GET 下载。
package direct

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/Slade66/media-fetcher/internal/client"
	"github.com/Slade66/media-fetcher/internal/fault"
	"github.com/Slade66/media-fetcher/internal/media"
	"github.com/Slade66/media-fetcher/internal/observer"
	"github.com/Slade66/media-fetcher/pkg/fileinfo"
)

var videoExts = map[string]bool{".mp4": true, ".webm": true, ".mkv": true, ".mov": true, ".m4v": true}

var audioExts = map[string]bool{".mp3": true, ".m4a": true, ".aac": true, ".ogg": true, ".opus": true, ".wav": true, ".flac": true}

// Backend 是直链下载后端
type Backend struct {
	clientFor   func(proxyURL string) (*http.Client, error)
	maxFileSize int64
}

// Option 定制 Backend
type Option func(*Backend)

// WithMaxFileSize 限制单个文件的字节数，超出时下载中止，0 表示不限制
func WithMaxFileSize(n int64) Option {
	return func(b *Backend) { b.maxFileSize = n }
}

// New 创建使用共享 http.Client 的后端
func New(opts ...Option) *Backend {
	b := &Backend{clientFor: client.Get}
	for _, o := range opts {
		o(b)
	}
	return b
}

// NewWithClient 创建固定使用 c 的后端，忽略代理设置
func NewWithClient(c *http.Client, opts ...Option) *Backend {
	b := New(opts...)
	b.clientFor = func(string) (*http.Client, error) { return c, nil }
	return b
}

func (b *Backend) Name() string { return "direct" }

// CanHandle 只接受路径以已知媒体扩展名结尾的 URL
func (b *Backend) CanHandle(rawURL string) bool {
	ext := extOf(rawURL)
	return videoExts[ext] || audioExts[ext]
}

func (b *Backend) Probe(ctx context.Context, rawURL string, cc media.ClientConfig) (*media.Metadata, error) {
	const op = "direct.probe"
	c, err := b.clientFor(cc.ProxyURL)
	if err != nil {
		return nil, fault.E(fault.KindValidation, op, err)
	}

	info, err := fileinfo.Get(ctx, c, rawURL, cc.UserAgent)
	if err != nil {
		return nil, classify(op, err)
	}
	if !acceptableContentType(info.ContentType) {
		return nil, fault.Errorf(fault.KindUnsupported, op, "不是媒体文件: %s", info.ContentType)
	}

	ext := extOf(rawURL)
	name := info.FileName
	if name == "" {
		name = path.Base(urlPath(rawURL))
	}
	format := media.FormatDescriptor{
		ID:       "direct",
		Ext:      strings.TrimPrefix(ext, "."),
		HasVideo: videoExts[ext],
		HasAudio: true,
	}
	if info.Size > 0 {
		format.Filesize = info.Size
	}
	return &media.Metadata{
		Title:   strings.TrimSuffix(name, filepath.Ext(name)),
		Formats: []media.FormatDescriptor{format},
	}, nil
}

func (b *Backend) Fetch(ctx context.Context, req media.FetchRequest) (media.FetchResult, error) {
	const op = "direct.fetch"
	c, err := b.clientFor(req.Client.ProxyURL)
	if err != nil {
		return media.FetchResult{}, fault.E(fault.KindValidation, op, err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, req.URL, nil)
	if err != nil {
		return media.FetchResult{}, fault.E(fault.KindValidation, op, err)
	}
	if req.Client.UserAgent != "" {
		httpReq.Header.Set("User-Agent", req.Client.UserAgent)
	}

	resp, err := c.Do(httpReq)
	if err != nil {
		return media.FetchResult{}, classify(op, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return media.FetchResult{}, classify(op, &fileinfo.StatusError{Code: resp.StatusCode, Status: resp.Status})
	}
	if b.maxFileSize > 0 && resp.ContentLength > b.maxFileSize {
		return media.FetchResult{}, b.tooLarge(op, resp.ContentLength)
	}

	dest := filepath.Join(req.WorkDir, "source"+extOf(req.URL))
	file, err := os.Create(dest)
	if err != nil {
		return media.FetchResult{}, fault.E(fault.KindStorage, op, err)
	}
	defer file.Close()

	var body io.Reader = observer.NewProgressReader(resp.Body, resp.ContentLength, req.Progress)
	if b.maxFileSize > 0 {
		body = io.LimitReader(body, b.maxFileSize+1)
	}
	n, err := io.Copy(file, body)
	if err == nil && b.maxFileSize > 0 && n > b.maxFileSize {
		file.Close()
		os.Remove(dest)
		return media.FetchResult{}, b.tooLarge(op, n)
	}
	if err != nil {
		os.Remove(dest)
		if ctx.Err() != nil {
			return media.FetchResult{}, ctx.Err()
		}
		return media.FetchResult{}, classify(op, err)
	}
	if err := file.Close(); err != nil {
		return media.FetchResult{}, fault.E(fault.KindStorage, op, err)
	}
	return media.FetchResult{Path: dest, Bytes: n}, nil
}

func (b *Backend) tooLarge(op string, size int64) error {
	return fault.Errorf(fault.KindStorage, op, "文件大小至少 %.2f MB，超过上限 %.2f MB",
		float64(size)/1024/1024, float64(b.maxFileSize)/1024/1024)
}

// classify 把 HTTP 状态码和网络错误映射为错误类别
func classify(op string, err error) error {
	var se *fileinfo.StatusError
	if errors.As(err, &se) {
		switch {
		case se.Code == http.StatusNotFound || se.Code == http.StatusGone:
			return fault.E(fault.KindSourceNotFound, op, err)
		case se.Code == http.StatusTooManyRequests || se.Code == http.StatusForbidden || se.Code >= 500:
			return fault.E(fault.KindBlocked, op, err)
		default:
			return fault.E(fault.KindUnsupported, op, err)
		}
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return fault.E(fault.KindTimeout, op, err)
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return err
	}
	return fault.E(fault.KindBlocked, op, fmt.Errorf("网络错误: %w", err))
}

func acceptableContentType(ct string) bool {
	ct = strings.ToLower(ct)
	return ct == "" ||
		strings.HasPrefix(ct, "video/") ||
		strings.HasPrefix(ct, "audio/") ||
		strings.HasPrefix(ct, "application/octet-stream")
}

func urlPath(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}
	return u.Path
}

func extOf(rawURL string) string {
	return strings.ToLower(path.Ext(urlPath(rawURL)))
}
