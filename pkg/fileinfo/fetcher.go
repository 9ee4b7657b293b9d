// pkg/fileinfo/fetcher.go
package fileinfo

import (
	"context"
	"fmt"
	"mime"
	"net/http"
	"strconv"
)

// Info 包含了远程文件的元信息
type Info struct {
	Size          int64 // 未知时为 -1
	AcceptsRanges bool
	ContentType   string
	FileName      string // 来自 Content-Disposition，可能为空
}

// StatusError 表示服务器返回了非 2xx 状态码
type StatusError struct {
	Code   int
	Status string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("服务器返回了非预期的状态码: %s", e.Status)
}

// Get 发送 HEAD 请求以获取远程文件的信息
func Get(ctx context.Context, client *http.Client, url, userAgent string) (*Info, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, url, nil)
	if err != nil {
		return nil, fmt.Errorf("无法创建请求: %w", err)
	}
	if userAgent != "" {
		req.Header.Set("User-Agent", userAgent)
	}

	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("无法获取文件信息: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &StatusError{Code: resp.StatusCode, Status: resp.Status}
	}

	info := &Info{
		Size:          -1,
		AcceptsRanges: resp.Header.Get("Accept-Ranges") == "bytes",
		ContentType:   resp.Header.Get("Content-Type"),
	}

	if contentLengthStr := resp.Header.Get("Content-Length"); contentLengthStr != "" {
		size, err := strconv.ParseInt(contentLengthStr, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("无效的文件大小: %w", err)
		}
		info.Size = size
	}

	if cd := resp.Header.Get("Content-Disposition"); cd != "" {
		if _, params, err := mime.ParseMediaType(cd); err == nil {
			info.FileName = params["filename"]
		}
	}
	return info, nil
}
