// internal/observer/reader.go
package observer

import "io"

// ProgressReader 用于包装 io.Reader 来跟踪进度
type ProgressReader struct {
	io.Reader
	// Total 为内容总长度，未知时为 -1，此时不报告百分比
	Total      int64
	read       int64
	onProgress func(percent float64)
}

// NewProgressReader 创建 ProgressReader，onProgress 可以为 nil
func NewProgressReader(r io.Reader, total int64, onProgress func(percent float64)) *ProgressReader {
	return &ProgressReader{Reader: r, Total: total, onProgress: onProgress}
}

// Read 实现 io.Reader 接口
func (pr *ProgressReader) Read(p []byte) (n int, err error) {
	n, err = pr.Reader.Read(p)
	if n > 0 {
		pr.read += int64(n)
		if pr.onProgress != nil && pr.Total > 0 {
			pr.onProgress(float64(pr.read) / float64(pr.Total) * 100)
		}
	}
	return
}

// BytesRead 返回已读取的字节数
func (pr *ProgressReader) BytesRead() int64 { return pr.read }
