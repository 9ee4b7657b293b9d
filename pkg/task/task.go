package task

import (
	"fmt"
	"net/url"
	"strings"
)

// FormatType 是客户端请求的输出类型。
type FormatType string

const (
	FormatVideo  FormatType = "video"
	FormatAudio  FormatType = "audio"
	FormatCustom FormatType = "custom"
)

// QualityBest 表示"可用的最佳质量"。
const QualityBest = "best"

// Request 定义了一个下载请求，它在进入引擎之前必须通过 Validate 校验。
type Request struct {
	// 要下载的媒体页面或媒体文件的完整 URL，只接受 http/https。
	URL string `json:"url"`

	// 输出类型，兼容旧客户端的 "mp4"/"mp3" 写法。
	FormatType FormatType `json:"format_type"`

	// 质量偏好。视频为 "best"/"720p"/"1080"，音频为 "best"/"192"/"320k"，
	// custom 类型时为原样透传给提取后端的格式选择器。
	Quality string `json:"quality"`
}

// ParseFormatType 将客户端传入的字符串规范化为 FormatType。
// 空字符串默认视为 video，与旧接口保持一致。
func ParseFormatType(raw string) (FormatType, bool) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "", "video", "mp4":
		return FormatVideo, true
	case "audio", "mp3":
		return FormatAudio, true
	case "custom":
		return FormatCustom, true
	default:
		return "", false
	}
}

// ValidateURL 检查 URL 是否是语法合法的 HTTP(S) 地址，返回去除首尾空白后的规范形式。
func ValidateURL(raw string) (string, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return "", fmt.Errorf("url 不能为空")
	}
	parsed, err := url.Parse(trimmed)
	if err != nil {
		return "", fmt.Errorf("无法解析 url: %w", err)
	}
	switch strings.ToLower(parsed.Scheme) {
	case "http", "https":
	default:
		return "", fmt.Errorf("不支持的 url 协议: %q", parsed.Scheme)
	}
	if parsed.Host == "" {
		return "", fmt.Errorf("url 缺少主机名")
	}
	return parsed.String(), nil
}

// Normalize 返回校验并规范化后的请求副本。
// 格式类型无法识别时返回的错误与 URL 错误区分开，调用方据此映射不同的错误类别。
func (r Request) Normalize() (Request, error) {
	u, err := ValidateURL(r.URL)
	if err != nil {
		return Request{}, &URLError{Err: err}
	}
	ft, ok := ParseFormatType(string(r.FormatType))
	if !ok {
		return Request{}, &FormatError{FormatType: string(r.FormatType)}
	}
	quality := strings.TrimSpace(r.Quality)
	if quality == "" {
		quality = QualityBest
	}
	return Request{URL: u, FormatType: ft, Quality: quality}, nil
}

// URLError 表示请求中的 URL 非法。
type URLError struct {
	Err error
}

func (e *URLError) Error() string { return "无效的 url: " + e.Err.Error() }

func (e *URLError) Unwrap() error { return e.Err }

// FormatError 表示无法识别的 format_type。
type FormatError struct {
	FormatType string
}

func (e *FormatError) Error() string {
	return fmt.Sprintf("不支持的 format_type: %q", e.FormatType)
}

// DefaultTitle 是标题清洗后为空时使用的文件名。
const DefaultTitle = "video"

const maxTitleLen = 100

// SanitizeTitle 把媒体标题转换成可以放进 Content-Disposition 的文件名主干：
// 去掉 <>:"/\|?* 和控制字符，空白替换为下划线，最长 100 个字符。
func SanitizeTitle(title string) string {
	var b strings.Builder
	n := 0
	for _, r := range strings.TrimSpace(title) {
		if n >= maxTitleLen {
			break
		}
		switch {
		case strings.ContainsRune(`<>:"/\|?*`, r), r < 0x20, r == 0x7f:
			continue
		case r == ' ' || r == '\t':
			b.WriteRune('_')
		default:
			b.WriteRune(r)
		}
		n++
	}
	if b.Len() == 0 {
		return DefaultTitle
	}
	return b.String()
}
