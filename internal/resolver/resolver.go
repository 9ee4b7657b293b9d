// Package resolver 把客户端的 (format_type, quality) 映射为具体的下载指令。
package resolver

import (
	"math"
	"sort"
	"strconv"
	"strings"

	"github.com/Slade66/media-fetcher/internal/fault"
	"github.com/Slade66/media-fetcher/internal/media"
	"github.com/Slade66/media-fetcher/pkg/task"
)

const (
	// DefaultAudioBitrate 与旧服务的 MP3 输出保持一致
	DefaultAudioBitrate = 192
	minAudioBitrate     = 32
	maxAudioBitrate     = 320

	videoContainer = "mp4"
	audioContainer = "mp3"
	audioCodec     = "libmp3lame"
)

// Resolve 是纯函数。质量偏好无法满足时退回最佳可用流并设置 Fallback，
// 只有 formatType 无法识别时才返回错误。
func Resolve(formatType, quality string, available []media.FormatDescriptor) (media.Directive, error) {
	ft, ok := task.ParseFormatType(formatType)
	if !ok {
		return media.Directive{}, fault.Errorf(fault.KindUnsupportedFormat, "resolve", "不支持的 format_type: %q", formatType)
	}
	quality = strings.ToLower(strings.TrimSpace(quality))

	switch ft {
	case task.FormatAudio:
		return resolveAudio(quality, available), nil
	case task.FormatCustom:
		return resolveCustom(quality, available), nil
	default:
		return resolveVideo(quality, available), nil
	}
}

func resolveVideo(quality string, available []media.FormatDescriptor) media.Directive {
	height, ok := ParseHeight(quality)
	d := media.Directive{
		FormatType: task.FormatVideo,
		Container:  videoContainer,
		MaxHeight:  height,
		Fallback:   !ok,
		Selector:   "bestvideo+bestaudio/best",
	}
	if height > 0 {
		d.Selector = "bestvideo[height<=" + strconv.Itoa(height) + "]+bestaudio/best[height<=" + strconv.Itoa(height) + "]/best"
	}
	if len(available) == 0 {
		return d
	}

	videos := filter(available, func(f media.FormatDescriptor) bool { return f.HasVideo })
	sortVideo(videos)

	var chosen *media.FormatDescriptor
	for i := range videos {
		if height == 0 || videos[i].Height <= height {
			chosen = &videos[i]
			break
		}
	}
	if chosen == nil {
		d.Fallback = true
		if len(videos) > 0 {
			chosen = &videos[0]
		} else {
			all := append([]media.FormatDescriptor(nil), available...)
			sortVideo(all)
			chosen = &all[0]
		}
	}
	d.FormatID = chosen.ID
	d.Transcode = chosen.Ext != "" && chosen.Ext != videoContainer
	return d
}

func resolveAudio(quality string, available []media.FormatDescriptor) media.Directive {
	bitrate, ok := ParseBitrate(quality)
	d := media.Directive{
		FormatType:       task.FormatAudio,
		Selector:         "bestaudio/best",
		Container:        audioContainer,
		AudioOnly:        true,
		AudioCodec:       audioCodec,
		AudioBitrateKbps: bitrate,
		Transcode:        true,
		Fallback:         !ok,
	}
	if len(available) == 0 {
		return d
	}

	audioOnly := filter(available, func(f media.FormatDescriptor) bool { return f.HasAudio && !f.HasVideo })
	if len(audioOnly) > 0 {
		sortAudio(audioOnly)
		src := audioOnly[0]
		d.FormatID = src.ID
		d.Transcode = src.Ext != audioContainer
		switch {
		case d.Transcode:
		case isBest(quality):
			// 已经是 mp3，best 保留原始码率
			if src.AudioBitrate > 0 {
				d.AudioBitrateKbps = int(math.Round(src.AudioBitrate))
			}
		default:
			d.Transcode = int(math.Round(src.AudioBitrate)) != bitrate
		}
		return d
	}

	// 没有纯音频流时，从带音频的视频流甚至纯视频流中抽取音频
	d.Fallback = true
	muxed := filter(available, func(f media.FormatDescriptor) bool { return f.HasAudio })
	if len(muxed) > 0 {
		sortAudio(muxed)
		d.FormatID = muxed[0].ID
		return d
	}
	all := append([]media.FormatDescriptor(nil), available...)
	sortVideo(all)
	d.FormatID = all[0].ID
	return d
}

func resolveCustom(quality string, available []media.FormatDescriptor) media.Directive {
	if quality == "" {
		quality = task.QualityBest
	}
	d := media.Directive{
		FormatType: task.FormatCustom,
		Selector:   quality,
	}
	for _, f := range available {
		if strings.EqualFold(f.ID, quality) {
			d.FormatID = f.ID
			d.AudioOnly = f.HasAudio && !f.HasVideo
			break
		}
	}
	return d
}

// ParseHeight 解析 "720p"、"1080"、"4k" 这类写法，best 返回 0。
// 第二个返回值为 false 表示无法解析，调用方应按 best 处理。
func ParseHeight(quality string) (int, bool) {
	q := strings.ToLower(strings.TrimSpace(quality))
	switch q {
	case "", task.QualityBest, "highest", "max":
		return 0, true
	case "4k", "uhd":
		return 2160, true
	case "2k":
		return 1440, true
	case "hd":
		return 720, true
	}
	n, err := strconv.Atoi(strings.TrimSuffix(q, "p"))
	if err != nil || n <= 0 {
		return 0, false
	}
	return n, true
}

func isBest(quality string) bool {
	switch strings.ToLower(strings.TrimSpace(quality)) {
	case "", task.QualityBest, "highest", "max":
		return true
	}
	return false
}

// ParseBitrate 解析 "192"、"320k"、"128kbps"，best 返回默认码率，结果限制在 32-320 kbps。
func ParseBitrate(quality string) (int, bool) {
	if isBest(quality) {
		return DefaultAudioBitrate, true
	}
	q := strings.ToLower(strings.TrimSpace(quality))
	q = strings.TrimSuffix(strings.TrimSuffix(q, "bps"), "k")
	n, err := strconv.Atoi(q)
	if err != nil || n <= 0 {
		return DefaultAudioBitrate, false
	}
	if n < minAudioBitrate {
		n = minAudioBitrate
	}
	if n > maxAudioBitrate {
		n = maxAudioBitrate
	}
	return n, true
}

func filter(in []media.FormatDescriptor, keep func(media.FormatDescriptor) bool) []media.FormatDescriptor {
	out := make([]media.FormatDescriptor, 0, len(in))
	for _, f := range in {
		if keep(f) {
			out = append(out, f)
		}
	}
	return out
}

// sortVideo 按分辨率降序，同分辨率时优先带音频、码率更高的流
func sortVideo(fs []media.FormatDescriptor) {
	sort.SliceStable(fs, func(i, j int) bool {
		a, b := fs[i], fs[j]
		if a.Height != b.Height {
			return a.Height > b.Height
		}
		if a.HasAudio != b.HasAudio {
			return a.HasAudio
		}
		return a.TotalBitrate > b.TotalBitrate
	})
}

// sortAudio 按音频码率降序，同码率时优先分辨率更低（体积更小）的流
func sortAudio(fs []media.FormatDescriptor) {
	sort.SliceStable(fs, func(i, j int) bool {
		a, b := fs[i], fs[j]
		if a.AudioBitrate != b.AudioBitrate {
			return a.AudioBitrate > b.AudioBitrate
		}
		return a.Height < b.Height
	})
}
