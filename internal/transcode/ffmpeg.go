// Package transcode 调用 ffmpeg 完成格式和码率转换。
package transcode

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/Slade66/media-fetcher/internal/fault"
	"github.com/Slade66/media-fetcher/internal/media"
)

// FFmpeg 编码参数
const (
	VideoCodec    = "libx264"
	VideoPreset   = "medium"
	VideoCRF      = "23"
	AudioCodec    = "aac"
	AudioBitrate  = "128k"
	FastStartFlag = "+faststart"

	convertedPrefix = "converted"
)

// Runner 执行外部命令，测试中用假实现替换
type Runner func(ctx context.Context, name string, args []string, stdout, stderr io.Writer) error

func execRunner(ctx context.Context, name string, args []string, stdout, stderr io.Writer) error {
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Stdout = stdout
	cmd.Stderr = stderr
	return cmd.Run()
}

// FFmpeg 是基于 ffmpeg 命令行的转码后端
type FFmpeg struct {
	bin string
	run Runner
}

// New 创建转码器，bin 为空时使用 PATH 中的 ffmpeg
func New(bin string) *FFmpeg {
	if bin == "" {
		bin = "ffmpeg"
	}
	return &FFmpeg{bin: bin, run: execRunner}
}

// NewWithRunner 创建使用自定义命令执行器的转码器
func NewWithRunner(bin string, run Runner) *FFmpeg {
	f := New(bin)
	f.run = run
	return f
}

// Available 报告 ffmpeg 是否可用
func (f *FFmpeg) Available() bool {
	_, err := exec.LookPath(f.bin)
	return err == nil
}

// Convert 把 srcPath 转换为指令要求的容器，输出写在 srcPath 同目录下。
// 任何失败都归类为 conversion，且会删除不完整的输出文件。
func (f *FFmpeg) Convert(ctx context.Context, srcPath string, d media.Directive) (string, error) {
	const op = "ffmpeg.convert"
	container := d.Container
	if container == "" {
		container = strings.TrimPrefix(filepath.Ext(srcPath), ".")
	}
	if container == "" {
		return "", fault.Errorf(fault.KindConversion, op, "无法确定输出格式")
	}
	dst := filepath.Join(filepath.Dir(srcPath), convertedPrefix+"."+container)
	if dst == srcPath {
		return "", fault.Errorf(fault.KindConversion, op, "输入和输出路径相同: %s", srcPath)
	}

	var stderr bytes.Buffer
	if err := f.run(ctx, f.bin, BuildArgs(srcPath, dst, d), io.Discard, &stderr); err != nil {
		os.Remove(dst)
		if ctxErr := ctx.Err(); ctxErr != nil {
			return "", ctxErr
		}
		if errors.Is(err, exec.ErrNotFound) {
			return "", fault.E(fault.KindConversion, op, fmt.Errorf("ffmpeg 未安装或不在 PATH 中: %w", err))
		}
		return "", fault.E(fault.KindConversion, op, fmt.Errorf("ffmpeg 执行失败: %w: %s", err, lastLines(stderr.String(), 5)))
	}
	if info, err := os.Stat(dst); err != nil || info.Size() == 0 {
		os.Remove(dst)
		return "", fault.Errorf(fault.KindConversion, op, "ffmpeg 没有生成有效的输出文件")
	}
	return dst, nil
}

// BuildArgs 构建 ffmpeg 命令参数
func BuildArgs(src, dst string, d media.Directive) []string {
	args := []string{"-y", "-hide_banner", "-loglevel", "error", "-i", src}
	if d.AudioOnly {
		codec := d.AudioCodec
		if codec == "" {
			codec = "libmp3lame"
		}
		bitrate := d.AudioBitrateKbps
		if bitrate <= 0 {
			bitrate = 192
		}
		args = append(args,
			"-vn",
			"-c:a", codec,
			"-b:a", strconv.Itoa(bitrate)+"k",
		)
		return append(args, dst)
	}
	args = append(args,
		"-c:v", VideoCodec,
		"-preset", VideoPreset,
		"-crf", VideoCRF,
		"-c:a", AudioCodec,
		"-b:a", AudioBitrate,
	)
	if strings.HasSuffix(dst, ".mp4") {
		args = append(args, "-movflags", FastStartFlag)
	}
	return append(args, dst)
}

func lastLines(s string, n int) string {
	lines := strings.Split(strings.TrimSpace(s), "\n")
	if len(lines) > n {
		lines = lines[len(lines)-n:]
	}
	return strings.Join(lines, " | ")
}
