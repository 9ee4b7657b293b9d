// main.go
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/Slade66/media-fetcher/internal/config"
	"github.com/Slade66/media-fetcher/internal/engine"
	"github.com/Slade66/media-fetcher/internal/jobs"
	"github.com/Slade66/media-fetcher/internal/logger"
	"github.com/Slade66/media-fetcher/internal/observer"
	"github.com/Slade66/media-fetcher/pkg/task"
)

func main() {
	// 1. 参数解析
	urlStr := flag.String("url", "", "要下载的媒体页面或文件的 URL (必须)")
	format := flag.String("format", "video", "输出类型: video | audio | custom")
	quality := flag.String("quality", task.QualityBest, "质量偏好，例如 best、720p、192；custom 时为格式选择器")
	output := flag.String("output", "", "文件保存目录 (默认使用 DOWNLOAD_DIR)")
	flag.Parse()

	// 2. 参数校验
	if *urlStr == "" {
		fmt.Println("错误: -url 参数是必须的")
		flag.Usage()
		os.Exit(1)
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("❌ 加载配置失败: %v", err)
	}
	if *output != "" {
		cfg.DownloadDir = *output
	}
	// 命令行只输出警告以上的日志，避免打断进度条
	lg, err := logger.New("warn", "console")
	if err != nil {
		log.Fatalf("❌ 初始化日志失败: %v", err)
	}
	defer lg.Sync()

	// 3. 创建引擎
	eng, err := engine.New(cfg, engine.Deps{Logger: lg})
	if err != nil {
		log.Fatalf("❌ 初始化失败: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 4. 提交任务并挂上进度条
	job, err := eng.Tracker.Submit(task.Request{
		URL:        *urlStr,
		FormatType: task.FormatType(*format),
		Quality:    *quality,
	})
	if err != nil {
		log.Fatalf("❌ %v", err)
	}
	id := job.ID
	eng.Downloader.AddObserver(observer.NewProgressBarObserver(id))

	// 5. 等待结束
	fmt.Println("🚀 开始下载...")
	job, err = eng.Tracker.Wait(ctx, id)
	if err != nil {
		eng.Tracker.Cancel(id)
		eng.Close(context.Background())
		log.Fatalf("\n❌ 下载被中断: %v", err)
	}
	eng.Close(context.Background())

	if job.State != jobs.StateSucceeded {
		log.Fatalf("\n❌ 下载失败 [%s]: %s", job.Error.Kind, job.Error.Message)
	}
	fmt.Printf("\n✅ 下载完成: %s (%.2f MB)\n", job.ResultPath, float64(job.SizeBytes)/1024/1024)
	if job.Title != "" {
		fmt.Printf("🎬 标题: %s\n", job.Title)
	}
}
