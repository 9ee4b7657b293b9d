package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/Slade66/media-fetcher/internal/api"
	"github.com/Slade66/media-fetcher/internal/config"
	"github.com/Slade66/media-fetcher/internal/engine"
	"github.com/Slade66/media-fetcher/internal/logger"
	"github.com/Slade66/media-fetcher/internal/status"
	"github.com/Slade66/media-fetcher/internal/uploader"
)

const shutdownTimeout = 15 * time.Second

// initRedis 连接 Redis，未配置地址时返回 nil，镜像功能随之关闭
func initRedis(cfg config.Config, log *zap.Logger) *redis.Client {
	if cfg.RedisAddr == "" {
		log.Info("Redis 未配置，任务状态仅保存在内存中")
		return nil
	}
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := rdb.Ping(ctx).Err(); err != nil {
		log.Warn("❌ 无法连接到 Redis，任务状态镜像已关闭", zap.String("addr", cfg.RedisAddr), zap.Error(err))
		rdb.Close()
		return nil
	}
	log.Info("✅ 成功连接到 Redis!", zap.String("addr", cfg.RedisAddr))
	return rdb
}

// initObs 在配置完整时创建 OBS 归档器
func initObs(cfg config.Config, log *zap.Logger) *uploader.ObsUploader {
	if !cfg.ObsEnabled() {
		return nil
	}
	u, err := uploader.NewObsUploader(cfg.ObsEndpoint, cfg.ObsAK, cfg.ObsSK, cfg.ObsBucket, cfg.ObsPrefix, log.Named("obs"))
	if err != nil {
		log.Warn("❌ 初始化 OBS Uploader 失败，归档已关闭", zap.Error(err))
		return nil
	}
	log.Info("✅ OBS Uploader 初始化成功。", zap.String("bucket", cfg.ObsBucket))
	return u
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("❌ 加载配置失败: %v", err)
	}
	lg, err := logger.New(cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		log.Fatalf("❌ 初始化日志失败: %v", err)
	}
	defer lg.Sync()
	gin.SetMode(cfg.GinMode)

	deps := engine.Deps{Logger: lg}
	if rdb := initRedis(cfg, lg); rdb != nil {
		defer rdb.Close()
		deps.Mirror = status.NewManager(rdb, cfg.JobRetention())
	}
	if obs := initObs(cfg, lg); obs != nil {
		defer obs.Close()
		deps.Archiver = obs
	}

	eng, err := engine.New(cfg, deps)
	if err != nil {
		lg.Fatal("❌ 初始化引擎失败", zap.Error(err))
	}
	tools := eng.Tools()
	lg.Info("🔧 外部工具检查", zap.Bool("ffmpeg", tools["ffmpeg"]()), zap.Bool("yt_dlp", tools["yt_dlp"]()))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go eng.Cleanup.Run(ctx)

	srv := api.New(api.Options{
		Tracker:     eng.Tracker,
		Extractor:   eng.Extractor,
		Store:       eng.Store,
		Tools:       tools,
		FrontendDir: cfg.FrontendDir,
		Logger:      lg.Named("api"),
	})
	httpServer := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           srv.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		lg.Info("🚀 API 服务已启动", zap.String("addr", httpServer.Addr))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			lg.Error("❌ HTTP 服务异常退出", zap.Error(err))
			stop()
		}
	}()

	<-ctx.Done()
	lg.Info("⏹️ 正在关闭服务...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		lg.Warn("⚠️ HTTP 服务关闭超时", zap.Error(err))
	}
	if err := eng.Close(shutdownCtx); err != nil {
		lg.Warn("⚠️ 等待任务退出超时", zap.Error(err))
	}
	lg.Info("👋 服务已关闭")
}
