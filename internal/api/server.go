// Package api 是引擎的 HTTP 入口：把请求校验成引擎的类型，调用引擎，渲染结果。
package api

import (
	"net/http"
	"os"
	"path/filepath"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/Slade66/media-fetcher/internal/extractor"
	"github.com/Slade66/media-fetcher/internal/jobs"
	"github.com/Slade66/media-fetcher/internal/storage"
)

// Options 是 HTTP 层依赖的引擎组件
type Options struct {
	Tracker   *jobs.Tracker
	Extractor *extractor.Extractor
	Store     *storage.Store
	// Tools 是健康检查中报告的外部工具，值为探测函数，例如 "ffmpeg": ffmpeg.Available
	Tools map[string]func() bool
	// FrontendDir 下的 index.html 会作为首页，目录不存在时首页返回 "API Online"
	FrontendDir string
	Logger      *zap.Logger
}

// Server 持有处理函数共享的依赖
type Server struct {
	tracker   *jobs.Tracker
	extractor *extractor.Extractor
	store     *storage.Store
	tools     map[string]func() bool
	frontend  string
	logger    *zap.Logger
}

// New 创建 Server
func New(opts Options) *Server {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	return &Server{
		tracker:   opts.Tracker,
		extractor: opts.Extractor,
		store:     opts.Store,
		tools:     opts.Tools,
		frontend:  opts.FrontendDir,
		logger:    opts.Logger,
	}
}

// Router 注册所有路由
func (s *Server) Router() *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery(), requestLogger(s.logger), corsMiddleware())

	router.GET("/", s.index)

	// 为 API 路由创建一个分组
	api := router.Group("/api")
	{
		api.GET("/health", s.health)
		api.POST("/info", s.info)
		api.POST("/download", s.download)
		api.GET("/jobs", s.listJobs)
		api.GET("/job/:id", s.getJob)
		api.DELETE("/job/:id", s.cancelJob)
		api.GET("/progress/:id", s.progress)
		api.GET("/file/:filename", s.file)
	}
	return router
}

func (s *Server) index(c *gin.Context) {
	if s.frontend != "" {
		index := filepath.Join(s.frontend, "index.html")
		if info, err := os.Stat(index); err == nil && !info.IsDir() {
			c.File(index)
			return
		}
	}
	c.String(http.StatusOK, "API Online")
}
