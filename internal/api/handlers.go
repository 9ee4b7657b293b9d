package api

import (
	"net/http"
	"path/filepath"

	"github.com/gin-gonic/gin"

	"github.com/Slade66/media-fetcher/internal/fault"
	"github.com/Slade66/media-fetcher/internal/media"
	"github.com/Slade66/media-fetcher/pkg/task"
)

type infoRequest struct {
	URL string `json:"url" binding:"required"`
}

type infoResponse struct {
	Title           string                   `json:"title"`
	DurationSeconds int                      `json:"duration_seconds"`
	ThumbnailURL    string                   `json:"thumbnail_url"`
	Uploader        string                   `json:"uploader,omitempty"`
	Formats         []media.FormatDescriptor `json:"formats"`
}

type downloadRequest struct {
	URL        string `json:"url" binding:"required"`
	FormatType string `json:"format_type"`
	Quality    string `json:"quality"`
}

// writeError 按错误类别返回对应的状态码
func writeError(c *gin.Context, err error) {
	_ = c.Error(err)
	c.JSON(fault.HTTPStatus(err), gin.H{
		"error": err.Error(),
		"kind":  fault.KindOf(err),
	})
}

func bindError(c *gin.Context, err error) {
	writeError(c, fault.E(fault.KindValidation, "bind", err))
}

func (s *Server) health(c *gin.Context) {
	resp := gin.H{
		"status": "ok",
		"jobs":   s.tracker.Stats(),
	}
	for name, available := range s.tools {
		resp[name] = available()
	}
	if usage, err := s.store.Usage(); err == nil {
		resp["disk"] = usage
	}
	c.JSON(http.StatusOK, resp)
}

// info 同步提取元数据
func (s *Server) info(c *gin.Context) {
	var req infoRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		bindError(c, err)
		return
	}
	md, err := s.extractor.Probe(c.Request.Context(), req.URL)
	if err != nil {
		writeError(c, err)
		return
	}
	formats := md.Formats
	if formats == nil {
		formats = []media.FormatDescriptor{}
	}
	c.JSON(http.StatusOK, infoResponse{
		Title:           md.Title,
		DurationSeconds: md.DurationSeconds,
		ThumbnailURL:    md.ThumbnailURL,
		Uploader:        md.Uploader,
		Formats:         formats,
	})
}

// download 登记任务后立即返回，客户端通过 /api/job/:id 轮询
func (s *Server) download(c *gin.Context) {
	var req downloadRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		bindError(c, err)
		return
	}
	job, err := s.tracker.Submit(task.Request{
		URL:        req.URL,
		FormatType: task.FormatType(req.FormatType),
		Quality:    req.Quality,
	})
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, gin.H{
		"message":    "任务已成功接收，正在排队等待处理...",
		"job_id":     job.ID,
		"state":      job.State,
		"status_url": "/api/job/" + job.ID,
	})
}

func (s *Server) listJobs(c *gin.Context) {
	c.JSON(http.StatusOK, s.tracker.List())
}

func (s *Server) getJob(c *gin.Context) {
	job, err := s.tracker.Status(c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, job)
}

func (s *Server) cancelJob(c *gin.Context) {
	job, err := s.tracker.Cancel(c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, job)
}

func (s *Server) progress(c *gin.Context) {
	job, err := s.tracker.Status(c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"job_id":   job.ID,
		"state":    job.State,
		"progress": job.Progress,
	})
}

// file 以附件形式返回产物，title 参数清洗后作为下载文件名
func (s *Server) file(c *gin.Context) {
	art, err := s.store.Lookup(c.Param("filename"))
	if err != nil {
		writeError(c, err)
		return
	}
	name := art.Name
	if title := c.Query("title"); title != "" {
		name = task.SanitizeTitle(title) + filepath.Ext(art.Name)
	}
	c.FileAttachment(art.Path, name)
}
