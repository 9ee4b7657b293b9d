// Package uploader 把提交后的产物归档到华为云 OBS
package uploader

import (
	"context"
	"fmt"

	"github.com/huaweicloud/huaweicloud-sdk-go-obs/obs"
	"go.uber.org/zap"
)

// putFunc 执行一次 PutFile 调用，测试时替换为假实现
type putFunc func(input *obs.PutFileInput) (*obs.PutObjectOutput, error)

// ObsUploader 结构体封装了 OBS 客户端和配置
type ObsUploader struct {
	client *obs.ObsClient
	put    putFunc
	bucket string
	prefix string
	logger *zap.Logger
}

// NewObsUploader 根据官方文档创建一个新的 OBS 上传器实例，prefix 会拼接在对象键前面
func NewObsUploader(endpoint, ak, sk, bucket, prefix string, logger *zap.Logger) (*ObsUploader, error) {
	// obs.New 是创建客户端实例的函数
	client, err := obs.New(ak, sk, endpoint)
	if err != nil {
		return nil, fmt.Errorf("无法创建 OBS 客户端: %w", err)
	}
	u := newUploader(func(input *obs.PutFileInput) (*obs.PutObjectOutput, error) {
		return client.PutFile(input)
	}, bucket, prefix, logger)
	u.client = client
	return u, nil
}

func newUploader(put putFunc, bucket, prefix string, logger *zap.Logger) *ObsUploader {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ObsUploader{put: put, bucket: bucket, prefix: prefix, logger: logger}
}

// Archive 实现了 downloader.Archiver，把本地文件上传为 prefix+objectKey
func (u *ObsUploader) Archive(ctx context.Context, objectKey, filePath string) error {
	// SDK 的调用不接受 context，只能在开始前检查
	if err := ctx.Err(); err != nil {
		return err
	}
	return u.UploadFile(u.prefix+objectKey, filePath)
}

// UploadFile 将指定路径的本地文件上传到 OBS
func (u *ObsUploader) UploadFile(objectKey, filePath string) error {
	// PutFileInput 是上传本地文件所需的参数结构体
	input := &obs.PutFileInput{}
	input.Bucket = u.bucket
	input.Key = objectKey       // objectKey 是文件在 OBS 桶中的名字/路径
	input.SourceFile = filePath // 本地文件的路径

	output, err := u.put(input)
	if err != nil {
		// 尝试解析 OBS 返回的详细错误信息
		if obsError, ok := err.(obs.ObsError); ok {
			return fmt.Errorf("上传失败，OBS错误码: %s, 错误信息: %s", obsError.Code, obsError.Message)
		}
		return fmt.Errorf("上传文件到 OBS 失败: %w", err)
	}

	u.logger.Info("☁️ 文件已上传到 OBS",
		zap.String("file", filePath),
		zap.String("bucket", u.bucket),
		zap.String("key", objectKey),
		zap.String("etag", output.ETag))
	return nil
}

// Close 关闭客户端连接
func (u *ObsUploader) Close() {
	if u.client != nil {
		u.client.Close()
	}
}
