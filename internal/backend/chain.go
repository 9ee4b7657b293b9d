// Package backend 按 URL 把请求分派给合适的提取后端。
package backend

import (
	"context"

	"github.com/Slade66/media-fetcher/internal/fault"
	"github.com/Slade66/media-fetcher/internal/media"
)

// Chain 依次询问各后端，由第一个能处理该 URL 的后端执行。
type Chain struct {
	backends []media.Backend
}

// NewChain 创建后端链，顺序即优先级。
func NewChain(backends ...media.Backend) *Chain {
	return &Chain{backends: backends}
}

func (c *Chain) Name() string { return "chain" }

func (c *Chain) CanHandle(rawURL string) bool {
	_, ok := c.pick(rawURL)
	return ok
}

func (c *Chain) Probe(ctx context.Context, rawURL string, cc media.ClientConfig) (*media.Metadata, error) {
	b, ok := c.pick(rawURL)
	if !ok {
		return nil, fault.Errorf(fault.KindUnsupported, "probe", "没有后端能处理该 URL: %s", rawURL)
	}
	return b.Probe(ctx, rawURL, cc)
}

func (c *Chain) Fetch(ctx context.Context, req media.FetchRequest) (media.FetchResult, error) {
	b, ok := c.pick(req.URL)
	if !ok {
		return media.FetchResult{}, fault.Errorf(fault.KindUnsupported, "fetch", "没有后端能处理该 URL: %s", req.URL)
	}
	return b.Fetch(ctx, req)
}

// For 返回将处理 rawURL 的后端名称，没有则返回空字符串。
func (c *Chain) For(rawURL string) string {
	if b, ok := c.pick(rawURL); ok {
		return b.Name()
	}
	return ""
}

func (c *Chain) pick(rawURL string) (media.Backend, bool) {
	for _, b := range c.backends {
		if b.CanHandle(rawURL) {
			return b, true
		}
	}
	return nil, false
}
