// internal/client/client.go
package client

import (
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"time"
)

// DefaultTimeout 是等待响应头的超时时间。读取响应体不设上限，由调用方的 context 控制。
const DefaultTimeout = 30 * time.Second

var (
	mu      sync.Mutex
	clients = make(map[string]*http.Client)
)

// Get 返回与代理地址对应的共享 http.Client。
// 同一代理只会创建一个实例，proxyURL 为空表示直连。
func Get(proxyURL string) (*http.Client, error) {
	mu.Lock()
	defer mu.Unlock()

	if c, ok := clients[proxyURL]; ok {
		return c, nil
	}
	c, err := New(proxyURL, DefaultTimeout)
	if err != nil {
		return nil, err
	}
	clients[proxyURL] = c
	return c, nil
}

// New 创建一个新的 http.Client，必要时通过代理转发所有请求。
func New(proxyURL string, timeout time.Duration) (*http.Client, error) {
	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.ResponseHeaderTimeout = timeout
	if proxyURL != "" {
		u, err := url.Parse(proxyURL)
		if err != nil || u.Host == "" {
			return nil, fmt.Errorf("无效的代理地址 %q", proxyURL)
		}
		transport.Proxy = http.ProxyURL(u)
	}
	return &http.Client{Transport: transport}, nil
}
