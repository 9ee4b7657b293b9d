// Package antiblock 集中了所有应对上游限流的手段：身份轮换、请求间隔、指数退避重试和代理。
// 提取器和执行器只需把出站调用交给 Policy.Do，不再各自编写重试逻辑。
package antiblock

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/Slade66/media-fetcher/internal/fault"
	"github.com/Slade66/media-fetcher/internal/media"
)

// DefaultUserAgents 是内置的浏览器身份池。
var DefaultUserAgents = []string{
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/121.0.0.0 Safari/537.36",
	"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/17.2 Safari/605.1.15",
	"Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36",
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64; rv:122.0) Gecko/20100101 Firefox/122.0",
	"Mozilla/5.0 (iPhone; CPU iPhone OS 17_2 like Mac OS X) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/17.2 Mobile/15E148 Safari/604.1",
}

// Config 是策略的全部可调参数，测试可以注入确定性的取值。
type Config struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
	// MinSpacing 是同一调用序列内两次出站请求之间的最小间隔。
	MinSpacing time.Duration
	UserAgents []string
	UseProxy   bool
	ProxyURL   string
}

// DefaultConfig 返回默认参数：最多 5 次尝试，1s 起步翻倍退避，上限 30s，请求间隔 2s。
func DefaultConfig() Config {
	return Config{
		MaxAttempts: 5,
		BaseDelay:   time.Second,
		MaxDelay:    30 * time.Second,
		MinSpacing:  2 * time.Second,
		UserAgents:  DefaultUserAgents,
	}
}

// Policy 包装每一次对提取后端的出站调用。并发安全。
type Policy struct {
	cfg      Config
	next     atomic.Uint64
	newTimer func() backoff.Timer
	logger   *zap.Logger
}

// Option 定制 Policy。
type Option func(*Policy)

// WithTimer 替换退避等待所用的计时器，测试用它记录并跳过等待。
func WithTimer(f func() backoff.Timer) Option {
	return func(p *Policy) { p.newTimer = f }
}

// WithLogger 设置日志输出。
func WithLogger(l *zap.Logger) Option {
	return func(p *Policy) { p.logger = l }
}

// New 创建策略，非法参数会被修正为默认值。
func New(cfg Config, opts ...Option) *Policy {
	def := DefaultConfig()
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = def.MaxAttempts
	}
	if cfg.BaseDelay < 0 {
		cfg.BaseDelay = 0
	}
	if cfg.MaxDelay <= 0 {
		cfg.MaxDelay = def.MaxDelay
	}
	if len(cfg.UserAgents) == 0 {
		cfg.UserAgents = def.UserAgents
	}
	p := &Policy{cfg: cfg, logger: zap.NewNop()}
	for _, o := range opts {
		o(p)
	}
	return p
}

// Config 返回生效中的参数。
func (p *Policy) Config() Config { return p.cfg }

// Op 是一次出站尝试。
type Op func(ctx context.Context, cc media.ClientConfig) error

type sequenceKey struct{}

// WithSequence 返回携带请求间隔限速器的 ctx。同一 ctx 上的多次 Do 共享间隔，
// 一个任务的元数据探测和下载之间也至少相隔 MinSpacing。
func (p *Policy) WithSequence(ctx context.Context) context.Context {
	if _, ok := ctx.Value(sequenceKey{}).(*rate.Limiter); ok {
		return ctx
	}
	return context.WithValue(ctx, sequenceKey{}, p.newLimiter())
}

func (p *Policy) limiterFor(ctx context.Context) *rate.Limiter {
	if l, ok := ctx.Value(sequenceKey{}).(*rate.Limiter); ok {
		return l
	}
	return p.newLimiter()
}

// Do 执行 fn，对瞬时故障（blocked、timeout）按指数退避重试，最多 MaxAttempts 次；
// 其他错误立即返回。每次尝试前检查 ctx，这也是协作式取消生效的位置。
func (p *Policy) Do(ctx context.Context, op string, fn Op) error {
	limiter := p.limiterFor(ctx)
	attempt := 0

	operation := func() error {
		if err := ctx.Err(); err != nil {
			return backoff.Permanent(err)
		}
		if err := limiter.Wait(ctx); err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return backoff.Permanent(ctxErr)
			}
			// 剩余时间不够等到下一个发送窗口，按超时处理
			if _, ok := ctx.Deadline(); ok {
				return backoff.Permanent(fault.E(fault.KindTimeout, "spacing", fmt.Errorf("请求间隔等待会超过截止时间: %w", err)))
			}
			return backoff.Permanent(fmt.Errorf("请求间隔等待失败: %w", err))
		}
		attempt++
		err := fn(ctx, p.clientConfig(attempt))
		if err == nil {
			return nil
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return backoff.Permanent(ctxErr)
		}
		if !fault.Retryable(err) {
			return backoff.Permanent(err)
		}
		return err
	}

	notify := func(err error, wait time.Duration) {
		p.logger.Warn("⚠️ 出站请求失败，准备重试",
			zap.String("op", op),
			zap.Int("attempt", attempt),
			zap.Duration("backoff", wait),
			zap.Error(err))
	}

	var timer backoff.Timer
	if p.newTimer != nil {
		timer = p.newTimer()
	}
	err := backoff.RetryNotifyWithTimer(operation, p.schedule(ctx), notify, timer)
	if err == nil {
		return nil
	}
	if fault.Retryable(err) && attempt >= p.cfg.MaxAttempts {
		return fmt.Errorf("%s 在 %d 次尝试后仍失败: %w", op, attempt, err)
	}
	return fmt.Errorf("%s: %w", op, err)
}

// schedule 返回第 n 次重试前等待 BaseDelay*2^(n-1)、封顶 MaxDelay 的退避序列。
func (p *Policy) schedule(ctx context.Context) backoff.BackOff {
	exp := backoff.NewExponentialBackOff()
	exp.InitialInterval = p.cfg.BaseDelay
	exp.Multiplier = 2
	exp.RandomizationFactor = 0
	exp.MaxInterval = p.cfg.MaxDelay
	exp.MaxElapsedTime = 0
	exp.Reset()
	return backoff.WithContext(backoff.WithMaxRetries(exp, uint64(p.cfg.MaxAttempts-1)), ctx)
}

// Delay 返回第 retry 次重试前的等待时长（retry 从 1 开始）。
func (p *Policy) Delay(retry int) time.Duration {
	if retry <= 0 {
		return 0
	}
	d := p.cfg.BaseDelay
	for i := 1; i < retry; i++ {
		d *= 2
		if d >= p.cfg.MaxDelay {
			return p.cfg.MaxDelay
		}
	}
	if d > p.cfg.MaxDelay {
		return p.cfg.MaxDelay
	}
	return d
}

func (p *Policy) newLimiter() *rate.Limiter {
	if p.cfg.MinSpacing <= 0 {
		return rate.NewLimiter(rate.Inf, 1)
	}
	return rate.NewLimiter(rate.Every(p.cfg.MinSpacing), 1)
}

// clientConfig 为每次尝试轮换一个身份。
func (p *Policy) clientConfig(attempt int) media.ClientConfig {
	n := p.next.Add(1) - 1
	cc := media.ClientConfig{
		UserAgent: p.cfg.UserAgents[n%uint64(len(p.cfg.UserAgents))],
		Attempt:   attempt,
	}
	if p.cfg.UseProxy {
		cc.ProxyURL = p.cfg.ProxyURL
	}
	return cc
}
