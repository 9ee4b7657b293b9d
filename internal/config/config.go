// Package config 从环境变量（以及可选的 .env 文件）加载服务配置
package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"

	"github.com/Slade66/media-fetcher/internal/antiblock"
)

const gib = 1 << 30

// Config 是全部可配置项
type Config struct {
	Port string `env:"PORT" envDefault:"8000"`

	DownloadDir string `env:"DOWNLOAD_DIR" envDefault:"downloads"`
	TempDir     string `env:"TEMP_DIR" envDefault:"temp"`
	FrontendDir string `env:"FRONTEND_DIR" envDefault:"frontend"`

	MaxConcurrentDownloads int     `env:"MAX_CONCURRENT_DOWNLOADS" envDefault:"3"`
	CleanupIntervalHours   float64 `env:"CLEANUP_INTERVAL_HOURS" envDefault:"1"`
	FileExpiryHours        float64 `env:"FILE_EXPIRY_HOURS" envDefault:"24"`
	MaxFileSizeGB          float64 `env:"MAX_FILE_SIZE_GB" envDefault:"2"`
	MaxStorageGB           float64 `env:"MAX_STORAGE_GB" envDefault:"10"`
	APITimeoutSeconds      int     `env:"API_TIMEOUT_SECONDS" envDefault:"300"`
	JobRetentionHours      float64 `env:"JOB_RETENTION_HOURS" envDefault:"24"`

	UseProxy bool   `env:"USE_PROXY" envDefault:"false"`
	ProxyURL string `env:"PROXY_URL"`

	RetryMaxAttempts int           `env:"RETRY_MAX_ATTEMPTS" envDefault:"5"`
	RetryBaseDelay   time.Duration `env:"RETRY_BASE_DELAY" envDefault:"1s"`
	RetryMaxDelay    time.Duration `env:"RETRY_MAX_DELAY" envDefault:"30s"`
	RequestSpacing   time.Duration `env:"REQUEST_SPACING" envDefault:"2s"`
	UserAgents       []string      `env:"USER_AGENTS" envSeparator:"|"`

	CookiesFile string `env:"COOKIES_FILE" envDefault:"cookies.txt"`
	YtDlpPath   string `env:"YTDLP_PATH" envDefault:"yt-dlp"`
	FFmpegPath  string `env:"FFMPEG_PATH" envDefault:"ffmpeg"`

	RedisAddr     string `env:"REDIS_ADDR"`
	RedisPassword string `env:"REDIS_PASSWORD"`
	RedisDB       int    `env:"REDIS_DB" envDefault:"0"`

	ObsEndpoint string `env:"OBS_ENDPOINT"`
	ObsAK       string `env:"OBS_AK"`
	ObsSK       string `env:"OBS_SK"`
	ObsBucket   string `env:"OBS_BUCKET"`
	ObsPrefix   string `env:"OBS_PREFIX"`

	LogLevel  string `env:"LOG_LEVEL" envDefault:"info"`
	LogFormat string `env:"LOG_FORMAT" envDefault:"json"`
	GinMode   string `env:"GIN_MODE" envDefault:"release"`
}

// Load 读取 .env（如果存在）和环境变量，并校验结果。
// 已经存在的环境变量优先于 .env 中的值。
func Load(files ...string) (Config, error) {
	if len(files) == 0 {
		files = []string{".env"}
	}
	for _, f := range files {
		if err := godotenv.Load(f); err != nil && !errors.Is(err, os.ErrNotExist) {
			return Config{}, fmt.Errorf("无法读取 %s: %w", f, err)
		}
	}

	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("解析环境变量失败: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate 检查取值是否合法
func (c Config) Validate() error {
	var errs []error
	if c.MaxConcurrentDownloads <= 0 {
		errs = append(errs, fmt.Errorf("MAX_CONCURRENT_DOWNLOADS 必须大于 0"))
	}
	if c.APITimeoutSeconds <= 0 {
		errs = append(errs, fmt.Errorf("API_TIMEOUT_SECONDS 必须大于 0"))
	}
	if c.CleanupIntervalHours <= 0 {
		errs = append(errs, fmt.Errorf("CLEANUP_INTERVAL_HOURS 必须大于 0"))
	}
	if c.FileExpiryHours <= 0 {
		errs = append(errs, fmt.Errorf("FILE_EXPIRY_HOURS 必须大于 0"))
	}
	if c.RetryMaxAttempts <= 0 {
		errs = append(errs, fmt.Errorf("RETRY_MAX_ATTEMPTS 必须大于 0"))
	}
	if c.DownloadDir == "" || c.TempDir == "" {
		errs = append(errs, fmt.Errorf("DOWNLOAD_DIR 和 TEMP_DIR 不能为空"))
	}
	if c.UseProxy {
		u, err := url.Parse(c.ProxyURL)
		if c.ProxyURL == "" || err != nil || u.Scheme == "" || u.Host == "" {
			errs = append(errs, fmt.Errorf("USE_PROXY=true 时 PROXY_URL 必须是合法的代理地址: %q", c.ProxyURL))
		}
	}
	return errors.Join(errs...)
}

// APITimeout 是单个任务从提交到终态的时限
func (c Config) APITimeout() time.Duration {
	return time.Duration(c.APITimeoutSeconds) * time.Second
}

func (c Config) CleanupInterval() time.Duration { return hours(c.CleanupIntervalHours) }

func (c Config) FileExpiry() time.Duration { return hours(c.FileExpiryHours) }

func (c Config) JobRetention() time.Duration { return hours(c.JobRetentionHours) }

// MaxFileSize 是单个产物的字节上限，0 表示不限制
func (c Config) MaxFileSize() int64 { return gigabytes(c.MaxFileSizeGB) }

// MaxStorage 是存储根目录的总字节上限，0 表示不限制
func (c Config) MaxStorage() int64 { return gigabytes(c.MaxStorageGB) }

// Policy 返回反封锁策略的参数
func (c Config) Policy() antiblock.Config {
	cfg := antiblock.Config{
		MaxAttempts: c.RetryMaxAttempts,
		BaseDelay:   c.RetryBaseDelay,
		MaxDelay:    c.RetryMaxDelay,
		MinSpacing:  c.RequestSpacing,
		UserAgents:  c.UserAgents,
		UseProxy:    c.UseProxy,
	}
	if c.UseProxy {
		cfg.ProxyURL = c.ProxyURL
	}
	return cfg
}

// ObsEnabled 报告 OBS 归档配置是否完整
func (c Config) ObsEnabled() bool {
	return c.ObsEndpoint != "" && c.ObsAK != "" && c.ObsSK != "" && c.ObsBucket != ""
}

func hours(h float64) time.Duration {
	return time.Duration(h * float64(time.Hour))
}

func gigabytes(gb float64) int64 {
	if gb <= 0 {
		return 0
	}
	return int64(gb * gib)
}
