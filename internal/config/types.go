package config

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Duration 提供更灵活的反序列化能力，同时兼容纯秒整数与 Go Duration 字符串。
type Duration time.Duration

// UnmarshalText 解析 "30s"、"5m"、十进制或 0x 前缀的秒数；Load 的 decode hook 也经由此处解析字符串。
func (d *Duration) UnmarshalText(text []byte) error {
	raw := strings.TrimSpace(string(text))
	if raw == "" {
		*d = Duration(0)
		return nil
	}

	if seconds, err := time.ParseDuration(raw); err == nil {
		*d = Duration(seconds)
		return nil
	}

	if intVal, err := parseInt(raw); err == nil {
		*d = Duration(time.Duration(intVal) * time.Second)
		return nil
	}

	return fmt.Errorf("invalid duration value: %s", raw)
}

// DurationValue 返回真实的 time.Duration，便于调用方计算。
func (d Duration) DurationValue() time.Duration {
	return time.Duration(d)
}

// parseInt 支持十进制或 0x 前缀的十六进制字符串解析。
func parseInt(value string) (int64, error) {
	if strings.HasPrefix(value, "0x") || strings.HasPrefix(value, "0X") {
		return strconv.ParseInt(value, 0, 64)
	}
	return strconv.ParseInt(value, 10, 64)
}

// GlobalConfig 描述全局运行时行为：日志、存储目录、上游连接池与键算法。
type GlobalConfig struct {
	ListenPort          int      `mapstructure:"ListenPort"`
	LogLevel            string   `mapstructure:"LogLevel"`
	LogFilePath         string   `mapstructure:"LogFilePath"`
	LogMaxSize          int      `mapstructure:"LogMaxSize"`
	LogMaxBackups       int      `mapstructure:"LogMaxBackups"`
	LogCompress         bool     `mapstructure:"LogCompress"`
	StoragePath         string   `mapstructure:"StoragePath"`
	MaxConnsPerHost     int      `mapstructure:"MaxConnsPerHost"`
	UpstreamTimeout     Duration `mapstructure:"UpstreamTimeout"`
	KeyHash             string   `mapstructure:"KeyHash"`
	PrefetchConcurrency int      `mapstructure:"PrefetchConcurrency"`
}

// Config 是 TOML 文件映射的整体结构。
type Config struct {
	Global GlobalConfig `mapstructure:",squash"`
	// Buckets 在启动时通过 CreateBuckets 预先创建。
	Buckets []string `mapstructure:"Buckets"`
	// DefaultBucket 仅供 HTTP 层的 /-/fetch 使用，核心逻辑不存在默认 bucket。
	DefaultBucket string `mapstructure:"DefaultBucket"`
}

// HasDefaultBucket reports whether /-/fetch can be served.
func (c *Config) HasDefaultBucket() bool {
	return c != nil && c.DefaultBucket != ""
}
