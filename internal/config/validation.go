package config

import (
	"errors"

	"github.com/little-cache/little-cache/internal/cache"
)

// Validate 针对语义级别做进一步校验，防止非法配置启动服务。
func (c *Config) Validate() error {
	if c == nil {
		return errors.New("配置为空")
	}

	g := c.Global
	if g.ListenPort <= 0 || g.ListenPort > 65535 {
		return newFieldError("Global.ListenPort", "必须在 1-65535")
	}
	if g.StoragePath == "" {
		return newFieldError("Global.StoragePath", "不能为空")
	}
	if g.MaxConnsPerHost <= 0 {
		return newFieldError("Global.MaxConnsPerHost", "必须大于 0")
	}
	if g.UpstreamTimeout.DurationValue() <= 0 {
		return newFieldError("Global.UpstreamTimeout", "必须大于 0")
	}
	if g.PrefetchConcurrency <= 0 {
		return newFieldError("Global.PrefetchConcurrency", "必须大于 0")
	}
	if _, err := cache.KeyFuncByName(g.KeyHash); err != nil {
		return newFieldError("Global.KeyHash", "仅支持 legacy/xxhash")
	}

	seen := map[string]struct{}{}
	for i, name := range c.Buckets {
		if err := cache.ValidateBucketName(name); err != nil {
			return newFieldError(bucketField(i), err.Error())
		}
		if _, exists := seen[name]; exists {
			return newFieldError(bucketField(i), "重复")
		}
		seen[name] = struct{}{}
	}

	if c.DefaultBucket != "" {
		if err := cache.ValidateBucketName(c.DefaultBucket); err != nil {
			return newFieldError("DefaultBucket", err.Error())
		}
	}

	return nil
}

// KeyFunc 返回配置选定的缓存键算法（假定 Validate 已经通过）。
func (c *Config) KeyFunc() cache.KeyFunc {
	fn, err := cache.KeyFuncByName(c.Global.KeyHash)
	if err != nil {
		return cache.LegacyKey
	}
	return fn
}
