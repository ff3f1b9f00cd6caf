package logging

import (
	"strconv"

	"github.com/sirupsen/logrus"
)

// BaseFields 构建 action + 配置路径等基础字段，便于不同入口复用。
func BaseFields(action, configPath string) logrus.Fields {
	return logrus.Fields{
		"action":     action,
		"configPath": configPath,
	}
}

// ResolveFields 提供 bucket/url/key/命中状态字段，供缓存解析日志复用。
func ResolveFields(bucket, url string, key uint64, cacheHit bool) logrus.Fields {
	return logrus.Fields{
		"bucket":    bucket,
		"url":       url,
		"cache_key": strconv.FormatUint(key, 10),
		"cache_hit": cacheHit,
	}
}

// BucketFields 提供 bucket 生命周期日志字段。
func BucketFields(action, bucket string) logrus.Fields {
	return logrus.Fields{
		"action": action,
		"bucket": bucket,
	}
}
