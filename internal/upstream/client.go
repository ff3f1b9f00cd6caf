package upstream

import (
	"net"
	"net/http"
	"time"

	"github.com/little-cache/little-cache/internal/config"
)

const (
	defaultMaxConnsPerHost = 100
	defaultTimeout         = 30 * time.Second
)

// newTransport 构造带连接上限的 Transport，复用长连接并集中配置超时。
func newTransport(maxConnsPerHost int) *http.Transport {
	return &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		MaxIdleConns:          maxConnsPerHost,
		MaxIdleConnsPerHost:   maxConnsPerHost,
		MaxConnsPerHost:       maxConnsPerHost,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		ForceAttemptHTTP2:     true,
		DialContext: (&net.Dialer{
			Timeout:   30 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
	}
}

// NewClient 返回由调用方持有的 http.Client，所有 Fetch 共享同一个连接池。
// 每个上游 host 的并发连接数受 MaxConnsPerHost 约束。
func NewClient(cfg *config.Config) *http.Client {
	maxConns := defaultMaxConnsPerHost
	timeout := defaultTimeout
	if cfg != nil {
		if cfg.Global.MaxConnsPerHost > 0 {
			maxConns = cfg.Global.MaxConnsPerHost
		}
		if cfg.Global.UpstreamTimeout.DurationValue() > 0 {
			timeout = cfg.Global.UpstreamTimeout.DurationValue()
		}
	}

	return &http.Client{
		Timeout:   timeout,
		Transport: newTransport(maxConns),
	}
}
