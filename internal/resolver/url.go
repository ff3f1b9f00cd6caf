package resolver

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
)

// ResolveURL 解析已解析好的 *url.URL。u 先被规范化为绝对形式（scheme 与 host 小写、
// 去掉默认端口、空路径补 "/"），再以其字符串形式派生缓存键，因此书写不同的同一地址
// 落在同一条目上。
func (r *Resolver) ResolveURL(ctx context.Context, u *url.URL, bucket string, forceRefresh bool) (*Handle, error) {
	normalized, err := NormalizeURL(u)
	if err != nil {
		return nil, invalidArgument("resolve", bucket, "", err.Error())
	}
	return r.Resolve(ctx, normalized, bucket, forceRefresh)
}

// NormalizeURL returns the canonical absolute form used as the hashing input.
func NormalizeURL(u *url.URL) (string, error) {
	if u == nil {
		return "", errors.New("url is required")
	}
	if !u.IsAbs() || u.Host == "" {
		return "", fmt.Errorf("url must be absolute: %s", u.String())
	}

	out := *u
	out.Scheme = strings.ToLower(out.Scheme)
	out.Host = strings.ToLower(out.Host)
	switch {
	case out.Scheme == "http" && strings.HasSuffix(out.Host, ":80"):
		out.Host = strings.TrimSuffix(out.Host, ":80")
	case out.Scheme == "https" && strings.HasSuffix(out.Host, ":443"):
		out.Host = strings.TrimSuffix(out.Host, ":443")
	}
	if out.Path == "" && out.RawPath == "" && out.Opaque == "" {
		out.Path = "/"
	}
	return out.String(), nil
}
