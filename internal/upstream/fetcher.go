// Package upstream owns the outbound HTTP side of the cache: the pooled client
// constructed once by the application and the Fetcher that turns a URL into a
// body stream.
package upstream

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/little-cache/little-cache/internal/version"
)

// Fetcher 执行一次 GET，返回完整正文流；调用方负责关闭。
type Fetcher interface {
	Fetch(ctx context.Context, url string) (io.ReadCloser, error)
}

// FetcherFunc adapts a function to the Fetcher interface.
type FetcherFunc func(ctx context.Context, url string) (io.ReadCloser, error)

// Fetch makes FetcherFunc satisfy Fetcher.
func (f FetcherFunc) Fetch(ctx context.Context, url string) (io.ReadCloser, error) {
	return f(ctx, url)
}

// StatusError 表示上游返回了非 2xx 状态码。
type StatusError struct {
	URL        string
	StatusCode int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("upstream %s returned %d", e.URL, e.StatusCode)
}

// HTTPFetcher 基于共享 http.Client 发起请求。
type HTTPFetcher struct {
	client *http.Client
}

// NewHTTPFetcher wraps client; a nil client is rejected so that no hidden
// default pool is ever created.
func NewHTTPFetcher(client *http.Client) (*HTTPFetcher, error) {
	if client == nil {
		return nil, errors.New("http client is required")
	}
	return &HTTPFetcher{client: client}, nil
}

func (f *HTTPFetcher) Fetch(ctx context.Context, url string) (io.ReadCloser, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", version.UserAgent())

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		io.Copy(io.Discard, io.LimitReader(resp.Body, 64*1024))
		resp.Body.Close()
		return nil, &StatusError{URL: url, StatusCode: resp.StatusCode}
	}
	return resp.Body, nil
}
