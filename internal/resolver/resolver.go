package resolver

import (
	"context"
	"errors"
	"io"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/singleflight"

	"github.com/little-cache/little-cache/internal/cache"
	"github.com/little-cache/little-cache/internal/logging"
	"github.com/little-cache/little-cache/internal/upstream"
)

const defaultPrefetchConcurrency = 8

// Options 汇总 Resolver 的依赖；Store 与 Fetcher 必填。
type Options struct {
	Store   cache.Store
	Fetcher upstream.Fetcher
	// KeyFunc 为空时使用 cache.LegacyKey。
	KeyFunc cache.KeyFunc
	Logger  *logrus.Logger
	// PrefetchConcurrency 限制 Prefetch 同时进行的 Resolve 数量。
	PrefetchConcurrency int
}

// Resolver 负责 orchestrate “探测缓存 → 回源 → 原子写入” 的流程。
// 同一 (bucket, key) 上并发的未命中只会触发一次回源。
type Resolver struct {
	store               cache.Store
	fetcher             upstream.Fetcher
	keyFunc             cache.KeyFunc
	logger              *logrus.Logger
	prefetchConcurrency int

	flights singleflight.Group
}

// Handle 指向一个已落盘的缓存条目。
type Handle struct {
	Bucket    string
	URL       string
	Key       uint64
	FilePath  string
	SizeBytes int64
	// CacheHit 为 true 表示本次未访问网络。
	CacheHit bool

	store cache.Store
}

// Open 打开条目正文，调用方负责关闭。
func (h *Handle) Open(ctx context.Context) (io.ReadCloser, error) {
	result, err := h.store.Open(ctx, h.Bucket, h.Key)
	if err != nil {
		if errors.Is(err, cache.ErrBucketNotFound) {
			return nil, &Error{Kind: KindBucketNotFound, Op: "open", Bucket: h.Bucket, URL: h.URL}
		}
		return nil, storageError("open", h.Bucket, h.URL, err)
	}
	return result.Reader, nil
}

// ReadAll reads the whole entry into memory.
func (h *Handle) ReadAll(ctx context.Context) ([]byte, error) {
	rc, err := h.Open(ctx)
	if err != nil {
		return nil, err
	}
	defer rc.Close()

	data, err := io.ReadAll(rc)
	if err != nil {
		return nil, storageError("read", h.Bucket, h.URL, err)
	}
	return data, nil
}

// New 校验依赖并构造 Resolver。
func New(opts Options) (*Resolver, error) {
	if opts.Store == nil {
		return nil, errors.New("cache store is required")
	}
	if opts.Fetcher == nil {
		return nil, errors.New("fetcher is required")
	}
	keyFunc := opts.KeyFunc
	if keyFunc == nil {
		keyFunc = cache.LegacyKey
	}
	logger := opts.Logger
	if logger == nil {
		logger = logging.Discard()
	}
	concurrency := opts.PrefetchConcurrency
	if concurrency <= 0 {
		concurrency = defaultPrefetchConcurrency
	}

	return &Resolver{
		store:               opts.Store,
		fetcher:             opts.Fetcher,
		keyFunc:             keyFunc,
		logger:              logger,
		prefetchConcurrency: concurrency,
	}, nil
}

// Key returns the cache key the resolver derives for url.
func (r *Resolver) Key(url string) uint64 {
	return r.keyFunc(url)
}

// Resolve 返回 url 在 bucket 中的缓存条目。forceRefresh 为 false 且条目存在、长度非零时
// 直接命中；否则回源并原子覆盖。bucket 必须事先创建。
//
// ctx 取消只影响当前调用方的等待，已经开始的共享回源会继续，直到完成或触发客户端超时。
func (r *Resolver) Resolve(ctx context.Context, url, bucket string, forceRefresh bool) (*Handle, error) {
	const op = "resolve"
	if url == "" {
		return nil, invalidArgument(op, bucket, url, "url is required")
	}
	if err := cache.ValidateBucketName(bucket); err != nil {
		return nil, invalidArgument(op, bucket, url, err.Error())
	}

	exists, err := r.store.BucketExists(ctx, bucket)
	if err != nil {
		return nil, storageError(op, bucket, url, err)
	}
	if !exists {
		return nil, &Error{Kind: KindBucketNotFound, Op: op, Bucket: bucket, URL: url}
	}

	key := r.keyFunc(url)
	if !forceRefresh {
		entry, err := r.probe(ctx, bucket, key)
		if err != nil {
			return nil, r.classifyStoreError(op, bucket, url, err)
		}
		if entry != nil {
			r.logger.WithFields(logging.ResolveFields(bucket, url, key, true)).Debug("cache_hit")
			return r.newHandle(url, entry, true), nil
		}
	}

	return r.fill(ctx, url, bucket, key, forceRefresh)
}

// ForceRefresh 等价于 Resolve(ctx, url, bucket, true)。
func (r *Resolver) ForceRefresh(ctx context.Context, url, bucket string) (*Handle, error) {
	return r.Resolve(ctx, url, bucket, true)
}

type fillResult struct {
	entry *cache.Entry
	hit   bool
}

func (r *Resolver) fill(ctx context.Context, url, bucket string, key uint64, forceRefresh bool) (*Handle, error) {
	flightKey := bucket + "/" + cache.FileName(key)
	if forceRefresh {
		flightKey += "!refresh"
		// 强制刷新只能加入调用之后发起的回源，先前仍在进行的那一轮不再共享。
		r.flights.Forget(flightKey)
	}

	// 共享回源不随任何单个调用方取消。
	flightCtx := context.WithoutCancel(ctx)
	ch := r.flights.DoChan(flightKey, func() (interface{}, error) {
		if !forceRefresh {
			// 前一轮回源可能已在本次探测之后完成。
			entry, err := r.probe(flightCtx, bucket, key)
			if err != nil {
				return nil, r.classifyStoreError("resolve", bucket, url, err)
			}
			if entry != nil {
				return &fillResult{entry: entry, hit: true}, nil
			}
		}
		entry, err := r.fetchAndStore(flightCtx, url, bucket, key)
		if err != nil {
			return nil, err
		}
		return &fillResult{entry: entry}, nil
	})

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		out := res.Val.(*fillResult)
		return r.newHandle(url, out.entry, out.hit), nil
	}
}

func (r *Resolver) fetchAndStore(ctx context.Context, url, bucket string, key uint64) (*cache.Entry, error) {
	const op = "fetch"
	started := time.Now()
	fields := logging.ResolveFields(bucket, url, key, false)

	body, err := r.fetcher.Fetch(ctx, url)
	if err != nil {
		r.logger.WithError(err).WithFields(fields).Warn("cache_fill_failed")
		return nil, &Error{Kind: KindFetchFailed, Op: op, Bucket: bucket, URL: url, Err: err}
	}
	defer body.Close()

	src := &sourceReader{r: body}
	entry, err := r.store.WriteAtomic(ctx, bucket, key, src)
	if err != nil {
		r.logger.WithError(err).WithFields(fields).Warn("cache_fill_failed")
		if src.err != nil {
			return nil, &Error{Kind: KindFetchFailed, Op: op, Bucket: bucket, URL: url, Err: src.err}
		}
		return nil, r.classifyStoreError("store", bucket, url, err)
	}

	fields["size_bytes"] = entry.SizeBytes
	fields["elapsed_ms"] = time.Since(started).Milliseconds()
	r.logger.WithFields(fields).Info("cache_fill")
	return entry, nil
}

// probe 返回可用条目；条目缺失或长度为零时返回 (nil, nil)，按未命中处理。
func (r *Resolver) probe(ctx context.Context, bucket string, key uint64) (*cache.Entry, error) {
	entry, err := r.store.Probe(ctx, bucket, key)
	switch {
	case err == nil:
		if entry.SizeBytes == 0 {
			return nil, nil
		}
		return entry, nil
	case errors.Is(err, cache.ErrNotFound):
		return nil, nil
	default:
		return nil, err
	}
}

func (r *Resolver) classifyStoreError(op, bucket, url string, err error) error {
	if errors.Is(err, cache.ErrBucketNotFound) {
		return &Error{Kind: KindBucketNotFound, Op: op, Bucket: bucket, URL: url}
	}
	return storageError(op, bucket, url, err)
}

func (r *Resolver) newHandle(url string, entry *cache.Entry, hit bool) *Handle {
	return &Handle{
		Bucket:    entry.Bucket,
		URL:       url,
		Key:       entry.Key,
		FilePath:  entry.FilePath,
		SizeBytes: entry.SizeBytes,
		CacheHit:  hit,
		store:     r.store,
	}
}

// sourceReader 记录上游读取错误，用于区分 FetchFailed 与 StorageFailed。
type sourceReader struct {
	r   io.Reader
	err error
}

func (s *sourceReader) Read(p []byte) (int, error) {
	n, err := s.r.Read(p)
	if err != nil && !errors.Is(err, io.EOF) {
		s.err = err
	}
	return n, err
}
