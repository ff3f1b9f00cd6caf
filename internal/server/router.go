package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/gofiber/fiber/v3"
	"github.com/gofiber/fiber/v3/middleware/recover"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/little-cache/little-cache/internal/cache"
	"github.com/little-cache/little-cache/internal/logging"
	"github.com/little-cache/little-cache/internal/resolver"
)

// Response headers describing how a request was served.
const (
	HeaderCacheHit  = "X-Little-Cache-Hit"
	HeaderCacheKey  = "X-Little-Cache-Key"
	HeaderRequestID = "X-Request-ID"
)

// EntryResolver describes the component that turns (url, bucket) into a cached
// entry. It allows injecting fake resolvers during tests.
type EntryResolver interface {
	Resolve(ctx context.Context, url, bucket string, forceRefresh bool) (*resolver.Handle, error)
}

// AppOptions controls how the Fiber application should behave.
type AppOptions struct {
	Logger   *logrus.Logger
	Resolver EntryResolver
	// DefaultBucket 为空时 /-/fetch 返回 404。
	DefaultBucket string
	ListenPort    int
}

const contextKeyRequestID = "_littlecache_request_id"

// NewApp builds a Fiber application that serves cache entries and structured
// errors. Admin routes are attached separately via routes.RegisterBucketRoutes.
func NewApp(opts AppOptions) (*fiber.App, error) {
	if opts.Logger == nil {
		return nil, errors.New("logger is required")
	}
	if opts.Resolver == nil {
		return nil, errors.New("resolver is required")
	}
	if opts.ListenPort <= 0 {
		return nil, fmt.Errorf("invalid listen port: %d", opts.ListenPort)
	}

	app := fiber.New(fiber.Config{
		CaseSensitive: true,
	})

	app.Use(recover.New())
	app.Use(requestIDMiddleware())

	handler := &entryHandler{resolver: opts.Resolver, logger: opts.Logger}

	app.Get("/-/fetch", func(c fiber.Ctx) error {
		if opts.DefaultBucket == "" {
			return RenderError(c, fiber.StatusNotFound, "default_bucket_unset")
		}
		return handler.serve(c, opts.DefaultBucket)
	})
	// 单级路径，不会与 /-/ 下的诊断路由冲突。
	app.Get("/:bucket", func(c fiber.Ctx) error {
		return handler.serve(c, c.Params("bucket"))
	})

	return app, nil
}

// requestIDMiddleware 为每个请求生成请求 ID，并写入响应头。
func requestIDMiddleware() fiber.Handler {
	return func(c fiber.Ctx) error {
		reqID := uuid.NewString()
		c.Locals(contextKeyRequestID, reqID)
		c.Set(HeaderRequestID, reqID)
		return c.Next()
	}
}

// RequestID returns the request identifier stored by the router middleware.
func RequestID(c fiber.Ctx) string {
	if value := c.Locals(contextKeyRequestID); value != nil {
		if reqID, ok := value.(string); ok {
			return reqID
		}
	}
	return ""
}

// RenderError 输出统一的 JSON 错误体。
func RenderError(c fiber.Ctx, status int, code string) error {
	return c.Status(status).JSON(fiber.Map{"error": code})
}

// StatusForError 将 resolver 错误类别映射为 HTTP 状态码与错误码。
func StatusForError(err error) (int, string) {
	switch kind := resolver.KindOf(err); kind {
	case resolver.KindInvalidArgument:
		return fiber.StatusBadRequest, string(kind)
	case resolver.KindBucketNotFound:
		return fiber.StatusNotFound, string(kind)
	case resolver.KindFetchFailed:
		return fiber.StatusBadGateway, string(kind)
	case resolver.KindStorageFailed:
		return fiber.StatusInternalServerError, string(kind)
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return fiber.StatusGatewayTimeout, "timeout"
	}
	return fiber.StatusInternalServerError, "internal_error"
}

type entryHandler struct {
	resolver EntryResolver
	logger   *logrus.Logger
}

// serve 执行解析并将条目正文流式写回，任何阶段出错都会输出结构化日志。
func (h *entryHandler) serve(c fiber.Ctx, bucket string) error {
	started := time.Now()
	rawURL := c.Query("url")

	force := false
	if raw := c.Query("refresh"); raw != "" {
		parsed, err := strconv.ParseBool(raw)
		if err != nil {
			return RenderError(c, fiber.StatusBadRequest, "invalid_refresh")
		}
		force = parsed
	}

	var ctx context.Context = c.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	handle, err := h.resolver.Resolve(ctx, rawURL, bucket, force)
	if err != nil {
		status, code := StatusForError(err)
		h.logResult(c, bucket, rawURL, 0, false, status, started, err)
		return RenderError(c, status, code)
	}

	body, err := handle.Open(ctx)
	if err != nil {
		status, code := StatusForError(err)
		h.logResult(c, bucket, rawURL, handle.Key, handle.CacheHit, status, started, err)
		return RenderError(c, status, code)
	}
	defer body.Close()

	sniff := make([]byte, 512)
	n, err := io.ReadFull(body, sniff)
	if err != nil && !errors.Is(err, io.EOF) && !errors.Is(err, io.ErrUnexpectedEOF) {
		h.logResult(c, bucket, rawURL, handle.Key, handle.CacheHit, fiber.StatusInternalServerError, started, err)
		return RenderError(c, fiber.StatusInternalServerError, string(resolver.KindStorageFailed))
	}
	sniff = sniff[:n]

	c.Set(fiber.HeaderContentType, http.DetectContentType(sniff))
	c.Set(HeaderCacheHit, strconv.FormatBool(handle.CacheHit))
	c.Set(HeaderCacheKey, cache.FileName(handle.Key))
	c.Status(fiber.StatusOK)

	w := c.Response().BodyWriter()
	_, err = w.Write(sniff)
	if err == nil {
		_, err = io.Copy(w, body)
	}
	h.logResult(c, bucket, rawURL, handle.Key, handle.CacheHit, fiber.StatusOK, started, err)
	if err != nil {
		return fiber.NewError(fiber.StatusInternalServerError, fmt.Sprintf("read cache failed: %v", err))
	}
	return nil
}

func (h *entryHandler) logResult(c fiber.Ctx, bucket, url string, key uint64, hit bool, status int, started time.Time, err error) {
	fields := logging.ResolveFields(bucket, url, key, hit)
	fields["action"] = "serve"
	fields["status"] = status
	fields["elapsed_ms"] = time.Since(started).Milliseconds()
	if reqID := RequestID(c); reqID != "" {
		fields["request_id"] = reqID
	}
	if err != nil {
		h.logger.WithError(err).WithFields(fields).Warn("serve_failed")
		return
	}
	h.logger.WithFields(fields).Info("serve")
}
