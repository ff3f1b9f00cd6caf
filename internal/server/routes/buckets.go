package routes

import (
	"context"
	"encoding/json"
	"strconv"
	"strings"

	"github.com/gofiber/fiber/v3"

	"github.com/little-cache/little-cache/internal/cache"
	"github.com/little-cache/little-cache/internal/resolver"
	"github.com/little-cache/little-cache/internal/server"
)

// BucketAdmin 是 /-/buckets 接口所需的 bucket 生命周期能力。
type BucketAdmin interface {
	CreateBucket(ctx context.Context, name string) error
	DeleteBucket(ctx context.Context, name string, permanent bool) error
	ListBuckets(ctx context.Context) ([]string, error)
	EmptyTrash(ctx context.Context) error
}

// Prefetcher resolves many URLs into one bucket.
type Prefetcher interface {
	Prefetch(ctx context.Context, bucket string, urls []string) ([]*resolver.Handle, error)
}

// RegisterBucketRoutes 暴露 /-/buckets 管理接口，供运维创建、删除与预热 bucket。
func RegisterBucketRoutes(app *fiber.App, admin BucketAdmin, prefetcher Prefetcher) {
	if app == nil || admin == nil {
		return
	}

	app.Get("/-/buckets", func(c fiber.Ctx) error {
		names, err := admin.ListBuckets(c.Context())
		if err != nil {
			return renderErr(c, err)
		}
		if names == nil {
			names = []string{}
		}
		return c.JSON(fiber.Map{"buckets": names})
	})

	app.Put("/-/buckets/:name", func(c fiber.Ctx) error {
		if err := admin.CreateBucket(c.Context(), c.Params("name")); err != nil {
			return renderErr(c, err)
		}
		return c.SendStatus(fiber.StatusNoContent)
	})

	app.Delete("/-/buckets/:name", func(c fiber.Ctx) error {
		permanent := false
		if raw := strings.TrimSpace(c.Query("permanent")); raw != "" {
			parsed, err := strconv.ParseBool(raw)
			if err != nil {
				return server.RenderError(c, fiber.StatusBadRequest, "invalid_permanent")
			}
			permanent = parsed
		}
		if err := admin.DeleteBucket(c.Context(), c.Params("name"), permanent); err != nil {
			return renderErr(c, err)
		}
		return c.SendStatus(fiber.StatusNoContent)
	})

	app.Delete("/-/trash", func(c fiber.Ctx) error {
		if err := admin.EmptyTrash(c.Context()); err != nil {
			return renderErr(c, err)
		}
		return c.SendStatus(fiber.StatusNoContent)
	})

	if prefetcher == nil {
		return
	}

	app.Post("/-/buckets/:name/prefetch", func(c fiber.Ctx) error {
		var req prefetchRequest
		if err := json.Unmarshal(c.Body(), &req); err != nil {
			return server.RenderError(c, fiber.StatusBadRequest, "invalid_body")
		}
		handles, err := prefetcher.Prefetch(c.Context(), c.Params("name"), req.URLs)
		payload := fiber.Map{"entries": encodeHandles(req.URLs, handles)}
		if err != nil {
			status, code := server.StatusForError(err)
			payload["error"] = code
			return c.Status(status).JSON(payload)
		}
		return c.JSON(payload)
	})
}

type prefetchRequest struct {
	URLs []string `json:"urls"`
}

type entryPayload struct {
	URL       string `json:"url"`
	Key       string `json:"key,omitempty"`
	SizeBytes int64  `json:"size_bytes"`
	CacheHit  bool   `json:"cache_hit"`
	Failed    bool   `json:"failed,omitempty"`
}

func encodeHandles(urls []string, handles []*resolver.Handle) []entryPayload {
	if len(handles) == 0 {
		return []entryPayload{}
	}
	result := make([]entryPayload, 0, len(handles))
	for i, handle := range handles {
		if handle == nil {
			result = append(result, entryPayload{URL: urls[i], Failed: true})
			continue
		}
		result = append(result, entryPayload{
			URL:       handle.URL,
			Key:       cache.FileName(handle.Key),
			SizeBytes: handle.SizeBytes,
			CacheHit:  handle.CacheHit,
		})
	}
	return result
}

func renderErr(c fiber.Ctx, err error) error {
	status, code := server.StatusForError(err)
	return server.RenderError(c, status, code)
}
