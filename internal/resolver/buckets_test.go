package resolver

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/little-cache/little-cache/internal/cache"
)

func TestCreateBucketIsIdempotent(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		if err := env.manager.CreateBucket(ctx, "images"); err != nil {
			t.Fatalf("create #%d error: %v", i, err)
		}
	}
	if info, err := os.Stat(filepath.Join(env.root, "images")); err != nil || !info.IsDir() {
		t.Fatalf("bucket directory should exist (err=%v)", err)
	}
}

func TestCreateBucketRejectsEmptyName(t *testing.T) {
	env := newTestEnv(t)
	if err := env.manager.CreateBucket(context.Background(), ""); !errors.Is(err, ErrInvalidArgument) {
		t.Fatalf("expected ErrInvalidArgument, got %v", err)
	}
}

func TestCreateBucketsRejectsEmptyList(t *testing.T) {
	env := newTestEnv(t)
	if err := env.manager.CreateBuckets(context.Background(), nil); !errors.Is(err, ErrInvalidArgument) {
		t.Fatalf("expected ErrInvalidArgument for empty list, got %v", err)
	}
	if err := env.manager.CreateBuckets(context.Background(), []string{}); !errors.Is(err, ErrInvalidArgument) {
		t.Fatalf("expected ErrInvalidArgument for empty slice, got %v", err)
	}
}

func TestCreateBucketsFailsFastWithoutRollback(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	err := env.manager.CreateBuckets(ctx, []string{"a", "", "b"})
	if !errors.Is(err, ErrInvalidArgument) {
		t.Fatalf("expected ErrInvalidArgument, got %v", err)
	}

	names, err := env.manager.ListBuckets(ctx)
	if err != nil {
		t.Fatalf("list error: %v", err)
	}
	if strings.Join(names, ",") != "a" {
		t.Fatalf("expected only bucket a to exist, got %v", names)
	}
}

func TestCreateBucketsCreatesAll(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	if err := env.manager.CreateBuckets(ctx, []string{"test1", "test2", "test3"}); err != nil {
		t.Fatalf("create error: %v", err)
	}
	names, _ := env.manager.ListBuckets(ctx)
	if strings.Join(names, ",") != "test1,test2,test3" {
		t.Fatalf("unexpected buckets %v", names)
	}
}

func TestDeleteBucketMissingIsNoop(t *testing.T) {
	env := newTestEnv(t)
	for _, permanent := range []bool{false, true} {
		if err := env.manager.DeleteBucket(context.Background(), "nonexistent", permanent); err != nil {
			t.Fatalf("deleting a missing bucket should succeed (permanent=%v): %v", permanent, err)
		}
	}
}

func TestDeleteBucketThenResolveFails(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.createBucket(t, "images")
	env.fetcher.setPayload([]byte("img"))

	if _, err := env.resolver.Resolve(ctx, "http://x/img.png", "images", false); err != nil {
		t.Fatalf("resolve error: %v", err)
	}
	if err := env.manager.DeleteBucket(ctx, "images", false); err != nil {
		t.Fatalf("delete error: %v", err)
	}
	if _, err := env.resolver.Resolve(ctx, "http://x/img.png", "images", false); !errors.Is(err, ErrBucketNotFound) {
		t.Fatalf("expected ErrBucketNotFound after delete, got %v", err)
	}

	recovered, _ := filepath.Glob(filepath.Join(env.root, cache.TrashDir, "images-*"))
	if len(recovered) != 1 {
		t.Fatalf("recoverable delete should keep a trash copy, got %v", recovered)
	}
	if err := env.manager.EmptyTrash(ctx); err != nil {
		t.Fatalf("empty trash error: %v", err)
	}
	recovered, _ = filepath.Glob(filepath.Join(env.root, cache.TrashDir, "images-*"))
	if len(recovered) != 0 {
		t.Fatalf("trash should be empty, got %v", recovered)
	}
}

func TestDeleteAllBuckets(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	if err := env.manager.CreateBuckets(ctx, []string{"a", "b"}); err != nil {
		t.Fatalf("create error: %v", err)
	}

	if err := env.manager.DeleteAllBuckets(ctx, true); err != nil {
		t.Fatalf("delete all error: %v", err)
	}
	names, _ := env.manager.ListBuckets(ctx)
	if len(names) != 0 {
		t.Fatalf("expected no buckets, got %v", names)
	}
}

func TestNewManagerRequiresStore(t *testing.T) {
	if _, err := NewManager(nil, nil); err == nil {
		t.Fatalf("nil store should be rejected")
	}
}
