package cache

import (
	"context"
	"errors"
	"io"
	"time"
)

// Store 负责管理磁盘缓存的读写。磁盘布局遵循：
//
//	<StoragePath>/<bucket>/<key>    # 原始正文，无任何头部
//	<StoragePath>/.trash/<bucket>-<uuid>    # 可恢复删除的 bucket
//
// 每个条目仅由正文文件组成，文件的 ModTime/Size 由文件系统提供。
type Store interface {
	// EnsureBucket 创建 bucket 目录，已存在时直接返回。
	EnsureBucket(ctx context.Context, bucket string) error

	// BucketExists 判断 bucket 目录是否存在。
	BucketExists(ctx context.Context, bucket string) (bool, error)

	// Probe 返回条目信息；条目不存在时返回 ErrNotFound，bucket 不存在时返回 ErrBucketNotFound。
	Probe(ctx context.Context, bucket string, key uint64) (*Entry, error)

	// Open 返回一个可流式读取的缓存条目。若不存在则返回 ErrNotFound。
	Open(ctx context.Context, bucket string, key uint64) (*ReadResult, error)

	// WriteAtomic 将 body 写入临时文件后 rename 覆盖目标条目，失败时清理临时文件，
	// 并发读者只会看到旧内容或完整的新内容。
	WriteAtomic(ctx context.Context, bucket string, key uint64, body io.Reader) (*Entry, error)

	// DeleteBucket 删除 bucket；permanent 为 false 时移动到回收目录。不存在时视为成功。
	DeleteBucket(ctx context.Context, bucket string, permanent bool) error

	// ListBuckets 返回按名称排序的 bucket 列表，不包含回收目录。
	ListBuckets(ctx context.Context) ([]string, error)

	// EmptyTrash 永久删除回收目录中的全部内容。
	EmptyTrash(ctx context.Context) error
}

// Entry 描述一个已落盘的缓存条目。
type Entry struct {
	Bucket    string    `json:"bucket"`
	Key       uint64    `json:"key"`
	FilePath  string    `json:"file_path"`
	SizeBytes int64     `json:"size_bytes"`
	ModTime   time.Time `json:"mod_time"`
}

// ReadResult 组合 Entry 与正文 Reader，便于上层直接将 Body 流式返回。
type ReadResult struct {
	Entry  Entry
	Reader io.ReadSeekCloser
}

var (
	// ErrNotFound 表示缓存条目不存在。
	ErrNotFound = errors.New("cache entry not found")
	// ErrBucketNotFound 表示 bucket 目录不存在。
	ErrBucketNotFound = errors.New("cache bucket not found")
	// ErrInvalidBucket 表示 bucket 名称为空或不是单级目录名。
	ErrInvalidBucket = errors.New("invalid bucket name")
)
