package resolver

import (
	"context"
	"errors"

	"github.com/sirupsen/logrus"

	"github.com/little-cache/little-cache/internal/cache"
	"github.com/little-cache/little-cache/internal/logging"
)

// Manager 负责 bucket 的创建与删除。创建是幂等的，删除对不存在的目标容忍。
type Manager struct {
	store  cache.Store
	logger *logrus.Logger
}

// NewManager constructs a Manager over store. A nil logger discards output.
func NewManager(store cache.Store, logger *logrus.Logger) (*Manager, error) {
	if store == nil {
		return nil, errors.New("cache store is required")
	}
	if logger == nil {
		logger = logging.Discard()
	}
	return &Manager{store: store, logger: logger}, nil
}

// CreateBucket 创建 bucket，已存在时静默成功。
func (m *Manager) CreateBucket(ctx context.Context, name string) error {
	const op = "create_bucket"
	if err := cache.ValidateBucketName(name); err != nil {
		return invalidArgument(op, name, "", err.Error())
	}
	if err := m.store.EnsureBucket(ctx, name); err != nil {
		return storageError(op, name, "", err)
	}
	m.logger.WithFields(logging.BucketFields(op, name)).Debug("bucket ready")
	return nil
}

// CreateBuckets 按顺序创建多个 bucket。遇到第一个非法名称即中止，
// 已创建的 bucket 不会回滚。
func (m *Manager) CreateBuckets(ctx context.Context, names []string) error {
	const op = "create_buckets"
	if len(names) == 0 {
		return invalidArgument(op, "", "", "at least one bucket name is required")
	}
	for _, name := range names {
		if err := cache.ValidateBucketName(name); err != nil {
			return invalidArgument(op, name, "", err.Error())
		}
		if err := m.CreateBucket(ctx, name); err != nil {
			return err
		}
	}
	return nil
}

// DeleteBucket 删除 bucket；permanent 为 false 时移入回收目录以便恢复。
// 不存在的 bucket 视为删除成功。
func (m *Manager) DeleteBucket(ctx context.Context, name string, permanent bool) error {
	const op = "delete_bucket"
	if err := cache.ValidateBucketName(name); err != nil {
		return invalidArgument(op, name, "", err.Error())
	}
	if err := m.store.DeleteBucket(ctx, name, permanent); err != nil {
		return storageError(op, name, "", err)
	}
	fields := logging.BucketFields(op, name)
	fields["permanent"] = permanent
	m.logger.WithFields(fields).Info("bucket deleted")
	return nil
}

// DeleteAllBuckets removes every bucket, continuing past failures and
// returning them joined.
func (m *Manager) DeleteAllBuckets(ctx context.Context, permanent bool) error {
	names, err := m.ListBuckets(ctx)
	if err != nil {
		return err
	}
	var errs []error
	for _, name := range names {
		if err := m.DeleteBucket(ctx, name, permanent); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// ListBuckets returns the bucket names in lexical order.
func (m *Manager) ListBuckets(ctx context.Context) ([]string, error) {
	names, err := m.store.ListBuckets(ctx)
	if err != nil {
		return nil, storageError("list_buckets", "", "", err)
	}
	return names, nil
}

// EmptyTrash 永久删除所有曾被可恢复删除的 bucket。
func (m *Manager) EmptyTrash(ctx context.Context) error {
	if err := m.store.EmptyTrash(ctx); err != nil {
		return storageError("empty_trash", "", "", err)
	}
	m.logger.WithField("action", "empty_trash").Info("trash emptied")
	return nil
}
