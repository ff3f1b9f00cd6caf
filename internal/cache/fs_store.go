package cache

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/spf13/afero"
)

// TrashDir 是可恢复删除的 bucket 所在目录，位于存储根目录下。
const TrashDir = ".trash"

// NewStore 以 basePath 为根目录构建磁盘缓存，整个进程复用一份实例。
func NewStore(basePath string) (Store, error) {
	if basePath == "" {
		return nil, errors.New("storage path required")
	}

	abs, err := filepath.Abs(basePath)
	if err != nil {
		return nil, fmt.Errorf("resolve storage path: %w", err)
	}

	if err := os.MkdirAll(abs, 0o755); err != nil {
		return nil, fmt.Errorf("create storage path: %w", err)
	}

	return newFileStore(afero.NewBasePathFs(afero.NewOsFs(), abs), abs), nil
}

// NewStoreFs builds a Store on top of an arbitrary afero filesystem whose root
// is the storage root. Entry.FilePath is reported relative to that root.
func NewStoreFs(fsys afero.Fs) Store {
	return newFileStore(fsys, "")
}

func newFileStore(fsys afero.Fs, root string) *fileStore {
	return &fileStore{
		fsys:  fsys,
		root:  root,
		locks: make(map[string]*entryLock),
	}
}

// fileStore 通过 entryLock 避免同一条目并发写入，同时复用同一个 afero.Fs。
type fileStore struct {
	fsys afero.Fs
	root string

	mu    sync.Mutex
	locks map[string]*entryLock
}

type entryLock struct {
	mu   sync.Mutex
	refs int
}

// ValidateBucketName 要求 bucket 为非空的单级目录名，且不能以 "." 开头（保留给回收目录与临时文件）。
func ValidateBucketName(bucket string) error {
	switch {
	case bucket == "":
		return fmt.Errorf("%w: empty", ErrInvalidBucket)
	case bucket == "." || bucket == "..":
		return fmt.Errorf("%w: %q", ErrInvalidBucket, bucket)
	case strings.ContainsAny(bucket, `/\`):
		return fmt.Errorf("%w: %q contains a path separator", ErrInvalidBucket, bucket)
	case strings.HasPrefix(bucket, "."):
		return fmt.Errorf("%w: %q is reserved", ErrInvalidBucket, bucket)
	}
	return nil
}

func (s *fileStore) EnsureBucket(ctx context.Context, bucket string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := ValidateBucketName(bucket); err != nil {
		return err
	}
	return s.fsys.MkdirAll(bucket, 0o755)
}

func (s *fileStore) BucketExists(ctx context.Context, bucket string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	if err := ValidateBucketName(bucket); err != nil {
		return false, err
	}
	return afero.DirExists(s.fsys, bucket)
}

func (s *fileStore) Probe(ctx context.Context, bucket string, key uint64) (*Entry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := s.requireBucket(bucket); err != nil {
		return nil, err
	}

	rel := entryPath(bucket, key)
	info, err := s.fsys.Stat(rel)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	if info.IsDir() {
		return nil, ErrNotFound
	}

	return &Entry{
		Bucket:    bucket,
		Key:       key,
		FilePath:  s.absPath(rel),
		SizeBytes: info.Size(),
		ModTime:   info.ModTime(),
	}, nil
}

func (s *fileStore) Open(ctx context.Context, bucket string, key uint64) (*ReadResult, error) {
	entry, err := s.Probe(ctx, bucket, key)
	if err != nil {
		return nil, err
	}

	f, err := s.fsys.Open(entryPath(bucket, key))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, ErrNotFound
		}
		return nil, err
	}

	return &ReadResult{
		Entry:  *entry,
		Reader: f,
	}, nil
}

func (s *fileStore) WriteAtomic(ctx context.Context, bucket string, key uint64, body io.Reader) (*Entry, error) {
	if err := s.requireBucket(bucket); err != nil {
		return nil, err
	}

	unlock := s.lockEntry(bucket, key)
	defer unlock()

	tempFile, err := afero.TempFile(s.fsys, bucket, ".cache-*")
	if err != nil {
		return nil, err
	}
	tempName := tempFile.Name()

	written, err := copyWithContext(ctx, tempFile, body)
	closeErr := tempFile.Close()
	if err == nil {
		err = closeErr
	}
	if err != nil {
		s.fsys.Remove(tempName)
		return nil, err
	}

	rel := entryPath(bucket, key)
	if err := s.fsys.Rename(tempName, rel); err != nil {
		s.fsys.Remove(tempName)
		return nil, err
	}

	entry := Entry{
		Bucket:    bucket,
		Key:       key,
		FilePath:  s.absPath(rel),
		SizeBytes: written,
	}
	if info, err := s.fsys.Stat(rel); err == nil {
		entry.ModTime = info.ModTime()
	}
	return &entry, nil
}

func (s *fileStore) DeleteBucket(ctx context.Context, bucket string, permanent bool) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := ValidateBucketName(bucket); err != nil {
		return err
	}

	exists, err := afero.DirExists(s.fsys, bucket)
	if err != nil || !exists {
		return err
	}

	if permanent {
		return s.fsys.RemoveAll(bucket)
	}

	if err := s.fsys.MkdirAll(TrashDir, 0o755); err != nil {
		return err
	}
	target := filepath.Join(TrashDir, bucket+"-"+uuid.NewString())
	return s.fsys.Rename(bucket, target)
}

func (s *fileStore) ListBuckets(ctx context.Context) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	infos, err := afero.ReadDir(s.fsys, ".")
	if err != nil {
		return nil, err
	}

	names := make([]string, 0, len(infos))
	for _, info := range infos {
		if !info.IsDir() || strings.HasPrefix(info.Name(), ".") {
			continue
		}
		names = append(names, info.Name())
	}
	sort.Strings(names)
	return names, nil
}

func (s *fileStore) EmptyTrash(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.fsys.RemoveAll(TrashDir)
}

func (s *fileStore) requireBucket(bucket string) error {
	if err := ValidateBucketName(bucket); err != nil {
		return err
	}
	exists, err := afero.DirExists(s.fsys, bucket)
	if err != nil {
		return err
	}
	if !exists {
		return ErrBucketNotFound
	}
	return nil
}

func (s *fileStore) lockEntry(bucket string, key uint64) func() {
	lockKey := bucket + "::" + FileName(key)
	s.mu.Lock()
	lock := s.locks[lockKey]
	if lock == nil {
		lock = &entryLock{}
		s.locks[lockKey] = lock
	}
	lock.refs++
	s.mu.Unlock()

	lock.mu.Lock()
	return func() {
		lock.mu.Unlock()
		s.mu.Lock()
		lock.refs--
		if lock.refs == 0 {
			delete(s.locks, lockKey)
		}
		s.mu.Unlock()
	}
}

func (s *fileStore) absPath(rel string) string {
	if s.root == "" {
		return rel
	}
	return filepath.Join(s.root, rel)
}

func entryPath(bucket string, key uint64) string {
	return filepath.Join(bucket, FileName(key))
}

func copyWithContext(ctx context.Context, dst io.Writer, src io.Reader) (int64, error) {
	var copied int64
	buf := make([]byte, 32*1024)
	for {
		if err := ctx.Err(); err != nil {
			return copied, err
		}
		n, err := src.Read(buf)
		if n > 0 {
			w, wErr := dst.Write(buf[:n])
			copied += int64(w)
			if wErr != nil {
				return copied, wErr
			}
			if w < n {
				return copied, io.ErrShortWrite
			}
		}
		if err != nil {
			if errors.Is(err, io.EOF) {
				return copied, nil
			}
			return copied, err
		}
	}
}
