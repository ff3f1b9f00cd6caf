package resolver

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// Kind 区分调用方需要分别处理的失败类别。
type Kind string

const (
	KindInvalidArgument Kind = "invalid_argument"
	KindBucketNotFound  Kind = "bucket_not_found"
	KindFetchFailed     Kind = "fetch_failed"
	KindStorageFailed   Kind = "storage_failed"
)

// 供 errors.Is 匹配的哨兵错误，只比较 Kind。
var (
	ErrInvalidArgument = &Error{Kind: KindInvalidArgument}
	ErrBucketNotFound  = &Error{Kind: KindBucketNotFound}
	ErrFetchFailed     = &Error{Kind: KindFetchFailed}
	ErrStorageFailed   = &Error{Kind: KindStorageFailed}
)

// Error 携带失败类别、操作名与上下文字段，Err 为底层原因（可为空）。
type Error struct {
	Kind   Kind
	Op     string
	Bucket string
	URL    string
	Err    error
}

func (e *Error) Error() string {
	var b strings.Builder
	if e.Op != "" {
		b.WriteString(e.Op)
		b.WriteString(": ")
	}
	b.WriteString(string(e.Kind))
	if e.Bucket != "" {
		fmt.Fprintf(&b, " bucket=%q", e.Bucket)
	}
	if e.URL != "" {
		fmt.Fprintf(&b, " url=%q", e.URL)
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches any *Error with the same Kind, so the package sentinels work with errors.Is.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Kind == e.Kind
}

// KindOf 返回 err 链中第一个 *Error 的类别，非本包错误返回空字符串。
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

func invalidArgument(op, bucket, url, reason string) error {
	return &Error{Kind: KindInvalidArgument, Op: op, Bucket: bucket, URL: url, Err: errors.New(reason)}
}

// storageError 将存储层错误归类为 StorageFailed；context 取消原样返回，不属于存储故障。
func storageError(op, bucket, url string, err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return &Error{Kind: KindStorageFailed, Op: op, Bucket: bucket, URL: url, Err: err}
}
