// Package fault 定义了引擎统一的错误分类。
package fault

import (
	"context"
	"errors"
	"fmt"
	"net/http"
)

// Kind 是错误的类别，决定是否重试以及对外暴露的 HTTP 状态码。
type Kind string

const (
	KindValidation        Kind = "validation"
	KindUnsupportedFormat Kind = "unsupported_format"
	KindUnsupported       Kind = "unsupported"
	KindBlocked           Kind = "blocked"
	KindSourceNotFound    Kind = "source_not_found"
	KindTimeout           Kind = "timeout"
	KindConversion        Kind = "conversion"
	KindStorage           Kind = "storage"
	KindNotFound          Kind = "not_found"
	KindCanceled          Kind = "canceled"
	KindInternal          Kind = "internal"
)

// Error 携带类别和发生错误的操作名。
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	msg := string(e.Kind)
	if e.Err != nil {
		msg = e.Err.Error()
	}
	if e.Op == "" {
		return msg
	}
	return e.Op + ": " + msg
}

func (e *Error) Unwrap() error { return e.Err }

// E 用给定类别包装 err。err 为 nil 时返回 nil。
func E(kind Kind, op string, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Op: op, Err: err}
}

// Errorf 创建一个新的分类错误。
func Errorf(kind Kind, op, format string, args ...any) error {
	return &Error{Kind: kind, Op: op, Err: fmt.Errorf(format, args...)}
}

// KindOf 返回错误链上最外层的类别。
// 未分类的 context 错误分别映射为 timeout 和 canceled。
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Kind
	}
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return KindTimeout
	case errors.Is(err, context.Canceled):
		return KindCanceled
	}
	return KindInternal
}

// Is 判断 err 是否属于 kind。
func Is(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}

// Retryable 判断错误是否属于瞬时故障（被限流、上游 5xx、超时）。
func Retryable(err error) bool {
	switch KindOf(err) {
	case KindBlocked, KindTimeout:
		return true
	default:
		return false
	}
}

// HTTPStatus 把错误类别映射为 HTTP 状态码。
func HTTPStatus(err error) int {
	switch KindOf(err) {
	case KindValidation, KindUnsupportedFormat, KindUnsupported, KindSourceNotFound:
		return http.StatusBadRequest
	case KindNotFound:
		return http.StatusNotFound
	case KindBlocked:
		return http.StatusBadGateway
	case KindTimeout:
		return http.StatusGatewayTimeout
	case KindCanceled:
		return http.StatusConflict
	case KindConversion, KindStorage:
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}
