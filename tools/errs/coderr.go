package errs

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	pkgerrors "github.com/pkg/errors"
)

// 业务错误码
const (
	CodeAuthentication   = 1001
	CodeBlocked          = 1002
	CodeNotFound         = 1003
	CodePersistence      = 1004
	CodeInvalidArgument  = 1005
	CodeUnsupportedEvent = 1006
	ServerInternalError  = 500
)

var (
	ErrAuthentication   = NewCodeError(CodeAuthentication, "authentication failed")
	ErrBlocked          = NewCodeError(CodeBlocked, "you are blocked by this user")
	ErrNotFound         = NewCodeError(CodeNotFound, "not found")
	ErrPersistence      = NewCodeError(CodePersistence, "internal error")
	ErrInvalidArgument  = NewCodeError(CodeInvalidArgument, "invalid argument")
	ErrUnsupportedEvent = NewCodeError(CodeUnsupportedEvent, "unsupported event")
)

func NewCodeError(code int, msg string) CodeError {
	return CodeError{
		Code: code,
		Msg:  msg,
	}
}

type CodeError struct {
	Code   int    `json:"code"`
	Msg    string `json:"msg"`
	Detail string `json:"detail,omitempty"`
}

func (e *CodeError) WithDetail(detail string) CodeError {
	var d string
	if e.Detail == "" {
		d = detail
	} else {
		d = e.Detail + ", " + detail
	}
	return CodeError{
		Code:   e.Code,
		Msg:    e.Msg,
		Detail: d,
	}
}

// Wrap 带调用栈返回一份拷贝
func (e *CodeError) Wrap() error {
	return pkgerrors.WithStack(e.clone())
}

func (e *CodeError) clone() *CodeError {
	return &CodeError{
		Code:   e.Code,
		Msg:    e.Msg,
		Detail: e.Detail,
	}
}

func (e *CodeError) WrapMsg(msg string, kv ...any) error {
	retErr := e.clone()
	if msg != "" || len(kv) > 0 {
		detail := toString(msg, kv)
		if retErr.Detail == "" {
			retErr.Detail = detail
		} else {
			retErr.Detail += ", " + detail
		}
	}
	return pkgerrors.WithStack(retErr)
}

// Is 按错误码比较；errors.Is(err, &errs.ErrBlocked) 也会走到这里
func (e *CodeError) Is(err error) bool {
	codeErr, ok := FromError(err)
	if !ok {
		return err == nil && e == nil
	}
	if e == nil {
		return false
	}
	return e.Code == codeErr.Code
}

const initialCapacity = 3

func (e *CodeError) Error() string {
	v := make([]string, 0, initialCapacity)
	v = append(v, strconv.Itoa(e.Code), e.Msg)

	if e.Detail != "" {
		v = append(v, e.Detail)
	}

	return strings.Join(v, " ")
}

// FromError 从包装链里取出 CodeError
func FromError(err error) (*CodeError, bool) {
	var codeErr *CodeError
	if errors.As(err, &codeErr) {
		return codeErr, true
	}
	return nil, false
}

// Code 取错误码；非 CodeError 视为内部错误
func Code(err error) int {
	if err == nil {
		return 0
	}
	if ce, ok := FromError(err); ok {
		return ce.Code
	}
	return ServerInternalError
}

func New(msg string, kv ...any) error {
	return pkgerrors.New(toString(msg, kv))
}

func Wrap(err error) error {
	if err == nil {
		return nil
	}
	return pkgerrors.WithStack(err)
}

func WrapMsg(err error, msg string, kv ...any) error {
	if err == nil {
		return nil
	}
	return pkgerrors.Wrap(err, toString(msg, kv))
}

func toString(msg string, kv []any) string {
	if len(kv) == 0 {
		return msg
	}
	var sb strings.Builder
	sb.WriteString(msg)
	for i := 0; i < len(kv); i += 2 {
		if sb.Len() > 0 {
			sb.WriteString(", ")
		}
		sb.WriteString(fmt.Sprint(kv[i]))
		sb.WriteString("=")
		if i+1 < len(kv) {
			sb.WriteString(fmt.Sprint(kv[i+1]))
		} else {
			sb.WriteString("MISSING")
		}
	}
	return sb.String()
}
