package specialerror

import (
	"context"
	"errors"
	"sync"

	"PPDirect/tools/errs"
)

// 把任意 error 翻译为下发给客户端的 {code, message}

var (
	mu       sync.RWMutex
	handlers []func(err error) *errs.CodeError
)

func init() {
	_ = AddErrHandler(func(err error) *errs.CodeError {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
			ce := errs.ErrPersistence
			return &ce
		}
		return nil
	})
}

// AddErrHandler 注册额外的翻译规则，返回非 nil 即命中。
func AddErrHandler(h func(err error) *errs.CodeError) (err error) {
	if h == nil {
		return errs.New("nil handler")
	}
	mu.Lock()
	handlers = append(handlers, h)
	mu.Unlock()
	return nil
}

// ErrCode 取出包装链里的 CodeError，再按注册顺序尝试 handler。
func ErrCode(err error) *errs.CodeError {
	if err == nil {
		return nil
	}
	if ce, ok := errs.FromError(err); ok {
		return ce
	}
	mu.RLock()
	defer mu.RUnlock()
	for _, h := range handlers {
		if ce := h(err); ce != nil {
			return ce
		}
	}
	return nil
}

// ToClient 返回可以安全下发的错误码与文案；内部错误一律是 "internal error"。
func ToClient(err error) (int, string) {
	ce := ErrCode(err)
	if ce == nil || ce.Code == errs.CodePersistence || ce.Code == errs.ServerInternalError {
		return errs.CodePersistence, errs.ErrPersistence.Msg
	}
	if ce.Detail != "" {
		return ce.Code, ce.Msg + ": " + ce.Detail
	}
	return ce.Code, ce.Msg
}
