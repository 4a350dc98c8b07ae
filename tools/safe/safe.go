package safe

import (
	"fmt"
	"reflect"

	"PPDirect/logger"
	"PPDirect/tools/errs"

	"go.uber.org/zap"
)

// MustNotNil panics if the given value is nil.
// Useful for enforcing required dependencies during service construction.
func MustNotNil(v any, name string) {
	if v == nil {
		panic(fmt.Sprintf("%s must not be nil", name))
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Ptr, reflect.Map, reflect.Slice, reflect.Func, reflect.Interface, reflect.Chan:
		if rv.IsNil() {
			panic(fmt.Sprintf("%s must not be nil", name))
		}
	}
}

// Recover converts a panic into an error; use as `defer safe.Recover(&err)`.
func Recover(errp *error) {
	if r := recover(); r != nil {
		e := errs.ErrPanic(r)
		logger.Error("panic recovered", zap.Error(e))
		if errp != nil {
			*errp = e
		}
	}
}

// SafeGo starts a new goroutine that recovers from panic,
// so that panics don't crash the entire program.
func SafeGo(name string, f func()) {
	go func() {
		defer func() {
			if r := recover(); r != nil {
				logger.Error("goroutine panic recovered",
					zap.String("goroutine", name),
					zap.Error(errs.ErrPanic(r)))
			}
		}()
		f()
	}()
}
