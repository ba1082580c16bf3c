package safe

import (
	"context"
	"fmt"
	"runtime/debug"

	"go.uber.org/zap"
	"wsquote.com/pkg/logger"
)

// GoCtx 安全启动协程：panic 会被记录，不会带崩整个进程
// onPanic 可为 nil；不为 nil 时把 panic 转成 error 交给调用方
func GoCtx(ctx context.Context, fn func(ctx context.Context), onPanic func(error)) {
	if ctx == nil {
		ctx = context.Background()
	}

	go func() {
		defer func() {
			if r := recover(); r != nil {
				err := report(ctx, r)
				if onPanic != nil {
					onPanic(err)
				}
			}
		}()

		fn(ctx)
	}()
}

// Run 同步执行 fn，panic 转成 error 返回（给 errgroup 用）
func Run(ctx context.Context, fn func(ctx context.Context) error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = report(ctx, r)
		}
	}()
	return fn(ctx)
}

func report(ctx context.Context, r any) error {
	logger.Error(ctx, "goroutine panic recovered",
		zap.Any("panic", r),
		zap.String("stack", string(debug.Stack())),
	)
	return fmt.Errorf("panic: %v", r)
}
