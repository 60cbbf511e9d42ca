// Package recovery 在消息处理边界把 panic 转换为错误.
//
// 消费循环对每条投递调用 Run，处理函数中的 panic 不会终止循环，
// 而是以 *PanicError 返回并按处理失败对待.
package recovery

import (
	"context"
	"fmt"
	"runtime"

	"github.com/Tsukikage7/orderflow/logger"
)

// Handler 是 panic 处理函数，返回值替代默认的 *PanicError.
type Handler func(ctx context.Context, p any, stack []byte) error

// Options 配置选项.
type Options struct {
	// Logger 日志记录器，默认不输出.
	Logger logger.Logger

	// Handler 自定义 panic 处理函数.
	Handler Handler

	// OnPanic panic 发生后的回调，用于计数.
	OnPanic func(component string)

	// StackSize 堆栈大小，默认 64KB.
	StackSize int

	// StackAll 是否捕获所有 goroutine 的堆栈，默认 false.
	StackAll bool
}

// Option 是配置函数.
type Option func(*Options)

// WithLogger 设置日志记录器.
func WithLogger(l logger.Logger) Option {
	return func(o *Options) {
		o.Logger = l
	}
}

// WithHandler 设置自定义 panic 处理函数.
func WithHandler(h Handler) Option {
	return func(o *Options) {
		o.Handler = h
	}
}

// WithOnPanic 设置 panic 回调.
func WithOnPanic(fn func(component string)) Option {
	return func(o *Options) {
		o.OnPanic = fn
	}
}

// WithStackSize 设置堆栈大小.
func WithStackSize(size int) Option {
	return func(o *Options) {
		o.StackSize = size
	}
}

// WithStackAll 设置是否捕获所有 goroutine 的堆栈.
func WithStackAll(all bool) Option {
	return func(o *Options) {
		o.StackAll = all
	}
}

func defaultOptions() *Options {
	return &Options{
		Logger:    logger.Nop(),
		StackSize: 64 * 1024,
	}
}

func applyOptions(opts []Option) *Options {
	o := defaultOptions()
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Recoverer 可复用的 panic 捕获器.
type Recoverer struct {
	opts *Options
}

// New 创建 panic 捕获器.
func New(opts ...Option) *Recoverer {
	return &Recoverer{opts: applyOptions(opts)}
}

// Run 执行 fn，panic 被转换为错误返回.
//
// component 用于日志与回调，例如队列名.
func (r *Recoverer) Run(ctx context.Context, component string, fn func() error) (err error) {
	defer func() {
		p := recover()
		if p == nil {
			return
		}

		o := r.opts
		stack := captureStack(o.StackSize, o.StackAll)

		o.Logger.WithContext(ctx).With(
			logger.String("component", component),
			logger.Any("panic", p),
			logger.String("stack", string(stack)),
		).Error("[recovery] panic recovered")

		if o.OnPanic != nil {
			o.OnPanic(component)
		}

		if o.Handler != nil {
			err = o.Handler(ctx, p, stack)
			return
		}
		err = &PanicError{Value: p, Stack: stack}
	}()

	return fn()
}

// Run 使用默认配置执行 fn.
func Run(ctx context.Context, fn func() error) error {
	return New().Run(ctx, "", fn)
}

// captureStack 捕获堆栈信息.
func captureStack(size int, all bool) []byte {
	stack := make([]byte, size)
	n := runtime.Stack(stack, all)
	return stack[:n]
}

// PanicError 表示 panic 错误.
type PanicError struct {
	// Value 是 panic 的值.
	Value any
	// Stack 是堆栈信息.
	Stack []byte
}

// Error 实现 error 接口.
func (e *PanicError) Error() string {
	return fmt.Sprintf("panic: %v", e.Value)
}

// Unwrap 返回原始错误（如果 panic 值是 error）.
func (e *PanicError) Unwrap() error {
	if err, ok := e.Value.(error); ok {
		return err
	}
	return nil
}
