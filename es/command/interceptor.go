package command

import "context"

// DispatchInterceptor inspects or rewrites a command before it enters the pipeline.
// Returning an error rejects the command; the error is delivered to its callback.
type DispatchInterceptor interface {
	BeforeDispatch(ctx context.Context, cmd Command) (Command, error)
}

// DispatchInterceptorFunc adapts a function to DispatchInterceptor.
type DispatchInterceptorFunc func(ctx context.Context, cmd Command) (Command, error)

// BeforeDispatch implements DispatchInterceptor.
func (f DispatchInterceptorFunc) BeforeDispatch(ctx context.Context, cmd Command) (Command, error) {
	return f(ctx, cmd)
}

// HandlerInterceptor wraps command handling. It must call chain.Proceed to continue.
type HandlerInterceptor interface {
	Handle(ctx context.Context, cmd Command, chain *InterceptorChain) (any, error)
}

// HandlerInterceptorFunc adapts a function to HandlerInterceptor.
type HandlerInterceptorFunc func(ctx context.Context, cmd Command, chain *InterceptorChain) (any, error)

// Handle implements HandlerInterceptor.
func (f HandlerInterceptorFunc) Handle(ctx context.Context, cmd Command, chain *InterceptorChain) (any, error) {
	return f(ctx, cmd, chain)
}

// InterceptorChain runs a list of interceptors around a handler.
// A chain is single-use; Reset prepares it for the next command.
type InterceptorChain struct {
	handler      Handler
	cmd          Command
	interceptors []HandlerInterceptor
	index        int
}

// NewInterceptorChain creates a chain around handler for cmd.
func NewInterceptorChain(cmd Command, handler Handler, interceptors []HandlerInterceptor) *InterceptorChain {
	c := &InterceptorChain{}
	c.Reset(cmd, handler, interceptors)
	return c
}

// Reset rebinds the chain to a new command and handler.
func (c *InterceptorChain) Reset(cmd Command, handler Handler, interceptors []HandlerInterceptor) {
	c.cmd = cmd
	c.handler = handler
	c.interceptors = interceptors
	c.index = 0
}

// Command returns the command the chain was built for.
func (c *InterceptorChain) Command() Command {
	return c.cmd
}

// Proceed invokes the next interceptor, or the handler once all interceptors ran.
func (c *InterceptorChain) Proceed(ctx context.Context) (any, error) {
	if c.index < len(c.interceptors) {
		i := c.interceptors[c.index]
		c.index++
		return i.Handle(ctx, c.cmd, c)
	}
	return c.handler.Handle(ctx, c.cmd)
}
