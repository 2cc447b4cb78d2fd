package command

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
)

// ErrDuplicateHandler indicates a second handler was registered for the same command name.
var ErrDuplicateHandler = errors.New("handler already registered for command")

// Handler executes the business logic of one command.
type Handler interface {
	Handle(ctx context.Context, cmd Command) (any, error)
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(ctx context.Context, cmd Command) (any, error)

// Handle implements Handler.
func (f HandlerFunc) Handle(ctx context.Context, cmd Command) (any, error) {
	return f(ctx, cmd)
}

// HandlerRegistry resolves the handler for a command name.
type HandlerRegistry interface {
	// Resolve returns the handler for name, or a *NoHandlerForCommandError.
	Resolve(name string) (Handler, error)
}

// NoHandlerForCommandError indicates that no handler is registered for a command.
// It is fatal for the command and never retried.
type NoHandlerForCommandError struct {
	CommandName string
}

func (e *NoHandlerForCommandError) Error() string {
	return fmt.Sprintf("no handler was subscribed to command %q", e.CommandName)
}

// Registry is a map-backed HandlerRegistry. Register everything before the bus starts.
type Registry struct {
	handlers map[string]Handler
	mu       sync.RWMutex
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{handlers: make(map[string]Handler)}
}

// Register binds h to the command name.
func (r *Registry) Register(name string, h Handler) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.handlers[name]; exists {
		return fmt.Errorf("%w: %s", ErrDuplicateHandler, name)
	}
	r.handlers[name] = h
	return nil
}

// RegisterFunc binds fn to the command name.
func (r *Registry) RegisterFunc(name string, fn func(ctx context.Context, cmd Command) (any, error)) error {
	return r.Register(name, HandlerFunc(fn))
}

// Resolve implements HandlerRegistry.
func (r *Registry) Resolve(name string) (Handler, error) {
	r.mu.RLock()
	h, ok := r.handlers[name]
	r.mu.RUnlock()
	if !ok {
		return nil, &NoHandlerForCommandError{CommandName: name}
	}
	return h, nil
}

// Names returns the registered command names in sorted order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.handlers))
	for name := range r.handlers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
