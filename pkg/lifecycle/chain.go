package lifecycle

import (
	"context"
	"errors"
	"sync"

	"github.com/openfroyo/linkrt/pkg/engine"
)

// Handler is one step of a composed connect or disconnect.
type Handler func(ctx context.Context) error

// Chain decorates a Connector with extra connect and disconnect handlers.
// The wrapped connector runs first, then every handler in registration order.
// All steps run even when one fails; their errors are joined into one outcome.
type Chain[T any] struct {
	engine.Connector[T]

	mu           sync.RWMutex
	onConnect    []Handler
	onDisconnect []Handler
}

// NewChain wraps base. A nil base behaves like engine.UnimplementedConnector.
func NewChain[T any](base engine.Connector[T]) *Chain[T] {
	if base == nil {
		base = engine.UnimplementedConnector[T]{}
	}
	return &Chain[T]{Connector: base}
}

// OnConnect registers a handler run on every Connect.
func (c *Chain[T]) OnConnect(h Handler) *Chain[T] {
	c.mu.Lock()
	c.onConnect = append(c.onConnect, h)
	c.mu.Unlock()
	return c
}

// OnDisconnect registers a handler run on every Disconnect.
func (c *Chain[T]) OnDisconnect(h Handler) *Chain[T] {
	c.mu.Lock()
	c.onDisconnect = append(c.onDisconnect, h)
	c.mu.Unlock()
	return c
}

// Connect runs the base connector and then every connect handler.
func (c *Chain[T]) Connect(ctx context.Context) error {
	c.mu.RLock()
	handlers := c.onConnect
	c.mu.RUnlock()
	return runAll(ctx, c.Connector.Connect, handlers)
}

// Disconnect runs the base connector and then every disconnect handler.
func (c *Chain[T]) Disconnect(ctx context.Context) error {
	c.mu.RLock()
	handlers := c.onDisconnect
	c.mu.RUnlock()
	return runAll(ctx, c.Connector.Disconnect, handlers)
}

func runAll(ctx context.Context, base Handler, handlers []Handler) error {
	errs := []error{base(ctx)}
	for _, h := range handlers {
		if h == nil {
			continue
		}
		errs = append(errs, h(ctx))
	}
	return errors.Join(errs...)
}
