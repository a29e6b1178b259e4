package engine

import (
	"context"
)

// Connector is the capability contract a driver satisfies to be managed by a
// lifecycle controller. Implementations are referenced, never owned, by the
// controller; they must be safe for one in-flight Read concurrent with one
// in-flight Write.
type Connector[T any] interface {
	// Create allocates the concrete resource (socket, port handle, etc.).
	Create(ctx context.Context) error

	// Destroy releases the concrete resource.
	Destroy(ctx context.Context) error

	// Connect establishes the link to the endpoint.
	Connect(ctx context.Context) error

	// Disconnect tears down the link to the endpoint.
	Disconnect(ctx context.Context) error

	// Read returns the data read from the endpoint.
	Read(ctx context.Context) (T, error)

	// Write sends payload and returns the data written.
	Write(ctx context.Context, payload T) (T, error)
}

// Producer produces one item per call for a producer-consumer pipeline.
type Producer[T any] interface {
	Produce(ctx context.Context) (T, error)
}

// Consumer consumes one item per call for a producer-consumer pipeline.
type Consumer[T any] interface {
	Consume(ctx context.Context, item T) error
}

// ProducerFunc adapts a function to Producer.
type ProducerFunc[T any] func(ctx context.Context) (T, error)

// Produce calls f.
func (f ProducerFunc[T]) Produce(ctx context.Context) (T, error) {
	return f(ctx)
}

// ConsumerFunc adapts a function to Consumer.
type ConsumerFunc[T any] func(ctx context.Context, item T) error

// Consume calls f.
func (f ConsumerFunc[T]) Consume(ctx context.Context, item T) error {
	return f(ctx, item)
}

// UnimplementedConnector may be embedded by drivers that only support part of
// the contract. Create, Destroy, Connect and Disconnect succeed; Read and Write
// report ErrNotImplemented.
type UnimplementedConnector[T any] struct{}

func (UnimplementedConnector[T]) Create(context.Context) error     { return nil }
func (UnimplementedConnector[T]) Destroy(context.Context) error    { return nil }
func (UnimplementedConnector[T]) Connect(context.Context) error    { return nil }
func (UnimplementedConnector[T]) Disconnect(context.Context) error { return nil }

func (UnimplementedConnector[T]) Read(context.Context) (T, error) {
	var zero T
	return zero, ErrNotImplemented
}

func (UnimplementedConnector[T]) Write(context.Context, T) (T, error) {
	var zero T
	return zero, ErrNotImplemented
}
