// Package tcp provides a socket driver for tcp (default) and udp endpoints.
// Reads return whatever bytes arrive within the read timeout, up to the
// read buffer size.
package tcp

import (
	"context"
	"errors"
	"io"
	"net"
	"sync"
	"time"

	"github.com/openfroyo/linkrt/pkg/drivers"
	"github.com/openfroyo/linkrt/pkg/engine"
)

// Dial networks.
const (
	NetworkStream   = "tcp"
	NetworkDatagram = "udp"
)

// Config configures a socket connector.
type Config struct {
	// Address is the host:port to dial.
	Address string

	// Network is NetworkStream or NetworkDatagram.
	Network string

	ConnectionTimeout time.Duration
	ReadTimeout       time.Duration
	WriteTimeout      time.Duration
	ReadBufferSize    int

	// WriteBufferSize sets the kernel send buffer when positive.
	WriteBufferSize int
}

// Conn is a socket connector. One Read may run concurrently with one Write.
type Conn struct {
	cfg    Config
	dialer net.Dialer

	mu      sync.Mutex
	created bool
	conn    net.Conn
}

// New creates a socket connector.
func New(cfg Config) *Conn {
	if cfg.Network == "" {
		cfg.Network = NetworkStream
	}
	if cfg.ReadBufferSize <= 0 {
		cfg.ReadBufferSize = 4096
	}
	return &Conn{
		cfg:    cfg,
		dialer: net.Dialer{Timeout: cfg.ConnectionTimeout},
	}
}

// Factory builds a socket connector from a driver spec. The connection
// string is the address; stream_mode false selects udp.
func Factory(spec drivers.Spec) (engine.Connector[[]byte], error) {
	if spec.ConnectionString == "" {
		return nil, errors.New("connection_string (host:port) is required")
	}
	if _, _, err := net.SplitHostPort(spec.ConnectionString); err != nil {
		return nil, err
	}

	network := NetworkStream
	if !spec.Stream() {
		network = NetworkDatagram
	}

	return New(Config{
		Address:           spec.ConnectionString,
		Network:           network,
		ConnectionTimeout: spec.ConnectionTimeout,
		ReadTimeout:       spec.ReadTimeout,
		WriteTimeout:      spec.WriteTimeout,
		ReadBufferSize:    spec.ReadBufferSize,
		WriteBufferSize:   spec.WriteBufferSize,
	}), nil
}

// bufferedConn is implemented by *net.TCPConn and *net.UDPConn.
type bufferedConn interface {
	SetWriteBuffer(bytes int) error
}

// Create implements engine.Connector. Sockets are allocated by Connect.
func (c *Conn) Create(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.created = true
	return nil
}

// Destroy implements engine.Connector.
func (c *Conn) Destroy(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.created = false
	return c.closeLocked()
}

// Connect implements engine.Connector.
func (c *Conn) Connect(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.created {
		return engine.NewResourceError("socket not created", nil)
	}
	if c.conn != nil {
		return nil
	}

	conn, err := c.dialer.DialContext(ctx, c.cfg.Network, c.cfg.Address)
	if err != nil {
		return classify("dial "+c.cfg.Address, err)
	}
	if bc, ok := conn.(bufferedConn); ok && c.cfg.WriteBufferSize > 0 {
		if err := bc.SetWriteBuffer(c.cfg.WriteBufferSize); err != nil {
			conn.Close()
			return engine.NewResourceError("set write buffer", err)
		}
	}
	c.conn = conn
	return nil
}

// Disconnect implements engine.Connector.
func (c *Conn) Disconnect(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closeLocked()
}

func (c *Conn) closeLocked() error {
	if c.conn == nil {
		return nil
	}
	err := c.conn.Close()
	c.conn = nil
	if err != nil && !errors.Is(err, net.ErrClosed) {
		return engine.NewFailureError("close", err)
	}
	return nil
}

func (c *Conn) current() (net.Conn, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == nil {
		return nil, engine.NewFailureError("socket not connected", nil)
	}
	return c.conn, nil
}

// Read implements engine.Connector.
func (c *Conn) Read(ctx context.Context) ([]byte, error) {
	conn, err := c.current()
	if err != nil {
		return nil, err
	}
	if err := conn.SetReadDeadline(deadline(ctx, c.cfg.ReadTimeout)); err != nil {
		return nil, classify("read", err)
	}

	buf := make([]byte, c.cfg.ReadBufferSize)
	n, err := conn.Read(buf)
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, engine.NewFailureError("peer closed connection", err).WithOperation("read")
		}
		return nil, classify("read", err)
	}
	return buf[:n], nil
}

// Write implements engine.Connector.
func (c *Conn) Write(ctx context.Context, payload []byte) ([]byte, error) {
	conn, err := c.current()
	if err != nil {
		return nil, err
	}
	if err := conn.SetWriteDeadline(deadline(ctx, c.cfg.WriteTimeout)); err != nil {
		return nil, classify("write", err)
	}

	n, err := conn.Write(payload)
	if err != nil {
		return payload[:n], classify("write", err)
	}
	return payload, nil
}

// deadline is the earlier of ctx's deadline and now+timeout. Zero means none.
func deadline(ctx context.Context, timeout time.Duration) time.Time {
	var d time.Time
	if timeout > 0 {
		d = time.Now().Add(timeout)
	}
	if cd, ok := ctx.Deadline(); ok && (d.IsZero() || cd.Before(d)) {
		d = cd
	}
	return d
}

// classify maps socket errors to engine errors. Deadline expiry is a
// timeout; everything else is a failure.
func classify(op string, err error) error {
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return engine.NewTimeoutError(op+" timed out", err).WithOperation(op)
	}
	if errors.Is(err, context.Canceled) {
		return engine.NewDropError(op+" cancelled", err).WithOperation(op)
	}
	return engine.NewFailureError(op+" failed", err).WithOperation(op)
}
