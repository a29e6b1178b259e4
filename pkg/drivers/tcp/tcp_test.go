package tcp

import (
	"bufio"
	"context"
	"net"
	"testing"
	"time"

	"github.com/openfroyo/linkrt/pkg/drivers"
	"github.com/openfroyo/linkrt/pkg/engine"
	"github.com/openfroyo/linkrt/pkg/lifecycle"
)

// echoServer accepts one connection and echoes each line back.
func echoServer(t *testing.T) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("Listen() error = %v", err)
	}
	t.Cleanup(func() { ln.Close() })

	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		r := bufio.NewReader(conn)
		for {
			line, err := r.ReadBytes('\n')
			if err != nil {
				return
			}
			if _, err := conn.Write(line); err != nil {
				return
			}
		}
	}()
	return ln.Addr().String()
}

func TestConn_WriteRead(t *testing.T) {
	addr := echoServer(t)
	c := New(Config{Address: addr, ConnectionTimeout: time.Second, ReadTimeout: time.Second, WriteTimeout: time.Second, WriteBufferSize: 8192})
	ctx := context.Background()

	if err := c.Connect(ctx); engine.Classify(err) != engine.StatusResource {
		t.Errorf("Expected resource error before Create, got %v", err)
	}
	_ = c.Create(ctx)
	if err := c.Connect(ctx); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	defer c.Destroy(ctx)

	out, err := c.Write(ctx, []byte("ping\n"))
	if err != nil || string(out) != "ping\n" {
		t.Fatalf("Write() = %q, %v", out, err)
	}
	in, err := c.Read(ctx)
	if err != nil {
		t.Fatalf("Read() error = %v", err)
	}
	if string(in) != "ping\n" {
		t.Errorf("Expected echo, got %q", in)
	}
}

func TestConn_ReadTimeout(t *testing.T) {
	addr := echoServer(t)
	c := New(Config{Address: addr, ReadTimeout: 20 * time.Millisecond})
	ctx := context.Background()
	_ = c.Create(ctx)
	if err := c.Connect(ctx); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	defer c.Destroy(ctx)

	_, err := c.Read(ctx)
	if !engine.IsTimeout(err) {
		t.Errorf("Expected timeout with nothing to read, got %v", err)
	}
}

func TestConn_DialFailure(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	addr := ln.Addr().String()
	ln.Close()

	c := New(Config{Address: addr, ConnectionTimeout: time.Second})
	ctx := context.Background()
	_ = c.Create(ctx)

	err = c.Connect(ctx)
	if engine.Classify(err) != engine.StatusFailure {
		t.Errorf("Expected failure dialing a closed port, got %v", err)
	}
	if _, err := c.Read(ctx); engine.Classify(err) != engine.StatusFailure {
		t.Errorf("Expected failure reading unconnected socket, got %v", err)
	}
}

func TestFactory(t *testing.T) {
	spec := func(addr string) drivers.Spec {
		return drivers.Spec{Config: lifecycle.Config{Name: "n", ConnectionString: addr}}
	}

	if _, err := Factory(spec("")); err == nil {
		t.Error("Expected error for missing address")
	}
	if _, err := Factory(spec("no-port")); err == nil {
		t.Error("Expected error for address without port")
	}

	conn, err := Factory(spec("127.0.0.1:1"))
	if err != nil {
		t.Fatalf("Factory() error = %v", err)
	}
	if c := conn.(*Conn); c.cfg.Network != NetworkStream || c.cfg.ReadBufferSize != 4096 {
		t.Errorf("Expected stream socket by default, got %+v", c.cfg)
	}

	stream := false
	s := spec("127.0.0.1:1")
	s.StreamMode = &stream
	s.WriteBufferSize = 1024
	conn, err = Factory(s)
	if err != nil {
		t.Fatalf("Factory() error = %v", err)
	}
	if c := conn.(*Conn); c.cfg.Network != NetworkDatagram || c.cfg.WriteBufferSize != 1024 {
		t.Errorf("Expected datagram socket with write buffer, got %+v", c.cfg)
	}
}

func TestDeadline(t *testing.T) {
	if d := deadline(context.Background(), 0); !d.IsZero() {
		t.Errorf("Expected no deadline, got %v", d)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	d := deadline(ctx, time.Hour)
	if time.Until(d) > 20*time.Millisecond {
		t.Errorf("Expected context deadline to win, got %v", time.Until(d))
	}
}
