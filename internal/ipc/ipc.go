// Package ipc provides the transport between every intercepted process
// (via the reporter helper) and the driver's collection loop:
// a Unix domain socket carrying newline-delimited JSON event frames.
//
// Bear itself used a gRPC service (Counter) for this; this module uses a
// plain stream socket with the same JSONL framing internal/recorder uses
// for its own log (internal/recorder/log.go) instead, trading the extra
// schema rigidity of protobuf for a transport with no code-generation step.
package ipc

import (
	"fmt"
	"net"
	"os"

	"github.com/rizsotto/intercept/internal/event"
)

// Server listens on a Unix domain socket and returns each accepted
// connection from Accept. One goroutine per connection is expected to
// be started by the caller (internal/driver owns the errgroup).
type Server struct {
	addr     string
	listener net.Listener
}

// Listen creates the socket file at addr, removing any stale file left
// behind by a previous, unclean shutdown first.
func Listen(addr string) (*Server, error) {
	if err := os.Remove(addr); err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("failed to clear stale socket %s: %w", addr, err)
	}
	l, err := net.Listen("unix", addr)
	if err != nil {
		return nil, fmt.Errorf("failed to listen on %s: %w", addr, err)
	}
	return &Server{addr: addr, listener: l}, nil
}

// Addr returns the socket's filesystem path, the value planted into a
// session's INTERCEPT_REPORT_DESTINATION.
func (s *Server) Addr() string {
	return s.addr
}

// Accept blocks for the next client connection.
func (s *Server) Accept() (net.Conn, error) {
	return s.listener.Accept()
}

// Close stops accepting connections and removes the socket file.
func (s *Server) Close() error {
	err := s.listener.Close()
	if rmErr := os.Remove(s.addr); rmErr != nil && !os.IsNotExist(rmErr) {
		if err == nil {
			err = rmErr
		}
	}
	return err
}

// Dial connects to a collector previously created with Listen, for use by
// the reporter helper.
func Dial(addr string) (net.Conn, error) {
	conn, err := net.Dial("unix", addr)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to collector at %s: %w", addr, err)
	}
	return conn, nil
}

// Client wraps a connection with the event wire encoding, used by the
// reporter helper to emit events to the driver.
type Client struct {
	conn net.Conn
	enc  *event.Encoder
}

// NewClient wraps an established connection.
func NewClient(conn net.Conn) *Client {
	return &Client{conn: conn, enc: event.NewEncoder(conn)}
}

// Report encodes and sends one event.
func (c *Client) Report(ev event.Event) error {
	return c.enc.Encode(ev)
}

// Close closes the underlying connection.
func (c *Client) Close() error {
	return c.conn.Close()
}
