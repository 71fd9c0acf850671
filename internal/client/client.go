// Package client speaks the length-prefixed protocol to a server. A Client
// is not safe for concurrent use.
package client

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"net"
	"time"

	"github.com/edwingeng/deque/v2"

	"github.com/VoolFI71/pollkv/internal/protocol"
)

var (
	ErrNoPending      = errors.New("client: no pending request")
	ErrFrameTooLarge  = errors.New("client: response frame too large")
	ErrInvalidCommand = errors.New("client: empty command")
)

type Client struct {
	conn   net.Conn
	reader *bufio.Reader
	writer *bufio.Writer
	header [protocol.HeaderSize]byte
	frame  []byte

	// commands sent but not yet answered, oldest at the back
	pending *deque.Deque[string]
}

func Dial(addr string) (*Client, error) {
	return DialTimeout(addr, 0)
}

func DialTimeout(addr string, timeout time.Duration) (*Client, error) {
	conn, err := net.DialTimeout("tcp", addr, timeout)
	if err != nil {
		return nil, err
	}
	return New(conn), nil
}

// New wraps an established connection.
func New(conn net.Conn) *Client {
	return &Client{
		conn:    conn,
		reader:  bufio.NewReaderSize(conn, 64*1024),
		writer:  bufio.NewWriterSize(conn, 64*1024),
		frame:   make([]byte, 0, protocol.MaxFrameSize),
		pending: deque.NewDeque[string](),
	}
}

// Do sends one request and waits for its response. Requests queued with
// Send are answered first and their responses discarded.
func (c *Client) Do(args ...[]byte) (protocol.Value, error) {
	if err := c.Send(args...); err != nil {
		return protocol.Value{}, err
	}
	if err := c.Flush(); err != nil {
		return protocol.Value{}, err
	}
	for c.pending.Len() > 1 {
		if _, err := c.Receive(); err != nil {
			return protocol.Value{}, err
		}
	}
	return c.Receive()
}

// DoStrings is Do for textual arguments.
func (c *Client) DoStrings(args ...string) (protocol.Value, error) {
	raw := make([][]byte, len(args))
	for i, a := range args {
		raw[i] = []byte(a)
	}
	return c.Do(raw...)
}

// Send buffers a request without flushing it.
func (c *Client) Send(args ...[]byte) error {
	if len(args) == 0 {
		return ErrInvalidCommand
	}
	frame, err := protocol.AppendRequest(c.frame[:0], args)
	if err != nil {
		return err
	}
	c.frame = frame
	if _, err := c.writer.Write(frame); err != nil {
		return err
	}
	c.pending.PushFront(string(args[0]))
	return nil
}

func (c *Client) Flush() error {
	return c.writer.Flush()
}

// Pending returns the number of requests still waiting for a response.
func (c *Client) Pending() int {
	return c.pending.Len()
}

// Receive reads the response to the oldest pending request.
func (c *Client) Receive() (protocol.Value, error) {
	if c.pending.Len() == 0 {
		return protocol.Value{}, ErrNoPending
	}
	cmd := c.pending.PopBack()

	if _, err := io.ReadFull(c.reader, c.header[:]); err != nil {
		return protocol.Value{}, fmt.Errorf("read %s response header: %w", cmd, err)
	}
	size := binary.LittleEndian.Uint32(c.header[:])
	if size > protocol.MaxMessageSize {
		return protocol.Value{}, fmt.Errorf("%s: %w (%d bytes)", cmd, ErrFrameTooLarge, size)
	}
	payload := make([]byte, size)
	if _, err := io.ReadFull(c.reader, payload); err != nil {
		return protocol.Value{}, fmt.Errorf("read %s response: %w", cmd, err)
	}
	v, err := protocol.DecodeResponse(payload)
	if err != nil {
		return protocol.Value{}, fmt.Errorf("decode %s response: %w", cmd, err)
	}
	return v, nil
}

// Discard reads and drops n responses.
func (c *Client) Discard(n int) error {
	for i := 0; i < n; i++ {
		if _, err := c.Receive(); err != nil {
			return err
		}
	}
	return nil
}

func (c *Client) SetDeadline(t time.Time) error {
	return c.conn.SetDeadline(t)
}

func (c *Client) Close() error {
	return c.conn.Close()
}
