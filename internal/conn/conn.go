// Package conn drives a single client connection through its request and
// response states. It does no polling of its own: the owner calls Step
// whenever the socket is ready for the direction reported by WantWrite.
package conn

import (
	"encoding/binary"
	"errors"
	"io"

	"github.com/panjf2000/gnet/v2/pkg/buffer/ring"
	"go.uber.org/zap"

	"github.com/VoolFI71/pollkv/internal/metrics"
	"github.com/VoolFI71/pollkv/internal/protocol"
)

// ErrWouldBlock is returned by a Socket when the operation cannot make
// progress without blocking.
var ErrWouldBlock = errors.New("conn: operation would block")

// Socket is the non-blocking byte stream behind a connection. Read returns
// io.EOF once the peer has closed its side.
type Socket interface {
	Read(p []byte) (int, error)
	Write(p []byte) (int, error)
}

// Handler produces the response payload for one request.
type Handler interface {
	Execute(args [][]byte, dst []byte) []byte
}

type State int

const (
	StateRequest State = iota
	StateResponse
	StateEnd
)

func (s State) String() string {
	switch s {
	case StateRequest:
		return "request"
	case StateResponse:
		return "response"
	case StateEnd:
		return "end"
	}
	return "unknown"
}

type Conn struct {
	sock  Socket
	h     Handler
	log   *zap.Logger
	state State

	rbuf    *ring.Buffer
	scratch []byte
	frame   []byte
	args    [][]byte

	wbuf  []byte
	wlen  int
	wsent int
}

func New(sock Socket, h Handler, log *zap.Logger) *Conn {
	if log == nil {
		log = zap.NewNop()
	}
	return &Conn{
		sock:    sock,
		h:       h,
		log:     log,
		state:   StateRequest,
		rbuf:    ring.New(protocol.MaxFrameSize),
		scratch: make([]byte, protocol.MaxFrameSize),
		frame:   make([]byte, protocol.MaxFrameSize),
		args:    make([][]byte, 0, 8),
		wbuf:    make([]byte, protocol.MaxFrameSize),
	}
}

func (c *Conn) State() State {
	return c.state
}

// WantWrite reports whether the connection waits for writability rather
// than readability.
func (c *Conn) WantWrite() bool {
	return c.state == StateResponse
}

// Buffered returns the number of received bytes not yet consumed as frames.
func (c *Conn) Buffered() int {
	return c.rbuf.Buffered()
}

// Step performs the I/O for the current state. It returns once the socket
// would block or the connection has ended.
func (c *Conn) Step() {
	switch c.state {
	case StateRequest:
		for c.fill() {
		}
	case StateResponse:
		c.flush()
		if c.state == StateRequest {
			c.drain()
		}
	}
}

// fill reads once from the socket and handles every complete frame it
// produced. It reports whether another read should be attempted.
func (c *Conn) fill() bool {
	room := protocol.MaxFrameSize - c.rbuf.Buffered()
	if room <= 0 {
		// a full buffer always holds either a frame or a bad header
		c.end("read buffer full")
		return false
	}

	n, err := c.sock.Read(c.scratch[:room])
	switch {
	case errors.Is(err, ErrWouldBlock):
		return false
	case errors.Is(err, io.EOF) || (err == nil && n == 0):
		if c.rbuf.Buffered() > 0 {
			c.log.Debug("unexpected EOF", zap.Int("buffered", c.rbuf.Buffered()))
		} else {
			c.log.Debug("EOF")
		}
		c.state = StateEnd
		return false
	case err != nil:
		c.log.Debug("read error", zap.Error(err))
		c.state = StateEnd
		return false
	}

	_, _ = c.rbuf.Write(c.scratch[:n])
	c.drain()
	return c.state == StateRequest
}

func (c *Conn) drain() {
	for c.handleFrame() {
	}
}

// handleFrame consumes one complete frame from the read buffer, executes
// it and starts sending the response. It reports whether the next frame
// may be handled right away.
func (c *Conn) handleFrame() bool {
	buffered := c.rbuf.Buffered()
	if buffered < protocol.HeaderSize {
		return false
	}
	c.peek(protocol.HeaderSize)
	size, err := protocol.ParseFrameHeader(c.frame[:protocol.HeaderSize])
	if err != nil {
		metrics.ProtocolErrors.Inc()
		c.end("frame too large")
		return false
	}
	total := protocol.HeaderSize + size
	if buffered < total {
		return false
	}
	c.peek(total)
	_, _ = c.rbuf.Discard(total)

	args, err := protocol.ParseRequest(c.frame[protocol.HeaderSize:total], c.args)
	if err != nil {
		metrics.ProtocolErrors.Inc()
		c.log.Debug("bad request", zap.Error(err))
		c.state = StateEnd
		return false
	}
	c.args = args

	payload := c.h.Execute(args, c.wbuf[protocol.HeaderSize:protocol.HeaderSize])
	if len(payload) > protocol.MaxMessageSize {
		// handlers are expected to cap their own output
		c.end("response exceeds frame")
		return false
	}
	copy(c.wbuf[protocol.HeaderSize:], payload)
	binary.LittleEndian.PutUint32(c.wbuf, uint32(len(payload)))
	c.wlen = protocol.HeaderSize + len(payload)
	c.wsent = 0
	c.state = StateResponse

	c.flush()
	return c.state == StateRequest
}

// peek copies the first n buffered bytes into c.frame.
func (c *Conn) peek(n int) {
	head, tail := c.rbuf.Peek(n)
	copy(c.frame[copy(c.frame, head):], tail)
}

func (c *Conn) flush() {
	for c.wsent < c.wlen {
		n, err := c.sock.Write(c.wbuf[c.wsent:c.wlen])
		if errors.Is(err, ErrWouldBlock) {
			return
		}
		if err != nil {
			c.log.Debug("write error", zap.Error(err))
			c.state = StateEnd
			return
		}
		if n == 0 {
			return
		}
		c.wsent += n
	}
	c.wlen, c.wsent = 0, 0
	c.state = StateRequest
}

func (c *Conn) end(reason string) {
	c.log.Debug("closing connection", zap.String("reason", reason))
	c.state = StateEnd
}
