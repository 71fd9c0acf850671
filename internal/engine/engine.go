// Package engine serves the protocol on a gnet event loop. It is the
// alternative to the poll reactor and shares its framing and dispatcher.
package engine

import (
	"context"
	"encoding/binary"
	"fmt"
	"net"
	"os"
	"time"

	"github.com/panjf2000/gnet/v2"
	"go.uber.org/zap"

	"github.com/VoolFI71/pollkv/internal/conn"
	"github.com/VoolFI71/pollkv/internal/metrics"
	"github.com/VoolFI71/pollkv/internal/protocol"
)

const (
	maxBytesBeforeFlush = 64 * 1024
	stopTimeout         = 5 * time.Second
)

type Config struct {
	Port    int
	NoDelay bool
}

type session struct {
	args [][]byte
	out  []byte
}

// Server runs a single gnet event loop, so the handler is only ever called
// from one goroutine.
type Server struct {
	gnet.BuiltinEventEngine

	cfg    Config
	h      conn.Handler
	log    *zap.Logger
	eng    gnet.Engine
	addr   net.Addr
	booted chan struct{}
}

func New(cfg Config, h conn.Handler, log *zap.Logger) *Server {
	if log == nil {
		log = zap.NewNop()
	}
	return &Server{cfg: cfg, h: h, log: log, booted: make(chan struct{})}
}

// Run serves until ctx is cancelled or the engine fails.
func (s *Server) Run(ctx context.Context) error {
	nodelay := gnet.TCPDelay
	if s.cfg.NoDelay {
		nodelay = gnet.TCPNoDelay
	}
	addr := fmt.Sprintf("tcp://0.0.0.0:%d", s.cfg.Port)

	errCh := make(chan error, 1)
	go func() {
		errCh <- gnet.Run(s, addr,
			gnet.WithMulticore(false),
			gnet.WithReuseAddr(true),
			gnet.WithTCPNoDelay(nodelay),
			gnet.WithLogger(s.log.Sugar()),
		)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}
	select {
	case err := <-errCh:
		return err
	case <-s.booted:
	}

	stopCtx, cancel := context.WithTimeout(context.Background(), stopTimeout)
	defer cancel()
	if err := s.eng.Stop(stopCtx); err != nil {
		s.log.Warn("engine stop", zap.Error(err))
	}
	return <-errCh
}

// Booted is closed once the engine accepts connections.
func (s *Server) Booted() <-chan struct{} {
	return s.booted
}

// Addr returns the bound listener address. It is nil until Booted is closed.
func (s *Server) Addr() net.Addr {
	return s.addr
}

func (s *Server) OnBoot(eng gnet.Engine) gnet.Action {
	s.eng = eng
	addr, err := listenerAddr(eng)
	if err != nil {
		s.log.Warn("resolve listener address", zap.Error(err))
		addr = &net.TCPAddr{IP: net.IPv4zero, Port: s.cfg.Port}
	}
	s.addr = addr
	s.log.Info("listening", zap.Stringer("addr", addr), zap.String("engine", "gnet"))
	close(s.booted)
	return gnet.None
}

// listenerAddr reads the address the kernel bound, which differs from the
// configured one when port 0 was requested.
func listenerAddr(eng gnet.Engine) (net.Addr, error) {
	fd, err := eng.Dup()
	if err != nil {
		return nil, err
	}
	f := os.NewFile(uintptr(fd), "gnet-listener")
	defer f.Close()
	ln, err := net.FileListener(f)
	if err != nil {
		return nil, err
	}
	defer ln.Close()
	return ln.Addr(), nil
}

func (s *Server) OnOpen(c gnet.Conn) ([]byte, gnet.Action) {
	c.SetContext(&session{
		args: make([][]byte, 0, 8),
		out:  make([]byte, 0, maxBytesBeforeFlush),
	})
	metrics.ConnectionsAccepted.Inc()
	return nil, gnet.None
}

func (s *Server) OnClose(c gnet.Conn, err error) gnet.Action {
	metrics.ConnectionsClosed.Inc()
	if err != nil {
		s.log.Debug("connection closed", zap.Stringer("remote", c.RemoteAddr()), zap.Error(err))
	}
	return gnet.None
}

func (s *Server) OnTraffic(c gnet.Conn) gnet.Action {
	sess := c.Context().(*session)

	for {
		n := c.InboundBuffered()
		if n < protocol.HeaderSize {
			break
		}
		hdr, err := c.Peek(protocol.HeaderSize)
		if err != nil {
			break
		}
		size, err := protocol.ParseFrameHeader(hdr)
		if err != nil {
			return s.reject(c, sess, err)
		}
		total := protocol.HeaderSize + size
		if n < total {
			break
		}
		frame, err := c.Peek(total)
		if err != nil {
			break
		}

		args, err := protocol.ParseRequest(frame[protocol.HeaderSize:], sess.args)
		if err != nil {
			return s.reject(c, sess, err)
		}
		sess.args = args

		start := len(sess.out)
		sess.out = append(sess.out, 0, 0, 0, 0)
		sess.out = s.h.Execute(args, sess.out)
		binary.LittleEndian.PutUint32(sess.out[start:], uint32(len(sess.out)-start-protocol.HeaderSize))
		_, _ = c.Discard(total)

		if len(sess.out) >= maxBytesBeforeFlush {
			s.flush(c, sess)
		}
	}

	s.flush(c, sess)
	return gnet.None
}

// reject answers what was already executed and drops the connection.
func (s *Server) reject(c gnet.Conn, sess *session, err error) gnet.Action {
	metrics.ProtocolErrors.Inc()
	s.log.Debug("closing connection", zap.Stringer("remote", c.RemoteAddr()), zap.Error(err))
	s.flush(c, sess)
	return gnet.Close
}

func (s *Server) flush(c gnet.Conn, sess *session) {
	if len(sess.out) == 0 {
		return
	}
	_, _ = c.Write(sess.out)
	sess.out = sess.out[:0]
}
