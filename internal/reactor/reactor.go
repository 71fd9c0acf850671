//go:build linux || darwin || freebsd || netbsd || openbsd

// Package reactor runs the single-threaded poll loop: one listening socket,
// a table of client connections indexed by descriptor, and one readiness
// wait per iteration.
package reactor

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/multierr"
	"go.uber.org/zap"
	"golang.org/x/sys/unix"

	"github.com/VoolFI71/pollkv/internal/conn"
	"github.com/VoolFI71/pollkv/internal/metrics"
)

const DefaultPollTimeout = time.Second

type Config struct {
	// Port to bind on all interfaces. Zero picks an ephemeral port.
	Port        int
	PollTimeout time.Duration
	NoDelay     bool
}

type peer struct {
	fd     int
	remote string
	c      *conn.Conn
}

type Reactor struct {
	cfg  Config
	h    conn.Handler
	log  *zap.Logger
	lfd  int
	port int

	conns []*peer
	live  int
	pfds  []unix.PollFd
}

// Listen creates the listening socket. Any failure here leaves nothing
// open.
func Listen(cfg Config, h conn.Handler, log *zap.Logger) (*Reactor, error) {
	if log == nil {
		log = zap.NewNop()
	}
	if cfg.PollTimeout <= 0 {
		cfg.PollTimeout = DefaultPollTimeout
	}

	fd, err := unix.Socket(unix.AF_INET, unix.SOCK_STREAM, 0)
	if err != nil {
		return nil, fmt.Errorf("socket: %w", err)
	}
	port, err := setupListener(fd, cfg.Port)
	if err != nil {
		_ = unix.Close(fd)
		return nil, err
	}

	log.Info("listening", zap.Int("port", port), zap.Int("fd", fd))
	return &Reactor{
		cfg:  cfg,
		h:    h,
		log:  log,
		lfd:  fd,
		port: port,
	}, nil
}

func setupListener(fd, port int) (int, error) {
	unix.CloseOnExec(fd)
	if err := unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_REUSEADDR, 1); err != nil {
		return 0, fmt.Errorf("setsockopt SO_REUSEADDR: %w", err)
	}
	if err := unix.Bind(fd, &unix.SockaddrInet4{Port: port}); err != nil {
		return 0, fmt.Errorf("bind port %d: %w", port, err)
	}
	if err := unix.Listen(fd, unix.SOMAXCONN); err != nil {
		return 0, fmt.Errorf("listen: %w", err)
	}
	if err := unix.SetNonblock(fd, true); err != nil {
		return 0, fmt.Errorf("set nonblock: %w", err)
	}
	sa, err := unix.Getsockname(fd)
	if err != nil {
		return 0, fmt.Errorf("getsockname: %w", err)
	}
	if in4, ok := sa.(*unix.SockaddrInet4); ok {
		port = in4.Port
	}
	return port, nil
}

// Port returns the bound port.
func (r *Reactor) Port() int {
	return r.port
}

// Len returns the number of open client connections.
func (r *Reactor) Len() int {
	return r.live
}

// Run polls until ctx is cancelled. Cancellation is noticed within one
// poll timeout.
func (r *Reactor) Run(ctx context.Context) error {
	for ctx.Err() == nil {
		if err := r.Poll(); err != nil {
			return err
		}
	}
	return nil
}

// Poll waits once for readiness and services every ready descriptor.
func (r *Reactor) Poll() error {
	r.pfds = append(r.pfds[:0], unix.PollFd{Fd: int32(r.lfd), Events: unix.POLLIN})
	for _, cl := range r.conns {
		if cl == nil {
			continue
		}
		events := int16(unix.POLLERR)
		if cl.c.WantWrite() {
			events |= unix.POLLOUT
		} else {
			events |= unix.POLLIN
		}
		r.pfds = append(r.pfds, unix.PollFd{Fd: int32(cl.fd), Events: events})
	}

	n, err := unix.Poll(r.pfds, int(r.cfg.PollTimeout/time.Millisecond))
	if err != nil {
		if errors.Is(err, unix.EINTR) {
			return nil
		}
		return fmt.Errorf("poll: %w", err)
	}
	if n == 0 {
		return nil
	}

	for _, pfd := range r.pfds[1:] {
		if pfd.Revents == 0 {
			continue
		}
		cl := r.conns[pfd.Fd]
		cl.c.Step()
		if cl.c.State() == conn.StateEnd {
			r.drop(cl)
		}
	}

	if r.pfds[0].Revents&unix.POLLIN != 0 {
		r.acceptAll()
	}
	return nil
}

func (r *Reactor) acceptAll() {
	for {
		fd, sa, err := unix.Accept(r.lfd)
		if err != nil {
			switch {
			case isWouldBlock(err):
			case errors.Is(err, unix.EINTR), errors.Is(err, unix.ECONNABORTED):
				continue
			default:
				r.log.Warn("accept failed", zap.Error(err))
			}
			return
		}
		if err := r.register(fd, sa); err != nil {
			r.log.Warn("rejecting connection", zap.Int("fd", fd), zap.Error(err))
			_ = unix.Close(fd)
		}
	}
}

func (r *Reactor) register(fd int, sa unix.Sockaddr) error {
	unix.CloseOnExec(fd)
	if err := unix.SetNonblock(fd, true); err != nil {
		return fmt.Errorf("set nonblock: %w", err)
	}
	if r.cfg.NoDelay {
		if err := unix.SetsockoptInt(fd, unix.IPPROTO_TCP, unix.TCP_NODELAY, 1); err != nil {
			return fmt.Errorf("setsockopt TCP_NODELAY: %w", err)
		}
	}

	remote := sockaddrString(sa)
	log := r.log.With(zap.Int("fd", fd), zap.String("remote", remote))
	cl := &peer{fd: fd, remote: remote, c: conn.New(fdSocket(fd), r.h, log)}

	if fd >= len(r.conns) {
		grown := make([]*peer, fd+1, 2*(fd+1))
		copy(grown, r.conns)
		r.conns = grown
	}
	r.conns[fd] = cl
	r.live++
	metrics.ConnectionsAccepted.Inc()
	log.Debug("accepted")
	return nil
}

func (r *Reactor) drop(cl *peer) {
	if r.conns[cl.fd] != cl {
		return
	}
	r.conns[cl.fd] = nil
	r.live--
	metrics.ConnectionsClosed.Inc()
	if err := unix.Close(cl.fd); err != nil {
		r.log.Debug("close failed", zap.Int("fd", cl.fd), zap.Error(err))
	}
}

// Close releases the listener and every open connection.
func (r *Reactor) Close() error {
	var err error
	for _, cl := range r.conns {
		if cl == nil {
			continue
		}
		err = multierr.Append(err, unix.Close(cl.fd))
		r.conns[cl.fd] = nil
		metrics.ConnectionsClosed.Inc()
	}
	r.live = 0
	if r.lfd >= 0 {
		err = multierr.Append(err, unix.Close(r.lfd))
		r.lfd = -1
	}
	return err
}
