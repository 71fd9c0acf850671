//go:build linux || darwin || freebsd || netbsd || openbsd

package reactor

import (
	"errors"
	"io"
	"net"
	"strconv"

	"golang.org/x/sys/unix"

	"github.com/VoolFI71/pollkv/internal/conn"
)

// fdSocket adapts a non-blocking descriptor to conn.Socket.
type fdSocket int

func (s fdSocket) Read(p []byte) (int, error) {
	for {
		n, err := unix.Read(int(s), p)
		switch {
		case err == unix.EINTR:
			continue
		case isWouldBlock(err):
			return 0, conn.ErrWouldBlock
		case err != nil:
			return 0, err
		case n == 0:
			return 0, io.EOF
		}
		return n, nil
	}
}

func (s fdSocket) Write(p []byte) (int, error) {
	for {
		n, err := unix.Write(int(s), p)
		switch {
		case err == unix.EINTR:
			continue
		case isWouldBlock(err):
			return 0, conn.ErrWouldBlock
		case err != nil:
			return 0, err
		}
		return n, nil
	}
}

func isWouldBlock(err error) bool {
	return errors.Is(err, unix.EAGAIN) || errors.Is(err, unix.EWOULDBLOCK)
}

func sockaddrString(sa unix.Sockaddr) string {
	switch sa := sa.(type) {
	case *unix.SockaddrInet4:
		return net.JoinHostPort(net.IP(sa.Addr[:]).String(), strconv.Itoa(sa.Port))
	case *unix.SockaddrInet6:
		return net.JoinHostPort(net.IP(sa.Addr[:]).String(), strconv.Itoa(sa.Port))
	}
	return "unknown"
}
