package engine

import (
	"context"
	"encoding/binary"
	"io"
	"net"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/VoolFI71/pollkv/internal/client"
	"github.com/VoolFI71/pollkv/internal/handler"
	"github.com/VoolFI71/pollkv/internal/protocol"
	"github.com/VoolFI71/pollkv/internal/storage"
)

func freePort(t *testing.T) int {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	port := ln.Addr().(*net.TCPAddr).Port
	require.NoError(t, ln.Close())
	return port
}

func startServer(t *testing.T) string {
	t.Helper()
	log := zaptest.NewLogger(t)
	st := storage.New()
	srv := New(Config{Port: 0, NoDelay: true}, handler.New(st, log), log)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- srv.Run(ctx) }()

	select {
	case <-srv.Booted():
	case err := <-done:
		t.Fatalf("engine failed to start: %v", err)
	case <-time.After(5 * time.Second):
		t.Fatal("engine did not boot")
	}

	t.Cleanup(func() {
		cancel()
		assert.NoError(t, <-done)
		st.Close()
	})

	addr, ok := srv.Addr().(*net.TCPAddr)
	require.True(t, ok, "unexpected listener address %v", srv.Addr())
	require.NotZero(t, addr.Port, "ephemeral port not resolved")
	return net.JoinHostPort("127.0.0.1", strconv.Itoa(addr.Port))
}

func dial(t *testing.T, addr string) *client.Client {
	t.Helper()
	c, err := client.DialTimeout(addr, time.Second)
	require.NoError(t, err)
	require.NoError(t, c.SetDeadline(time.Now().Add(5*time.Second)))
	t.Cleanup(func() { c.Close() })
	return c
}

func TestCommands(t *testing.T) {
	c := dial(t, startServer(t))

	v, err := c.DoStrings("SET", "a", "1")
	require.NoError(t, err)
	assert.Equal(t, protocol.Nil(), v)

	v, err = c.DoStrings("get", "a")
	require.NoError(t, err)
	assert.Equal(t, protocol.Str([]byte("1")), v)

	v, err = c.DoStrings("keys")
	require.NoError(t, err)
	assert.Equal(t, protocol.Arr(protocol.Str([]byte("a"))), v)

	v, err = c.DoStrings("del", "a")
	require.NoError(t, err)
	assert.Equal(t, protocol.Int(1), v)

	v, err = c.DoStrings("get")
	require.NoError(t, err)
	assert.Equal(t, protocol.ErrCodeArity, v.Code)
}

func TestPipelined(t *testing.T) {
	c := dial(t, startServer(t))

	const n = 500
	for i := 0; i < n; i++ {
		k := []byte("k" + strconv.Itoa(i))
		require.NoError(t, c.Send([]byte("set"), k, []byte(strconv.Itoa(i))))
		require.NoError(t, c.Send([]byte("get"), k))
	}
	require.NoError(t, c.Flush())

	for i := 0; i < n; i++ {
		v, err := c.Receive()
		require.NoError(t, err)
		require.Equal(t, protocol.Nil(), v)
		v, err = c.Receive()
		require.NoError(t, err)
		require.Equal(t, protocol.Str([]byte(strconv.Itoa(i))), v)
	}
}

func TestOversizedFrameClosesConnection(t *testing.T) {
	addr := startServer(t)
	conn, err := net.DialTimeout("tcp", addr, time.Second)
	require.NoError(t, err)
	defer conn.Close()
	require.NoError(t, conn.SetDeadline(time.Now().Add(5*time.Second)))

	_, err = conn.Write(binary.LittleEndian.AppendUint32(nil, protocol.MaxMessageSize+1))
	require.NoError(t, err)

	n, err := conn.Read(make([]byte, 16))
	assert.Zero(t, n)
	assert.ErrorIs(t, err, io.EOF)
}

func TestRunStopsBeforeBoot(t *testing.T) {
	srv := New(Config{Port: freePort(t)}, handler.New(storage.New(), nil), zaptest.NewLogger(t))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.NoError(t, srv.Run(ctx))
}

func TestAddrReportsConfiguredPort(t *testing.T) {
	port := freePort(t)
	srv := New(Config{Port: port}, handler.New(storage.New(), nil), zaptest.NewLogger(t))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- srv.Run(ctx) }()
	defer func() {
		cancel()
		assert.NoError(t, <-done)
	}()

	select {
	case <-srv.Booted():
	case <-time.After(5 * time.Second):
		t.Fatal("engine did not boot")
	}
	require.IsType(t, &net.TCPAddr{}, srv.Addr())
	assert.Equal(t, port, srv.Addr().(*net.TCPAddr).Port)
}
