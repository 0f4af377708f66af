package stream

import (
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestConnWriteFrameThenAwaitPayload(t *testing.T) {
	server, client := net.Pipe()
	t.Cleanup(func() {
		_ = server.Close()
		_ = client.Close()
	})

	serverConn := newConn(server, 0)
	clientConn := newConn(client, 0)

	go func() {
		_ = clientConn.writeFrame(7, []byte("hello"))
	}()

	result := serverConn.await()
	require.Equal(t, awaitPayload, result.kind)
	require.Equal(t, uint16(7), result.frame.slot)
	require.Equal(t, []byte("hello"), result.frame.payload)
}

func TestConnAwaitTimeout(t *testing.T) {
	server, client := net.Pipe()
	t.Cleanup(func() {
		_ = server.Close()
		_ = client.Close()
	})

	serverConn := newConn(server, 10*time.Millisecond)
	result := serverConn.await()
	require.Equal(t, awaitTimeout, result.kind)
}

func TestConnAwaitTerminationRequest(t *testing.T) {
	server, client := net.Pipe()
	t.Cleanup(func() {
		_ = server.Close()
		_ = client.Close()
	})

	serverConn := newConn(server, 0)
	clientConn := newConn(client, 0)

	go func() {
		_ = clientConn.writeSessionBye()
	}()

	result := serverConn.await()
	require.Equal(t, awaitTerminationRequest, result.kind)
}

func TestConnAwaitErrorOnClose(t *testing.T) {
	server, client := net.Pipe()
	t.Cleanup(func() { _ = server.Close() })
	_ = client.Close()

	serverConn := newConn(server, 0)
	result := serverConn.await()
	require.Equal(t, awaitError, result.kind)
}
