package stream

import (
	"encoding/binary"
	"io"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/dbfront/dbfront/internal/endpoint"
)

func clientHandshake(t *testing.T, c *conn, info handshakeInfo) uint64 {
	t.Helper()
	require.NoError(t, c.writeFrame(controlHandshake, encodeHandshakeRequest(info)))

	header := make([]byte, 6)
	_, err := io.ReadFull(c.nc, header)
	require.NoError(t, err)
	require.Equal(t, controlHandshake, binary.BigEndian.Uint16(header[0:2]))
	length := binary.BigEndian.Uint32(header[2:6])
	require.Equal(t, uint32(8), length)

	payload := make([]byte, length)
	_, err = io.ReadFull(c.nc, payload)
	require.NoError(t, err)
	return binary.BigEndian.Uint64(payload)
}

func TestWorkerHandshakeAssignsSessionID(t *testing.T) {
	server, client := net.Pipe()
	t.Cleanup(func() { _ = client.Close() })

	chains := Chains{
		General: func(req *Request, resp *Response) { _ = resp.Body(req.Payload()) },
	}
	w := NewWorker(42, newConn(server, 0), "testdb", chains, 0, nil)

	done := make(chan struct{})
	go func() {
		defer close(done)
		w.Run()
	}()

	sessionID := clientHandshake(t, newConn(client, 0), handshakeInfo{label: "app1"})
	require.Equal(t, uint64(42), sessionID)

	_ = client.Close()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("worker did not exit after client close")
	}
}

func TestWorkerRoutesPayloadThroughGeneralChain(t *testing.T) {
	server, client := net.Pipe()
	t.Cleanup(func() { _ = client.Close() })

	chains := Chains{
		Routing: func(req *Request, resp *Response) bool { return false },
		General: func(req *Request, resp *Response) { _ = resp.Body(append([]byte("echo:"), req.Payload()...)) },
	}
	w := NewWorker(1, newConn(server, 0), "testdb", chains, 0, nil)

	done := make(chan struct{})
	go func() {
		defer close(done)
		w.Run()
	}()

	cc := newConn(client, 0)
	clientHandshake(t, cc, handshakeInfo{})

	require.NoError(t, cc.writeFrame(3, []byte("ping")))
	result := cc.await()
	require.Equal(t, awaitPayload, result.kind)
	require.Equal(t, []byte("echo:ping"), result.frame.payload)

	require.NoError(t, cc.writeSessionBye())
	byeResult := cc.await()
	require.Equal(t, awaitPayload, byeResult.kind)
	require.Equal(t, controlSessionByeOK, byeResult.frame.slot)

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("worker did not exit after termination request")
	}
}

func TestWorkerRoutingArmDispatchesDuringPendingShutdown(t *testing.T) {
	server, client := net.Pipe()
	t.Cleanup(func() { _ = client.Close() })

	const routingServiceID = 9
	chains := Chains{
		IsRouting: func(serviceID uint64) bool { return serviceID == routingServiceID },
		Routing:   func(req *Request, resp *Response) bool { return false },
		General:   func(req *Request, resp *Response) { _ = resp.Body([]byte("handled")) },
	}
	w := NewWorker(1, newConn(server, 0), "testdb", chains, 0, nil)
	w.RequestShutdown(endpoint.ShutdownGraceful)

	done := make(chan struct{})
	go func() {
		defer close(done)
		w.Run()
	}()

	cc := newConn(client, 0)
	clientHandshake(t, cc, handshakeInfo{})

	require.NoError(t, cc.writeFrame(routingServiceID, []byte("ping")))
	result := cc.await()
	require.Equal(t, awaitPayload, result.kind)
	require.Zero(t, result.frame.slot&respErrorBit)
	require.Equal(t, []byte("handled"), result.frame.payload)

	_ = client.Close()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("worker did not exit")
	}
}

func TestWorkerDefaultArmRejectsDuringPendingShutdown(t *testing.T) {
	server, client := net.Pipe()
	t.Cleanup(func() { _ = client.Close() })

	chains := Chains{
		IsRouting: func(serviceID uint64) bool { return serviceID == 9 },
		General:   func(req *Request, resp *Response) { t.Fatal("general chain should not run once shutdown is pending in the default arm") },
	}
	w := NewWorker(1, newConn(server, 0), "testdb", chains, 0, nil)
	w.RequestShutdown(endpoint.ShutdownGraceful)

	done := make(chan struct{})
	go func() {
		defer close(done)
		w.Run()
	}()

	cc := newConn(client, 0)
	clientHandshake(t, cc, handshakeInfo{})

	require.NoError(t, cc.writeFrame(3, []byte("ping")))
	result := cc.await()
	require.Equal(t, awaitPayload, result.kind)
	require.NotZero(t, result.frame.slot&respErrorBit)

	_ = client.Close()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("worker did not exit")
	}
}

func TestWorkerEndpointBrokerBypassesReqres(t *testing.T) {
	server, client := net.Pipe()
	t.Cleanup(func() {
		_ = server.Close()
		_ = client.Close()
	})

	invoked := make(chan struct{}, 1)
	chains := Chains{
		EndpointBroker: func(req *Request, resp *Response) { invoked <- struct{}{} },
		General:        func(req *Request, resp *Response) { t.Fatal("general chain should not run for broker service id") },
	}
	w := NewWorker(1, newConn(server, 0), "testdb", chains, 0, nil)
	go w.Run()

	cc := newConn(client, 0)
	clientHandshake(t, cc, handshakeInfo{})

	require.NoError(t, cc.writeFrame(uint16(ServiceEndpointBroker), []byte("cancel")))

	select {
	case <-invoked:
	case <-time.After(time.Second):
		t.Fatal("endpoint broker chain did not run")
	}
}
