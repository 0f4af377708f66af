package ipc_test

import (
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/dbfront/dbfront/internal/endpoint/ipc"
	"github.com/dbfront/dbfront/internal/shm"
)

func skipUnlessShm(t *testing.T) {
	t.Helper()
	if _, err := os.Stat("/dev/shm"); err != nil {
		t.Skip("/dev/shm not available on this host")
	}
}

func echoService(req *ipc.Request, resp *ipc.Response) {
	_ = resp.Body(req.Payload())
}

func TestWorkerEchoesRequestAndCloses(t *testing.T) {
	t.Parallel()
	skipUnlessShm(t)

	name := fmt.Sprintf("dbfront-test-ipc-%d", time.Now().UnixNano())
	wire, err := shm.NewWire(name, 1, 4096)
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = wire.Close()
		_ = wire.Unlink()
	})

	w := ipc.NewWorker(1, wire, name, echoService, nil)
	require.False(t, w.HasIncompleteResultset())

	done := make(chan struct{})
	go func() {
		defer close(done)
		w.Run()
	}()

	payload := []byte("ping")
	require.NoError(t, wire.Request.WriteFrame(shm.Header{Length: uint32(len(payload)), Slot: 9}, payload))

	h, got, err := wire.Response.PeepBlocking()
	require.NoError(t, err)
	require.Equal(t, uint16(9), h.Slot)
	require.Equal(t, payload, got)

	require.NoError(t, wire.Request.WriteFrame(shm.Header{Length: 0, Slot: shm.SentinelSlot}, nil))

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("worker did not exit after closing sentinel")
	}
}
