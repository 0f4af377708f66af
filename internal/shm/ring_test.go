package shm_test

import (
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/dbfront/dbfront/internal/shm"
)

func skipUnlessShm(t *testing.T) {
	t.Helper()
	if _, err := os.Stat("/dev/shm"); err != nil {
		t.Skip("/dev/shm not available on this host")
	}
}

func newTestRing(t *testing.T) *shm.Ring {
	t.Helper()
	skipUnlessShm(t)
	name := fmt.Sprintf("dbfront-test-%d", time.Now().UnixNano())
	r, err := shm.NewRing(name, 4096)
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = r.Close()
		_ = r.Unlink()
	})
	return r
}

func TestRingWriteThenPeep(t *testing.T) {
	t.Parallel()

	r := newTestRing(t)
	payload := []byte("hello")
	require.NoError(t, r.WriteFrame(shm.Header{Length: uint32(len(payload)), Slot: 3}, payload))

	h, got, err := r.PeepBlocking()
	require.NoError(t, err)
	require.False(t, h.IsClosing())
	require.Equal(t, uint16(3), h.Slot)
	require.Equal(t, payload, got)
}

func TestRingPeepBlocksUntilWrite(t *testing.T) {
	t.Parallel()

	r := newTestRing(t)
	done := make(chan struct{})
	go func() {
		defer close(done)
		h, payload, err := r.PeepBlocking()
		require.NoError(t, err)
		require.Equal(t, []byte("late"), payload)
		require.Equal(t, uint16(1), h.Slot)
	}()

	time.Sleep(10 * time.Millisecond)
	require.NoError(t, r.WriteFrame(shm.Header{Length: 4, Slot: 1}, []byte("late")))

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("peep did not wake up after write")
	}
}

func TestRingCloseUnblocksPeep(t *testing.T) {
	t.Parallel()

	r := newTestRing(t)
	done := make(chan error, 1)
	go func() {
		_, _, err := r.PeepBlocking()
		done <- err
	}()

	time.Sleep(10 * time.Millisecond)
	require.NoError(t, r.Close())

	select {
	case err := <-done:
		require.Error(t, err)
	case <-time.After(time.Second):
		t.Fatal("peep did not unblock on close")
	}
}

func TestWireSendClosing(t *testing.T) {
	t.Parallel()
	skipUnlessShm(t)

	name := fmt.Sprintf("dbfront-test-wire-%d", time.Now().UnixNano())
	w, err := shm.NewWire(name, 1, 4096)
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = w.Close()
		_ = w.Unlink()
	})

	require.NoError(t, w.SendClosing())
	h, payload, err := w.Response.PeepBlocking()
	require.NoError(t, err)
	require.True(t, h.IsClosing())
	require.Nil(t, payload)
}
