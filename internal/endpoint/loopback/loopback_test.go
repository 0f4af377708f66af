package loopback_test

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/dbfront/dbfront/internal/endpoint/loopback"
)

// echoWithChannels mirrors spec.md §8 scenario 7: echo the payload,
// write a body_head, and write nchannel*nwrite*nloop messages across
// nchannel named channels.
func echoWithChannels(nchannel, nwrite, nloop int) loopback.Service {
	return func(req *loopback.Request, resp *loopback.Response) {
		_ = resp.BodyHead([]byte("body_head"))
		for c := 0; c < nchannel; c++ {
			ch, _ := resp.AcquireChannel(fmt.Sprintf("ch%d", c))
			for w := 0; w < nwrite; w++ {
				writer, _ := ch.AcquireWriter()
				for i := 0; i < nloop; i++ {
					_, _ = writer.Write([]byte(fmt.Sprintf("ch%d-w%d-%d", c, w, i)))
					_ = writer.Release()
					writer, _ = ch.AcquireWriter()
				}
			}
			_ = resp.ReleaseChannel(ch)
		}
		_ = resp.Body(req.Payload())
	}
}

func TestLoopbackRoundTrip(t *testing.T) {
	t.Parallel()

	const nchannel, nwrite, nloop = 2, 2, 2
	payload := []byte("hello loopback")

	resp := loopback.Dispatch(echoWithChannels(nchannel, nwrite, nloop), 1, 42, payload)

	require.Equal(t, payload, resp.BodyBytes())
	require.Equal(t, []byte("body_head"), resp.BodyHeadBytes())

	for c := 0; c < nchannel; c++ {
		name := fmt.Sprintf("ch%d", c)
		committed := resp.Committed(name)
		var want [][]byte
		for w := 0; w < nwrite; w++ {
			for i := 0; i < nloop; i++ {
				want = append(want, []byte(fmt.Sprintf("ch%d-w%d-%d", c, w, i)))
			}
		}
		require.Equal(t, want, committed)
	}
}

func TestLoopbackBodyAtMostOnce(t *testing.T) {
	t.Parallel()

	resp := loopback.NewResponse()
	require.NoError(t, resp.Body([]byte("first")))
	require.Error(t, resp.Body([]byte("second")))
}

func TestLoopbackErrorExclusiveWithBody(t *testing.T) {
	t.Parallel()

	resp := loopback.NewResponse()
	require.NoError(t, resp.Body([]byte("ok")))
	require.Error(t, resp.Error(500, "too late"))

	resp2 := loopback.NewResponse()
	require.NoError(t, resp2.Error(500, "failed"))
	require.Error(t, resp2.Body([]byte("ok")))
}

func TestLoopbackChannelWritersAreIndependent(t *testing.T) {
	t.Parallel()

	resp := loopback.NewResponse()
	ch, _ := resp.AcquireChannel("solo")
	w1, _ := ch.AcquireWriter()
	_, _ = w1.Write([]byte("a"))
	w2, _ := ch.AcquireWriter()
	_, _ = w2.Write([]byte("b"))
	require.NoError(t, w2.Release())
	require.NoError(t, w1.Release())

	require.Equal(t, [][]byte{[]byte("b"), []byte("a")}, resp.Committed("solo"))
}
