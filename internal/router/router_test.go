package router_test

import (
	"encoding/binary"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/dbfront/dbfront/internal/endpoint/loopback"
	"github.com/dbfront/dbfront/internal/router"
	"github.com/dbfront/dbfront/internal/scheduler"
	"github.com/dbfront/dbfront/internal/session"
)

func newTestRouter(t *testing.T) (*router.Router, *session.Registry, *scheduler.Scheduler) {
	t.Helper()
	registry := session.NewRegistry(nil)
	sched := scheduler.New(scheduler.Config{ThreadCount: 2}, nil, nil)
	sched.Start()
	t.Cleanup(sched.Stop)
	return router.New(registry, sched, nil), registry, sched
}

func dispatch(r *router.Router, sessionID, serviceID uint64, payload []byte) *loopback.Response {
	return loopback.Dispatch(func(req *loopback.Request, resp *loopback.Response) {
		r.Service(req, resp)
	}, sessionID, serviceID, payload)
}

func TestRouterExecuteFallsThroughToScheduler(t *testing.T) {
	t.Parallel()

	r, _, _ := newTestRouter(t)
	resp := dispatch(r, 1, 999, []byte("echo this"))

	errored, _, _ := resp.Errored()
	require.False(t, errored)
	require.Equal(t, []byte("echo this"), resp.BodyBytes())
}

func TestRouterSessionList(t *testing.T) {
	t.Parallel()

	r, registry, _ := newTestRouter(t)
	ctx := session.NewContext(1, "alice", "app", "user", session.ConnectionLoopback, "")
	require.True(t, registry.Register(ctx))

	resp := dispatch(r, 1, router.ServiceSessionList, nil)
	errored, _, _ := resp.Errored()
	require.False(t, errored)

	count := binary.BigEndian.Uint32(resp.BodyBytes()[:4])
	require.Equal(t, uint32(1), count)
}

func TestRouterSessionGetNotFound(t *testing.T) {
	t.Parallel()

	r, _, _ := newTestRouter(t)
	resp := dispatch(r, 1, router.ServiceSessionGet, []byte(":999"))

	errored, code, _ := resp.Errored()
	require.True(t, errored)
	require.Equal(t, int32(404), code)
}

func TestRouterSessionShutdownGraceful(t *testing.T) {
	t.Parallel()

	r, registry, _ := newTestRouter(t)
	ctx := session.NewContext(7, "bob", "app", "user", session.ConnectionLoopback, "")
	require.True(t, registry.Register(ctx))

	specifier := []byte(":7")
	payload := append([]byte{byte(len(specifier))}, specifier...)
	payload = append(payload, 0)
	resp := dispatch(r, 1, router.ServiceSessionShutdown, payload)

	errored, _, _ := resp.Errored()
	require.False(t, errored)
	require.Equal(t, session.ShutdownGraceful, ctx.ShutdownRequested())
}

func TestRouterSetAndGetStringVariable(t *testing.T) {
	t.Parallel()

	r, registry, _ := newTestRouter(t)
	ctx := session.NewContext(3, "carol", "app", "user", session.ConnectionLoopback, "")
	require.True(t, registry.Register(ctx))

	specifier := []byte(":3")
	name := []byte("greeting")
	setPayload := append([]byte{byte(len(specifier))}, specifier...)
	setPayload = append(setPayload, byte(len(name)))
	setPayload = append(setPayload, name...)
	setPayload = append(setPayload, byte(session.VariableTypeString))
	setPayload = append(setPayload, []byte("hello")...)

	setResp := dispatch(r, 1, router.ServiceSessionSetVariable, setPayload)
	errored, _, msg := setResp.Errored()
	require.Falsef(t, errored, "set_variable error: %s", msg)

	getPayload := append([]byte{byte(len(specifier))}, specifier...)
	getPayload = append(getPayload, byte(len(name)))
	getPayload = append(getPayload, name...)

	getResp := dispatch(r, 1, router.ServiceSessionGetVariable, getPayload)
	errored, _, msg = getResp.Errored()
	require.Falsef(t, errored, "get_variable error: %s", msg)

	body := getResp.BodyBytes()
	require.Equal(t, byte(session.VariableTypeString), body[0])
	require.Equal(t, "hello", string(body[2:]))
}

func TestRouterConnectAndDisconnect(t *testing.T) {
	t.Parallel()

	r, registry, _ := newTestRouter(t)
	r.Connect(42, session.ConnectionStream, "svc-a", "10.0.0.1:5555")

	ctx, err := registry.Get(":42")
	require.NoError(t, err)
	require.Equal(t, "svc-a", ctx.Label())

	r.Disconnect(42)
	_, err = registry.Get(":42")
	require.Error(t, err)
}

func TestRouterExecuteTimesOutWithoutScheduler(t *testing.T) {
	t.Parallel()

	registry := session.NewRegistry(nil)
	sched := scheduler.New(scheduler.Config{ThreadCount: 1, EmptyThread: true}, nil, nil)
	r := router.New(registry, sched, nil)
	r.ExecuteTimeout = 50 * time.Millisecond

	done := make(chan *loopback.Response, 1)
	go func() { done <- dispatch(r, 1, 999, []byte("x")) }()

	select {
	case resp := <-done:
		errored, code, _ := resp.Errored()
		require.True(t, errored)
		require.Equal(t, int32(504), code)
	case <-time.After(5 * time.Second):
		t.Fatal("Execute did not time out")
	}
}
