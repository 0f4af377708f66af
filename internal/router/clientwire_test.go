package router_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/dbfront/dbfront/internal/router"
	"github.com/dbfront/dbfront/internal/session"
)

func TestClientWireSessionListRoundTrip(t *testing.T) {
	t.Parallel()

	r, registry, _ := newTestRouter(t)
	ctx := session.NewContext(5, "dora", "psql", "alice", session.ConnectionStream, "10.0.0.2:4444")
	require.True(t, registry.Register(ctx))

	resp := dispatch(r, 5, router.ServiceSessionList, nil)
	errored, _, _ := resp.Errored()
	require.False(t, errored)

	entries, err := router.DecodeEntries(resp.BodyBytes())
	require.NoError(t, err)
	require.Len(t, entries, 1)
	require.Equal(t, uint64(5), entries[0].NumericID)
	require.Equal(t, "dora", entries[0].Label)
	require.Equal(t, "psql", entries[0].Application)
	require.Equal(t, "alice", entries[0].User)
	require.Equal(t, string(session.ConnectionStream), entries[0].ConnectionType)
	require.Equal(t, "10.0.0.2:4444", entries[0].ConnectionInfo)
	require.Equal(t, ctx.CorrelationID().String(), entries[0].CorrelationID)
}

func TestClientWireShutdownRoundTrip(t *testing.T) {
	t.Parallel()

	r, registry, _ := newTestRouter(t)
	ctx := session.NewContext(9, "eve", "", "", session.ConnectionStream, "")
	require.True(t, registry.Register(ctx))

	payload := router.EncodeShutdownRequest(":9", session.ShutdownForceful)
	resp := dispatch(r, 9, router.ServiceSessionShutdown, payload)
	errored, _, msg := resp.Errored()
	require.Falsef(t, errored, "shutdown error: %s", msg)
	require.Equal(t, session.ShutdownForceful, ctx.ShutdownRequested())
}

func TestClientWireSetGetVariableRoundTrip(t *testing.T) {
	t.Parallel()

	r, registry, _ := newTestRouter(t)
	ctx := session.NewContext(11, "frank", "", "", session.ConnectionStream, "")
	require.True(t, registry.Register(ctx))

	setPayload := router.EncodeSetVariableRequest(":11", "timeout_ms", session.VariableTypeInt64, encodeInt64(t, 2500))
	setResp := dispatch(r, 11, router.ServiceSessionSetVariable, setPayload)
	errored, _, msg := setResp.Errored()
	require.Falsef(t, errored, "set_variable error: %s", msg)

	getPayload := router.EncodeGetVariableRequest(":11", "timeout_ms")
	getResp := dispatch(r, 11, router.ServiceSessionGetVariable, getPayload)
	errored, _, msg = getResp.Errored()
	require.Falsef(t, errored, "get_variable error: %s", msg)

	kind, value, err := router.DecodeVariable(getResp.BodyBytes())
	require.NoError(t, err)
	require.Equal(t, session.VariableTypeInt64, kind)
	rendered, err := router.DecodeVariableString(kind, value)
	require.NoError(t, err)
	require.Equal(t, "2500", rendered)
}

func encodeInt64(t *testing.T, v int64) []byte {
	t.Helper()
	b := make([]byte, 8)
	for i := 7; i >= 0; i-- {
		b[i] = byte(v)
		v >>= 8
	}
	return b
}
