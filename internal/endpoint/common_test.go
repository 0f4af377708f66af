package endpoint_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/dbfront/dbfront/internal/endpoint"
)

func TestCommonReqresLifecycle(t *testing.T) {
	t.Parallel()

	c := endpoint.NewCommon(1, nil)
	c.RegisterReqres(7, nil, nil)
	require.False(t, c.IsCompleted())

	c.MarkReqresCompleted(7)
	timedOut := c.CareReqreses()
	require.Empty(t, timedOut)
	require.True(t, c.IsCompleted())
}

func TestCommonShutdownGracefulWaitsForDrain(t *testing.T) {
	t.Parallel()

	c := endpoint.NewCommon(1, nil)
	c.RegisterReqres(1, nil, nil)
	c.RequestShutdown(endpoint.ShutdownGraceful)

	require.True(t, c.CheckShutdownRequest())
	require.False(t, c.ShutdownComplete(), "must not complete while a pair is in flight")

	c.MarkReqresCompleted(1)
	c.CareReqreses()
	require.True(t, c.ShutdownComplete())
	require.False(t, c.ShutdownComplete(), "must not complete twice")
}

func TestCommonShutdownForcefulIgnoresInFlight(t *testing.T) {
	t.Parallel()

	c := endpoint.NewCommon(1, nil)
	c.RegisterReqres(1, nil, nil)
	c.RequestShutdown(endpoint.ShutdownForceful)

	require.True(t, c.ShutdownComplete())
}

func TestCommonForcefulOverridesGraceful(t *testing.T) {
	t.Parallel()

	c := endpoint.NewCommon(1, nil)
	c.RequestShutdown(endpoint.ShutdownGraceful)
	c.RequestShutdown(endpoint.ShutdownForceful)
	require.Equal(t, endpoint.ShutdownForceful, c.ShutdownType())

	c.RequestShutdown(endpoint.ShutdownGraceful)
	require.Equal(t, endpoint.ShutdownForceful, c.ShutdownType(), "forceful must not downgrade")
}

func TestCommonShutdownFromClient(t *testing.T) {
	t.Parallel()

	c := endpoint.NewCommon(1, nil)
	require.False(t, c.ShutdownFromClient())
	c.MarkShutdownFromClient()
	require.True(t, c.ShutdownFromClient())
}
