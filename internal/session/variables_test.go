package session_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/dbfront/dbfront/internal/coreerr"
	"github.com/dbfront/dbfront/internal/session"
)

func TestVariableRoundTrip(t *testing.T) {
	t.Parallel()

	ctx := session.NewContext(1, "", "", "", session.ConnectionLoopback, "")
	require.NoError(t, ctx.SetString("greeting", "hello"))
	value, ok := ctx.GetString("greeting")
	require.True(t, ok)
	require.Equal(t, "hello", value)
}

func TestVariableTypeMismatch(t *testing.T) {
	t.Parallel()

	ctx := session.NewContext(1, "", "", "", session.ConnectionLoopback, "")
	require.NoError(t, ctx.SetInt64("n", 42))
	require.ErrorIs(t, ctx.SetString("n", "oops"), coreerr.ErrVariableTypeMismatch)

	_, ok := ctx.GetString("n")
	require.False(t, ok, "wrong-typed get must not return the int64 value reinterpreted")
}

func TestVariableUnsetLookup(t *testing.T) {
	t.Parallel()

	ctx := session.NewContext(1, "", "", "", session.ConnectionLoopback, "")
	_, ok := ctx.GetBool("missing")
	require.False(t, ok)
}
