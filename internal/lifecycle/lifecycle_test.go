package lifecycle_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/dbfront/dbfront/internal/lifecycle"
)

func TestStartRunsInRegistrationOrderShutdownReverses(t *testing.T) {
	t.Parallel()

	var order []string
	m := lifecycle.New(nil)
	for _, name := range []string{"a", "b", "c"} {
		name := name
		m.Register(lifecycle.Component{
			Name:     name,
			Setup:    func(context.Context) error { order = append(order, "setup:"+name); return nil },
			Start:    func(context.Context) error { order = append(order, "start:"+name); return nil },
			Shutdown: func(context.Context) error { order = append(order, "shutdown:"+name); return nil },
		})
	}

	require.NoError(t, m.Start(context.Background()))
	require.NoError(t, m.Shutdown(context.Background()))

	require.Equal(t, []string{
		"setup:a", "start:a",
		"setup:b", "start:b",
		"setup:c", "start:c",
		"shutdown:c", "shutdown:b", "shutdown:a",
	}, order)
}

func TestStartFailureRollsBackStartedComponents(t *testing.T) {
	t.Parallel()

	var order []string
	boom := errors.New("boom")
	m := lifecycle.New(nil)
	m.Register(lifecycle.Component{
		Name:     "a",
		Start:    func(context.Context) error { order = append(order, "start:a"); return nil },
		Shutdown: func(context.Context) error { order = append(order, "shutdown:a"); return nil },
	})
	m.Register(lifecycle.Component{
		Name:  "b",
		Start: func(context.Context) error { return boom },
	})
	m.Register(lifecycle.Component{
		Name:  "c",
		Start: func(context.Context) error { order = append(order, "start:c"); return nil },
	})

	err := m.Start(context.Background())
	require.ErrorIs(t, err, boom)
	require.Equal(t, []string{"start:a", "shutdown:a"}, order)
}

func TestShutdownIsIdempotentAfterDrain(t *testing.T) {
	t.Parallel()

	calls := 0
	m := lifecycle.New(nil)
	m.Register(lifecycle.Component{
		Name:     "a",
		Shutdown: func(context.Context) error { calls++; return nil },
	})

	require.NoError(t, m.Start(context.Background()))
	require.NoError(t, m.Shutdown(context.Background()))
	require.NoError(t, m.Shutdown(context.Background()))
	require.Equal(t, 1, calls)
}
