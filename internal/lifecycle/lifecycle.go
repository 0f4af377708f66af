// Package lifecycle implements the setup -> start -> shutdown dispatch
// spec.md §6 names for the CLI bootstrap: components register in the
// order the process assembles them, start in that same order, and shut
// down in the reverse order, mirroring the teacher's framework-level
// bring-up/tear-down contract for its own subsystems.
package lifecycle

import (
	"context"
	"fmt"
	"sync"

	"github.com/dbfront/dbfront/internal/svcfields"
	"pkt.systems/pslog"
)

// Component is one unit a Manager sequences through setup, start, and
// shutdown. Setup or Start may be nil when a component has nothing to
// do at that phase; Shutdown may be nil for components with no teardown
// step (e.g. a pure in-memory registry).
type Component struct {
	Name     string
	Setup    func(ctx context.Context) error
	Start    func(ctx context.Context) error
	Shutdown func(ctx context.Context) error
}

// Manager sequences registered components through the lifecycle the
// CLI's serve subcommand (and its start alias) drives: Setup and Start run every
// component in registration order; Shutdown runs every started
// component in reverse order, best-effort (it keeps going past a
// failing component so one broken teardown never strands the rest).
type Manager struct {
	logger pslog.Logger

	mu         sync.Mutex
	components []Component
	started    []Component
}

// New constructs an empty Manager.
func New(logger pslog.Logger) *Manager {
	return &Manager{logger: svcfields.WithSubsystem(logger, "lifecycle")}
}

// Register appends c to the registration order. Register must not be
// called concurrently with Start/Shutdown.
func (m *Manager) Register(c Component) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.components = append(m.components, c)
}

// Start runs Setup then Start for every registered component in
// registration order. On the first failure it shuts down every
// component started so far (in reverse order) and returns the error
// wrapped with the failing component's name.
func (m *Manager) Start(ctx context.Context) error {
	m.mu.Lock()
	components := append([]Component(nil), m.components...)
	m.mu.Unlock()

	for _, c := range components {
		if c.Setup != nil {
			if err := c.Setup(ctx); err != nil {
				m.shutdownStarted(ctx)
				return fmt.Errorf("lifecycle: setup %q: %w", c.Name, err)
			}
		}
		if c.Start != nil {
			if err := c.Start(ctx); err != nil {
				m.shutdownStarted(ctx)
				return fmt.Errorf("lifecycle: start %q: %w", c.Name, err)
			}
		}
		m.mu.Lock()
		m.started = append(m.started, c)
		m.mu.Unlock()
		m.logger.Info("lifecycle.component.started", "component", c.Name)
	}
	return nil
}

// Shutdown runs Shutdown for every started component in reverse
// registration order, logging (not stopping on) each failure, and
// returns the first error encountered, if any.
func (m *Manager) Shutdown(ctx context.Context) error {
	return m.shutdownStarted(ctx)
}

func (m *Manager) shutdownStarted(ctx context.Context) error {
	m.mu.Lock()
	started := m.started
	m.started = nil
	m.mu.Unlock()

	var firstErr error
	for i := len(started) - 1; i >= 0; i-- {
		c := started[i]
		if c.Shutdown == nil {
			continue
		}
		if err := c.Shutdown(ctx); err != nil {
			m.logger.Warn("lifecycle.component.shutdown_failed", "component", c.Name, "error", err)
			if firstErr == nil {
				firstErr = fmt.Errorf("lifecycle: shutdown %q: %w", c.Name, err)
			}
			continue
		}
		m.logger.Info("lifecycle.component.stopped", "component", c.Name)
	}
	return firstErr
}
