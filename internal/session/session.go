// Package session implements the process-wide session registry: a
// numeric-id-keyed table of session_context, reachable through weak
// back-references so the registry never keeps a session worker's
// strong reference alive past the worker's own exit.
package session

import (
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// ShutdownKind distinguishes graceful drain from forceful cancellation,
// mirrored from the endpoint package's shutdown vocabulary so the
// session manager can set the flag a session worker later observes.
type ShutdownKind int32

const (
	ShutdownNone ShutdownKind = iota
	ShutdownGraceful
	ShutdownForceful
)

// ConnectionType distinguishes the transport a session was accepted
// over; it is informational and carried through to SessionEntry.
type ConnectionType string

const (
	ConnectionIPC      ConnectionType = "ipc"
	ConnectionStream   ConnectionType = "stream"
	ConnectionLoopback ConnectionType = "loopback"
)

// VariableType declares the type a session variable was created with;
// Set must match it or the store returns ErrVariableTypeMismatch.
type VariableType int

const (
	VariableTypeString VariableType = iota
	VariableTypeInt64
	VariableTypeBool
)

// Context is the strong, worker-owned session state. A worker
// constructs one with NewContext, registers it with a Registry, and
// keeps the only strong reference for the session's lifetime; the
// Registry only ever holds a weak.Pointer to it.
type Context struct {
	numericID      uint64
	correlationID  uuid.UUID
	label          string
	application    string
	user           string
	connectionType ConnectionType
	connectionInfo string
	startTime      time.Time

	vars     *variableStore
	shutdown atomic.Int32
}

// RequestShutdown sets the session's shutdown flag. A forceful request
// is never downgraded by a later graceful one.
func (c *Context) RequestShutdown(kind ShutdownKind) {
	for {
		cur := ShutdownKind(c.shutdown.Load())
		if cur == ShutdownForceful {
			return
		}
		if c.shutdown.CompareAndSwap(int32(cur), int32(kind)) {
			return
		}
	}
}

// ShutdownRequested reports the session's current shutdown flag.
func (c *Context) ShutdownRequested() ShutdownKind {
	return ShutdownKind(c.shutdown.Load())
}

// NewContext constructs session state for numericID. label may be
// empty; it need not be unique, and Get returns ErrSessionAmbiguous
// when more than one live session shares a non-empty label.
func NewContext(numericID uint64, label, application, user string, connType ConnectionType, connInfo string) *Context {
	return &Context{
		numericID:      numericID,
		correlationID:  uuid.New(),
		label:          label,
		application:    application,
		user:           user,
		connectionType: connType,
		connectionInfo: connInfo,
		startTime:      time.Now(),
		vars:           newVariableStore(),
	}
}

// NumericID returns the session's process-lifetime-unique numeric id.
func (c *Context) NumericID() uint64 { return c.numericID }

// Label returns the session's (possibly empty, possibly non-unique) label.
func (c *Context) Label() string { return c.label }

// CorrelationID returns the random identifier minted for this session
// at construction time, distinct from the monotonic numeric id and
// stable across the session's lifetime; it is meant for cross-log
// correlation, not lookup (Registry.Get never indexes by it).
func (c *Context) CorrelationID() uuid.UUID { return c.correlationID }

// Entry snapshots this session's list-visible fields.
func (c *Context) Entry() Entry {
	return Entry{
		NumericID:      c.numericID,
		CorrelationID:  c.correlationID,
		Label:          c.label,
		Application:    c.application,
		User:           c.user,
		ConnectionType: c.connectionType,
		ConnectionInfo: c.connectionInfo,
		StartTime:      c.startTime,
	}
}

// Entry is the read-only snapshot SessionList returns per session.
type Entry struct {
	NumericID      uint64
	CorrelationID  uuid.UUID
	Label          string
	Application    string
	User           string
	ConnectionType ConnectionType
	ConnectionInfo string
	StartTime      time.Time
}
