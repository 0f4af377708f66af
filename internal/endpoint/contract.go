// Package endpoint defines the capability contract shared by the IPC,
// Stream, and Loopback endpoints: request/response shape, reqres
// tracking, and the per-session shutdown state machine. Concrete
// endpoints embed Common and add their own transport loop.
package endpoint

import (
	"time"

	"github.com/rs/xid"
)

// Request is the capability contract a concrete request type exposes,
// reframed from the source's virtual request base class into a plain
// interface dispatched on capability rather than inheritance.
type Request interface {
	SessionID() uint64
	ServiceID() uint64
	Payload() []byte
	DatabaseInfo() string
	SessionInfo() string
}

// Response is the capability contract a concrete response type exposes.
// BodyHead and Body may each be called at most once and never after
// Error; callers that violate this receive coreerr.ErrServiceError.
type Response interface {
	SetSessionID(id uint64)
	BodyHead(data []byte) error
	Body(data []byte) error
	Error(code int32, message string) error
	AcquireChannel(name string) (DataChannel, error)
	ReleaseChannel(ch DataChannel) error
}

// DataChannel is a named, writer-producing output channel acquired from
// a Response. Writers accumulate bytes and each Writer's Release commits
// them. ReleaseChannel does not release writers still acquired on the
// channel; their bytes are committed only when Release is called on them.
type DataChannel interface {
	Name() string
	AcquireWriter() (Writer, error)
}

// Writer accumulates bytes for one data-channel writer; Release commits
// the accumulated bytes onto the channel's committed sequence.
type Writer interface {
	Write(p []byte) (int, error)
	Release() error
}

// ShutdownType distinguishes graceful drain from forceful cancellation.
type ShutdownType int

const (
	// ShutdownNone means no shutdown has been requested.
	ShutdownNone ShutdownType = iota
	// ShutdownGraceful drains in-flight request/response pairs before completing.
	ShutdownGraceful
	// ShutdownForceful lets the shutdown complete without waiting for
	// in-flight request/response pairs; running invocations are not interrupted.
	ShutdownForceful
)

func (t ShutdownType) String() string {
	switch t {
	case ShutdownGraceful:
		return "graceful"
	case ShutdownForceful:
		return "forceful"
	default:
		return "none"
	}
}

// ReqresEntry tracks one in-flight request/response pair, keyed by the
// transport-level slot id that framed it. TraceID is minted fresh per
// entry so CareReqreses's timeout/diagnostics log lines can correlate
// one request across a worker's log output without exposing the
// session's numeric id or slot number, which are reused across
// requests.
type ReqresEntry struct {
	Slot       uint16
	TraceID    xid.ID
	Request    Request
	Response   Response
	Registered time.Time
	Completed  bool
}
