package endpoint

import (
	"sync"
	"time"

	"github.com/rs/xid"

	"github.com/dbfront/dbfront/internal/coreerr"
	"github.com/dbfront/dbfront/internal/svcfields"
	"pkt.systems/pslog"
)

// ReqresTimeout bounds how long an entry may sit in Common's reqres
// table before CareReqreses surfaces it as timed out.
const ReqresTimeout = 30 * time.Second

// Common is the worker_common capability contract every concrete
// endpoint session worker embeds: session identity, in-flight
// request/response tracking, and the shutdown state machine. A
// concrete endpoint supplies its own HasIncompleteResultset, since that
// check is transport-specific (IPC consults its wire's garbage
// collector; Stream always reports false because it flushes
// synchronously).
type Common struct {
	sessionID uint64
	logger    pslog.Logger

	mu             sync.Mutex
	reqres         map[uint16]*ReqresEntry
	shutdownReq    ShutdownType
	shutdownFromCl bool
	shutdownDone   bool
}

// NewCommon constructs a Common for sessionID.
func NewCommon(sessionID uint64, logger pslog.Logger) *Common {
	return &Common{
		sessionID: sessionID,
		logger:    svcfields.WithSubsystem(logger, "endpoint.common"),
		reqres:    make(map[uint16]*ReqresEntry),
	}
}

// SessionID returns the session this worker_common belongs to.
func (c *Common) SessionID() uint64 { return c.sessionID }

// RegisterReqres tracks an in-flight request/response pair under slot
// and returns the trace id minted for it.
func (c *Common) RegisterReqres(slot uint16, req Request, resp Response) xid.ID {
	c.mu.Lock()
	defer c.mu.Unlock()
	traceID := xid.New()
	c.reqres[slot] = &ReqresEntry{Slot: slot, TraceID: traceID, Request: req, Response: resp, Registered: time.Now()}
	return traceID
}

// RemoveReqres stops tracking slot, typically once its response has
// been fully sent.
func (c *Common) RemoveReqres(slot uint16) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.reqres, slot)
}

// MarkReqresCompleted flags slot's entry as completed without removing
// it, so CareReqreses can prune it on the next sweep.
func (c *Common) MarkReqresCompleted(slot uint16) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if e, ok := c.reqres[slot]; ok {
		e.Completed = true
	}
}

// CareReqreses sweeps the reqres table, pruning completed pairs and
// returning the slots of any pair that has sat in-flight longer than
// ReqresTimeout.
func (c *Common) CareReqreses() (timedOut []uint16) {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := time.Now()
	for slot, e := range c.reqres {
		if e.Completed {
			delete(c.reqres, slot)
			continue
		}
		if now.Sub(e.Registered) > ReqresTimeout {
			timedOut = append(timedOut, slot)
			c.logger.Warn("endpoint.common.reqres_timeout", "slot", slot, "trace_id", e.TraceID.String(), "age", now.Sub(e.Registered))
		}
	}
	return timedOut
}

// IsCompleted reports whether no request/response pairs remain in flight.
func (c *Common) IsCompleted() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.reqres) == 0
}

// CheckShutdownRequest reports whether a shutdown has been requested
// (of either type) and has not yet completed.
func (c *Common) CheckShutdownRequest() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.shutdownReq != ShutdownNone && !c.shutdownDone
}

// ShutdownType reports which kind of shutdown, if any, is pending or done.
func (c *Common) ShutdownType() ShutdownType {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.shutdownReq
}

// RequestShutdown records a shutdown request of the given type. A
// forceful request always overrides a previously pending graceful one;
// it never downgrades an existing forceful request to graceful.
func (c *Common) RequestShutdown(t ShutdownType) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.shutdownReq == ShutdownForceful {
		return
	}
	c.shutdownReq = t
}

// ShutdownFromClient reports whether the shutdown request originated from
// the client's own termination-request frame, distinct from a
// session-manager-initiated shutdown.
func (c *Common) ShutdownFromClient() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.shutdownFromCl
}

// MarkShutdownFromClient flags the pending shutdown as client-initiated.
func (c *Common) MarkShutdownFromClient() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.shutdownFromCl = true
}

// ShutdownComplete finalizes a pending shutdown and reports whether it
// did so. It returns false if no shutdown is pending, if the shutdown has
// already completed, or if a graceful shutdown still has pairs in flight;
// a forceful shutdown completes even with pairs in flight.
func (c *Common) ShutdownComplete() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.shutdownDone || c.shutdownReq == ShutdownNone {
		return false
	}
	if len(c.reqres) != 0 && c.shutdownReq != ShutdownForceful {
		return false
	}
	c.shutdownDone = true
	return true
}

// HasCompletedShutdown reports whether ShutdownComplete has already run.
func (c *Common) HasCompletedShutdown() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.shutdownDone
}

// NotifyClient sends a diagnostics record to resp carrying code and
// message; failures to notify are not retried, matching the source's
// best-effort notification semantics.
func (c *Common) NotifyClient(resp Response, code int32, message string) error {
	if resp == nil {
		return coreerr.ErrTransportClosed
	}
	return resp.Error(code, message)
}

// DisposeSessionStore performs terminal cleanup; embedding endpoints
// call it from their run() defer regardless of how the loop exited.
func (c *Common) DisposeSessionStore() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.reqres = make(map[uint16]*ReqresEntry)
}
