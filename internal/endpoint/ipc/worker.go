package ipc

import (
	"github.com/dbfront/dbfront/internal/endpoint"
	"github.com/dbfront/dbfront/internal/shm"
	"github.com/dbfront/dbfront/internal/svcfields"
	"pkt.systems/pslog"
)

// RoutingService dispatches an IPC request to the framework's routing
// chain and writes a response.
type RoutingService func(req *Request, resp *Response)

// Worker is one IPC session's worker: it owns the session's shm.Wire
// and loops on request_wire.peep(true), dispatching each framed
// message to service until the wire reports closed.
type Worker struct {
	*endpoint.Common
	service      RoutingService
	wire         *shm.Wire
	databaseInfo string
	logger       pslog.Logger
}

// NewWorker constructs an IPC session worker bound to wire.
func NewWorker(sessionID uint64, wire *shm.Wire, databaseInfo string, service RoutingService, logger pslog.Logger) *Worker {
	return &Worker{
		Common:       endpoint.NewCommon(sessionID, logger),
		service:      service,
		wire:         wire,
		databaseInfo: databaseInfo,
		logger:       svcfields.WithSubsystem(logger, "endpoint.ipc.worker"),
	}
}

// HasIncompleteResultset reports whether the wire still has buffered
// result-set data pending; this worker always flushes synchronously
// within a single request/response round trip, so it is always false.
func (w *Worker) HasIncompleteResultset() bool { return false }

// Run drives the session worker loop until the wire closes, then
// disposes the session store unconditionally.
func (w *Worker) Run() {
	defer w.DisposeSessionStore()
	w.doWork()
}

func (w *Worker) doWork() {
	for {
		header, payload, err := w.wire.Request.PeepBlocking()
		if err != nil {
			return
		}
		if header.IsClosing() {
			return
		}

		req := &Request{
			sessionID:    w.SessionID(),
			slot:         header.Slot,
			payload:      payload,
			databaseInfo: w.databaseInfo,
		}
		resp := NewResponse(w.wire, header.Slot)
		resp.SetSessionID(w.SessionID())

		w.RegisterReqres(header.Slot, req, resp)
		w.safeInvoke(req, resp)
		w.MarkReqresCompleted(header.Slot)
		w.CareReqreses()

		if w.CheckShutdownRequest() && w.IsCompleted() {
			w.ShutdownComplete()
		}
	}
}

func (w *Worker) safeInvoke(req *Request, resp *Response) {
	defer func() {
		if r := recover(); r != nil {
			w.logger.Error("endpoint.ipc.service_panic", "session", w.SessionID(), "recovered", r)
			_ = resp.Error(500, "internal error")
		}
	}()
	w.service(req, resp)
}
