package stream

import (
	"encoding/binary"
	"time"

	"github.com/dbfront/dbfront/internal/endpoint"
	"github.com/dbfront/dbfront/internal/svcfields"
	"pkt.systems/pslog"
)

// Chains is the three dispatch targets a Stream payload frame can reach,
// per the worker loop's three service_id arms:
//   - EndpointBroker handles the reserved broker service id. The worker
//     first applies the cancel operation itself (dropping the reqres
//     entry the payload names); the broker request is never registered.
//   - The routing arm (service ids IsRouting reports true for) registers
//     unconditionally, offers Routing first, and falls through to
//     General if it declines (returns false); a pending shutdown is
//     only checked afterward, to let an in-flight routing exchange
//     complete instead of being rejected outright.
//   - The default arm (every other, non-broker service id) rejects with
//     SESSION_CLOSED upfront if a shutdown is pending; otherwise it
//     registers and dispatches straight to General, never attempting
//     Routing.
type Chains struct {
	EndpointBroker func(req *Request, resp *Response)
	// IsRouting reports whether serviceID belongs to the routing arm.
	// A nil IsRouting sends every non-broker service id through the
	// default arm.
	IsRouting func(serviceID uint64) bool
	Routing   func(req *Request, resp *Response) bool
	General   func(req *Request, resp *Response)

	// Connect and Disconnect, if set, fire once per session right after
	// a successful handshake and right before the worker loop exits.
	// Neither is called if the handshake itself fails.
	Connect    func(sessionID uint64, label string)
	Disconnect func(sessionID uint64)
}

// Worker is one Stream session's worker: it owns the TCP connection and
// loops on await(), dispatching payload frames, doing timeout
// housekeeping, and handling the client's termination request.
type Worker struct {
	*endpoint.Common
	conn         *conn
	chains       Chains
	databaseInfo string
	sessionInfo  string
	expiration   time.Duration
	notifiedExp  bool
	logger       pslog.Logger
}

// NewWorker constructs a Stream session worker bound to c, with
// sessionID already reserved by the listener's capacity check.
func NewWorker(sessionID uint64, c *conn, databaseInfo string, chains Chains, expiration time.Duration, logger pslog.Logger) *Worker {
	return &Worker{
		Common:       endpoint.NewCommon(sessionID, logger),
		conn:         c,
		chains:       chains,
		databaseInfo: databaseInfo,
		expiration:   expiration,
		logger:       svcfields.WithSubsystem(logger, "endpoint.stream.worker"),
	}
}

// HasIncompleteResultset always reports false: Stream flushes every
// response synchronously within the frame that carries it.
func (w *Worker) HasIncompleteResultset() bool { return false }

// Handshake performs the initial metadata exchange and assigns the
// session id that was reserved for this worker. A failed handshake
// closes the transport without the session ever being registered.
func (w *Worker) Handshake() error {
	info, err := readHandshake(w.conn)
	if err != nil {
		_ = writeHandshakeResponse(w.conn, 0, false)
		return err
	}
	w.sessionInfo = info.label
	return writeHandshakeResponse(w.conn, w.SessionID(), true)
}

// Run drives the session worker loop until await() yields an error or a
// termination_request is fully acknowledged, then closes the stream.
func (w *Worker) Run() {
	defer func() {
		w.DisposeSessionStore()
		_ = w.conn.Close()
	}()

	if err := w.Handshake(); err != nil {
		w.logger.Warn("endpoint.stream.handshake_failed", "session", w.SessionID(), "error", err)
		return
	}
	if w.chains.Connect != nil {
		w.chains.Connect(w.SessionID(), w.sessionInfo)
	}
	if w.chains.Disconnect != nil {
		defer w.chains.Disconnect(w.SessionID())
	}

	for {
		result := w.conn.await()
		switch result.kind {
		case awaitPayload:
			w.dispatch(result.frame)
		case awaitTimeout:
			w.onTimeout()
		case awaitTerminationRequest:
			w.onTerminationRequest()
			return
		case awaitError:
			return
		}
	}
}

func (w *Worker) dispatch(f frame) {
	req := &Request{
		sessionID:    w.SessionID(),
		slot:         f.slot,
		payload:      f.payload,
		databaseInfo: w.databaseInfo,
		sessionInfo:  w.sessionInfo,
	}
	resp := NewResponse(w.conn, f.slot)
	resp.SetSessionID(w.SessionID())

	switch {
	case req.ServiceID() == ServiceEndpointBroker:
		w.cancel(req.Payload())
		w.safeInvoke(func() { w.chains.EndpointBroker(req, resp) })
	case w.chains.IsRouting != nil && w.chains.IsRouting(req.ServiceID()):
		w.dispatchRouting(req, resp)
	default:
		w.dispatchDefault(req, resp)
	}
}

// cancel implements the endpoint broker's one locally-significant
// operation: dropping a still-in-flight reqres entry identified by its
// 2-byte big-endian slot, per spec.md's "used to cancel ... on
// shutdown" note on register_reqres/remove_reqres. A payload too short
// to carry a slot (e.g. the broker's other, non-cancel uses) is a no-op.
func (w *Worker) cancel(payload []byte) {
	if len(payload) < 2 {
		return
	}
	w.RemoveReqres(binary.BigEndian.Uint16(payload[:2]))
}

// dispatchRouting implements the routing arm: registration happens
// regardless of a pending shutdown, so an in-flight routing exchange
// (e.g. a session-management bridge call) can complete and be swept by
// care_reqreses/shutdown_complete rather than being rejected outright.
func (w *Worker) dispatchRouting(req *Request, resp *Response) {
	w.RegisterReqres(req.Slot(), req, resp)
	handled := false
	if w.chains.Routing != nil {
		w.safeInvoke(func() { handled = w.chains.Routing(req, resp) })
	}
	if !handled && w.chains.General != nil {
		w.safeInvoke(func() { w.chains.General(req, resp) })
	}
	w.MarkReqresCompleted(req.Slot())
	w.CareReqreses()

	if w.CheckShutdownRequest() && w.IsCompleted() {
		w.ShutdownComplete()
	}
}

// dispatchDefault implements the default arm: a pending shutdown is
// checked upfront and rejects the request outright, since an
// unrecognized service id never gets the routing arm's chance to drain
// in flight. Dispatch never attempts Routing, only General.
func (w *Worker) dispatchDefault(req *Request, resp *Response) {
	if w.CheckShutdownRequest() {
		_ = resp.Error(0, "session closed")
		return
	}

	w.RegisterReqres(req.Slot(), req, resp)
	if w.chains.General != nil {
		w.safeInvoke(func() { w.chains.General(req, resp) })
	}
	w.MarkReqresCompleted(req.Slot())
}

func (w *Worker) onTimeout() {
	w.CareReqreses()
	if w.CheckShutdownRequest() && w.IsCompleted() {
		w.ShutdownComplete()
	}
	if w.expiration > 0 && !w.notifiedExp {
		w.RequestShutdown(endpoint.ShutdownForceful)
		w.notifiedExp = true
	}
}

func (w *Worker) onTerminationRequest() {
	alreadyRequested := w.CheckShutdownRequest()
	w.MarkShutdownFromClient()
	_ = w.conn.writeSessionByeOK()
	if alreadyRequested {
		return
	}
	w.RequestShutdown(endpoint.ShutdownForceful)
}

func (w *Worker) safeInvoke(fn func()) {
	defer func() {
		if r := recover(); r != nil {
			w.logger.Error("endpoint.stream.service_panic", "session", w.SessionID(), "recovered", r)
		}
	}()
	fn()
}
