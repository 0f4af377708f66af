// Package router implements the "registered service by service_id"
// dispatch spec.md §2 names as the endpoint runtime's link to the
// scheduler and session manager: a routing service that looks a
// request's service_id up in a table of registered handlers, falling
// back to a generic handler that proves out the scheduler hand-off
// ("service may enqueue tasks in the scheduler and eventually write
// body / body_head ... on the response") for any service_id with no
// dedicated registration.
package router

import (
	"sync"
	"time"

	"github.com/dbfront/dbfront/internal/coreerr"
	"github.com/dbfront/dbfront/internal/endpoint"
	"github.com/dbfront/dbfront/internal/scheduler"
	"github.com/dbfront/dbfront/internal/session"
	"github.com/dbfront/dbfront/internal/svcfields"
	"github.com/dbfront/dbfront/internal/task"
	"pkt.systems/pslog"
)

// Reserved service ids for the session-management bridge spec.md §4.5
// names ("exposes list/get/set/shutdown operations to a service-side
// bridge"). Concrete service bodies beyond this bridge are out of
// scope per spec.md §1; everything else falls to Execute.
const (
	ServiceSessionList        uint64 = 1
	ServiceSessionGet         uint64 = 2
	ServiceSessionShutdown    uint64 = 3
	ServiceSessionSetVariable uint64 = 4
	ServiceSessionGetVariable uint64 = 5
)

// ExecuteTimeout bounds how long Execute waits for the scheduler to
// run a dispatched request before reporting it as failed.
const ExecuteTimeout = 10 * time.Second

// IsRoutingServiceID reports whether serviceID is one Route owns. The
// Stream endpoint's worker loop uses this to pick its routing arm
// (register unconditionally, offer Route before Execute, check shutdown
// only afterward) over its default arm (shutdown checked upfront,
// Execute only) for any other service id.
func IsRoutingServiceID(serviceID uint64) bool {
	switch serviceID {
	case ServiceSessionList, ServiceSessionGet, ServiceSessionShutdown, ServiceSessionSetVariable, ServiceSessionGetVariable:
		return true
	default:
		return false
	}
}

// Router dispatches endpoint requests to the session-management bridge
// or, for any other service_id, onto the scheduler as a task.
type Router struct {
	registry *session.Registry
	sched    *scheduler.Scheduler
	logger   pslog.Logger

	// ExecuteTimeout bounds Execute's wait for the scheduler; defaults
	// to ExecuteTimeout. Tests shrink this to avoid waiting out the
	// production default when exercising the no-scheduler-progress path.
	ExecuteTimeout time.Duration

	mu   sync.Mutex
	live map[uint64]*session.Context
}

// New constructs a Router over registry and sched.
func New(registry *session.Registry, sched *scheduler.Scheduler, logger pslog.Logger) *Router {
	return &Router{
		registry:       registry,
		sched:          sched,
		logger:         svcfields.WithSubsystem(logger, "router"),
		ExecuteTimeout: ExecuteTimeout,
		live:           make(map[uint64]*session.Context),
	}
}

// Connect registers a newly accepted session with the registry, per
// spec.md §4.5's session-management bridge needing something to list
// and look up. Registry.Get/List resolve through a weak pointer, so
// Router holds the strong reference that keeps the Context alive for
// as long as the owning endpoint worker's session is open; Disconnect
// drops it. Endpoint packages never import session directly, so IPC's
// Listener.OnConnect and Stream's Chains.Connect hooks call this.
func (r *Router) Connect(sessionID uint64, connType session.ConnectionType, label, connInfo string) {
	ctx := session.NewContext(sessionID, label, "", "", connType, connInfo)
	if !r.registry.Register(ctx) {
		r.logger.Warn("router.connect.duplicate_session", "session", sessionID)
		return
	}
	r.mu.Lock()
	r.live[sessionID] = ctx
	r.mu.Unlock()
}

// Disconnect unregisters sessionID and releases Router's strong
// reference, letting the Context be collected once the endpoint
// worker's own reference (if any) also drops.
func (r *Router) Disconnect(sessionID uint64) {
	r.registry.Unregister(sessionID)
	r.mu.Lock()
	delete(r.live, sessionID)
	r.mu.Unlock()
}

// Route handles service ids owned by the session-management bridge and
// reports whether it did, matching the Stream endpoint's
// Chains.Routing signature ("offered first ... if it declines the
// frame falls through to General"). IPC has no separate Routing/General
// split, so Service wraps Route+Execute into the single RoutingService
// shape IPC expects.
func (r *Router) Route(req endpoint.Request, resp endpoint.Response) bool {
	switch req.ServiceID() {
	case ServiceSessionList:
		r.sessionList(resp)
	case ServiceSessionGet:
		r.sessionGet(req, resp)
	case ServiceSessionShutdown:
		r.sessionShutdown(req, resp)
	case ServiceSessionSetVariable:
		r.sessionSetVariable(req, resp)
	case ServiceSessionGetVariable:
		r.sessionGetVariable(req, resp)
	default:
		return false
	}
	return true
}

// Service is the combined Route-then-Execute entry point IPC's single
// RoutingService chain calls.
func (r *Router) Service(req endpoint.Request, resp endpoint.Response) {
	if r.Route(req, resp) {
		return
	}
	r.Execute(req, resp)
}

// Execute is the catch-all handler for any service_id the session
// bridge doesn't own: it submits the request to the scheduler as a
// plain task and blocks until the task echoes the payload back onto
// resp, demonstrating the hand-off spec.md §2 describes ("service may
// enqueue tasks in the scheduler") without implementing a real service
// body, which spec.md §1 places out of scope.
func (r *Router) Execute(req endpoint.Request, resp endpoint.Response) {
	done := make(chan struct{})
	payload := append([]byte(nil), req.Payload()...)

	r.sched.Schedule(task.New(func(ctx *task.Context) {
		defer close(done)
		if err := resp.Body(payload); err != nil {
			r.logger.Warn("router.execute.body_failed", "session", req.SessionID(), "error", err)
		}
	}))

	select {
	case <-done:
	case <-time.After(r.ExecuteTimeout):
		r.logger.Warn("router.execute.timeout", "session", req.SessionID(), "service_id", req.ServiceID())
		_ = resp.Error(504, "execution timed out")
	}
}

func (r *Router) sessionList(resp endpoint.Response) {
	entries := r.registry.List()
	encoded := encodeEntries(entries)
	if err := resp.Body(encoded); err != nil {
		r.logger.Warn("router.session_list.write_failed", "error", err)
	}
}

func (r *Router) sessionGet(req endpoint.Request, resp endpoint.Response) {
	specifier := string(req.Payload())
	ctx, err := r.registry.Get(specifier)
	if err != nil {
		writeSessionError(resp, err)
		return
	}
	encoded := encodeEntries([]session.Entry{ctx.Entry()})
	if err := resp.Body(encoded); err != nil {
		r.logger.Warn("router.session_get.write_failed", "error", err)
	}
}

func (r *Router) sessionShutdown(req endpoint.Request, resp endpoint.Response) {
	specifier, kind, err := decodeShutdownRequest(req.Payload())
	if err != nil {
		_ = resp.Error(400, err.Error())
		return
	}
	if err := r.registry.Shutdown(specifier, kind); err != nil {
		writeSessionError(resp, err)
		return
	}
	if err := resp.Body(nil); err != nil {
		r.logger.Warn("router.session_shutdown.write_failed", "error", err)
	}
}

func (r *Router) sessionSetVariable(req endpoint.Request, resp endpoint.Response) {
	specifier, name, kind, value, err := decodeSetVariable(req.Payload())
	if err != nil {
		_ = resp.Error(400, err.Error())
		return
	}
	ctx, err := r.registry.Get(specifier)
	if err != nil {
		writeSessionError(resp, err)
		return
	}
	if err := setVariable(ctx, name, kind, value); err != nil {
		_ = resp.Error(422, err.Error())
		return
	}
	if err := resp.Body(nil); err != nil {
		r.logger.Warn("router.session_set_variable.write_failed", "error", err)
	}
}

func (r *Router) sessionGetVariable(req endpoint.Request, resp endpoint.Response) {
	specifier, name, err := decodeGetVariable(req.Payload())
	if err != nil {
		_ = resp.Error(400, err.Error())
		return
	}
	ctx, err := r.registry.Get(specifier)
	if err != nil {
		writeSessionError(resp, err)
		return
	}
	encoded, ok := getVariable(ctx, name)
	if !ok {
		_ = resp.Error(404, "variable not set")
		return
	}
	if err := resp.Body(encoded); err != nil {
		r.logger.Warn("router.session_get_variable.write_failed", "error", err)
	}
}

func writeSessionError(resp endpoint.Response, err error) {
	switch {
	case err == coreerr.ErrSessionNotFound:
		_ = resp.Error(404, err.Error())
	case err == coreerr.ErrSessionAmbiguous:
		_ = resp.Error(409, err.Error())
	default:
		_ = resp.Error(500, err.Error())
	}
}
