package ipc

import (
	"sync"

	"github.com/dbfront/dbfront/internal/shm"
	"github.com/dbfront/dbfront/internal/svcfields"
	"pkt.systems/pslog"
)

// Config configures an IPC Listener.
type Config struct {
	// DatabaseName namespaces the /dev/shm wire files for this endpoint.
	DatabaseName string
	// Threads is the normal-session capacity.
	Threads int
	// AdminSessions is the reserved admin overflow capacity.
	AdminSessions int
	// RingBytes sizes each ring; zero uses shm.DefaultRingBytes.
	RingBytes int
}

// Listener accepts pending connect requests off a ConnectionQueue,
// allocates each accepted session's shm.Wire, and spawns its Worker.
type Listener struct {
	cfg     Config
	queue   *ConnectionQueue
	service RoutingService
	logger  pslog.Logger

	// OnConnect and OnDisconnect, if set, fire right after a session's
	// connect request is accepted and right before its wire is torn
	// down. Neither endpoint.Common nor Worker knows about sessions in
	// the session-management sense; these hooks are how a caller wires
	// IPC sessions into that layer without this package importing it.
	OnConnect    func(sessionID uint64)
	OnDisconnect func(sessionID uint64)

	mu      sync.Mutex
	workers map[uint64]*Worker
	wg      sync.WaitGroup
}

// NewListener constructs a Listener over queue, dispatching accepted
// sessions' requests to service.
func NewListener(cfg Config, queue *ConnectionQueue, service RoutingService, logger pslog.Logger) *Listener {
	return &Listener{
		cfg:     cfg,
		queue:   queue,
		service: service,
		logger:  svcfields.WithSubsystem(logger, "endpoint.ipc.listener"),
		workers: make(map[uint64]*Worker),
	}
}

// Run loops accepting pending connections until the queue is
// terminated, per spec.md §4.4.1's listener loop: construct the wire,
// spawn the worker, register it, keep accepting.
func (l *Listener) Run() {
	for {
		slot, ok := l.queue.Listen()
		if !ok {
			l.shutdown()
			return
		}
		l.accept(slot)
	}
}

func (l *Listener) accept(slot int) {
	sessionID := l.queue.NextSessionID()
	wire, err := shm.NewWire(l.cfg.DatabaseName, sessionID, l.cfg.RingBytes)
	if err != nil {
		l.logger.Error("endpoint.ipc.wire_alloc_failed", "session", sessionID, "error", err)
		l.queue.Reject(slot)
		return
	}

	worker := NewWorker(sessionID, wire, l.cfg.DatabaseName, l.service, l.logger)

	l.mu.Lock()
	l.workers[sessionID] = worker
	l.mu.Unlock()

	l.queue.Accept(slot, sessionID)
	if l.OnConnect != nil {
		l.OnConnect(sessionID)
	}

	l.wg.Add(1)
	go func() {
		defer l.wg.Done()
		worker.Run()
		l.teardown(sessionID, wire)
	}()
}

func (l *Listener) teardown(sessionID uint64, wire *shm.Wire) {
	l.mu.Lock()
	delete(l.workers, sessionID)
	l.mu.Unlock()

	if l.OnDisconnect != nil {
		l.OnDisconnect(sessionID)
	}
	_ = wire.Close()
	_ = wire.Unlink()
	l.queue.ReleaseSession(false)
}

// shutdown runs once Listen reports termination: it waits for in-flight
// workers to exit, then clears the worker table.
func (l *Listener) shutdown() {
	l.wg.Wait()

	l.mu.Lock()
	l.workers = make(map[uint64]*Worker)
	l.mu.Unlock()
}

// Terminate requests the listener stop accepting and tears down every
// active worker's wire once they exit.
func (l *Listener) Terminate() {
	l.queue.RequestTerminate()
}
