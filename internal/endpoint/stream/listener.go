package stream

import (
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dbfront/dbfront/internal/endpoint"
	"github.com/dbfront/dbfront/internal/svcfields"
	"pkt.systems/pslog"
)

// Config configures a Stream Listener.
type Config struct {
	// Port is the TCP port to listen on.
	Port int
	// Threads is the maximum concurrent session count; connections
	// beyond this are declined before the handshake runs.
	Threads int
	// DatabaseName is reported as every request's DatabaseInfo.
	DatabaseName string
	// ReadTimeout bounds each await() call; zero disables the timeout
	// arm entirely (await blocks indefinitely).
	ReadTimeout time.Duration
	// SessionExpiration, if nonzero, is the idle duration after which a
	// session worker force-shuts-down following a timeout arm.
	SessionExpiration time.Duration
	Guard             GuardConfig
}

// Listener accepts TCP connections, declines them over capacity, and
// spawns a Worker per accepted session.
type Listener struct {
	cfg     Config
	chains  Chains
	logger  pslog.Logger
	guard   *ConnectionGuard
	tcp     net.Listener
	active  atomic.Int32
	nextID  atomic.Uint64
	mu      sync.Mutex
	workers map[uint64]*Worker
	wg      sync.WaitGroup
}

// NewListener constructs a Listener bound to cfg.Port, dispatching
// accepted sessions' payload frames through chains.
func NewListener(cfg Config, chains Chains, logger pslog.Logger) *Listener {
	return &Listener{
		cfg:     cfg,
		chains:  chains,
		logger:  svcfields.WithSubsystem(logger, "endpoint.stream.listener"),
		guard:   NewConnectionGuard(cfg.Guard, logger),
		workers: make(map[uint64]*Worker),
	}
}

// Run opens the TCP listener and accepts connections until it is closed
// by Close. It blocks until the underlying listener returns an error.
func (l *Listener) Run() error {
	tcp, err := net.Listen("tcp", fmt.Sprintf(":%d", l.cfg.Port))
	if err != nil {
		return err
	}
	l.mu.Lock()
	l.tcp = l.guard.WrapListener(tcp)
	l.mu.Unlock()

	for {
		nc, err := l.tcp.Accept()
		if err != nil {
			l.wg.Wait()
			return err
		}
		l.handle(nc)
	}
}

func (l *Listener) handle(nc net.Conn) {
	if int(l.active.Load()) >= l.cfg.Threads {
		l.decline(nc)
		return
	}
	l.active.Add(1)

	sessionID := l.nextID.Add(1)
	c := newConn(nc, l.cfg.ReadTimeout)
	worker := NewWorker(sessionID, c, l.cfg.DatabaseName, l.chains, l.cfg.SessionExpiration, l.logger)

	l.mu.Lock()
	l.workers[sessionID] = worker
	l.mu.Unlock()

	l.wg.Add(1)
	go func() {
		defer l.wg.Done()
		defer l.active.Add(-1)
		defer func() {
			l.mu.Lock()
			delete(l.workers, sessionID)
			l.mu.Unlock()
		}()
		worker.Run()
	}()
}

// decline rejects a connection over capacity without ever performing the
// handshake read, per the worker loop's "optional decline path".
func (l *Listener) decline(nc net.Conn) {
	c := newConn(nc, l.cfg.ReadTimeout)
	_ = writeHandshakeResponse(c, 0, false)
	_ = c.Close()
	l.logger.Warn("endpoint.stream.declined", "reason", "capacity", "threads", l.cfg.Threads)
}

// Close stops accepting new connections; in-flight workers are left to
// exit on their own (e.g. via a termination_request or read error).
func (l *Listener) Close() error {
	l.mu.Lock()
	tcp := l.tcp
	l.mu.Unlock()
	if tcp == nil {
		return nil
	}
	return tcp.Close()
}

// Addr returns the listener's bound address, or nil before Run has
// opened the socket. Mainly useful in tests that bind Config.Port=0
// and need the OS-assigned port.
func (l *Listener) Addr() net.Addr {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.tcp == nil {
		return nil
	}
	return l.tcp.Addr()
}

// Shutdown requests a forceful shutdown on every active session worker
// and waits for them all to exit.
func (l *Listener) Shutdown() {
	l.mu.Lock()
	workers := make([]*Worker, 0, len(l.workers))
	for _, w := range l.workers {
		workers = append(workers, w)
	}
	l.mu.Unlock()

	for _, w := range workers {
		w.RequestShutdown(endpoint.ShutdownForceful)
	}
	l.wg.Wait()
}
