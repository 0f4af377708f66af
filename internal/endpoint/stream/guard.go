package stream

import (
	"errors"
	"io"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/dbfront/dbfront/internal/svcfields"
	"pkt.systems/pslog"
)

// GuardConfig controls connection-level protection applied before the
// framed-message handshake runs.
type GuardConfig struct {
	// Enabled toggles guard enforcement.
	Enabled bool
	// FailureThreshold is the number of suspicious events before hard blocking.
	FailureThreshold int
	// FailureWindow defines the period for counting suspicious events.
	FailureWindow time.Duration
	// BlockDuration is how long a blocked remote stays blocked.
	BlockDuration time.Duration
	// ProbeTimeout is the read deadline used to detect a zero-byte probe connect.
	ProbeTimeout time.Duration
}

type connectionEvent struct {
	failures     []time.Time
	blockedUntil time.Time
}

// ConnectionGuard stores suspicious-connection state and can wrap a
// net.Listener so that probing or repeatedly-failing remotes are turned
// away before a session worker is ever spawned for them.
type ConnectionGuard struct {
	cfg    GuardConfig
	logger pslog.Logger
	mu     sync.Mutex
	now    func() time.Time
	events map[string]*connectionEvent
}

// NewConnectionGuard constructs a connection guard with supplied config.
func NewConnectionGuard(cfg GuardConfig, logger pslog.Logger) *ConnectionGuard {
	if cfg.FailureThreshold < 0 {
		cfg.FailureThreshold = 0
	}
	if cfg.FailureWindow <= 0 {
		cfg.FailureWindow = 1 * time.Second
	}
	if cfg.BlockDuration <= 0 {
		cfg.BlockDuration = 5 * time.Minute
	}
	if cfg.ProbeTimeout < 0 {
		cfg.ProbeTimeout = 0
	}
	return &ConnectionGuard{
		cfg:    cfg,
		logger: svcfields.WithSubsystem(logger, "endpoint.stream.guard"),
		now:    time.Now,
		events: make(map[string]*connectionEvent),
	}
}

// WrapListener returns a listener enforcing connection guard behavior.
func (g *ConnectionGuard) WrapListener(ln net.Listener) net.Listener {
	if g == nil || !g.cfg.Enabled || ln == nil {
		return ln
	}
	return &guardedListener{Listener: ln, guard: g}
}

func (g *ConnectionGuard) classifyFailure(remote, reason string) bool {
	if g == nil || g.cfg.FailureThreshold <= 0 {
		return false
	}
	remote = normalizeRemoteAddr(remote)
	if remote == "" {
		return false
	}
	now := g.now()

	g.mu.Lock()
	defer g.mu.Unlock()

	state := g.events[remote]
	if state == nil {
		state = &connectionEvent{}
		g.events[remote] = state
	}
	if !state.blockedUntil.IsZero() && state.blockedUntil.After(now) {
		return true
	}
	state.blockedUntil = time.Time{}

	cutoff := now.Add(-g.cfg.FailureWindow)
	for len(state.failures) > 0 && state.failures[0].Before(cutoff) {
		state.failures = state.failures[1:]
	}
	state.failures = append(state.failures, now)
	if len(state.failures) < g.cfg.FailureThreshold {
		g.logger.Warn("endpoint.stream.guard.suspicious", "remote", remote, "reason", reason, "count", len(state.failures))
		return false
	}

	state.blockedUntil = now.Add(g.cfg.BlockDuration)
	state.failures = nil
	g.logger.Warn("endpoint.stream.guard.blocked", "remote", remote, "duration", g.cfg.BlockDuration, "reason", reason)
	return true
}

func (g *ConnectionGuard) isBlocked(remote string) bool {
	if g == nil || !g.cfg.Enabled {
		return false
	}
	remote = normalizeRemoteAddr(remote)
	if remote == "" {
		return false
	}
	now := g.now()

	g.mu.Lock()
	defer g.mu.Unlock()

	state := g.events[remote]
	if state == nil || state.blockedUntil.IsZero() {
		return false
	}
	if state.blockedUntil.After(now) {
		return true
	}
	state.blockedUntil = time.Time{}
	if len(state.failures) == 0 {
		delete(g.events, remote)
	}
	return false
}

func normalizeRemoteAddr(raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return ""
	}
	host, _, err := net.SplitHostPort(raw)
	if err == nil {
		return host
	}
	return raw
}

type guardedListener struct {
	net.Listener
	guard *ConnectionGuard
}

// Accept blocks suspicious remotes before the handshake ever sees the connection.
func (l *guardedListener) Accept() (net.Conn, error) {
	for {
		conn, err := l.Listener.Accept()
		if err != nil {
			return nil, err
		}
		accepted, rejected, wrapErr := l.wrapConnection(conn)
		if !rejected && wrapErr == nil {
			return accepted, nil
		}
		if accepted != nil {
			_ = accepted.Close()
		}
	}
}

func (l *guardedListener) wrapConnection(conn net.Conn) (net.Conn, bool, error) {
	if l.guard == nil || conn == nil {
		return conn, false, nil
	}
	remote := remoteAddress(conn)
	if l.guard.isBlocked(remote) {
		l.guard.logger.Warn("endpoint.stream.guard.rejected", "remote", remote)
		return nil, true, errors.New("connection blocked")
	}
	return l.wrapPlainConnection(conn, remote)
}

func remoteAddress(conn net.Conn) string {
	if conn == nil {
		return ""
	}
	remote := conn.RemoteAddr()
	if remote == nil {
		return ""
	}
	return remote.String()
}

func (l *guardedListener) wrapPlainConnection(conn net.Conn, remote string) (net.Conn, bool, error) {
	if l.guard.cfg.ProbeTimeout <= 0 {
		return conn, false, nil
	}
	deadline := l.guard.now().Add(l.guard.cfg.ProbeTimeout)
	if err := conn.SetReadDeadline(deadline); err != nil {
		l.guard.logger.Warn("endpoint.stream.guard.deadline", "remote", remote, "error", err)
		return conn, false, nil
	}
	buffer := make([]byte, 1)
	n, err := conn.Read(buffer)
	_ = conn.SetReadDeadline(time.Time{})
	if err != nil {
		l.guard.classifyFailure(remote, "zero_connect")
		return conn, true, err
	}
	if n == 0 {
		l.guard.classifyFailure(remote, "zero_connect")
		return conn, true, io.EOF
	}
	return &prefixedConn{Conn: conn, prefix: buffer[:n]}, false, nil
}

type prefixedConn struct {
	net.Conn
	prefix []byte
	used   int
}

func (c *prefixedConn) Read(p []byte) (int, error) {
	if len(c.prefix) > c.used {
		n := copy(p, c.prefix[c.used:])
		c.used += n
		if n < len(p) {
			next, err := c.Conn.Read(p[n:])
			n += next
			return n, err
		}
		return n, nil
	}
	return c.Conn.Read(p)
}
