package stream

import (
	"context"
	"fmt"
	"net"
	"time"

	"github.com/dbfront/dbfront/internal/coreerr"
)

// AdminConn is a minimal client for the Stream wire, used by
// cmd/dbfrontd's session subcommands to reach a running server's
// session-management bridge (internal/router's ServiceSession*
// handlers) the one way a separate process actually can: over the real
// network transport spec.md §6 documents, not the in-process-only
// loopback endpoint spec.md §4.4.3 reserves for tests and developer
// tools embedded in the same binary as the server.
type AdminConn struct {
	conn    *conn
	session uint64
}

// DialAdmin connects to addr, performs the handshake with the given
// client metadata, and returns a ready AdminConn. timeout bounds both
// the dial and every subsequent Call.
func DialAdmin(ctx context.Context, addr, label, application, user string, timeout time.Duration) (*AdminConn, error) {
	d := net.Dialer{Timeout: timeout}
	nc, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("dbfront: admin dial: %w", err)
	}
	c := newConn(nc, timeout)

	if err := c.writeFrame(controlHandshake, encodeHandshakeRequest(handshakeInfo{
		label:       label,
		application: application,
		user:        user,
	})); err != nil {
		_ = nc.Close()
		return nil, err
	}
	sessionID, ok, err := readHandshakeResponse(c)
	if err != nil || !ok {
		_ = nc.Close()
		if err == nil {
			err = coreerr.ErrHandshakeFailed
		}
		return nil, err
	}
	return &AdminConn{conn: c, session: sessionID}, nil
}

// SessionID returns the session id the server assigned at handshake.
func (a *AdminConn) SessionID() uint64 { return a.session }

// Call sends payload framed under serviceID and waits for exactly one
// response frame, returning its body on success or a non-nil error
// carrying the diagnostics code/message the server reported.
func (a *AdminConn) Call(serviceID uint16, payload []byte) ([]byte, error) {
	if err := a.conn.writeFrame(serviceID, payload); err != nil {
		return nil, err
	}
	result := a.conn.await()
	switch result.kind {
	case awaitPayload:
		if result.frame.slot&respErrorBit != 0 {
			code, message := decodeDiagnostics(result.frame.payload)
			return nil, fmt.Errorf("dbfront: service error %d: %s", code, message)
		}
		return result.frame.payload, nil
	case awaitTimeout:
		return nil, coreerr.ErrTransportClosed
	default:
		if result.err != nil {
			return nil, result.err
		}
		return nil, coreerr.ErrTransportClosed
	}
}

// Close sends session_bye, waits briefly for the server's ack, then
// closes the connection.
func (a *AdminConn) Close() error {
	_ = a.conn.writeSessionBye()
	a.conn.readTimeout = time.Second
	_ = a.conn.await()
	return a.conn.Close()
}
