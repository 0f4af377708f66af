package stream

import (
	"encoding/binary"
	"io"
	"net"
	"time"

	"github.com/dbfront/dbfront/internal/coreerr"
)

// controlSlot values are reserved slot indices carrying control frames
// rather than routed request/response payloads.
const (
	controlSessionBye   uint16 = 0xFFFE
	controlSessionByeOK uint16 = 0xFFFD
	controlHandshake    uint16 = 0xFFFC
)

// frame is one {slot, length, payload} unit on the stream wire.
type frame struct {
	slot    uint16
	payload []byte
}

// conn wraps a net.Conn with the frame codec and the await() poll loop
// that the stream session worker drives.
type conn struct {
	nc          net.Conn
	readTimeout time.Duration
}

func newConn(nc net.Conn, readTimeout time.Duration) *conn {
	return &conn{nc: nc, readTimeout: readTimeout}
}

// writeFrame writes one frame as {slot uint16, length uint32, payload}.
func (c *conn) writeFrame(slot uint16, payload []byte) error {
	header := make([]byte, 6)
	binary.BigEndian.PutUint16(header[0:2], slot)
	binary.BigEndian.PutUint32(header[2:6], uint32(len(payload)))
	if _, err := c.nc.Write(header); err != nil {
		return coreerr.ErrTransportClosed
	}
	if len(payload) > 0 {
		if _, err := c.nc.Write(payload); err != nil {
			return coreerr.ErrTransportClosed
		}
	}
	return nil
}

func (c *conn) writeSessionBye() error   { return c.writeFrame(controlSessionBye, nil) }
func (c *conn) writeSessionByeOK() error { return c.writeFrame(controlSessionByeOK, nil) }

// awaitResult is the {payload, timeout, termination_request, error} sum
// type that stream.await() yields.
type awaitKind int

const (
	awaitPayload awaitKind = iota
	awaitTimeout
	awaitTerminationRequest
	awaitError
)

type awaitResult struct {
	kind  awaitKind
	frame frame
	err   error
}

// await reads the next frame, applying readTimeout as the deadline that
// produces the timeout arm. Reaching EOF or a framing error produces the
// error arm; a session_bye control frame produces termination_request.
func (c *conn) await() awaitResult {
	if c.readTimeout > 0 {
		if err := c.nc.SetReadDeadline(time.Now().Add(c.readTimeout)); err != nil {
			return awaitResult{kind: awaitError, err: err}
		}
	}

	header := make([]byte, 6)
	if _, err := io.ReadFull(c.nc, header); err != nil {
		if ne, ok := err.(net.Error); ok && ne.Timeout() {
			return awaitResult{kind: awaitTimeout}
		}
		return awaitResult{kind: awaitError, err: coreerr.ErrTransportClosed}
	}

	slot := binary.BigEndian.Uint16(header[0:2])
	length := binary.BigEndian.Uint32(header[2:6])

	if slot == controlSessionBye {
		return awaitResult{kind: awaitTerminationRequest}
	}

	payload := make([]byte, length)
	if length > 0 {
		if _, err := io.ReadFull(c.nc, payload); err != nil {
			return awaitResult{kind: awaitError, err: coreerr.ErrTransportFraming}
		}
	}
	return awaitResult{kind: awaitPayload, frame: frame{slot: slot, payload: payload}}
}

func (c *conn) Close() error { return c.nc.Close() }
