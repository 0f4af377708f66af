package ipc

import (
	"github.com/dbfront/dbfront/internal/coreerr"
	"github.com/dbfront/dbfront/internal/endpoint"
	"github.com/dbfront/dbfront/internal/shm"
)

// Request is the IPC endpoint's concrete endpoint.Request, built from
// one framed message off the request ring. Payloads are opaque bytes;
// the service interprets them (as protobuf, per spec.md §6 — out of
// this module's scope).
type Request struct {
	sessionID    uint64
	slot         uint16
	payload      []byte
	databaseInfo string
	sessionInfo  string
}

func (r *Request) SessionID() uint64    { return r.sessionID }
func (r *Request) ServiceID() uint64    { return uint64(r.slot) }
func (r *Request) Payload() []byte      { return r.payload }
func (r *Request) DatabaseInfo() string { return r.databaseInfo }
func (r *Request) SessionInfo() string  { return r.sessionInfo }

// Slot returns the transport slot this request was framed under.
func (r *Request) Slot() uint16 { return r.slot }

// Response is the IPC endpoint's concrete endpoint.Response: every
// write is framed directly onto the session's response ring.
type Response struct {
	sessionID uint64
	slot      uint16
	wire      *shm.Wire

	bodyHeadSent bool
	bodySent     bool
	errored      bool
}

// NewResponse constructs a response bound to slot on wire.
func NewResponse(wire *shm.Wire, slot uint16) *Response {
	return &Response{wire: wire, slot: slot}
}

func (r *Response) SetSessionID(id uint64) { r.sessionID = id }

func (r *Response) BodyHead(data []byte) error {
	if r.errored || r.bodyHeadSent {
		return coreerr.ErrServiceError
	}
	if err := r.wire.Response.WriteFrame(shm.Header{Length: uint32(len(data)), Slot: r.slot}, data); err != nil {
		return err
	}
	r.bodyHeadSent = true
	return nil
}

func (r *Response) Body(data []byte) error {
	if r.errored || r.bodySent {
		return coreerr.ErrServiceError
	}
	if err := r.wire.Response.WriteFrame(shm.Header{Length: uint32(len(data)), Slot: r.slot}, data); err != nil {
		return err
	}
	r.bodySent = true
	return nil
}

func (r *Response) Error(code int32, message string) error {
	if r.bodySent || r.bodyHeadSent {
		return coreerr.ErrServiceError
	}
	payload := encodeDiagnostics(code, message)
	if err := r.wire.Response.WriteFrame(shm.Header{Length: uint32(len(payload)), Slot: r.slot}, payload); err != nil {
		return err
	}
	r.errored = true
	return nil
}

// AcquireChannel is unsupported over IPC in this module: the wire
// framing here carries only whole-message payloads, not the streamed
// result-set channel protocol. Channel-bearing services are expected
// to run over Stream or Loopback instead.
func (r *Response) AcquireChannel(name string) (endpoint.DataChannel, error) {
	return nil, coreerr.ErrServiceError
}

func (r *Response) ReleaseChannel(ch endpoint.DataChannel) error {
	return coreerr.ErrServiceError
}

// encodeDiagnostics packs a diagnostics record's code and message into
// a minimal payload: the code as four little-endian bytes, then the
// message bytes. Real diagnostics schemas are
// explicitly out of this module's scope (spec.md §1); this exists only
// so NotifyClient has a wire-visible effect to assert on in tests.
func encodeDiagnostics(code int32, message string) []byte {
	b := make([]byte, 4+len(message))
	b[0] = byte(code)
	b[1] = byte(code >> 8)
	b[2] = byte(code >> 16)
	b[3] = byte(code >> 24)
	copy(b[4:], message)
	return b
}
