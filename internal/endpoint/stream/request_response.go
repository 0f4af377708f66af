package stream

import (
	"github.com/dbfront/dbfront/internal/coreerr"
	"github.com/dbfront/dbfront/internal/endpoint"
)

// ServiceEndpointBroker is the reserved service id dispatched locally by
// the worker itself rather than handed to a routing chain; currently the
// only broker operation is cancel.
const ServiceEndpointBroker uint64 = 0

// respErrorBit is OR'd onto a response frame's slot only when the
// response is a diagnostics record written via Response.Error, so a
// reader that already knows the request's slot can tell a diagnostics
// payload apart from a body payload without a shared proto schema
// (spec.md §1 places that schema out of scope, but the bit costs
// nothing and DialAdmin's callers rely on it).
const respErrorBit uint16 = 0x8000

// Request is the Stream endpoint's concrete endpoint.Request.
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

// Response is the Stream endpoint's concrete endpoint.Response: writes
// are framed directly onto the underlying TCP connection. Unlike IPC,
// Stream supports real data channels: channel frames travel under the
// response's own slot, each prefixed with its channel name.
type Response struct {
	sessionID uint64
	slot      uint16
	conn      *conn

	bodyHeadSent bool
	bodySent     bool
	errored      bool

	channels map[string]*dataChannel
}

// NewResponse constructs a response bound to slot on c.
func NewResponse(c *conn, slot uint16) *Response {
	return &Response{conn: c, slot: slot, channels: make(map[string]*dataChannel)}
}

func (r *Response) SetSessionID(id uint64) { r.sessionID = id }

func (r *Response) BodyHead(data []byte) error {
	if r.errored || r.bodyHeadSent {
		return coreerr.ErrServiceError
	}
	if err := r.conn.writeFrame(r.slot, data); err != nil {
		return err
	}
	r.bodyHeadSent = true
	return nil
}

func (r *Response) Body(data []byte) error {
	if r.errored || r.bodySent {
		return coreerr.ErrServiceError
	}
	if err := r.conn.writeFrame(r.slot, data); err != nil {
		return err
	}
	r.bodySent = true
	return nil
}

func (r *Response) Error(code int32, message string) error {
	if r.bodySent || r.bodyHeadSent {
		return coreerr.ErrServiceError
	}
	if err := r.conn.writeFrame(r.slot|respErrorBit, encodeDiagnostics(code, message)); err != nil {
		return err
	}
	r.errored = true
	return nil
}

// AcquireChannel returns a named data channel whose writers frame their
// committed bytes onto the connection under the response's slot, tagged
// by channel name in the payload header so the peer can demultiplex.
func (r *Response) AcquireChannel(name string) (endpoint.DataChannel, error) {
	if ch, ok := r.channels[name]; ok {
		return ch, nil
	}
	ch := &dataChannel{name: name, resp: r}
	r.channels[name] = ch
	return ch, nil
}

func (r *Response) ReleaseChannel(ch endpoint.DataChannel) error {
	dc, ok := ch.(*dataChannel)
	if !ok {
		return coreerr.ErrServiceError
	}
	delete(r.channels, dc.name)
	return nil
}

type dataChannel struct {
	name string
	resp *Response
}

func (c *dataChannel) Name() string { return c.name }

func (c *dataChannel) AcquireWriter() (endpoint.Writer, error) {
	return &channelWriter{channel: c}, nil
}

type channelWriter struct {
	channel *dataChannel
	buf     []byte
}

func (w *channelWriter) Write(p []byte) (int, error) {
	w.buf = append(w.buf, p...)
	return len(p), nil
}

// Release frames the accumulated bytes onto the connection, prefixed
// with the channel name so the peer knows which channel they belong to.
func (w *channelWriter) Release() error {
	payload := encodeChannelFrame(w.channel.name, w.buf)
	return w.channel.resp.conn.writeFrame(w.channel.resp.slot, payload)
}

func encodeChannelFrame(name string, data []byte) []byte {
	b := make([]byte, 1+len(name)+len(data))
	b[0] = byte(len(name))
	copy(b[1:], name)
	copy(b[1+len(name):], data)
	return b
}

// encodeDiagnostics packs a diagnostics record's code and message into a
// minimal payload (the code as four little-endian bytes, then the
// message bytes), matching the IPC endpoint's scheme so
// both endpoints' errors are byte-compatible on the wire.
func encodeDiagnostics(code int32, message string) []byte {
	b := make([]byte, 4+len(message))
	b[0] = byte(code)
	b[1] = byte(code >> 8)
	b[2] = byte(code >> 16)
	b[3] = byte(code >> 24)
	copy(b[4:], message)
	return b
}

// decodeDiagnostics is encodeDiagnostics' inverse, used by DialAdmin's
// caller-facing Call to render a respErrorBit-tagged response frame.
func decodeDiagnostics(b []byte) (code int32, message string) {
	if len(b) < 4 {
		return 0, string(b)
	}
	code = int32(b[0]) | int32(b[1])<<8 | int32(b[2])<<16 | int32(b[3])<<24
	return code, string(b[4:])
}
