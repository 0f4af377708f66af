// Package loopback implements the in-process endpoint used by tests and
// developer tools: no real transport, just a buffered request/response
// pair driven by a direct function call.
package loopback

import (
	"sort"
	"sync"

	"github.com/dbfront/dbfront/internal/coreerr"
	"github.com/dbfront/dbfront/internal/endpoint"
)

// Service is the routing target a loopback request is dispatched to.
// It is the same shape the stream and IPC endpoints eventually
// dispatch to, so a service can be exercised through loopback in tests
// before it is wired to a real transport.
type Service func(req *Request, resp *Response)

// Request is the loopback endpoint's concrete implementation of
// endpoint.Request.
type Request struct {
	sessionID    uint64
	serviceID    uint64
	payload      []byte
	databaseInfo string
	sessionInfo  string
}

// NewRequest constructs a loopback request.
func NewRequest(sessionID, serviceID uint64, payload []byte) *Request {
	return &Request{sessionID: sessionID, serviceID: serviceID, payload: payload}
}

func (r *Request) SessionID() uint64    { return r.sessionID }
func (r *Request) ServiceID() uint64    { return r.serviceID }
func (r *Request) Payload() []byte      { return r.payload }
func (r *Request) DatabaseInfo() string { return r.databaseInfo }
func (r *Request) SessionInfo() string  { return r.sessionInfo }

// Response buffers body_head, body, the error code/message, and every
// data channel's committed writes, per spec.md §4.4.3. One mutex guards
// both the acquired-channel map and the per-channel committed-data
// slices.
type Response struct {
	sessionID uint64

	mu        sync.Mutex
	bodyHead  []byte
	bodySet   bool
	bodyHeadSet bool
	body      []byte
	errored   bool
	errCode   int32
	errMsg    string

	channels  map[string]*dataChannel
	committed map[string][][]byte
}

// NewResponse constructs an empty loopback response.
func NewResponse() *Response {
	return &Response{
		channels:  make(map[string]*dataChannel),
		committed: make(map[string][][]byte),
	}
}

func (r *Response) SetSessionID(id uint64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sessionID = id
}

// BodyHead may be called at most once, and never after Error.
func (r *Response) BodyHead(data []byte) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.errored || r.bodyHeadSet {
		return coreerr.ErrServiceError
	}
	r.bodyHead = append([]byte(nil), data...)
	r.bodyHeadSet = true
	return nil
}

// Body may be called at most once, and never after Error.
func (r *Response) Body(data []byte) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.errored || r.bodySet {
		return coreerr.ErrServiceError
	}
	r.body = append([]byte(nil), data...)
	r.bodySet = true
	return nil
}

// Error is mutually exclusive with Body/BodyHead.
func (r *Response) Error(code int32, message string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.bodySet || r.bodyHeadSet {
		return coreerr.ErrServiceError
	}
	r.errored = true
	r.errCode = code
	r.errMsg = message
	return nil
}

// BodyBytes returns the buffered body, if any was set.
func (r *Response) BodyBytes() []byte {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]byte(nil), r.body...)
}

// BodyHeadBytes returns the buffered body_head, if any was set.
func (r *Response) BodyHeadBytes() []byte {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]byte(nil), r.bodyHead...)
}

// Errored reports whether Error was called, along with its code/message.
func (r *Response) Errored() (bool, int32, string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.errored, r.errCode, r.errMsg
}

// AcquireChannel returns the named data channel, creating it on first
// use. Concurrent acquires are serialized by Response's shared mutex.
func (r *Response) AcquireChannel(name string) (endpoint.DataChannel, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	ch, ok := r.channels[name]
	if !ok {
		ch = &dataChannel{name: name, resp: r}
		r.channels[name] = ch
	}
	return ch, nil
}

// ReleaseChannel removes name from the acquired-channel map. It does
// not discard already-committed writes on that channel, and it does not
// release or commit writers still acquired on it.
func (r *Response) ReleaseChannel(ch endpoint.DataChannel) error {
	dc, ok := ch.(*dataChannel)
	if !ok {
		return coreerr.ErrServiceError
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.channels, dc.name)
	return nil
}

// Committed returns channel name's committed writes, in commit order.
func (r *Response) Committed(name string) [][]byte {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([][]byte, len(r.committed[name]))
	copy(out, r.committed[name])
	return out
}

// ChannelNames returns every channel name that has ever committed data,
// sorted for deterministic iteration in tests.
func (r *Response) ChannelNames() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	names := make([]string, 0, len(r.committed))
	for name := range r.committed {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (r *Response) commit(name string, data []byte) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.committed[name] = append(r.committed[name], append([]byte(nil), data...))
}

type dataChannel struct {
	name string
	resp *Response
}

func (c *dataChannel) Name() string { return c.name }

func (c *dataChannel) AcquireWriter() (endpoint.Writer, error) {
	return &channelWriter{channel: c}, nil
}

// channelWriter accumulates bytes for one writer; Release appends the
// accumulated buffer to the channel's committed sequence.
type channelWriter struct {
	channel *dataChannel
	buf     []byte
}

func (w *channelWriter) Write(p []byte) (int, error) {
	w.buf = append(w.buf, p...)
	return len(p), nil
}

func (w *channelWriter) Release() error {
	w.channel.resp.commit(w.channel.name, w.buf)
	w.buf = nil
	return nil
}

// Dispatch dispatches req/resp to service synchronously and returns once
// the service invocation completes, matching spec.md §4.4.3's
// request(session_id, service_id, payload) -> buffered_response shape.
func Dispatch(service Service, sessionID, serviceID uint64, payload []byte) *Response {
	req := NewRequest(sessionID, serviceID, payload)
	resp := NewResponse()
	resp.SetSessionID(sessionID)
	service(req, resp)
	return resp
}
