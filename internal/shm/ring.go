// Package shm implements the shared-memory ring buffer pair backing the
// IPC endpoint's wire: a request ring and a response ring, each a
// fixed-size mmap'd file under /dev/shm named after the database and
// session id.
package shm

import (
	"encoding/binary"
	"fmt"
	"os"
	"sync"

	"golang.org/x/sys/unix"

	"github.com/dbfront/dbfront/internal/coreerr"
)

// SentinelSlot marks a request header with no associated slot; a
// zero-length message carrying this slot means the session is closing.
const SentinelSlot = uint16(0xFFFF)

const headerSize = 6 // uint32 length + uint16 slot

// DefaultRingBytes is the default capacity of one ring's data area.
const DefaultRingBytes = 1 << 20

// Header is a request/response frame header: a payload length and the
// transport slot it is framed under.
type Header struct {
	Length uint32
	Slot   uint16
}

// IsClosing reports whether h is the sentinel "session closing" header.
func (h Header) IsClosing() bool {
	return h.Length == 0 && h.Slot == SentinelSlot
}

// Ring is one direction of a session's wire: a single-producer,
// single-consumer byte ring backed by an mmap'd region. Framing
// (header + payload) is layered on top by Wire; Ring itself only knows
// about raw byte spans.
type Ring struct {
	name   string
	mu     sync.Mutex
	notify *sync.Cond
	data   []byte
	head   int
	tail   int
	size   int
	closed bool
}

// NewRing allocates and mmaps a ring of capacity bytes, backed by a
// file at /dev/shm/name. The file is created if absent and truncated
// to the requested size.
func NewRing(name string, capacity int) (*Ring, error) {
	path := fmt.Sprintf("/dev/shm/%s", name)
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o600)
	if err != nil {
		return nil, fmt.Errorf("dbfront: shm: open %s: %w", path, err)
	}
	defer f.Close()

	if err := f.Truncate(int64(capacity)); err != nil {
		return nil, fmt.Errorf("dbfront: shm: truncate %s: %w", path, err)
	}

	data, err := unix.Mmap(int(f.Fd()), 0, capacity, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		return nil, fmt.Errorf("dbfront: shm: mmap %s: %w", path, err)
	}

	r := &Ring{name: name, data: data, size: capacity}
	r.notify = sync.NewCond(&r.mu)
	return r, nil
}

// Name returns the /dev/shm basename backing this ring.
func (r *Ring) Name() string { return r.name }

// Unlink removes the backing file. Callers unmap first via Close.
func (r *Ring) Unlink() error {
	return os.Remove(fmt.Sprintf("/dev/shm/%s", r.name))
}

// Close unmaps the backing region.
func (r *Ring) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closed = true
	r.notify.Broadcast()
	if r.data == nil {
		return nil
	}
	err := unix.Munmap(r.data)
	r.data = nil
	return err
}

// WriteFrame appends a framed message (header + payload) to the ring.
// It returns ErrTransportFraming if the payload, plus its header,
// would not fit in the ring's free space.
func (r *Ring) WriteFrame(h Header, payload []byte) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	need := headerSize + len(payload)
	if r.free() < need {
		return fmt.Errorf("dbfront: shm: ring %s full: %w", r.name, coreerr.ErrTransportFraming)
	}

	var hdr [headerSize]byte
	binary.LittleEndian.PutUint32(hdr[0:4], h.Length)
	binary.LittleEndian.PutUint16(hdr[4:6], h.Slot)
	r.writeRaw(hdr[:])
	r.writeRaw(payload)
	r.notify.Broadcast()
	return nil
}

// PeepBlocking returns the next frame header and payload, blocking the
// caller's goroutine until one is available. It mirrors the IPC wire's
// peep(blocking=true) semantics: callers treat a header satisfying
// Header.IsClosing as "session closed, exit the worker loop".
func (r *Ring) PeepBlocking() (Header, []byte, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for {
		if h, payload, ok := r.tryReadLocked(); ok {
			return h, payload, nil
		}
		if r.closed {
			return Header{}, nil, coreerr.ErrTransportClosed
		}
		r.notify.Wait()
	}
}

func (r *Ring) tryReadLocked() (Header, []byte, bool) {
	if r.used() < headerSize {
		return Header{}, nil, false
	}
	var hdr [headerSize]byte
	r.peekRaw(hdr[:])
	length := binary.LittleEndian.Uint32(hdr[0:4])
	slot := binary.LittleEndian.Uint16(hdr[4:6])
	h := Header{Length: length, Slot: slot}
	if h.IsClosing() {
		r.advance(headerSize)
		return h, nil, true
	}
	if r.used() < headerSize+int(length) {
		return Header{}, nil, false
	}
	r.advance(headerSize)
	payload := make([]byte, length)
	r.readRaw(payload)
	return h, payload, true
}

func (r *Ring) free() int { return r.size - r.used() - 1 }

func (r *Ring) used() int {
	if r.tail >= r.head {
		return r.tail - r.head
	}
	return r.size - r.head + r.tail
}

func (r *Ring) writeRaw(p []byte) {
	for _, b := range p {
		r.data[r.tail] = b
		r.tail = (r.tail + 1) % r.size
	}
}

func (r *Ring) peekRaw(dst []byte) {
	h := r.head
	for i := range dst {
		dst[i] = r.data[h]
		h = (h + 1) % r.size
	}
}

func (r *Ring) readRaw(dst []byte) {
	for i := range dst {
		dst[i] = r.data[r.head]
		r.head = (r.head + 1) % r.size
	}
}

func (r *Ring) advance(n int) {
	r.head = (r.head + n) % r.size
}
