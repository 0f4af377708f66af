// Package ipc implements the IPC endpoint: a bounded in-process
// connection queue, a listener that accepts or rejects pending
// connect requests, and per-session workers that speak the IPC wire
// protocol over a shm.Wire.
package ipc

import (
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dbfront/dbfront/internal/coreerr"
)

func yieldToOthers() {
	runtime.Gosched()
	time.Sleep(time.Microsecond)
}

// RejectedSessionID is the sentinel a client observes from Wait when
// its connect request was rejected, mirroring the source's UINT64_MAX.
const RejectedSessionID = ^uint64(0)

type pendingKind int

const (
	pendingNormal pendingKind = iota
	pendingAdmin
)

type pendingConnect struct {
	kind     pendingKind
	slot     int
	resultCh chan uint64
}

// ConnectionQueue is the IPC endpoint's bounded connect-request queue.
// Capacity is threads+adminSessions; Request/RequestAdmin beyond that
// fail immediately with ErrResourceLimitReached rather than queuing,
// matching spec.md §4.4.1's "exceeding it causes request() to fail".
type ConnectionQueue struct {
	mu           sync.Mutex
	pending      []*pendingConnect
	terminated   atomic.Bool
	terminateAck chan struct{}

	threads       int
	adminSessions int
	nextSlot      int
	nextSessionID atomic.Uint64
	activeNormal  int
	activeAdmin   int
}

// NewConnectionQueue constructs a queue capacitated for threads normal
// sessions plus adminSessions reserved overflow slots.
func NewConnectionQueue(threads, adminSessions int) *ConnectionQueue {
	return &ConnectionQueue{
		threads:       threads,
		adminSessions: adminSessions,
		terminateAck:  make(chan struct{}),
	}
}

// Request enqueues a normal connect request and blocks until the
// listener accepts or rejects it, returning the assigned session id or
// RejectedSessionID.
func (q *ConnectionQueue) Request() (uint64, error) {
	return q.enqueue(pendingNormal)
}

// RequestAdmin enqueues an admin connect request, which draws from the
// reserved admin_sessions overflow instead of the normal budget.
func (q *ConnectionQueue) RequestAdmin() (uint64, error) {
	return q.enqueue(pendingAdmin)
}

func (q *ConnectionQueue) enqueue(kind pendingKind) (uint64, error) {
	q.mu.Lock()
	if q.terminated.Load() {
		q.mu.Unlock()
		return RejectedSessionID, coreerr.ErrTransportClosed
	}
	if !q.hasCapacity(kind) {
		q.mu.Unlock()
		return RejectedSessionID, coreerr.ErrResourceLimitReached
	}
	pc := &pendingConnect{kind: kind, slot: q.nextSlot, resultCh: make(chan uint64, 1)}
	q.nextSlot++
	q.pending = append(q.pending, pc)
	q.mu.Unlock()

	id := <-pc.resultCh
	return id, nil
}

func (q *ConnectionQueue) hasCapacity(kind pendingKind) bool {
	switch kind {
	case pendingAdmin:
		return q.activeAdmin < q.adminSessions
	default:
		return q.activeNormal < q.threads
	}
}

// Listen blocks until a connect request is pending or the queue is
// terminated, returning the slot index for Accept/Reject. ok is false
// if the queue was terminated with nothing pending.
func (q *ConnectionQueue) Listen() (slot int, ok bool) {
	for {
		q.mu.Lock()
		if len(q.pending) > 0 {
			slot = q.pending[0].slot
			q.mu.Unlock()
			return slot, true
		}
		if q.terminated.Load() {
			q.mu.Unlock()
			return 0, false
		}
		q.mu.Unlock()
		// A real shared-memory queue would park on a futex/condvar across
		// processes; within one process a short yield is sufficient since
		// Request/RequestAdmin and Listen share the same mutex-guarded slice.
		yieldToOthers()
	}
}

// Accept assigns sessionID to the pending connect request at slot and
// wakes its caller.
func (q *ConnectionQueue) Accept(slot int, sessionID uint64) {
	q.resolve(slot, sessionID, true)
}

// Reject fails the pending connect request at slot; its caller
// observes RejectedSessionID.
func (q *ConnectionQueue) Reject(slot int) {
	q.resolve(slot, RejectedSessionID, false)
}

func (q *ConnectionQueue) resolve(slot int, sessionID uint64, accepted bool) {
	q.mu.Lock()
	idx := -1
	for i, pc := range q.pending {
		if pc.slot == slot {
			idx = i
			break
		}
	}
	if idx < 0 {
		q.mu.Unlock()
		return
	}
	pc := q.pending[idx]
	q.pending = append(q.pending[:idx], q.pending[idx+1:]...)
	if accepted {
		switch pc.kind {
		case pendingAdmin:
			q.activeAdmin++
		default:
			q.activeNormal++
		}
	}
	q.mu.Unlock()
	pc.resultCh <- sessionID
}

// NextSessionID allocates the next process-lifetime-unique numeric id.
func (q *ConnectionQueue) NextSessionID() uint64 {
	return q.nextSessionID.Add(1)
}

// ReleaseSession frees one slot of the normal or admin budget, called
// when a session worker exits.
func (q *ConnectionQueue) ReleaseSession(admin bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if admin {
		if q.activeAdmin > 0 {
			q.activeAdmin--
		}
		return
	}
	if q.activeNormal > 0 {
		q.activeNormal--
	}
}

// RequestTerminate is a one-shot signal: it unblocks Listen and every
// future Request/RequestAdmin call observes a closed queue.
func (q *ConnectionQueue) RequestTerminate() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.terminated.CompareAndSwap(false, true) {
		close(q.terminateAck)
	}
}

// IsTerminated reports whether RequestTerminate has been called.
func (q *ConnectionQueue) IsTerminated() bool {
	return q.terminated.Load()
}

// ConfirmTerminated blocks until RequestTerminate has completed.
func (q *ConnectionQueue) ConfirmTerminated() {
	<-q.terminateAck
}
