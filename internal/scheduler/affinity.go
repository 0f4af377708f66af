package scheduler

import (
	"bytes"
	"runtime"
	"strconv"
	"sync"
	"sync/atomic"
)

// goroutineID extracts the calling goroutine's numeric id from its stack
// trace header ("goroutine 123 [running]:"). Go has no public
// goroutine-local storage, so this is the closest analogue to the
// source's thread-local preferred-worker slot: a goroutine that hops OS
// threads (the Go scheduler moves them freely) still gets a stable,
// consistent answer because the key is the logical goroutine, not the OS
// thread it happens to run on.
func goroutineID() uint64 {
	var buf [64]byte
	n := runtime.Stack(buf[:], false)
	fields := bytes.Fields(buf[:n])
	if len(fields) < 2 {
		return 0
	}
	id, _ := strconv.ParseUint(string(fields[1]), 10, 64)
	return id
}

// affinityTable lazily assigns a round-robin worker index per calling
// goroutine the first time it asks, then returns the same index for the
// lifetime of that goroutine.
type affinityTable struct {
	mu      sync.Mutex
	assign  map[uint64]uint64
	next    atomic.Uint64
	workers uint64
}

func newAffinityTable(workers uint64) *affinityTable {
	return &affinityTable{assign: make(map[uint64]uint64), workers: workers}
}

func (a *affinityTable) preferredForCurrentGoroutine() uint64 {
	gid := goroutineID()

	a.mu.Lock()
	defer a.mu.Unlock()
	if idx, ok := a.assign[gid]; ok {
		return idx
	}
	idx := a.next.Add(1) - 1
	idx %= a.workers
	a.assign[gid] = idx
	return idx
}
