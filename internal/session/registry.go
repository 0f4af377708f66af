package session

import (
	"sort"
	"strconv"
	"strings"
	"sync"
	"weak"

	"github.com/dbfront/dbfront/internal/coreerr"
	"github.com/dbfront/dbfront/internal/svcfields"
	"pkt.systems/pslog"
)

// Registry is the process-wide sessions_core: a numeric-id-keyed table
// of weak back-references to session Context. The owning worker holds
// the only strong reference (typically on its goroutine's stack or in
// a field it controls); once that reference is dropped and collected,
// the registry's weak.Pointer resolves to nil and List/Get treat the
// entry as gone without the registry itself ever having kept the
// session alive.
type Registry struct {
	logger  pslog.Logger
	metrics *metrics

	mu       sync.RWMutex
	sessions map[uint64]weak.Pointer[Context]
	assigned map[uint64]bool
}

// NewRegistry constructs an empty session registry.
func NewRegistry(logger pslog.Logger) *Registry {
	r := &Registry{
		logger:   svcfields.WithSubsystem(logger, "session.registry"),
		sessions: make(map[uint64]weak.Pointer[Context]),
		assigned: make(map[uint64]bool),
	}
	r.metrics = newMetrics(r, logger)
	return r
}

// Register inserts ctx keyed by its numeric id. It returns false if the
// id is already present (live or not yet pruned) or was ever assigned
// before, since numeric ids are assigned at most once per process
// lifetime.
func (r *Registry) Register(ctx *Context) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	id := ctx.NumericID()
	if r.assigned[id] {
		return false
	}
	r.sessions[id] = weak.Make(ctx)
	r.assigned[id] = true
	return true
}

// Unregister removes id's entry immediately, regardless of whether the
// underlying Context is still alive. Session workers call this on
// clean exit so List need not wait for garbage collection to notice.
func (r *Registry) Unregister(id uint64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.sessions, id)
}

// List returns a snapshot of every currently-live session, sorted by
// numeric id. Entries whose Context has been collected are pruned from
// the registry as a side effect.
func (r *Registry) List() []Entry {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Entry, 0, len(r.sessions))
	for id, wp := range r.sessions {
		ctx := wp.Value()
		if ctx == nil {
			delete(r.sessions, id)
			continue
		}
		out = append(out, ctx.Entry())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].NumericID < out[j].NumericID })
	return out
}

// Get resolves specifier to a live session Context. A specifier of the
// form ":<numeric_id>" looks up by id directly; any other string is
// treated as a label, which may match zero, one, or more live
// sessions. Zero matches returns ErrSessionNotFound; more than one
// returns ErrSessionAmbiguous.
func (r *Registry) Get(specifier string) (*Context, error) {
	if strings.HasPrefix(specifier, ":") {
		id, err := strconv.ParseUint(specifier[1:], 10, 64)
		if err != nil {
			return nil, coreerr.ErrSessionNotFound
		}
		return r.getByID(id)
	}
	return r.getByLabel(specifier)
}

func (r *Registry) getByID(id uint64) (*Context, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	wp, ok := r.sessions[id]
	if !ok {
		return nil, coreerr.ErrSessionNotFound
	}
	ctx := wp.Value()
	if ctx == nil {
		delete(r.sessions, id)
		return nil, coreerr.ErrSessionNotFound
	}
	return ctx, nil
}

func (r *Registry) getByLabel(label string) (*Context, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var found *Context
	for id, wp := range r.sessions {
		ctx := wp.Value()
		if ctx == nil {
			delete(r.sessions, id)
			continue
		}
		if ctx.Label() != label {
			continue
		}
		if found != nil {
			return nil, coreerr.ErrSessionAmbiguous
		}
		found = ctx
	}
	if found == nil {
		return nil, coreerr.ErrSessionNotFound
	}
	return found, nil
}

// Shutdown resolves specifier and requests a shutdown of the given kind
// on the matched session.
func (r *Registry) Shutdown(specifier string, kind ShutdownKind) error {
	ctx, err := r.Get(specifier)
	if err != nil {
		return err
	}
	ctx.RequestShutdown(kind)
	return nil
}
