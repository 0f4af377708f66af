package session

import (
	"sync"

	"github.com/dbfront/dbfront/internal/coreerr"
)

type variableSlot struct {
	kind  VariableType
	value any
}

// variableStore is a typed per-session key-value store. A variable's
// type is fixed by whichever Set call creates it; later Set calls with
// a different type fail rather than silently reinterpreting the slot.
type variableStore struct {
	mu   sync.RWMutex
	vars map[string]variableSlot
}

func newVariableStore() *variableStore {
	return &variableStore{vars: make(map[string]variableSlot)}
}

func (s *variableStore) set(name string, kind VariableType, value any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if existing, ok := s.vars[name]; ok && existing.kind != kind {
		return coreerr.ErrVariableTypeMismatch
	}
	s.vars[name] = variableSlot{kind: kind, value: value}
	return nil
}

func (s *variableStore) get(name string) (any, VariableType, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	slot, ok := s.vars[name]
	if !ok {
		return nil, VariableTypeString, false
	}
	return slot.value, slot.kind, true
}

// SetString stores a string variable under name.
func (c *Context) SetString(name, value string) error {
	return c.vars.set(name, VariableTypeString, value)
}

// SetInt64 stores an int64 variable under name.
func (c *Context) SetInt64(name string, value int64) error {
	return c.vars.set(name, VariableTypeInt64, value)
}

// SetBool stores a bool variable under name.
func (c *Context) SetBool(name string, value bool) error {
	return c.vars.set(name, VariableTypeBool, value)
}

// GetString retrieves a string variable; ok is false if name is unset
// or was set with a different type.
func (c *Context) GetString(name string) (value string, ok bool) {
	v, kind, found := c.vars.get(name)
	if !found || kind != VariableTypeString {
		return "", false
	}
	return v.(string), true
}

// GetInt64 retrieves an int64 variable; ok is false if name is unset
// or was set with a different type.
func (c *Context) GetInt64(name string) (value int64, ok bool) {
	v, kind, found := c.vars.get(name)
	if !found || kind != VariableTypeInt64 {
		return 0, false
	}
	return v.(int64), true
}

// GetBool retrieves a bool variable; ok is false if name is unset or
// was set with a different type.
func (c *Context) GetBool(name string) (value bool, ok bool) {
	v, kind, found := c.vars.get(name)
	if !found || kind != VariableTypeBool {
		return false, false
	}
	return v.(bool), true
}
