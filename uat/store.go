package uat

import (
	"reflect"
	"sort"
)

// Store holds the variables of the selected slot.
type Store struct {
	slot string
	vars map[string]interface{}
}

func NewStore() *Store {
	return &Store{vars: make(map[string]interface{})}
}

// Reset forgets every variable and selects slot. An empty slot accepts variables of any slot.
func (s *Store) Reset(slot string) {
	s.slot = slot
	s.vars = make(map[string]interface{})
}

func (s *Store) Slot() string { return s.slot }

// Set records a variable unless it belongs to a different slot. It reports whether the
// stored value changed.
func (s *Store) Set(v *Var) (changed bool) {
	if v.Slot != nil && s.slot != "" && *v.Slot != s.slot {
		return false
	}
	if old, ok := s.vars[v.Name]; ok && reflect.DeepEqual(old, v.Value) {
		return false
	}
	s.vars[v.Name] = v.Value
	return true
}

func (s *Store) Get(name string) (value interface{}, ok bool) {
	value, ok = s.vars[name]
	return
}

func (s *Store) Len() int { return len(s.vars) }

func (s *Store) Names() []string {
	names := make([]string, 0, len(s.vars))
	for name := range s.vars {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
