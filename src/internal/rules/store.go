package rules

import (
	"sync/atomic"
)

// Store holds the current RuleSet. Readers call Current and keep using the
// snapshot they got; a reload replaces the pointer without touching it.
type Store struct {
	current atomic.Pointer[RuleSet]
}

func NewStore(initial *RuleSet) *Store {
	s := &Store{}
	if initial == nil {
		initial = Empty()
	}
	s.current.Store(initial)
	return s
}

// Current returns the active snapshot. It is never nil.
func (s *Store) Current() *RuleSet {
	return s.current.Load()
}

// Swap installs next and returns the previous snapshot.
func (s *Store) Swap(next *RuleSet) *RuleSet {
	if next == nil {
		next = Empty()
	}
	return s.current.Swap(next)
}

// Reload loads src and swaps it in. On error the current snapshot is kept.
func (s *Store) Reload(src Sources) (*LoadReport, error) {
	set, report, err := Load(src)
	if err != nil {
		return nil, err
	}
	s.Swap(set)
	return report, nil
}
