package engine

import (
	"slices"
	"strings"
	"sync"
)

// States maps entries to their verification result. An entry is correct
// (true), incorrect or unknown (false), or absent when it has not been
// inventoried. Entries are keyed by identity, so two entries with the same
// kind and name in different bundles have separate states.
//
// The engine and the drivers share one States value during a run. Drivers
// are trusted to set only the entries they claim. States is safe for
// concurrent use, since a driver call abandoned after its timeout may still
// be writing to it.
type States struct {
	mu     sync.RWMutex
	order  []*Entry
	values map[*Entry]bool
}

// NewStates returns an empty state store.
func NewStates() *States {
	return &States{values: make(map[*Entry]bool)}
}

// Set records the state of an entry.
func (s *States) Set(e *Entry, correct bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.values[e]; !ok {
		s.order = append(s.order, e)
	}
	s.values[e] = correct
}

// Get returns the state of an entry and whether it has one.
func (s *States) Get(e *Entry) (correct, found bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	correct, found = s.values[e]
	return correct, found
}

// Correct reports whether the entry is known to be correct.
func (s *States) Correct(e *Entry) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.values[e]
}

// Has reports whether the entry has been inventoried.
func (s *States) Has(e *Entry) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.values[e]
	return ok
}

// Len returns the number of entries with a state.
func (s *States) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.order)
}

// Entries returns the entries with a state in first-seen order.
func (s *States) Entries() []*Entry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Clone(s.order)
}

// Good returns the correct entries in first-seen order.
func (s *States) Good() []*Entry {
	return s.filter(true)
}

// Bad returns the incorrect entries in first-seen order.
func (s *States) Bad() []*Entry {
	return s.filter(false)
}

// Counts returns the number of correct and incorrect entries.
func (s *States) Counts() (good, bad int) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, v := range s.values {
		if v {
			good++
		} else {
			bad++
		}
	}
	return good, bad
}

func (s *States) filter(want bool) []*Entry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*Entry
	for _, e := range s.order {
		if s.values[e] == want {
			out = append(out, e)
		}
	}
	return out
}

// EntrySet is an insertion-ordered set of entries keyed by identity.
type EntrySet struct {
	items []*Entry
	index map[*Entry]struct{}
}

// NewEntrySet returns a set holding the given entries.
func NewEntrySet(entries ...*Entry) *EntrySet {
	s := &EntrySet{index: make(map[*Entry]struct{}, len(entries))}
	for _, e := range entries {
		s.Add(e)
	}
	return s
}

// Add inserts an entry and reports whether it was new.
func (s *EntrySet) Add(e *Entry) bool {
	if _, ok := s.index[e]; ok {
		return false
	}
	s.index[e] = struct{}{}
	s.items = append(s.items, e)
	return true
}

// Remove deletes an entry and reports whether it was present.
func (s *EntrySet) Remove(e *Entry) bool {
	if _, ok := s.index[e]; !ok {
		return false
	}
	delete(s.index, e)
	s.items = slices.DeleteFunc(s.items, func(x *Entry) bool { return x == e })
	return true
}

// Has reports whether the entry is in the set.
func (s *EntrySet) Has(e *Entry) bool {
	if s == nil {
		return false
	}
	_, ok := s.index[e]
	return ok
}

// Len returns the number of entries.
func (s *EntrySet) Len() int {
	if s == nil {
		return 0
	}
	return len(s.items)
}

// Items returns the entries in insertion order.
func (s *EntrySet) Items() []*Entry {
	if s == nil {
		return nil
	}
	return slices.Clone(s.items)
}

// Sorted returns the entries in Kind:Name order.
func (s *EntrySet) Sorted() []*Entry {
	return SortEntries(s.Items())
}

// Filter returns a new set with the entries for which keep returns true.
func (s *EntrySet) Filter(keep func(*Entry) bool) *EntrySet {
	out := NewEntrySet()
	for _, e := range s.Items() {
		if keep(e) {
			out.Add(e)
		}
	}
	return out
}

// SortEntries sorts entries in place by Kind:Name and returns them. The sort
// is stable so duplicates keep their document order.
func SortEntries(entries []*Entry) []*Entry {
	slices.SortStableFunc(entries, func(a, b *Entry) int {
		return strings.Compare(a.ID(), b.ID())
	})
	return entries
}

// entryIDs returns the sorted Kind:Name identities of entries, for logging.
func entryIDs(entries []*Entry) []string {
	sorted := SortEntries(slices.Clone(entries))
	ids := make([]string, len(sorted))
	for i, e := range sorted {
		ids[i] = e.ID()
	}
	return ids
}
