// Package trust tracks the set of logins allowed to trigger privileged
// actions (starting builds, chat commands). The set is refreshed wholesale
// from the source-control host's directory on a timer and patched
// incrementally by membership events in between.
package trust

import (
	"sort"
	"sync"
)

// Set is a concurrency-safe set of trusted logins. Readers never observe a
// partially-populated set: ReplaceAll builds the new contents before
// swapping them in under the lock.
type Set struct {
	mu      sync.RWMutex
	members map[string]struct{}
}

func NewSet() *Set {
	return &Set{members: make(map[string]struct{})}
}

func (s *Set) Contains(login string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.members[login]
	return ok
}

func (s *Set) Add(login string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.members[login] = struct{}{}
}

func (s *Set) Remove(login string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.members, login)
}

// ReplaceAll swaps in a fully-built replacement for the current contents.
func (s *Set) ReplaceAll(logins []string) {
	next := make(map[string]struct{}, len(logins))
	for _, l := range logins {
		next[l] = struct{}{}
	}
	s.mu.Lock()
	s.members = next
	s.mu.Unlock()
}

// Members returns the current logins, sorted. The slice is a copy.
func (s *Set) Members() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, 0, len(s.members))
	for l := range s.members {
		out = append(out, l)
	}
	sort.Strings(out)
	return out
}

func (s *Set) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.members)
}
