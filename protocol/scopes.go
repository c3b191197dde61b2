package protocol

import "sort"

// ScopeSet tracks the capability scopes currently granted to one peer
// relationship. Grant, Revoke and Clear are idempotent: granting an
// already-granted scope or revoking an ungranted one is a no-op.
//
// ScopeSet is not safe for concurrent use; the owning engine serializes
// access under its own lock.
type ScopeSet struct {
	scopes map[string]struct{}
}

// NewScopeSet returns an empty scope set.
func NewScopeSet() *ScopeSet {
	return &ScopeSet{scopes: make(map[string]struct{})}
}

// Grant adds a scope to the set.
func (s *ScopeSet) Grant(scope string) {
	s.scopes[scope] = struct{}{}
}

// Revoke removes a scope from the set.
func (s *ScopeSet) Revoke(scope string) {
	delete(s.scopes, scope)
}

// Clear removes every scope.
func (s *ScopeSet) Clear() {
	s.scopes = make(map[string]struct{})
}

// Replace swaps the entire set for the given scopes. Duplicates collapse.
func (s *ScopeSet) Replace(scopes []string) {
	s.scopes = make(map[string]struct{}, len(scopes))
	for _, sc := range scopes {
		s.scopes[sc] = struct{}{}
	}
}

// Has reports whether the scope is granted.
func (s *ScopeSet) Has(scope string) bool {
	_, ok := s.scopes[scope]
	return ok
}

// List returns the granted scopes in sorted order.
func (s *ScopeSet) List() []string {
	out := make([]string, 0, len(s.scopes))
	for sc := range s.scopes {
		out = append(out, sc)
	}
	sort.Strings(out)
	return out
}

// Len returns the number of granted scopes.
func (s *ScopeSet) Len() int { return len(s.scopes) }
