package models

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
)

// Well-known promotion states
const (
	StateTesting     = "testing"
	StateRelease     = "release"
	StateUAT         = "uat"
	StateDevelopment = "development"
)

// DefaultStates is the allow-list used when the configuration does not name one
var DefaultStates = []string{StateTesting, StateRelease, StateUAT, StateDevelopment}

// ErrInvalidState is returned for state labels outside the allow-list
var ErrInvalidState = errors.New("invalid state")

// ValidateState checks a state label against the allow-list.
func ValidateState(state string, allowed []string) error {
	if state == "" {
		return fmt.Errorf("empty state label: %w", ErrInvalidState)
	}
	for _, a := range allowed {
		if a == state {
			return nil
		}
	}
	return fmt.Errorf("%q is not one of %v: %w", state, allowed, ErrInvalidState)
}

// StateSet is a set of promotion states kept sorted and free of duplicates
// so that iteration order is stable.
type StateSet []string

// NewStateSet builds a set from the given labels, dropping duplicates and empty labels
func NewStateSet(states ...string) StateSet {
	var s StateSet
	for _, st := range states {
		s.Add(st)
	}
	return s
}

// Has reports whether the state is a member
func (s StateSet) Has(state string) bool {
	i := sort.SearchStrings(s, state)
	return i < len(s) && s[i] == state
}

// Add inserts a state. Returns false if it was already present.
func (s *StateSet) Add(state string) bool {
	if state == "" {
		return false
	}
	i := sort.SearchStrings(*s, state)
	if i < len(*s) && (*s)[i] == state {
		return false
	}
	*s = append(*s, "")
	copy((*s)[i+1:], (*s)[i:])
	(*s)[i] = state
	return true
}

// Remove deletes a state. Returns false if it was not present.
func (s *StateSet) Remove(state string) bool {
	i := sort.SearchStrings(*s, state)
	if i >= len(*s) || (*s)[i] != state {
		return false
	}
	*s = append((*s)[:i], (*s)[i+1:]...)
	return true
}

// Len returns the number of states
func (s StateSet) Len() int {
	return len(s)
}

// Equal reports whether both sets hold the same states
func (s StateSet) Equal(o StateSet) bool {
	if len(s) != len(o) {
		return false
	}
	for i := range s {
		if s[i] != o[i] {
			return false
		}
	}
	return true
}

// Clone returns an independent copy
func (s StateSet) Clone() StateSet {
	if s == nil {
		return nil
	}
	c := make(StateSet, len(s))
	copy(c, s)
	return c
}

// Values returns the states as a plain slice
func (s StateSet) Values() []string {
	return []string(s.Clone())
}

// UnmarshalJSON normalizes the decoded list into a set
func (s *StateSet) UnmarshalJSON(data []byte) error {
	var raw []string
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	*s = NewStateSet(raw...)
	return nil
}
