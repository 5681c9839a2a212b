package auth

import (
	"encoding/json"
	"net/http"
	"sort"
)

// Operation is the closed set of coarse operation categories a permission
// can grant over an endpoint.
type Operation string

const (
	OpRead   Operation = "READ"
	OpChange Operation = "CHANGE"
	OpDelete Operation = "DELETE"
)

// AllOperations returns READ, CHANGE and DELETE.
func AllOperations() OperationSet {
	return NewOperationSet(OpRead, OpChange, OpDelete)
}

// MethodOperation maps an HTTP verb to its operation category. Unknown
// verbs carry no category and are excluded rather than erroring.
func MethodOperation(method string) (Operation, bool) {
	switch method {
	case http.MethodGet, http.MethodHead, http.MethodTrace:
		return OpRead, true
	case http.MethodPost, http.MethodPut, http.MethodPatch:
		return OpChange, true
	case http.MethodDelete:
		return OpDelete, true
	default:
		return "", false
	}
}

// OperationSet is an unordered set of operations. A nil set behaves as
// the empty set everywhere, including under intersection.
type OperationSet map[Operation]struct{}

// NewOperationSet builds a set from the given operations.
func NewOperationSet(ops ...Operation) OperationSet {
	set := make(OperationSet, len(ops))
	for _, op := range ops {
		set[op] = struct{}{}
	}
	return set
}

// ParseOperations builds a set from raw strings, dropping anything
// outside the closed READ/CHANGE/DELETE set.
func ParseOperations(raw []string) OperationSet {
	set := make(OperationSet, len(raw))
	for _, r := range raw {
		switch op := Operation(r); op {
		case OpRead, OpChange, OpDelete:
			set[op] = struct{}{}
		}
	}
	return set
}

func (s OperationSet) Has(op Operation) bool {
	_, ok := s[op]
	return ok
}

func (s OperationSet) Empty() bool { return len(s) == 0 }

// Intersect returns the operations present in both sets. Either side
// being nil yields the empty set, never "all".
func (s OperationSet) Intersect(other OperationSet) OperationSet {
	out := make(OperationSet)
	for op := range s {
		if other.Has(op) {
			out[op] = struct{}{}
		}
	}
	return out
}

// Union returns the operations present in either set.
func (s OperationSet) Union(other OperationSet) OperationSet {
	out := make(OperationSet, len(s)+len(other))
	for op := range s {
		out[op] = struct{}{}
	}
	for op := range other {
		out[op] = struct{}{}
	}
	return out
}

// Equal reports whether both sets hold the same operations.
func (s OperationSet) Equal(other OperationSet) bool {
	if len(s) != len(other) {
		return false
	}
	for op := range s {
		if !other.Has(op) {
			return false
		}
	}
	return true
}

// Strings returns the operations as a sorted string slice, the canonical
// form used in token claims and stored documents.
func (s OperationSet) Strings() []string {
	out := make([]string, 0, len(s))
	for op := range s {
		out = append(out, string(op))
	}
	sort.Strings(out)
	return out
}

// MarshalJSON encodes the set as a sorted string array.
func (s OperationSet) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.Strings())
}

// UnmarshalJSON decodes a string array, dropping unknown values.
func (s *OperationSet) UnmarshalJSON(data []byte) error {
	var raw []string
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	*s = ParseOperations(raw)
	return nil
}
