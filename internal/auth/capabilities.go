package auth

// Capability is a resolved endpoint path together with the operations the
// bearer may perform on it.
type Capability struct {
	Path       string
	Operations OperationSet
}

// CapabilitySet maps endpoint paths to allowed operations. Grants for the
// same path accumulate by union, never overwrite.
type CapabilitySet map[string]OperationSet

// Grant merges ops into the set for path. Empty op sets are dropped.
func (c CapabilitySet) Grant(path string, ops OperationSet) {
	if path == "" || ops.Empty() {
		return
	}
	c[path] = c[path].Union(ops)
}

// Merge folds every capability of other into c.
func (c CapabilitySet) Merge(other CapabilitySet) {
	for path, ops := range other {
		c.Grant(path, ops)
	}
}

// Allows reports whether the set permits op on path.
func (c CapabilitySet) Allows(path string, op Operation) bool {
	return c[path].Has(op)
}

// Equal reports whether both sets grant exactly the same operations.
func (c CapabilitySet) Equal(other CapabilitySet) bool {
	if len(c) != len(other) {
		return false
	}
	for path, ops := range c {
		if !ops.Equal(other[path]) {
			return false
		}
	}
	return true
}

// Claims renders the set in its wire form for token claims.
func (c CapabilitySet) Claims() map[string][]string {
	if len(c) == 0 {
		return nil
	}
	out := make(map[string][]string, len(c))
	for path, ops := range c {
		out[path] = ops.Strings()
	}
	return out
}

// CapabilitiesFromClaims parses the wire form back into a set.
func CapabilitiesFromClaims(raw map[string][]string) CapabilitySet {
	set := make(CapabilitySet, len(raw))
	for path, ops := range raw {
		set.Grant(path, ParseOperations(ops))
	}
	return set
}
