package profiles

import (
	"sort"
)

// DefaultStructuralKeys are deprecated broad-domain flags that appear in legacy
// matrices next to module keys. They never name a module.
var DefaultStructuralKeys = []string{
	"pedagogy",
	"finance",
	"administration",
	"student_life",
	"student-life",
}

// Resolver normalizes raw permission matrices. It holds no mutable state and is
// safe for concurrent use.
type Resolver struct {
	structural map[string]struct{}
}

// NewResolver creates a resolver that ignores the default structural keys plus extra
func NewResolver(extra ...string) *Resolver {
	keys := make(map[string]struct{}, len(DefaultStructuralKeys)+len(extra))
	for _, k := range DefaultStructuralKeys {
		keys[k] = struct{}{}
	}
	for _, k := range extra {
		if k != "" {
			keys[k] = struct{}{}
		}
	}
	return &Resolver{structural: keys}
}

var defaultResolver = NewResolver()

// Resolve normalizes m with the default structural keys
func Resolve(m Matrix) map[string]PermissionState {
	return defaultResolver.Resolve(m)
}

// IsStructural reports whether key is a legacy domain key
func (r *Resolver) IsStructural(key string) bool {
	_, ok := r.structural[key]
	return ok
}

// Resolve maps every module key of m to a PermissionState.
// Structural keys and nested values are dropped; unknown leaves become Denied.
func (r *Resolver) Resolve(m Matrix) map[string]PermissionState {
	resolved := make(map[string]PermissionState, len(m))
	for key, value := range m {
		if r.IsStructural(key) {
			continue
		}
		state, ok := leafState(value)
		if !ok {
			continue
		}
		resolved[key] = state
	}
	return resolved
}

// leafState classifies a raw value. ok is false for nested (legacy) shapes.
func leafState(value any) (PermissionState, bool) {
	switch v := value.(type) {
	case map[string]any, []any:
		return Denied, false
	case bool:
		if v {
			return Granted, true
		}
		return Denied, true
	case string:
		if v == ReadOnlyValue {
			return ReadOnly, true
		}
		return Denied, true
	default:
		return Denied, true
	}
}

// CountActive counts entries that are Granted or ReadOnly
func CountActive(resolved map[string]PermissionState) int {
	n := 0
	for _, state := range resolved {
		if state.Active() {
			n++
		}
	}
	return n
}

// ToMatrix converts a resolved map back to its stored leaf form
func ToMatrix(resolved map[string]PermissionState) Matrix {
	m := make(Matrix, len(resolved))
	for key, state := range resolved {
		switch state {
		case Granted:
			m[key] = true
		case ReadOnly:
			m[key] = ReadOnlyValue
		default:
			m[key] = false
		}
	}
	return m
}

// Grants lists the module flags a resolved map grants, sorted by module key.
// Denied modules are omitted.
func Grants(resolved map[string]PermissionState) []ModuleGrant {
	keys := make([]string, 0, len(resolved))
	for key, state := range resolved {
		if state.Active() {
			keys = append(keys, key)
		}
	}
	sort.Strings(keys)

	grants := make([]ModuleGrant, 0, len(keys))
	for _, key := range keys {
		grants = append(grants, GrantFor(key, resolved[key]))
	}
	return grants
}
