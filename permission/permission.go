package permission

import "sort"

// Set is a deduplicated collection of permission names.
type Set struct {
	members map[string]struct{}
}

// NewSet builds a Set from names, dropping duplicates and empty strings.
func NewSet(names ...string) Set {
	members := make(map[string]struct{}, len(names))
	for _, name := range names {
		if name == "" {
			continue
		}
		members[name] = struct{}{}
	}
	return Set{members: members}
}

// Has reports whether name is in the set.
func (s Set) Has(name string) bool {
	_, ok := s.members[name]
	return ok
}

// Len returns the number of distinct permissions.
func (s Set) Len() int {
	return len(s.members)
}

// Names returns the members sorted for stable output.
func (s Set) Names() []string {
	names := make([]string, 0, len(s.members))
	for name := range s.members {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Union returns a new Set containing the members of both sets.
func (s Set) Union(other Set) Set {
	merged := make(map[string]struct{}, len(s.members)+len(other.members))
	for name := range s.members {
		merged[name] = struct{}{}
	}
	for name := range other.members {
		merged[name] = struct{}{}
	}
	return Set{members: merged}
}

// Role is a named grant of permissions. Accounts hold roles, not
// permissions; the effective set is the union across all assigned
// roles.
type Role struct {
	Name        string
	Permissions []string
}

// Flatten collects the distinct permissions granted through roles.
func Flatten(roles []Role) Set {
	flat := NewSet()
	for _, role := range roles {
		flat = flat.Union(NewSet(role.Permissions...))
	}
	return flat
}
