package permission

// Requirement is an expression over permission names. Exactly one field
// should be populated; a zero Requirement is satisfied by any Set.
type Requirement struct {
	// Perm names a single permission the set must contain.
	Perm string

	// All is satisfied when every child requirement is satisfied.
	All []Requirement

	// Any is satisfied when at least one child requirement is satisfied.
	Any []Requirement

	// Not inverts its child requirement.
	Not *Requirement
}

// Of requires the single permission name.
func Of(name string) Requirement {
	return Requirement{Perm: name}
}

// AllOf requires every child requirement.
func AllOf(reqs ...Requirement) Requirement {
	return Requirement{All: reqs}
}

// AnyOf requires at least one child requirement.
func AnyOf(reqs ...Requirement) Requirement {
	return Requirement{Any: reqs}
}

// NotOf inverts req.
func NotOf(req Requirement) Requirement {
	return Requirement{Not: &req}
}

// SatisfiedBy evaluates the requirement against the set. Composite nodes
// short-circuit: All stops at the first failing child, Any at the first
// passing one. An empty requirement is always satisfied.
func (r Requirement) SatisfiedBy(set Set) bool {
	switch {
	case r.Perm != "":
		return set.Has(r.Perm)
	case len(r.All) > 0:
		for _, child := range r.All {
			if !child.SatisfiedBy(set) {
				return false
			}
		}
		return true
	case len(r.Any) > 0:
		for _, child := range r.Any {
			if child.SatisfiedBy(set) {
				return true
			}
		}
		return false
	case r.Not != nil:
		return !r.Not.SatisfiedBy(set)
	default:
		return true
	}
}

// IsZero reports whether the requirement has no constraint.
func (r Requirement) IsZero() bool {
	return r.Perm == "" && len(r.All) == 0 && len(r.Any) == 0 && r.Not == nil
}
