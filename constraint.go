package symflow

import "fmt"

// Constraint is a domain tag attachable to a symbolic value. Domains are
// independent axes of knowledge; within a domain at most one tag holds per
// value.
type Constraint uint8

const (
	Null Constraint = iota
	NotNull
	BoolTrue
	BoolFalse
	Empty
	NotEmpty
	Disposed
	NotDisposed

	numConstraints = int(NotDisposed) + 1
)

var constraintNames = [...]string{
	Null:        "null",
	NotNull:     "notnull",
	BoolTrue:    "true",
	BoolFalse:   "false",
	Empty:       "empty",
	NotEmpty:    "notempty",
	Disposed:    "disposed",
	NotDisposed: "notdisposed",
}

// String returns the string representation of the constraint.
func (c Constraint) String() string {
	if int(c) < len(constraintNames) {
		return constraintNames[c]
	}
	return fmt.Sprintf("Constraint<%d>", c)
}

// Domain identifies an independent constraint axis.
type Domain uint8

const (
	DomainNull Domain = iota
	DomainBool
	DomainCollection
	DomainDisposal
)

// Domain returns the domain c belongs to. Tags are laid out in pairs, one
// pair per domain.
func (c Constraint) Domain() Domain {
	return Domain(c / 2)
}

// Negate returns the opposite tag within c's domain.
func (c Constraint) Negate() Constraint {
	return c ^ 1
}

// ConstraintSet is a bitmask of constraint tags, one tag per domain at most.
type ConstraintSet uint8

// Has returns true if the set carries tag c.
func (s ConstraintSet) Has(c Constraint) bool {
	return s&(1<<c) != 0
}

// HasDomain returns true if the set carries any tag of domain d.
func (s ConstraintSet) HasDomain(d Domain) bool {
	return s&domainMask(d) != 0
}

// With returns the set with tag c set, replacing any other tag in c's domain.
func (s ConstraintSet) With(c Constraint) ConstraintSet {
	return (s &^ domainMask(c.Domain())) | (1 << c)
}

// Empty returns true if no tag is set.
func (s ConstraintSet) Empty() bool {
	return s == 0
}

func domainMask(d Domain) ConstraintSet {
	return ConstraintSet(0b11) << (2 * uint(d))
}

// String returns the string representation of the set.
func (s ConstraintSet) String() string {
	if s == 0 {
		return "{}"
	}
	out := "{"
	for c := Constraint(0); int(c) < numConstraints; c++ {
		if s.Has(c) {
			if len(out) > 1 {
				out += ","
			}
			out += c.String()
		}
	}
	return out + "}"
}

// singletonConstraints returns the intrinsic constraints of the singleton
// handles. These hold in every state without being recorded explicitly.
func singletonConstraints(v Value) ConstraintSet {
	switch v {
	case ValueTrue:
		return ConstraintSet(0).With(BoolTrue).With(NotNull)
	case ValueFalse:
		return ConstraintSet(0).With(BoolFalse).With(NotNull)
	case ValueNull:
		return ConstraintSet(0).With(Null)
	case ValueThis, ValueBase:
		return ConstraintSet(0).With(NotNull)
	default:
		return 0
	}
}
