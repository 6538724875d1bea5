package symflow

import "fmt"

// Value is an identity-based handle for a symbolic value. Values are compared
// by handle equality; the record behind a handle lives in an Arena. The zero
// handle means "no value".
type Value int32

// Pre-allocated singleton handles. Every arena reserves these.
const (
	NoValue Value = iota
	ValueTrue
	ValueFalse
	ValueNull
	ValueThis
	ValueBase

	numSingletons = int(ValueBase)
)

// IsSingleton returns true if v is one of the pre-allocated singleton handles.
func (v Value) IsSingleton() bool {
	return v >= ValueTrue && v <= ValueBase
}

// Op identifies the operator relationship recorded by a composite value.
// Plain unknown values have OpFresh.
type Op int

const (
	OpFresh Op = iota
	OpNot
	OpAnd
	OpOr
	OpXor
	OpValueEquals
	OpValueNotEquals
	OpReferenceEquals
	OpReferenceNotEquals
	OpLess
	OpLessOrEqual
	OpMemberAccess
	OpNullable
)

var opNames = [...]string{
	OpFresh:              "fresh",
	OpNot:                "not",
	OpAnd:                "and",
	OpOr:                 "or",
	OpXor:                "xor",
	OpValueEquals:        "eq",
	OpValueNotEquals:     "ne",
	OpReferenceEquals:    "refeq",
	OpReferenceNotEquals: "refne",
	OpLess:               "lt",
	OpLessOrEqual:        "le",
	OpMemberAccess:       "member",
	OpNullable:           "nullable",
}

// String returns the string representation of the operation.
func (op Op) String() string {
	if op >= 0 && op < Op(len(opNames)) && opNames[op] != "" {
		return opNames[op]
	}
	return fmt.Sprintf("Op<%d>", op)
}

// IsBinary returns true if op records two operand values.
func (op Op) IsBinary() bool {
	return op >= OpAnd && op <= OpLessOrEqual
}

// valueRecord is the arena entry behind a Value handle. Composite records
// reference their operand handles; fresh records are distinguished by seq.
type valueRecord struct {
	op     Op
	x, y   Value
	member string
	seq    int32
}

// Arena allocates and interns symbolic values. Composite values are
// hash-consed so structurally identical composites share a handle, which
// keeps state deduplication effective. Fresh values are always distinct.
//
// An arena belongs to a single procedure analysis and is not safe for
// concurrent use.
type Arena struct {
	records  []valueRecord
	interned map[valueRecord]Value
}

// NewArena returns a new arena with the singleton handles pre-allocated.
func NewArena() *Arena {
	a := &Arena{interned: make(map[valueRecord]Value)}
	for i := 0; i < numSingletons; i++ {
		a.records = append(a.records, valueRecord{op: OpFresh, seq: int32(i + 1)})
	}
	return a
}

// NewValue returns a fresh, unconstrained symbolic value.
func (a *Arena) NewValue() Value {
	a.records = append(a.records, valueRecord{op: OpFresh, seq: int32(len(a.records) + 1)})
	return Value(len(a.records))
}

// intern returns the canonical handle for a composite record.
func (a *Arena) intern(rec valueRecord) Value {
	if v, ok := a.interned[rec]; ok {
		return v
	}
	a.records = append(a.records, rec)
	v := Value(len(a.records))
	a.interned[rec] = v
	return v
}

// Not returns the logical negation of v. Double negation collapses and the
// boolean singletons negate directly.
func (a *Arena) Not(v Value) Value {
	switch v {
	case ValueTrue:
		return ValueFalse
	case ValueFalse:
		return ValueTrue
	}
	if a.Op(v) == OpNot {
		x, _ := a.Operands(v)
		return x
	}
	return a.intern(valueRecord{op: OpNot, x: v})
}

// Binary returns a composite value recording op over lhs & rhs. Only binary
// ops are accepted. Greater forms must be normalized by the caller to Less
// forms with swapped operands; Binary therefore never sees a "greater" op.
func (a *Arena) Binary(op Op, lhs, rhs Value) Value {
	assert(op.IsBinary(), "non-binary composite op: %s", op)
	return a.intern(valueRecord{op: op, x: lhs, y: rhs})
}

// MemberAccess returns a composite value for accessing member name on owner.
func (a *Arena) MemberAccess(owner Value, name string) Value {
	return a.intern(valueRecord{op: OpMemberAccess, x: owner, member: name})
}

// Nullable wraps v in a nullable adapter. Wrapping is idempotent.
func (a *Arena) Nullable(v Value) Value {
	if a.Op(v) == OpNullable {
		return v
	}
	return a.intern(valueRecord{op: OpNullable, x: v})
}

// Op returns the operator tag of v.
func (a *Arena) Op(v Value) Op {
	return a.record(v).op
}

// Operands returns the operand handles of v. Unused operands are NoValue.
func (a *Arena) Operands(v Value) (x, y Value) {
	rec := a.record(v)
	return rec.x, rec.y
}

// Member returns the member name recorded by a member-access value.
func (a *Arena) Member(v Value) string {
	return a.record(v).member
}

func (a *Arena) record(v Value) valueRecord {
	assert(v > NoValue && int(v) <= len(a.records), "invalid value handle: %d", v)
	return a.records[v-1]
}

// String returns the string representation of v.
func (a *Arena) String(v Value) string {
	switch v {
	case NoValue:
		return "<none>"
	case ValueTrue:
		return "true"
	case ValueFalse:
		return "false"
	case ValueNull:
		return "null"
	case ValueThis:
		return "this"
	case ValueBase:
		return "base"
	}

	rec := a.record(v)
	switch rec.op {
	case OpFresh:
		return fmt.Sprintf("v%d", rec.seq)
	case OpNot, OpNullable:
		return fmt.Sprintf("(%s %s)", rec.op, a.String(rec.x))
	case OpMemberAccess:
		return fmt.Sprintf("(%s %s.%s)", rec.op, a.String(rec.x), rec.member)
	default:
		return fmt.Sprintf("(%s %s %s)", rec.op, a.String(rec.x), a.String(rec.y))
	}
}
