package symflow

import (
	"bytes"
	"fmt"
	"sort"

	"github.com/benbjohnson/immutable"
)

// State is an immutable snapshot of one abstract program state: the operand
// stack, the symbol bindings, the per-value constraint sets, and the
// per-point visit counts. Every operation returns a new state sharing
// unchanged substructure with its predecessor; old states remain valid and
// usable after derivation, which the walker relies on when splitting
// exploration branches.
type State struct {
	arena *Arena

	stack       *immutable.List // of Value
	symbols     *immutable.Map  // Symbol -> Value
	constraints *immutable.Map  // Value -> ConstraintSet
	visits      *immutable.Map  // Point -> int
}

// NewState returns an empty state over the given arena.
func NewState(arena *Arena) *State {
	return &State{
		arena:       arena,
		stack:       immutable.NewList(),
		symbols:     immutable.NewMap(symbolHasher{}),
		constraints: immutable.NewMap(valueHasher{}),
		visits:      immutable.NewMap(pointHasher{}),
	}
}

// Arena returns the arena the state's values live in.
func (s *State) Arena() *Arena { return s.arena }

func (s *State) clone() *State {
	other := *s
	return &other
}

// PushValue returns a state with v appended to the stack top.
func (s *State) PushValue(v Value) *State {
	assert(v != NoValue, "push of missing value")
	other := s.clone()
	other.stack = s.stack.Append(v)
	return other
}

// PopValue returns a state with the top value removed, and that value.
// An empty stack is an engine defect.
func (s *State) PopValue() (*State, Value) {
	n := s.stack.Len()
	assert(n > 0, "pop from empty operand stack")
	v := s.stack.Get(n - 1).(Value)
	other := s.clone()
	other.stack = s.stack.Slice(0, n-1)
	return other, v
}

// PopValues returns a state with the top n values removed, discarding the
// individual handles.
func (s *State) PopValues(n int) *State {
	sz := s.stack.Len()
	assert(sz >= n, "pop %d from operand stack of depth %d", n, sz)
	other := s.clone()
	other.stack = s.stack.Slice(0, sz-n)
	return other
}

// PeekValue returns the i-th value from the stack top without popping it.
func (s *State) PeekValue(i int) Value {
	n := s.stack.Len()
	assert(i < n, "peek %d from operand stack of depth %d", i, n)
	return s.stack.Get(n - 1 - i).(Value)
}

// StackSize returns the operand stack depth.
func (s *State) StackSize() int { return s.stack.Len() }

// StoreSymbolicValue returns a state with sym bound to v, replacing any
// prior binding.
func (s *State) StoreSymbolicValue(sym Symbol, v Value) *State {
	assert(sym != NoSymbol, "store to missing symbol")
	other := s.clone()
	other.symbols = s.symbols.Set(sym, v)
	return other
}

// GetSymbolValue returns the value currently bound to sym, if tracked.
func (s *State) GetSymbolValue(sym Symbol) (Value, bool) {
	raw, ok := s.symbols.Get(sym)
	if !ok {
		return NoValue, false
	}
	return raw.(Value), true
}

// RemoveSymbols returns a state without bindings for symbols matching pred.
// Used to invalidate fields after an opaque call or a lock-scope exit.
func (s *State) RemoveSymbols(pred func(Symbol) bool) *State {
	symbols := s.symbols
	for itr := s.symbols.Iterator(); !itr.Done(); {
		k, _ := itr.Next()
		if pred(k.(Symbol)) {
			symbols = symbols.Delete(k)
		}
	}
	if symbols == s.symbols {
		return s
	}
	other := s.clone()
	other.symbols = symbols
	return other
}

// Constraints returns the constraint set currently attached to v. Singleton
// handles carry their intrinsic tags even without an explicit entry.
func (s *State) Constraints(v Value) ConstraintSet {
	if raw, ok := s.constraints.Get(v); ok {
		return raw.(ConstraintSet)
	}
	return singletonConstraints(v)
}

// HasConstraint returns true if v carries tag c.
func (s *State) HasConstraint(v Value, c Constraint) bool {
	return s.Constraints(v).Has(c)
}

// SetConstraint returns a state with tag c on v, replacing any other tag in
// c's domain. Decorators and invocation handlers use it for constraint
// transitions (dispose, clear); path refinement goes through
// TrySetConstraint instead.
func (s *State) SetConstraint(v Value, c Constraint) *State {
	assert(v != NoValue, "constraint on missing value")
	set := s.Constraints(v).With(c)
	other := s.clone()
	other.constraints = s.constraints.Set(v, set)
	return other
}

// TrySetConstraint commits tag c on v and returns the refined states.
//
// The result is empty when c contradicts an existing tag in its domain: the
// path is infeasible and the caller must not explore it. Otherwise the tag
// is recorded and, when v is a composite value, propagated through its
// structure; case splits on composites (a false conjunction, a true
// disjunction, either xor outcome) yield two mutually exclusive states.
func (s *State) TrySetConstraint(v Value, c Constraint) []*State {
	assert(v != NoValue, "constraint on missing value")
	set := s.Constraints(v)
	if set.Has(c) {
		return []*State{s}
	}
	if set.HasDomain(c.Domain()) {
		return nil
	}
	return s.SetConstraint(v, c).propagate(v, c)
}

// propagate infers operand constraints from tag c freshly committed on the
// composite value v.
func (s *State) propagate(v Value, c Constraint) []*State {
	op := s.arena.Op(v)
	x, y := s.arena.Operands(v)

	switch op {
	case OpNot:
		if c.Domain() == DomainBool {
			return s.TrySetConstraint(x, c.Negate())
		}

	case OpNullable:
		// Truth of the wrapper is truth of the wrapped value; nullness
		// stays on the wrapper.
		if c.Domain() == DomainBool {
			return s.TrySetConstraint(x, c)
		}

	case OpAnd:
		switch c {
		case BoolTrue:
			return s.trySetPair(x, BoolTrue, y, BoolTrue)
		case BoolFalse:
			return append(s.TrySetConstraint(x, BoolFalse), s.trySetPair(x, BoolTrue, y, BoolFalse)...)
		}

	case OpOr:
		switch c {
		case BoolTrue:
			return append(s.TrySetConstraint(x, BoolTrue), s.trySetPair(x, BoolFalse, y, BoolTrue)...)
		case BoolFalse:
			return s.trySetPair(x, BoolFalse, y, BoolFalse)
		}

	case OpXor:
		switch c {
		case BoolTrue:
			return append(s.trySetPair(x, BoolTrue, y, BoolFalse), s.trySetPair(x, BoolFalse, y, BoolTrue)...)
		case BoolFalse:
			return append(s.trySetPair(x, BoolTrue, y, BoolTrue), s.trySetPair(x, BoolFalse, y, BoolFalse)...)
		}

	case OpValueEquals, OpReferenceEquals:
		switch c {
		case BoolTrue:
			return s.propagateEquality(x, y)
		case BoolFalse:
			return s.propagateInequality(x, y)
		}

	case OpValueNotEquals, OpReferenceNotEquals:
		switch c {
		case BoolTrue:
			return s.propagateInequality(x, y)
		case BoolFalse:
			return s.propagateEquality(x, y)
		}
	}

	return []*State{s}
}

// trySetPair commits cx on x and then cy on y in every surviving state.
func (s *State) trySetPair(x Value, cx Constraint, y Value, cy Constraint) []*State {
	var out []*State
	for _, st := range s.TrySetConstraint(x, cx) {
		out = append(out, st.TrySetConstraint(y, cy)...)
	}
	return out
}

// propagateEquality shares known nullness between two operands proven equal.
func (s *State) propagateEquality(x, y Value) []*State {
	states := []*State{s}
	step := func(v Value, c Constraint) {
		var next []*State
		for _, st := range states {
			next = append(next, st.TrySetConstraint(v, c)...)
		}
		states = next
	}

	if xs := s.Constraints(x); xs.Has(Null) {
		step(y, Null)
	} else if xs.Has(NotNull) {
		step(y, NotNull)
	}
	if ys := s.Constraints(y); ys.Has(Null) {
		step(x, Null)
	} else if ys.Has(NotNull) {
		step(x, NotNull)
	}
	return states
}

// propagateInequality narrows a value compared unequal to a known null.
func (s *State) propagateInequality(x, y Value) []*State {
	states := []*State{s}
	step := func(v Value, c Constraint) {
		var next []*State
		for _, st := range states {
			next = append(next, st.TrySetConstraint(v, c)...)
		}
		states = next
	}

	if s.Constraints(x).Has(Null) {
		step(y, NotNull)
	}
	if s.Constraints(y).Has(Null) {
		step(x, NotNull)
	}
	return states
}

// VisitCount returns the number of times pt has been visited on this path.
func (s *State) VisitCount(pt Point) int {
	if raw, ok := s.visits.Get(pt); ok {
		return raw.(int)
	}
	return 0
}

// IncrementVisitCount returns a state with pt's visit count incremented.
func (s *State) IncrementVisitCount(pt Point) *State {
	other := s.clone()
	other.visits = s.visits.Set(pt, s.VisitCount(pt)+1)
	return other
}

// reachable returns the closure of values referenced from the stack and the
// symbol map, following composite operands.
func (s *State) reachable() map[Value]struct{} {
	seen := make(map[Value]struct{})
	var visit func(v Value)
	visit = func(v Value) {
		if v == NoValue {
			return
		}
		if _, ok := seen[v]; ok {
			return
		}
		seen[v] = struct{}{}
		x, y := s.arena.Operands(v)
		visit(x)
		visit(y)
	}

	for i := 0; i < s.stack.Len(); i++ {
		visit(s.stack.Get(i).(Value))
	}
	for itr := s.symbols.Iterator(); !itr.Done(); {
		_, v := itr.Next()
		visit(v.(Value))
	}
	return seen
}

// Clean returns a state without constraint entries for values no longer
// reachable from the stack or the symbol map. Keeping states minimal stops
// structurally irrelevant differences from defeating deduplication.
func (s *State) Clean() *State {
	r := s.reachable()
	constraints := s.constraints
	for itr := s.constraints.Iterator(); !itr.Done(); {
		k, _ := itr.Next()
		v := k.(Value)
		if _, ok := r[v]; ok || v.IsSingleton() {
			continue
		}
		constraints = constraints.Delete(k)
	}
	if constraints == s.constraints {
		return s
	}
	other := s.clone()
	other.constraints = constraints
	return other
}

// Equal reports structural equality of two states. Constraint maps are
// compared over the values actually reachable from the stack and symbol map,
// not over leftover garbage entries.
func (s *State) Equal(o *State) bool {
	if s == o {
		return true
	}
	if s.stack.Len() != o.stack.Len() || s.symbols.Len() != o.symbols.Len() || s.visits.Len() != o.visits.Len() {
		return false
	}

	for i := 0; i < s.stack.Len(); i++ {
		if s.stack.Get(i).(Value) != o.stack.Get(i).(Value) {
			return false
		}
	}
	for itr := s.symbols.Iterator(); !itr.Done(); {
		k, v := itr.Next()
		if ov, ok := o.symbols.Get(k); !ok || ov.(Value) != v.(Value) {
			return false
		}
	}
	for itr := s.visits.Iterator(); !itr.Done(); {
		k, v := itr.Next()
		if ov, ok := o.visits.Get(k); !ok || ov.(int) != v.(int) {
			return false
		}
	}
	for v := range s.reachable() {
		if s.Constraints(v) != o.Constraints(v) {
			return false
		}
	}
	return true
}

// Hash returns a hash over the stack, symbol bindings and visit counts.
// States that are Equal hash identically; constraint sets are left to the
// Equal check within a hash bucket.
func (s *State) Hash() uint32 {
	h := uint32(2166136261)
	mix := func(x uint32) {
		h ^= x
		h *= 16777619
	}

	for i := 0; i < s.stack.Len(); i++ {
		mix(uint32(s.stack.Get(i).(Value)))
	}

	// Map iteration order is unspecified, so fold pairs commutatively.
	var acc uint32
	for itr := s.symbols.Iterator(); !itr.Done(); {
		k, v := itr.Next()
		acc ^= uint32(k.(Symbol))*31 + uint32(v.(Value))
	}
	mix(acc)

	acc = 0
	for itr := s.visits.Iterator(); !itr.Done(); {
		k, v := itr.Next()
		pt := k.(Point)
		acc ^= (uint32(pt.Block)*31+uint32(pt.Offset))*31 + uint32(v.(int))
	}
	mix(acc)

	return h
}

// Dump returns the contents of the state as a string.
func (s *State) Dump() string {
	var buf bytes.Buffer

	fmt.Fprintln(&buf, "PROGRAM STATE")
	fmt.Fprintln(&buf, "=============")

	fmt.Fprintln(&buf, "== STACK (top first)")
	for i := 0; i < s.stack.Len(); i++ {
		fmt.Fprintf(&buf, "%d. %s\n", i, s.arena.String(s.PeekValue(i)))
	}

	fmt.Fprintln(&buf, "== SYMBOLS")
	type binding struct {
		sym Symbol
		v   Value
	}
	var bindings []binding
	for itr := s.symbols.Iterator(); !itr.Done(); {
		k, v := itr.Next()
		bindings = append(bindings, binding{k.(Symbol), v.(Value)})
	}
	sort.Slice(bindings, func(i, j int) bool { return bindings[i].sym < bindings[j].sym })
	for _, b := range bindings {
		fmt.Fprintf(&buf, "sym%d = %s %s\n", b.sym, s.arena.String(b.v), s.Constraints(b.v))
	}

	fmt.Fprintln(&buf, "== CONSTRAINTS")
	var values []Value
	for v := range s.reachable() {
		if !s.Constraints(v).Empty() {
			values = append(values, v)
		}
	}
	sort.Slice(values, func(i, j int) bool { return values[i] < values[j] })
	for _, v := range values {
		fmt.Fprintf(&buf, "%s %s\n", s.arena.String(v), s.Constraints(v))
	}

	return buf.String()
}

// symbolHasher implements immutable.Hasher for Symbol keys.
type symbolHasher struct{}

func (symbolHasher) Hash(key interface{}) uint32 {
	return hashUint32(uint32(key.(Symbol)))
}

func (symbolHasher) Equal(a, b interface{}) bool {
	return a.(Symbol) == b.(Symbol)
}

// valueHasher implements immutable.Hasher for Value keys.
type valueHasher struct{}

func (valueHasher) Hash(key interface{}) uint32 {
	return hashUint32(uint32(key.(Value)))
}

func (valueHasher) Equal(a, b interface{}) bool {
	return a.(Value) == b.(Value)
}

// pointHasher implements immutable.Hasher for Point keys.
type pointHasher struct{}

func (pointHasher) Hash(key interface{}) uint32 {
	pt := key.(Point)
	return hashUint32(uint32(pt.Block)*31 ^ uint32(pt.Offset))
}

func (pointHasher) Equal(a, b interface{}) bool {
	return a.(Point) == b.(Point)
}

func hashUint32(v uint32) uint32 {
	h := uint32(2166136261)
	for i := 0; i < 4; i++ {
		h ^= (v >> (8 * i)) & 0xff
		h *= 16777619
	}
	return h
}
