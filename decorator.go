package symflow

// Decorator is one constraint-domain module of the pipeline wrapped around
// instruction processing. PreProcess runs before the operation visitor and
// may seed default constraints; PostProcess runs after it and may infer new
// constraints from the instruction's effect. Decorators are stateless: all
// context arrives through the node and the state.
//
// The walker applies decorators in a fixed order (object nullness, nullable
// value type, boolean, collection, disposable). Domains are orthogonal, so
// the order must not affect the final constraint sets.
type Decorator interface {
	PreProcess(n *Node, s *State) *State
	PostProcess(n *Node, s *State) *State
}

// DefaultDecorators returns the standard decorator pipeline in its fixed
// order.
func DefaultDecorators() []Decorator {
	return []Decorator{
		ObjectNullnessDecorator{},
		NullableDecorator{},
		BooleanDecorator{},
		CollectionDecorator{},
		DisposableDecorator{},
	}
}

// refine commits tag c on v when it does not contradict existing knowledge;
// contradictions leave the state untouched (flagging them is the rules'
// business, not the decorators').
func refine(s *State, v Value, c Constraint) *State {
	if states := s.TrySetConstraint(v, c); len(states) > 0 {
		return states[0]
	}
	return s
}

// recvValue returns the receiver value of a member or invoke instruction as
// seen on the pre-instruction stack: below the arguments.
func recvValue(in *Instr, pre *State) Value {
	return pre.PeekValue(in.Arity)
}

// ObjectNullnessDecorator tracks the Null/NotNull domain for reference
// values.
type ObjectNullnessDecorator struct{}

// PreProcess refines an unconstrained receiver to NotNull before a direct
// dereference: execution only continues past the access when the receiver
// was not null.
func (ObjectNullnessDecorator) PreProcess(n *Node, s *State) *State {
	in := n.Instr()
	switch in.Kind {
	case InstrMember, InstrInvoke:
		if in.Kind == InstrInvoke && !in.HasRecv {
			return s
		}
		recv := recvValue(in, s)
		if !s.Constraints(recv).HasDomain(DomainNull) {
			s = s.SetConstraint(recv, NotNull)
		}
	}
	return s
}

// PostProcess marks freshly constructed objects as NotNull.
func (ObjectNullnessDecorator) PostProcess(n *Node, s *State) *State {
	switch n.Instr().Kind {
	case InstrNew, InstrNewCollection:
		if v, ok := n.Result(); ok {
			s = s.SetConstraint(v, NotNull)
		}
	}
	return s
}

// NullableDecorator tracks nullable value types: a wrapper produced by
// storing a plain value into a nullable slot holds a value and is NotNull.
type NullableDecorator struct{}

func (NullableDecorator) PreProcess(n *Node, s *State) *State { return s }

func (NullableDecorator) PostProcess(n *Node, s *State) *State {
	in := n.Instr()
	if in.Kind == InstrStore && in.WrapNullable {
		if v, ok := n.Result(); ok {
			s = s.SetConstraint(v, NotNull)
		}
	}
	return s
}

// BooleanDecorator infers boolean truth of comparison results whose outcome
// is already decided by the operands' constraints.
type BooleanDecorator struct{}

func (BooleanDecorator) PreProcess(n *Node, s *State) *State { return s }

func (BooleanDecorator) PostProcess(n *Node, s *State) *State {
	in := n.Instr()
	v, ok := n.Result()
	if !ok {
		return s
	}

	switch in.Kind {
	case InstrEquals, InstrRefEquals, InstrNotEquals, InstrRefNotEquals:
		right := n.State.PeekValue(0)
		left := n.State.PeekValue(1)
		outcome, decided := decideEquality(n.State, left, right)
		if !decided {
			return s
		}
		if in.Kind == InstrNotEquals || in.Kind == InstrRefNotEquals {
			outcome = !outcome
		}
		if outcome {
			return refine(s, v, BoolTrue)
		}
		return refine(s, v, BoolFalse)

	case InstrLess, InstrLessOrEqual, InstrGreater, InstrGreaterOrEqual:
		// A value ordered against itself decides without a numeric domain.
		if n.State.PeekValue(0) != n.State.PeekValue(1) {
			return s
		}
		if in.Kind == InstrLessOrEqual || in.Kind == InstrGreaterOrEqual {
			return refine(s, v, BoolTrue)
		}
		return refine(s, v, BoolFalse)
	}
	return s
}

// decideEquality reports whether equality of left and right is already
// decided by identity or by the nullness domain.
func decideEquality(s *State, left, right Value) (outcome, decided bool) {
	if left == right {
		return true, true
	}
	ls, rs := s.Constraints(left), s.Constraints(right)
	switch {
	case ls.Has(Null) && rs.Has(Null):
		return true, true
	case ls.Has(Null) && rs.Has(NotNull), ls.Has(NotNull) && rs.Has(Null):
		return false, true
	}
	return false, false
}

// CollectionDecorator tracks the Empty/NotEmpty domain.
type CollectionDecorator struct{}

func (CollectionDecorator) PreProcess(n *Node, s *State) *State { return s }

func (CollectionDecorator) PostProcess(n *Node, s *State) *State {
	in := n.Instr()
	switch in.Kind {
	case InstrNewCollection:
		if v, ok := n.Result(); ok {
			s = s.SetConstraint(v, Empty)
		}
	case InstrInvoke:
		if !in.HasRecv {
			return s
		}
		switch in.Member {
		case "Add", "Push", "Enqueue", "Insert":
			s = s.SetConstraint(recvValue(in, n.State), NotEmpty)
		case "Clear":
			s = s.SetConstraint(recvValue(in, n.State), Empty)
		}
	}
	return s
}

// DisposableDecorator tracks the Disposed/NotDisposed domain.
type DisposableDecorator struct{}

func (DisposableDecorator) PreProcess(n *Node, s *State) *State { return s }

func (DisposableDecorator) PostProcess(n *Node, s *State) *State {
	in := n.Instr()
	switch in.Kind {
	case InstrNew:
		if v, ok := n.Result(); ok {
			s = s.SetConstraint(v, NotDisposed)
		}
	case InstrInvoke:
		if in.HasRecv && (in.Member == "Dispose" || in.Member == "Close") {
			s = s.SetConstraint(recvValue(in, n.State), Disposed)
		}
	}
	return s
}
