package symflow

import "testing"

// node builds a decorator-visible node around a pre-instruction state.
func node(in *Instr, pre *State) *Node {
	return &Node{State: pre, instr: in}
}

func nodeWithResult(in *Instr, pre *State, result Value) *Node {
	n := node(in, pre)
	n.result, n.hasResult = result, true
	return n
}

func TestObjectNullnessDecorator(t *testing.T) {
	t.Run("DereferenceImpliesNotNull", func(t *testing.T) {
		a := NewArena()
		recv := a.NewValue()
		pre := NewState(a).PushValue(recv)
		n := node(&Instr{Kind: InstrMember, Member: "f"}, pre)

		s := ObjectNullnessDecorator{}.PreProcess(n, pre)
		if !s.HasConstraint(recv, NotNull) {
			t.Fatal("expected receiver notnull")
		}
	})

	t.Run("KnownNullnessKept", func(t *testing.T) {
		a := NewArena()
		recv := a.NewValue()
		pre := NewState(a).SetConstraint(recv, Null).PushValue(recv)
		n := node(&Instr{Kind: InstrMember, Member: "f"}, pre)

		// The decorator never overrides knowledge; flagging a null
		// dereference is the rules' business.
		s := ObjectNullnessDecorator{}.PreProcess(n, pre)
		if !s.HasConstraint(recv, Null) {
			t.Fatal("expected receiver to stay null")
		}
	})

	t.Run("InvokeWithoutReceiver", func(t *testing.T) {
		a := NewArena()
		pre := NewState(a)
		n := node(&Instr{Kind: InstrInvoke, Member: "F"}, pre)
		if got := (ObjectNullnessDecorator{}).PreProcess(n, pre); got != pre {
			t.Fatal("static call must not touch the state")
		}
	})

	t.Run("NewIsNotNull", func(t *testing.T) {
		a := NewArena()
		v := a.NewValue()
		pre := NewState(a)
		n := nodeWithResult(&Instr{Kind: InstrNew}, pre, v)

		s := ObjectNullnessDecorator{}.PostProcess(n, pre.PushValue(v))
		if !s.HasConstraint(v, NotNull) {
			t.Fatal("expected created object notnull")
		}
	})
}

func TestNullableDecorator(t *testing.T) {
	a := NewArena()
	wrapper := a.Nullable(a.NewValue())
	pre := NewState(a)
	n := nodeWithResult(&Instr{Kind: InstrStore, Sym: 1, WrapNullable: true}, pre, wrapper)

	s := NullableDecorator{}.PostProcess(n, pre.PushValue(wrapper))
	if !s.HasConstraint(wrapper, NotNull) {
		t.Fatal("expected wrapper notnull")
	}
}

func TestBooleanDecorator(t *testing.T) {
	t.Run("EqualityDecidedByNullness", func(t *testing.T) {
		a := NewArena()
		x := a.NewValue()
		pre := NewState(a).SetConstraint(x, Null).PushValue(x).PushValue(ValueNull)
		result := a.Binary(OpValueEquals, x, ValueNull)
		n := nodeWithResult(&Instr{Kind: InstrEquals}, pre, result)

		s := BooleanDecorator{}.PostProcess(n, pre.PopValues(2).PushValue(result))
		if !s.HasConstraint(result, BoolTrue) {
			t.Fatal("expected comparison decided true")
		}
	})

	t.Run("InequalityInverts", func(t *testing.T) {
		a := NewArena()
		x := a.NewValue()
		pre := NewState(a).SetConstraint(x, NotNull).PushValue(x).PushValue(ValueNull)
		result := a.Binary(OpValueNotEquals, x, ValueNull)
		n := nodeWithResult(&Instr{Kind: InstrNotEquals}, pre, result)

		s := BooleanDecorator{}.PostProcess(n, pre.PopValues(2).PushValue(result))
		if !s.HasConstraint(result, BoolTrue) {
			t.Fatal("expected comparison decided true")
		}
	})

	t.Run("IdentityEquality", func(t *testing.T) {
		a := NewArena()
		x := a.NewValue()
		pre := NewState(a).PushValue(x).PushValue(x)
		result := a.Binary(OpReferenceEquals, x, x)
		n := nodeWithResult(&Instr{Kind: InstrRefEquals}, pre, result)

		s := BooleanDecorator{}.PostProcess(n, pre.PopValues(2).PushValue(result))
		if !s.HasConstraint(result, BoolTrue) {
			t.Fatal("expected identity comparison decided true")
		}
	})

	t.Run("UndecidedLeftAlone", func(t *testing.T) {
		a := NewArena()
		x, y := a.NewValue(), a.NewValue()
		pre := NewState(a).PushValue(x).PushValue(y)
		result := a.Binary(OpValueEquals, x, y)
		n := nodeWithResult(&Instr{Kind: InstrEquals}, pre, result)

		s := BooleanDecorator{}.PostProcess(n, pre.PopValues(2).PushValue(result))
		if s.Constraints(result).HasDomain(DomainBool) {
			t.Fatal("undecided comparison must stay unconstrained")
		}
	})

	t.Run("SelfOrdering", func(t *testing.T) {
		a := NewArena()
		x := a.NewValue()
		pre := NewState(a).PushValue(x).PushValue(x)

		le := a.Binary(OpLessOrEqual, x, x)
		n := nodeWithResult(&Instr{Kind: InstrLessOrEqual}, pre, le)
		if s := (BooleanDecorator{}).PostProcess(n, pre.PopValues(2).PushValue(le)); !s.HasConstraint(le, BoolTrue) {
			t.Fatal("x <= x must be true")
		}

		lt := a.Binary(OpLess, x, x)
		n = nodeWithResult(&Instr{Kind: InstrLess}, pre, lt)
		if s := (BooleanDecorator{}).PostProcess(n, pre.PopValues(2).PushValue(lt)); !s.HasConstraint(lt, BoolFalse) {
			t.Fatal("x < x must be false")
		}
	})
}

func TestCollectionDecorator(t *testing.T) {
	t.Run("NewCollectionIsEmpty", func(t *testing.T) {
		a := NewArena()
		v := a.NewValue()
		pre := NewState(a)
		n := nodeWithResult(&Instr{Kind: InstrNewCollection}, pre, v)
		if s := (CollectionDecorator{}).PostProcess(n, pre.PushValue(v)); !s.HasConstraint(v, Empty) {
			t.Fatal("expected new collection empty")
		}
	})

	t.Run("AddMakesNotEmpty", func(t *testing.T) {
		a := NewArena()
		recv, arg := a.NewValue(), a.NewValue()
		pre := NewState(a).SetConstraint(recv, Empty).PushValue(recv).PushValue(arg)
		in := &Instr{Kind: InstrInvoke, Member: "Add", Arity: 1, HasRecv: true}
		n := nodeWithResult(in, pre, a.NewValue())

		s := CollectionDecorator{}.PostProcess(n, pre.PopValues(2))
		if !s.HasConstraint(recv, NotEmpty) {
			t.Fatal("expected receiver notempty after Add")
		}
	})

	t.Run("ClearMakesEmpty", func(t *testing.T) {
		a := NewArena()
		recv := a.NewValue()
		pre := NewState(a).SetConstraint(recv, NotEmpty).PushValue(recv)
		in := &Instr{Kind: InstrInvoke, Member: "Clear", HasRecv: true}
		n := nodeWithResult(in, pre, a.NewValue())

		s := CollectionDecorator{}.PostProcess(n, pre.PopValues(1))
		if !s.HasConstraint(recv, Empty) {
			t.Fatal("expected receiver empty after Clear")
		}
	})
}

func TestDisposableDecorator(t *testing.T) {
	t.Run("NewIsNotDisposed", func(t *testing.T) {
		a := NewArena()
		v := a.NewValue()
		pre := NewState(a)
		n := nodeWithResult(&Instr{Kind: InstrNew}, pre, v)
		if s := (DisposableDecorator{}).PostProcess(n, pre.PushValue(v)); !s.HasConstraint(v, NotDisposed) {
			t.Fatal("expected new object notdisposed")
		}
	})

	t.Run("DisposeTransitions", func(t *testing.T) {
		a := NewArena()
		recv := a.NewValue()
		pre := NewState(a).SetConstraint(recv, NotDisposed).PushValue(recv)
		in := &Instr{Kind: InstrInvoke, Member: "Dispose", HasRecv: true}
		n := nodeWithResult(in, pre, a.NewValue())

		s := DisposableDecorator{}.PostProcess(n, pre.PopValues(1))
		if !s.HasConstraint(recv, Disposed) {
			t.Fatal("expected receiver disposed")
		}
	})
}

// Ensure the default pipeline order is stable; rules rely on every domain
// being present.
func TestDefaultDecorators(t *testing.T) {
	ds := DefaultDecorators()
	if got, exp := len(ds), 5; got != exp {
		t.Fatalf("n=%d, expected %d", got, exp)
	}
	if _, ok := ds[0].(ObjectNullnessDecorator); !ok {
		t.Fatalf("first decorator=%T, expected object nullness", ds[0])
	}
}
