package symflow

import (
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestState_Stack(t *testing.T) {
	a := NewArena()
	s0 := NewState(a)
	x, y := a.NewValue(), a.NewValue()

	s1 := s0.PushValue(x).PushValue(y)
	if got, exp := s1.StackSize(), 2; got != exp {
		t.Fatalf("size=%d, expected %d", got, exp)
	}
	if got, exp := s1.PeekValue(0), y; got != exp {
		t.Fatalf("top=%d, expected %d", got, exp)
	}
	if got, exp := s1.PeekValue(1), x; got != exp {
		t.Fatalf("below=%d, expected %d", got, exp)
	}

	s2, v := s1.PopValue()
	if v != y {
		t.Fatalf("popped=%d, expected %d", v, y)
	}

	// Derivation must not disturb predecessors.
	if got, exp := s0.StackSize(), 0; got != exp {
		t.Fatalf("size=%d, expected %d", got, exp)
	}
	if got, exp := s1.StackSize(), 2; got != exp {
		t.Fatalf("size=%d, expected %d", got, exp)
	}
	if got, exp := s2.StackSize(), 1; got != exp {
		t.Fatalf("size=%d, expected %d", got, exp)
	}
}

func TestState_Symbols(t *testing.T) {
	a := NewArena()
	s := NewState(a)
	x, y := a.NewValue(), a.NewValue()

	s = s.StoreSymbolicValue(1, x).StoreSymbolicValue(2, y)
	if v, ok := s.GetSymbolValue(1); !ok || v != x {
		t.Fatalf("value=%d,%v, expected %d", v, ok, x)
	}

	t.Run("Rebind", func(t *testing.T) {
		s := s.StoreSymbolicValue(1, y)
		if v, _ := s.GetSymbolValue(1); v != y {
			t.Fatalf("value=%d, expected %d", v, y)
		}
	})

	t.Run("Remove", func(t *testing.T) {
		s := s.RemoveSymbols(func(sym Symbol) bool { return sym == 1 })
		if _, ok := s.GetSymbolValue(1); ok {
			t.Fatal("expected binding removed")
		}
		if _, ok := s.GetSymbolValue(2); !ok {
			t.Fatal("unexpected binding removed")
		}
	})

	t.Run("RemoveNone", func(t *testing.T) {
		if got := s.RemoveSymbols(func(Symbol) bool { return false }); got != s {
			t.Fatal("expected same state when nothing matches")
		}
	})
}

func TestState_TrySetConstraint(t *testing.T) {
	t.Run("Fresh", func(t *testing.T) {
		a := NewArena()
		v := a.NewValue()
		states := NewState(a).TrySetConstraint(v, NotNull)
		if got, exp := len(states), 1; got != exp {
			t.Fatalf("n=%d, expected %d", got, exp)
		}
		if !states[0].HasConstraint(v, NotNull) {
			t.Fatal("expected notnull")
		}
	})

	t.Run("Redundant", func(t *testing.T) {
		a := NewArena()
		v := a.NewValue()
		s := NewState(a).SetConstraint(v, NotNull)
		states := s.TrySetConstraint(v, NotNull)
		if len(states) != 1 || states[0] != s {
			t.Fatalf("expected same state back, got %d states", len(states))
		}
	})

	t.Run("Contradiction", func(t *testing.T) {
		a := NewArena()
		v := a.NewValue()
		s := NewState(a).SetConstraint(v, BoolTrue)
		if states := s.TrySetConstraint(v, BoolFalse); len(states) != 0 {
			t.Fatalf("n=%d, expected infeasible", len(states))
		}
	})

	t.Run("OtherDomainUnaffected", func(t *testing.T) {
		a := NewArena()
		v := a.NewValue()
		s := NewState(a).SetConstraint(v, NotNull)
		states := s.TrySetConstraint(v, Disposed)
		if len(states) != 1 {
			t.Fatalf("n=%d, expected 1", len(states))
		}
		if set := states[0].Constraints(v); !set.Has(NotNull) || !set.Has(Disposed) {
			t.Fatalf("set=%s, expected notnull and disposed", set)
		}
	})
}

func TestState_TrySetConstraint_Propagation(t *testing.T) {
	t.Run("NotFlipsOperand", func(t *testing.T) {
		a := NewArena()
		x := a.NewValue()
		v := a.Not(x)
		states := NewState(a).TrySetConstraint(v, BoolTrue)
		if len(states) != 1 {
			t.Fatalf("n=%d, expected 1", len(states))
		}
		if !states[0].HasConstraint(x, BoolFalse) {
			t.Fatal("expected operand false")
		}
	})

	t.Run("AndFalseSplits", func(t *testing.T) {
		a := NewArena()
		x, y := a.NewValue(), a.NewValue()
		v := a.Binary(OpAnd, x, y)
		states := NewState(a).TrySetConstraint(v, BoolFalse)
		if got, exp := len(states), 2; got != exp {
			t.Fatalf("n=%d, expected %d", got, exp)
		}
		// Case 1: the left operand is false.
		if !states[0].HasConstraint(x, BoolFalse) {
			t.Fatal("expected x false in first case")
		}
		// Case 2: the left operand is true and the right one false. The
		// cases are mutually exclusive, never a plain disjunction.
		if !states[1].HasConstraint(x, BoolTrue) || !states[1].HasConstraint(y, BoolFalse) {
			t.Fatal("expected x true, y false in second case")
		}
	})

	t.Run("AndTrueForcesBoth", func(t *testing.T) {
		a := NewArena()
		x, y := a.NewValue(), a.NewValue()
		v := a.Binary(OpAnd, x, y)
		states := NewState(a).TrySetConstraint(v, BoolTrue)
		if len(states) != 1 {
			t.Fatalf("n=%d, expected 1", len(states))
		}
		if !states[0].HasConstraint(x, BoolTrue) || !states[0].HasConstraint(y, BoolTrue) {
			t.Fatal("expected both operands true")
		}
	})

	t.Run("OrTrueSplits", func(t *testing.T) {
		a := NewArena()
		x, y := a.NewValue(), a.NewValue()
		v := a.Binary(OpOr, x, y)
		states := NewState(a).TrySetConstraint(v, BoolTrue)
		if got, exp := len(states), 2; got != exp {
			t.Fatalf("n=%d, expected %d", got, exp)
		}
		if !states[0].HasConstraint(x, BoolTrue) {
			t.Fatal("expected x true in first case")
		}
		if !states[1].HasConstraint(x, BoolFalse) || !states[1].HasConstraint(y, BoolTrue) {
			t.Fatal("expected x false, y true in second case")
		}
	})

	t.Run("XorTrueSplits", func(t *testing.T) {
		a := NewArena()
		x, y := a.NewValue(), a.NewValue()
		v := a.Binary(OpXor, x, y)
		states := NewState(a).TrySetConstraint(v, BoolTrue)
		if got, exp := len(states), 2; got != exp {
			t.Fatalf("n=%d, expected %d", got, exp)
		}
	})

	t.Run("SplitPrunesInfeasibleCase", func(t *testing.T) {
		a := NewArena()
		x, y := a.NewValue(), a.NewValue()
		v := a.Binary(OpAnd, x, y)
		s := NewState(a).SetConstraint(x, BoolTrue)
		states := s.TrySetConstraint(v, BoolFalse)
		if got, exp := len(states), 1; got != exp {
			t.Fatalf("n=%d, expected %d", got, exp)
		}
		if !states[0].HasConstraint(y, BoolFalse) {
			t.Fatal("expected y false")
		}
	})

	t.Run("EqualitySharesNullness", func(t *testing.T) {
		a := NewArena()
		x := a.NewValue()
		v := a.Binary(OpValueEquals, x, ValueNull)
		states := NewState(a).TrySetConstraint(v, BoolTrue)
		if len(states) != 1 {
			t.Fatalf("n=%d, expected 1", len(states))
		}
		if !states[0].HasConstraint(x, Null) {
			t.Fatal("expected x null")
		}
	})

	t.Run("InequalityNarrowsAgainstNull", func(t *testing.T) {
		a := NewArena()
		x := a.NewValue()
		v := a.Binary(OpValueEquals, x, ValueNull)
		states := NewState(a).TrySetConstraint(v, BoolFalse)
		if len(states) != 1 {
			t.Fatalf("n=%d, expected 1", len(states))
		}
		if !states[0].HasConstraint(x, NotNull) {
			t.Fatal("expected x notnull")
		}
	})
}

func TestState_VisitCount(t *testing.T) {
	s := NewState(NewArena())
	pt := Point{Block: 3, Offset: 1}
	if got, exp := s.VisitCount(pt), 0; got != exp {
		t.Fatalf("count=%d, expected %d", got, exp)
	}
	s = s.IncrementVisitCount(pt).IncrementVisitCount(pt)
	if got, exp := s.VisitCount(pt), 2; got != exp {
		t.Fatalf("count=%d, expected %d", got, exp)
	}
	if got, exp := s.VisitCount(Point{Block: 3}), 0; got != exp {
		t.Fatalf("count=%d, expected %d", got, exp)
	}
}

func TestState_Clean(t *testing.T) {
	a := NewArena()
	reachable, garbage := a.NewValue(), a.NewValue()

	s := NewState(a).
		StoreSymbolicValue(1, reachable).
		SetConstraint(reachable, NotNull).
		SetConstraint(garbage, Disposed)

	s = s.Clean()
	if !s.HasConstraint(reachable, NotNull) {
		t.Fatal("reachable constraint must survive")
	}
	if !s.Constraints(garbage).Empty() {
		t.Fatal("unreachable constraint must be dropped")
	}
}

func TestState_Dump(t *testing.T) {
	a := NewArena()
	v := a.NewValue()
	s := NewState(a).
		StoreSymbolicValue(1, v).
		SetConstraint(v, NotNull).
		PushValue(ValueNull)

	exp := strings.Join([]string{
		"PROGRAM STATE",
		"=============",
		"== STACK (top first)",
		"0. null",
		"== SYMBOLS",
		"sym1 = v6 {notnull}",
		"== CONSTRAINTS",
		"null {null}",
		"v6 {notnull}",
		"",
	}, "\n")
	if diff := cmp.Diff(exp, s.Dump()); diff != "" {
		t.Fatalf("dump mismatch (-exp +got):\n%s", diff)
	}
}

func TestState_Equal(t *testing.T) {
	build := func(a *Arena, v Value) *State {
		return NewState(a).PushValue(v).StoreSymbolicValue(1, v).SetConstraint(v, NotNull)
	}

	t.Run("Equal", func(t *testing.T) {
		a := NewArena()
		v := a.NewValue()
		s0, s1 := build(a, v), build(a, v)
		if !s0.Equal(s1) {
			t.Fatal("expected equal states")
		}
		if s0.Hash() != s1.Hash() {
			t.Fatal("equal states must hash identically")
		}
	})

	t.Run("DifferentStack", func(t *testing.T) {
		a := NewArena()
		v := a.NewValue()
		s0 := build(a, v)
		if s0.Equal(s0.PushValue(v)) {
			t.Fatal("expected unequal states")
		}
	})

	t.Run("DifferentConstraints", func(t *testing.T) {
		a := NewArena()
		v := a.NewValue()
		s0 := build(a, v)
		if s0.Equal(build(a, v).SetConstraint(v, Disposed)) {
			t.Fatal("expected unequal states")
		}
	})

	t.Run("DifferentVisits", func(t *testing.T) {
		a := NewArena()
		v := a.NewValue()
		s0 := build(a, v)
		if s0.Equal(build(a, v).IncrementVisitCount(Point{})) {
			t.Fatal("expected unequal states")
		}
	})

	t.Run("GarbageInsensitive", func(t *testing.T) {
		a := NewArena()
		v, garbage := a.NewValue(), a.NewValue()
		s0 := build(a, v)
		s1 := build(a, v).SetConstraint(garbage, Disposed)
		if !s0.Equal(s1) {
			t.Fatal("unreachable constraints must not affect equality")
		}
	})
}
