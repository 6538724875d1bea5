package symflow

import "fmt"

// visitInstr applies one instruction's stack effect to s and returns the
// resulting state together with the produced value, if any. Every modeled
// instruction kind has a deterministic stack effect; an unlisted kind is a
// fatal engine defect and surfaces as an error, never as a silently
// corrupted stack.
func (w *Walker) visitInstr(in *Instr, pt Point, s *State) (_ *State, result Value, hasResult bool, err error) {
	switch in.Kind {
	case InstrNop:
		// A pass-through produces no value of its own, but in a discard
		// context it still pops the value it passes through.
		if in.Discarded {
			s, _ = s.PopValue()
		}
		return s, NoValue, false, nil

	case InstrLiteral:
		v := w.constValue(in.Const)
		s = s.PushValue(v)
		return w.discard(in, s, v)

	case InstrFresh, InstrNew, InstrNewCollection:
		s = s.PopValues(in.Arity)
		v := w.arena.NewValue()
		s = s.PushValue(v)
		return w.discard(in, s, v)

	case InstrNot:
		s, x := s.PopValue()
		v := w.arena.Not(x)
		s = s.PushValue(v)
		return w.discard(in, s, v)

	case InstrAnd, InstrOr, InstrXor,
		InstrEquals, InstrNotEquals, InstrRefEquals, InstrRefNotEquals,
		InstrLess, InstrLessOrEqual, InstrGreater, InstrGreaterOrEqual:
		// Evaluation order is stack order: right on top.
		s, right := s.PopValue()
		s, left := s.PopValue()
		v := w.arena.Binary(binaryOp(in.Kind, &left, &right), left, right)
		s = s.PushValue(v)
		return w.discard(in, s, v)

	case InstrArith:
		s = s.PopValues(in.Arity)
		v := w.arena.NewValue()
		s = s.PushValue(v)
		return w.discard(in, s, v)

	case InstrLoad:
		if in.Sym == NoSymbol {
			// Unresolvable reference: untracked, fresh value.
			v := w.arena.NewValue()
			return w.discard(in, s.PushValue(v), v)
		}
		v, ok := s.GetSymbolValue(in.Sym)
		if !ok {
			v = w.seedSymbol(in.Sym)
			s = s.StoreSymbolicValue(in.Sym, v)
		}
		s = s.PushValue(v)
		return w.discard(in, s, v)

	case InstrStore:
		s, v := s.PopValue()
		if in.WrapNullable {
			v = w.arena.Nullable(v)
		}
		if in.Sym != NoSymbol {
			s = s.StoreSymbolicValue(in.Sym, v)
		}
		s = s.PushValue(v)
		return w.discard(in, s, v)

	case InstrCompound:
		s = s.PopValues(2) // right, then left
		v := w.arena.NewValue()
		if in.Sym != NoSymbol {
			s = s.StoreSymbolicValue(in.Sym, v)
		}
		s = s.PushValue(v)
		return w.discard(in, s, v)

	case InstrIncDec:
		s = s.PopValues(1)
		v := w.arena.NewValue()
		if in.Sym != NoSymbol {
			s = s.StoreSymbolicValue(in.Sym, v)
		}
		s = s.PushValue(v)
		return w.discard(in, s, v)

	case InstrMember:
		s, recv := s.PopValue()
		v, bound := NoValue, false
		if in.Sym != NoSymbol {
			if v, bound = s.GetSymbolValue(in.Sym); !bound {
				if kind, ok := w.constantValue(in.Sym); ok {
					v, bound = w.constValue(kind), true
				}
			}
		}
		if !bound {
			v = w.arena.MemberAccess(recv, in.Member)
		}
		if in.Sym != NoSymbol {
			s = s.StoreSymbolicValue(in.Sym, v)
		}
		s = s.PushValue(v)
		return w.discard(in, s, v)

	case InstrInvoke:
		handled := false
		if w.Invoker != nil {
			if s2, ok := w.Invoker.Invoke(in, pt, s); ok {
				s, handled = s2, true
			}
		}
		if !handled {
			n := in.Arity
			if in.HasRecv {
				n++
			}
			s = s.PopValues(n)
			s = s.PushValue(w.arena.NewValue())
		}
		v := s.PeekValue(0)

		// By-ref and output arguments are freshly reassigned by the call.
		for _, sym := range in.RefArgs {
			s = s.StoreSymbolicValue(sym, w.arena.NewValue())
		}
		// A call on the current instance may mutate fields through paths
		// the engine does not track.
		if in.TargetsThis && !in.Pure && w.Symbols != nil {
			s = s.RemoveSymbols(w.Symbols.IsField)
		}
		return w.discard(in, s, v)

	default:
		return nil, NoValue, false, fmt.Errorf("symflow: unmodeled instruction kind: %s", in.Kind)
	}
}

// discard implements the trailing statement-context check: a value produced
// in a discard context (expression statement, return, throw argument) is
// popped again so stack depth stays deterministic across contexts.
func (w *Walker) discard(in *Instr, s *State, v Value) (*State, Value, bool, error) {
	if in.Discarded {
		s, _ = s.PopValue()
	}
	return s, v, true, nil
}

// binaryOp maps a comparison or connective instruction kind to its composite
// operator. Greater forms normalize to Less forms with swapped operands so a
// single comparison representation suffices.
func binaryOp(kind InstrKind, left, right *Value) Op {
	switch kind {
	case InstrAnd:
		return OpAnd
	case InstrOr:
		return OpOr
	case InstrXor:
		return OpXor
	case InstrEquals:
		return OpValueEquals
	case InstrNotEquals:
		return OpValueNotEquals
	case InstrRefEquals:
		return OpReferenceEquals
	case InstrRefNotEquals:
		return OpReferenceNotEquals
	case InstrLess:
		return OpLess
	case InstrLessOrEqual:
		return OpLessOrEqual
	case InstrGreater:
		*left, *right = *right, *left // reverse
		return OpLess
	case InstrGreaterOrEqual:
		*left, *right = *right, *left // reverse
		return OpLessOrEqual
	default:
		panic("unreachable")
	}
}

// constValue returns the singleton for a known constant, or a fresh value.
func (w *Walker) constValue(kind ConstKind) Value {
	switch kind {
	case ConstTrue:
		return ValueTrue
	case ConstFalse:
		return ValueFalse
	case ConstNull:
		return ValueNull
	default:
		return w.arena.NewValue()
	}
}

// seedSymbol synthesizes the first value observed for a symbol, seeded from
// its compile-time constant when the symbol oracle knows one.
func (w *Walker) seedSymbol(sym Symbol) Value {
	if kind, ok := w.constantValue(sym); ok {
		return w.constValue(kind)
	}
	return w.arena.NewValue()
}

func (w *Walker) constantValue(sym Symbol) (ConstKind, bool) {
	if w.Symbols == nil || sym == NoSymbol {
		return ConstFresh, false
	}
	return w.Symbols.ConstantValue(sym)
}
