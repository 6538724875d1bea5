package symflow

import "fmt"

// Symbol identifies a tracked variable, parameter or field. Symbols are
// opaque handles assigned by the front end; the zero handle means the
// syntactic reference did not resolve and its value is untracked.
type Symbol int32

// NoSymbol marks an unresolved or untracked reference.
const NoSymbol Symbol = 0

// BlockID identifies a basic block within one Graph. IDs are assigned
// sequentially by Graph.NewBlock.
type BlockID int32

// Point is a position within the control-flow graph: a block plus the offset
// of the next instruction within it. Branch and exit blocks carry no
// instructions and use offset zero.
type Point struct {
	Block  BlockID
	Offset int32
}

// String returns the string representation of the point.
func (p Point) String() string {
	return fmt.Sprintf("B%d+%d", p.Block, p.Offset)
}

// BlockKind classifies a basic block.
type BlockKind int

const (
	// BlockSimple is a straight-line instruction list with one successor.
	BlockSimple BlockKind = iota

	// BlockScopeEnd and BlockLoopStash are housekeeping blocks emitted by
	// front ends at scope exits and loop-increment sections. They behave as
	// simple blocks.
	BlockScopeEnd
	BlockLoopStash

	// BlockLockRelease marks a lock-scope exit. Field bindings are
	// invalidated when it is crossed, since other threads may have mutated
	// them once the lock is gone.
	BlockLockRelease

	// BlockBranch is a two-way control split; see BranchKind.
	BlockBranch

	// BlockExit terminates the procedure. Its incoming states are the
	// terminal states of the analysis.
	BlockExit
)

// BranchKind identifies the operator behind a two-way control split.
type BranchKind int

const (
	BranchNone BranchKind = iota

	// BranchIf pops a condition value and splits on its boolean domain.
	BranchIf

	// BranchAnd and BranchOr pop the left operand of a short-circuit
	// operator. The continuing side evaluates the right operand; the
	// short-circuit side pushes the decided boolean sentinel. For BranchAnd
	// the true successor continues and the false successor receives a False
	// sentinel; for BranchOr the false successor continues and the true
	// successor receives a True sentinel.
	BranchAnd
	BranchOr

	// BranchCoalesce pops the left operand of a null-coalescing operator
	// and splits on its nullness. The true successor keeps the operand
	// (re-pushed, reference-identical); the false successor evaluates the
	// right operand instead.
	BranchCoalesce

	// BranchConditionalAccess pops the receiver of a conditional member
	// access and splits on its nullness. The true successor re-pushes the
	// receiver for the member evaluation; the false successor pushes the
	// Null singleton when the block's value is consumed.
	BranchConditionalAccess

	// BranchForeach splits on an iteration test without consuming a stack
	// value and without refining constraints.
	BranchForeach
)

// Block is one basic block of the procedure's control-flow graph.
type Block struct {
	ID     BlockID
	Kind   BlockKind
	Branch BranchKind
	Instrs []Instr

	// Succ is the single successor of non-branch, non-exit blocks.
	Succ *Block

	// True and False are the successors of branch blocks.
	True  *Block
	False *Block

	// Consumed reports whether the value of a conditional-access branch is
	// consumed by the surrounding expression.
	Consumed bool

	// Syntax is an opaque front-end handle for the branch condition,
	// forwarded to listeners.
	Syntax any
}

// Graph is the control-flow graph of one procedure, produced by an external
// CFG provider.
type Graph struct {
	Blocks []*Block
	Entry  *Block
}

// NewGraph returns an empty graph.
func NewGraph() *Graph {
	return &Graph{}
}

// NewBlock allocates a block of the given kind and assigns its ID.
func (g *Graph) NewBlock(kind BlockKind) *Block {
	b := &Block{ID: BlockID(len(g.Blocks)), Kind: kind}
	g.Blocks = append(g.Blocks, b)
	return b
}

// NewBranchBlock allocates a branch block for the given operator.
func (g *Graph) NewBranchBlock(branch BranchKind) *Block {
	b := g.NewBlock(BlockBranch)
	b.Branch = branch
	return b
}

// block returns the block with the given ID.
func (g *Graph) block(id BlockID) *Block {
	assert(int(id) < len(g.Blocks), "invalid block id: %d", id)
	return g.Blocks[id]
}

// InstrKind classifies an instruction. The set is closed; the operation
// visitor dispatches exhaustively over it and treats any unlisted kind as a
// fatal engine defect.
type InstrKind int

const (
	// InstrNop is a pure pass-through (casts, checked/unchecked wrappers).
	InstrNop InstrKind = iota

	// InstrLiteral pushes a constant value: a singleton for known
	// true/false/null constants, a fresh value otherwise.
	InstrLiteral

	// InstrFresh pops Arity operand values and pushes a fresh unconstrained
	// value (lambda literals, type queries, address-of, unknown producers).
	InstrFresh

	// InstrNew and InstrNewCollection pop Arity constructor arguments and
	// push a fresh value for the created object or collection.
	InstrNew
	InstrNewCollection

	// InstrNot pops one value and pushes its logical negation.
	InstrNot

	// Boolean and bitwise connectives: pop right then left, push a
	// composite recording the operator.
	InstrAnd
	InstrOr
	InstrXor

	// Equality and ordering comparisons: pop right then left, push a
	// composite. Greater forms are normalized to Less forms with swapped
	// operands.
	InstrEquals
	InstrNotEquals
	InstrRefEquals
	InstrRefNotEquals
	InstrLess
	InstrLessOrEqual
	InstrGreater
	InstrGreaterOrEqual

	// InstrArith pops Arity operands and pushes a fresh value. No
	// constraint is carried through arithmetic.
	InstrArith

	// InstrLoad reads the instruction's symbol: pushes the current binding,
	// or synthesizes and binds a value (seeded from a known constant when
	// the symbol is a compile-time constant).
	InstrLoad

	// InstrStore pops the assigned value, binds the symbol, and pushes the
	// assignment's result.
	InstrStore

	// InstrCompound pops the right and left operands of a compound
	// assignment, binds the symbol to a fresh value, and pushes it.
	InstrCompound

	// InstrIncDec pops the operand, binds the symbol to a fresh value, and
	// pushes it.
	InstrIncDec

	// InstrMember pops the receiver and pushes the member's value: the
	// field symbol's binding or constant, else a member-access composite.
	InstrMember

	// InstrInvoke delegates to the walker's invocation handler; without one
	// it pops the receiver and arguments and pushes a fresh result.
	InstrInvoke
)

var instrKindNames = [...]string{
	InstrNop:            "nop",
	InstrLiteral:        "literal",
	InstrFresh:          "fresh",
	InstrNew:            "new",
	InstrNewCollection:  "newcollection",
	InstrNot:            "not",
	InstrAnd:            "and",
	InstrOr:             "or",
	InstrXor:            "xor",
	InstrEquals:         "eq",
	InstrNotEquals:      "ne",
	InstrRefEquals:      "refeq",
	InstrRefNotEquals:   "refne",
	InstrLess:           "lt",
	InstrLessOrEqual:    "le",
	InstrGreater:        "gt",
	InstrGreaterOrEqual: "ge",
	InstrArith:          "arith",
	InstrLoad:           "load",
	InstrStore:          "store",
	InstrCompound:       "compound",
	InstrIncDec:         "incdec",
	InstrMember:         "member",
	InstrInvoke:         "invoke",
}

// String returns the string representation of the kind.
func (k InstrKind) String() string {
	if k >= 0 && int(k) < len(instrKindNames) && instrKindNames[k] != "" {
		return instrKindNames[k]
	}
	return fmt.Sprintf("InstrKind<%d>", k)
}

// ConstKind classifies the compile-time constant behind a literal or a
// constant symbol.
type ConstKind int

const (
	ConstFresh ConstKind = iota // value unknown to the engine
	ConstTrue
	ConstFalse
	ConstNull
)

// Instr is one instruction of the procedure's intermediate representation.
type Instr struct {
	Kind   InstrKind
	Sym    Symbol    // load/store/member target
	Member string    // member or callee name
	Arity  int       // operand count for fresh/new/arith/invoke kinds
	Const  ConstKind // literal constant classification

	// Discarded marks a statement/discard context: the produced value is
	// popped again after the instruction is processed.
	Discarded bool

	// WrapNullable marks a store whose left side has a nullable static type
	// while the right side does not; the stored value is wrapped in a
	// nullable adapter.
	WrapNullable bool

	// HasRecv reports that an invoke or member instruction has a receiver
	// on the stack below its arguments.
	HasRecv bool

	// TargetsThis marks an invocation on the current instance. Unless the
	// call is a pure query, field bindings are invalidated afterwards.
	TargetsThis bool
	Pure        bool

	// RefArgs lists symbols passed by reference or as output arguments;
	// they are rebound to fresh values after the call.
	RefArgs []Symbol

	// Syntax is an opaque front-end handle forwarded to listeners.
	Syntax any
}

// String returns a short description of the instruction.
func (in *Instr) String() string {
	switch in.Kind {
	case InstrLoad, InstrStore, InstrCompound, InstrIncDec:
		return fmt.Sprintf("%s sym=%d", in.Kind, in.Sym)
	case InstrMember, InstrInvoke:
		return fmt.Sprintf("%s %q", in.Kind, in.Member)
	default:
		return in.Kind.String()
	}
}

// SymbolOracle classifies resolved symbols. Front ends that do not track a
// property return the zero answer; the engine then falls back to fresh
// unconstrained values.
type SymbolOracle interface {
	// IsField reports whether sym denotes a field of the current instance.
	IsField(sym Symbol) bool

	// IsNullable reports whether sym's static type is a nullable value type.
	IsNullable(sym Symbol) bool

	// ConstantValue returns the compile-time constant of sym, if any.
	ConstantValue(sym Symbol) (ConstKind, bool)
}

// LivenessOracle reports whether a symbol's value may still be read at or
// after a program point. The walker prunes dead bindings before enqueueing
// block successors so structurally irrelevant differences do not defeat
// deduplication.
type LivenessOracle interface {
	Live(pt Point, sym Symbol) bool
}

// InvocationHandler supplies callee-specific semantics for invocations. A
// handler that recognizes the callee must apply the full stack effect —
// popping receiver and arguments and pushing the produced value — and return
// true. Returning false falls back to the default effect.
type InvocationHandler interface {
	Invoke(in *Instr, pt Point, s *State) (*State, bool)
}
