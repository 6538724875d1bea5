// Package gofront lowers Go function bodies into the engine's control-flow
// representation. Control structure comes from golang.org/x/tools/go/cfg;
// this package translates each basic block's statements into instructions
// and reconnects the block graph with explicit branch blocks.
//
// The front end is deliberately partial. Constructs it cannot lower soundly
// (range loops, switches, goroutines, defers, labeled control flow) are
// rejected up front with ErrUnsupported rather than approximated.
package gofront

import (
	"errors"
	"fmt"
	"go/ast"
	"go/token"

	"golang.org/x/tools/go/cfg"

	"github.com/symflow/symflow"
)

// newCFG builds the control-flow graph of a function body. Panics and calls
// to terminating functions are not modeled, so every call may return.
func newCFG(body *ast.BlockStmt) *cfg.CFG {
	return cfg.New(body, func(*ast.CallExpr) bool { return true })
}

func unparen(expr ast.Expr) ast.Expr {
	for {
		p, ok := expr.(*ast.ParenExpr)
		if !ok {
			return expr
		}
		expr = p.X
	}
}

// ErrUnsupported is returned by Build for functions using constructs the
// front end does not lower.
var ErrUnsupported = errors.New("gofront: unsupported construct")

// Analysis is one lowered function, ready to be walked.
type Analysis struct {
	Name    string
	Graph   *symflow.Graph
	Symbols *Info
}

// Info resolves identifiers to engine symbols and maps them back to names
// for reporting. It also serves as the walker's symbol oracle; Go has no
// compile-time constants or nullable value types visible at this level, so
// the oracle answers are the zero answers.
type Info struct {
	syms  map[*ast.Object]symflow.Symbol
	names []string
}

func newInfo() *Info {
	return &Info{syms: make(map[*ast.Object]symflow.Symbol)}
}

// symbolOf interns the identifier's object. Blank and unresolved identifiers
// stay untracked.
func (inf *Info) symbolOf(id *ast.Ident) symflow.Symbol {
	if id.Name == "_" || id.Obj == nil {
		return symflow.NoSymbol
	}
	if sym, ok := inf.syms[id.Obj]; ok {
		return sym
	}
	inf.names = append(inf.names, id.Name)
	sym := symflow.Symbol(len(inf.names)) // 1-based; zero is NoSymbol
	inf.syms[id.Obj] = sym
	return sym
}

// Name returns the source name of a symbol.
func (inf *Info) Name(sym symflow.Symbol) string {
	if sym == symflow.NoSymbol || int(sym) > len(inf.names) {
		return "?"
	}
	return inf.names[sym-1]
}

func (inf *Info) IsField(symflow.Symbol) bool    { return false }
func (inf *Info) IsNullable(symflow.Symbol) bool { return false }

func (inf *Info) ConstantValue(symflow.Symbol) (symflow.ConstKind, bool) {
	return symflow.ConstFresh, false
}

// Build lowers a function declaration into a graph. Functions without a body
// and functions using unsupported constructs return ErrUnsupported.
func Build(fd *ast.FuncDecl) (*Analysis, error) {
	if fd.Body == nil {
		return nil, fmt.Errorf("%w: function without body", ErrUnsupported)
	}
	if err := checkSupported(fd.Body); err != nil {
		return nil, err
	}

	g := newCFG(fd.Body)
	b := &builder{graph: symflow.NewGraph(), info: newInfo()}

	// Allocate the entry block for every control-flow block first so
	// forward edges can be connected while lowering, plus a shared exit.
	entries := make([]*symflow.Block, len(g.Blocks))
	for i := range g.Blocks {
		entries[i] = b.graph.NewBlock(symflow.BlockSimple)
	}
	exit := b.graph.NewBlock(symflow.BlockExit)

	for i, cb := range g.Blocks {
		b.cur = entries[i]

		nodes := cb.Nodes
		var cond ast.Expr
		if len(cb.Succs) == 2 {
			// The last node of a two-way block is its condition.
			cond = nodes[len(nodes)-1].(ast.Expr)
			nodes = nodes[:len(nodes)-1]
		}

		for _, node := range nodes {
			b.lowerNode(node)
		}

		switch len(cb.Succs) {
		case 0:
			b.cur.Succ = exit
		case 1:
			b.cur.Succ = entries[cb.Succs[0].Index]
		case 2:
			b.lowerExpr(cond)
			br := b.graph.NewBranchBlock(symflow.BranchIf)
			br.Syntax = cond
			br.True = entries[cb.Succs[0].Index]
			br.False = entries[cb.Succs[1].Index]
			b.cur.Succ = br
		default:
			b.fail("block with %d successors", len(cb.Succs))
		}
	}
	if b.err != nil {
		return nil, b.err
	}

	b.graph.Entry = entries[0]
	return &Analysis{Name: fd.Name.Name, Graph: b.graph, Symbols: b.info}, nil
}

// checkSupported rejects constructs the lowering cannot express. Function
// literals are opaque values, so their bodies are not inspected.
func checkSupported(body *ast.BlockStmt) error {
	var err error
	reject := func(what string) {
		if err == nil {
			err = fmt.Errorf("%w: %s", ErrUnsupported, what)
		}
	}
	ast.Inspect(body, func(node ast.Node) bool {
		switch node := node.(type) {
		case *ast.FuncLit:
			return false
		case *ast.RangeStmt:
			reject("range statement")
		case *ast.SwitchStmt, *ast.TypeSwitchStmt:
			reject("switch statement")
		case *ast.SelectStmt:
			reject("select statement")
		case *ast.GoStmt:
			reject("go statement")
		case *ast.DeferStmt:
			reject("defer statement")
		case *ast.LabeledStmt:
			reject("labeled statement")
		case *ast.BranchStmt:
			if node.Label != nil || node.Tok == token.GOTO {
				reject("labeled branch")
			}
		}
		return err == nil
	})
	return err
}

// builder lowers statements and expressions into the current block. The
// cursor moves when short-circuit expressions split the block.
type builder struct {
	graph *symflow.Graph
	info  *Info
	cur   *symflow.Block
	err   error
}

func (b *builder) fail(format string, args ...interface{}) {
	if b.err == nil {
		b.err = fmt.Errorf("%w: %s", ErrUnsupported, fmt.Sprintf(format, args...))
	}
}

func (b *builder) emit(in symflow.Instr) {
	b.cur.Instrs = append(b.cur.Instrs, in)
}

// lowerNode lowers one control-flow node: a statement, or a bare expression
// evaluated for effect.
func (b *builder) lowerNode(node ast.Node) {
	switch node := node.(type) {
	case ast.Stmt:
		b.lowerStmt(node)
	case ast.Expr:
		b.lowerExprDiscard(node)
	default:
		b.fail("node %T", node)
	}
}

func (b *builder) lowerStmt(stmt ast.Stmt) {
	switch stmt := stmt.(type) {
	case *ast.ExprStmt:
		b.lowerExprDiscard(stmt.X)

	case *ast.AssignStmt:
		b.lowerAssign(stmt)

	case *ast.IncDecStmt:
		sym := b.lvalue(stmt.X)
		b.lowerExpr(stmt.X)
		b.emit(symflow.Instr{Kind: symflow.InstrIncDec, Sym: sym, Discarded: true, Syntax: stmt})

	case *ast.ReturnStmt:
		for _, result := range stmt.Results {
			b.lowerExprDiscard(result)
		}

	case *ast.DeclStmt:
		decl, ok := stmt.Decl.(*ast.GenDecl)
		if !ok {
			b.fail("declaration %T", stmt.Decl)
			return
		}
		for _, spec := range decl.Specs {
			vs, ok := spec.(*ast.ValueSpec)
			if !ok {
				continue
			}
			for i, name := range vs.Names {
				if i >= len(vs.Values) {
					break
				}
				b.lowerExpr(vs.Values[i])
				b.emit(symflow.Instr{Kind: symflow.InstrStore, Sym: b.info.symbolOf(name), Discarded: true, Syntax: vs})
			}
		}

	case *ast.BranchStmt, *ast.EmptyStmt:
		// Control flow is already encoded in the block graph.

	case *ast.SendStmt:
		b.lowerExprDiscard(stmt.Value)
		b.lowerExprDiscard(stmt.Chan)

	case *ast.IfStmt, *ast.ForStmt, *ast.BlockStmt:
		// Structural statements never appear as block nodes.
		b.fail("statement %T as block node", stmt)

	default:
		b.fail("statement %T", stmt)
	}
}

func (b *builder) lowerAssign(stmt *ast.AssignStmt) {
	switch stmt.Tok {
	case token.ASSIGN, token.DEFINE:
		if len(stmt.Lhs) == len(stmt.Rhs) {
			for i := range stmt.Lhs {
				sym := b.lvalue(stmt.Lhs[i])
				b.lowerExpr(stmt.Rhs[i])
				b.emit(symflow.Instr{Kind: symflow.InstrStore, Sym: sym, Discarded: true, Syntax: stmt})
			}
			return
		}
		// Tuple assignment: evaluate the producer, then bind each target
		// to an unconstrained component value.
		for _, rhs := range stmt.Rhs {
			b.lowerExprDiscard(rhs)
		}
		for _, lhs := range stmt.Lhs {
			sym := b.lvalue(lhs)
			b.emit(symflow.Instr{Kind: symflow.InstrFresh, Syntax: stmt})
			b.emit(symflow.Instr{Kind: symflow.InstrStore, Sym: sym, Discarded: true, Syntax: stmt})
		}

	default:
		// Compound assignment: x op= y.
		sym := b.lvalue(stmt.Lhs[0])
		b.lowerExpr(stmt.Lhs[0])
		b.lowerExpr(stmt.Rhs[0])
		b.emit(symflow.Instr{Kind: symflow.InstrCompound, Sym: sym, Discarded: true, Syntax: stmt})
	}
}

// lvalue resolves an assignment target to a symbol. Non-identifier targets
// (fields, index expressions, dereferences) are untracked.
func (b *builder) lvalue(expr ast.Expr) symflow.Symbol {
	if id, ok := expr.(*ast.Ident); ok {
		return b.info.symbolOf(id)
	}
	return symflow.NoSymbol
}

func (b *builder) lowerExprDiscard(expr ast.Expr) {
	b.lowerExpr(expr)
	if n := len(b.cur.Instrs); n > 0 {
		b.cur.Instrs[n-1].Discarded = true
		return
	}
	// The value was produced in a predecessor block (a short-circuit
	// join): pop it with an explicit discard so the stack balances.
	b.emit(symflow.Instr{Kind: symflow.InstrNop, Discarded: true, Syntax: expr})
}

// lowerExpr lowers an expression so that exactly one value is left on the
// stack.
func (b *builder) lowerExpr(expr ast.Expr) {
	switch expr := expr.(type) {
	case *ast.Ident:
		switch expr.Name {
		case "true":
			b.emit(symflow.Instr{Kind: symflow.InstrLiteral, Const: symflow.ConstTrue, Syntax: expr})
		case "false":
			b.emit(symflow.Instr{Kind: symflow.InstrLiteral, Const: symflow.ConstFalse, Syntax: expr})
		case "nil":
			b.emit(symflow.Instr{Kind: symflow.InstrLiteral, Const: symflow.ConstNull, Syntax: expr})
		default:
			b.emit(symflow.Instr{Kind: symflow.InstrLoad, Sym: b.info.symbolOf(expr), Syntax: expr})
		}

	case *ast.BasicLit:
		b.emit(symflow.Instr{Kind: symflow.InstrLiteral, Const: symflow.ConstFresh, Syntax: expr})

	case *ast.ParenExpr:
		b.lowerExpr(expr.X)

	case *ast.UnaryExpr:
		b.lowerExpr(expr.X)
		switch expr.Op {
		case token.NOT:
			b.emit(symflow.Instr{Kind: symflow.InstrNot, Syntax: expr})
		case token.AND:
			b.emit(symflow.Instr{Kind: symflow.InstrFresh, Arity: 1, Syntax: expr})
		default:
			b.emit(symflow.Instr{Kind: symflow.InstrArith, Arity: 1, Syntax: expr})
		}

	case *ast.BinaryExpr:
		b.lowerBinary(expr)

	case *ast.CallExpr:
		b.lowerCall(expr)

	case *ast.SelectorExpr:
		b.lowerExpr(expr.X)
		b.emit(symflow.Instr{Kind: symflow.InstrMember, Member: expr.Sel.Name, Syntax: expr})

	case *ast.CompositeLit:
		for _, elt := range expr.Elts {
			if kv, ok := elt.(*ast.KeyValueExpr); ok {
				elt = kv.Value
			}
			b.lowerExpr(elt)
		}
		kind := symflow.InstrNew
		switch expr.Type.(type) {
		case *ast.ArrayType, *ast.MapType:
			kind = symflow.InstrNewCollection
		}
		b.emit(symflow.Instr{Kind: kind, Arity: len(expr.Elts), Syntax: expr})

	case *ast.FuncLit:
		b.emit(symflow.Instr{Kind: symflow.InstrFresh, Syntax: expr})

	case *ast.IndexExpr:
		b.lowerExpr(expr.X)
		b.lowerExpr(expr.Index)
		b.emit(symflow.Instr{Kind: symflow.InstrFresh, Arity: 2, Syntax: expr})

	case *ast.SliceExpr:
		n := 1
		b.lowerExpr(expr.X)
		for _, idx := range []ast.Expr{expr.Low, expr.High, expr.Max} {
			if idx != nil {
				b.lowerExpr(idx)
				n++
			}
		}
		b.emit(symflow.Instr{Kind: symflow.InstrFresh, Arity: n, Syntax: expr})

	case *ast.StarExpr:
		b.lowerExpr(expr.X)
		b.emit(symflow.Instr{Kind: symflow.InstrFresh, Arity: 1, Syntax: expr})

	case *ast.TypeAssertExpr:
		b.lowerExpr(expr.X)
		b.emit(symflow.Instr{Kind: symflow.InstrNop, Syntax: expr})
		// A type assertion passes the operand through; the nop keeps the
		// syntax handle visible to listeners.

	default:
		b.fail("expression %T", expr)
	}
}

func (b *builder) lowerBinary(expr *ast.BinaryExpr) {
	switch expr.Op {
	case token.LAND, token.LOR:
		b.lowerShortCircuit(expr)
		return
	}

	b.lowerExpr(expr.X)
	b.lowerExpr(expr.Y)

	var kind symflow.InstrKind
	switch expr.Op {
	case token.EQL:
		kind = symflow.InstrEquals
	case token.NEQ:
		kind = symflow.InstrNotEquals
	case token.LSS:
		kind = symflow.InstrLess
	case token.LEQ:
		kind = symflow.InstrLessOrEqual
	case token.GTR:
		kind = symflow.InstrGreater
	case token.GEQ:
		kind = symflow.InstrGreaterOrEqual
	case token.AND:
		kind = symflow.InstrAnd
	case token.OR:
		kind = symflow.InstrOr
	case token.XOR:
		kind = symflow.InstrXor
	default:
		kind = symflow.InstrArith
	}
	in := symflow.Instr{Kind: kind, Syntax: expr}
	if kind == symflow.InstrArith {
		in.Arity = 2
	}
	b.emit(in)
}

// lowerShortCircuit expands a value-context && or || into a branch block, a
// right-operand block and a join block. The walker pushes the decided
// sentinel on the short-circuit edge, so both paths leave one value.
//
// Conditions of if and for statements never reach here: the control-flow
// builder already decomposes them into separate condition blocks.
func (b *builder) lowerShortCircuit(expr *ast.BinaryExpr) {
	b.lowerExpr(expr.X)

	kind := symflow.BranchAnd
	if expr.Op == token.LOR {
		kind = symflow.BranchOr
	}
	br := b.graph.NewBranchBlock(kind)
	br.Syntax = expr
	b.cur.Succ = br

	rhs := b.graph.NewBlock(symflow.BlockSimple)
	join := b.graph.NewBlock(symflow.BlockSimple)
	if kind == symflow.BranchAnd {
		br.True, br.False = rhs, join
	} else {
		br.True, br.False = join, rhs
	}

	b.cur = rhs
	b.lowerExpr(expr.Y)
	b.cur.Succ = join
	b.cur = join
}

func (b *builder) lowerCall(expr *ast.CallExpr) {
	in := symflow.Instr{Kind: symflow.InstrInvoke, Arity: len(expr.Args), Syntax: expr}

	switch fun := unparen(expr.Fun).(type) {
	case *ast.SelectorExpr:
		b.lowerExpr(fun.X)
		in.Member = fun.Sel.Name
		in.HasRecv = true
	case *ast.Ident:
		in.Member = fun.Name
	default:
		// Indirect call: the callee expression is evaluated as a plain
		// argument.
		b.lowerExpr(expr.Fun)
		in.Arity++
	}

	for _, arg := range expr.Args {
		b.lowerExpr(arg)
	}
	b.emit(in)
}
