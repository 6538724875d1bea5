package symflow

import (
	log "github.com/sirupsen/logrus"
)

// Default exploration limits.
const (
	// DefaultMaxVisits bounds how often one program point may be expanded
	// on a single path. Paths exceeding it are dropped, not reported.
	DefaultMaxVisits = 2

	// DefaultMaxNodes bounds the total number of exploded-graph nodes
	// processed for one procedure. Exceeding it aborts the analysis.
	DefaultMaxNodes = 2000
)

// Status represents the walker's state machine: Idle until Walk is called,
// Exploring while the worklist drains, then Completed or Aborted.
type Status string

const (
	StatusIdle      = Status("idle")
	StatusExploring = Status("exploring")
	StatusCompleted = Status("completed") // worklist drained
	StatusAborted   = Status("aborted")   // exploration budget exceeded
)

// Node is one exploded-graph node: a program point paired with the abstract
// state that reached it. During instruction processing the node additionally
// carries the instruction and its produced value for the decorator hooks.
type Node struct {
	Point Point
	State *State

	instr     *Instr
	result    Value
	hasResult bool
}

// Instr returns the instruction being processed at this node, if any.
func (n *Node) Instr() *Instr { return n.instr }

// Result returns the value produced by the instruction, if any. It is
// available to PostProcess hooks even when a discard context already popped
// the value off the stack.
func (n *Node) Result() (Value, bool) { return n.result, n.hasResult }

// Result is the outcome of one procedure exploration.
type Result struct {
	Status Status

	// Steps is the number of exploded-graph nodes processed.
	Steps int

	// TerminalStates are the states that reached the exit block.
	TerminalStates []*State

	conditions map[*Block]*conditionOutcome
}

type conditionOutcome struct {
	trueSeen  bool
	falseSeen bool
}

// ConditionOutcome reports which boolean outcomes were observed for a branch
// block's condition. A condition seen with only one outcome on a completed
// exploration is always true or always false.
func (r *Result) ConditionOutcome(b *Block) (trueSeen, falseSeen bool) {
	if o := r.conditions[b]; o != nil {
		return o.trueSeen, o.falseSeen
	}
	return false, false
}

// Walker drives the exploded-graph exploration of one procedure. Configure
// the exported fields before calling Walk; a walker performs a single
// exploration.
//
// The traversal is single-threaded and synchronous: each dequeue, process
// and enqueue cycle runs to completion before the next begins, and no state
// is shared across procedure analyses.
type Walker struct {
	graph *Graph
	arena *Arena

	// External collaborators. Any of them may be nil; the engine then falls
	// back to fresh unconstrained values, keeps all bindings live, and uses
	// the default invocation effect.
	Symbols  SymbolOracle
	Liveness LivenessOracle
	Invoker  InvocationHandler

	// Decorators is the constraint-domain pipeline, applied in order.
	Decorators []Decorator

	// Exploration limits.
	MaxVisits int
	MaxNodes  int

	Logger *log.Logger

	// OnInstructionProcessed fires after each instruction is fully
	// processed, with the resulting state. Rules inspect constraints here.
	OnInstructionProcessed func(in *Instr, pt Point, s *State)

	// OnConditionEvaluated fires when a branch condition is committed to an
	// outcome, once per feasible outcome.
	OnConditionEvaluated func(b *Block, outcome bool, s *State)

	// OnExplorationEnded fires once, after the walk ends.
	OnExplorationEnded func(r *Result)

	status  Status
	queue   []*Node
	visited map[uint32][]*Node
	steps   int
	result  *Result
}

// NewWalker returns a walker over the given graph and arena with the default
// decorator pipeline and exploration limits.
func NewWalker(g *Graph, arena *Arena) *Walker {
	return &Walker{
		graph:      g,
		arena:      arena,
		Decorators: DefaultDecorators(),
		MaxVisits:  DefaultMaxVisits,
		MaxNodes:   DefaultMaxNodes,
		Logger:     log.StandardLogger(),
		status:     StatusIdle,
	}
}

// Arena returns the walker's value arena.
func (w *Walker) Arena() *Arena { return w.arena }

// Status returns the current state of the walker.
func (w *Walker) Status() Status { return w.status }

// Walk explores the procedure until the worklist drains or the exploration
// budget is exceeded, and returns the result. An error signals an engine
// defect, not a property of the analyzed program; the walker ends in
// StatusAborted and no end-of-exploration notification fires.
func (w *Walker) Walk() (*Result, error) {
	if w.status != StatusIdle {
		return nil, ErrWalkerReused
	}
	w.status = StatusExploring
	w.result = &Result{conditions: make(map[*Block]*conditionOutcome)}
	w.visited = make(map[uint32][]*Node)

	w.enqueue(&Node{Point: Point{Block: w.graph.Entry.ID}, State: NewState(w.arena)})

	for len(w.queue) > 0 {
		n := w.queue[0]
		w.queue = w.queue[1:]

		// Deduplication: a structurally equal node was already processed.
		if w.seen(n) {
			continue
		}
		w.markSeen(n)

		if w.steps++; w.steps > w.MaxNodes {
			w.Logger.Debugf("[walk] budget exceeded at %s after %d steps", n.Point, w.steps-1)
			w.status = StatusAborted
			break
		}

		// Bound re-exploration of loops: drop the path, do not report.
		state := n.State.IncrementVisitCount(n.Point)
		if state.VisitCount(n.Point) > w.MaxVisits {
			w.Logger.Debugf("[walk] visit bound reached at %s", n.Point)
			continue
		}
		n = &Node{Point: n.Point, State: state}

		if err := w.processNode(n); err != nil {
			// Leave the walker in a terminal status so callers never
			// observe a running exploration after Walk returns.
			w.status = StatusAborted
			w.visited = nil
			w.queue = nil
			return nil, err
		}
	}

	if w.status == StatusExploring {
		w.status = StatusCompleted
	}
	w.result.Status = w.status
	w.result.Steps = w.steps

	// The visited set lives for one procedure analysis only.
	w.visited = nil
	w.queue = nil

	if w.OnExplorationEnded != nil {
		w.OnExplorationEnded(w.result)
	}
	return w.result, nil
}

func (w *Walker) processNode(n *Node) error {
	b := w.graph.block(n.Point.Block)
	switch b.Kind {
	case BlockSimple, BlockScopeEnd, BlockLoopStash, BlockLockRelease:
		if int(n.Point.Offset) < len(b.Instrs) {
			return w.processInstruction(n, b)
		}
		return w.leaveBlock(n, b)

	case BlockBranch:
		return w.processBranch(n, b)

	case BlockExit:
		w.Logger.Debugf("[walk] exit reached at %s", n.Point)
		w.result.TerminalStates = append(w.result.TerminalStates, n.State)
		return nil

	default:
		assert(false, "unexpected block kind: %d", b.Kind)
		return nil
	}
}

func (w *Walker) processInstruction(n *Node, b *Block) error {
	in := &b.Instrs[n.Point.Offset]
	n.instr = in
	w.Logger.Debugf("[exec] %s: %s", n.Point, in)

	s := n.State
	for _, d := range w.Decorators {
		s = d.PreProcess(n, s)
	}

	s, result, hasResult, err := w.visitInstr(in, n.Point, s)
	if err != nil {
		return err
	}
	n.result, n.hasResult = result, hasResult

	for _, d := range w.Decorators {
		s = d.PostProcess(n, s)
	}

	if w.OnInstructionProcessed != nil {
		w.OnInstructionProcessed(in, n.Point, s)
	}

	w.enqueue(&Node{Point: Point{Block: b.ID, Offset: n.Point.Offset + 1}, State: s})
	return nil
}

// leaveBlock performs the block's housekeeping and transitions to its single
// successor.
func (w *Walker) leaveBlock(n *Node, b *Block) error {
	s := n.State
	if b.Kind == BlockLockRelease && w.Symbols != nil {
		// Fields may have been mutated by other threads once the lock is
		// released.
		s = s.RemoveSymbols(w.Symbols.IsField)
	}
	assert(b.Succ != nil, "block B%d has no successor", b.ID)
	w.transition(b.Succ, s)
	return nil
}

func (w *Walker) processBranch(n *Node, b *Block) error {
	switch b.Branch {
	case BranchIf, BranchAnd, BranchOr:
		s, cond := n.State.PopValue()

		for _, st := range s.TrySetConstraint(cond, BoolTrue) {
			w.conditionEvaluated(b, true, st)
			if b.Branch == BranchOr {
				st = st.PushValue(ValueTrue) // short-circuit: rhs not evaluated
			}
			w.transition(b.True, st)
		}
		for _, st := range s.TrySetConstraint(cond, BoolFalse) {
			w.conditionEvaluated(b, false, st)
			if b.Branch == BranchAnd {
				st = st.PushValue(ValueFalse) // short-circuit: rhs not evaluated
			}
			w.transition(b.False, st)
		}
		return nil

	case BranchCoalesce:
		s, v := n.State.PopValue()
		for _, st := range s.TrySetConstraint(v, NotNull) {
			// The operand itself is the result; the right side is skipped.
			w.transition(b.True, st.PushValue(v))
		}
		for _, st := range s.TrySetConstraint(v, Null) {
			w.transition(b.False, st)
		}
		return nil

	case BranchConditionalAccess:
		s, recv := n.State.PopValue()
		for _, st := range s.TrySetConstraint(recv, NotNull) {
			w.transition(b.True, st.PushValue(recv))
		}
		for _, st := range s.TrySetConstraint(recv, Null) {
			if b.Consumed {
				st = st.PushValue(ValueNull)
			}
			w.transition(b.False, st)
		}
		return nil

	case BranchForeach:
		// Both outcomes stay feasible; no stack value, no refinement.
		w.transition(b.True, n.State)
		w.transition(b.False, n.State)
		return nil

	default:
		assert(false, "unexpected branch kind: %d", b.Branch)
		return nil
	}
}

func (w *Walker) conditionEvaluated(b *Block, outcome bool, s *State) {
	w.Logger.Debugf("[branch] B%d condition %v", b.ID, outcome)
	o := w.result.conditions[b]
	if o == nil {
		o = &conditionOutcome{}
		w.result.conditions[b] = o
	}
	if outcome {
		o.trueSeen = true
	} else {
		o.falseSeen = true
	}
	if w.OnConditionEvaluated != nil {
		w.OnConditionEvaluated(b, outcome, s)
	}
}

// transition prunes the state and enqueues the entry node of the successor
// block. Bindings dead at the target point are dropped first so that
// structurally irrelevant differences do not defeat deduplication.
func (w *Walker) transition(to *Block, s *State) {
	pt := Point{Block: to.ID}
	if w.Liveness != nil {
		s = s.RemoveSymbols(func(sym Symbol) bool {
			return !w.Liveness.Live(pt, sym)
		})
	}
	s = s.Clean()
	w.enqueue(&Node{Point: pt, State: s})
}

func (w *Walker) enqueue(n *Node) {
	w.queue = append(w.queue, n)
}

func (w *Walker) nodeHash(n *Node) uint32 {
	return hashUint32(uint32(n.Point.Block)*31^uint32(n.Point.Offset)) ^ n.State.Hash()
}

func (w *Walker) seen(n *Node) bool {
	for _, v := range w.visited[w.nodeHash(n)] {
		if v.Point == n.Point && v.State.Equal(n.State) {
			return true
		}
	}
	return false
}

func (w *Walker) markSeen(n *Node) {
	h := w.nodeHash(n)
	w.visited[h] = append(w.visited[h], n)
}
