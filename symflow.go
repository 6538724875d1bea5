// Package symflow implements an exploded-graph symbolic execution engine.
//
// The engine walks the control-flow graph of a single procedure and computes,
// at every reachable program point, the set of distinguishable abstract
// program states. Each state tracks an operand stack of symbolic values, a
// mapping from tracked symbols to symbolic values, and per-value constraint
// tags. Downstream defect-detection rules consume the produced states through
// listener callbacks on the Walker.
//
// CFG construction, symbol resolution, liveness analysis and callee-specific
// invocation semantics are external collaborators; see the oracle interfaces
// in graph.go.
package symflow

import (
	"errors"
	"fmt"
)

var (
	// ErrWalkerReused is returned when Walk is called on a walker that has
	// already explored its graph. A walker performs one procedure analysis.
	ErrWalkerReused = errors.New("symflow: walker already explored")
)

// assert panics if condition is false.
func assert(condition bool, format string, args ...interface{}) {
	if !condition {
		panic(fmt.Sprintf("assert: "+format, args...))
	}
}
