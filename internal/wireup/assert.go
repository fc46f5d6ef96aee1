package wireup

import "fmt"

// Assert panics when cond is false. The planner uses it for invariants that
// must never be violated by correct caller input -- a pre-existing
// destination memory domain diverging on lane merge, an AM or TAG lane
// index outside the lane table, an RMA_BW memory-domain map wider than
// MaxOpMDs, a criterion requiring remote flags the address codec never
// transmits -- rather than threading a
// plumbing error through every call site for conditions that indicate a
// bug in the engine itself, not bad input.
func Assert(cond bool, format string, args ...any) {
	if !cond {
		panic(fmt.Sprintf("wireup: invariant violated: "+format, args...))
	}
}
