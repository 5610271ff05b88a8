// Package phase is the static description of the orchestration state
// machine: the eight-phase enum, the legal-transition table, and the
// per-phase required-artifact set. Nothing here is mutable; Phase data
// is a pure lookup table consulted by internal/state.
package phase

// Phase is one of the eight symbolic orchestration states.
type Phase string

const (
	Classify Phase = "classify"
	Context  Phase = "context"
	Wisdom   Phase = "wisdom"
	Plan     Phase = "plan"
	Validate Phase = "validate"
	Delegate Phase = "delegate"
	Execute  Phase = "execute"
	Verify   Phase = "verify"
)

// All returns every phase in canonical declaration order.
func All() []Phase {
	return []Phase{Classify, Context, Wisdom, Plan, Validate, Delegate, Execute, Verify}
}

// successors is the legal-transition table of the state machine.
var successors = map[Phase][]Phase{
	Classify: {Context},
	Context:  {Wisdom, Plan},
	Wisdom:   {Plan},
	Plan:     {Validate, Plan},
	Validate: {Delegate, Plan},
	Delegate: {Execute},
	Execute:  {Verify, Execute},
	Verify:   {Classify},
}

// Successors returns the legal next phases from p. The returned slice
// must not be mutated by callers.
func Successors(p Phase) []Phase {
	return successors[p]
}

// CanSucceed reports whether to is a legal successor of from.
func CanSucceed(from, to Phase) bool {
	for _, s := range successors[from] {
		if s == to {
			return true
		}
	}
	return false
}

// IsSelfLoop reports whether from == to, used to distinguish the Plan
// critique self-loop and the Execute retry self-loop from a forward move.
func IsSelfLoop(from, to Phase) bool {
	return from == to
}

// requiredArtifacts is the strict-mode precondition map: the artifact
// names that must already be registered before a phase may be entered.
var requiredArtifacts = map[Phase][]string{
	Classify: {},
	Context:  {"classification"},
	Wisdom:   {"context"},
	Plan:     {},
	Validate: {"plan"},
	Delegate: {"validation"},
	Execute:  {"delegation-targets", "task-graph"},
	Verify:   {"execution-result"},
}

// RequiredArtifacts returns the artifact names that must be registered
// before p can be entered in strict mode.
func RequiredArtifacts(p Phase) []string {
	return requiredArtifacts[p]
}

// Valid reports whether p is one of the eight declared phases.
func Valid(p Phase) bool {
	_, ok := requiredArtifacts[p]
	return ok
}
