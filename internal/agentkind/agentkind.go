// Package agentkind is the static Agent Registry (spec component C5): a
// fixed table of agent-kind descriptors consulted by the supervisor
// before spawning a child process, and by the delegation path when
// validating hierarchy rules.
package agentkind

import (
	"fmt"

	"github.com/GratefulDave/stravinsky-sub003/internal/orcherr"
)

// CostTier classifies the relative resource cost of running an agent
// kind, used to steer concurrency budgeting.
type CostTier string

const (
	CostCheap     CostTier = "cheap"
	CostMedium    CostTier = "medium"
	CostExpensive CostTier = "expensive"
)

// HierarchyClass distinguishes kinds that may themselves delegate
// (Orchestrator) from leaf kinds that may only execute (Worker).
type HierarchyClass string

const (
	HierarchyOrchestrator HierarchyClass = "orchestrator"
	HierarchyWorker       HierarchyClass = "worker"
)

// Descriptor is the static profile of one agent kind.
type Descriptor struct {
	Kind         string
	DisplayName  string
	CostTier     CostTier
	Hierarchy    HierarchyClass
	Capabilities map[string]bool
	Preamble     string
}

// HasCapability reports whether the descriptor advertises cap.
func (d Descriptor) HasCapability(cap string) bool {
	return d.Capabilities[cap]
}

// Registry is the lookup table of known agent kinds.
type Registry struct {
	descriptors map[string]Descriptor
}

// New builds a Registry from the given descriptors, keyed by Kind.
func New(descriptors ...Descriptor) *Registry {
	r := &Registry{descriptors: make(map[string]Descriptor, len(descriptors))}
	for _, d := range descriptors {
		r.descriptors[d.Kind] = d
	}
	return r
}

// Lookup returns the descriptor for kind.
func (r *Registry) Lookup(kind string) (Descriptor, error) {
	d, ok := r.descriptors[kind]
	if !ok {
		return Descriptor{}, orcherr.New(orcherr.CategoryUnknownKind, fmt.Sprintf("unknown agent kind %q", kind))
	}
	return d, nil
}

// Kinds returns every registered kind name.
func (r *Registry) Kinds() []string {
	kinds := make([]string, 0, len(r.descriptors))
	for k := range r.descriptors {
		kinds = append(kinds, k)
	}
	return kinds
}

// CanDelegate reports whether parentKind is permitted to spawn
// childKind: only Orchestrator-class kinds may spawn, and a Worker-class
// kind may never appear as a parent.
func (r *Registry) CanDelegate(parentKind, childKind string) (bool, error) {
	parent, err := r.Lookup(parentKind)
	if err != nil {
		return false, err
	}
	if _, err := r.Lookup(childKind); err != nil {
		return false, err
	}
	return parent.Hierarchy == HierarchyOrchestrator, nil
}

// Default builds the standard descriptor set shipped with the bridge:
// two orchestrator kinds plus worker kinds spanning the cost tiers.
func Default() *Registry {
	return New(
		Descriptor{
			Kind:        "orchestrator",
			DisplayName: "Orchestrator",
			CostTier:    CostExpensive,
			Hierarchy:   HierarchyOrchestrator,
			Capabilities: map[string]bool{
				"delegate": true,
				"plan":     true,
			},
			Preamble: "You coordinate a task graph of worker agents. You may not execute work directly.",
		},
		Descriptor{
			Kind:        "coordinator",
			DisplayName: "Wave Coordinator",
			CostTier:    CostMedium,
			Hierarchy:   HierarchyOrchestrator,
			Capabilities: map[string]bool{
				"delegate": true,
			},
			Preamble: "You fan one wave of sibling tasks out to workers and collect their results. You do not plan.",
		},
		Descriptor{
			Kind:        "implementer",
			DisplayName: "Implementer",
			CostTier:    CostExpensive,
			Hierarchy:   HierarchyWorker,
			Capabilities: map[string]bool{
				"write_code": true,
				"run_tests":  true,
			},
			Preamble: "You implement one task from the graph. Report back a single result artifact.",
		},
		Descriptor{
			Kind:        "reviewer",
			DisplayName: "Reviewer",
			CostTier:    CostMedium,
			Hierarchy:   HierarchyWorker,
			Capabilities: map[string]bool{
				"read_code":   true,
				"write_notes": true,
			},
			Preamble: "You review a change for correctness and style; you do not modify files.",
		},
		Descriptor{
			Kind:        "researcher",
			DisplayName: "Researcher",
			CostTier:    CostMedium,
			Hierarchy:   HierarchyWorker,
			Capabilities: map[string]bool{
				"search_codebase": true,
				"search_web":      true,
			},
			Preamble: "You gather context and report findings; you do not modify files.",
		},
		Descriptor{
			Kind:        "debugger",
			DisplayName: "Debugger",
			CostTier:    CostExpensive,
			Hierarchy:   HierarchyWorker,
			Capabilities: map[string]bool{
				"read_code":    true,
				"run_tests":    true,
				"trace_faults": true,
			},
			Preamble: "You reproduce a reported failure, isolate the fault, and report the root cause; you do not fix it.",
		},
		Descriptor{
			Kind:        "refactorer",
			DisplayName: "Refactorer",
			CostTier:    CostExpensive,
			Hierarchy:   HierarchyWorker,
			Capabilities: map[string]bool{
				"write_code": true,
				"run_tests":  true,
			},
			Preamble: "You restructure the named code without changing behavior. Every test that passed before must pass after.",
		},
		Descriptor{
			Kind:        "tester",
			DisplayName: "Tester",
			CostTier:    CostMedium,
			Hierarchy:   HierarchyWorker,
			Capabilities: map[string]bool{
				"write_tests": true,
				"run_tests":   true,
			},
			Preamble: "You write and run tests for one task's acceptance criteria; you do not touch production code.",
		},
		Descriptor{
			Kind:        "linter",
			DisplayName: "Linter",
			CostTier:    CostCheap,
			Hierarchy:   HierarchyWorker,
			Capabilities: map[string]bool{
				"run_static_checks": true,
			},
			Preamble: "You run static checks over the changed files and report violations.",
		},
		Descriptor{
			Kind:        "searcher",
			DisplayName: "Searcher",
			CostTier:    CostCheap,
			Hierarchy:   HierarchyWorker,
			Capabilities: map[string]bool{
				"search_codebase": true,
			},
			Preamble: "You locate the files and symbols relevant to a query and return paths with line ranges, nothing else.",
		},
		Descriptor{
			Kind:        "summarizer",
			DisplayName: "Summarizer",
			CostTier:    CostCheap,
			Hierarchy:   HierarchyWorker,
			Capabilities: map[string]bool{
				"read_code":   true,
				"write_notes": true,
			},
			Preamble: "You condense the supplied material into a short brief for the next phase; you do not add new claims.",
		},
		Descriptor{
			Kind:        "documenter",
			DisplayName: "Documenter",
			CostTier:    CostCheap,
			Hierarchy:   HierarchyWorker,
			Capabilities: map[string]bool{
				"read_code":   true,
				"write_notes": true,
			},
			Preamble: "You document the completed change: what moved, why, and how to operate it.",
		},
	)
}
