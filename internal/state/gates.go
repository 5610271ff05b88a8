package state

import (
	"context"
	"time"
)

// Severity indicates how seriously a gate violation should be treated.
type Severity string

const (
	SeverityWarning  Severity = "warning"
	SeverityError    Severity = "error"
	SeverityCritical Severity = "critical"
)

// Violation is a single gate-check finding.
type Violation struct {
	GateName    string
	Phase       string
	Description string
	Severity    Severity
	DetectedAt  time.Time
}

// PhaseGate is a single named check that may run before a phase
// transition is accepted. Unlike the single boolean GateFunc, which is
// the core's contractual gate surface, a PhaseGate reports graded
// Violations; the registry below is additive sugar layered on top of
// GateFunc, not a replacement for it.
type PhaseGate interface {
	Name() string
	Check(ctx context.Context, s *State, target string) ([]Violation, error)
}

// GateRegistry runs a set of named PhaseGates for a transition and
// aggregates their violations, keyed by arbitrary target phase name.
type GateRegistry struct {
	gates map[string][]PhaseGate
}

// NewGateRegistry creates an empty registry.
func NewGateRegistry() *GateRegistry {
	return &GateRegistry{gates: make(map[string][]PhaseGate)}
}

// Register adds gate to the set checked before entering targetPhase.
func (r *GateRegistry) Register(targetPhase string, gate PhaseGate) {
	r.gates[targetPhase] = append(r.gates[targetPhase], gate)
}

// Check runs every gate registered for targetPhase and returns the
// concatenated violations.
func (r *GateRegistry) Check(ctx context.Context, s *State, targetPhase string) ([]Violation, error) {
	var all []Violation
	for _, g := range r.gates[targetPhase] {
		vs, err := g.Check(ctx, s, targetPhase)
		if err != nil {
			return nil, err
		}
		all = append(all, vs...)
	}
	return all, nil
}

// HasCritical reports whether any violation is Critical.
func HasCritical(violations []Violation) bool {
	for _, v := range violations {
		if v.Severity == SeverityCritical {
			return true
		}
	}
	return false
}

// HasBlocking reports whether any violation is Error or Critical.
func HasBlocking(violations []Violation) bool {
	for _, v := range violations {
		if v.Severity == SeverityError || v.Severity == SeverityCritical {
			return true
		}
	}
	return false
}

func blockingGateNames(violations []Violation) []string {
	var names []string
	for _, v := range violations {
		if v.Severity == SeverityError || v.Severity == SeverityCritical {
			names = append(names, v.GateName)
		}
	}
	return names
}
