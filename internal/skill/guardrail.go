package skill

import "fmt"

// GuardrailPhase selects when a guardrail runs relative to the handler.
type GuardrailPhase string

const (
	PhasePre  GuardrailPhase = "pre"
	PhasePost GuardrailPhase = "post"
	PhaseBoth GuardrailPhase = "both"
)

// CheckData is what a guardrail sees. Output is nil in the pre phase.
type CheckData struct {
	SkillID string
	Input   map[string]any
	Output  map[string]any
	Context map[string]any
}

// CheckResult is a guardrail verdict.
type CheckResult struct {
	Passed bool
	Reason string
}

// Guardrail is a predicate that can veto an execution before or after the
// handler runs.
type Guardrail struct {
	Name  string
	Phase GuardrailPhase
	Check func(data CheckData) CheckResult
}

func (g Guardrail) appliesTo(phase GuardrailPhase) bool {
	return g.Phase == phase || g.Phase == PhaseBoth
}

// runGuardrails evaluates every rail for the phase. A failed check aborts
// with a non-retryable error whose message begins with "Guardrail".
func runGuardrails(rails []Guardrail, phase GuardrailPhase, data CheckData) error {
	for _, g := range rails {
		if !g.appliesTo(phase) {
			continue
		}
		res := g.Check(data)
		if !res.Passed {
			reason := res.Reason
			if reason == "" {
				reason = "check failed"
			}
			return fmt.Errorf("Guardrail %s rejected %s execution of %s: %s", g.Name, phase, data.SkillID, reason)
		}
	}
	return nil
}
