package contracts

import "fmt"

// Step is one stage of the deletion workflow.
type Step int

// Workflow steps, in the order the user walks them.
const (
	StepReason Step = iota
	StepImpact
	StepConfirmation
)

// StepCount is the number of steps in the workflow.
const StepCount = 3

// Steps returns the ordered list of workflow steps.
func Steps() []Step {
	return []Step{StepReason, StepImpact, StepConfirmation}
}

// Valid reports whether s is inside [0, StepCount-1].
func (s Step) Valid() bool {
	return s >= 0 && int(s) < StepCount
}

// Label is the human-readable title of the step.
func (s Step) Label() string {
	switch s {
	case StepReason:
		return "Reason"
	case StepImpact:
		return "Impact"
	case StepConfirmation:
		return "Confirmation"
	default:
		return fmt.Sprintf("Step(%d)", int(s))
	}
}

// String implements fmt.Stringer for Step.
func (s Step) String() string {
	return s.Label()
}
