//go:build property
// +build property

package formstate

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"

	"github.com/glass-erp/deleteflow/pkg/contracts"
)

// TestStepBoundsProperty: GoToStep succeeds iff the target is a workflow
// step, and a rejected call leaves the state untouched.
func TestStepBoundsProperty(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 500
	properties := gopter.NewProperties(parameters)

	properties.Property("navigation stays within bounds", prop.ForAll(
		func(targets []int) bool {
			s := New(WithClock(fixedClock))
			for _, target := range targets {
				before := s.State()
				err := s.GoToStep(contracts.Step(target))
				inRange := target >= 0 && target < contracts.StepCount
				if inRange != (err == nil) {
					return false
				}
				if !inRange && !cmp.Equal(before, s.State()) {
					return false
				}
				if !s.CurrentStep().Valid() {
					return false
				}
			}
			return true
		},
		gen.SliceOf(gen.IntRange(-5, 8)),
	))

	properties.TestingRun(t)
}

// TestResetIdempotenceProperty: after any sequence of edits, Reset twice
// equals Reset once equals a fresh store.
func TestResetIdempotenceProperty(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	properties.Property("reset is idempotent", prop.ForAll(
		func(values []string, step int) bool {
			s := New(WithClock(fixedClock))
			for i, v := range values {
				if i%2 == 0 {
					s.ChangeField(contracts.FieldDetails, v)
				} else {
					s.ChangeField("impactAssessment."+v, true)
				}
			}
			_ = s.GoToStep(contracts.Step(step))

			s.Reset()
			once := s.State()
			s.Reset()
			return cmp.Equal(once, s.State()) && cmp.Equal(once, New().State())
		},
		gen.SliceOf(gen.AlphaString()),
		gen.IntRange(0, 2),
	))

	properties.TestingRun(t)
}
