// Package formstate holds the in-progress deletion form: field values, the
// current step and the step history.
package formstate

import (
	"errors"
	"fmt"
	"math"
	"strings"
	"sync"
	"time"

	"github.com/glass-erp/deleteflow/pkg/contracts"
)

// ErrStepOutOfRange is returned when navigating outside the workflow steps.
var ErrStepOutOfRange = errors.New("step out of range")

// Transition records one step change.
type Transition struct {
	From contracts.Step `json:"from"`
	To   contracts.Step `json:"to"`
	At   time.Time      `json:"at"`
}

// State is a point-in-time copy of the form.
type State struct {
	Fields      contracts.FormData `json:"formData"`
	CurrentStep contracts.Step     `json:"currentStep"`
	IsDirty     bool               `json:"isDirty"`
	LastSaved   *time.Time         `json:"lastSaved,omitempty"`
	History     []Transition       `json:"history,omitempty"`
}

func (s State) clone() State {
	out := s
	out.Fields = s.Fields.Clone()
	if s.LastSaved != nil {
		t := *s.LastSaved
		out.LastSaved = &t
	}
	out.History = append([]Transition(nil), s.History...)
	return out
}

// StepCompletion reports whether one step looks filled in.
type StepCompletion struct {
	Step     contracts.Step `json:"step"`
	Label    string         `json:"label"`
	Complete bool           `json:"complete"`
}

// Completion is the light completeness view shown as a progress indicator.
// It is not validation.
type Completion struct {
	Steps   []StepCompletion `json:"steps"`
	Percent int              `json:"percent"`
}

// Option configures a Store.
type Option func(*Store)

// WithClock overrides the clock used for history timestamps.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// WithInitialFields sets the defaults used by New and Reset.
func WithInitialFields(fields contracts.FormData) Option {
	return func(s *Store) { s.defaults = fields.Clone() }
}

// Store owns the form state of one workflow. It is safe for concurrent use.
type Store struct {
	mu       sync.RWMutex
	state    State
	defaults contracts.FormData
	now      func() time.Time
}

// New returns a store at step 0 holding the default field values.
func New(opts ...Option) *Store {
	s := &Store{
		defaults: contracts.DefaultFormData(),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.state = State{Fields: s.defaults.Clone(), CurrentStep: contracts.StepReason}
	return s
}

// ChangeField sets the value at path and marks the form dirty. A dotted path
// such as "impactAssessment.project" updates one key of a nested map.
func (s *Store) ChangeField(path string, value any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state.Fields.Set(path, value)
	s.state.IsDirty = true
}

// GoToStep moves to step. Out-of-range steps leave the state unchanged.
func (s *Store) GoToStep(step contracts.Step) error {
	if !step.Valid() {
		return fmt.Errorf("%w: %d", ErrStepOutOfRange, int(step))
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state.History = append(s.state.History, Transition{From: s.state.CurrentStep, To: step, At: s.now()})
	s.state.CurrentStep = step
	return nil
}

// CurrentStep returns the step the user is on.
func (s *Store) CurrentStep() contracts.Step {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state.CurrentStep
}

// Fields returns a copy of the field values.
func (s *Store) Fields() contracts.FormData {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state.Fields.Clone()
}

// IsDirty reports whether a field changed since the last reset.
func (s *Store) IsDirty() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state.IsDirty
}

// State returns a deep copy of the whole state.
func (s *Store) State() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state.clone()
}

// MarkSaved records when the state was last persisted.
func (s *Store) MarkSaved(at time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state.LastSaved = &at
}

// Restore replaces the fields and step with a previously saved copy. Keys
// missing from fields keep their defaults. History is not restored.
func (s *Store) Restore(fields contracts.FormData, step contracts.Step) error {
	if !step.Valid() {
		return fmt.Errorf("restore: %w: %d", ErrStepOutOfRange, int(step))
	}
	merged := s.defaults.Clone()
	for k, v := range fields.Clone() {
		merged[k] = v
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state.Fields = merged
	s.state.CurrentStep = step
	s.state.IsDirty = true
	s.state.History = nil
	return nil
}

// Reset restores the defaults, step 0 and a clean, history-free state.
// Calling it repeatedly has the same effect as calling it once.
func (s *Store) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = State{Fields: s.defaults.Clone(), CurrentStep: contracts.StepReason}
}

// CompletionStatus reports which steps look filled in and an overall
// percentage.
func (s *Store) CompletionStatus() Completion {
	fields := s.Fields()
	c := Completion{Steps: make([]StepCompletion, 0, contracts.StepCount)}
	done := 0
	for _, step := range contracts.Steps() {
		ok := stepComplete(step, fields)
		if ok {
			done++
		}
		c.Steps = append(c.Steps, StepCompletion{Step: step, Label: step.Label(), Complete: ok})
	}
	c.Percent = int(math.Round(float64(done) * 100 / float64(contracts.StepCount)))
	return c
}

func stepComplete(step contracts.Step, f contracts.FormData) bool {
	switch step {
	case contracts.StepReason:
		return f.Reason() != ""
	case contracts.StepImpact:
		return f.AcknowledgedImpacts() >= contracts.MinImpactAcknowledgements
	case contracts.StepConfirmation:
		return strings.TrimSpace(f.Confirmation()) != "" && f.AcknowledgeConsequences()
	default:
		return false
	}
}
