package observability

import (
	"fmt"
	"slices"
	"sync"
	"time"
)

// Operations tracked against objectives.
const (
	OperationSubmit   = "workflow.submit"
	OperationValidate = "workflow.validate"
)

// Objective is the latency and success target of one workflow operation.
type Objective struct {
	Operation   string        `json:"operation"`
	P99         time.Duration `json:"p99"`
	SuccessRate float64       `json:"success_rate"` // 0-1
	Window      time.Duration `json:"window"`
}

// DefaultObjectives are the targets of the deletion workflow. Validation
// runs on every keystroke pause, so it gets the tighter budget.
func DefaultObjectives() []Objective {
	return []Objective{
		{Operation: OperationSubmit, P99: 2 * time.Second, SuccessRate: 0.99, Window: time.Hour},
		{Operation: OperationValidate, P99: 50 * time.Millisecond, SuccessRate: 0.999, Window: time.Hour},
	}
}

// Sample is one finished operation.
type Sample struct {
	Operation string
	Latency   time.Duration
	OK        bool
	At        time.Time
}

// Report is the state of an objective over its window.
type Report struct {
	Operation   string        `json:"operation"`
	Samples     int           `json:"samples"`
	SuccessRate float64       `json:"success_rate"`
	P99         time.Duration `json:"p99"`
	Met         bool          `json:"met"`
	BurnRate    float64       `json:"burn_rate"`   // >1 spends the error budget too fast
	BudgetLeft  float64       `json:"budget_left"` // percent
}

// SLOTracker keeps the samples of each objective's window.
type SLOTracker struct {
	mu         sync.Mutex
	objectives map[string]Objective
	samples    map[string][]Sample
	now        func() time.Time
}

// NewSLOTracker tracks the given objectives.
func NewSLOTracker(objectives ...Objective) *SLOTracker {
	t := &SLOTracker{
		objectives: make(map[string]Objective, len(objectives)),
		samples:    make(map[string][]Sample),
		now:        time.Now,
	}
	for _, o := range objectives {
		t.objectives[o.Operation] = o
	}
	return t
}

// WithClock overrides the clock for testing.
func (t *SLOTracker) WithClock(now func() time.Time) *SLOTracker {
	t.now = now
	return t
}

// Record adds a sample. Samples of untracked operations are dropped, and
// samples that fell out of the window are pruned.
func (t *SLOTracker) Record(s Sample) {
	t.mu.Lock()
	defer t.mu.Unlock()

	o, ok := t.objectives[s.Operation]
	if !ok {
		return
	}
	now := t.now()
	if s.At.IsZero() {
		s.At = now
	}
	t.samples[s.Operation] = append(inWindow(t.samples[s.Operation], now.Add(-o.Window)), s)
}

// Report evaluates an objective over its current window.
func (t *SLOTracker) Report(operation string) (Report, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	o, ok := t.objectives[operation]
	if !ok {
		return Report{}, fmt.Errorf("no objective for operation %q", operation)
	}
	window := inWindow(slices.Clone(t.samples[operation]), t.now().Add(-o.Window))
	r := Report{Operation: operation, Samples: len(window), Met: true, BudgetLeft: 100}
	if len(window) == 0 {
		return r, nil
	}

	latencies := make([]time.Duration, len(window))
	okCount := 0
	for i, s := range window {
		latencies[i] = s.Latency
		if s.OK {
			okCount++
		}
	}
	slices.Sort(latencies)
	r.P99 = latencies[min(len(latencies)-1, len(latencies)*99/100)]
	r.SuccessRate = float64(okCount) / float64(len(window))

	budget := 1 - o.SuccessRate
	failures := 1 - r.SuccessRate
	switch {
	case budget > 0:
		r.BurnRate = failures / budget
		r.BudgetLeft = max(0, 100*(1-r.BurnRate))
	case failures > 0:
		r.BudgetLeft = 0
	}
	r.Met = r.P99 <= o.P99 && r.SuccessRate >= o.SuccessRate
	return r, nil
}

// inWindow filters samples in place, keeping those after cutoff.
func inWindow(samples []Sample, cutoff time.Time) []Sample {
	kept := samples[:0]
	for _, s := range samples {
		if s.At.After(cutoff) {
			kept = append(kept, s)
		}
	}
	return kept
}
