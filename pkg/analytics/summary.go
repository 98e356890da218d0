package analytics

import (
	"math"

	"github.com/glass-erp/deleteflow/pkg/contracts"
)

// Summary aggregates a set of analytics events.
type Summary struct {
	TotalEvents         int                         `json:"totalEvents"`
	EventsByType        map[contracts.EventType]int `json:"eventsByType"`
	SecurityFlagged     int                         `json:"securityFlagged"`
	MostFrequentReason  string                      `json:"mostFrequentReason,omitempty"`
	AverageCompletionMs float64                     `json:"averageCompletionMs"`
	AbandonmentRate     float64                     `json:"abandonmentRate"`
}

// Summarize aggregates events from one or many sessions.
//
// Completion time is measured from a session's workflow_start to its
// successful deletion_attempt. The abandonment rate is
// (starts - successes) / starts and is 0 when nothing was started.
func Summarize(events []contracts.Event) Summary {
	s := Summary{
		TotalEvents:  len(events),
		EventsByType: make(map[contracts.EventType]int),
	}
	reasons := make(map[string]int)
	starts := make(map[string]contracts.Event)
	var startCount, successCount int
	var completionTotal float64
	var completions int

	for _, e := range events {
		s.EventsByType[e.Type]++
		if e.Type.IsSecurity() {
			s.SecurityFlagged++
		}
		if r, ok := e.Data["reason"].(string); ok && r != "" && e.Type == contracts.EventDeletionAttempt {
			reasons[r]++
		}
		switch e.Type {
		case contracts.EventWorkflowStart:
			startCount++
			if _, seen := starts[e.SessionID]; !seen {
				starts[e.SessionID] = e
			}
		case contracts.EventDeletionAttempt:
			if ok, _ := e.Data["success"].(bool); !ok {
				continue
			}
			successCount++
			if start, found := starts[e.SessionID]; found {
				completionTotal += float64(e.Timestamp.Sub(start.Timestamp).Milliseconds())
				completions++
			}
		}
	}

	best := 0
	for r, n := range reasons {
		if n > best || (n == best && r < s.MostFrequentReason) {
			best, s.MostFrequentReason = n, r
		}
	}
	if completions > 0 {
		s.AverageCompletionMs = completionTotal / float64(completions)
	}
	if startCount > 0 {
		s.AbandonmentRate = math.Max(0, float64(startCount-successCount)/float64(startCount))
	}
	return s
}
