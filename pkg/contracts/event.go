package contracts

import (
	"strings"
	"time"
)

// EventType is the category of an analytics event.
type EventType string

// Analytics event types.
const (
	EventWorkflowStart      EventType = "workflow_start"
	EventStepChange         EventType = "step_change"
	EventFieldChange        EventType = "field_change"
	EventValidationFailure  EventType = "validation_failure"
	EventDeletionAttempt    EventType = "deletion_attempt"
	EventDeletionFailed     EventType = "deletion_failed"
	EventAbandoned          EventType = "abandoned"
	EventPerformance        EventType = "performance"
	EventAutoSaveFailure    EventType = "autosave_failure"
	EventRateLimited        EventType = "security_rate_limited"
	EventRepeatedFailures   EventType = "security_repeated_failures"
	EventSuspiciousActivity EventType = "security_suspicious_activity"
)

// securityEventPrefix marks event types counted as security-flagged.
const securityEventPrefix = "security_"

// IsSecurity reports whether the event type is security-flagged.
func (t EventType) IsSecurity() bool {
	return strings.HasPrefix(string(t), securityEventPrefix)
}

// Event is one append-only analytics record.
type Event struct {
	ID        string         `json:"id"`
	Type      EventType      `json:"type"`
	Timestamp time.Time      `json:"timestamp"`
	SessionID string         `json:"sessionId"`
	Data      map[string]any `json:"data,omitempty"`
}
