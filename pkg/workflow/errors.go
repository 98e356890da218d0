package workflow

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/glass-erp/deleteflow/pkg/contracts"
	"github.com/glass-erp/deleteflow/pkg/deleter"
)

var (
	// ErrAlreadySucceeded is returned once the entry was deleted; a
	// succeeded workflow is terminal.
	ErrAlreadySucceeded = errors.New("workflow: deletion already succeeded")
	// ErrSubmitInProgress rejects a submit while another one is in flight.
	ErrSubmitInProgress = errors.New("workflow: submission already in progress")
	// ErrCancelled is the outcome of a cancelled submission. It is not a failure.
	ErrCancelled = deleter.ErrCancelled
)

// RateLimitedError refuses a submission without contacting the server.
type RateLimitedError struct {
	Attempts int
	Max      int
}

func (e *RateLimitedError) Error() string {
	return fmt.Sprintf("workflow: too many deletion attempts (%d of %d); start a new session to try again", e.Attempts, e.Max)
}

// Remaining is the number of attempts left, never negative.
func (e *RateLimitedError) Remaining() int {
	return max(0, e.Max-e.Attempts)
}

// ValidationError blocks step progression or submission. It carries the
// full result so callers can render field messages.
type ValidationError struct {
	Result *contracts.ValidationResult
}

func (e *ValidationError) Error() string {
	if e.Result == nil || len(e.Result.Errors) == 0 {
		return "workflow: validation failed"
	}
	return "workflow: validation failed: " + strings.Join(e.Fields(), ", ")
}

// Fields returns the sorted error keys.
func (e *ValidationError) Fields() []string {
	if e.Result == nil {
		return nil
	}
	keys := make([]string, 0, len(e.Result.Errors))
	for k := range e.Result.Errors {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// ErrorMessage is the user-facing text of a submission failure.
func ErrorMessage(err error) string {
	var rerr *deleter.RequestError
	if errors.As(err, &rerr) {
		return rerr.Message
	}
	var rl *RateLimitedError
	if errors.As(err, &rl) {
		return "Too many deletion attempts. Please start over in a new session."
	}
	var verr *ValidationError
	if errors.As(err, &verr) {
		return "Please correct the highlighted fields."
	}
	return deleter.FallbackMessage
}
