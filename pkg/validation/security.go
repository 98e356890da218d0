package validation

import (
	"context"
	"fmt"

	"github.com/glass-erp/deleteflow/pkg/contracts"
)

// SessionVerifier checks that the caller's session token is still valid.
type SessionVerifier interface {
	Verify(ctx context.Context, token string) error
}

// Security messages shown to the user.
const (
	msgRateLimitWarning   = "You have reached the maximum number of deletion attempts for this session."
	msgSessionInvalid     = "Your session is no longer valid. Please sign in again."
	msgSuspiciousActivity = "Unusual activity was detected in this session. The deletion will be reviewed."
)

// checkSecurity evaluates the per-session security checks. It returns the
// checks, the blocking errors and the advisory warnings.
func (e *Engine) checkSecurity(ctx context.Context, in Input) (map[string]contracts.SecurityCheck, map[string]string, []string) {
	sec := in.Security
	checks := make(map[string]contracts.SecurityCheck, 3)
	errs := make(map[string]string)
	var warnings []string

	rate := contracts.SecurityCheck{Passed: sec.RecentAttempts <= e.maxAttempts}
	if !rate.Passed {
		rate.Message = fmt.Sprintf("Too many deletion attempts (%d of %d allowed).", sec.RecentAttempts, e.maxAttempts)
		errs[contracts.ErrorKeySecurity] = rate.Message
	}
	if sec.RecentAttempts >= e.maxAttempts || sec.RateLimitWarning {
		warnings = append(warnings, msgRateLimitWarning)
	}
	checks[contracts.CheckRateLimit] = rate

	session := contracts.SecurityCheck{Passed: true}
	if e.session != nil {
		if err := e.session.Verify(ctx, in.User.SessionToken); err != nil {
			e.logger.Warn("session verification failed", "user", in.User.ID, "error", err)
			session = contracts.SecurityCheck{Passed: false, Message: msgSessionInvalid}
			errs[contracts.ErrorKeySecurity] = msgSessionInvalid
		}
	}
	checks[contracts.CheckSession] = session

	suspicious := contracts.SecurityCheck{Passed: true, Flagged: sec.SuspiciousActivity}
	if sec.SuspiciousActivity {
		suspicious.Message = msgSuspiciousActivity
		warnings = append(warnings, msgSuspiciousActivity)
	}
	checks[contracts.CheckSuspiciousActivity] = suspicious

	return checks, errs, warnings
}
