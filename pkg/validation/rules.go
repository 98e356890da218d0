package validation

import (
	"fmt"
	"sync"
	"time"

	"github.com/glass-erp/deleteflow/pkg/contracts"
	"github.com/google/cel-go/cel"
)

// RuleEvaluator evaluates business eligibility rules written in CEL.
// Compiled programs are cached by expression.
type RuleEvaluator struct {
	env      *cel.Env
	rules    []contracts.BusinessRule
	maxAge   time.Duration
	prgCache map[string]cel.Program
	mu       sync.RWMutex
}

// NewRuleEvaluator compiles every rule up front so a malformed policy fails
// at construction instead of on the first validation.
func NewRuleEvaluator(rules []contracts.BusinessRule, maxAge time.Duration) (*RuleEvaluator, error) {
	env, err := cel.NewEnv(
		cel.Variable("entry", cel.MapType(cel.StringType, cel.DynType)),
		cel.Variable("user", cel.MapType(cel.StringType, cel.DynType)),
		cel.Variable("now", cel.IntType),
		cel.Variable("max_age_seconds", cel.IntType),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create CEL environment: %w", err)
	}
	e := &RuleEvaluator{
		env:      env,
		rules:    append([]contracts.BusinessRule(nil), rules...),
		maxAge:   maxAge,
		prgCache: make(map[string]cel.Program, len(rules)),
	}
	for _, r := range e.rules {
		if _, err := e.program(r.Expr); err != nil {
			return nil, fmt.Errorf("rule %s: %w", r.ID, err)
		}
	}
	return e, nil
}

// Evaluate runs every rule against the entry and user. Violated rules are
// reported under their key; a later rule with the same key overwrites an
// earlier one. A non-nil error means a rule could not be evaluated at all.
func (e *RuleEvaluator) Evaluate(entry contracts.WorkEntry, user contracts.UserContext, now time.Time) (map[string]string, error) {
	input := map[string]any{
		"entry":           entryVars(entry, now),
		"user":            userVars(user),
		"now":             now.Unix(),
		"max_age_seconds": int64(e.maxAge / time.Second),
	}
	errs := make(map[string]string)
	for _, r := range e.rules {
		allowed, err := e.eval(r.Expr, input)
		if err != nil {
			return nil, fmt.Errorf("rule %s: %w", r.ID, err)
		}
		if !allowed {
			MergeErrors(errs, map[string]string{r.Key: r.Message})
		}
	}
	return errs, nil
}

func (e *RuleEvaluator) program(expr string) (cel.Program, error) {
	e.mu.RLock()
	prg, hit := e.prgCache[expr]
	e.mu.RUnlock()
	if hit {
		return prg, nil
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if prg, hit = e.prgCache[expr]; hit {
		return prg, nil
	}
	ast, issues := e.env.Compile(expr)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("compile: %w", issues.Err())
	}
	prg, err := e.env.Program(ast,
		cel.InterruptCheckFrequency(100),
		cel.CostLimit(10000),
	)
	if err != nil {
		return nil, fmt.Errorf("program: %w", err)
	}
	e.prgCache[expr] = prg
	return prg, nil
}

func (e *RuleEvaluator) eval(expr string, input map[string]any) (bool, error) {
	prg, err := e.program(expr)
	if err != nil {
		return false, err
	}
	out, _, err := prg.Eval(input)
	if err != nil {
		return false, fmt.Errorf("eval: %w", err)
	}
	val, ok := out.Value().(bool)
	if !ok {
		return false, fmt.Errorf("result not bool")
	}
	return val, nil
}

// entryVars exposes the entry with snake_case keys. An entry without a
// creation time is treated as created now.
func entryVars(entry contracts.WorkEntry, now time.Time) map[string]any {
	created := entry.CreatedAt
	if created.IsZero() {
		created = now
	}
	return map[string]any{
		"id":            entry.ID,
		"version":       entry.Version,
		"status":        string(entry.Status),
		"has_override":  entry.HasOverride,
		"owner_id":      entry.OwnerID,
		"project_id":    entry.ProjectID,
		"project_phase": string(entry.ProjectPhase),
		"created_at":    created.Unix(),
	}
}

func userVars(user contracts.UserContext) map[string]any {
	roles := user.Roles
	if roles == nil {
		roles = []string{}
	}
	perms := user.Permissions
	if perms == nil {
		perms = []string{}
	}
	return map[string]any{
		"id":          user.ID,
		"roles":       roles,
		"permissions": perms,
	}
}
