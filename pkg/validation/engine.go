// Package validation combines schema, business-rule and security validation
// of the deletion form into a single ValidationResult.
package validation

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/glass-erp/deleteflow/pkg/config"
	"github.com/glass-erp/deleteflow/pkg/contracts"
)

// Input is everything a validation run depends on.
type Input struct {
	Form     contracts.FormData
	Step     contracts.Step
	Entry    contracts.WorkEntry
	User     contracts.UserContext
	Security contracts.SecurityContext
}

// Options configures an Engine.
type Options struct {
	Reasons            []contracts.ReasonOption
	Rules              []contracts.BusinessRule
	ConfirmationPhrase string
	MinDetailsLength   int
	MaxAttempts        int
	MaxEntryAge        time.Duration
	CacheCapacity      int
	CacheTTL           time.Duration
	Session            SessionVerifier
	Clock              func() time.Time
}

// OptionsFromPolicy derives engine options from a workflow policy.
func OptionsFromPolicy(p *config.Policy) Options {
	return Options{
		Reasons:            p.Reasons,
		Rules:              p.Rules,
		ConfirmationPhrase: p.ConfirmationPhrase,
		MinDetailsLength:   p.MinDetailsLength,
		MaxAttempts:        p.MaxAttempts,
		MaxEntryAge:        p.MaxEntryAge,
		CacheCapacity:      p.Cache.Capacity,
		CacheTTL:           p.Cache.TTL,
	}
}

// Engine validates deletion forms. It is safe for concurrent use.
type Engine struct {
	schemas     *stepSchemas
	rules       *RuleEvaluator
	cache       *resultCache
	session     SessionVerifier
	phrase      string
	maxAttempts int
	now         func() time.Time
	logger      *slog.Logger
}

// New compiles the step schemas and business rules.
func New(opts Options) (*Engine, error) {
	if len(opts.Reasons) == 0 {
		return nil, fmt.Errorf("validation: at least one reason is required")
	}
	if opts.ConfirmationPhrase == "" {
		return nil, fmt.Errorf("validation: confirmation phrase is required")
	}
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = contracts.DefaultMaxAttempts
	}
	if opts.MaxEntryAge <= 0 {
		opts.MaxEntryAge = 30 * 24 * time.Hour
	}
	if opts.Clock == nil {
		opts.Clock = time.Now
	}

	schemas, err := compileStepSchemas(opts.Reasons, opts.MinDetailsLength, opts.ConfirmationPhrase)
	if err != nil {
		return nil, fmt.Errorf("validation: %w", err)
	}
	rules, err := NewRuleEvaluator(opts.Rules, opts.MaxEntryAge)
	if err != nil {
		return nil, fmt.Errorf("validation: %w", err)
	}
	return &Engine{
		schemas:     schemas,
		rules:       rules,
		cache:       newResultCache(opts.CacheCapacity, opts.CacheTTL, opts.Clock),
		session:     opts.Session,
		phrase:      opts.ConfirmationPhrase,
		maxAttempts: opts.MaxAttempts,
		now:         opts.Clock,
		logger:      slog.Default().With("component", "validation"),
	}, nil
}

// MaxAttempts is the per-session submission limit the engine enforces.
func (e *Engine) MaxAttempts() int { return e.maxAttempts }

// Validate runs every validation layer for steps 0..in.Step and returns the
// merged result. Business conditions never produce an error; an internal
// failure yields an invalid result carrying a single "validation" error.
func (e *Engine) Validate(ctx context.Context, in Input) (res *contracts.ValidationResult) {
	defer func() {
		if r := recover(); r != nil {
			e.logger.Error("validation panicked", "panic", r, "entry", in.Entry.ID)
			res = internalFailure()
		}
	}()

	step := in.Step
	if step < contracts.StepReason {
		step = contracts.StepReason
	}
	if step > contracts.StepConfirmation {
		step = contracts.StepConfirmation
	}

	key, err := cacheKey(in, step)
	if err != nil {
		e.logger.Error("validation cache key failed", "error", err, "entry", in.Entry.ID)
		return internalFailure()
	}
	res, err = e.cache.getOrCompute(key, func() (*contracts.ValidationResult, error) {
		return e.evaluate(in, step)
	})
	if err != nil {
		e.logger.Error("validation failed", "error", err, "entry", in.Entry.ID)
		return internalFailure()
	}

	checks, secErrs, warnings := e.checkSecurity(ctx, in)
	res.SecurityChecks = checks
	res.Warnings = append(res.Warnings, warnings...)
	MergeErrors(res.Errors, secErrs)
	return res
}

// ValidateSubmission validates the whole form, as done before the
// destructive request is sent.
func (e *Engine) ValidateSubmission(ctx context.Context, in Input) *contracts.ValidationResult {
	in.Step = contracts.StepConfirmation
	return e.Validate(ctx, in)
}

// CacheStats reports validation cache activity.
func (e *Engine) CacheStats() CacheStats {
	return e.cache.stats()
}

func (e *Engine) evaluate(in Input, upTo contracts.Step) (*contracts.ValidationResult, error) {
	res := contracts.NewValidationResult()
	for _, step := range contracts.Steps() {
		if step > upTo {
			break
		}
		fieldErrs, err := e.schemas.validate(step, in.Form)
		if err != nil {
			return nil, err
		}
		e.checkStep(step, in.Form, fieldErrs)

		sv := contracts.StepValidation{Step: step, Label: step.Label(), IsValid: len(fieldErrs) == 0}
		fields := make([]string, 0, len(fieldErrs))
		for f := range fieldErrs {
			fields = append(fields, f)
		}
		sort.Strings(fields)
		for _, f := range fields {
			sv.Errors = append(sv.Errors, fieldErrs[f])
		}
		res.StepValidation = append(res.StepValidation, sv)
		MergeErrors(res.Errors, fieldErrs)
	}

	bizErrs, err := e.rules.Evaluate(in.Entry, in.User, e.now())
	if err != nil {
		return nil, err
	}
	MergeErrors(res.Errors, bizErrs)
	return res, nil
}

// checkStep adds the rules that JSON Schema cannot express.
func (e *Engine) checkStep(step contracts.Step, form contracts.FormData, errs map[string]string) {
	switch step {
	case contracts.StepImpact:
		if _, bad := errs[contracts.FieldImpactAssessment]; !bad && form.AcknowledgedImpacts() < contracts.MinImpactAcknowledgements {
			errs[contracts.FieldImpactAssessment] = fmt.Sprintf("Acknowledge at least %d of the %d impact areas.",
				contracts.MinImpactAcknowledgements, len(contracts.ImpactCategories()))
		}
	case contracts.StepConfirmation:
		if _, bad := errs[contracts.FieldConfirmation]; !bad && !PhraseMatches(form.Confirmation(), e.phrase) {
			errs[contracts.FieldConfirmation] = e.schemas.messages[contracts.FieldConfirmation]
		}
	}
}

func internalFailure() *contracts.ValidationResult {
	res := contracts.NewValidationResult()
	res.Errors[contracts.ErrorKeyValidation] = "Validation could not be completed. Please try again."
	return res
}
