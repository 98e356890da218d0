package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/glass-erp/deleteflow/pkg/contracts"
)

// AutoSavePolicy controls local persistence of in-progress form state.
type AutoSavePolicy struct {
	Enabled   bool          `yaml:"enabled"`
	Delay     time.Duration `yaml:"delay" validate:"gte=0"`
	Freshness time.Duration `yaml:"freshness" validate:"gt=0"`
}

// CachePolicy sizes the validation result cache.
type CachePolicy struct {
	Capacity int           `yaml:"capacity" validate:"gte=0"`
	TTL      time.Duration `yaml:"ttl" validate:"gte=0"`
}

// Policy is the workflow policy: reasons, rules, limits and timings.
// It is loaded from YAML; unspecified fields keep their defaults.
type Policy struct {
	Reasons            []contracts.ReasonOption `yaml:"reasons" validate:"required,min=1,dive"`
	Rules              []contracts.BusinessRule `yaml:"rules" validate:"dive"`
	ConfirmationPhrase string                   `yaml:"confirmation_phrase" validate:"required"`
	MinDetailsLength   int                      `yaml:"min_details_length" validate:"gte=0"`
	MaxAttempts        int                      `yaml:"max_attempts" validate:"gte=1"`
	MaxEntryAge        time.Duration            `yaml:"max_entry_age" validate:"gt=0"`
	ValidationDebounce time.Duration            `yaml:"validation_debounce" validate:"gte=0"`
	AutoSave           AutoSavePolicy           `yaml:"autosave"`
	Cache              CachePolicy              `yaml:"cache"`
}

// DefaultPolicy returns the built-in workflow policy.
func DefaultPolicy() *Policy {
	return &Policy{
		Reasons:            contracts.DefaultReasons(),
		Rules:              contracts.DefaultBusinessRules(),
		ConfirmationPhrase: "DELETE WORK",
		MinDetailsLength:   10,
		MaxAttempts:        contracts.DefaultMaxAttempts,
		MaxEntryAge:        30 * 24 * time.Hour,
		ValidationDebounce: 300 * time.Millisecond,
		AutoSave: AutoSavePolicy{
			Enabled:   true,
			Delay:     time.Second,
			Freshness: time.Hour,
		},
		Cache: CachePolicy{
			Capacity: 100,
			TTL:      5 * time.Minute,
		},
	}
}

var policyValidate = validator.New(validator.WithRequiredStructEnabled())

// Validate checks the policy against its struct constraints.
func (p *Policy) Validate() error {
	if err := policyValidate.Struct(p); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			return fmt.Errorf("invalid policy: %s failed %q", verrs[0].Namespace(), verrs[0].Tag())
		}
		return fmt.Errorf("invalid policy: %w", err)
	}
	seen := make(map[string]bool, len(p.Reasons))
	for _, r := range p.Reasons {
		if seen[r.Code] {
			return fmt.Errorf("invalid policy: duplicate reason code %q", r.Code)
		}
		seen[r.Code] = true
	}
	return nil
}

// Reason returns the reason option with the given code.
func (p *Policy) Reason(code string) (contracts.ReasonOption, bool) {
	for _, r := range p.Reasons {
		if r.Code == code {
			return r, true
		}
	}
	return contracts.ReasonOption{}, false
}

// LoadPolicy loads a workflow policy from a YAML file.
// Empty path or a missing file returns defaults. Invalid YAML returns an error.
func LoadPolicy(path string) (*Policy, error) {
	if path == "" {
		return DefaultPolicy(), nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return DefaultPolicy(), nil
		}
		return nil, fmt.Errorf("load policy %q: %w", path, err)
	}

	// Start with defaults, YAML overwrites only specified fields
	p := DefaultPolicy()
	if err := yaml.Unmarshal(data, p); err != nil {
		return nil, fmt.Errorf("parse policy %q: %w", path, err)
	}
	if err := p.Validate(); err != nil {
		return nil, err
	}
	return p, nil
}
