package contracts

// Synthetic error keys used alongside real field names.
const (
	ErrorKeyBusiness    = "business"
	ErrorKeySecurity    = "security"
	ErrorKeyPermissions = "permissions"
	ErrorKeyValidation  = "validation"
)

// Security check names.
const (
	CheckRateLimit          = "rateLimit"
	CheckSession            = "session"
	CheckSuspiciousActivity = "suspiciousActivity"
)

// StepValidation is the validation state of one workflow step.
type StepValidation struct {
	Step    Step     `json:"step"`
	Label   string   `json:"label"`
	IsValid bool     `json:"isValid"`
	Errors  []string `json:"errors,omitempty"`
}

// SecurityCheck is the outcome of one named security check.
// Flagged checks pass but carry an advisory message.
type SecurityCheck struct {
	Passed  bool   `json:"passed"`
	Flagged bool   `json:"flagged,omitempty"`
	Message string `json:"message,omitempty"`
}

// ValidationResult is derived from the form on every change. It is never persisted.
type ValidationResult struct {
	Errors         map[string]string        `json:"errors"`
	Warnings       []string                 `json:"warnings"`
	StepValidation []StepValidation         `json:"stepValidation"`
	SecurityChecks map[string]SecurityCheck `json:"securityChecks"`
}

// NewValidationResult returns an empty, valid result.
func NewValidationResult() *ValidationResult {
	return &ValidationResult{
		Errors:         make(map[string]string),
		Warnings:       []string{},
		StepValidation: []StepValidation{},
		SecurityChecks: make(map[string]SecurityCheck),
	}
}

// IsValid is true iff there are no errors, every step entry is valid
// and every security check passed.
func (r *ValidationResult) IsValid() bool {
	if r == nil || len(r.Errors) > 0 {
		return false
	}
	for _, sv := range r.StepValidation {
		if !sv.IsValid {
			return false
		}
	}
	for _, c := range r.SecurityChecks {
		if !c.Passed {
			return false
		}
	}
	return true
}

// StepValid reports whether step s has an entry that is valid.
// Steps that were not evaluated report false.
func (r *ValidationResult) StepValid(s Step) bool {
	if r == nil {
		return false
	}
	for _, sv := range r.StepValidation {
		if sv.Step == s {
			return sv.IsValid
		}
	}
	return false
}

// Clone returns a deep copy of the result.
func (r *ValidationResult) Clone() *ValidationResult {
	if r == nil {
		return nil
	}
	out := &ValidationResult{
		Errors:         make(map[string]string, len(r.Errors)),
		Warnings:       append([]string{}, r.Warnings...),
		StepValidation: make([]StepValidation, len(r.StepValidation)),
		SecurityChecks: make(map[string]SecurityCheck, len(r.SecurityChecks)),
	}
	for k, v := range r.Errors {
		out.Errors[k] = v
	}
	for i, sv := range r.StepValidation {
		sv.Errors = append([]string(nil), sv.Errors...)
		out.StepValidation[i] = sv
	}
	for k, v := range r.SecurityChecks {
		out.SecurityChecks[k] = v
	}
	return out
}
