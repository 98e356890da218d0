package contracts

import "strings"

// Form field names. Nested fields use a dotted path, e.g. "impactAssessment.project".
const (
	FieldReason                  = "reason"
	FieldDetails                 = "details"
	FieldImpactAssessment        = "impactAssessment"
	FieldConfirmation            = "confirmation"
	FieldAcknowledgeConsequences = "acknowledgeConsequences"
	FieldPassword                = "password"
)

// PathSeparator splits a nested field path.
const PathSeparator = "."

// ImpactCategory is an area of the business the user must acknowledge
// before a work entry can be deleted.
type ImpactCategory string

// Impact categories.
const (
	ImpactProject    ImpactCategory = "project"
	ImpactReporting  ImpactCategory = "reporting"
	ImpactFinancial  ImpactCategory = "financial"
	ImpactCompliance ImpactCategory = "compliance"
)

// ImpactCategories returns the four impact categories in display order.
func ImpactCategories() []ImpactCategory {
	return []ImpactCategory{ImpactProject, ImpactReporting, ImpactFinancial, ImpactCompliance}
}

// MinImpactAcknowledgements is the number of impact categories that must be
// acknowledged. It is a business invariant and is not configurable.
const MinImpactAcknowledgements = 2

// FormData holds the raw field values of the workflow form.
// Values are strings, booleans, or (for impactAssessment) a nested map.
type FormData map[string]any

// DefaultFormData returns the initial values of a fresh form.
func DefaultFormData() FormData {
	impact := make(map[string]any, 4)
	for _, c := range ImpactCategories() {
		impact[string(c)] = false
	}
	return FormData{
		FieldReason:                  "",
		FieldDetails:                 "",
		FieldImpactAssessment:        impact,
		FieldConfirmation:            "",
		FieldAcknowledgeConsequences: false,
		FieldPassword:                "",
	}
}

// Clone returns a deep copy of the form data. Nested maps are copied,
// other values are shared (they are immutable scalars).
func (f FormData) Clone() FormData {
	if f == nil {
		return nil
	}
	out := make(FormData, len(f))
	for k, v := range f {
		out[k] = cloneValue(v)
	}
	return out
}

func cloneValue(v any) any {
	m, ok := v.(map[string]any)
	if !ok {
		return v
	}
	cp := make(map[string]any, len(m))
	for k, inner := range m {
		cp[k] = cloneValue(inner)
	}
	return cp
}

// Set assigns value at path. A dotted path is split on the first separator
// and merged into the nested map at the head segment.
func (f FormData) Set(path string, value any) {
	head, rest, nested := strings.Cut(path, PathSeparator)
	if !nested {
		f[path] = value
		return
	}
	inner, ok := f[head].(map[string]any)
	if !ok {
		inner = make(map[string]any)
	} else {
		inner = cloneValue(inner).(map[string]any)
	}
	inner[rest] = value
	f[head] = inner
}

// Get returns the value at path, following at most one dotted segment.
func (f FormData) Get(path string) (any, bool) {
	head, rest, nested := strings.Cut(path, PathSeparator)
	if !nested {
		v, ok := f[path]
		return v, ok
	}
	inner, ok := f[head].(map[string]any)
	if !ok {
		return nil, false
	}
	v, ok := inner[rest]
	return v, ok
}

// String returns the string value of a top-level field, or "".
func (f FormData) String(name string) string {
	s, _ := f[name].(string)
	return s
}

// Bool returns the boolean value of a top-level field, or false.
func (f FormData) Bool(name string) bool {
	b, _ := f[name].(bool)
	return b
}

// Reason is the selected deletion reason code.
func (f FormData) Reason() string { return f.String(FieldReason) }

// Details is the free-text justification.
func (f FormData) Details() string { return f.String(FieldDetails) }

// Confirmation is the typed confirmation phrase, untrimmed.
func (f FormData) Confirmation() string { return f.String(FieldConfirmation) }

// AcknowledgeConsequences reports whether the consequence box is checked.
func (f FormData) AcknowledgeConsequences() bool { return f.Bool(FieldAcknowledgeConsequences) }

// Password is the optional re-authentication password.
func (f FormData) Password() string { return f.String(FieldPassword) }

// ImpactAssessment returns the acknowledgement flag for every impact category.
// Categories that are missing or not booleans read as false.
func (f FormData) ImpactAssessment() map[ImpactCategory]bool {
	out := make(map[ImpactCategory]bool, 4)
	inner, _ := f[FieldImpactAssessment].(map[string]any)
	for _, c := range ImpactCategories() {
		b, _ := inner[string(c)].(bool)
		out[c] = b
	}
	return out
}

// AcknowledgedImpacts counts the impact categories set to true.
func (f FormData) AcknowledgedImpacts() int {
	n := 0
	for _, ok := range f.ImpactAssessment() {
		if ok {
			n++
		}
	}
	return n
}
