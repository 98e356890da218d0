package validation

import (
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/glass-erp/deleteflow/pkg/contracts"
	"github.com/santhosh-tekuri/jsonschema/v5"
)

const schemaBaseURL = "https://deleteflow.schemas.local/steps/"

// stepSchemas holds one compiled JSON Schema per workflow step together with
// the user-facing message reported for each failing field.
type stepSchemas struct {
	compiled map[contracts.Step]*jsonschema.Schema
	messages map[string]string
}

func compileStepSchemas(reasons []contracts.ReasonOption, minDetails int, phrase string) (*stepSchemas, error) {
	docs := map[contracts.Step]map[string]any{
		contracts.StepReason:       reasonSchema(reasons, minDetails),
		contracts.StepImpact:       impactSchema(),
		contracts.StepConfirmation: confirmationSchema(),
	}

	s := &stepSchemas{
		compiled: make(map[contracts.Step]*jsonschema.Schema, len(docs)),
		messages: map[string]string{
			contracts.FieldReason:                  "Please select a valid reason for this deletion.",
			contracts.FieldDetails:                 fmt.Sprintf("Please explain this deletion in at least %d characters.", minDetails),
			contracts.FieldImpactAssessment:        "Impact acknowledgements must be yes or no.",
			contracts.FieldConfirmation:            fmt.Sprintf("Type %q to confirm the deletion.", phrase),
			contracts.FieldAcknowledgeConsequences: "You must acknowledge that this deletion cannot be undone.",
		},
	}
	for step, doc := range docs {
		raw, err := json.Marshal(doc)
		if err != nil {
			return nil, fmt.Errorf("encode %s schema: %w", step, err)
		}
		c := jsonschema.NewCompiler()
		c.Draft = jsonschema.Draft2020
		url := schemaBaseURL + step.String() + ".schema.json"
		if err := c.AddResource(url, strings.NewReader(string(raw))); err != nil {
			return nil, fmt.Errorf("%s schema load failed: %w", step, err)
		}
		compiled, err := c.Compile(url)
		if err != nil {
			return nil, fmt.Errorf("%s schema compile failed: %w", step, err)
		}
		s.compiled[step] = compiled
	}
	return s, nil
}

func reasonSchema(reasons []contracts.ReasonOption, minDetails int) map[string]any {
	codes := make([]string, 0, len(reasons))
	var justified []string
	for _, r := range reasons {
		codes = append(codes, r.Code)
		if r.RequiresJustification {
			justified = append(justified, r.Code)
		}
	}
	schema := map[string]any{
		"$schema":  "https://json-schema.org/draft/2020-12/schema",
		"type":     "object",
		"required": []string{contracts.FieldReason},
		"properties": map[string]any{
			contracts.FieldReason:  map[string]any{"type": "string", "enum": codes},
			contracts.FieldDetails: map[string]any{"type": "string"},
		},
	}
	if len(justified) > 0 {
		schema["allOf"] = []any{map[string]any{
			"if": map[string]any{
				"required":   []string{contracts.FieldReason},
				"properties": map[string]any{contracts.FieldReason: map[string]any{"enum": justified}},
			},
			"then": map[string]any{
				"required": []string{contracts.FieldDetails},
				"properties": map[string]any{
					contracts.FieldDetails: map[string]any{"type": "string", "minLength": minDetails},
				},
			},
		}}
	}
	return schema
}

func impactSchema() map[string]any {
	props := make(map[string]any, 4)
	for _, c := range contracts.ImpactCategories() {
		props[string(c)] = map[string]any{"type": "boolean"}
	}
	return map[string]any{
		"$schema":  "https://json-schema.org/draft/2020-12/schema",
		"type":     "object",
		"required": []string{contracts.FieldImpactAssessment},
		"properties": map[string]any{
			contracts.FieldImpactAssessment: map[string]any{
				"type":       "object",
				"properties": props,
			},
		},
	}
}

func confirmationSchema() map[string]any {
	return map[string]any{
		"$schema":  "https://json-schema.org/draft/2020-12/schema",
		"type":     "object",
		"required": []string{contracts.FieldConfirmation, contracts.FieldAcknowledgeConsequences},
		"properties": map[string]any{
			contracts.FieldConfirmation:            map[string]any{"type": "string", "minLength": 1},
			contracts.FieldAcknowledgeConsequences: map[string]any{"const": true},
		},
	}
}

// stepDocument extracts the fields owned by step from the form. Details and
// confirmation are trimmed so whitespace never satisfies a length bound.
func stepDocument(step contracts.Step, form contracts.FormData) map[string]any {
	doc := make(map[string]any)
	pick := func(name string, trim bool) {
		v, ok := form[name]
		if !ok || v == nil {
			return
		}
		if s, isString := v.(string); isString && trim {
			v = strings.TrimSpace(s)
		}
		doc[name] = v
	}
	switch step {
	case contracts.StepReason:
		pick(contracts.FieldReason, false)
		pick(contracts.FieldDetails, true)
	case contracts.StepImpact:
		pick(contracts.FieldImpactAssessment, false)
	case contracts.StepConfirmation:
		pick(contracts.FieldConfirmation, true)
		pick(contracts.FieldAcknowledgeConsequences, false)
	}
	return doc
}

// validate returns field name -> message for every schema violation of step.
func (s *stepSchemas) validate(step contracts.Step, form contracts.FormData) (map[string]string, error) {
	compiled, ok := s.compiled[step]
	if !ok {
		return nil, fmt.Errorf("no schema for step %d", step)
	}
	errs := make(map[string]string)
	err := compiled.Validate(stepDocument(step, form))
	if err == nil {
		return errs, nil
	}
	var ve *jsonschema.ValidationError
	if !errors.As(err, &ve) {
		return nil, fmt.Errorf("validate %s: %w", step, err)
	}
	for _, field := range failingFields(ve) {
		msg, ok := s.messages[field]
		if !ok {
			msg = ve.Error()
		}
		errs[field] = msg
	}
	return errs, nil
}

var quotedName = regexp.MustCompile(`'([^']+)'`)

// failingFields maps the leaves of a validation error tree to top-level
// field names, sorted for stable output.
func failingFields(ve *jsonschema.ValidationError) []string {
	seen := make(map[string]struct{})
	var walk func(e *jsonschema.ValidationError)
	walk = func(e *jsonschema.ValidationError) {
		if len(e.Causes) > 0 {
			for _, c := range e.Causes {
				walk(c)
			}
			return
		}
		if field := topLevelField(e.InstanceLocation); field != "" {
			seen[field] = struct{}{}
			return
		}
		// Missing required properties are reported at the document root.
		for _, m := range quotedName.FindAllStringSubmatch(e.Message, -1) {
			seen[m[1]] = struct{}{}
		}
	}
	walk(ve)

	out := make([]string, 0, len(seen))
	for f := range seen {
		out = append(out, f)
	}
	sort.Strings(out)
	return out
}

func topLevelField(instanceLocation string) string {
	loc := strings.TrimPrefix(instanceLocation, "/")
	head, _, _ := strings.Cut(loc, "/")
	return head
}
