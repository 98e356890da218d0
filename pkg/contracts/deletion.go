package contracts

import (
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
)

var payloadValidate = newPayloadValidator()

func newPayloadValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// DeletionPayload is the JSON body of the destructive DELETE request.
type DeletionPayload struct {
	EntityID                string          `json:"entityId" validate:"required"`
	Reason                  string          `json:"reason" validate:"required"`
	Details                 string          `json:"details,omitempty"`
	ImpactAssessment        map[string]bool `json:"impactAssessment" validate:"required,min=1"`
	Confirmation            string          `json:"confirmation" validate:"required"`
	AcknowledgeConsequences bool            `json:"acknowledgeConsequences"`
	SessionID               string          `json:"sessionId" validate:"required"`
	SecurityContext         SecurityContext `json:"securityContext"`
	Password                string          `json:"password,omitempty"`
}

// NewDeletionPayload builds the request body from the form.
func NewDeletionPayload(entityID, sessionID string, form FormData, sec SecurityContext) DeletionPayload {
	impact := make(map[string]bool, 4)
	for c, ok := range form.ImpactAssessment() {
		impact[string(c)] = ok
	}
	return DeletionPayload{
		EntityID:                entityID,
		Reason:                  form.Reason(),
		Details:                 form.Details(),
		ImpactAssessment:        impact,
		Confirmation:            form.Confirmation(),
		AcknowledgeConsequences: form.AcknowledgeConsequences(),
		SessionID:               sessionID,
		SecurityContext:         sec,
		Password:                form.Password(),
	}
}

// Validate checks the payload's required fields. It returns field name to
// message for every violation, or nil.
func (p DeletionPayload) Validate() map[string]string {
	err := payloadValidate.Struct(p)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return map[string]string{ErrorKeyValidation: err.Error()}
	}
	out := make(map[string]string, len(verrs))
	for _, fe := range verrs {
		out[fe.Field()] = fmt.Sprintf("The %s field failed %q.", fe.Field(), fe.Tag())
	}
	return out
}
