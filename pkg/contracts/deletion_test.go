package contracts

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNewDeletionPayload(t *testing.T) {
	f := DefaultFormData()
	f.Set(FieldReason, "other")
	f.Set(FieldDetails, "entered twice by mistake")
	f.Set("impactAssessment.project", true)
	f.Set(FieldConfirmation, "DELETE WORK")
	f.Set(FieldAcknowledgeConsequences, true)

	p := NewDeletionPayload("42", "sess", f, SecurityContext{RecentAttempts: 1})

	assert.Equal(t, "42", p.EntityID)
	assert.Equal(t, "other", p.Reason)
	assert.Equal(t, "entered twice by mistake", p.Details)
	assert.Equal(t, map[string]bool{"project": true, "reporting": false, "financial": false, "compliance": false}, p.ImpactAssessment)
	assert.True(t, p.AcknowledgeConsequences)
	assert.Equal(t, 1, p.SecurityContext.RecentAttempts)
	assert.Nil(t, p.Validate())
}

func TestDeletionPayload_ValidateUsesJSONNames(t *testing.T) {
	errs := DeletionPayload{}.Validate()

	for _, field := range []string{"entityId", "reason", "impactAssessment", "confirmation", "sessionId"} {
		assert.Contains(t, errs, field)
	}
	assert.NotContains(t, errs, "details")
}
