package contracts

// ReasonOption is one selectable deletion reason.
type ReasonOption struct {
	Code                  string `yaml:"code" json:"code" validate:"required"`
	Label                 string `yaml:"label" json:"label"`
	RequiresJustification bool   `yaml:"requires_justification" json:"requiresJustification"`
}

// BusinessRule is a CEL expression that must evaluate to true for the
// deletion to be allowed. Key is the error key reported when it does not.
type BusinessRule struct {
	ID      string `yaml:"id" json:"id" validate:"required"`
	Key     string `yaml:"key" json:"key" validate:"required,oneof=business permissions security"`
	Expr    string `yaml:"expr" json:"expr" validate:"required"`
	Message string `yaml:"message" json:"message" validate:"required"`
}

// Permissions consulted by the default business rules.
const (
	PermissionDeleteAnyWork = "delete_any_work"
	PermissionDeleteOldWork = "delete_old_work"
	RoleAdmin               = "admin"
)

// DefaultReasons returns the built-in reason catalogue.
func DefaultReasons() []ReasonOption {
	return []ReasonOption{
		{Code: "duplicate_entry", Label: "Duplicate entry"},
		{Code: "incorrect_data", Label: "Incorrect data", RequiresJustification: true},
		{Code: "wrong_project", Label: "Logged against the wrong project"},
		{Code: "wrong_date", Label: "Logged on the wrong date"},
		{Code: "test_entry", Label: "Test entry"},
		{Code: "data_privacy", Label: "Data privacy request", RequiresJustification: true},
		{Code: "other", Label: "Other", RequiresJustification: true},
	}
}

// DefaultBusinessRules returns the built-in deletion eligibility rules.
// Variables: entry, user, now (unix seconds), max_age_seconds.
func DefaultBusinessRules() []BusinessRule {
	return []BusinessRule{
		{
			ID:      "status.billed",
			Key:     ErrorKeyBusiness,
			Expr:    `entry.status != "billed"`,
			Message: "Billed work entries cannot be deleted.",
		},
		{
			ID:      "status.approved_without_override",
			Key:     ErrorKeyBusiness,
			Expr:    `!(entry.status == "approved" && !entry.has_override)`,
			Message: "Approved work entries can only be deleted with an override.",
		},
		{
			ID:      "project.completed",
			Key:     ErrorKeyBusiness,
			Expr:    `entry.project_phase != "completed"`,
			Message: "Work entries of completed projects cannot be deleted.",
		},
		{
			ID:      "ownership",
			Key:     ErrorKeyPermissions,
			Expr:    `entry.owner_id == user.id || "delete_any_work" in user.permissions || "admin" in user.roles`,
			Message: "You do not have permission to delete this work entry.",
		},
		{
			ID:      "age.elevated_permission",
			Key:     ErrorKeyPermissions,
			Expr:    `now - entry.created_at <= max_age_seconds || "delete_old_work" in user.permissions`,
			Message: "Deleting entries older than the retention threshold requires elevated permission.",
		},
	}
}
