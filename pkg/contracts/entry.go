package contracts

import (
	"slices"
	"time"
)

// WorkStatus is the lifecycle status of a daily-work entry.
type WorkStatus string

// Work entry statuses.
const (
	WorkStatusDraft     WorkStatus = "draft"
	WorkStatusSubmitted WorkStatus = "submitted"
	WorkStatusApproved  WorkStatus = "approved"
	WorkStatusBilled    WorkStatus = "billed"
)

// ProjectPhase is the phase of the project a work entry belongs to.
type ProjectPhase string

// Project phases.
const (
	PhasePlanning  ProjectPhase = "planning"
	PhaseActive    ProjectPhase = "active"
	PhaseCompleted ProjectPhase = "completed"
)

// WorkEntry is the daily-work record the workflow is deleting.
//
//nolint:govet // fieldalignment: struct layout is human-readable
type WorkEntry struct {
	ID           string       `json:"id"`
	Version      int64        `json:"version"`
	Status       WorkStatus   `json:"status"`
	HasOverride  bool         `json:"has_override"`
	OwnerID      string       `json:"owner_id"`
	ProjectID    string       `json:"project_id,omitempty"`
	ProjectPhase ProjectPhase `json:"project_phase,omitempty"`
	CreatedAt    time.Time    `json:"created_at"`
}

// UserContext describes the user requesting the deletion.
type UserContext struct {
	ID           string   `json:"id"`
	Roles        []string `json:"roles,omitempty"`
	Permissions  []string `json:"permissions,omitempty"`
	SessionToken string   `json:"-"`
}

// HasPermission reports whether the user holds permission p.
func (u UserContext) HasPermission(p string) bool {
	return slices.Contains(u.Permissions, p)
}

// HasRole reports whether the user holds role r.
func (u UserContext) HasRole(r string) bool {
	return slices.Contains(u.Roles, r)
}
