// Package authz is the single source of truth for role-gated actions.
// The workflow service consults it before every transition and handlers
// use it to gate UI-facing routes, so the two can never drift.
package authz

import "github.com/careflow/clinical-records/internal/model"

// Action names one operation on one entity type.
type Action string

const (
	ActionApprovePatient     Action = "patient.approve"
	ActionRejectPatient      Action = "patient.reject"
	ActionViewAllPatients    Action = "patient.view_all"
	ActionApproveTreatment   Action = "treatment.approve"
	ActionRejectTreatment    Action = "treatment.reject"
	ActionViewAllTreatments  Action = "treatment.view_all"
	ActionSetTreatmentStatus Action = "treatment.set_status"
	ActionApproveUser        Action = "user.approve"
	ActionCreateDoctor       Action = "user.create_doctor"
)

// allowed is the full (role, action) table. Anything absent is denied.
var allowed = map[Action]map[string]bool{
	ActionApprovePatient: {
		model.RoleDoctor:     true,
		model.RoleSupervisor: true,
		model.RoleAdmin:      true,
	},
	ActionRejectPatient: {
		model.RoleDoctor:     true,
		model.RoleSupervisor: true,
		model.RoleAdmin:      true,
	},
	ActionViewAllPatients: {
		model.RoleDoctor:     true,
		model.RoleSupervisor: true,
		model.RoleAdmin:      true,
	},
	ActionApproveTreatment: {
		model.RoleDoctor: true,
		model.RoleAdmin:  true,
	},
	ActionRejectTreatment: {
		model.RoleDoctor: true,
		model.RoleAdmin:  true,
	},
	ActionViewAllTreatments: {
		model.RoleDoctor:     true,
		model.RoleSupervisor: true,
		model.RoleAdmin:      true,
	},
	// Clinical progress is settable by approvers here; the owning student
	// is authorized separately in the workflow since ownership is
	// per-row, not per-role.
	ActionSetTreatmentStatus: {
		model.RoleDoctor:     true,
		model.RoleSupervisor: true,
		model.RoleAdmin:      true,
	},
	ActionApproveUser: {
		model.RoleAdmin: true,
	},
	ActionCreateDoctor: {
		model.RoleAdmin: true,
	},
}

// Allowed reports whether role may perform action. Pure lookup, callable
// from both the state machine and handler gating.
func Allowed(role string, action Action) bool {
	return allowed[action][role]
}
