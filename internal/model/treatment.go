package model

import (
	"time"

	"github.com/google/uuid"
)

// Clinical progress states. Independent of the approval axis: a treatment
// can be completed while its authorization is still pending.
const (
	TreatmentStatusPlanned    = "planned"
	TreatmentStatusInProgress = "in_progress"
	TreatmentStatusCompleted  = "completed"
)

// Approval states share the patient vocabulary.
const (
	ApprovalStatusPending  = "pending"
	ApprovalStatusApproved = "approved"
	ApprovalStatusRejected = "rejected"
)

// Treatment belongs to exactly one patient. Corrections are appended as new
// rows; existing rows are never destructively edited.
type Treatment struct {
	Base
	PatientID      uuid.UUID  `json:"patient_id" db:"patient_id"`
	AddedBy        uuid.UUID  `json:"added_by" db:"added_by"`
	Procedure      string     `json:"procedure" db:"procedure"`
	Notes          string     `json:"notes" db:"notes"`
	Status         string     `json:"status" db:"status"`
	ApprovalStatus string     `json:"approval_status" db:"approval_status"`
	ApprovedBy     *uuid.UUID `json:"approved_by,omitempty" db:"approved_by"`
	ApprovedAt     *time.Time `json:"approved_at,omitempty" db:"approved_at"`
}

// Decided reports whether the treatment's approval is terminal.
func (t *Treatment) Decided() bool {
	return t.ApprovalStatus == ApprovalStatusApproved || t.ApprovalStatus == ApprovalStatusRejected
}

// TreatmentFilter represents treatment search parameters
type TreatmentFilter struct {
	PatientID      *uuid.UUID `json:"patient_id" form:"patient_id"`
	AddedBy        *uuid.UUID `json:"added_by" form:"added_by"`
	ApprovalStatus *string    `json:"approval_status" form:"approval_status"`
}

type CreateTreatmentRequest struct {
	Procedure string `json:"procedure" binding:"required"`
	Notes     string `json:"notes"`
}

type SetTreatmentStatusRequest struct {
	Status string `json:"status" binding:"required,oneof=planned in_progress completed"`
}
