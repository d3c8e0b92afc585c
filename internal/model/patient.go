package model

import (
	"time"

	"github.com/google/uuid"
)

// Patient approval states
const (
	PatientStatusPending  = "pending"
	PatientStatusApproved = "approved"
	PatientStatusRejected = "rejected"
)

// Patient is a record proposed by a student and decided by an approver.
// AddedBy scopes student visibility: a student only ever sees patients
// they added themselves.
type Patient struct {
	Base
	Name            string     `json:"name" db:"name"`
	DateOfBirth     *time.Time `json:"date_of_birth,omitempty" db:"date_of_birth"`
	Gender          string     `json:"gender" db:"gender"`
	Complaint       string     `json:"complaint" db:"complaint"`
	AddedBy         uuid.UUID  `json:"added_by" db:"added_by"`
	Status          string     `json:"status" db:"status"`
	ApprovedBy      *uuid.UUID `json:"approved_by,omitempty" db:"approved_by"`
	ApprovedAt      *time.Time `json:"approved_at,omitempty" db:"approved_at"`
	RejectionReason *string    `json:"rejection_reason,omitempty" db:"rejection_reason"`
}

// Decided reports whether the patient is in a terminal approval state.
func (p *Patient) Decided() bool {
	return p.Status == PatientStatusApproved || p.Status == PatientStatusRejected
}

// PatientFilter represents patient search parameters
type PatientFilter struct {
	AddedBy *uuid.UUID `json:"added_by" form:"added_by"`
	Status  *string    `json:"status" form:"status"`
}

type CreatePatientRequest struct {
	Name        string     `json:"name" binding:"required"`
	DateOfBirth *time.Time `json:"date_of_birth"`
	Gender      string     `json:"gender" binding:"omitempty,oneof=male female other"`
	Complaint   string     `json:"complaint" binding:"required"`
}

type RejectRequest struct {
	Reason string `json:"reason"`
}
