package model

import (
	"time"

	"github.com/google/uuid"
)

// Notification types
const (
	NotificationTypeInfo     = "info"
	NotificationTypeWarning  = "warning"
	NotificationTypeSuccess  = "success"
	NotificationTypeError    = "error"
	NotificationTypeApproval = "approval"
)

// Related-entity kinds. The back-reference is a weak link used for lookup
// and routing only, never ownership.
const (
	EntityTypePatient    = "patient"
	EntityTypeTreatment  = "treatment"
	EntityTypeUser       = "user"
	EntityTypeInternship = "internship"
)

// Notification is addressed to exactly one user. Rows are created by the
// fan-out worker and mutated only through read-state toggles.
type Notification struct {
	ID                uuid.UUID  `json:"id" db:"id"`
	UserID            uuid.UUID  `json:"user_id" db:"user_id"`
	Type              string     `json:"type" db:"type"`
	Title             string     `json:"title" db:"title"`
	Message           string     `json:"message" db:"message"`
	Read              bool       `json:"read" db:"read"`
	RelatedEntityID   *uuid.UUID `json:"related_entity_id,omitempty" db:"related_entity_id"`
	RelatedEntityType *string    `json:"related_entity_type,omitempty" db:"related_entity_type"`
	CreatedAt         time.Time  `json:"created_at" db:"created_at"`
}
