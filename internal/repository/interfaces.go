package repository

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/careflow/clinical-records/internal/model"
)

// All repository interfaces in one file
type (
	UserRepository interface {
		Create(ctx context.Context, user *model.User) error
		Get(ctx context.Context, id uuid.UUID) (*model.User, error)
		GetByEmail(ctx context.Context, email string) (*model.User, error)
		Update(ctx context.Context, user *model.User) error
		List(ctx context.Context, filter *model.UserFilter) ([]*model.User, error)
	}

	PatientRepository interface {
		Create(ctx context.Context, patient *model.Patient) error
		Get(ctx context.Context, id uuid.UUID) (*model.Patient, error)
		Update(ctx context.Context, patient *model.Patient) error
		List(ctx context.Context, filter *model.PatientFilter) ([]*model.Patient, error)
	}

	TreatmentRepository interface {
		Create(ctx context.Context, treatment *model.Treatment) error
		Get(ctx context.Context, id uuid.UUID) (*model.Treatment, error)
		Update(ctx context.Context, treatment *model.Treatment) error
		List(ctx context.Context, filter *model.TreatmentFilter) ([]*model.Treatment, error)
	}

	NotificationRepository interface {
		// CreateBatch inserts all rows in a single statement so fan-out
		// latency does not scale with audience size.
		CreateBatch(ctx context.Context, notifications []*model.Notification) error
		ListForUser(ctx context.Context, userID uuid.UUID) ([]*model.Notification, error)
		UnreadCount(ctx context.Context, userID uuid.UUID) (int, error)
		// MarkRead and MarkAllRead return the rows they flipped so
		// callers can publish full rows onto the change feed. Both are
		// idempotent: already-read rows are untouched and not returned.
		// MarkRead is scoped to the owning user; a foreign or unknown
		// id is NotFound.
		MarkRead(ctx context.Context, id, userID uuid.UUID) (*model.Notification, error)
		MarkAllRead(ctx context.Context, userID uuid.UUID) ([]*model.Notification, error)
	}

	OutboxRepository interface {
		Create(ctx context.Context, event *model.OutboxEvent) error
		// ClaimPending atomically selects and locks a batch of due events.
		ClaimPending(ctx context.Context, limit int) ([]*model.OutboxEvent, error)
		MarkProcessed(ctx context.Context, id uuid.UUID) error
		MarkFailed(ctx context.Context, id uuid.UUID, errMsg string, retryAt *time.Time) error
		MoveToDeadLetter(ctx context.Context, evt *model.OutboxEvent) error
		DeleteProcessedBefore(ctx context.Context, before time.Time) (int64, error)
	}
)
