package postgres

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/careflow/clinical-records/internal/model"
	"github.com/careflow/clinical-records/internal/repository"
	"github.com/careflow/clinical-records/pkg/apperror"
)

type notificationRepository struct {
	BaseRepository
}

func NewNotificationRepository(base BaseRepository) repository.NotificationRepository {
	return &notificationRepository{base}
}

// CreateBatch inserts every row in one multi-VALUES statement. IDs and
// timestamps are assigned here; insertion order within the batch is the
// tiebreaker for equal timestamps.
func (r *notificationRepository) CreateBatch(ctx context.Context, notifications []*model.Notification) error {
	if len(notifications) == 0 {
		return nil
	}

	now := time.Now()
	placeholders := make([]string, 0, len(notifications))
	args := make([]interface{}, 0, len(notifications)*8)
	for i, n := range notifications {
		n.ID = uuid.New()
		n.CreatedAt = now
		base := i * 8
		placeholders = append(placeholders, fmt.Sprintf(
			"($%d, $%d, $%d, $%d, $%d, $%d, $%d, $%d)",
			base+1, base+2, base+3, base+4, base+5, base+6, base+7, base+8,
		))
		args = append(args,
			n.ID, n.UserID, n.Type, n.Title, n.Message,
			n.RelatedEntityID, n.RelatedEntityType, n.CreatedAt,
		)
	}

	query := `
		INSERT INTO notifications (
			id, user_id, type, title, message,
			related_entity_id, related_entity_type, created_at
		) VALUES ` + strings.Join(placeholders, ", ")

	if _, err := r.db.ExecContext(ctx, query, args...); err != nil {
		return mapErr("notifications", err)
	}
	return nil
}

func (r *notificationRepository) ListForUser(ctx context.Context, userID uuid.UUID) ([]*model.Notification, error) {
	query := `
		SELECT id, user_id, type, title, message, read,
			related_entity_id, related_entity_type, created_at
		FROM notifications
		WHERE user_id = $1
		ORDER BY created_at DESC, id DESC
	`
	var notifications []*model.Notification
	if err := r.db.SelectContext(ctx, &notifications, query, userID); err != nil {
		return nil, mapErr("notifications", err)
	}
	return notifications, nil
}

func (r *notificationRepository) UnreadCount(ctx context.Context, userID uuid.UUID) (int, error) {
	query := `SELECT COUNT(*) FROM notifications WHERE user_id = $1 AND read = FALSE`
	var count int
	if err := r.db.GetContext(ctx, &count, query, userID); err != nil {
		return 0, mapErr("notifications", err)
	}
	return count, nil
}

// MarkRead flips a single notification owned by userID. Idempotent:
// re-marking a read notification flips nothing and returns no row. A row
// belonging to someone else is indistinguishable from a missing one.
func (r *notificationRepository) MarkRead(ctx context.Context, id, userID uuid.UUID) (*model.Notification, error) {
	query := `
		UPDATE notifications SET read = TRUE
		WHERE id = $1 AND user_id = $2 AND read = FALSE
		RETURNING id, user_id, type, title, message, read,
			related_entity_id, related_entity_type, created_at
	`
	var flipped []*model.Notification
	if err := r.db.SelectContext(ctx, &flipped, query, id, userID); err != nil {
		return nil, mapErr("notification", err)
	}
	if len(flipped) > 0 {
		return flipped[0], nil
	}

	var exists bool
	existsQuery := `SELECT EXISTS (SELECT 1 FROM notifications WHERE id = $1 AND user_id = $2)`
	if err := r.db.GetContext(ctx, &exists, existsQuery, id, userID); err != nil {
		return nil, mapErr("notification", err)
	}
	if !exists {
		return nil, apperror.NotFound("notification", nil)
	}
	return nil, nil
}

func (r *notificationRepository) MarkAllRead(ctx context.Context, userID uuid.UUID) ([]*model.Notification, error) {
	query := `
		UPDATE notifications SET read = TRUE
		WHERE user_id = $1 AND read = FALSE
		RETURNING id, user_id, type, title, message, read,
			related_entity_id, related_entity_type, created_at
	`
	var flipped []*model.Notification
	if err := r.db.SelectContext(ctx, &flipped, query, userID); err != nil {
		return nil, mapErr("notifications", err)
	}
	return flipped, nil
}
