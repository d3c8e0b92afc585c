package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/careflow/clinical-records/internal/model"
	"github.com/careflow/clinical-records/internal/repository"
)

type outboxRepository struct {
	BaseRepository
}

func NewOutboxRepository(base BaseRepository) repository.OutboxRepository {
	return &outboxRepository{base}
}

func (r *outboxRepository) Create(ctx context.Context, event *model.OutboxEvent) error {
	if event == nil {
		return fmt.Errorf("event cannot be nil")
	}
	if event.Payload == nil {
		return fmt.Errorf("event payload cannot be nil")
	}

	query := `
		INSERT INTO outbox_events (
			id, event_type, payload, status, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6)
	`
	event.ID = uuid.New()
	event.CreatedAt = time.Now()
	event.UpdatedAt = event.CreatedAt
	event.Status = string(model.OutboxStatusPending)

	_, err := r.db.ExecContext(ctx, query,
		event.ID, event.EventType, event.Payload, event.Status,
		event.CreatedAt, event.UpdatedAt,
	)
	if err != nil {
		return mapErr("outbox event", err)
	}
	return nil
}

// ClaimPending selects a due batch with FOR UPDATE SKIP LOCKED and flags it
// processing in the same transaction, so concurrent workers never pick up
// the same event.
func (r *outboxRepository) ClaimPending(ctx context.Context, limit int) ([]*model.OutboxEvent, error) {
	var events []*model.OutboxEvent
	err := r.WithTx(ctx, func(tx *sqlx.Tx) error {
		query := `
			SELECT id, event_type, payload, status, error_message,
				retry_count, retry_at, created_at, processed_at, updated_at
			FROM outbox_events
			WHERE status IN ('pending', 'retry')
			AND (retry_at IS NULL OR retry_at <= NOW())
			ORDER BY created_at ASC
			FOR UPDATE SKIP LOCKED
			LIMIT $1
		`
		if err := tx.SelectContext(ctx, &events, query, limit); err != nil {
			return err
		}
		for _, evt := range events {
			if _, err := tx.ExecContext(ctx,
				`UPDATE outbox_events SET status = 'processing', updated_at = NOW() WHERE id = $1`,
				evt.ID,
			); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, mapErr("outbox events", err)
	}
	return events, nil
}

func (r *outboxRepository) MarkProcessed(ctx context.Context, id uuid.UUID) error {
	query := `
		UPDATE outbox_events
		SET status = 'processed', processed_at = NOW(), updated_at = NOW()
		WHERE id = $1
	`
	if _, err := r.db.ExecContext(ctx, query, id); err != nil {
		return mapErr("outbox event", err)
	}
	return nil
}

func (r *outboxRepository) MarkFailed(ctx context.Context, id uuid.UUID, errMsg string, retryAt *time.Time) error {
	status := string(model.OutboxStatusFailed)
	if retryAt != nil {
		status = string(model.OutboxStatusRetry)
	}
	query := `
		UPDATE outbox_events
		SET status = $1, error_message = $2, retry_at = $3,
			retry_count = retry_count + 1, updated_at = NOW()
		WHERE id = $4
	`
	if _, err := r.db.ExecContext(ctx, query, status, errMsg, retryAt, id); err != nil {
		return mapErr("outbox event", err)
	}
	return nil
}

func (r *outboxRepository) MoveToDeadLetter(ctx context.Context, evt *model.OutboxEvent) error {
	err := r.WithTx(ctx, func(tx *sqlx.Tx) error {
		insert := `
			INSERT INTO outbox_events_deadletter (
				event_id, event_type, payload, error_message, retry_count, created_at
			) VALUES ($1, $2, $3, $4, $5, NOW())
		`
		if _, err := tx.ExecContext(ctx, insert,
			evt.ID, evt.EventType, evt.Payload, evt.ErrorMessage, evt.RetryCount,
		); err != nil {
			return err
		}
		_, err := tx.ExecContext(ctx, `DELETE FROM outbox_events WHERE id = $1`, evt.ID)
		return err
	})
	if err != nil {
		return mapErr("outbox event", err)
	}
	return nil
}

func (r *outboxRepository) DeleteProcessedBefore(ctx context.Context, before time.Time) (int64, error) {
	query := `
		DELETE FROM outbox_events
		WHERE status = 'processed' AND processed_at < $1
	`
	result, err := r.db.ExecContext(ctx, query, before)
	if err != nil {
		return 0, mapErr("outbox events", err)
	}
	return result.RowsAffected()
}
