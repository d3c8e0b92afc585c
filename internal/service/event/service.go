package event

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/careflow/clinical-records/internal/model"
	"github.com/careflow/clinical-records/internal/repository"
	"github.com/careflow/clinical-records/pkg/feed"
	"github.com/careflow/clinical-records/pkg/logger"
	"github.com/careflow/clinical-records/pkg/messaging"
	"github.com/careflow/clinical-records/pkg/metrics"
)

// Service is the write side of the dual-write: workflow transitions enqueue
// outbox events here for the fan-out worker, and committed row changes are
// published onto the change feed. Neither path participates in the caller's
// transaction; a feed-publish failure is logged and never fails the write.
type Service struct {
	outboxRepo repository.OutboxRepository
	broker     messaging.Broker
	logger     *logger.Logger
	metrics    *metrics.Metrics
}

func NewService(outboxRepo repository.OutboxRepository, broker messaging.Broker, log *logger.Logger, m *metrics.Metrics) *Service {
	return &Service{
		outboxRepo: outboxRepo,
		broker:     broker,
		logger:     log.WithComponent("event"),
		metrics:    m,
	}
}

// Emit persists a workflow event to the outbox for the fan-out worker.
func (s *Service) Emit(ctx context.Context, eventType string, payload interface{}) error {
	payloadJSON, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal payload: %w", err)
	}

	evt := &model.OutboxEvent{
		EventType: eventType,
		Payload:   payloadJSON,
	}
	if err := s.outboxRepo.Create(ctx, evt); err != nil {
		return fmt.Errorf("failed to create outbox event: %w", err)
	}

	// Nudge the worker so fan-out does not wait for the next poll.
	if err := s.broker.Publish(ctx, "outbox:wakeup", evt.ID.String()); err != nil {
		s.logger.Warn("outbox wakeup publish failed", "error", err.Error())
	}
	return nil
}

// PublishChange pushes a row change onto the table's feed channel.
// Best effort: subscribers that miss it converge on their next snapshot.
func (s *Service) PublishChange(ctx context.Context, op, table string, row interface{}) {
	rowJSON, err := json.Marshal(row)
	if err != nil {
		s.logger.Error(err, "failed to marshal feed row", "table", table)
		return
	}
	evt := model.ChangeEvent{Op: op, Table: table, Row: rowJSON}
	if err := s.broker.Publish(ctx, feed.Channel(table), evt); err != nil {
		s.logger.Error(err, "failed to publish change event", "table", table, "op", op)
		return
	}
	if s.metrics != nil {
		s.metrics.FeedEventsPublished.WithLabelValues(table).Inc()
	}
}
