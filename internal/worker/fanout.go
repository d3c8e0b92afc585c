package worker

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/careflow/clinical-records/internal/model"
	"github.com/careflow/clinical-records/internal/repository"
	"github.com/careflow/clinical-records/internal/service/notification"
	"github.com/careflow/clinical-records/pkg/logger"
	"github.com/careflow/clinical-records/pkg/messaging"
	"github.com/careflow/clinical-records/pkg/metrics"
)

type FanoutProcessorConfig struct {
	BatchSize     int
	PollInterval  time.Duration
	RetryAttempts int
	RetryDelay    time.Duration
	// CleanupInterval and ProcessedRetention bound the processed-row
	// backlog; zero values take the defaults.
	CleanupInterval    time.Duration
	ProcessedRetention time.Duration
}

const (
	defaultCleanupInterval    = time.Hour
	defaultProcessedRetention = 24 * time.Hour
)

// FanoutProcessor drains the outbox and turns each workflow event into
// notification rows via the fan-out service. It is the consumer half of
// the dual-write: the state transition already committed, so failures
// here are retried and eventually dead-lettered, never propagated back.
type FanoutProcessor struct {
	repo     repository.OutboxRepository
	notifier notification.Service
	broker   messaging.Broker
	config   FanoutProcessorConfig
	logger   *logger.Logger
	metrics  *metrics.Metrics
}

func NewFanoutProcessor(
	repo repository.OutboxRepository,
	notifier notification.Service,
	broker messaging.Broker,
	config FanoutProcessorConfig,
	log *logger.Logger,
	m *metrics.Metrics,
) *FanoutProcessor {
	if config.BatchSize <= 0 {
		panic("BatchSize must be greater than 0")
	}
	if config.PollInterval <= 0 {
		panic("PollInterval must be greater than 0")
	}
	if config.RetryAttempts <= 0 {
		panic("RetryAttempts must be greater than 0")
	}
	if config.RetryDelay <= 0 {
		panic("RetryDelay must be greater than 0")
	}
	if config.CleanupInterval <= 0 {
		config.CleanupInterval = defaultCleanupInterval
	}
	if config.ProcessedRetention <= 0 {
		config.ProcessedRetention = defaultProcessedRetention
	}

	return &FanoutProcessor{
		repo:     repo,
		notifier: notifier,
		broker:   broker,
		config:   config,
		logger:   log.WithComponent("fanout"),
		metrics:  m,
	}
}

// Start blocks until ctx is cancelled. The poll ticker is the reliable
// path; the wakeup channel just cuts latency when emitters announce
// fresh events.
func (p *FanoutProcessor) Start(ctx context.Context) {
	ticker := time.NewTicker(p.config.PollInterval)
	defer ticker.Stop()
	cleanup := time.NewTicker(p.config.CleanupInterval)
	defer cleanup.Stop()

	wakeup, err := p.broker.Subscribe(ctx, "outbox:wakeup")
	if err != nil {
		p.logger.Error(err, "wakeup subscription failed, polling only")
		wakeup = nil
	}

	p.logger.Info("starting fan-out processor")
	for {
		select {
		case <-ctx.Done():
			p.logger.Info("shutting down fan-out processor")
			return
		case <-ticker.C:
		case <-cleanup.C:
			p.cleanupProcessed(ctx)
			continue
		case _, ok := <-wakeup:
			if !ok {
				wakeup = nil
				continue
			}
		}
		if err := p.processEvents(ctx); err != nil {
			p.logger.Error(err, "failed to process events")
		}
	}
}

// cleanupProcessed trims processed rows older than the retention window.
// Failed and dead-lettered rows are untouched.
func (p *FanoutProcessor) cleanupProcessed(ctx context.Context) {
	cutoff := time.Now().Add(-p.config.ProcessedRetention)
	count, err := p.repo.DeleteProcessedBefore(ctx, cutoff)
	if err != nil {
		p.logger.Error(err, "failed to clean up processed events")
		return
	}
	if count > 0 {
		p.logger.Info("cleaned up processed events", "deleted", count)
	}
}

func (p *FanoutProcessor) processEvents(ctx context.Context) error {
	timer := prometheus.NewTimer(p.metrics.OutboxProcessingLatency)
	defer timer.ObserveDuration()

	events, err := p.repo.ClaimPending(ctx, p.config.BatchSize)
	if err != nil {
		p.metrics.DatabaseOperations.WithLabelValues("claim_pending_events", "error").Inc()
		return fmt.Errorf("failed to claim pending events: %w", err)
	}
	p.metrics.DatabaseOperations.WithLabelValues("claim_pending_events", "success").Inc()

	for _, event := range events {
		if err := p.processEvent(ctx, event); err != nil {
			p.logger.Error(err, "failed to process event",
				"event_id", event.ID.String(),
				"event_type", event.EventType)
		}
	}
	return nil
}

func (p *FanoutProcessor) processEvent(ctx context.Context, event *model.OutboxEvent) error {
	recipients, err := p.dispatch(ctx, event)
	if err != nil {
		p.metrics.OutboxEventsFailed.Inc()
		p.metrics.FanoutFailures.Inc()
		return p.handleFailure(ctx, event, err)
	}

	p.metrics.OutboxEventsProcessed.Inc()
	if err := p.repo.MarkProcessed(ctx, event.ID); err != nil {
		p.logger.Error(err, "failed to mark event processed", "event_id", event.ID.String())
		return err
	}

	p.logger.Debug("event fanned out",
		"event_type", event.EventType,
		"recipients", len(recipients))
	return nil
}

func (p *FanoutProcessor) dispatch(ctx context.Context, event *model.OutboxEvent) ([]uuid.UUID, error) {
	var lastErr error
	for attempt := 0; attempt < p.config.RetryAttempts; attempt++ {
		recipients, err := p.notifier.HandleEvent(ctx, event)
		if err == nil {
			return recipients, nil
		}
		lastErr = err
		p.metrics.OutboxRetries.WithLabelValues(event.EventType).Inc()
		if attempt < p.config.RetryAttempts-1 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(p.config.RetryDelay):
			}
		}
	}
	return nil, lastErr
}

func (p *FanoutProcessor) handleFailure(ctx context.Context, event *model.OutboxEvent, cause error) error {
	errMsg := cause.Error()
	event.ErrorMessage = &errMsg

	if event.RetryCount+1 >= p.config.RetryAttempts {
		if err := p.repo.MoveToDeadLetter(ctx, event); err != nil {
			p.logger.Error(err, "failed to dead-letter event", "event_id", event.ID.String())
			return err
		}
		p.logger.Warn("event moved to dead letter",
			"event_id", event.ID.String(),
			"event_type", event.EventType,
			"error", errMsg)
		return cause
	}

	retryAt := time.Now().Add(p.config.RetryDelay * time.Duration(event.RetryCount+1))
	if err := p.repo.MarkFailed(ctx, event.ID, errMsg, &retryAt); err != nil {
		p.logger.Error(err, "failed to mark event for retry", "event_id", event.ID.String())
		return err
	}
	return cause
}
