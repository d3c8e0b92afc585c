package notification

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"

	"github.com/careflow/clinical-records/internal/model"
	"github.com/careflow/clinical-records/internal/repository"
	"github.com/careflow/clinical-records/internal/service/event"
	"github.com/careflow/clinical-records/pkg/logger"
	"github.com/careflow/clinical-records/pkg/metrics"
)

// Config controls audience computation.
type Config struct {
	// IncludeSupervisors folds supervisors into the pending-approval
	// audience. Doctor + admin is the baseline.
	IncludeSupervisors bool
}

// Service computes the audience for workflow events and persists one
// notification row per recipient in a single batched insert. It is driven
// by the fan-out worker draining the outbox, never inline with the state
// write that triggered it.
type Service interface {
	HandleEvent(ctx context.Context, evt *model.OutboxEvent) ([]uuid.UUID, error)
	List(ctx context.Context, userID uuid.UUID) ([]*model.Notification, error)
	UnreadCount(ctx context.Context, userID uuid.UUID) (int, error)
	MarkRead(ctx context.Context, id, userID uuid.UUID) error
	MarkAllRead(ctx context.Context, userID uuid.UUID) error
}

type service struct {
	repo     repository.NotificationRepository
	userRepo repository.UserRepository
	events   *event.Service
	config   Config
	logger   *logger.Logger
	metrics  *metrics.Metrics
}

func NewService(
	repo repository.NotificationRepository,
	userRepo repository.UserRepository,
	events *event.Service,
	config Config,
	log *logger.Logger,
	m *metrics.Metrics,
) Service {
	return &service{
		repo:     repo,
		userRepo: userRepo,
		events:   events,
		config:   config,
		logger:   log.WithComponent("notification"),
		metrics:  m,
	}
}

func (s *service) HandleEvent(ctx context.Context, evt *model.OutboxEvent) ([]uuid.UUID, error) {
	var rows []*model.Notification
	var err error

	switch evt.EventType {
	case model.EventPatientPending:
		rows, err = s.patientPending(ctx, evt.Payload)
	case model.EventPatientApproved, model.EventPatientRejected:
		rows, err = s.patientDecided(evt.EventType, evt.Payload)
	case model.EventTreatmentPending:
		rows, err = s.treatmentPending(ctx, evt.Payload)
	case model.EventTreatmentApproved, model.EventTreatmentRejected:
		rows, err = s.treatmentDecided(evt.EventType, evt.Payload)
	case model.EventUserApproved:
		rows, err = s.userApproved(evt.Payload)
	default:
		s.logger.Warn("ignoring unknown event type", "event_type", evt.EventType)
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to build notifications for %s: %w", evt.EventType, err)
	}
	if len(rows) == 0 {
		return nil, nil
	}

	if err := s.repo.CreateBatch(ctx, rows); err != nil {
		return nil, fmt.Errorf("failed to insert notifications: %w", err)
	}

	recipients := make([]uuid.UUID, 0, len(rows))
	for _, n := range rows {
		recipients = append(recipients, n.UserID)
		s.events.PublishChange(ctx, model.ChangeOpInsert, model.TableNotifications, n)
	}
	if s.metrics != nil {
		s.metrics.NotificationsCreated.WithLabelValues(evt.EventType).Add(float64(len(rows)))
	}
	return recipients, nil
}

// approverAudience is the set of users notified of a new pending entity.
func (s *service) approverAudience(ctx context.Context) ([]*model.User, error) {
	roles := []string{model.RoleDoctor, model.RoleAdmin}
	if s.config.IncludeSupervisors {
		roles = append(roles, model.RoleSupervisor)
	}

	var audience []*model.User
	for _, role := range roles {
		r := role
		users, err := s.userRepo.List(ctx, &model.UserFilter{Role: &r})
		if err != nil {
			return nil, err
		}
		audience = append(audience, users...)
	}
	return audience, nil
}

func (s *service) patientPending(ctx context.Context, payload json.RawMessage) ([]*model.Notification, error) {
	var patient model.Patient
	if err := json.Unmarshal(payload, &patient); err != nil {
		return nil, err
	}

	audience, err := s.approverAudience(ctx)
	if err != nil {
		return nil, err
	}

	rows := make([]*model.Notification, 0, len(audience))
	for _, u := range audience {
		rows = append(rows, s.build(u.ID, model.NotificationTypeInfo,
			"Patient pending approval",
			fmt.Sprintf("%s is waiting for an approval decision", patient.Name),
			patient.ID, model.EntityTypePatient))
	}
	return rows, nil
}

func (s *service) patientDecided(eventType string, payload json.RawMessage) ([]*model.Notification, error) {
	var patient model.Patient
	if err := json.Unmarshal(payload, &patient); err != nil {
		return nil, err
	}

	ntype := model.NotificationTypeSuccess
	verb := "approved"
	if eventType == model.EventPatientRejected {
		ntype = model.NotificationTypeError
		verb = "rejected"
	}
	return []*model.Notification{s.build(patient.AddedBy, ntype,
		fmt.Sprintf("Patient %s", verb),
		fmt.Sprintf("Your patient %s was %s", patient.Name, verb),
		patient.ID, model.EntityTypePatient)}, nil
}

func (s *service) treatmentPending(ctx context.Context, payload json.RawMessage) ([]*model.Notification, error) {
	var treatment model.Treatment
	if err := json.Unmarshal(payload, &treatment); err != nil {
		return nil, err
	}

	audience, err := s.approverAudience(ctx)
	if err != nil {
		return nil, err
	}

	rows := make([]*model.Notification, 0, len(audience))
	for _, u := range audience {
		rows = append(rows, s.build(u.ID, model.NotificationTypeInfo,
			"Treatment pending approval",
			fmt.Sprintf("Proposed treatment %q needs an approval decision", treatment.Procedure),
			treatment.ID, model.EntityTypeTreatment))
	}
	return rows, nil
}

func (s *service) treatmentDecided(eventType string, payload json.RawMessage) ([]*model.Notification, error) {
	var treatment model.Treatment
	if err := json.Unmarshal(payload, &treatment); err != nil {
		return nil, err
	}

	ntype := model.NotificationTypeSuccess
	verb := "approved"
	if eventType == model.EventTreatmentRejected {
		ntype = model.NotificationTypeError
		verb = "rejected"
	}
	return []*model.Notification{s.build(treatment.AddedBy, ntype,
		fmt.Sprintf("Treatment %s", verb),
		fmt.Sprintf("Your treatment %q was %s", treatment.Procedure, verb),
		treatment.ID, model.EntityTypeTreatment)}, nil
}

func (s *service) userApproved(payload json.RawMessage) ([]*model.Notification, error) {
	var user model.User
	if err := json.Unmarshal(payload, &user); err != nil {
		return nil, err
	}
	return []*model.Notification{s.build(user.ID, model.NotificationTypeSuccess,
		"Account approved",
		"Your account has been approved, you now have full access",
		user.ID, model.EntityTypeUser)}, nil
}

func (s *service) build(userID uuid.UUID, ntype, title, message string, relatedID uuid.UUID, relatedType string) *model.Notification {
	rid := relatedID
	rtype := relatedType
	return &model.Notification{
		UserID:            userID,
		Type:              ntype,
		Title:             title,
		Message:           message,
		RelatedEntityID:   &rid,
		RelatedEntityType: &rtype,
	}
}

func (s *service) List(ctx context.Context, userID uuid.UUID) ([]*model.Notification, error) {
	return s.repo.ListForUser(ctx, userID)
}

func (s *service) UnreadCount(ctx context.Context, userID uuid.UUID) (int, error) {
	return s.repo.UnreadCount(ctx, userID)
}

// MarkRead flips one of the acting user's notifications; anyone else's is
// NotFound. Idempotent; re-marking is a no-op. The feed update keeps
// unread badges on other open dashboards current.
func (s *service) MarkRead(ctx context.Context, id, userID uuid.UUID) error {
	flipped, err := s.repo.MarkRead(ctx, id, userID)
	if err != nil {
		return err
	}
	if flipped != nil {
		s.events.PublishChange(ctx, model.ChangeOpUpdate, model.TableNotifications, flipped)
	}
	return nil
}

func (s *service) MarkAllRead(ctx context.Context, userID uuid.UUID) error {
	flipped, err := s.repo.MarkAllRead(ctx, userID)
	if err != nil {
		return err
	}
	for _, n := range flipped {
		s.events.PublishChange(ctx, model.ChangeOpUpdate, model.TableNotifications, n)
	}
	return nil
}
