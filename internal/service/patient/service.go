package patient

import (
	"context"

	"github.com/google/uuid"

	"github.com/careflow/clinical-records/internal/model"
	"github.com/careflow/clinical-records/internal/repository"
	"github.com/careflow/clinical-records/internal/service/authz"
	"github.com/careflow/clinical-records/internal/service/event"
	"github.com/careflow/clinical-records/pkg/apperror"
	"github.com/careflow/clinical-records/pkg/logger"
)

type Service interface {
	Create(ctx context.Context, req *model.CreatePatientRequest, actor *model.User) (*model.Patient, error)
	Get(ctx context.Context, id uuid.UUID, actor *model.User) (*model.Patient, error)
	List(ctx context.Context, status *string, actor *model.User) ([]*model.Patient, error)
	// VisibleTo is the row predicate behind student scoping, shared with
	// the dashboard views so filtering never diverges from the API.
	VisibleTo(actor *model.User) func(*model.Patient) bool
}

type service struct {
	repo   repository.PatientRepository
	events *event.Service
	logger *logger.Logger
}

func NewService(repo repository.PatientRepository, events *event.Service, log *logger.Logger) Service {
	return &service{
		repo:   repo,
		events: events,
		logger: log.WithComponent("patient"),
	}
}

// Create registers a pending patient owned by the submitting actor. The
// pending-approval fan-out to doctors and admins rides the outbox.
func (s *service) Create(ctx context.Context, req *model.CreatePatientRequest, actor *model.User) (*model.Patient, error) {
	patient := &model.Patient{
		Name:        req.Name,
		DateOfBirth: req.DateOfBirth,
		Gender:      req.Gender,
		Complaint:   req.Complaint,
		AddedBy:     actor.ID,
		Status:      model.PatientStatusPending,
	}

	if err := s.repo.Create(ctx, patient); err != nil {
		return nil, err
	}

	if err := s.events.Emit(ctx, model.EventPatientPending, patient); err != nil {
		s.logger.Error(apperror.FanoutFailed(err), "patient created but fan-out enqueue failed", "patient_id", patient.ID.String())
	}
	s.events.PublishChange(ctx, model.ChangeOpInsert, model.TablePatients, patient)

	return patient, nil
}

// Get returns the full profile. Students only reach patients they added,
// and only once approved; the pending summary stays visible through List.
func (s *service) Get(ctx context.Context, id uuid.UUID, actor *model.User) (*model.Patient, error) {
	patient, err := s.repo.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	if !authz.Allowed(actor.Role, authz.ActionViewAllPatients) {
		if patient.AddedBy != actor.ID {
			return nil, apperror.NotFound("patient", nil)
		}
		if patient.Status != model.PatientStatusApproved {
			return nil, apperror.Unauthorized(actor.Role, "view unapproved patient profile")
		}
	}
	return patient, nil
}

func (s *service) List(ctx context.Context, status *string, actor *model.User) ([]*model.Patient, error) {
	filter := &model.PatientFilter{Status: status}
	if !authz.Allowed(actor.Role, authz.ActionViewAllPatients) {
		filter.AddedBy = &actor.ID
	}
	return s.repo.List(ctx, filter)
}

func (s *service) VisibleTo(actor *model.User) func(*model.Patient) bool {
	if authz.Allowed(actor.Role, authz.ActionViewAllPatients) {
		return nil
	}
	id := actor.ID
	return func(p *model.Patient) bool {
		return p.AddedBy == id
	}
}
