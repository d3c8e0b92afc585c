package treatment

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
	Create(ctx context.Context, patientID uuid.UUID, req *model.CreateTreatmentRequest, actor *model.User) (*model.Treatment, error)
	ListForPatient(ctx context.Context, patientID uuid.UUID, actor *model.User) ([]*model.Treatment, error)
}

type service struct {
	repo        repository.TreatmentRepository
	patientRepo repository.PatientRepository
	events      *event.Service
	logger      *logger.Logger
}

func NewService(repo repository.TreatmentRepository, patientRepo repository.PatientRepository, events *event.Service, log *logger.Logger) Service {
	return &service{
		repo:        repo,
		patientRepo: patientRepo,
		events:      events,
		logger:      log.WithComponent("treatment"),
	}
}

// Create proposes a treatment for an approved patient. Students may only
// propose against patients they added; corrections are new rows, so there
// is no update path here.
func (s *service) Create(ctx context.Context, patientID uuid.UUID, req *model.CreateTreatmentRequest, actor *model.User) (*model.Treatment, error) {
	patient, err := s.patientRepo.Get(ctx, patientID)
	if err != nil {
		return nil, err
	}

	if !authz.Allowed(actor.Role, authz.ActionViewAllPatients) && patient.AddedBy != actor.ID {
		return nil, apperror.NotFound("patient", nil)
	}
	if patient.Status != model.PatientStatusApproved {
		return nil, apperror.Unauthorized(actor.Role, "add treatment to unapproved patient")
	}

	treatment := &model.Treatment{
		PatientID:      patientID,
		AddedBy:        actor.ID,
		Procedure:      req.Procedure,
		Notes:          req.Notes,
		Status:         model.TreatmentStatusPlanned,
		ApprovalStatus: model.ApprovalStatusPending,
	}

	if err := s.repo.Create(ctx, treatment); err != nil {
		return nil, err
	}

	if err := s.events.Emit(ctx, model.EventTreatmentPending, treatment); err != nil {
		s.logger.Error(apperror.FanoutFailed(err), "treatment created but fan-out enqueue failed", "treatment_id", treatment.ID.String())
	}
	s.events.PublishChange(ctx, model.ChangeOpInsert, model.TableTreatments, treatment)

	return treatment, nil
}

// ListForPatient scopes by role: approvers see every row, students only
// approved treatments on their own patients.
func (s *service) ListForPatient(ctx context.Context, patientID uuid.UUID, actor *model.User) ([]*model.Treatment, error) {
	filter := &model.TreatmentFilter{PatientID: &patientID}
	if !authz.Allowed(actor.Role, authz.ActionViewAllTreatments) {
		patient, err := s.patientRepo.Get(ctx, patientID)
		if err != nil {
			return nil, err
		}
		if patient.AddedBy != actor.ID {
			return nil, apperror.NotFound("patient", nil)
		}
		approved := model.ApprovalStatusApproved
		filter.ApprovalStatus = &approved
	}
	return s.repo.List(ctx, filter)
}
