package workflow

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/careflow/clinical-records/internal/model"
	"github.com/careflow/clinical-records/internal/repository"
	"github.com/careflow/clinical-records/internal/service/authz"
	"github.com/careflow/clinical-records/internal/service/event"
	"github.com/careflow/clinical-records/pkg/apperror"
	"github.com/careflow/clinical-records/pkg/logger"
)

// Service executes approval-state transitions. Every successful decision
// commits the new state first, then enqueues fan-out and publishes the feed
// event; a failure past the commit is logged, never rolled back, and never
// surfaced to the caller.
type Service struct {
	patientRepo   repository.PatientRepository
	treatmentRepo repository.TreatmentRepository
	userRepo      repository.UserRepository
	events        *event.Service
	logger        *logger.Logger
}

func NewService(
	patientRepo repository.PatientRepository,
	treatmentRepo repository.TreatmentRepository,
	userRepo repository.UserRepository,
	events *event.Service,
	log *logger.Logger,
) *Service {
	return &Service{
		patientRepo:   patientRepo,
		treatmentRepo: treatmentRepo,
		userRepo:      userRepo,
		events:        events,
		logger:        log.WithComponent("workflow"),
	}
}

func (s *Service) ApprovePatient(ctx context.Context, patientID uuid.UUID, actor *model.User) (*model.Patient, error) {
	return s.decidePatient(ctx, patientID, actor, authz.ActionApprovePatient, model.PatientStatusApproved, nil)
}

func (s *Service) RejectPatient(ctx context.Context, patientID uuid.UUID, actor *model.User, reason string) (*model.Patient, error) {
	var reasonPtr *string
	if reason != "" {
		reasonPtr = &reason
	}
	return s.decidePatient(ctx, patientID, actor, authz.ActionRejectPatient, model.PatientStatusRejected, reasonPtr)
}

func (s *Service) decidePatient(ctx context.Context, patientID uuid.UUID, actor *model.User, action authz.Action, newStatus string, reason *string) (*model.Patient, error) {
	if !authz.Allowed(actor.Role, action) {
		return nil, apperror.Unauthorized(actor.Role, string(action))
	}

	patient, err := s.patientRepo.Get(ctx, patientID)
	if err != nil {
		return nil, err
	}
	if patient.Decided() {
		return nil, apperror.AlreadyDecided("patient", patient.Status)
	}

	now := time.Now()
	patient.Status = newStatus
	patient.ApprovedBy = &actor.ID
	patient.ApprovedAt = &now
	patient.RejectionReason = reason

	if err := s.patientRepo.Update(ctx, patient); err != nil {
		return nil, err
	}

	eventType := model.EventPatientApproved
	if newStatus == model.PatientStatusRejected {
		eventType = model.EventPatientRejected
	}
	s.afterCommit(ctx, eventType, model.TablePatients, patient)
	return patient, nil
}

func (s *Service) ApproveTreatment(ctx context.Context, treatmentID uuid.UUID, actor *model.User) (*model.Treatment, error) {
	return s.decideTreatment(ctx, treatmentID, actor, authz.ActionApproveTreatment, model.ApprovalStatusApproved)
}

func (s *Service) RejectTreatment(ctx context.Context, treatmentID uuid.UUID, actor *model.User) (*model.Treatment, error) {
	return s.decideTreatment(ctx, treatmentID, actor, authz.ActionRejectTreatment, model.ApprovalStatusRejected)
}

func (s *Service) decideTreatment(ctx context.Context, treatmentID uuid.UUID, actor *model.User, action authz.Action, newStatus string) (*model.Treatment, error) {
	if !authz.Allowed(actor.Role, action) {
		return nil, apperror.Unauthorized(actor.Role, string(action))
	}

	treatment, err := s.treatmentRepo.Get(ctx, treatmentID)
	if err != nil {
		return nil, err
	}
	if treatment.Decided() {
		return nil, apperror.AlreadyDecided("treatment", treatment.ApprovalStatus)
	}

	now := time.Now()
	treatment.ApprovalStatus = newStatus
	treatment.ApprovedBy = &actor.ID
	treatment.ApprovedAt = &now

	if err := s.treatmentRepo.Update(ctx, treatment); err != nil {
		return nil, err
	}

	eventType := model.EventTreatmentApproved
	if newStatus == model.ApprovalStatusRejected {
		eventType = model.EventTreatmentRejected
	}
	s.afterCommit(ctx, eventType, model.TableTreatments, treatment)
	return treatment, nil
}

// clinicalOrder ranks the progress chain planned -> in_progress -> completed.
var clinicalOrder = map[string]int{
	model.TreatmentStatusPlanned:    0,
	model.TreatmentStatusInProgress: 1,
	model.TreatmentStatusCompleted:  2,
}

// SetTreatmentStatus advances the clinical axis. It is open to the owning
// student and to approvers, and deliberately ignores approvalStatus:
// clinical progress tracking is independent of authorization.
func (s *Service) SetTreatmentStatus(ctx context.Context, treatmentID uuid.UUID, status string, actor *model.User) (*model.Treatment, error) {
	newRank, ok := clinicalOrder[status]
	if !ok {
		return nil, apperror.BadRequest(fmt.Sprintf("unknown treatment status %q", status), nil)
	}

	treatment, err := s.treatmentRepo.Get(ctx, treatmentID)
	if err != nil {
		return nil, err
	}

	owns := treatment.AddedBy == actor.ID
	if !owns && !authz.Allowed(actor.Role, authz.ActionSetTreatmentStatus) {
		return nil, apperror.Unauthorized(actor.Role, string(authz.ActionSetTreatmentStatus))
	}

	if newRank < clinicalOrder[treatment.Status] {
		return nil, apperror.BadRequest(
			fmt.Sprintf("cannot move treatment back from %s to %s", treatment.Status, status), nil)
	}

	treatment.Status = status
	if err := s.treatmentRepo.Update(ctx, treatment); err != nil {
		return nil, err
	}

	// No fan-out for clinical progress; the feed still carries it so
	// dashboards stay current.
	s.publishChange(ctx, model.ChangeOpUpdate, model.TableTreatments, treatment)
	return treatment, nil
}

// ApproveUser flips the irreversible approval flag. There is no unapprove
// path, so an approved user is terminal.
func (s *Service) ApproveUser(ctx context.Context, userID uuid.UUID, actor *model.User) (*model.User, error) {
	if !authz.Allowed(actor.Role, authz.ActionApproveUser) {
		return nil, apperror.Unauthorized(actor.Role, string(authz.ActionApproveUser))
	}

	user, err := s.userRepo.Get(ctx, userID)
	if err != nil {
		return nil, err
	}
	if user.IsApproved {
		return nil, apperror.AlreadyDecided("user", "approved")
	}

	now := time.Now()
	user.IsApproved = true
	user.ApprovedBy = &actor.ID
	user.ApprovedAt = &now

	if err := s.userRepo.Update(ctx, user); err != nil {
		return nil, err
	}

	s.afterCommit(ctx, model.EventUserApproved, model.TableUsers, user)
	return user, nil
}

// afterCommit runs the best-effort side of the dual-write: outbox enqueue
// for fan-out plus feed publication. Failures here must not fail the
// transition that already committed.
func (s *Service) afterCommit(ctx context.Context, eventType, table string, row interface{}) {
	if err := s.events.Emit(ctx, eventType, row); err != nil {
		ferr := apperror.FanoutFailed(err)
		s.logger.Error(ferr, "state committed but fan-out enqueue failed", "event_type", eventType)
	}
	s.publishChange(ctx, model.ChangeOpUpdate, table, row)
}

func (s *Service) publishChange(ctx context.Context, op, table string, row interface{}) {
	s.events.PublishChange(ctx, op, table, row)
}
