package view

import (
	"context"

	"github.com/google/uuid"

	"github.com/careflow/clinical-records/internal/model"
	"github.com/careflow/clinical-records/internal/repository"
	"github.com/careflow/clinical-records/pkg/feed"
	"github.com/careflow/clinical-records/pkg/logger"
	"github.com/careflow/clinical-records/pkg/messaging"
)

// NewApprovalQueue is the approvers' pending-only worklist: a subscriber
// filtered on status=pending. When a patient is decided, the update no
// longer matches the predicate and the reconciler drops the row, so the
// queue empties itself as decisions land on the feed.
func NewApprovalQueue(
	patientRepo repository.PatientRepository,
	broker messaging.Broker,
	log *logger.Logger,
	opts *feed.Options,
) *feed.Subscriber[*model.Patient] {
	pending := model.PatientStatusPending
	return feed.NewSubscriber(
		model.TablePatients,
		func(ctx context.Context) ([]*model.Patient, error) {
			return patientRepo.List(ctx, &model.PatientFilter{Status: &pending})
		},
		func(p *model.Patient) uuid.UUID { return p.ID },
		func(p *model.Patient) bool { return p.Status == model.PatientStatusPending },
		broker, log, opts,
	)
}
