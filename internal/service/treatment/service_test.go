package treatment_test

import (
	"context"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/careflow/clinical-records/internal/model"
	"github.com/careflow/clinical-records/internal/repository"
	"github.com/careflow/clinical-records/internal/service/event"
	"github.com/careflow/clinical-records/internal/service/treatment"
	"github.com/careflow/clinical-records/pkg/apperror"
	"github.com/careflow/clinical-records/pkg/logger"
	"github.com/careflow/clinical-records/pkg/messaging/memory"
)

func testLogger() *logger.Logger {
	return logger.NewLogger(&logger.Config{
		Level:      logger.FatalLevel,
		TimeFormat: time.RFC3339,
		Output:     io.Discard,
	})
}

type treatmentStore struct {
	mu         sync.Mutex
	rows       map[uuid.UUID]*model.Treatment
	lastFilter *model.TreatmentFilter
}

func newTreatmentStore() *treatmentStore {
	return &treatmentStore{rows: make(map[uuid.UUID]*model.Treatment)}
}

func (s *treatmentStore) Create(ctx context.Context, tr *model.Treatment) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if tr.ID == uuid.Nil {
		tr.ID = uuid.New()
	}
	clone := *tr
	s.rows[tr.ID] = &clone
	return nil
}

func (s *treatmentStore) Get(ctx context.Context, id uuid.UUID) (*model.Treatment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	row, ok := s.rows[id]
	if !ok {
		return nil, apperror.NotFound("treatment", nil)
	}
	clone := *row
	return &clone, nil
}

func (s *treatmentStore) Update(ctx context.Context, tr *model.Treatment) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	clone := *tr
	s.rows[tr.ID] = &clone
	return nil
}

func (s *treatmentStore) List(ctx context.Context, filter *model.TreatmentFilter) ([]*model.Treatment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastFilter = filter
	var out []*model.Treatment
	for _, row := range s.rows {
		if filter != nil && filter.PatientID != nil && row.PatientID != *filter.PatientID {
			continue
		}
		if filter != nil && filter.ApprovalStatus != nil && row.ApprovalStatus != *filter.ApprovalStatus {
			continue
		}
		clone := *row
		out = append(out, &clone)
	}
	return out, nil
}

type patientReader struct {
	rows map[uuid.UUID]*model.Patient
}

func (s *patientReader) Create(ctx context.Context, p *model.Patient) error { return nil }

func (s *patientReader) Get(ctx context.Context, id uuid.UUID) (*model.Patient, error) {
	row, ok := s.rows[id]
	if !ok {
		return nil, apperror.NotFound("patient", nil)
	}
	clone := *row
	return &clone, nil
}

func (s *patientReader) Update(ctx context.Context, p *model.Patient) error { return nil }

func (s *patientReader) List(ctx context.Context, filter *model.PatientFilter) ([]*model.Patient, error) {
	return nil, nil
}

type outboxRecorder struct {
	mu     sync.Mutex
	events []*model.OutboxEvent
}

func (r *outboxRecorder) Create(ctx context.Context, evt *model.OutboxEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, evt)
	return nil
}

func (r *outboxRecorder) ClaimPending(ctx context.Context, limit int) ([]*model.OutboxEvent, error) {
	return nil, nil
}
func (r *outboxRecorder) MarkProcessed(ctx context.Context, id uuid.UUID) error { return nil }
func (r *outboxRecorder) MarkFailed(ctx context.Context, id uuid.UUID, errMsg string, retryAt *time.Time) error {
	return nil
}
func (r *outboxRecorder) MoveToDeadLetter(ctx context.Context, evt *model.OutboxEvent) error {
	return nil
}
func (r *outboxRecorder) DeleteProcessedBefore(ctx context.Context, before time.Time) (int64, error) {
	return 0, nil
}

var (
	_ repository.TreatmentRepository = (*treatmentStore)(nil)
	_ repository.PatientRepository   = (*patientReader)(nil)
	_ repository.OutboxRepository    = (*outboxRecorder)(nil)
)

type fixture struct {
	svc      treatment.Service
	store    *treatmentStore
	patients *patientReader
	outbox   *outboxRecorder
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	broker := memory.NewBroker()
	t.Cleanup(func() { broker.Close() })

	f := &fixture{
		store:    newTreatmentStore(),
		patients: &patientReader{rows: make(map[uuid.UUID]*model.Patient)},
		outbox:   &outboxRecorder{},
	}
	events := event.NewService(f.outbox, broker, testLogger(), nil)
	f.svc = treatment.NewService(f.store, f.patients, events, testLogger())
	return f
}

func actor(role string) *model.User {
	return &model.User{Base: model.Base{ID: uuid.New()}, Role: role, IsApproved: true}
}

func seedPatient(f *fixture, addedBy uuid.UUID, status string) *model.Patient {
	p := &model.Patient{
		Base:    model.Base{ID: uuid.New()},
		Name:    "Jane Roe",
		AddedBy: addedBy,
		Status:  status,
	}
	f.patients.rows[p.ID] = p
	return p
}

func TestCreateStartsBothAxes(t *testing.T) {
	f := newFixture(t)
	student := actor(model.RoleStudent)
	p := seedPatient(f, student.ID, model.PatientStatusApproved)

	got, err := f.svc.Create(context.Background(), p.ID, &model.CreateTreatmentRequest{
		Procedure: "Root canal",
		Notes:     "upper left molar",
	}, student)
	require.NoError(t, err)

	assert.Equal(t, model.TreatmentStatusPlanned, got.Status)
	assert.Equal(t, model.ApprovalStatusPending, got.ApprovalStatus)
	assert.Equal(t, student.ID, got.AddedBy)
	assert.Equal(t, p.ID, got.PatientID)

	f.outbox.mu.Lock()
	require.Len(t, f.outbox.events, 1)
	assert.Equal(t, model.EventTreatmentPending, f.outbox.events[0].EventType)
	f.outbox.mu.Unlock()
}

func TestCreateRequiresApprovedPatient(t *testing.T) {
	f := newFixture(t)
	student := actor(model.RoleStudent)
	p := seedPatient(f, student.ID, model.PatientStatusPending)

	_, err := f.svc.Create(context.Background(), p.ID, &model.CreateTreatmentRequest{Procedure: "Root canal"}, student)
	require.Error(t, err)
	assert.Equal(t, apperror.CodeUnauthorized, apperror.CodeOf(err))
	assert.Empty(t, f.store.rows)
}

func TestCreateForeignPatientHidden(t *testing.T) {
	f := newFixture(t)
	student := actor(model.RoleStudent)
	p := seedPatient(f, uuid.New(), model.PatientStatusApproved)

	_, err := f.svc.Create(context.Background(), p.ID, &model.CreateTreatmentRequest{Procedure: "Root canal"}, student)
	require.Error(t, err)
	assert.Equal(t, apperror.CodeNotFound, apperror.CodeOf(err))
}

func TestCreateByDoctorOnAnyPatient(t *testing.T) {
	f := newFixture(t)
	doctor := actor(model.RoleDoctor)
	p := seedPatient(f, uuid.New(), model.PatientStatusApproved)

	got, err := f.svc.Create(context.Background(), p.ID, &model.CreateTreatmentRequest{Procedure: "Extraction"}, doctor)
	require.NoError(t, err)
	assert.Equal(t, doctor.ID, got.AddedBy)
}

func TestListForPatientStudentSeesOnlyApproved(t *testing.T) {
	f := newFixture(t)
	student := actor(model.RoleStudent)
	p := seedPatient(f, student.ID, model.PatientStatusApproved)

	approved := &model.Treatment{
		Base:           model.Base{ID: uuid.New()},
		PatientID:      p.ID,
		AddedBy:        student.ID,
		ApprovalStatus: model.ApprovalStatusApproved,
	}
	pending := &model.Treatment{
		Base:           model.Base{ID: uuid.New()},
		PatientID:      p.ID,
		AddedBy:        student.ID,
		ApprovalStatus: model.ApprovalStatusPending,
	}
	f.store.rows[approved.ID] = approved
	f.store.rows[pending.ID] = pending

	got, err := f.svc.ListForPatient(context.Background(), p.ID, student)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, approved.ID, got[0].ID)
}

func TestListForPatientApproverSeesEverything(t *testing.T) {
	f := newFixture(t)
	doctor := actor(model.RoleDoctor)
	p := seedPatient(f, uuid.New(), model.PatientStatusApproved)

	pending := &model.Treatment{
		Base:           model.Base{ID: uuid.New()},
		PatientID:      p.ID,
		ApprovalStatus: model.ApprovalStatusPending,
	}
	f.store.rows[pending.ID] = pending

	got, err := f.svc.ListForPatient(context.Background(), p.ID, doctor)
	require.NoError(t, err)
	assert.Len(t, got, 1)
	assert.Nil(t, f.store.lastFilter.ApprovalStatus)
}

func TestListForPatientForeignStudentHidden(t *testing.T) {
	f := newFixture(t)
	student := actor(model.RoleStudent)
	p := seedPatient(f, uuid.New(), model.PatientStatusApproved)

	_, err := f.svc.ListForPatient(context.Background(), p.ID, student)
	require.Error(t, err)
	assert.Equal(t, apperror.CodeNotFound, apperror.CodeOf(err))
}
