package patient_test

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
	"github.com/careflow/clinical-records/internal/service/patient"
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

type patientStore struct {
	mu         sync.Mutex
	rows       map[uuid.UUID]*model.Patient
	lastFilter *model.PatientFilter
}

func newPatientStore() *patientStore {
	return &patientStore{rows: make(map[uuid.UUID]*model.Patient)}
}

func (s *patientStore) Create(ctx context.Context, p *model.Patient) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	clone := *p
	s.rows[p.ID] = &clone
	return nil
}

func (s *patientStore) Get(ctx context.Context, id uuid.UUID) (*model.Patient, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	row, ok := s.rows[id]
	if !ok {
		return nil, apperror.NotFound("patient", nil)
	}
	clone := *row
	return &clone, nil
}

func (s *patientStore) Update(ctx context.Context, p *model.Patient) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	clone := *p
	s.rows[p.ID] = &clone
	return nil
}

func (s *patientStore) List(ctx context.Context, filter *model.PatientFilter) ([]*model.Patient, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastFilter = filter
	var out []*model.Patient
	for _, row := range s.rows {
		if filter != nil && filter.AddedBy != nil && row.AddedBy != *filter.AddedBy {
			continue
		}
		if filter != nil && filter.Status != nil && row.Status != *filter.Status {
			continue
		}
		clone := *row
		out = append(out, &clone)
	}
	return out, nil
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

func (r *outboxRecorder) eventTypes() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.events))
	for _, e := range r.events {
		out = append(out, e.EventType)
	}
	return out
}

var (
	_ repository.PatientRepository = (*patientStore)(nil)
	_ repository.OutboxRepository  = (*outboxRecorder)(nil)
)

type fixture struct {
	svc    patient.Service
	store  *patientStore
	outbox *outboxRecorder
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	broker := memory.NewBroker()
	t.Cleanup(func() { broker.Close() })

	store := newPatientStore()
	outbox := &outboxRecorder{}
	events := event.NewService(outbox, broker, testLogger(), nil)
	return &fixture{
		svc:    patient.NewService(store, events, testLogger()),
		store:  store,
		outbox: outbox,
	}
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
	f.store.rows[p.ID] = p
	return p
}

func TestCreateStartsPending(t *testing.T) {
	f := newFixture(t)
	student := actor(model.RoleStudent)

	got, err := f.svc.Create(context.Background(), &model.CreatePatientRequest{
		Name:      "Jane Roe",
		Complaint: "toothache",
	}, student)
	require.NoError(t, err)

	assert.Equal(t, model.PatientStatusPending, got.Status)
	assert.Equal(t, student.ID, got.AddedBy)
	assert.Equal(t, []string{model.EventPatientPending}, f.outbox.eventTypes())

	stored, err := f.store.Get(context.Background(), got.ID)
	require.NoError(t, err)
	assert.Equal(t, model.PatientStatusPending, stored.Status)
}

func TestGetOwnApprovedPatient(t *testing.T) {
	f := newFixture(t)
	student := actor(model.RoleStudent)
	p := seedPatient(f, student.ID, model.PatientStatusApproved)

	got, err := f.svc.Get(context.Background(), p.ID, student)
	require.NoError(t, err)
	assert.Equal(t, p.ID, got.ID)
}

func TestGetOwnPendingPatientDenied(t *testing.T) {
	f := newFixture(t)
	student := actor(model.RoleStudent)
	p := seedPatient(f, student.ID, model.PatientStatusPending)

	_, err := f.svc.Get(context.Background(), p.ID, student)
	require.Error(t, err)
	assert.Equal(t, apperror.CodeUnauthorized, apperror.CodeOf(err))
}

func TestGetForeignPatientHidden(t *testing.T) {
	f := newFixture(t)
	student := actor(model.RoleStudent)
	p := seedPatient(f, uuid.New(), model.PatientStatusApproved)

	// Existence is not leaked to non-owners.
	_, err := f.svc.Get(context.Background(), p.ID, student)
	require.Error(t, err)
	assert.Equal(t, apperror.CodeNotFound, apperror.CodeOf(err))
}

func TestGetAsApprover(t *testing.T) {
	f := newFixture(t)
	doctor := actor(model.RoleDoctor)
	p := seedPatient(f, uuid.New(), model.PatientStatusPending)

	got, err := f.svc.Get(context.Background(), p.ID, doctor)
	require.NoError(t, err)
	assert.Equal(t, p.ID, got.ID)
}

func TestListScopesStudents(t *testing.T) {
	f := newFixture(t)
	student := actor(model.RoleStudent)
	mine := seedPatient(f, student.ID, model.PatientStatusPending)
	seedPatient(f, uuid.New(), model.PatientStatusPending)

	got, err := f.svc.List(context.Background(), nil, student)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, mine.ID, got[0].ID)

	require.NotNil(t, f.store.lastFilter)
	require.NotNil(t, f.store.lastFilter.AddedBy)
	assert.Equal(t, student.ID, *f.store.lastFilter.AddedBy)
}

func TestListUnscopedForApprovers(t *testing.T) {
	f := newFixture(t)
	supervisor := actor(model.RoleSupervisor)
	seedPatient(f, uuid.New(), model.PatientStatusPending)
	seedPatient(f, uuid.New(), model.PatientStatusApproved)

	got, err := f.svc.List(context.Background(), nil, supervisor)
	require.NoError(t, err)
	assert.Len(t, got, 2)
	assert.Nil(t, f.store.lastFilter.AddedBy)
}

func TestVisibleTo(t *testing.T) {
	f := newFixture(t)
	student := actor(model.RoleStudent)
	doctor := actor(model.RoleDoctor)

	assert.Nil(t, f.svc.VisibleTo(doctor))

	pred := f.svc.VisibleTo(student)
	require.NotNil(t, pred)
	assert.True(t, pred(&model.Patient{AddedBy: student.ID}))
	assert.False(t, pred(&model.Patient{AddedBy: uuid.New()}))
}
