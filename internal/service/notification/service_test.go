package notification_test

import (
	"context"
	"encoding/json"
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
	"github.com/careflow/clinical-records/internal/service/notification"
	"github.com/careflow/clinical-records/pkg/apperror"
	"github.com/careflow/clinical-records/pkg/feed"
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

type notificationStore struct {
	mu         sync.Mutex
	batchCalls int
	rows       []*model.Notification
}

func newNotificationStore() *notificationStore {
	return &notificationStore{}
}

func (s *notificationStore) CreateBatch(ctx context.Context, notifications []*model.Notification) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.batchCalls++
	for _, n := range notifications {
		if n.ID == uuid.Nil {
			n.ID = uuid.New()
		}
		s.rows = append(s.rows, n)
	}
	return nil
}

func (s *notificationStore) ListForUser(ctx context.Context, userID uuid.UUID) ([]*model.Notification, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*model.Notification
	for _, n := range s.rows {
		if n.UserID == userID {
			clone := *n
			out = append(out, &clone)
		}
	}
	return out, nil
}

func (s *notificationStore) UnreadCount(ctx context.Context, userID uuid.UUID) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	count := 0
	for _, n := range s.rows {
		if n.UserID == userID && !n.Read {
			count++
		}
	}
	return count, nil
}

func (s *notificationStore) MarkRead(ctx context.Context, id, userID uuid.UUID) (*model.Notification, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, n := range s.rows {
		if n.ID == id && n.UserID == userID {
			if n.Read {
				return nil, nil
			}
			n.Read = true
			clone := *n
			return &clone, nil
		}
	}
	return nil, apperror.NotFound("notification", nil)
}

func (s *notificationStore) MarkAllRead(ctx context.Context, userID uuid.UUID) ([]*model.Notification, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var flipped []*model.Notification
	for _, n := range s.rows {
		if n.UserID == userID && !n.Read {
			n.Read = true
			clone := *n
			flipped = append(flipped, &clone)
		}
	}
	return flipped, nil
}

type roleUserStore struct {
	users []*model.User
}

func (s *roleUserStore) Create(ctx context.Context, u *model.User) error { return nil }

func (s *roleUserStore) Get(ctx context.Context, id uuid.UUID) (*model.User, error) {
	return nil, apperror.NotFound("user", nil)
}

func (s *roleUserStore) GetByEmail(ctx context.Context, email string) (*model.User, error) {
	return nil, apperror.NotFound("user", nil)
}

func (s *roleUserStore) Update(ctx context.Context, u *model.User) error { return nil }

func (s *roleUserStore) List(ctx context.Context, filter *model.UserFilter) ([]*model.User, error) {
	var out []*model.User
	for _, u := range s.users {
		if filter != nil && filter.Role != nil && u.Role != *filter.Role {
			continue
		}
		out = append(out, u)
	}
	return out, nil
}

type nullOutbox struct{}

func (nullOutbox) Create(ctx context.Context, evt *model.OutboxEvent) error { return nil }
func (nullOutbox) ClaimPending(ctx context.Context, limit int) ([]*model.OutboxEvent, error) {
	return nil, nil
}
func (nullOutbox) MarkProcessed(ctx context.Context, id uuid.UUID) error { return nil }
func (nullOutbox) MarkFailed(ctx context.Context, id uuid.UUID, errMsg string, retryAt *time.Time) error {
	return nil
}
func (nullOutbox) MoveToDeadLetter(ctx context.Context, evt *model.OutboxEvent) error { return nil }
func (nullOutbox) DeleteProcessedBefore(ctx context.Context, before time.Time) (int64, error) {
	return 0, nil
}

var (
	_ repository.NotificationRepository = (*notificationStore)(nil)
	_ repository.UserRepository         = (*roleUserStore)(nil)
	_ repository.OutboxRepository       = nullOutbox{}
)

func userWithRole(role string) *model.User {
	return &model.User{Base: model.Base{ID: uuid.New()}, Role: role, IsApproved: true}
}

type fixture struct {
	svc    notification.Service
	store  *notificationStore
	broker *memory.Broker
}

func newFixture(t *testing.T, includeSupervisors bool, users ...*model.User) *fixture {
	t.Helper()
	broker := memory.NewBroker()
	t.Cleanup(func() { broker.Close() })

	store := newNotificationStore()
	events := event.NewService(nullOutbox{}, broker, testLogger(), nil)
	svc := notification.NewService(store, &roleUserStore{users: users}, events,
		notification.Config{IncludeSupervisors: includeSupervisors}, testLogger(), nil)
	return &fixture{svc: svc, store: store, broker: broker}
}

func outboxEvent(t *testing.T, eventType string, payload interface{}) *model.OutboxEvent {
	t.Helper()
	raw, err := json.Marshal(payload)
	require.NoError(t, err)
	return &model.OutboxEvent{ID: uuid.New(), EventType: eventType, Payload: raw}
}

// subscribeFeed collects raw messages published on the notifications feed.
func subscribeFeed(t *testing.T, broker *memory.Broker) <-chan []byte {
	t.Helper()
	ch, err := broker.Subscribe(context.Background(), feed.Channel(model.TableNotifications))
	require.NoError(t, err)
	return ch
}

func recvCount(ch <-chan []byte, n int, wait time.Duration) int {
	got := 0
	timeout := time.After(wait)
	for got < n {
		select {
		case <-ch:
			got++
		case <-timeout:
			return got
		}
	}
	return got
}

func TestPatientPendingFanout(t *testing.T) {
	doctor1 := userWithRole(model.RoleDoctor)
	doctor2 := userWithRole(model.RoleDoctor)
	admin := userWithRole(model.RoleAdmin)
	supervisor := userWithRole(model.RoleSupervisor)
	student := userWithRole(model.RoleStudent)
	f := newFixture(t, false, doctor1, doctor2, admin, supervisor, student)
	feedCh := subscribeFeed(t, f.broker)

	patient := &model.Patient{
		Base:    model.Base{ID: uuid.New()},
		Name:    "Jane Roe",
		AddedBy: student.ID,
		Status:  model.PatientStatusPending,
	}
	recipients, err := f.svc.HandleEvent(context.Background(), outboxEvent(t, model.EventPatientPending, patient))
	require.NoError(t, err)

	require.Len(t, recipients, 3)
	assert.ElementsMatch(t, []uuid.UUID{doctor1.ID, doctor2.ID, admin.ID}, recipients)
	assert.Equal(t, 1, f.store.batchCalls)

	require.Len(t, f.store.rows, 3)
	for _, n := range f.store.rows {
		assert.Equal(t, model.NotificationTypeInfo, n.Type)
		assert.False(t, n.Read)
		require.NotNil(t, n.RelatedEntityID)
		assert.Equal(t, patient.ID, *n.RelatedEntityID)
		require.NotNil(t, n.RelatedEntityType)
		assert.Equal(t, model.EntityTypePatient, *n.RelatedEntityType)
	}

	assert.Equal(t, 3, recvCount(feedCh, 3, 2*time.Second))
}

func TestPatientPendingIncludesSupervisors(t *testing.T) {
	doctor := userWithRole(model.RoleDoctor)
	admin := userWithRole(model.RoleAdmin)
	supervisor := userWithRole(model.RoleSupervisor)
	f := newFixture(t, true, doctor, admin, supervisor)

	patient := &model.Patient{Base: model.Base{ID: uuid.New()}, Name: "Jane Roe", Status: model.PatientStatusPending}
	recipients, err := f.svc.HandleEvent(context.Background(), outboxEvent(t, model.EventPatientPending, patient))
	require.NoError(t, err)
	assert.ElementsMatch(t, []uuid.UUID{doctor.ID, admin.ID, supervisor.ID}, recipients)
}

func TestPatientApprovedNotifiesOwner(t *testing.T) {
	student := userWithRole(model.RoleStudent)
	f := newFixture(t, false)

	patient := &model.Patient{
		Base:    model.Base{ID: uuid.New()},
		Name:    "Jane Roe",
		AddedBy: student.ID,
		Status:  model.PatientStatusApproved,
	}
	recipients, err := f.svc.HandleEvent(context.Background(), outboxEvent(t, model.EventPatientApproved, patient))
	require.NoError(t, err)

	require.Len(t, recipients, 1)
	assert.Equal(t, student.ID, recipients[0])
	require.Len(t, f.store.rows, 1)
	assert.Equal(t, model.NotificationTypeSuccess, f.store.rows[0].Type)
	assert.Contains(t, f.store.rows[0].Message, "approved")
}

func TestPatientRejectedNotifiesOwner(t *testing.T) {
	student := userWithRole(model.RoleStudent)
	f := newFixture(t, false)

	patient := &model.Patient{
		Base:    model.Base{ID: uuid.New()},
		Name:    "Jane Roe",
		AddedBy: student.ID,
		Status:  model.PatientStatusRejected,
	}
	_, err := f.svc.HandleEvent(context.Background(), outboxEvent(t, model.EventPatientRejected, patient))
	require.NoError(t, err)

	require.Len(t, f.store.rows, 1)
	assert.Equal(t, model.NotificationTypeError, f.store.rows[0].Type)
	assert.Contains(t, f.store.rows[0].Message, "rejected")
}

func TestTreatmentDecidedNotifiesOwner(t *testing.T) {
	student := userWithRole(model.RoleStudent)
	f := newFixture(t, false)

	treatment := &model.Treatment{
		Base:      model.Base{ID: uuid.New()},
		AddedBy:   student.ID,
		Procedure: "Root canal",
	}
	recipients, err := f.svc.HandleEvent(context.Background(), outboxEvent(t, model.EventTreatmentApproved, treatment))
	require.NoError(t, err)
	require.Len(t, recipients, 1)
	assert.Equal(t, student.ID, recipients[0])
	require.Len(t, f.store.rows, 1)
	require.NotNil(t, f.store.rows[0].RelatedEntityType)
	assert.Equal(t, model.EntityTypeTreatment, *f.store.rows[0].RelatedEntityType)
}

func TestUserApprovedNotifiesUser(t *testing.T) {
	f := newFixture(t, false)

	approved := userWithRole(model.RoleStudent)
	recipients, err := f.svc.HandleEvent(context.Background(), outboxEvent(t, model.EventUserApproved, approved))
	require.NoError(t, err)
	require.Len(t, recipients, 1)
	assert.Equal(t, approved.ID, recipients[0])
}

func TestUnknownEventTypeIgnored(t *testing.T) {
	f := newFixture(t, false)

	recipients, err := f.svc.HandleEvent(context.Background(),
		outboxEvent(t, "patient.archived", map[string]string{"id": uuid.NewString()}))
	require.NoError(t, err)
	assert.Nil(t, recipients)
	assert.Zero(t, f.store.batchCalls)
}

func TestEmptyAudienceSkipsInsert(t *testing.T) {
	f := newFixture(t, false) // no approvers registered

	patient := &model.Patient{Base: model.Base{ID: uuid.New()}, Name: "Jane Roe"}
	recipients, err := f.svc.HandleEvent(context.Background(), outboxEvent(t, model.EventPatientPending, patient))
	require.NoError(t, err)
	assert.Empty(t, recipients)
	assert.Zero(t, f.store.batchCalls)
}

func TestMarkReadIdempotent(t *testing.T) {
	student := userWithRole(model.RoleStudent)
	f := newFixture(t, false)
	feedCh := subscribeFeed(t, f.broker)

	n := &model.Notification{ID: uuid.New(), UserID: student.ID, Type: model.NotificationTypeInfo}
	require.NoError(t, f.store.CreateBatch(context.Background(), []*model.Notification{n}))

	require.NoError(t, f.svc.MarkRead(context.Background(), n.ID, student.ID))
	count, err := f.svc.UnreadCount(context.Background(), student.ID)
	require.NoError(t, err)
	assert.Zero(t, count)
	assert.Equal(t, 1, recvCount(feedCh, 1, 2*time.Second))

	// A second mark is a no-op and publishes nothing.
	require.NoError(t, f.svc.MarkRead(context.Background(), n.ID, student.ID))
	assert.Equal(t, 0, recvCount(feedCh, 1, 100*time.Millisecond))
}

func TestMarkReadScopedToOwner(t *testing.T) {
	doctor := userWithRole(model.RoleDoctor)
	student := userWithRole(model.RoleStudent)
	f := newFixture(t, false)
	feedCh := subscribeFeed(t, f.broker)

	n := &model.Notification{ID: uuid.New(), UserID: doctor.ID, Type: model.NotificationTypeInfo}
	require.NoError(t, f.store.CreateBatch(context.Background(), []*model.Notification{n}))

	// A different user cannot flip it, and the owner's badge is intact.
	err := f.svc.MarkRead(context.Background(), n.ID, student.ID)
	assert.Equal(t, apperror.CodeNotFound, apperror.CodeOf(err))
	count, err := f.svc.UnreadCount(context.Background(), doctor.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, count)
	assert.Equal(t, 0, recvCount(feedCh, 1, 100*time.Millisecond))
}

func TestMarkAllReadPublishesFlippedRows(t *testing.T) {
	student := userWithRole(model.RoleStudent)
	f := newFixture(t, false)
	feedCh := subscribeFeed(t, f.broker)

	rows := []*model.Notification{
		{ID: uuid.New(), UserID: student.ID},
		{ID: uuid.New(), UserID: student.ID},
		{ID: uuid.New(), UserID: student.ID, Read: true},
	}
	require.NoError(t, f.store.CreateBatch(context.Background(), rows))

	require.NoError(t, f.svc.MarkAllRead(context.Background(), student.ID))
	count, err := f.svc.UnreadCount(context.Background(), student.ID)
	require.NoError(t, err)
	assert.Zero(t, count)

	// Only the two unread rows ride the feed.
	assert.Equal(t, 2, recvCount(feedCh, 2, 2*time.Second))
	assert.Equal(t, 0, recvCount(feedCh, 1, 100*time.Millisecond))
}
