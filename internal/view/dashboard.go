// Package view derives role-scoped, always-current dashboards from change
// feed subscriptions. Views hold no state of their own beyond the last
// derivation; everything recomputes from the subscribed collections, so a
// view can never drift from what the feed delivered.
package view

import (
	"context"
	"sync"

	"github.com/google/uuid"

	"github.com/careflow/clinical-records/internal/model"
	"github.com/careflow/clinical-records/internal/repository"
	"github.com/careflow/clinical-records/internal/service/authz"
	"github.com/careflow/clinical-records/pkg/feed"
	"github.com/careflow/clinical-records/pkg/logger"
	"github.com/careflow/clinical-records/pkg/messaging"
)

// DashboardSnapshot is one derived, immutable view state. Lists are
// newest-first, split by approval status; counts are recomputed from the
// full collections on every event, never incremented.
type DashboardSnapshot struct {
	Pending       []*model.Patient      `json:"pending"`
	Approved      []*model.Patient      `json:"approved"`
	Rejected      []*model.Patient      `json:"rejected"`
	PendingCount  int                   `json:"pending_count"`
	Notifications []*model.Notification `json:"notifications"`
	UnreadCount   int                   `json:"unread_count"`
	Loading       bool                  `json:"loading"`
}

// UpdateFunc observes each new snapshot. Calls arrive on the subscriber
// apply path, in feed order.
type UpdateFunc func(DashboardSnapshot)

// Dashboard composes the patient and notification subscriptions for one
// actor. Students see only patients they added; approvers see everything.
type Dashboard struct {
	actor         *model.User
	patients      *feed.Subscriber[*model.Patient]
	notifications *feed.Subscriber[*model.Notification]

	mu       sync.RWMutex
	current  DashboardSnapshot
	onUpdate []UpdateFunc
}

func NewDashboard(
	actor *model.User,
	patientRepo repository.PatientRepository,
	notificationRepo repository.NotificationRepository,
	broker messaging.Broker,
	log *logger.Logger,
	opts *feed.Options,
) *Dashboard {
	d := &Dashboard{
		actor:   actor,
		current: DashboardSnapshot{Loading: true},
	}

	patientSnapshot := func(ctx context.Context) ([]*model.Patient, error) {
		filter := &model.PatientFilter{}
		if !authz.Allowed(actor.Role, authz.ActionViewAllPatients) {
			filter.AddedBy = &actor.ID
		}
		return patientRepo.List(ctx, filter)
	}
	var patientPred feed.Predicate[*model.Patient]
	if !authz.Allowed(actor.Role, authz.ActionViewAllPatients) {
		ownerID := actor.ID
		patientPred = func(p *model.Patient) bool { return p.AddedBy == ownerID }
	}
	d.patients = feed.NewSubscriber(
		model.TablePatients,
		patientSnapshot,
		func(p *model.Patient) uuid.UUID { return p.ID },
		patientPred,
		broker, log, opts,
	)

	userID := actor.ID
	d.notifications = feed.NewSubscriber(
		model.TableNotifications,
		func(ctx context.Context) ([]*model.Notification, error) {
			return notificationRepo.ListForUser(ctx, userID)
		},
		func(n *model.Notification) uuid.UUID { return n.ID },
		func(n *model.Notification) bool { return n.UserID == userID },
		broker, log, opts,
	)

	d.patients.OnChange(func([]*model.Patient) { d.derive() })
	d.notifications.OnChange(func([]*model.Notification) { d.derive() })

	return d
}

// Start opens both subscriptions. The dashboard is usable once it returns;
// Snapshot reflects the initial store state immediately.
func (d *Dashboard) Start(ctx context.Context) error {
	if err := d.patients.Start(ctx); err != nil {
		return err
	}
	if err := d.notifications.Start(ctx); err != nil {
		d.patients.Stop()
		return err
	}
	return nil
}

// Stop closes both subscriptions. Idempotent; events arriving after Stop
// are never applied.
func (d *Dashboard) Stop() {
	d.patients.Stop()
	d.notifications.Stop()
}

// OnUpdate registers an observer for every derived snapshot.
func (d *Dashboard) OnUpdate(fn UpdateFunc) {
	d.mu.Lock()
	d.onUpdate = append(d.onUpdate, fn)
	d.mu.Unlock()
}

// Snapshot returns the latest derivation.
func (d *Dashboard) Snapshot() DashboardSnapshot {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.current
}

// Err surfaces a terminal subscription error, if any. Transient snapshot
// retries never land here; callers keep showing last known state.
func (d *Dashboard) Err() error {
	if err := d.patients.Err(); err != nil {
		return err
	}
	return d.notifications.Err()
}

// Derive computes a snapshot from raw collections. Pure: no field
// survives from any previous snapshot. Shared between the live dashboard
// and one-shot HTTP projections so the two can never disagree.
func Derive(patients []*model.Patient, notifications []*model.Notification) DashboardSnapshot {
	next := DashboardSnapshot{Notifications: notifications}
	for _, p := range patients {
		switch p.Status {
		case model.PatientStatusPending:
			next.Pending = append(next.Pending, p)
		case model.PatientStatusApproved:
			next.Approved = append(next.Approved, p)
		case model.PatientStatusRejected:
			next.Rejected = append(next.Rejected, p)
		}
	}
	next.PendingCount = len(next.Pending)
	for _, n := range notifications {
		if !n.Read {
			next.UnreadCount++
		}
	}
	return next
}

func (d *Dashboard) derive() {
	next := Derive(d.patients.Items(), d.notifications.Items())
	next.Loading = d.patients.Loading() || d.notifications.Loading()

	d.mu.Lock()
	d.current = next
	observers := make([]UpdateFunc, len(d.onUpdate))
	copy(observers, d.onUpdate)
	d.mu.Unlock()

	for _, fn := range observers {
		fn(next)
	}
}
