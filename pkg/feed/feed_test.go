package feed_test

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/careflow/clinical-records/internal/model"
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

func newPatient(owner uuid.UUID, status string) *model.Patient {
	return &model.Patient{
		Base:    model.Base{ID: uuid.New()},
		Name:    "Test Patient",
		AddedBy: owner,
		Status:  status,
	}
}

func patientKey(p *model.Patient) uuid.UUID { return p.ID }

func snapshotOf(rows ...*model.Patient) feed.SnapshotFunc[*model.Patient] {
	return func(ctx context.Context) ([]*model.Patient, error) {
		return rows, nil
	}
}

func publish(t *testing.T, broker *memory.Broker, op string, row *model.Patient) {
	t.Helper()
	rowJSON, err := json.Marshal(row)
	require.NoError(t, err)
	err = broker.Publish(context.Background(), feed.Channel(model.TablePatients),
		model.ChangeEvent{Op: op, Table: model.TablePatients, Row: rowJSON})
	require.NoError(t, err)
}

// startSubscriber wires a subscriber whose every collection change is sent
// on the returned channel, including the initial snapshot.
func startSubscriber(
	t *testing.T,
	broker *memory.Broker,
	snapshot feed.SnapshotFunc[*model.Patient],
	pred feed.Predicate[*model.Patient],
) (*feed.Subscriber[*model.Patient], chan []*model.Patient) {
	t.Helper()
	sub := feed.NewSubscriber(model.TablePatients, snapshot, patientKey, pred, broker, testLogger(), nil)
	changes := make(chan []*model.Patient, 32)
	sub.OnChange(func(items []*model.Patient) { changes <- items })

	require.NoError(t, sub.Start(context.Background()))
	t.Cleanup(sub.Stop)

	// Drain the snapshot fire so tests only see event-driven changes.
	select {
	case <-changes:
	case <-time.After(2 * time.Second):
		t.Fatal("snapshot change never fired")
	}
	return sub, changes
}

func nextChange(t *testing.T, changes chan []*model.Patient) []*model.Patient {
	t.Helper()
	select {
	case items := <-changes:
		return items
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for change")
		return nil
	}
}

func TestSnapshotFiltersByPredicate(t *testing.T) {
	broker := memory.NewBroker()
	defer broker.Close()

	owner := uuid.New()
	mine1 := newPatient(owner, model.PatientStatusPending)
	other := newPatient(uuid.New(), model.PatientStatusPending)
	mine2 := newPatient(owner, model.PatientStatusApproved)

	sub, _ := startSubscriber(t, broker, snapshotOf(mine1, other, mine2),
		func(p *model.Patient) bool { return p.AddedBy == owner })

	items := sub.Items()
	require.Len(t, items, 2)
	assert.Equal(t, mine1.ID, items[0].ID)
	assert.Equal(t, mine2.ID, items[1].ID)
	assert.False(t, sub.Loading())
	assert.NoError(t, sub.Err())
}

func TestInsertPrependsNewestFirst(t *testing.T) {
	broker := memory.NewBroker()
	defer broker.Close()

	existing := newPatient(uuid.New(), model.PatientStatusPending)
	sub, changes := startSubscriber(t, broker, snapshotOf(existing), nil)

	fresh := newPatient(uuid.New(), model.PatientStatusPending)
	publish(t, broker, model.ChangeOpInsert, fresh)

	items := nextChange(t, changes)
	require.Len(t, items, 2)
	assert.Equal(t, fresh.ID, items[0].ID)
	assert.Equal(t, existing.ID, items[1].ID)
	assert.Equal(t, items, sub.Items())
}

func TestUpdateReplacesInPlace(t *testing.T) {
	broker := memory.NewBroker()
	defer broker.Close()

	first := newPatient(uuid.New(), model.PatientStatusPending)
	second := newPatient(uuid.New(), model.PatientStatusPending)
	_, changes := startSubscriber(t, broker, snapshotOf(first, second), nil)

	updated := *second
	updated.Complaint = "worsening pain"
	publish(t, broker, model.ChangeOpUpdate, &updated)

	items := nextChange(t, changes)
	require.Len(t, items, 2)
	assert.Equal(t, first.ID, items[0].ID)
	assert.Equal(t, second.ID, items[1].ID)
	assert.Equal(t, "worsening pain", items[1].Complaint)
}

func TestUpdateLeavingViewRemovesRow(t *testing.T) {
	broker := memory.NewBroker()
	defer broker.Close()

	stays := newPatient(uuid.New(), model.PatientStatusPending)
	leaves := newPatient(uuid.New(), model.PatientStatusPending)
	_, changes := startSubscriber(t, broker, snapshotOf(stays, leaves),
		func(p *model.Patient) bool { return p.Status == model.PatientStatusPending })

	decided := *leaves
	decided.Status = model.PatientStatusApproved
	publish(t, broker, model.ChangeOpUpdate, &decided)

	items := nextChange(t, changes)
	require.Len(t, items, 1)
	assert.Equal(t, stays.ID, items[0].ID)
}

func TestUpdateEnteringViewPrepends(t *testing.T) {
	broker := memory.NewBroker()
	defer broker.Close()

	existing := newPatient(uuid.New(), model.PatientStatusPending)
	outside := newPatient(uuid.New(), model.PatientStatusApproved)
	_, changes := startSubscriber(t, broker, snapshotOf(existing, outside),
		func(p *model.Patient) bool { return p.Status == model.PatientStatusPending })

	reopened := *outside
	reopened.Status = model.PatientStatusPending
	publish(t, broker, model.ChangeOpUpdate, &reopened)

	items := nextChange(t, changes)
	require.Len(t, items, 2)
	assert.Equal(t, outside.ID, items[0].ID)
	assert.Equal(t, existing.ID, items[1].ID)
}

func TestDeleteRemovesByKey(t *testing.T) {
	broker := memory.NewBroker()
	defer broker.Close()

	keep := newPatient(uuid.New(), model.PatientStatusPending)
	gone := newPatient(uuid.New(), model.PatientStatusPending)
	_, changes := startSubscriber(t, broker, snapshotOf(keep, gone), nil)

	publish(t, broker, model.ChangeOpDelete, gone)

	items := nextChange(t, changes)
	require.Len(t, items, 1)
	assert.Equal(t, keep.ID, items[0].ID)
}

func TestInsertOfKnownKeyIsReplace(t *testing.T) {
	broker := memory.NewBroker()
	defer broker.Close()

	row := newPatient(uuid.New(), model.PatientStatusPending)
	_, changes := startSubscriber(t, broker, snapshotOf(row), nil)

	replayed := *row
	replayed.Complaint = "already in snapshot"
	publish(t, broker, model.ChangeOpInsert, &replayed)

	items := nextChange(t, changes)
	require.Len(t, items, 1)
	assert.Equal(t, "already in snapshot", items[0].Complaint)
}

func TestMalformedEventIgnored(t *testing.T) {
	broker := memory.NewBroker()
	defer broker.Close()

	row := newPatient(uuid.New(), model.PatientStatusPending)
	sub, changes := startSubscriber(t, broker, snapshotOf(row), nil)

	require.NoError(t, broker.Publish(context.Background(),
		feed.Channel(model.TablePatients), "not a change event"))

	fresh := newPatient(uuid.New(), model.PatientStatusPending)
	publish(t, broker, model.ChangeOpInsert, fresh)

	items := nextChange(t, changes)
	require.Len(t, items, 2)
	assert.Equal(t, fresh.ID, items[0].ID)
	assert.NoError(t, sub.Err())
}

func TestSnapshotRetriesUntilSuccess(t *testing.T) {
	broker := memory.NewBroker()
	defer broker.Close()

	row := newPatient(uuid.New(), model.PatientStatusPending)
	var attempts atomic.Int32
	snapshot := func(ctx context.Context) ([]*model.Patient, error) {
		if attempts.Add(1) < 3 {
			return nil, errors.New("store unavailable")
		}
		return []*model.Patient{row}, nil
	}

	sub := feed.NewSubscriber(model.TablePatients, snapshot, patientKey, nil, broker, testLogger(), &feed.Options{
		SnapshotRetries:    5,
		SnapshotBackoff:    time.Millisecond,
		MaxSnapshotBackoff: 5 * time.Millisecond,
	})
	require.NoError(t, sub.Start(context.Background()))
	defer sub.Stop()

	assert.EqualValues(t, 3, attempts.Load())
	assert.Len(t, sub.Items(), 1)
	assert.False(t, sub.Loading())
}

func TestZeroValuedOptionsStillSnapshot(t *testing.T) {
	broker := memory.NewBroker()
	defer broker.Close()

	row := newPatient(uuid.New(), model.PatientStatusApproved)
	var calls atomic.Int32
	snapshot := func(ctx context.Context) ([]*model.Patient, error) {
		calls.Add(1)
		return []*model.Patient{row}, nil
	}

	sub := feed.NewSubscriber(model.TablePatients, snapshot, patientKey, nil, broker, testLogger(), &feed.Options{})
	require.NoError(t, sub.Start(context.Background()))
	defer sub.Stop()

	assert.EqualValues(t, 1, calls.Load())
	require.Len(t, sub.Items(), 1)
	assert.Equal(t, row.ID, sub.Items()[0].ID)
	assert.False(t, sub.Loading())
	assert.NoError(t, sub.Err())
}

func TestSnapshotExhaustionSurfacesError(t *testing.T) {
	broker := memory.NewBroker()
	defer broker.Close()

	storeErr := errors.New("store unavailable")
	snapshot := func(ctx context.Context) ([]*model.Patient, error) {
		return nil, storeErr
	}

	sub := feed.NewSubscriber(model.TablePatients, snapshot, patientKey, nil, broker, testLogger(), &feed.Options{
		SnapshotRetries:    2,
		SnapshotBackoff:    time.Millisecond,
		MaxSnapshotBackoff: time.Millisecond,
	})
	err := sub.Start(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, sub.Err(), storeErr)
	assert.False(t, sub.Loading())
	assert.Empty(t, sub.Items())
}

func TestStopIsIdempotent(t *testing.T) {
	broker := memory.NewBroker()
	defer broker.Close()

	sub, _ := startSubscriber(t, broker, snapshotOf(), nil)
	sub.Stop()
	sub.Stop()
	assert.Empty(t, sub.Items())
}
