package feed

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/careflow/clinical-records/internal/model"
	"github.com/careflow/clinical-records/pkg/logger"
	"github.com/careflow/clinical-records/pkg/messaging"
)

// SnapshotFunc loads the initial full collection for a subscription.
type SnapshotFunc[T any] func(ctx context.Context) ([]T, error)

// KeyFunc extracts the row identity used for update/delete matching.
type KeyFunc[T any] func(T) uuid.UUID

// Predicate is the subscription's row filter. A nil predicate matches
// every row.
type Predicate[T any] func(T) bool

// ChangeFunc is invoked after every applied mutation with a copy of the
// current collection. Invocations happen on the subscriber's apply
// goroutine, in event order.
type ChangeFunc[T any] func(items []T)

// Options configures a Subscriber. Zero-valued fields fall back to the
// defaults, so a partially filled Options never disables the snapshot.
type Options struct {
	// SnapshotRetries bounds snapshot attempts when the store is
	// unavailable. Backoff doubles per attempt from SnapshotBackoff up
	// to MaxSnapshotBackoff.
	SnapshotRetries    int
	SnapshotBackoff    time.Duration
	MaxSnapshotBackoff time.Duration
}

func defaultOptions() Options {
	return Options{
		SnapshotRetries:    5,
		SnapshotBackoff:    200 * time.Millisecond,
		MaxSnapshotBackoff: 5 * time.Second,
	}
}

// Subscriber keeps a local collection reconciled with a table's change
// feed. Events apply strictly in arrival order. An update whose row no
// longer matches the predicate removes the row from the collection; one
// that newly matches prepends it. Inserts prepend, deletes remove by key.
//
// The collection is newest-first: prepends go to the front, matching the
// snapshot ordering of the underlying queries.
type Subscriber[T any] struct {
	table     string
	snapshot  SnapshotFunc[T]
	key       KeyFunc[T]
	predicate Predicate[T]
	broker    messaging.Broker
	logger    *logger.Logger
	opts      Options

	mu       sync.RWMutex
	items    []T
	loading  bool
	err      error
	onChange []ChangeFunc[T]

	cancel   context.CancelFunc
	stopOnce sync.Once
	done     chan struct{}
}

func NewSubscriber[T any](
	table string,
	snapshot SnapshotFunc[T],
	key KeyFunc[T],
	predicate Predicate[T],
	broker messaging.Broker,
	log *logger.Logger,
	opts *Options,
) *Subscriber[T] {
	o := defaultOptions()
	if opts != nil {
		if opts.SnapshotRetries > 0 {
			o.SnapshotRetries = opts.SnapshotRetries
		}
		if opts.SnapshotBackoff > 0 {
			o.SnapshotBackoff = opts.SnapshotBackoff
		}
		if opts.MaxSnapshotBackoff > 0 {
			o.MaxSnapshotBackoff = opts.MaxSnapshotBackoff
		}
	}
	return &Subscriber[T]{
		table:     table,
		snapshot:  snapshot,
		key:       key,
		predicate: predicate,
		broker:    broker,
		logger:    log.WithComponent("feed:" + table),
		opts:      o,
		loading:   true,
		done:      make(chan struct{}),
	}
}

// Channel returns the broker channel a table's change events are
// published on.
func Channel(table string) string {
	return "feed:" + table
}

// Start subscribes to the table's channel, loads the snapshot, then
// applies events until Stop or context cancellation. The broker
// subscription is opened before the snapshot query so no event committed
// after the snapshot read is missed; events predating the snapshot
// re-apply idempotently.
func (s *Subscriber[T]) Start(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel

	events, err := s.broker.Subscribe(ctx, Channel(s.table))
	if err != nil {
		cancel()
		s.setErr(err)
		return err
	}

	rows, err := s.loadSnapshot(ctx)
	if err != nil {
		cancel()
		s.setErr(err)
		return err
	}

	s.mu.Lock()
	s.items = filterRows(rows, s.predicate)
	s.loading = false
	s.err = nil
	snapshotCopy := copyItems(s.items)
	s.mu.Unlock()
	s.fire(snapshotCopy)

	go s.run(ctx, events)
	return nil
}

func (s *Subscriber[T]) loadSnapshot(ctx context.Context) ([]T, error) {
	backoff := s.opts.SnapshotBackoff
	var lastErr error
	for attempt := 0; attempt < s.opts.SnapshotRetries; attempt++ {
		rows, err := s.snapshot(ctx)
		if err == nil {
			return rows, nil
		}
		lastErr = err
		s.logger.Warn("snapshot failed, retrying", "attempt", attempt+1, "error", err.Error())

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(backoff):
		}
		backoff *= 2
		if backoff > s.opts.MaxSnapshotBackoff {
			backoff = s.opts.MaxSnapshotBackoff
		}
	}
	return nil, lastErr
}

func (s *Subscriber[T]) run(ctx context.Context, events <-chan []byte) {
	defer close(s.done)
	for {
		select {
		case <-ctx.Done():
			return
		case payload, ok := <-events:
			if !ok {
				return
			}
			s.apply(payload)
		}
	}
}

func (s *Subscriber[T]) apply(payload []byte) {
	var evt model.ChangeEvent
	if err := json.Unmarshal(payload, &evt); err != nil {
		s.logger.Error(err, "dropping malformed change event")
		return
	}

	var row T
	if err := json.Unmarshal(evt.Row, &row); err != nil {
		s.logger.Error(err, "dropping change event with malformed row", "op", evt.Op)
		return
	}

	s.mu.Lock()
	switch evt.Op {
	case model.ChangeOpInsert:
		s.applyUpsert(row)
	case model.ChangeOpUpdate:
		s.applyUpsert(row)
	case model.ChangeOpDelete:
		s.remove(s.key(row))
	default:
		s.mu.Unlock()
		s.logger.Warn("unknown change op", "op", evt.Op)
		return
	}
	items := copyItems(s.items)
	s.mu.Unlock()

	s.fire(items)
}

// applyUpsert handles both inserts and updates: replace in place while the
// predicate still matches, remove when it stops matching, prepend when the
// row is new to the view. Treating an insert of a known key as a replace
// makes snapshot/event overlap harmless.
func (s *Subscriber[T]) applyUpsert(row T) {
	id := s.key(row)
	matches := s.matches(row)
	for i, existing := range s.items {
		if s.key(existing) == id {
			if matches {
				s.items[i] = row
			} else {
				s.items = append(s.items[:i], s.items[i+1:]...)
			}
			return
		}
	}
	if matches {
		s.items = append([]T{row}, s.items...)
	}
}

func (s *Subscriber[T]) remove(id uuid.UUID) {
	for i, existing := range s.items {
		if s.key(existing) == id {
			s.items = append(s.items[:i], s.items[i+1:]...)
			return
		}
	}
}

func (s *Subscriber[T]) matches(row T) bool {
	if s.predicate == nil {
		return true
	}
	return s.predicate(row)
}

// OnChange registers a callback fired with a copy of the collection after
// the snapshot and after every applied event.
func (s *Subscriber[T]) OnChange(fn ChangeFunc[T]) {
	s.mu.Lock()
	s.onChange = append(s.onChange, fn)
	s.mu.Unlock()
}

func (s *Subscriber[T]) fire(items []T) {
	s.mu.RLock()
	callbacks := make([]ChangeFunc[T], len(s.onChange))
	copy(callbacks, s.onChange)
	s.mu.RUnlock()
	for _, fn := range callbacks {
		fn(items)
	}
}

// Items returns a copy of the current collection, newest first.
func (s *Subscriber[T]) Items() []T {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return copyItems(s.items)
}

// Loading reports whether the initial snapshot is still pending.
func (s *Subscriber[T]) Loading() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.loading
}

// Err returns the terminal subscription error, if any.
func (s *Subscriber[T]) Err() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.err
}

func (s *Subscriber[T]) setErr(err error) {
	s.mu.Lock()
	s.err = err
	s.loading = false
	s.mu.Unlock()
}

// Stop cancels the subscription. Immediate and idempotent: a second call
// is a no-op, and no events are applied after it returns the feed loop.
func (s *Subscriber[T]) Stop() {
	s.stopOnce.Do(func() {
		if s.cancel != nil {
			s.cancel()
		}
	})
}

func filterRows[T any](rows []T, pred Predicate[T]) []T {
	if pred == nil {
		return copyItems(rows)
	}
	out := make([]T, 0, len(rows))
	for _, r := range rows {
		if pred(r) {
			out = append(out, r)
		}
	}
	return out
}

func copyItems[T any](items []T) []T {
	out := make([]T, len(items))
	copy(out, items)
	return out
}
