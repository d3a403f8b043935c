package worker

import (
	"context"
	"encoding/json"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"daymark/internal/database"
	"daymark/internal/events"
	"daymark/internal/models"
	"daymark/internal/transport"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"
)

func newTestDB(t *testing.T) *database.DB {
	t.Helper()
	logger := zerolog.Nop()
	db, err := database.NewDB(filepath.Join(t.TempDir(), "queue.db"), &logger)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

type fakeMonitor struct {
	mu sync.Mutex
	st models.ConnectivityState
	ch chan models.ConnectivityState
}

func newFakeMonitor(online bool) *fakeMonitor {
	st := models.ConnectivityState{Status: models.ConnDisconnected, Kind: models.NetworkNone}
	if online {
		st = models.ConnectivityState{Status: models.ConnConnected, Kind: models.NetworkWifi}
	}
	return &fakeMonitor{st: st, ch: make(chan models.ConnectivityState, 1)}
}

func (m *fakeMonitor) State() models.ConnectivityState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.st
}

func (m *fakeMonitor) Subscribe() (<-chan models.ConnectivityState, func()) {
	return m.ch, func() {}
}

func (m *fakeMonitor) set(st models.ConnectivityState) {
	m.mu.Lock()
	m.st = st
	m.mu.Unlock()
	select {
	case m.ch <- st:
	default:
	}
}

// recorder tracks handler invocations and scripts their results.
type recorder struct {
	mu    sync.Mutex
	calls []string
	errs  []error
}

func (r *recorder) handler(id string) Handler {
	return func(_ context.Context, _ []byte) error {
		r.mu.Lock()
		defer r.mu.Unlock()
		r.calls = append(r.calls, id)
		if len(r.errs) == 0 {
			return nil
		}
		err := r.errs[0]
		r.errs = r.errs[1:]
		return err
	}
}

func (r *recorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.calls)
}

func enqueue(t *testing.T, db *database.DB, entityType, entityID, opType string) *models.SyncOperation {
	t.Helper()
	op := &models.SyncOperation{
		EntityType:    entityType,
		EntityID:      entityID,
		OperationType: opType,
		Payload:       []byte(`{"text":"x"}`),
	}
	require.NoError(t, db.Enqueue(context.Background(), op))
	return op
}

func newProcessor(db *database.DB, mon *fakeMonitor, routes map[Route]Handler, bus *events.EventBus, rdb *redis.Client, retry RetryPolicy) *Processor {
	logger := zerolog.Nop()
	return NewProcessor(db, mon, routes, bus, rdb, retry, Config{PollInterval: 10 * time.Millisecond}, &logger)
}

func drainOnce(p *Processor, ctx context.Context) {
	p.drain(ctx, rate.NewLimiter(rate.Inf, 1))
}

func TestOfflineOnlineReplay(t *testing.T) {
	db := newTestDB(t)
	mon := newFakeMonitor(false)
	rec := &recorder{}
	routes := map[Route]Handler{
		{Entity: models.EntityListItem, Op: models.OpCreate}: rec.handler("create"),
	}

	enqueue(t, db, models.EntityListItem, "item-1", models.OpCreate)

	p := newProcessor(db, mon, routes, events.NewEventBus(), nil, RetryPolicy{})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan struct{})
	go func() {
		p.Start(ctx)
		close(done)
	}()

	// Nothing is dispatched while disconnected.
	require.Eventually(t, func() bool {
		return p.State() == StateAwaitingConnectivity
	}, time.Second, 5*time.Millisecond)
	assert.Equal(t, 0, rec.count())

	mon.set(models.ConnectivityState{Status: models.ConnConnected, Kind: models.NetworkWifi})

	require.Eventually(t, func() bool {
		return rec.count() == 1
	}, 2*time.Second, 5*time.Millisecond, "operation must be sent after connectivity is restored")

	require.Eventually(t, func() bool {
		ops, err := db.Pending(ctx, 10)
		return err == nil && len(ops) == 0
	}, time.Second, 5*time.Millisecond)

	// Exactly once: more polling must not resend.
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, 1, rec.count())

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("processor did not stop on cancellation")
	}
}

func TestDrainIsIdempotent(t *testing.T) {
	db := newTestDB(t)
	mon := newFakeMonitor(true)
	rec := &recorder{}
	routes := map[Route]Handler{
		{Entity: models.EntityListItem, Op: models.OpCreate}: rec.handler("create"),
		{Entity: models.EntityWinEntry, Op: models.OpCreate}: rec.handler("win"),
	}

	enqueue(t, db, models.EntityListItem, "item-1", models.OpCreate)
	enqueue(t, db, models.EntityWinEntry, "win-1", models.OpCreate)

	p := newProcessor(db, mon, routes, events.NewEventBus(), nil, RetryPolicy{})
	ctx := context.Background()

	drainOnce(p, ctx)
	assert.Equal(t, 2, rec.count())

	// Second drain without new enqueues finds an empty queue.
	drainOnce(p, ctx)
	assert.Equal(t, 2, rec.count())
}

func TestDrainFIFOPerEntity(t *testing.T) {
	db := newTestDB(t)
	mon := newFakeMonitor(true)
	rec := &recorder{}
	routes := map[Route]Handler{
		{Entity: models.EntityListItem, Op: models.OpUpdate}: rec.handler("u1"),
	}

	// Two updates against the same entity; the queue must serve both in
	// enqueue order so the later snapshot wins on the server.
	first := enqueue(t, db, models.EntityListItem, "item-1", models.OpUpdate)
	second := enqueue(t, db, models.EntityListItem, "item-1", models.OpUpdate)

	ops, err := db.Pending(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, ops, 2)
	assert.Equal(t, first.ID, ops[0].ID)
	assert.Equal(t, second.ID, ops[1].ID)

	p := newProcessor(db, mon, routes, events.NewEventBus(), nil, RetryPolicy{})
	drainOnce(p, context.Background())

	assert.Equal(t, 2, rec.count())

	ops, err = db.Pending(context.Background(), 10)
	require.NoError(t, err)
	assert.Empty(t, ops)
}

func TestBackoffRespected(t *testing.T) {
	db := newTestDB(t)
	mon := newFakeMonitor(true)
	rec := &recorder{errs: []error{&transport.Error{Kind: transport.KindServerError, Status: 500}}}
	routes := map[Route]Handler{
		{Entity: models.EntityListItem, Op: models.OpCreate}: rec.handler("create"),
	}

	enqueue(t, db, models.EntityListItem, "item-1", models.OpCreate)

	p := newProcessor(db, mon, routes, events.NewEventBus(), nil,
		RetryPolicy{MaxAttempts: 5, InitialDelay: time.Hour})
	ctx := context.Background()

	drainOnce(p, ctx)
	assert.Equal(t, 1, rec.count())

	// The operation just failed; an immediate re-drain must not touch it.
	drainOnce(p, ctx)
	assert.Equal(t, 1, rec.count(), "operation re-attempted before its backoff window elapsed")

	ops, err := db.Pending(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, ops)

	depth, err := db.Depth(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, depth, "operation is still owed to the server")
}

func TestAbandonmentThreshold(t *testing.T) {
	db := newTestDB(t)
	mon := newFakeMonitor(true)

	serverErr := &transport.Error{Kind: transport.KindServerError, Status: 500}
	rec := &recorder{errs: []error{serverErr, serverErr, serverErr, serverErr, serverErr}}
	routes := map[Route]Handler{
		{Entity: models.EntityListItem, Op: models.OpCreate}: rec.handler("create"),
	}

	enqueue(t, db, models.EntityListItem, "item-1", models.OpCreate)

	bus := events.NewEventBus()
	var abandonedMu sync.Mutex
	var abandoned []events.OperationEventPayload
	bus.Subscribe(events.EventOperationAbandoned, func(ev *events.Event) error {
		var payload events.OperationEventPayload
		if err := json.Unmarshal(ev.Payload, &payload); err != nil {
			return err
		}
		abandonedMu.Lock()
		abandoned = append(abandoned, payload)
		abandonedMu.Unlock()
		return nil
	})

	// Nanosecond backoff keeps the operation immediately eligible, so one
	// drain call walks it all the way to the ceiling.
	p := newProcessor(db, mon, routes, bus, nil,
		RetryPolicy{MaxAttempts: 3, InitialDelay: time.Nanosecond})
	ctx := context.Background()

	drainOnce(p, ctx)

	assert.Equal(t, 3, rec.count(), "exactly maxAttempts failures before abandonment")

	abandonedMu.Lock()
	defer abandonedMu.Unlock()
	require.Len(t, abandoned, 1, "abandonment must be surfaced, never silent")
	assert.Equal(t, models.EntityListItem, abandoned[0].EntityType)
	assert.Equal(t, 3, abandoned[0].AttemptCount)

	// The row is reaped after surfacing.
	rows, err := db.Abandoned(ctx)
	require.NoError(t, err)
	assert.Empty(t, rows)
}

func TestOneFewerFailureLeavesOperationPending(t *testing.T) {
	db := newTestDB(t)
	mon := newFakeMonitor(true)

	serverErr := &transport.Error{Kind: transport.KindServerError, Status: 503}
	rec := &recorder{errs: []error{serverErr, serverErr}} // then success
	routes := map[Route]Handler{
		{Entity: models.EntityListItem, Op: models.OpCreate}: rec.handler("create"),
	}

	enqueue(t, db, models.EntityListItem, "item-1", models.OpCreate)

	p := newProcessor(db, mon, routes, events.NewEventBus(), nil,
		RetryPolicy{MaxAttempts: 3, InitialDelay: time.Nanosecond})
	ctx := context.Background()

	drainOnce(p, ctx)

	assert.Equal(t, 3, rec.count(), "two failures then a success")
	depth, err := db.Depth(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, depth)
}

func TestTerminalFailureAbandonsImmediately(t *testing.T) {
	db := newTestDB(t)
	mon := newFakeMonitor(true)

	rec := &recorder{errs: []error{&transport.Error{Kind: transport.KindNotFound, Status: 404}}}
	routes := map[Route]Handler{
		{Entity: models.EntityListItem, Op: models.OpDelete}: rec.handler("delete"),
	}

	enqueue(t, db, models.EntityListItem, "item-1", models.OpDelete)

	p := newProcessor(db, mon, routes, events.NewEventBus(), nil,
		RetryPolicy{MaxAttempts: 5, InitialDelay: time.Nanosecond})
	drainOnce(p, context.Background())

	assert.Equal(t, 1, rec.count(), "terminal failures are not retried")

	depth, err := db.Depth(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, depth, "operation abandoned and reaped")
}

func TestFailingOperationDoesNotBlockQueue(t *testing.T) {
	db := newTestDB(t)
	mon := newFakeMonitor(true)

	failing := &recorder{errs: []error{&transport.Error{Kind: transport.KindServerError, Status: 500}}}
	passing := &recorder{}
	routes := map[Route]Handler{
		{Entity: models.EntityListItem, Op: models.OpCreate}: failing.handler("bad"),
		{Entity: models.EntityWinEntry, Op: models.OpCreate}: passing.handler("good"),
	}

	enqueue(t, db, models.EntityListItem, "item-1", models.OpCreate)
	enqueue(t, db, models.EntityWinEntry, "win-1", models.OpCreate)

	p := newProcessor(db, mon, routes, events.NewEventBus(), nil,
		RetryPolicy{MaxAttempts: 5, InitialDelay: time.Hour})
	drainOnce(p, context.Background())

	assert.Equal(t, 1, failing.count())
	assert.Equal(t, 1, passing.count(), "the failure ahead of it must not block the win entry")

	ops, err := db.Pending(context.Background(), 10)
	require.NoError(t, err)
	assert.Empty(t, ops, "only the failed op remains, inside its backoff window")
}

func TestUnroutableOperationAbandoned(t *testing.T) {
	db := newTestDB(t)
	mon := newFakeMonitor(true)

	enqueue(t, db, "mysteryEntity", "x", models.OpCreate)

	p := newProcessor(db, mon, map[Route]Handler{}, events.NewEventBus(), nil, RetryPolicy{})
	drainOnce(p, context.Background())

	depth, err := db.Depth(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, depth)
}

func TestAbandonedOperationsGoToDeadLetter(t *testing.T) {
	db := newTestDB(t)
	mon := newFakeMonitor(true)

	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer rdb.Close()

	rec := &recorder{errs: []error{&transport.Error{Kind: transport.KindForbidden, Status: 403}}}
	routes := map[Route]Handler{
		{Entity: models.EntityFocusCard, Op: models.OpUpdate}: rec.handler("push"),
	}

	op := enqueue(t, db, models.EntityFocusCard, "2026-08-29", models.OpUpdate)

	p := newProcessor(db, mon, routes, events.NewEventBus(), rdb, RetryPolicy{MaxAttempts: 2})
	drainOnce(p, context.Background())

	entries, err := rdb.LRange(context.Background(), "daymark:sync:deadletter", 0, -1).Result()
	require.NoError(t, err)
	require.Len(t, entries, 1)

	var dead models.SyncOperation
	require.NoError(t, json.Unmarshal([]byte(entries[0]), &dead))
	assert.Equal(t, op.ID, dead.ID)
	assert.Equal(t, models.OpStatusAbandoned, dead.Status)
}

func TestDrainStopsWhenConnectivityDrops(t *testing.T) {
	db := newTestDB(t)
	mon := newFakeMonitor(true)

	rec := &recorder{}
	dropAfterFirst := func(ctx context.Context, payload []byte) error {
		err := rec.handler("call")(ctx, payload)
		mon.set(models.ConnectivityState{Status: models.ConnDisconnected, Kind: models.NetworkNone})
		return err
	}
	routes := map[Route]Handler{
		{Entity: models.EntityListItem, Op: models.OpCreate}: dropAfterFirst,
	}

	enqueue(t, db, models.EntityListItem, "item-1", models.OpCreate)
	enqueue(t, db, models.EntityListItem, "item-2", models.OpCreate)

	p := newProcessor(db, mon, routes, events.NewEventBus(), nil, RetryPolicy{})
	drainOnce(p, context.Background())

	assert.Equal(t, 1, rec.count(), "drain must stop dispatching once offline")

	ops, err := db.Pending(context.Background(), 10)
	require.NoError(t, err)
	assert.Len(t, ops, 1)
}

func TestRetryPolicyNextDelay(t *testing.T) {
	policy := RetryPolicy{MaxAttempts: 5, InitialDelay: time.Second, MaxDelay: 10 * time.Second, BackoffFactor: 2}

	assert.Equal(t, time.Second, policy.NextDelay(1))
	assert.Equal(t, 2*time.Second, policy.NextDelay(2))
	assert.Equal(t, 4*time.Second, policy.NextDelay(3))
	assert.Equal(t, 10*time.Second, policy.NextDelay(10), "clamped at MaxDelay")
	assert.Equal(t, time.Second, policy.NextDelay(0), "attempt floor")
}
