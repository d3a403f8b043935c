// Package worker drains the durable operation queue against the remote API
// once connectivity allows. The processor is generic: it never understands
// domain shapes, only opaque payloads plus a dispatch key.
package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"daymark/internal/domain"
	"daymark/internal/events"
	"daymark/internal/metrics"
	"daymark/internal/models"
	"daymark/internal/transport"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

// Processor states, exposed for logging and tests.
const (
	StateIdle                 = "idle"
	StateAwaitingConnectivity = "awaitingConnectivity"
	StateDraining             = "draining"
)

// Route keys a replay handler by what the operation targets and does.
type Route struct {
	Entity string
	Op     string
}

// Handler replays one queued payload against the server.
type Handler func(ctx context.Context, payload []byte) error

// Config tunes the drain loop.
type Config struct {
	// PollInterval re-checks the queue while connected, catching
	// operations whose backoff window elapsed with no state change.
	PollInterval time.Duration
	BatchSize    int
	// DrainRPS/DrainBurst bound dispatch rate so a long backlog cannot
	// hammer a recovering server.
	DrainRPS   float64
	DrainBurst int
}

// Processor owns the queue: it is the only component that claims,
// completes, or abandons operations.
type Processor struct {
	queue   domain.SyncQueue
	monitor domain.ConnectivityMonitor
	routes  map[Route]Handler
	bus     domain.EventPublisher
	redis   *redis.Client
	retry   RetryPolicy
	cfg     Config
	logger  zerolog.Logger

	deadLetterKey string

	stateMu sync.Mutex
	state   string
}

func NewProcessor(
	queue domain.SyncQueue,
	monitor domain.ConnectivityMonitor,
	routes map[Route]Handler,
	bus domain.EventPublisher,
	redisClient *redis.Client,
	retry RetryPolicy,
	cfg Config,
	logger *zerolog.Logger,
) *Processor {
	if retry.MaxAttempts == 0 {
		retry.MaxAttempts = models.DefaultMaxAttempts
	}
	if retry.InitialDelay == 0 {
		retry.InitialDelay = 2 * time.Second
	}
	if retry.MaxDelay == 0 {
		retry.MaxDelay = time.Minute
	}
	if retry.BackoffFactor == 0 {
		retry.BackoffFactor = 2
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = models.DefaultPollInterval
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = models.DefaultBatchSize
	}
	if cfg.DrainRPS <= 0 {
		cfg.DrainRPS = 10
	}
	if cfg.DrainBurst <= 0 {
		cfg.DrainBurst = 5
	}

	log := zerolog.Nop()
	if logger != nil {
		log = logger.With().Str("component", "queue_processor").Logger()
	}

	return &Processor{
		queue:         queue,
		monitor:       monitor,
		routes:        routes,
		bus:           bus,
		redis:         redisClient,
		retry:         retry,
		cfg:           cfg,
		logger:        log,
		deadLetterKey: "daymark:sync:deadletter",
		state:         StateIdle,
	}
}

// Start runs the supervisory loop until ctx is cancelled. There is no
// other terminal state.
func (p *Processor) Start(ctx context.Context) {
	p.logger.Info().Msg("queue processor started")
	defer p.logger.Info().Msg("queue processor stopped")

	if n, err := p.queue.ReleaseStuck(ctx); err != nil {
		p.logger.Error().Err(err).Msg("release stuck operations")
	} else if n > 0 {
		p.logger.Warn().Int("count", n).Msg("released operations stuck in processing")
	}

	changes, unsubscribe := p.monitor.Subscribe()
	defer unsubscribe()

	ticker := time.NewTicker(p.cfg.PollInterval)
	defer ticker.Stop()

	limiter := rate.NewLimiter(rate.Limit(p.cfg.DrainRPS), p.cfg.DrainBurst)

	for {
		if p.monitor.State().Online() {
			p.drain(ctx, limiter)
		} else {
			p.setState(StateAwaitingConnectivity)
		}

		select {
		case <-ctx.Done():
			return
		case st := <-changes:
			if st.Online() {
				p.logger.Info().Str("kind", string(st.Kind)).Msg("connectivity restored")
			}
		case <-ticker.C:
		}
	}
}

// State reports the loop's current phase.
func (p *Processor) State() string {
	p.stateMu.Lock()
	defer p.stateMu.Unlock()
	return p.state
}

func (p *Processor) setState(s string) {
	p.stateMu.Lock()
	defer p.stateMu.Unlock()
	if p.state != s {
		p.logger.Debug().Str("from", p.state).Str("to", s).Msg("processor state change")
		p.state = s
	}
}

// DrainOnce runs a single drain pass outside the supervisory loop, for
// callers that want to flush the queue on demand.
func (p *Processor) DrainOnce(ctx context.Context) {
	p.drain(ctx, rate.NewLimiter(rate.Limit(p.cfg.DrainRPS), p.cfg.DrainBurst))
}

// drain processes all currently eligible operations one at a time, oldest
// first. A failing operation never blocks the rest of the queue.
func (p *Processor) drain(ctx context.Context, limiter *rate.Limiter) {
	p.setState(StateDraining)
	defer p.setState(StateAwaitingConnectivity)

	for {
		if ctx.Err() != nil {
			return
		}
		if !p.monitor.State().Online() {
			p.logger.Info().Msg("connectivity lost mid-drain")
			return
		}

		ops, err := p.queue.Pending(ctx, p.cfg.BatchSize)
		if err != nil {
			p.logger.Error().Err(err).Msg("fetch pending operations")
			return
		}
		if len(ops) == 0 {
			p.maintain(ctx)
			return
		}

		for i := range ops {
			if err := limiter.Wait(ctx); err != nil {
				return
			}
			if !p.monitor.State().Online() {
				p.logger.Info().Msg("connectivity lost mid-drain")
				return
			}
			p.processOperation(ctx, &ops[i])
		}
	}
}

func (p *Processor) processOperation(ctx context.Context, op *models.SyncOperation) {
	claimed, err := p.queue.MarkProcessing(ctx, op.ID)
	if err != nil {
		p.logger.Error().Err(err).Str("op", op.ID).Msg("claim operation")
		return
	}
	if !claimed {
		// Someone else got there first; nothing to do.
		return
	}

	handler, ok := p.routes[Route{Entity: op.EntityType, Op: op.OperationType}]
	if !ok {
		p.abandon(ctx, op, fmt.Sprintf("no handler for %s/%s", op.EntityType, op.OperationType))
		return
	}

	if err := handler(ctx, op.Payload); err != nil {
		p.recordFailure(ctx, op, err)
		return
	}

	if err := p.queue.Remove(ctx, op.ID); err != nil {
		p.logger.Error().Err(err).Str("op", op.ID).Msg("remove synced operation")
		return
	}
	metrics.IncProcessed("synced")
	p.publish(events.EventOperationSynced, op, "")
	p.logger.Debug().Str("op", op.ID).Str("entity", op.EntityType).
		Str("type", op.OperationType).Msg("operation synced")
}

// recordFailure applies the failure policy: terminal classifications
// abandon immediately, retryable ones count toward the ceiling and get a
// backoff window before the next drain cycle may touch them.
func (p *Processor) recordFailure(ctx context.Context, op *models.SyncOperation, cause error) {
	attempt := op.AttemptCount + 1

	if transport.IsTerminal(cause) {
		p.abandon(ctx, op, cause.Error())
		return
	}

	if attempt >= p.retry.MaxAttempts {
		p.abandon(ctx, op, cause.Error())
		return
	}

	nextAttempt := time.Now().Add(p.retry.NextDelay(attempt))
	if err := p.queue.RecordFailure(ctx, op.ID, cause.Error(), nextAttempt); err != nil {
		p.logger.Error().Err(err).Str("op", op.ID).Msg("record operation failure")
		return
	}
	metrics.IncProcessed("retried")
	op.AttemptCount = attempt
	p.publish(events.EventOperationRetried, op, cause.Error())
	p.logger.Warn().Str("op", op.ID).Int("attempt", attempt).
		Time("next_attempt", nextAttempt).Err(cause).Msg("operation failed, will retry")
}

func (p *Processor) abandon(ctx context.Context, op *models.SyncOperation, cause string) {
	if err := p.queue.Abandon(ctx, op.ID, cause); err != nil {
		p.logger.Error().Err(err).Str("op", op.ID).Msg("abandon operation")
		return
	}
	op.AttemptCount++
	// Abandonment is a data-loss event; surfacing happens in maintain().
	p.logger.Error().Str("op", op.ID).Str("entity", op.EntityType).
		Str("entity_id", op.EntityID).Str("cause", cause).Msg("operation abandoned")
}

// maintain surfaces and reaps abandoned operations, then refreshes the
// queue depth gauge.
func (p *Processor) maintain(ctx context.Context) {
	abandoned, err := p.queue.Abandoned(ctx)
	if err != nil {
		p.logger.Error().Err(err).Msg("list abandoned operations")
		return
	}

	for i := range abandoned {
		op := &abandoned[i]
		metrics.IncProcessed("abandoned")
		cause := ""
		if op.LastError != nil {
			cause = *op.LastError
		}
		p.publish(events.EventOperationAbandoned, op, cause)
		p.pushDeadLetter(ctx, op)
	}

	if len(abandoned) > 0 {
		if _, err := p.queue.ReapAbandoned(ctx); err != nil {
			p.logger.Error().Err(err).Msg("reap abandoned operations")
		}
	}

	if depth, err := p.queue.Depth(ctx); err == nil {
		metrics.SetQueueDepth(depth)
	}
}

func (p *Processor) publish(eventType string, op *models.SyncOperation, errMsg string) {
	if p.bus == nil {
		return
	}
	payload := events.OperationEventPayload{
		OperationID:   op.ID,
		EntityType:    op.EntityType,
		EntityID:      op.EntityID,
		OperationType: op.OperationType,
		AttemptCount:  op.AttemptCount,
		Error:         errMsg,
		At:            time.Now(),
	}
	if err := p.bus.PublishJSON(eventType, payload); err != nil {
		p.logger.Error().Err(err).Str("event", eventType).Msg("publish event")
	}
}

// pushDeadLetter keeps a copy of abandoned operations in redis for manual
// inspection. Best effort: redis being down must not block the reap.
func (p *Processor) pushDeadLetter(ctx context.Context, op *models.SyncOperation) {
	if p.redis == nil {
		return
	}
	data, err := json.Marshal(op)
	if err != nil {
		p.logger.Error().Err(err).Str("op", op.ID).Msg("encode dead letter")
		return
	}
	if err := p.redis.LPush(ctx, p.deadLetterKey, data).Err(); err != nil {
		p.logger.Error().Err(err).Str("op", op.ID).Msg("dead letter push")
	}
}
