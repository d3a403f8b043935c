package syncer

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"time"

	"daymark/internal/domain"
	"daymark/internal/events"
	"daymark/internal/metrics"
	"daymark/internal/models"
	"daymark/internal/transport"
	"daymark/internal/worker"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// ApplyStatus tells the caller what happened to a mutation.
type ApplyStatus string

const (
	// StatusSynced means the server confirmed the mutation.
	StatusSynced ApplyStatus = "synced"
	// StatusQueued means the mutation is durably queued and will be
	// replayed when connectivity allows.
	StatusQueued ApplyStatus = "queued"
)

// Coordinator is the app-facing sync API. Reads go straight to the server;
// mutations are optimistic: tried directly first, queued when the direct
// attempt cannot succeed right now. All domain to wire mapping lives here,
// which keeps the queue processor ignorant of domain shapes.
type Coordinator struct {
	client   *transport.Client
	queue    domain.SyncQueue
	monitor  domain.ConnectivityMonitor
	bus      domain.EventPublisher
	deviceID string
	logger   zerolog.Logger
}

func NewCoordinator(
	client *transport.Client,
	queue domain.SyncQueue,
	monitor domain.ConnectivityMonitor,
	bus domain.EventPublisher,
	deviceID string,
	logger *zerolog.Logger,
) *Coordinator {
	log := zerolog.Nop()
	if logger != nil {
		log = logger.With().Str("component", "sync_coordinator").Logger()
	}
	return &Coordinator{
		client:   client,
		queue:    queue,
		monitor:  monitor,
		bus:      bus,
		deviceID: deviceID,
		logger:   log,
	}
}

func (c *Coordinator) online() bool {
	return c.monitor.State().Online()
}

func errOffline() error {
	return &transport.Error{Kind: transport.KindNoConnection, Message: "no connectivity"}
}

// FetchBoard pulls the full three-list snapshot. Reads are never deferred:
// offline callers get an error and keep whatever local copy they hold.
func (c *Coordinator) FetchBoard(ctx context.Context) (*models.Board, error) {
	if !c.online() {
		return nil, errOffline()
	}

	var dto boardDTO
	if err := c.client.Send(ctx, "GET", "/v1/lists/sync", nil, &dto); err != nil {
		return nil, err
	}
	return boardFromWire(dto, c.warnUnknownEnum)
}

// CreateItem adds an item to the board. The returned status distinguishes a
// confirmed server write from a durably queued one.
func (c *Coordinator) CreateItem(ctx context.Context, item *models.ListItem) (ApplyStatus, error) {
	now := time.Now()
	if item.ID == "" {
		item.ID = uuid.NewString()
	}
	if item.List == "" {
		item.List = models.DefaultListType
	}
	if item.CreatedAt.IsZero() {
		item.CreatedAt = now
	}
	item.UpdatedAt = now

	return c.applyMutation(ctx, models.EntityListItem, item.ID, models.OpCreate, itemToWire(item), func() error {
		return c.client.Send(ctx, "POST", "/v1/lists", itemToWire(item), nil)
	})
}

// UpdateItem pushes the item's current snapshot. Edits made while a previous
// snapshot waits in the queue become separate queue entries and replay in
// enqueue order. A direct send that lands while an older snapshot is still
// queued can be overwritten by that snapshot's replay; conflicts stay
// last-write-wins with no version check.
func (c *Coordinator) UpdateItem(ctx context.Context, item *models.ListItem) (ApplyStatus, error) {
	if item.ID == "" {
		return "", &transport.Error{Kind: transport.KindInvalidInput, Message: "update requires an item id"}
	}
	item.UpdatedAt = time.Now()

	return c.applyMutation(ctx, models.EntityListItem, item.ID, models.OpUpdate, itemToWire(item), func() error {
		return c.client.Send(ctx, "PUT", "/v1/lists/"+item.ID, itemToWire(item), nil)
	})
}

// DeleteItem removes an item from the board.
func (c *Coordinator) DeleteItem(ctx context.Context, id string) (ApplyStatus, error) {
	if id == "" {
		return "", &transport.Error{Kind: transport.KindInvalidInput, Message: "delete requires an item id"}
	}

	return c.applyMutation(ctx, models.EntityListItem, id, models.OpDelete, deleteDTO{ID: id}, func() error {
		return c.client.Send(ctx, "DELETE", "/v1/lists/"+id, nil, nil)
	})
}

// PushFocusCard uploads tonight's focus card. Cards are keyed by date on the
// server, so a re-push of the same date overwrites.
func (c *Coordinator) PushFocusCard(ctx context.Context, card *models.FocusCard) (ApplyStatus, error) {
	card.UpdatedAt = time.Now()
	entityID := card.Date.Format(wireDateLayout)

	return c.applyMutation(ctx, models.EntityFocusCard, entityID, models.OpUpdate, focusCardToWire(card), func() error {
		return c.client.Send(ctx, "PUT", "/v1/focus-card", focusCardToWire(card), nil)
	})
}

// LogWin appends an entry to the anti-todo list.
func (c *Coordinator) LogWin(ctx context.Context, win *models.WinEntry) (ApplyStatus, error) {
	if win.ID == "" {
		win.ID = uuid.NewString()
	}
	if win.LoggedAt.IsZero() {
		win.LoggedAt = time.Now()
	}

	return c.applyMutation(ctx, models.EntityWinEntry, win.ID, models.OpCreate, winToWire(win), func() error {
		return c.client.Send(ctx, "POST", "/v1/anti-todo", winToWire(win), nil)
	})
}

// FetchFocusCard retrieves the focus card for a given date.
func (c *Coordinator) FetchFocusCard(ctx context.Context, date time.Time) (*models.FocusCard, error) {
	if !c.online() {
		return nil, errOffline()
	}

	var dto focusCardDTO
	path := "/v1/focus-card?date=" + date.Format(wireDateLayout)
	if err := c.client.Send(ctx, "GET", path, nil, &dto); err != nil {
		return nil, err
	}
	return focusCardFromWire(dto)
}

// GenerateFocusCard asks the server to draft a card for the given date from
// the board. The device id goes along so the server can attribute the draft.
func (c *Coordinator) GenerateFocusCard(ctx context.Context, date time.Time) (*models.FocusCard, error) {
	if !c.online() {
		return nil, errOffline()
	}

	req := generateRequestDTO{Date: date.Format(wireDateLayout), DeviceID: c.deviceID}
	var dto focusCardDTO
	if err := c.client.Send(ctx, "POST", "/v1/focus-card/generate", req, &dto); err != nil {
		return nil, err
	}
	return focusCardFromWire(dto)
}

// FetchWins returns the anti-todo entries logged on a given date.
func (c *Coordinator) FetchWins(ctx context.Context, date time.Time) ([]models.WinEntry, error) {
	if !c.online() {
		return nil, errOffline()
	}

	var dto winFeedDTO
	path := "/v1/anti-todo?date=" + date.Format(wireDateLayout)
	if err := c.client.Send(ctx, "GET", path, nil, &dto); err != nil {
		return nil, err
	}

	wins := make([]models.WinEntry, 0, len(dto.Entries))
	for _, raw := range dto.Entries {
		win, err := winFromWire(raw)
		if err != nil {
			return nil, err
		}
		wins = append(wins, win)
	}
	return wins, nil
}

// ClassifyItem asks the server which list a new item's text belongs on. The
// call sits on the capture path, so it runs under a short timeout; callers
// fall back to the default list on any failure.
func (c *Coordinator) ClassifyItem(ctx context.Context, text string) (models.ListType, error) {
	if !c.online() {
		return models.DefaultListType, errOffline()
	}

	var dto classifyResponseDTO
	err := c.client.Send(ctx, "POST", "/v1/items/classify", classifyRequestDTO{Text: text}, &dto,
		transport.WithTimeout(models.ClassifyTimeout))
	if err != nil {
		return models.DefaultListType, err
	}

	list, ok := models.ParseListType(dto.List)
	if !ok {
		c.warnUnknownEnum("list", dto.List)
	}
	return list, nil
}

// ProcrastinationSuggestions returns watch/later items worth doing instead
// of the current task, best score first.
func (c *Coordinator) ProcrastinationSuggestions(ctx context.Context, limit int) ([]models.Suggestion, error) {
	if !c.online() {
		return nil, errOffline()
	}

	path := "/v1/suggestions/structured-procrastination"
	if limit > 0 {
		path += "?limit=" + url.QueryEscape(fmt.Sprint(limit))
	}

	var dto suggestionFeedDTO
	if err := c.client.Send(ctx, "GET", path, nil, &dto); err != nil {
		return nil, err
	}

	suggestions := make([]models.Suggestion, 0, len(dto.Suggestions))
	for _, raw := range dto.Suggestions {
		suggestions = append(suggestions, models.Suggestion{ItemID: raw.ItemID, Text: raw.Text, Score: raw.Score})
	}
	return suggestions, nil
}

// applyMutation runs the optimistic path: direct attempt while online,
// durable enqueue otherwise. Terminal failures on the direct attempt are
// returned to the caller instead of queued, because replaying them can only
// end in abandonment.
func (c *Coordinator) applyMutation(
	ctx context.Context,
	entityType, entityID, opType string,
	snapshot any,
	send func() error,
) (ApplyStatus, error) {
	if c.online() {
		err := send()
		if err == nil {
			return StatusSynced, nil
		}
		if transport.IsTerminal(err) {
			return "", err
		}
		c.logger.Warn().Err(err).
			Str("entity_type", entityType).Str("entity_id", entityID).Str("op", opType).
			Msg("direct send failed, queueing")
	}

	if err := c.enqueue(ctx, entityType, entityID, opType, snapshot); err != nil {
		return "", err
	}
	return StatusQueued, nil
}

func (c *Coordinator) enqueue(ctx context.Context, entityType, entityID, opType string, snapshot any) error {
	payload, err := json.Marshal(snapshot)
	if err != nil {
		return fmt.Errorf("failed to encode queue payload: %w", err)
	}

	op := &models.SyncOperation{
		EntityType:    entityType,
		EntityID:      entityID,
		OperationType: opType,
		Payload:       payload,
	}
	if err := c.queue.Enqueue(ctx, op); err != nil {
		return fmt.Errorf("failed to enqueue %s %s: %w", opType, entityType, err)
	}

	metrics.IncEnqueued(entityType)
	if c.bus != nil {
		_ = c.bus.PublishJSON(events.EventOperationEnqueued, events.OperationEventPayload{
			OperationID:   op.ID,
			EntityType:    entityType,
			EntityID:      entityID,
			OperationType: opType,
			At:            time.Now(),
		})
	}

	c.logger.Info().
		Str("op", op.ID).Str("entity_type", entityType).Str("entity_id", entityID).
		Str("op_type", opType).Msg("mutation queued")
	return nil
}

// Routes is the dispatch table the queue processor replays stored payloads
// with. Handlers rebuild the wire call from the snapshot alone; the payload
// is never rewritten between attempts.
func (c *Coordinator) Routes() map[worker.Route]worker.Handler {
	return map[worker.Route]worker.Handler{
		{Entity: models.EntityListItem, Op: models.OpCreate}: func(ctx context.Context, payload []byte) error {
			var dto itemDTO
			if err := json.Unmarshal(payload, &dto); err != nil {
				return &transport.Error{Kind: transport.KindDecoding, Message: "decode queued item", Err: err}
			}
			return c.client.Send(ctx, "POST", "/v1/lists", dto, nil)
		},
		{Entity: models.EntityListItem, Op: models.OpUpdate}: func(ctx context.Context, payload []byte) error {
			var dto itemDTO
			if err := json.Unmarshal(payload, &dto); err != nil {
				return &transport.Error{Kind: transport.KindDecoding, Message: "decode queued item", Err: err}
			}
			return c.client.Send(ctx, "PUT", "/v1/lists/"+dto.ID, dto, nil)
		},
		{Entity: models.EntityListItem, Op: models.OpDelete}: func(ctx context.Context, payload []byte) error {
			var dto deleteDTO
			if err := json.Unmarshal(payload, &dto); err != nil {
				return &transport.Error{Kind: transport.KindDecoding, Message: "decode queued delete", Err: err}
			}
			return c.client.Send(ctx, "DELETE", "/v1/lists/"+dto.ID, nil, nil)
		},
		{Entity: models.EntityFocusCard, Op: models.OpUpdate}: func(ctx context.Context, payload []byte) error {
			var dto focusCardDTO
			if err := json.Unmarshal(payload, &dto); err != nil {
				return &transport.Error{Kind: transport.KindDecoding, Message: "decode queued focus card", Err: err}
			}
			return c.client.Send(ctx, "PUT", "/v1/focus-card", dto, nil)
		},
		{Entity: models.EntityWinEntry, Op: models.OpCreate}: func(ctx context.Context, payload []byte) error {
			var dto winDTO
			if err := json.Unmarshal(payload, &dto); err != nil {
				return &transport.Error{Kind: transport.KindDecoding, Message: "decode queued win", Err: err}
			}
			return c.client.Send(ctx, "POST", "/v1/anti-todo", dto, nil)
		},
	}
}

func (c *Coordinator) warnUnknownEnum(field, raw string) {
	c.logger.Warn().Str("field", field).Str("value", raw).Msg("unknown enum value from server, using default")
}
