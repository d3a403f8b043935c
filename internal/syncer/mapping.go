package syncer

import (
	"fmt"
	"time"

	"daymark/internal/models"
)

// The server's timestamp format has drifted across releases, so decoding
// tries the current format first and falls back to the older ones.
var wireTimeLayouts = []string{
	time.RFC3339,
	"2006-01-02 15:04:05",
	"2006-01-02",
}

const wireDateLayout = "2006-01-02"

func parseWireTime(raw string) (time.Time, error) {
	if raw == "" {
		return time.Time{}, nil
	}
	var lastErr error
	for _, layout := range wireTimeLayouts {
		t, err := time.Parse(layout, raw)
		if err == nil {
			return t, nil
		}
		lastErr = err
	}
	return time.Time{}, fmt.Errorf("failed to parse timestamp %q: %w", raw, lastErr)
}

func encodeWireTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.Format(time.RFC3339)
}

type itemDTO struct {
	ID          string `json:"id"`
	Text        string `json:"text"`
	List        string `json:"list"`
	Done        bool   `json:"done"`
	Position    int    `json:"position"`
	CreatedAt   string `json:"created_at,omitempty"`
	UpdatedAt   string `json:"updated_at,omitempty"`
	CompletedAt string `json:"completed_at,omitempty"`
}

type boardDTO struct {
	Items    []itemDTO `json:"items"`
	SyncedAt string    `json:"synced_at"`
}

type focusItemDTO struct {
	ItemID string `json:"item_id"`
	Text   string `json:"text"`
	Rank   int    `json:"rank"`
}

type focusCardDTO struct {
	Date      string         `json:"date"`
	Items     []focusItemDTO `json:"items"`
	Note      string         `json:"note,omitempty"`
	Generated bool           `json:"generated"`
	UpdatedAt string         `json:"updated_at,omitempty"`
}

type winDTO struct {
	ID       string `json:"id"`
	Text     string `json:"text"`
	LoggedAt string `json:"logged_at"`
}

type winFeedDTO struct {
	Entries []winDTO `json:"entries"`
}

type classifyRequestDTO struct {
	Text string `json:"text"`
}

type generateRequestDTO struct {
	Date     string `json:"date"`
	DeviceID string `json:"deviceId"`
}

type classifyResponseDTO struct {
	List       string  `json:"list"`
	Confidence float64 `json:"confidence"`
}

type suggestionDTO struct {
	ItemID string  `json:"item_id"`
	Text   string  `json:"text"`
	Score  float64 `json:"score"`
}

type suggestionFeedDTO struct {
	Suggestions []suggestionDTO `json:"suggestions"`
}

// deleteDTO is the queued snapshot for a delete; the id is all the replay
// needs to rebuild the wire call.
type deleteDTO struct {
	ID string `json:"id"`
}

func itemToWire(item *models.ListItem) itemDTO {
	dto := itemDTO{
		ID:        item.ID,
		Text:      item.Text,
		List:      string(item.List),
		Done:      item.Done,
		Position:  item.Position,
		CreatedAt: encodeWireTime(item.CreatedAt),
		UpdatedAt: encodeWireTime(item.UpdatedAt),
	}
	if item.CompletedAt != nil {
		dto.CompletedAt = encodeWireTime(*item.CompletedAt)
	}
	return dto
}

func itemFromWire(dto itemDTO, logWarn func(field, raw string)) (models.ListItem, error) {
	list, ok := models.ParseListType(dto.List)
	if !ok && logWarn != nil {
		logWarn("list", dto.List)
	}

	created, err := parseWireTime(dto.CreatedAt)
	if err != nil {
		return models.ListItem{}, err
	}
	updated, err := parseWireTime(dto.UpdatedAt)
	if err != nil {
		return models.ListItem{}, err
	}

	item := models.ListItem{
		ID:        dto.ID,
		Text:      dto.Text,
		List:      list,
		Done:      dto.Done,
		Position:  dto.Position,
		CreatedAt: created,
		UpdatedAt: updated,
	}
	if dto.CompletedAt != "" {
		completed, err := parseWireTime(dto.CompletedAt)
		if err != nil {
			return models.ListItem{}, err
		}
		item.CompletedAt = &completed
	}
	return item, nil
}

func boardFromWire(dto boardDTO, logWarn func(field, raw string)) (*models.Board, error) {
	syncedAt, err := parseWireTime(dto.SyncedAt)
	if err != nil {
		return nil, err
	}

	board := &models.Board{SyncedAt: syncedAt}
	for _, raw := range dto.Items {
		item, err := itemFromWire(raw, logWarn)
		if err != nil {
			return nil, err
		}
		board.Items = append(board.Items, item)
	}
	return board, nil
}

func focusCardToWire(card *models.FocusCard) focusCardDTO {
	dto := focusCardDTO{
		Date:      card.Date.Format(wireDateLayout),
		Note:      card.Note,
		Generated: card.Generated,
		UpdatedAt: encodeWireTime(card.UpdatedAt),
	}
	for _, item := range card.Items {
		dto.Items = append(dto.Items, focusItemDTO{ItemID: item.ItemID, Text: item.Text, Rank: item.Rank})
	}
	return dto
}

func focusCardFromWire(dto focusCardDTO) (*models.FocusCard, error) {
	date, err := parseWireTime(dto.Date)
	if err != nil {
		return nil, err
	}
	updated, err := parseWireTime(dto.UpdatedAt)
	if err != nil {
		return nil, err
	}

	card := &models.FocusCard{
		Date:      date,
		Note:      dto.Note,
		Generated: dto.Generated,
		UpdatedAt: updated,
	}
	for _, item := range dto.Items {
		card.Items = append(card.Items, models.FocusItem{ItemID: item.ItemID, Text: item.Text, Rank: item.Rank})
	}
	return card, nil
}

func winToWire(win *models.WinEntry) winDTO {
	return winDTO{
		ID:       win.ID,
		Text:     win.Text,
		LoggedAt: encodeWireTime(win.LoggedAt),
	}
}

func winFromWire(dto winDTO) (models.WinEntry, error) {
	loggedAt, err := parseWireTime(dto.LoggedAt)
	if err != nil {
		return models.WinEntry{}, err
	}
	return models.WinEntry{ID: dto.ID, Text: dto.Text, LoggedAt: loggedAt}, nil
}
