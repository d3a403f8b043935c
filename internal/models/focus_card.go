package models

import "time"

// FocusItem is one ranked slot on a focus card.
type FocusItem struct {
	ItemID string `json:"item_id"`
	Text   string `json:"text"`
	Rank   int    `json:"rank"`
}

// FocusCard is the nightly card of items to tackle the next day.
type FocusCard struct {
	Date      time.Time   `json:"date"`
	Items     []FocusItem `json:"items"`
	Note      string      `json:"note,omitempty"`
	Generated bool        `json:"generated"`
	UpdatedAt time.Time   `json:"updated_at"`
}

// WinEntry is one line in the anti-todo log: something that got done.
type WinEntry struct {
	ID       string    `json:"id"`
	Text     string    `json:"text"`
	LoggedAt time.Time `json:"logged_at"`
}

// Suggestion is a structured-procrastination candidate: an easy task the
// server suggests when the user stalls on the focus card.
type Suggestion struct {
	ItemID string  `json:"item_id"`
	Text   string  `json:"text"`
	Score  float64 `json:"score"`
}
