package models

import "time"

// ListType identifies which of the three board lists an item lives on.
type ListType string

const (
	ListTodo  ListType = "todo"
	ListWatch ListType = "watch"
	ListLater ListType = "later"
)

// DefaultListType is where items land when the server sends a list type we
// do not recognize.
const DefaultListType = ListTodo

// ParseListType maps a wire string to a ListType. Unknown strings return
// DefaultListType and ok=false so callers can log the fallback.
func ParseListType(s string) (ListType, bool) {
	switch ListType(s) {
	case ListTodo, ListWatch, ListLater:
		return ListType(s), true
	default:
		return DefaultListType, false
	}
}

// ListItem is one entry on the task board.
type ListItem struct {
	ID          string     `json:"id"`
	Text        string     `json:"text"`
	List        ListType   `json:"list"`
	Done        bool       `json:"done"`
	Position    int        `json:"position"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// Board is the full three-list snapshot returned by the sync endpoint.
type Board struct {
	Items    []ListItem `json:"items"`
	SyncedAt time.Time  `json:"synced_at"`
}

// ByList splits the board into its three lists, preserving item order.
func (b *Board) ByList() map[ListType][]ListItem {
	out := make(map[ListType][]ListItem, 3)
	for _, item := range b.Items {
		out[item.List] = append(out[item.List], item)
	}
	return out
}
