package storage

import (
	"errors"
	"time"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("not found")

// ErrConflict is returned when a compare-and-swap bill update lost the race:
// the row's version moved between read and write.
var ErrConflict = errors.New("version conflict")

// Bill is one cached catalog entry from the legislative data provider.
// Doc holds the base64-encoded bill text once something has needed it;
// Tags holds the canonical tag JSON once the tagging pipeline has run.
// Both are empty until then. Version increments on every doc/tag write and
// backs optimistic concurrency control.
type Bill struct {
	BillID         int64  `json:"billId"`
	Number         string `json:"number"`
	Title          string `json:"title"`
	Description    string `json:"description"`
	URL            string `json:"url"`
	Status         int    `json:"status"`
	StatusDate     string `json:"status_date"`
	LastAction     string `json:"last_action"`
	LastActionDate string `json:"last_action_date"`
	ChangeHash     string `json:"changeHash"`
	Doc            string `json:"-"`
	Tags           string `json:"-"`
	Version        int64  `json:"-"`
}

// Message roles.
const (
	RoleUser = "user"
	RoleBot  = "bot"
)

// ChatMessage is one append-only entry in a (user, bill) conversation.
// Seq is the per-conversation ordering; a user message and its bot reply
// occupy consecutive seq values written in one transaction.
type ChatMessage struct {
	ID        string    `json:"id"`
	UserID    string    `json:"-"`
	BillID    int64     `json:"-"`
	Role      string    `json:"role"`
	Text      string    `json:"text"`
	Seq       int64     `json:"-"`
	CreatedAt time.Time `json:"created_at"`
}
