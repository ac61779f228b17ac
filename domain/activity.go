package domain

import "github.com/bytedance/sonic"

const (
	ActivityJobAdded    = "job-added"
	ActivityCardsMoved  = "cards-moved"
	ActivityNoteUpdated = "note-updated"
	ActivityCardDeleted = "card-deleted"
)

// ActivityEvent records a committed board change for downstream consumers.
type ActivityEvent struct {
	OwnerID string   `json:"ownerId"`
	Type    string   `json:"type"`
	JobIDs  []string `json:"jobIds"`
	Version int64    `json:"version"`
	Time    int64    `json:"time"`
}

// Encode renders the event as the queue message body.
func (e ActivityEvent) Encode() (string, error) {
	return sonic.MarshalString(e)
}
