package domain

import (
	"fmt"
	"strings"
)

// Status names the board column a job application sits in.
type Status string

const (
	StatusApplied    Status = "applied"
	StatusAssessment Status = "assessment"
	StatusInterview  Status = "interview"
	StatusOffer      Status = "offer"
	StatusRejected   Status = "rejected"
)

// Columns lists the default board columns in display order.
var Columns = []Status{
	StatusApplied,
	StatusAssessment,
	StatusInterview,
	StatusOffer,
	StatusRejected,
}

// ParseStatus normalises s and checks it against the default columns.
func ParseStatus(s string) (Status, error) {
	st := Status(strings.ToLower(strings.TrimSpace(s)))
	for _, c := range Columns {
		if c == st {
			return st, nil
		}
	}
	return "", fmt.Errorf("unknown status %q", s)
}

// Job is a single tracked job application, one card on the board.
type Job struct {
	ID            string `json:"id"`
	OwnerID       string `json:"ownerId,omitempty"`
	Title         string `json:"title"`
	Company       string `json:"company"`
	Role          string `json:"role,omitempty"`
	Description   string `json:"description,omitempty"`
	URL           string `json:"url,omitempty"`
	Location      string `json:"location,omitempty"`
	DateApplied   string `json:"dateApplied,omitempty"`
	DatePosted    string `json:"datePosted,omitempty"`
	Note          string `json:"note,omitempty"`
	Status        Status `json:"status"`
	Position      int    `json:"position"`
	LinkedSavedID string `json:"linkedSavedId,omitempty"`
	Version       int64  `json:"version,omitempty"`
}

// FieldWrite carries the fields of one record touched by a write. Nil fields
// are left untouched.
type FieldWrite struct {
	ID       string  `json:"id"`
	Position *int    `json:"position,omitempty"`
	Status   *Status `json:"status,omitempty"`
	Note     *string `json:"note,omitempty"`
}

// Empty reports whether the write carries no fields.
func (w FieldWrite) Empty() bool {
	return w.Position == nil && w.Status == nil && w.Note == nil
}

// Snapshot is the full set of an owner's jobs as seen by the store at Version.
type Snapshot struct {
	OwnerID string `json:"ownerId"`
	Version int64  `json:"version"`
	Jobs    []Job  `json:"jobs"`
}

// Collection identifies a document collection in the store.
type Collection string

const (
	CollectionJobs      Collection = "jobs"
	CollectionSavedJobs Collection = "saved_jobs"
)
