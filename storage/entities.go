package storage

import (
	"strings"
	"time"

	"github.com/jeajq/jobtracker/domain"
)

// entity holds the table keys shared by every row.
type entity struct {
	PartitionKey string `json:"PartitionKey"`
	RowKey       string `json:"RowKey"`
}

const (
	edmInt64    = "Edm.Int64"
	edmDateTime = "Edm.DateTime"
)

// versionRowKey is the row in each owner's partition that carries the board
// version. It sorts after uuid row keys.
const versionRowKey = "~board"

type jobEntity struct {
	entity
	Title         string `json:"Title,omitempty"`
	Company       string `json:"Company,omitempty"`
	Role          string `json:"Role,omitempty"`
	Description   string `json:"Description,omitempty"`
	URL           string `json:"URL,omitempty"`
	Location      string `json:"Location,omitempty"`
	DateApplied   string `json:"DateApplied,omitempty"`
	DatePosted    string `json:"DatePosted,omitempty"`
	Note          string `json:"Note,omitempty"`
	Status        string `json:"Status"`
	Position      int    `json:"Position"`
	LinkedSavedID string `json:"LinkedSavedId,omitempty"`
	Version       int64  `json:"Version,string"`
	VersionType   string `json:"Version@odata.type"`
}

// jobUpdate carries a merge of the fields in a FieldWrite.
type jobUpdate struct {
	entity
	Position    *int    `json:"Position,omitempty"`
	Status      *string `json:"Status,omitempty"`
	Note        *string `json:"Note,omitempty"`
	Version     int64   `json:"Version,string"`
	VersionType string  `json:"Version@odata.type"`
}

type versionEntity struct {
	entity
	Version     int64  `json:"Version,string"`
	VersionType string `json:"Version@odata.type"`
}

type savedJobEntity struct {
	entity
	Title       string    `json:"Title,omitempty"`
	Company     string    `json:"Company,omitempty"`
	Location    string    `json:"Location,omitempty"`
	URL         string    `json:"URL,omitempty"`
	Role        string    `json:"Role,omitempty"`
	Description string    `json:"Description,omitempty"`
	DatePosted  string    `json:"DatePosted,omitempty"`
	Applied     bool      `json:"Applied"`
	JobID       string    `json:"JobId,omitempty"`
	SavedAt     time.Time `json:"SavedAt"`
	SavedAtType string    `json:"SavedAt@odata.type"`
}

func toJobEntity(j domain.Job) jobEntity {
	return jobEntity{
		entity:        entity{PartitionKey: j.OwnerID, RowKey: j.ID},
		Title:         j.Title,
		Company:       j.Company,
		Role:          j.Role,
		Description:   j.Description,
		URL:           j.URL,
		Location:      j.Location,
		DateApplied:   j.DateApplied,
		DatePosted:    j.DatePosted,
		Note:          j.Note,
		Status:        string(j.Status),
		Position:      j.Position,
		LinkedSavedID: j.LinkedSavedID,
		Version:       j.Version,
		VersionType:   edmInt64,
	}
}

func (e jobEntity) job() domain.Job {
	return domain.Job{
		ID:            e.RowKey,
		OwnerID:       e.PartitionKey,
		Title:         e.Title,
		Company:       e.Company,
		Role:          e.Role,
		Description:   e.Description,
		URL:           e.URL,
		Location:      e.Location,
		DateApplied:   e.DateApplied,
		DatePosted:    e.DatePosted,
		Note:          e.Note,
		Status:        domain.Status(e.Status),
		Position:      e.Position,
		LinkedSavedID: e.LinkedSavedID,
		Version:       e.Version,
	}
}

func toJobUpdate(ownerID string, version int64, w domain.FieldWrite) jobUpdate {
	u := jobUpdate{
		entity:      entity{PartitionKey: ownerID, RowKey: w.ID},
		Position:    w.Position,
		Note:        w.Note,
		Version:     version,
		VersionType: edmInt64,
	}
	if w.Status != nil {
		s := string(*w.Status)
		u.Status = &s
	}
	return u
}

func toSavedJobEntity(s domain.SavedJob) savedJobEntity {
	return savedJobEntity{
		entity:      entity{PartitionKey: s.OwnerID, RowKey: s.ID},
		Title:       s.Title,
		Company:     s.Company,
		Location:    s.Location,
		URL:         s.URL,
		Role:        s.Role,
		Description: s.Description,
		DatePosted:  s.DatePosted,
		Applied:     s.Applied,
		JobID:       s.JobID,
		SavedAt:     s.SavedAt.UTC(),
		SavedAtType: edmDateTime,
	}
}

func (e savedJobEntity) savedJob() domain.SavedJob {
	return domain.SavedJob{
		ID:          e.RowKey,
		OwnerID:     e.PartitionKey,
		Title:       e.Title,
		Company:     e.Company,
		Location:    e.Location,
		URL:         e.URL,
		Role:        e.Role,
		Description: e.Description,
		DatePosted:  e.DatePosted,
		Applied:     e.Applied,
		JobID:       e.JobID,
		SavedAt:     e.SavedAt,
	}
}

// quote renders s as an OData string literal.
func quote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", "''") + "'"
}

func partitionFilter(ownerID string) string {
	return "PartitionKey eq " + quote(ownerID)
}
