package domain

import "time"

// SavedJob is a search result a user bookmarked.
type SavedJob struct {
	ID          string    `json:"id"`
	OwnerID     string    `json:"ownerId,omitempty"`
	Title       string    `json:"title"`
	Company     string    `json:"company"`
	Location    string    `json:"location,omitempty"`
	URL         string    `json:"url,omitempty"`
	Role        string    `json:"role,omitempty"`
	Description string    `json:"description,omitempty"`
	DatePosted  string    `json:"datePosted,omitempty"`
	Applied     bool      `json:"applied"`
	JobID       string    `json:"jobId,omitempty"`
	SavedAt     time.Time `json:"savedAt"`
}

// Posting is a job advertised by an employer.
type Posting struct {
	ID          string    `json:"id"`
	CreatedBy   string    `json:"createdBy"`
	Title       string    `json:"title"`
	Company     string    `json:"company"`
	Type        string    `json:"type,omitempty"`
	Rate        string    `json:"rate,omitempty"`
	Deadline    string    `json:"deadline,omitempty"`
	Location    string    `json:"location,omitempty"`
	Description string    `json:"description,omitempty"`
	Email       string    `json:"email,omitempty"`
	CreatedAt   time.Time `json:"createdAt"`
}

// Applicant is one application submitted against a Posting.
type Applicant struct {
	ID        string    `json:"id"`
	PostingID string    `json:"postingId"`
	UserID    string    `json:"userId"`
	FirstName string    `json:"firstName"`
	LastName  string    `json:"lastName"`
	Email     string    `json:"email"`
	AppliedAt time.Time `json:"appliedAt"`
}

// Account roles.
const (
	RoleApplicant = "applicant"
	RoleEmployer  = "employer"
)

// Profile holds the contact details of a user or employer account.
type Profile struct {
	UserID    string `json:"userId"`
	Role      string `json:"role"`
	FirstName string `json:"firstName"`
	LastName  string `json:"lastName"`
	Email     string `json:"email"`
	Phone     string `json:"phone,omitempty"`
}
