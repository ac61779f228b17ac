package api

import (
	"context"

	"github.com/jeajq/jobtracker/board"
	"github.com/jeajq/jobtracker/domain"
)

// BoardStore is the board document store plus the flows that add cards and
// saved jobs outside a board session.
type BoardStore interface {
	board.Store
	Snapshot(ctx context.Context, ownerID string) (domain.Snapshot, error)
	AddJob(ctx context.Context, job domain.Job) (domain.Job, error)
	SavedJobs(ctx context.Context, ownerID string) ([]domain.SavedJob, error)
	SaveJob(ctx context.Context, s domain.SavedJob) (domain.SavedJob, error)
	DeleteSavedJob(ctx context.Context, ownerID, id string) error
	TrackApplication(ctx context.Context, s domain.SavedJob) (domain.Job, error)
}

// PostingStore persists employer postings and applicants.
type PostingStore interface {
	Create(ctx context.Context, p domain.Posting) (domain.Posting, error)
	Get(ctx context.Context, id string) (domain.Posting, error)
	ListByCreator(ctx context.Context, createdBy string) ([]domain.Posting, error)
	Search(ctx context.Context, q, loc string) ([]domain.Posting, error)
	Apply(ctx context.Context, a domain.Applicant) (domain.Applicant, error)
	Applicants(ctx context.Context, postingID string) ([]domain.Applicant, error)
}

// ProfileStore keeps the contact details of each account.
type ProfileStore interface {
	Profile(ctx context.Context, role, userID string) (domain.Profile, error)
	SaveProfile(ctx context.Context, p domain.Profile) error
}

// Authenticator is implemented by types able to extract principals from headers.
type Authenticator interface {
	PrincipalFromAuthHeader(string) (Principal, error)
}

// MoveGuard claims move idempotency keys.
type MoveGuard interface {
	Claim(ctx context.Context, ownerID, key string) (bool, error)
	Release(ctx context.Context, ownerID, key string) error
}
