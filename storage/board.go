package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"github.com/jeajq/jobtracker/board"
	"github.com/jeajq/jobtracker/domain"
)

// Notifier distributes board versions to live subscribers.
type Notifier interface {
	Publish(ctx context.Context, ownerID string, version int64) error
	Subscribe(ctx context.Context, ownerID string, fn func(domain.Snapshot)) (func(), error)
}

// Board is the document store used by board sessions and the side flows. It
// commits to the backend, then publishes the new version and records an
// activity event.
type Board struct {
	backend  Backend
	notifier Notifier
	clock    board.Clock
	logger   *log.Logger
}

var _ board.Store = (*Board)(nil)

// NewBoard wires a backend to a notifier.
func NewBoard(backend Backend, notifier Notifier, logger *log.Logger) *Board {
	if logger == nil {
		logger = log.StandardLogger()
	}
	return &Board{backend: backend, notifier: notifier, clock: board.NewClock(), logger: logger}
}

// Subscribe delivers the owner's snapshots to fn until the returned function
// is called.
func (b *Board) Subscribe(ctx context.Context, ownerID string, fn func(domain.Snapshot)) (func(), error) {
	return b.notifier.Subscribe(ctx, ownerID, fn)
}

// Snapshot reads the owner's board.
func (b *Board) Snapshot(ctx context.Context, ownerID string) (domain.Snapshot, error) {
	return b.backend.FetchSnapshot(ctx, ownerID)
}

// BatchWrite commits writes atomically.
func (b *Board) BatchWrite(ctx context.Context, ownerID string, version int64, writes []domain.FieldWrite) error {
	if err := b.backend.CommitBatch(ctx, ownerID, version, writes); err != nil {
		return err
	}
	ids := make([]string, 0, len(writes))
	for _, w := range writes {
		ids = append(ids, w.ID)
	}
	b.committed(ctx, ownerID, version, domain.ActivityCardsMoved, ids...)
	return nil
}

// UpdateOne merges a single write.
func (b *Board) UpdateOne(ctx context.Context, ownerID, id string, version int64, w domain.FieldWrite) error {
	w.ID = id
	if err := b.backend.CommitBatch(ctx, ownerID, version, []domain.FieldWrite{w}); err != nil {
		return err
	}
	kind := domain.ActivityCardsMoved
	if w.Note != nil {
		kind = domain.ActivityNoteUpdated
	}
	b.committed(ctx, ownerID, version, kind, id)
	return nil
}

// DeleteOne removes a record from collection.
func (b *Board) DeleteOne(ctx context.Context, collection domain.Collection, ownerID, id string, version int64) error {
	switch collection {
	case domain.CollectionJobs:
		if err := b.backend.DeleteJob(ctx, ownerID, id, version); err != nil {
			return err
		}
		b.committed(ctx, ownerID, version, domain.ActivityCardDeleted, id)
		return nil
	case domain.CollectionSavedJobs:
		err := b.backend.DeleteSavedJob(ctx, ownerID, id)
		if errors.Is(err, ErrNotFound) {
			return nil
		}
		return err
	default:
		return fmt.Errorf("unknown collection %q", collection)
	}
}

// AddJob appends job to the end of the applied column.
func (b *Board) AddJob(ctx context.Context, job domain.Job) (domain.Job, error) {
	snap, err := b.backend.FetchSnapshot(ctx, job.OwnerID)
	if err != nil {
		return domain.Job{}, err
	}
	// Deletes leave gaps, so append after the highest position rather than
	// the card count.
	pos := 0
	for _, j := range snap.Jobs {
		if j.Status == domain.StatusApplied && j.Position >= pos {
			pos = j.Position + 1
		}
	}
	job.ID = uuid.NewString()
	job.Status = domain.StatusApplied
	job.Position = pos
	if job.DateApplied == "" {
		job.DateApplied = time.Now().UTC().Format("2006-01-02")
	}
	version := b.clock()
	if version <= snap.Version {
		version = snap.Version + 1
	}
	job.Version = version
	if err := b.backend.InsertJob(ctx, job, version); err != nil {
		return domain.Job{}, err
	}
	b.committed(ctx, job.OwnerID, version, domain.ActivityJobAdded, job.ID)
	return job, nil
}

// SavedJobs lists the owner's saved jobs.
func (b *Board) SavedJobs(ctx context.Context, ownerID string) ([]domain.SavedJob, error) {
	return b.backend.ListSavedJobs(ctx, ownerID)
}

// SaveJob stores a new saved job, or returns the existing one with the same
// URL.
func (b *Board) SaveJob(ctx context.Context, s domain.SavedJob) (domain.SavedJob, error) {
	if strings.TrimSpace(s.URL) != "" {
		existing, err := b.backend.FindSavedJobByURL(ctx, s.OwnerID, s.URL)
		if err != nil {
			return domain.SavedJob{}, err
		}
		if existing != nil {
			return *existing, nil
		}
	}
	s.ID = uuid.NewString()
	s.SavedAt = time.Now().UTC()
	if err := b.backend.UpsertSavedJob(ctx, s); err != nil {
		return domain.SavedJob{}, err
	}
	return s, nil
}

// DeleteSavedJob removes a saved job.
func (b *Board) DeleteSavedJob(ctx context.Context, ownerID, id string) error {
	return b.backend.DeleteSavedJob(ctx, ownerID, id)
}

// TrackApplication records that the owner applied to s: the saved job is
// created or marked applied and a linked card is added to the board. Calling
// it again for the same URL returns the card already linked.
func (b *Board) TrackApplication(ctx context.Context, s domain.SavedJob) (domain.Job, error) {
	saved, err := b.SaveJob(ctx, s)
	if err != nil {
		return domain.Job{}, err
	}
	if saved.Applied && saved.JobID != "" {
		snap, err := b.backend.FetchSnapshot(ctx, s.OwnerID)
		if err != nil {
			return domain.Job{}, err
		}
		for _, j := range snap.Jobs {
			if j.ID == saved.JobID {
				return j, nil
			}
		}
		b.logger.WithFields(log.Fields{"owner": s.OwnerID, "saved": saved.ID, "job": saved.JobID}).Warn("linked card missing, tracking again")
	}
	job, err := b.AddJob(ctx, domain.Job{
		OwnerID:       s.OwnerID,
		Title:         s.Title,
		Company:       s.Company,
		Role:          s.Role,
		Description:   s.Description,
		URL:           s.URL,
		Location:      s.Location,
		DatePosted:    s.DatePosted,
		LinkedSavedID: saved.ID,
	})
	if err != nil {
		return domain.Job{}, err
	}
	saved.Applied = true
	saved.JobID = job.ID
	if err := b.backend.UpsertSavedJob(ctx, saved); err != nil {
		return job, err
	}
	return job, nil
}

// committed publishes the new version and queues the activity event. Neither
// failure undoes the write; both are logged.
func (b *Board) committed(ctx context.Context, ownerID string, version int64, kind string, ids ...string) {
	if err := b.notifier.Publish(ctx, ownerID, version); err != nil {
		b.logger.WithError(err).WithFields(log.Fields{"owner": ownerID, "version": version}).Warn("publish board version")
	}
	ev := domain.ActivityEvent{OwnerID: ownerID, Type: kind, JobIDs: ids, Version: version, Time: time.Now().UnixMilli()}
	if err := b.backend.EnqueueActivity(ctx, ev); err != nil {
		b.logger.WithError(err).WithFields(log.Fields{"owner": ownerID, "type": kind}).Warn("enqueue activity")
	}
}
