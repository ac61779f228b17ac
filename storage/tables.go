package storage

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/policy"
	"github.com/Azure/azure-sdk-for-go/sdk/data/aztables"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azqueue"
	"github.com/bytedance/sonic"

	"github.com/jeajq/jobtracker/domain"
)

// MaxBatchWrites is the number of records one batch may touch. Table
// transactions are capped at 100 operations and one is taken by the version
// row.
const MaxBatchWrites = 99

var (
	ErrBatchTooLarge = errors.New("batch exceeds transaction limit")
	ErrNotFound      = errors.New("not found")
)

const versionCommitAttempts = 3

// Names lists the tables and the queue Tables works with.
type Names struct {
	Jobs          string
	SavedJobs     string
	Profiles      string
	ActivityQueue string
}

// Tables provides access to the table and queue storage of the board.
type Tables struct {
	jobs     *aztables.Client
	saved    *aztables.Client
	profiles *aztables.Client
	activity *azqueue.QueueClient
}

// New creates a Tables instance from the given connection string.
func New(connStr string, names Names) (*Tables, error) {
	tablesClientOptions := aztables.ClientOptions{
		ClientOptions: azcore.ClientOptions{
			Retry: policy.RetryOptions{
				MaxRetries:    3,
				TryTimeout:    time.Minute * 3,
				RetryDelay:    time.Second * 1,
				MaxRetryDelay: time.Second * 15,
				StatusCodes:   []int{408, 429, 500, 502, 503, 504},
			},
		},
	}
	svc, err := aztables.NewServiceClientFromConnectionString(connStr, &tablesClientOptions)
	if err != nil {
		return nil, err
	}
	queueClientOptions := azqueue.ClientOptions{
		ClientOptions: azcore.ClientOptions{
			Retry: policy.RetryOptions{
				MaxRetries:    5,
				TryTimeout:    time.Minute * 5,
				RetryDelay:    time.Second * 1,
				MaxRetryDelay: time.Second * 60,
				StatusCodes:   []int{408, 429, 500, 502, 503, 504},
			},
		},
	}
	aq, err := azqueue.NewQueueClientFromConnectionString(connStr, names.ActivityQueue, &queueClientOptions)
	if err != nil {
		return nil, err
	}
	return &Tables{
		jobs:     svc.NewClient(names.Jobs),
		saved:    svc.NewClient(names.SavedJobs),
		profiles: svc.NewClient(names.Profiles),
		activity: aq,
	}, nil
}

// FetchSnapshot reads every job of ownerID together with the board version.
func (t *Tables) FetchSnapshot(ctx context.Context, ownerID string) (domain.Snapshot, error) {
	filter := partitionFilter(ownerID)
	pager := t.jobs.NewListEntitiesPager(&aztables.ListEntitiesOptions{Filter: &filter})
	snap := domain.Snapshot{OwnerID: ownerID, Jobs: []domain.Job{}}
	for pager.More() {
		resp, err := pager.NextPage(ctx)
		if err != nil {
			return domain.Snapshot{}, err
		}
		for _, e := range resp.Entities {
			var ent jobEntity
			if err := sonic.Unmarshal(e, &ent); err != nil {
				return domain.Snapshot{}, err
			}
			if ent.RowKey == versionRowKey {
				snap.Version = ent.Version
				continue
			}
			snap.Jobs = append(snap.Jobs, ent.job())
		}
	}
	return snap, nil
}

// InsertJob adds a new job and bumps the board version.
func (t *Tables) InsertJob(ctx context.Context, job domain.Job, version int64) error {
	job.Version = version
	payload, err := sonic.Marshal(toJobEntity(job))
	if err != nil {
		return err
	}
	return t.commit(ctx, job.OwnerID, version, []aztables.TransactionAction{{
		ActionType: aztables.TransactionTypeAdd,
		Entity:     payload,
	}})
}

// CommitBatch merges writes into the owner's jobs in one transaction
// together with the version row.
func (t *Tables) CommitBatch(ctx context.Context, ownerID string, version int64, writes []domain.FieldWrite) error {
	if len(writes) > MaxBatchWrites {
		return fmt.Errorf("%w: %d records", ErrBatchTooLarge, len(writes))
	}
	actions := make([]aztables.TransactionAction, 0, len(writes)+1)
	for _, w := range writes {
		if w.Empty() {
			continue
		}
		payload, err := sonic.Marshal(toJobUpdate(ownerID, version, w))
		if err != nil {
			return err
		}
		et := azcore.ETagAny
		actions = append(actions, aztables.TransactionAction{
			ActionType: aztables.TransactionTypeUpdateMerge,
			Entity:     payload,
			IfMatch:    &et,
		})
	}
	return t.commit(ctx, ownerID, version, actions)
}

// DeleteJob removes a job and bumps the board version in one transaction.
// Deleting a missing job is not an error.
func (t *Tables) DeleteJob(ctx context.Context, ownerID, id string, version int64) error {
	action, err := deleteAction(ownerID, id)
	if err != nil {
		return err
	}
	err = t.commit(ctx, ownerID, version, []aztables.TransactionAction{action})
	if errors.Is(err, ErrNotFound) {
		return t.commit(ctx, ownerID, version, nil)
	}
	return err
}

func deleteAction(ownerID, id string) (aztables.TransactionAction, error) {
	payload, err := sonic.Marshal(entity{PartitionKey: ownerID, RowKey: id})
	if err != nil {
		return aztables.TransactionAction{}, err
	}
	et := azcore.ETagAny
	return aztables.TransactionAction{ActionType: aztables.TransactionTypeDelete, Entity: payload, IfMatch: &et}, nil
}

// commit submits actions plus a version row write raising the stored version
// to at least version. Concurrent commits racing on the version row retry.
func (t *Tables) commit(ctx context.Context, ownerID string, version int64, actions []aztables.TransactionAction) error {
	var err error
	for attempt := 0; attempt < versionCommitAttempts; attempt++ {
		var vAction aztables.TransactionAction
		vAction, err = t.versionAction(ctx, ownerID, version)
		if err != nil {
			return err
		}
		batch := append(append(make([]aztables.TransactionAction, 0, len(actions)+1), actions...), vAction)
		_, err = t.jobs.SubmitTransaction(ctx, batch, nil)
		if err == nil {
			return nil
		}
		if !isStatus(err, http.StatusConflict) && !isStatus(err, http.StatusPreconditionFailed) {
			break
		}
	}
	if isStatus(err, http.StatusNotFound) {
		return fmt.Errorf("commit board %s: %w", ownerID, ErrNotFound)
	}
	return err
}

// versionAction reads the current version row and builds the action that
// stores max(stored, version) guarded by the row's ETag.
func (t *Tables) versionAction(ctx context.Context, ownerID string, version int64) (aztables.TransactionAction, error) {
	row := versionEntity{entity: entity{PartitionKey: ownerID, RowKey: versionRowKey}, Version: version, VersionType: edmInt64}
	resp, err := t.jobs.GetEntity(ctx, ownerID, versionRowKey, nil)
	if err != nil {
		if !isStatus(err, http.StatusNotFound) {
			return aztables.TransactionAction{}, err
		}
		payload, err := sonic.Marshal(row)
		if err != nil {
			return aztables.TransactionAction{}, err
		}
		return aztables.TransactionAction{ActionType: aztables.TransactionTypeAdd, Entity: payload}, nil
	}
	var stored versionEntity
	if err := sonic.Unmarshal(resp.Value, &stored); err != nil {
		return aztables.TransactionAction{}, err
	}
	if stored.Version > row.Version {
		row.Version = stored.Version
	}
	payload, err := sonic.Marshal(row)
	if err != nil {
		return aztables.TransactionAction{}, err
	}
	et := resp.ETag
	return aztables.TransactionAction{ActionType: aztables.TransactionTypeUpdateMerge, Entity: payload, IfMatch: &et}, nil
}

// ListSavedJobs returns every saved job of ownerID.
func (t *Tables) ListSavedJobs(ctx context.Context, ownerID string) ([]domain.SavedJob, error) {
	return t.querySaved(ctx, partitionFilter(ownerID))
}

// FindSavedJobByURL returns the saved job of ownerID pointing at url.
func (t *Tables) FindSavedJobByURL(ctx context.Context, ownerID, url string) (*domain.SavedJob, error) {
	found, err := t.querySaved(ctx, partitionFilter(ownerID)+" and URL eq "+quote(url))
	if err != nil || len(found) == 0 {
		return nil, err
	}
	return &found[0], nil
}

func (t *Tables) querySaved(ctx context.Context, filter string) ([]domain.SavedJob, error) {
	pager := t.saved.NewListEntitiesPager(&aztables.ListEntitiesOptions{Filter: &filter})
	out := []domain.SavedJob{}
	for pager.More() {
		resp, err := pager.NextPage(ctx)
		if err != nil {
			return nil, err
		}
		for _, e := range resp.Entities {
			var ent savedJobEntity
			if err := sonic.Unmarshal(e, &ent); err != nil {
				return nil, err
			}
			out = append(out, ent.savedJob())
		}
	}
	return out, nil
}

// UpsertSavedJob creates or replaces a saved job.
func (t *Tables) UpsertSavedJob(ctx context.Context, s domain.SavedJob) error {
	payload, err := sonic.Marshal(toSavedJobEntity(s))
	if err == nil {
		_, err = t.saved.UpsertEntity(ctx, payload, &aztables.UpsertEntityOptions{UpdateMode: aztables.UpdateModeReplace})
	}
	return err
}

// DeleteSavedJob removes a saved job. A missing job yields ErrNotFound.
func (t *Tables) DeleteSavedJob(ctx context.Context, ownerID, id string) error {
	et := azcore.ETagAny
	_, err := t.saved.DeleteEntity(ctx, ownerID, id, &aztables.DeleteEntityOptions{IfMatch: &et})
	if isStatus(err, http.StatusNotFound) {
		return ErrNotFound
	}
	return err
}

// EnqueueActivity sends ev to the activity queue.
func (t *Tables) EnqueueActivity(ctx context.Context, ev domain.ActivityEvent) error {
	body, err := ev.Encode()
	if err != nil {
		return err
	}
	_, err = t.activity.EnqueueMessage(ctx, body, nil)
	return err
}

func isStatus(err error, code int) bool {
	var respErr *azcore.ResponseError
	return errors.As(err, &respErr) && respErr.StatusCode == code
}
