package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/bytedance/sonic"
	"github.com/redis/go-redis/v9"

	"github.com/jeajq/jobtracker/domain"
)

// Backend is the persistence surface of the board and saved jobs. Tables
// implements it directly; Cache adds Redis read caching in front of it.
type Backend interface {
	FetchSnapshot(ctx context.Context, ownerID string) (domain.Snapshot, error)
	InsertJob(ctx context.Context, job domain.Job, version int64) error
	CommitBatch(ctx context.Context, ownerID string, version int64, writes []domain.FieldWrite) error
	DeleteJob(ctx context.Context, ownerID, id string, version int64) error
	ListSavedJobs(ctx context.Context, ownerID string) ([]domain.SavedJob, error)
	FindSavedJobByURL(ctx context.Context, ownerID, url string) (*domain.SavedJob, error)
	UpsertSavedJob(ctx context.Context, s domain.SavedJob) error
	DeleteSavedJob(ctx context.Context, ownerID, id string) error
	EnqueueActivity(ctx context.Context, ev domain.ActivityEvent) error
}

// Cache wraps a Backend with Redis-backed caching for read operations.
type Cache struct {
	Backend
	redis *redis.Client
	ttl   time.Duration
}

// NewCache creates a caching Backend wrapper using the provided Redis client and TTL.
func NewCache(base Backend, client *redis.Client, ttl time.Duration) *Cache {
	if base == nil {
		panic("storage.NewCache: base storage is nil")
	}
	if ttl < 0 {
		ttl = 0
	}
	return &Cache{Backend: base, redis: client, ttl: ttl}
}

// cacheSnapshotScript stores a snapshot unless a committed write has raised
// the owner's floor above its version. Versions are zero padded so Lua
// compares them as strings without float rounding.
var cacheSnapshotScript = redis.NewScript(`
local floor = redis.call("GET", KEYS[2])
if floor and floor > ARGV[2] then
	return 0
end
redis.call("SET", KEYS[1], ARGV[1], "PX", ARGV[3])
return 1
`)

// raiseFloorScript drops the cached snapshot and raises the floor to the
// committed version in one step.
var raiseFloorScript = redis.NewScript(`
local floor = redis.call("GET", KEYS[2])
if not floor or ARGV[1] > floor then
	redis.call("SET", KEYS[2], ARGV[1], "PX", ARGV[2])
end
redis.call("DEL", KEYS[1])
return 1
`)

func (c *Cache) FetchSnapshot(ctx context.Context, ownerID string) (domain.Snapshot, error) {
	var snap domain.Snapshot
	if c.load(ctx, boardCacheKey(ownerID), &snap) {
		return snap, nil
	}
	return c.fetchSnapshot(ctx, ownerID)
}

// Refresh drops the cached board of ownerID and reads it from the backend.
func (c *Cache) Refresh(ctx context.Context, ownerID string) (domain.Snapshot, error) {
	c.evict(ctx, boardCacheKey(ownerID))
	return c.fetchSnapshot(ctx, ownerID)
}

func (c *Cache) fetchSnapshot(ctx context.Context, ownerID string) (domain.Snapshot, error) {
	snap, err := c.Backend.FetchSnapshot(ctx, ownerID)
	if err != nil {
		return domain.Snapshot{}, err
	}
	c.storeSnapshot(ctx, snap, ownerID)
	return snap, nil
}

func (c *Cache) ListSavedJobs(ctx context.Context, ownerID string) ([]domain.SavedJob, error) {
	var saved []domain.SavedJob
	if c.load(ctx, savedCacheKey(ownerID), &saved) {
		return saved, nil
	}
	saved, err := c.Backend.ListSavedJobs(ctx, ownerID)
	if err != nil {
		return nil, err
	}
	c.store(ctx, savedCacheKey(ownerID), saved)
	return saved, nil
}

func (c *Cache) InsertJob(ctx context.Context, job domain.Job, version int64) error {
	err := c.Backend.InsertJob(ctx, job, version)
	c.boardWritten(ctx, job.OwnerID, version, err)
	return err
}

func (c *Cache) CommitBatch(ctx context.Context, ownerID string, version int64, writes []domain.FieldWrite) error {
	err := c.Backend.CommitBatch(ctx, ownerID, version, writes)
	c.boardWritten(ctx, ownerID, version, err)
	return err
}

func (c *Cache) DeleteJob(ctx context.Context, ownerID, id string, version int64) error {
	err := c.Backend.DeleteJob(ctx, ownerID, id, version)
	c.boardWritten(ctx, ownerID, version, err)
	return err
}

func (c *Cache) UpsertSavedJob(ctx context.Context, s domain.SavedJob) error {
	err := c.Backend.UpsertSavedJob(ctx, s)
	c.evict(ctx, savedCacheKey(s.OwnerID))
	return err
}

func (c *Cache) DeleteSavedJob(ctx context.Context, ownerID, id string) error {
	err := c.Backend.DeleteSavedJob(ctx, ownerID, id)
	c.evict(ctx, savedCacheKey(ownerID))
	return err
}

func (c *Cache) load(ctx context.Context, key string, v any) bool {
	if c.redis == nil {
		return false
	}
	data, err := c.redis.Get(ctx, key).Bytes()
	if err != nil {
		if err != redis.Nil {
			// On redis errors fall back to the backing storage without failing.
			_ = c.redis.Del(ctx, key).Err()
		}
		return false
	}
	if err := sonic.Unmarshal(data, v); err != nil {
		_ = c.redis.Del(ctx, key).Err()
		return false
	}
	return true
}

func (c *Cache) store(ctx context.Context, key string, v any) {
	if c.redis == nil || c.ttl == 0 {
		return
	}
	data, err := sonic.Marshal(v)
	if err != nil {
		return
	}
	_ = c.redis.Set(ctx, key, data, c.ttl).Err()
}

// storeSnapshot caches snap unless a write committed after it was read.
func (c *Cache) storeSnapshot(ctx context.Context, snap domain.Snapshot, ownerID string) {
	if c.redis == nil || c.ttl == 0 {
		return
	}
	data, err := sonic.Marshal(snap)
	if err != nil {
		return
	}
	keys := []string{boardCacheKey(ownerID), floorCacheKey(ownerID)}
	_ = cacheSnapshotScript.Run(ctx, c.redis, keys, data, versionString(snap.Version), c.ttl.Milliseconds()).Err()
}

// boardWritten evicts the cached board. A successful write also raises the
// floor so a read that raced the commit cannot cache its older snapshot.
func (c *Cache) boardWritten(ctx context.Context, ownerID string, version int64, err error) {
	if c.redis == nil {
		return
	}
	if err != nil || c.ttl == 0 {
		c.evict(ctx, boardCacheKey(ownerID))
		return
	}
	keys := []string{boardCacheKey(ownerID), floorCacheKey(ownerID)}
	if runErr := raiseFloorScript.Run(ctx, c.redis, keys, versionString(version), c.ttl.Milliseconds()).Err(); runErr != nil {
		c.evict(ctx, boardCacheKey(ownerID))
	}
}

// Writes evict whether or not they succeeded.
func (c *Cache) evict(ctx context.Context, keys ...string) {
	if c.redis == nil {
		return
	}
	_, _ = c.redis.Del(ctx, keys...).Result()
}

func boardCacheKey(ownerID string) string {
	return "board:" + ownerID
}

func floorCacheKey(ownerID string) string {
	return "board-floor:" + ownerID
}

func versionString(v int64) string {
	return fmt.Sprintf("%020d", v)
}

func savedCacheKey(ownerID string) string {
	return "saved:" + ownerID
}
