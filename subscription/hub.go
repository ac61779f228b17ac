package subscription

import (
	"context"
	"sync"
	"time"

	"github.com/bytedance/sonic"
	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"

	"github.com/jeajq/jobtracker/domain"
)

// Fetcher reads an owner's current board.
type Fetcher interface {
	FetchSnapshot(ctx context.Context, ownerID string) (domain.Snapshot, error)
}

// Refresher is implemented by fetchers that can bypass a cache. The hub uses
// it when a fetched board is older than the announced version.
type Refresher interface {
	Refresh(ctx context.Context, ownerID string) (domain.Snapshot, error)
}

type update struct {
	UserID  string `json:"UserId"`
	Version int64  `json:"Version"`
}

// Hub announces board versions over a Redis channel and delivers fresh
// snapshots to the subscribers of the announced owner.
type Hub struct {
	rc         *redis.Client
	store      Fetcher
	channel    string
	logger     *log.Logger
	retryDelay time.Duration

	mu   sync.Mutex
	subs map[string]map[uint64]func(domain.Snapshot)
	next uint64
}

// NewHub creates a hub publishing and listening on channel.
func NewHub(rc *redis.Client, store Fetcher, channel string, logger *log.Logger) *Hub {
	if logger == nil {
		logger = log.StandardLogger()
	}
	return &Hub{
		rc:         rc,
		store:      store,
		channel:    channel,
		logger:     logger,
		retryDelay: time.Second,
		subs:       make(map[string]map[uint64]func(domain.Snapshot)),
	}
}

// Publish announces that ownerID's board reached version.
func (h *Hub) Publish(ctx context.Context, ownerID string, version int64) error {
	data, err := sonic.Marshal(update{UserID: ownerID, Version: version})
	if err != nil {
		return err
	}
	return h.rc.Publish(ctx, h.channel, data).Err()
}

// Subscribe registers fn for ownerID and delivers the current snapshot before
// returning. The returned function removes the subscription.
func (h *Hub) Subscribe(ctx context.Context, ownerID string, fn func(domain.Snapshot)) (func(), error) {
	h.mu.Lock()
	id := h.next
	h.next++
	if h.subs[ownerID] == nil {
		h.subs[ownerID] = make(map[uint64]func(domain.Snapshot))
	}
	h.subs[ownerID][id] = fn
	h.mu.Unlock()

	var once sync.Once
	unsubscribe := func() {
		once.Do(func() {
			h.mu.Lock()
			delete(h.subs[ownerID], id)
			if len(h.subs[ownerID]) == 0 {
				delete(h.subs, ownerID)
			}
			h.mu.Unlock()
		})
	}

	snap, err := h.store.FetchSnapshot(ctx, ownerID)
	if err != nil {
		unsubscribe()
		return nil, err
	}
	fn(snap)
	return unsubscribe, nil
}

// Subscribers returns the number of live subscriptions for ownerID.
func (h *Hub) Subscribers(ownerID string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs[ownerID])
}

func (h *Hub) listeners(ownerID string) []func(domain.Snapshot) {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]func(domain.Snapshot), 0, len(h.subs[ownerID]))
	for _, fn := range h.subs[ownerID] {
		out = append(out, fn)
	}
	return out
}

// Run listens for announcements until ctx is done, reconnecting when the
// channel closes.
func (h *Hub) Run(ctx context.Context) {
	for {
		sub := h.rc.Subscribe(ctx, h.channel)
		if _, err := sub.Receive(ctx); err != nil {
			h.logger.WithError(err).WithField("channel", h.channel).Error("subscribe board updates")
		} else {
			h.consume(ctx, sub.Channel())
		}
		_ = sub.Close()
		if ctx.Err() != nil {
			return
		}
		h.logger.WithField("channel", h.channel).Error("pubsub channel closed, reconnecting")
		select {
		case <-ctx.Done():
			return
		case <-time.After(h.retryDelay):
		}
	}
}

func (h *Hub) consume(ctx context.Context, ch <-chan *redis.Message) {
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			var ev update
			if err := sonic.UnmarshalString(msg.Payload, &ev); err != nil {
				h.logger.WithError(err).Error("unable to parse update")
				continue
			}
			h.deliver(ctx, ev)
		}
	}
}

func (h *Hub) deliver(ctx context.Context, ev update) {
	fns := h.listeners(ev.UserID)
	if len(fns) == 0 {
		return
	}
	snap, err := h.store.FetchSnapshot(ctx, ev.UserID)
	if err != nil {
		h.logger.WithError(err).WithField("owner", ev.UserID).Error("fetch board")
		return
	}
	if snap.Version < ev.Version {
		fields := log.Fields{"owner": ev.UserID, "announced": ev.Version, "fetched": snap.Version}
		r, ok := h.store.(Refresher)
		if !ok {
			h.logger.WithFields(fields).Debug("fetched board older than announced version")
		} else if fresh, err := r.Refresh(ctx, ev.UserID); err != nil {
			h.logger.WithError(err).WithFields(fields).Error("refresh board")
		} else {
			if fresh.Version < ev.Version {
				h.logger.WithFields(fields).Warn("refreshed board still older than announced version")
			}
			snap = fresh
		}
	}
	for _, fn := range fns {
		fn(snap)
	}
}
