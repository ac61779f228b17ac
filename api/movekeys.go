package api

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
)

const maxMoveKeyLen = 128

var errBadMoveKey = errors.New("idempotency key too long")

// MoveKeys remembers the Idempotency-Key of every applied move per board
// owner, shared by all instances through Redis. A drag the client resends
// after a dropped response is then answered without moving the card twice.
type MoveKeys struct {
	client *redis.Client
	ttl    time.Duration
}

func NewMoveKeys(client *redis.Client, ttl time.Duration) *MoveKeys {
	return &MoveKeys{client: client, ttl: ttl}
}

func moveKey(ownerID, key string) string {
	return "move:" + ownerID + ":" + key
}

// Claim marks key as used by ownerID. It reports false when an earlier move
// already claimed it.
func (m *MoveKeys) Claim(ctx context.Context, ownerID, key string) (bool, error) {
	if len(key) > maxMoveKeyLen {
		return false, errBadMoveKey
	}
	return m.client.SetNX(ctx, moveKey(ownerID, key), time.Now().UnixMilli(), m.ttl).Result()
}

// Release frees a claimed key after the move it guarded failed.
func (m *MoveKeys) Release(ctx context.Context, ownerID, key string) error {
	return m.client.Del(ctx, moveKey(ownerID, key)).Err()
}
