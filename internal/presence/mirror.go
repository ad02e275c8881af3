// Package presence mirrors live room membership into redis so the
// in-process registry behaves as a local cache of shared state: any
// instance (or an operator) can read room cardinality, and join/leave
// events are published for subscribers.
package presence

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"github.com/hallwaylabs/huddle/internal/domain"
)

const roomKeyTTL = 24 * time.Hour

type Mirror struct {
	rdb *redis.Client
}

func New(ctx context.Context, addr, password string, db int) (*Mirror, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("connect to redis: %w", err)
	}
	return &Mirror{rdb: rdb}, nil
}

func (m *Mirror) Close() error { return m.rdb.Close() }

func membersKey(token string) string { return "room:" + token + ":members" }
func eventsChannel(token string) string { return "room:" + token + ":events" }

// Add records the member and publishes the join. Mirror failures are
// logged, never surfaced: presence truth stays in process.
func (m *Mirror) Add(ctx context.Context, token string, uid domain.UserID) {
	key := membersKey(token)
	pipe := m.rdb.Pipeline()
	pipe.SAdd(ctx, key, string(uid))
	pipe.Expire(ctx, key, roomKeyTTL)
	if _, err := pipe.Exec(ctx); err != nil {
		log.Warn().Err(err).Str("module", "presence").Str("token", token).Msg("mirror add failed")
		return
	}
	m.publish(ctx, token, "joined", uid)
}

// Remove drops the member and publishes the leave.
func (m *Mirror) Remove(ctx context.Context, token string, uid domain.UserID) {
	if err := m.rdb.SRem(ctx, membersKey(token), string(uid)).Err(); err != nil {
		log.Warn().Err(err).Str("module", "presence").Str("token", token).Msg("mirror remove failed")
		return
	}
	m.publish(ctx, token, "left", uid)
}

// Count reads the mirrored cardinality for a room, for cross-instance
// observability.
func (m *Mirror) Count(ctx context.Context, token string) (int64, error) {
	return m.rdb.SCard(ctx, membersKey(token)).Result()
}

func (m *Mirror) publish(ctx context.Context, token, event string, uid domain.UserID) {
	payload, err := json.Marshal(struct {
		Event  string        `json:"event"`
		UserID domain.UserID `json:"user_id"`
		Token  string        `json:"room_token"`
	}{event, uid, token})
	if err != nil {
		return
	}
	if err := m.rdb.Publish(ctx, eventsChannel(token), payload).Err(); err != nil {
		log.Warn().Err(err).Str("module", "presence").Str("token", token).Msg("mirror publish failed")
	}
}
