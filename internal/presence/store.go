package presence

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/admissions-portal/backend/internal/models"
	"github.com/redis/go-redis/v9"
)

const membersPrefix = "presence:members:"

// Store keeps presence records for every channel, one hash per channel with
// one field per connection.
type Store interface {
	Track(ctx context.Context, rec models.PresenceRecord) error
	Untrack(ctx context.Context, channelKey, connID string) error
	Members(ctx context.Context, channelKey string, staleBefore time.Time) ([]models.PresenceRecord, error)
	Prune(ctx context.Context, channelKey string, staleBefore time.Time) (int, error)
	Channels(ctx context.Context) ([]string, error)
}

type RedisStore struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisStore returns a store whose hashes expire after ttl without writes,
// so channels abandoned by a crashed cluster do not linger.
func NewRedisStore(client *redis.Client, ttl time.Duration) *RedisStore {
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	return &RedisStore{client: client, ttl: ttl}
}

func (s *RedisStore) key(channelKey string) string {
	return membersPrefix + channelKey
}

func (s *RedisStore) Track(ctx context.Context, rec models.PresenceRecord) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal presence record: %w", err)
	}
	key := s.key(rec.ChannelKey)
	pipe := s.client.TxPipeline()
	pipe.HSet(ctx, key, rec.ConnID, data)
	pipe.Expire(ctx, key, s.ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("track presence: %w", err)
	}
	return nil
}

func (s *RedisStore) Untrack(ctx context.Context, channelKey, connID string) error {
	if err := s.client.HDel(ctx, s.key(channelKey), connID).Err(); err != nil {
		return fmt.Errorf("untrack presence: %w", err)
	}
	return nil
}

func (s *RedisStore) all(ctx context.Context, channelKey string) ([]models.PresenceRecord, error) {
	raw, err := s.client.HGetAll(ctx, s.key(channelKey)).Result()
	if err != nil {
		return nil, fmt.Errorf("load presence: %w", err)
	}
	recs := make([]models.PresenceRecord, 0, len(raw))
	for _, v := range raw {
		var rec models.PresenceRecord
		if err := json.Unmarshal([]byte(v), &rec); err != nil {
			continue
		}
		recs = append(recs, rec)
	}
	return recs, nil
}

// Members returns one record per admin id, the most recent join winning, and
// ignores connections whose heartbeat is older than staleBefore.
func (s *RedisStore) Members(ctx context.Context, channelKey string, staleBefore time.Time) ([]models.PresenceRecord, error) {
	recs, err := s.all(ctx, channelKey)
	if err != nil {
		return nil, err
	}
	live := recs[:0]
	for _, rec := range recs {
		if rec.LastSeen.Before(staleBefore) {
			continue
		}
		live = append(live, rec)
	}
	return Dedupe(live), nil
}

func (s *RedisStore) Prune(ctx context.Context, channelKey string, staleBefore time.Time) (int, error) {
	recs, err := s.all(ctx, channelKey)
	if err != nil {
		return 0, err
	}
	var stale []string
	for _, rec := range recs {
		if rec.LastSeen.Before(staleBefore) {
			stale = append(stale, rec.ConnID)
		}
	}
	if len(stale) == 0 {
		return 0, nil
	}
	if err := s.client.HDel(ctx, s.key(channelKey), stale...).Err(); err != nil {
		return 0, fmt.Errorf("prune presence: %w", err)
	}
	return len(stale), nil
}

func (s *RedisStore) Channels(ctx context.Context) ([]string, error) {
	var keys []string
	iter := s.client.Scan(ctx, 0, membersPrefix+"*", 100).Iterator()
	for iter.Next(ctx) {
		keys = append(keys, strings.TrimPrefix(iter.Val(), membersPrefix))
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("scan presence channels: %w", err)
	}
	return keys, nil
}

// Dedupe keeps the most recently joined record per admin id, ordered by join
// time.
func Dedupe(recs []models.PresenceRecord) []models.PresenceRecord {
	latest := make(map[string]models.PresenceRecord, len(recs))
	for _, rec := range recs {
		id := rec.Admin.ID.String()
		cur, ok := latest[id]
		if !ok || rec.JoinedAt.After(cur.JoinedAt) ||
			(rec.JoinedAt.Equal(cur.JoinedAt) && rec.ConnID > cur.ConnID) {
			latest[id] = rec
		}
	}
	out := make([]models.PresenceRecord, 0, len(latest))
	for _, rec := range latest {
		out = append(out, rec)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].JoinedAt.Equal(out[j].JoinedAt) {
			return out[i].Admin.ID.String() < out[j].Admin.ID.String()
		}
		return out[i].JoinedAt.Before(out[j].JoinedAt)
	})
	return out
}
