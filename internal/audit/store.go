package audit

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const (
	eventKeyPrefix = "audit:event:"
	recentKey      = "audit:recent"
	maxRecent      = 1000
)

// Store は監査イベントを Redis に保存します。
type Store struct {
	rdb *redis.Client
	ttl time.Duration
}

// NewStore は Store を作成します。
func NewStore(rdb *redis.Client, ttl time.Duration) *Store {
	return &Store{
		rdb: rdb,
		ttl: ttl,
	}
}

// Append はイベントを保存します。ID と発生時刻が未設定の場合は補完します。
func (s *Store) Append(ctx context.Context, event *Event) error {
	if event == nil {
		return fmt.Errorf("event is nil")
	}
	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	if event.OccurredAt.IsZero() {
		event.OccurredAt = time.Now().UTC()
	}

	payload, err := json.Marshal(event)
	if err != nil {
		return err
	}

	pipe := s.rdb.TxPipeline()
	pipe.Set(ctx, eventKey(event.ID), payload, s.ttl)
	pipe.LPush(ctx, recentKey, event.ID)
	pipe.LTrim(ctx, recentKey, 0, maxRecent-1)
	_, err = pipe.Exec(ctx)
	return err
}

// Get はイベントを取得します。存在しない場合は nil を返します。
func (s *Store) Get(ctx context.Context, id string) (*Event, error) {
	if id == "" {
		return nil, fmt.Errorf("id is required")
	}
	data, err := s.rdb.Get(ctx, eventKey(id)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, err
	}
	var event Event
	if err := json.Unmarshal(data, &event); err != nil {
		return nil, err
	}
	return &event, nil
}

// Recent は新しい順に最大 n 件のイベントを返します。保持期間を過ぎたものは除外されます。
func (s *Store) Recent(ctx context.Context, n int) ([]*Event, error) {
	if n <= 0 {
		return nil, nil
	}
	ids, err := s.rdb.LRange(ctx, recentKey, 0, int64(n-1)).Result()
	if err != nil {
		return nil, err
	}

	events := make([]*Event, 0, len(ids))
	for _, id := range ids {
		event, err := s.Get(ctx, id)
		if err != nil {
			return nil, err
		}
		if event == nil {
			continue
		}
		events = append(events, event)
	}
	return events, nil
}

func eventKey(id string) string {
	return eventKeyPrefix + id
}
