package stats

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"
)

const keyLedger = "squire:stats"

// RedisStore keeps the ledger as a redis list, oldest entry first.
type RedisStore struct {
	rdb *redis.Client
}

func NewRedisStore(rdb *redis.Client) *RedisStore { return &RedisStore{rdb: rdb} }

func (s *RedisStore) Save(ctx context.Context, entries []Entry) error {
	vals := make([]interface{}, 0, len(entries))
	for _, e := range entries {
		raw, err := json.Marshal(e)
		if err != nil {
			return fmt.Errorf("encode stats entry: %w", err)
		}
		vals = append(vals, raw)
	}

	pipe := s.rdb.TxPipeline()
	pipe.Del(ctx, keyLedger)
	if len(vals) > 0 {
		pipe.RPush(ctx, keyLedger, vals...)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("save stats: %w", err)
	}
	return nil
}

func (s *RedisStore) Load(ctx context.Context) ([]Entry, error) {
	raws, err := s.rdb.LRange(ctx, keyLedger, 0, -1).Result()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load stats: %w", err)
	}
	out := make([]Entry, 0, len(raws))
	for _, raw := range raws {
		var e Entry
		if err := json.Unmarshal([]byte(raw), &e); err != nil {
			return nil, fmt.Errorf("decode stats entry: %w", err)
		}
		out = append(out, e)
	}
	return out, nil
}
