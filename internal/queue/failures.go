package queue

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"

	"audio-analyser/internal/config"
	"audio-analyser/internal/models"
)

// FailureLog keeps the most recent failed items of every job kind in a capped Redis list
// for operational inspection.
type FailureLog struct {
	client *redis.Client
	size   int64
	prefix string
}

// NewRedisClient builds the shared client for the failure log and the rate limiter.
func NewRedisClient(cfg config.Config) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
}

func NewFailureLog(client *redis.Client, size int) *FailureLog {
	if size <= 0 {
		size = 200
	}
	return &FailureLog{client: client, size: int64(size), prefix: "failures:"}
}

func (l *FailureLog) key(kind models.Kind) string {
	return l.prefix + string(kind)
}

// Push appends an entry and trims the list to the newest entries.
func (l *FailureLog) Push(ctx context.Context, kind models.Kind, entry models.FailureEntry) error {
	body, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("marshal failure entry: %w", err)
	}
	pipe := l.client.TxPipeline()
	pipe.RPush(ctx, l.key(kind), body)
	pipe.LTrim(ctx, l.key(kind), -l.size, -1)
	_, err = pipe.Exec(ctx)
	return err
}

// Peek returns up to count of the newest entries, newest first.
func (l *FailureLog) Peek(ctx context.Context, kind models.Kind, count int64) ([]models.FailureEntry, error) {
	if count <= 0 || count > l.size {
		count = l.size
	}
	raw, err := l.client.LRange(ctx, l.key(kind), -count, -1).Result()
	if err != nil {
		return nil, err
	}
	out := make([]models.FailureEntry, 0, len(raw))
	for i := len(raw) - 1; i >= 0; i-- {
		var e models.FailureEntry
		if err := json.Unmarshal([]byte(raw[i]), &e); err != nil {
			return nil, fmt.Errorf("decode failure entry: %w", err)
		}
		out = append(out, e)
	}
	return out, nil
}

// Depth returns how many entries are kept for kind.
func (l *FailureLog) Depth(ctx context.Context, kind models.Kind) (int64, error) {
	return l.client.LLen(ctx, l.key(kind)).Result()
}
