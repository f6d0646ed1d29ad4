package stores

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// RedisStreamPublisher pushes outbox events onto one Redis stream. The
// subject rides in the entry so consumers can filter without extra streams.
type RedisStreamPublisher struct {
	client *redis.Client
	stream string
	maxLen int64
}

func NewRedisStreamPublisher(client *redis.Client, stream string) *RedisStreamPublisher {
	return &RedisStreamPublisher{client: client, stream: stream, maxLen: 10000}
}

// WithMaxLen caps the stream length (approximate trim). Zero disables
// trimming.
func (p *RedisStreamPublisher) WithMaxLen(n int64) *RedisStreamPublisher {
	p.maxLen = n
	return p
}

func (p *RedisStreamPublisher) Publish(ctx context.Context, subject string, payload map[string]any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal event payload: %w", err)
	}
	args := &redis.XAddArgs{
		Stream: p.stream,
		Values: map[string]any{
			"subject": subject,
			"payload": string(body),
		},
	}
	if p.maxLen > 0 {
		args.MaxLen = p.maxLen
		args.Approx = true
	}
	return p.client.XAdd(ctx, args).Err()
}
