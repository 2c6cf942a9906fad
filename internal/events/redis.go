package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
)

// StreamClient abstracts the Redis stream operation used by RedisPublisher.
type StreamClient interface {
	XAdd(ctx context.Context, a *redis.XAddArgs) *redis.StringCmd
}

// RedisPublisher appends events to a Redis stream.
type RedisPublisher struct {
	client StreamClient
	stream string
	maxLen int64
}

// NewRedisPublisher creates a publisher; maxLen <= 0 leaves the stream untrimmed.
func NewRedisPublisher(client StreamClient, stream string, maxLen int64) *RedisPublisher {
	return &RedisPublisher{client: client, stream: stream, maxLen: maxLen}
}

// Publish implements Publisher.
func (p *RedisPublisher) Publish(ctx context.Context, ev Event) error {
	values := map[string]interface{}{
		"timestamp": ev.Timestamp.UTC().Format(time.RFC3339Nano),
		"level":     string(ev.Level),
		"context":   ev.Context,
		"message":   ev.Message,
	}
	if len(ev.Data) > 0 {
		data, err := json.Marshal(ev.Data)
		if err != nil {
			return fmt.Errorf("encode event data: %w", err)
		}
		values["data"] = string(data)
	}

	args := &redis.XAddArgs{Stream: p.stream, Values: values}
	if p.maxLen > 0 {
		args.MaxLen = p.maxLen
		args.Approx = true
	}
	return p.client.XAdd(ctx, args).Err()
}
