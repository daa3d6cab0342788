package notify

import (
	"context"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
)

// StreamClient is the part of *redis.Client the broadcaster needs.
type StreamClient interface {
	XAdd(ctx context.Context, a *redis.XAddArgs) *redis.StringCmd
}

// RedisBroadcaster appends events to a Redis stream.
type RedisBroadcaster struct {
	client StreamClient
	stream string
	maxLen int64
}

// NewRedisBroadcaster trims the stream to about maxLen entries; 0 disables trimming.
func NewRedisBroadcaster(client StreamClient, stream string, maxLen int64) *RedisBroadcaster {
	return &RedisBroadcaster{client: client, stream: stream, maxLen: maxLen}
}

func (b *RedisBroadcaster) Publish(ctx context.Context, event Event) error {
	args := &redis.XAddArgs{
		Stream: b.stream,
		Values: map[string]interface{}{
			"tenant_id": event.TenantID,
			"step":      event.Step,
			"message":   event.Message,
			"timestamp": event.Timestamp.UTC().Format(time.RFC3339Nano),
		},
	}
	if b.maxLen > 0 {
		args.MaxLen = b.maxLen
		args.Approx = true
	}

	if err := b.client.XAdd(ctx, args).Err(); err != nil {
		return fmt.Errorf("failed to publish to stream %s: %w", b.stream, err)
	}
	return nil
}
