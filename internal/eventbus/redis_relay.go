package eventbus

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/redis/go-redis/v9"
)

// RedisRelay additionally publishes every event seen by a Bus to a Redis
// pub/sub channel, so a separate process hosting the HTTP/WebSocket job
// surface can relay events without sharing memory with the orchestrator
// process. The in-process Bus remains the single writer and source of
// truth for a job; the relay is a one-way mirror.
type RedisRelay struct {
	client *redis.Client
	logger *slog.Logger
}

// NewRedisRelay builds a relay over client. It does not connect the relay
// to a Bus; AttachRelay does that.
func NewRedisRelay(client *redis.Client, logger *slog.Logger) *RedisRelay {
	if logger == nil {
		logger = slog.Default()
	}
	return &RedisRelay{client: client, logger: logger}
}

func channelName(jobID string) string {
	return fmt.Sprintf("beamforge:job:%s", jobID)
}

// Publish mirrors event to the job's Redis channel. Failures are logged and
// swallowed: the in-process Bus already delivered the event to local
// subscribers, so a relay failure degrades multi-process fanout, not event
// delivery within this process.
func (r *RedisRelay) Publish(ctx context.Context, event Event) {
	data, err := json.Marshal(event)
	if err != nil {
		r.logger.Error("event relay: marshal failed", "job_id", event.JobID, "error", err)
		return
	}
	if err := r.client.Publish(ctx, channelName(event.JobID), data).Err(); err != nil {
		r.logger.Warn("event relay: publish failed", "job_id", event.JobID, "error", err)
	}
}

// Subscribe relays events published to jobID's Redis channel onto ch until
// ctx is cancelled. Intended for use by a remote process hosting the job
// surface that does not share memory with the orchestrator.
func (r *RedisRelay) Subscribe(ctx context.Context, jobID string, ch chan<- Event) {
	pubsub := r.client.Subscribe(ctx, channelName(jobID))
	defer pubsub.Close()

	msgs := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-msgs:
			if !ok {
				return
			}
			var event Event
			if err := json.Unmarshal([]byte(msg.Payload), &event); err != nil {
				r.logger.Error("event relay: unmarshal failed", "job_id", jobID, "error", err)
				continue
			}
			ch <- event
		}
	}
}

// AttachRelay wraps Bus.Publish so every published event is additionally
// mirrored to relay. Returns a publish function callers should use in place
// of Bus.Publish directly.
func AttachRelay(b *Bus, relay *RedisRelay) func(ctx context.Context, event Event) {
	return func(ctx context.Context, event Event) {
		b.Publish(event)
		relay.Publish(ctx, event)
	}
}
