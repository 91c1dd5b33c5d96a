package broadcast

import (
	"context"
	"encoding/json"

	"github.com/redis/go-redis/v9"

	"overlaycore/src/concurrency"
	"overlaycore/src/logging"
)

// ReplicatedEvent is one emitted room event, wire-shaped for cross-replica
// publication.
type ReplicatedEvent struct {
	Room    string          `json:"room"`
	Event   string          `json:"event"`
	Payload json.RawMessage `json:"payload"`
}

// Replicator fans room events out to other server instances so every
// replica's Registry stays consistent. Best-effort and non-blocking.
type Replicator interface {
	Publish(evt ReplicatedEvent) error
}

// RedisReplicator publishes emitted events to a Redis channel and mirrors
// events published by other replicas back into the local Registry. It
// never re-publishes what it receives, so replicas don't echo forever.
type RedisReplicator struct {
	client   *redis.Client
	channel  string
	registry *Registry
}

// NewRedisReplicator returns a RedisReplicator that publishes to and
// subscribes on channel, mirroring remote events into registry. Call
// Start to begin the subscriber loop.
func NewRedisReplicator(client *redis.Client, channel string, registry *Registry) *RedisReplicator {
	return &RedisReplicator{client: client, channel: channel, registry: registry}
}

// Publish sends evt to every other subscribed replica.
func (r *RedisReplicator) Publish(evt ReplicatedEvent) error {
	data, err := json.Marshal(evt)
	if err != nil {
		return err
	}
	return r.client.Publish(context.Background(), r.channel, data).Err()
}

// Start launches the subscriber loop via concurrency.GoSafe. It runs until
// ctx is canceled.
func (r *RedisReplicator) Start(ctx context.Context) {
	concurrency.GoSafe(func() { r.run(ctx) })
}

func (r *RedisReplicator) run(ctx context.Context) {
	sub := r.client.Subscribe(ctx, r.channel)
	defer sub.Close()

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			var evt ReplicatedEvent
			if err := json.Unmarshal([]byte(msg.Payload), &evt); err != nil {
				logging.Log.WithError(err).Warn("replicator: could not decode remote event")
				continue
			}
			var payload any
			if err := json.Unmarshal(evt.Payload, &payload); err != nil {
				logging.Log.WithError(err).Warn("replicator: could not decode remote payload")
				continue
			}
			r.registry.Emit(evt.Room, evt.Event, payload)
		}
	}
}
