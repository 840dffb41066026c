package relay

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	goredis "github.com/redis/go-redis/v9"

	"github.com/Janar2510/AgentFlow/internal/metrics"
	"github.com/Janar2510/AgentFlow/internal/realtime"
)

// pubSubChannel is the shared Redis channel all instances publish to.
const pubSubChannel = "agentflow:realtime"

// event is the message exchanged between instances via Redis Pub/Sub.
type event struct {
	Origin  uuid.UUID        `json:"origin"`
	Channel string           `json:"channel"`
	Payload realtime.Payload `json:"payload"`
}

// Broadcaster is the slice of the realtime manager the relay needs.
type Broadcaster interface {
	Broadcast(channel string, payload realtime.Payload, exclude uuid.UUID) (realtime.Report, error)
}

// Relay fans broadcasts out to peer instances and replays theirs locally.
type Relay struct {
	rdb     *goredis.Client
	manager Broadcaster
	origin  uuid.UUID
}

func New(rdb *goredis.Client, manager Broadcaster) *Relay {
	return &Relay{
		rdb:     rdb,
		manager: manager,
		origin:  uuid.New(),
	}
}

// Publish delivers a payload to local subscribers and forwards it to peers.
func (r *Relay) Publish(ctx context.Context, channel string, payload realtime.Payload) error {
	if _, err := r.manager.Broadcast(channel, payload, uuid.Nil); err != nil {
		return fmt.Errorf("local broadcast: %w", err)
	}

	data, err := json.Marshal(event{Origin: r.origin, Channel: channel, Payload: payload})
	if err != nil {
		return fmt.Errorf("failed to marshal relay event: %w", err)
	}
	if err := r.rdb.Publish(ctx, pubSubChannel, data).Err(); err != nil {
		return fmt.Errorf("failed to publish relay event: %w", err)
	}

	metrics.RelayMessagesPublishedTotal.Inc()
	return nil
}

// Run subscribes to the shared channel and replays peer events into the
// local manager. Blocks until ctx is cancelled.
func (r *Relay) Run(ctx context.Context) {
	sub := r.rdb.Subscribe(ctx, pubSubChannel)
	defer func() { _ = sub.Close() }()

	slog.Info("Relay subscribed", "channel", pubSubChannel, "origin", r.origin.String())

	msgCh := sub.Channel()
	for {
		select {
		case msg, ok := <-msgCh:
			if !ok {
				slog.Warn("Relay subscription channel closed")
				return
			}
			r.handle(msg.Payload)
		case <-ctx.Done():
			slog.Info("Relay stopped")
			return
		}
	}
}

func (r *Relay) handle(raw string) {
	var ev event
	if err := json.Unmarshal([]byte(raw), &ev); err != nil {
		slog.Warn("Failed to unmarshal relay event", "error", err)
		return
	}
	if ev.Origin == r.origin {
		return
	}

	metrics.RelayMessagesReceivedTotal.Inc()
	if _, err := r.manager.Broadcast(ev.Channel, ev.Payload, uuid.Nil); err != nil {
		slog.Warn("Failed to replay relay event", "channel", ev.Channel, "error", err)
	}
}
