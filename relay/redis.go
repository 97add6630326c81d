package relay

import (
	"context"
	"time"

	"github.com/bytedance/sonic"
	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"
)

// DefaultChannel is the Redis pub/sub channel shared by relay instances.
const DefaultChannel = "task-events"

type envelope struct {
	Owner string                 `json:"owner"`
	Event string                 `json:"event"`
	Data  sonic.NoCopyRawMessage `json:"data"`
}

// RedisFanout relays frames through Redis pub/sub so every relay instance
// can deliver to the subscribers it holds. Pub/sub keeps no backlog, which
// preserves at-most-once delivery.
type RedisFanout struct {
	rc      *redis.Client
	channel string
	hub     *Hub
	retry   time.Duration
}

// NewRedisFanout creates a fan-out delivering received frames to hub.
func NewRedisFanout(rc *redis.Client, channel string, hub *Hub) *RedisFanout {
	if channel == "" {
		channel = DefaultChannel
	}
	return &RedisFanout{rc: rc, channel: channel, hub: hub, retry: time.Second}
}

// Broadcast publishes f for owner on the shared channel.
func (r *RedisFanout) Broadcast(ctx context.Context, owner string, f Frame) error {
	payload, err := sonic.Marshal(envelope{Owner: owner, Event: f.Event, Data: sonic.NoCopyRawMessage(f.Data)})
	if err != nil {
		return err
	}
	return r.rc.Publish(ctx, r.channel, payload).Err()
}

// Run receives envelopes and hands them to the hub until ctx is done. The
// subscription is re-established whenever the pub/sub channel closes.
func (r *RedisFanout) Run(ctx context.Context) {
	for {
		sub := r.rc.Subscribe(ctx, r.channel)
		r.consume(ctx, sub.Channel())
		_ = sub.Close()
		if ctx.Err() != nil {
			return
		}
		log.WithField("channel", r.channel).Error("pubsub channel closed, reconnecting")
		select {
		case <-ctx.Done():
			return
		case <-time.After(r.retry):
		}
	}
}

func (r *RedisFanout) consume(ctx context.Context, ch <-chan *redis.Message) {
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			var env envelope
			if err := sonic.UnmarshalString(msg.Payload, &env); err != nil {
				log.WithError(err).Error("unable to parse relayed event")
				continue
			}
			if env.Owner == "" {
				log.Warn("relayed event without owner, ignoring it")
				continue
			}
			r.hub.Send(env.Owner, Frame{Event: env.Event, Data: []byte(env.Data)})
		}
	}
}
