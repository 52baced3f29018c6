package rooms

import (
	"context"
	"encoding/json"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"jagruk/preparedness/internal/metrics"
)

type envelope struct {
	Origin   string          `json:"origin"`
	SchoolID string          `json:"schoolId"`
	ClassID  string          `json:"classId,omitempty"`
	Group    string          `json:"group,omitempty"`
	Event    string          `json:"event"`
	Data     json.RawMessage `json:"data,omitempty"`
}

// RedisRelay fans events out across processes. Every publish is delivered to
// the local hub and copied to a redis channel; messages from other processes
// are delivered to the local hub by Run.
type RedisRelay struct {
	hub     *Hub
	client  *redis.Client
	channel string
	origin  string
	log     *zap.Logger
}

func NewRedisRelay(hub *Hub, client *redis.Client, channel string, log *zap.Logger) *RedisRelay {
	if log == nil {
		log = zap.NewNop()
	}
	return &RedisRelay{
		hub:     hub,
		client:  client,
		channel: channel,
		origin:  uuid.NewString(),
		log:     log,
	}
}

func (r *RedisRelay) Publish(ctx context.Context, key Key, event string, payload any) {
	msg, err := NewMessage(event, payload)
	if err != nil {
		r.log.Error("broadcast encode failed", zap.String("event", event), zap.Error(err))
		return
	}
	metrics.Broadcasts.WithLabelValues(event).Inc()
	r.hub.Deliver(key, msg)

	body, err := json.Marshal(envelope{
		Origin:   r.origin,
		SchoolID: key.SchoolID,
		ClassID:  key.ClassID,
		Group:    key.Group,
		Event:    msg.Event,
		Data:     msg.Data,
	})
	if err != nil {
		r.log.Error("relay encode failed", zap.String("event", event), zap.Error(err))
		return
	}
	if err := r.client.Publish(ctx, r.channel, body).Err(); err != nil {
		metrics.RelayMessages.WithLabelValues("out", "error").Inc()
		r.log.Warn("relay publish failed", zap.String("event", event), zap.Error(err))
		return
	}
	metrics.RelayMessages.WithLabelValues("out", "ok").Inc()
}

// Run subscribes to the relay channel until ctx is done.
func (r *RedisRelay) Run(ctx context.Context) error {
	sub := r.client.Subscribe(ctx, r.channel)
	defer sub.Close()

	if _, err := sub.Receive(ctx); err != nil {
		return errors.Wrap(err, "relay subscribe")
	}
	r.log.Info("relay subscribed", zap.String("channel", r.channel), zap.String("origin", r.origin))

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case m, ok := <-ch:
			if !ok {
				return nil
			}
			r.handle(m.Payload)
		}
	}
}

// handle delivers a message received from the channel. Messages this process
// published itself were already delivered locally and are skipped.
func (r *RedisRelay) handle(payload string) bool {
	var env envelope
	if err := json.Unmarshal([]byte(payload), &env); err != nil {
		metrics.RelayMessages.WithLabelValues("in", "invalid").Inc()
		r.log.Warn("relay message invalid", zap.Error(err))
		return false
	}
	if env.Origin == r.origin {
		return false
	}
	if env.SchoolID == "" || env.Event == "" {
		metrics.RelayMessages.WithLabelValues("in", "invalid").Inc()
		return false
	}
	metrics.RelayMessages.WithLabelValues("in", "ok").Inc()
	r.hub.Deliver(Key{SchoolID: env.SchoolID, ClassID: env.ClassID, Group: env.Group}, Message{Event: env.Event, Data: env.Data})
	return true
}
