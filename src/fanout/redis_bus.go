package fanout

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"trading-hub/src/helpers"
	"trading-hub/src/logger"
	"trading-hub/src/models"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// envelope is the pub/sub payload. Origin lets an instance skip its own events.
type envelope struct {
	Origin    string          `json:"origin"`
	Topics    []string        `json:"topics,omitempty"`
	Type      string          `json:"type"`
	Data      json.RawMessage `json:"data"`
	Timestamp int64           `json:"timestamp"`
}

func encode(origin string, evt models.MOutboundEvent) ([]byte, error) {
	if evt.Message == nil {
		return nil, errors.New("event has no message")
	}
	data, err := json.Marshal(evt.Message.Data)
	if err != nil {
		return nil, err
	}
	return json.Marshal(envelope{
		Origin:    origin,
		Topics:    evt.Topics,
		Type:      evt.Message.Type,
		Data:      data,
		Timestamp: evt.Message.Timestamp,
	})
}

func decode(payload []byte) (string, models.MOutboundEvent, error) {
	var env envelope
	if err := json.Unmarshal(payload, &env); err != nil {
		return "", models.MOutboundEvent{}, err
	}
	if env.Type == "" {
		return "", models.MOutboundEvent{}, errors.New("envelope has no message type")
	}
	if len(env.Data) == 0 {
		env.Data = json.RawMessage("{}")
	}
	return env.Origin, models.MOutboundEvent{
		Topics: env.Topics,
		Message: &models.MOutboundMessage{
			Type:      env.Type,
			Data:      env.Data,
			Timestamp: env.Timestamp,
		},
	}, nil
}

// -----------------------------------------------------------------------------
// RedisBus
// -----------------------------------------------------------------------------

// RedisBus mirrors hub events between instances over one Redis pub/sub channel.
type RedisBus struct {
	Logger  *logger.Logger
	client  *redis.Client
	channel string
	origin  string
}

// -----------------------------------------------------------------------------

func NewRedisBus(cfg models.MRedisConfig, log *logger.Logger) (*RedisBus, error) {
	opts, err := redis.ParseURL(cfg.URL)
	if err != nil {
		return nil, &helpers.ConfigurationError{TradingHubError: helpers.TradingHubError{
			Message: fmt.Sprintf("invalid redis url %q", cfg.URL),
			Cause:   err,
		}}
	}
	return NewRedisBusWithClient(redis.NewClient(opts), cfg.Channel, log), nil
}

func NewRedisBusWithClient(client *redis.Client, channel string, log *logger.Logger) *RedisBus {
	return &RedisBus{
		Logger:  log,
		client:  client,
		channel: channel,
		origin:  uuid.NewString(),
	}
}

// Ping checks the server is reachable.
func (b *RedisBus) Ping(ctx context.Context) error {
	if err := b.client.Ping(ctx).Err(); err != nil {
		return helpers.NewNetworkError("redis ping failed", err)
	}
	return nil
}

// -----------------------------------------------------------------------------

// Forward publishes evt for the other instances.
func (b *RedisBus) Forward(ctx context.Context, evt models.MOutboundEvent) error {
	payload, err := encode(b.origin, evt)
	if err != nil {
		return err
	}
	if err := b.client.Publish(ctx, b.channel, payload).Err(); err != nil {
		return helpers.NewNetworkError("redis publish failed", err)
	}
	return nil
}

// -----------------------------------------------------------------------------

// Run hands events published by other instances to deliver until ctx is done.
func (b *RedisBus) Run(ctx context.Context, deliver func(models.MOutboundEvent)) error {
	ps := b.client.Subscribe(ctx, b.channel)
	defer ps.Close()

	if _, err := ps.Receive(ctx); err != nil {
		return helpers.NewNetworkError("redis subscribe failed", err)
	}
	b.Logger.Info("Listening for remote events on %s", b.channel)

	ch := ps.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-ch:
			if !ok {
				return helpers.NewNetworkError("redis subscription closed", nil)
			}
			b.handle([]byte(msg.Payload), deliver)
		}
	}
}

func (b *RedisBus) handle(payload []byte, deliver func(models.MOutboundEvent)) {
	origin, evt, err := decode(payload)
	if err != nil {
		b.Logger.Warning("Dropping malformed fanout payload: %v", err)
		return
	}
	if origin == b.origin {
		return
	}
	deliver(evt)
}

func (b *RedisBus) Close() error {
	return b.client.Close()
}
