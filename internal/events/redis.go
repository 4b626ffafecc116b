package events

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// DefaultChannel is the pub/sub channel changes are broadcast on.
const DefaultChannel = "rates:invalidate"

// RedisPublisher broadcasts changes to every replica subscribed to Channel.
type RedisPublisher struct {
	Client  *redis.Client
	Channel string
}

func (p RedisPublisher) channel() string {
	if p.Channel == "" {
		return DefaultChannel
	}
	return p.Channel
}

// Publish implements Publisher.
func (p RedisPublisher) Publish(ctx context.Context, change Change) error {
	if p.Client == nil {
		return errors.New("events: redis client not configured")
	}
	data, err := json.Marshal(change)
	if err != nil {
		return err
	}
	return p.Client.Publish(ctx, p.channel(), data).Err()
}

// RedisSubscriber delivers broadcast changes to a Bus until its context ends.
type RedisSubscriber struct {
	Client  *redis.Client
	Channel string
	Bus     *Bus
	Logger  zerolog.Logger
}

// Run subscribes and blocks until ctx is cancelled. Changes that originated from the same Bus
// have already been dispatched locally and are skipped.
func (s *RedisSubscriber) Run(ctx context.Context) error {
	if s.Client == nil || s.Bus == nil {
		return errors.New("events: subscriber not configured")
	}
	channel := s.Channel
	if channel == "" {
		channel = DefaultChannel
	}
	sub := s.Client.Subscribe(ctx, channel)
	defer func() { _ = sub.Close() }()
	if _, err := sub.Receive(ctx); err != nil {
		return err
	}
	s.Logger.Info().Str("channel", channel).Msg("listening for rate changes")

	msgs := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-msgs:
			if !ok {
				return nil
			}
			var change Change
			if err := json.Unmarshal([]byte(msg.Payload), &change); err != nil {
				s.Logger.Warn().Err(err).Msg("discarding malformed change message")
				continue
			}
			if change.Origin != "" && change.Origin == s.Bus.Origin {
				continue
			}
			if err := s.Bus.Dispatch(ctx, change); err != nil {
				s.Logger.Error().Err(err).Str("topic", change.Topic).Msg("dispatch change")
			}
		}
	}
}
