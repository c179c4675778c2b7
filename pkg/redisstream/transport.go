// Package redisstream carries transcript events over Redis Streams so that consumers in other
// processes can follow the relay.
package redisstream

import (
	"context"
	"strings"

	"github.com/ThreeDotsLabs/watermill"
	rstream "github.com/ThreeDotsLabs/watermill-redisstream/pkg/redisstream"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"github.com/go-go-golems/dsa-tutor/pkg/events"
)

// Transport owns the Redis client behind an events.Bus.
type Transport struct {
	Bus *events.Bus

	settings Settings
	client   redis.UniversalClient
}

// NewTransport connects to Redis and builds a bus whose consumers each read through their own
// consumer group. Groups are created at the stream tail so a new consumer does not replay history.
func NewTransport(ctx context.Context, s Settings, logger watermill.LoggerAdapter, opts ...events.BusOption) (*Transport, error) {
	if err := s.Validate(); err != nil {
		return nil, err
	}
	if !s.Enabled {
		return nil, errors.New("redisstream: transport is disabled")
	}
	if logger == nil {
		logger = watermill.NopLogger{}
	}

	client := redis.NewClient(&redis.Options{Addr: s.Addr})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, errors.Wrapf(err, "redisstream: ping %s", s.Addr)
	}

	pub, err := rstream.NewPublisher(rstream.PublisherConfig{
		Client:     client,
		Marshaller: rstream.DefaultMarshallerUnmarshaller{},
	}, logger)
	if err != nil {
		_ = client.Close()
		return nil, errors.Wrap(err, "redisstream: create publisher")
	}

	t := &Transport{settings: s, client: client}
	busOpts := append([]events.BusOption{events.WithOwnedSubscribers()}, opts...)
	bus, err := events.NewBus(pub, t.subscriberFactory(ctx, logger), busOpts...)
	if err != nil {
		_ = pub.Close()
		_ = client.Close()
		return nil, err
	}
	t.Bus = bus
	log.Info().Str("component", "redisstream").Str("addr", s.Addr).Str("group", s.Group).Msg("redis streams transport ready")
	return t, nil
}

func (t *Transport) subscriberFactory(ctx context.Context, logger watermill.LoggerAdapter) events.SubscriberFactory {
	return func(consumer string) (message.Subscriber, error) {
		group := t.settings.GroupFor(consumer)
		if err := EnsureGroupAtTail(ctx, t.client, t.Bus.Topic(), group); err != nil {
			return nil, err
		}
		return rstream.NewSubscriber(rstream.SubscriberConfig{
			Client:        t.client,
			Unmarshaller:  rstream.DefaultMarshallerUnmarshaller{},
			ConsumerGroup: group,
			Consumer:      t.settings.Consumer,
		}, logger)
	}
}

// Close closes the bus and then the Redis client.
func (t *Transport) Close() error {
	if t == nil {
		return nil
	}
	var err error
	if t.Bus != nil {
		err = t.Bus.Close()
	}
	if cerr := t.client.Close(); cerr != nil && err == nil {
		err = cerr
	}
	return err
}

// EnsureGroupAtTail creates the consumer group for a given stream at the tail ($) if it doesn't exist.
func EnsureGroupAtTail(ctx context.Context, client redis.UniversalClient, stream, group string) error {
	err := client.XGroupCreateMkStream(ctx, stream, group, "$").Err()
	if err != nil {
		// group already exists
		if strings.Contains(err.Error(), "BUSYGROUP") {
			return nil
		}
		return errors.Wrapf(err, "redisstream: create group %s on %s", group, stream)
	}
	log.Info().Str("stream", stream).Str("group", group).Msg("created redis consumer group at $ (tail)")
	return nil
}
