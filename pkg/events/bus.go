package events

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

// SubscriberFactory returns the subscriber a named consumer should read from. Consumers with
// different names must each see every event, which for Redis Streams means one consumer group
// per name.
type SubscriberFactory func(consumer string) (message.Subscriber, error)

// Handler processes one decoded event. Errors are logged; the message is still acked.
type Handler func(ctx context.Context, e Event) error

// Bus publishes transcript events and fans them out to named consumers.
type Bus struct {
	topic     string
	pub       message.Publisher
	subFor    SubscriberFactory
	closePub  bool
	closeSubs bool

	mu   sync.Mutex
	subs []message.Subscriber
}

var _ Sink = (*Bus)(nil)

type BusOption func(*Bus)

func WithTopic(topic string) BusOption {
	return func(b *Bus) {
		if topic != "" {
			b.topic = topic
		}
	}
}

// WithOwnedSubscribers makes Close close every subscriber handed out by the factory.
func WithOwnedSubscribers() BusOption {
	return func(b *Bus) {
		b.closeSubs = true
	}
}

// NewBus wires a publisher and a subscriber factory. The bus closes the publisher on Close.
func NewBus(pub message.Publisher, subFor SubscriberFactory, opts ...BusOption) (*Bus, error) {
	if pub == nil {
		return nil, errors.New("events: publisher is nil")
	}
	if subFor == nil {
		return nil, errors.New("events: subscriber factory is nil")
	}
	b := &Bus{
		topic:    DefaultTopic,
		pub:      pub,
		subFor:   subFor,
		closePub: true,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b, nil
}

// NewInMemoryBus returns a bus backed by a watermill go channel. Every consumer subscribes to
// the same channel and receives every event published after it subscribed. Publish waits for
// every consumer to ack so events arrive in publish order.
func NewInMemoryBus(logger watermill.LoggerAdapter) *Bus {
	if logger == nil {
		logger = watermill.NopLogger{}
	}
	ch := gochannel.NewGoChannel(gochannel.Config{
		OutputChannelBuffer:            64,
		BlockPublishUntilSubscriberAck: true,
	}, logger)
	return &Bus{
		topic:    DefaultTopic,
		pub:      ch,
		subFor:   func(string) (message.Subscriber, error) { return ch, nil },
		closePub: true,
	}
}

func (b *Bus) Topic() string {
	return b.topic
}

// Publish implements Sink.
func (b *Bus) Publish(ctx context.Context, e Event) error {
	payload, err := json.Marshal(e)
	if err != nil {
		return errors.Wrap(err, "events: marshal event")
	}
	msg := message.NewMessage(watermill.NewUUID(), payload)
	if ctx != nil {
		msg.SetContext(ctx)
	}
	if err := b.pub.Publish(b.topic, msg); err != nil {
		return errors.Wrapf(err, "events: publish %s", e.Type)
	}
	return nil
}

// Consumer is a named subscription to the bus topic.
type Consumer struct {
	name string
	ch   <-chan *message.Message
}

// Subscribe registers the named consumer. Events published after Subscribe returns are
// delivered to it; call Run to process them.
func (b *Bus) Subscribe(ctx context.Context, consumer string) (*Consumer, error) {
	sub, err := b.subFor(consumer)
	if err != nil {
		return nil, errors.Wrapf(err, "events: build subscriber for %s", consumer)
	}
	if b.closeSubs {
		b.mu.Lock()
		b.subs = append(b.subs, sub)
		b.mu.Unlock()
	}
	ch, err := sub.Subscribe(ctx, b.topic)
	if err != nil {
		return nil, errors.Wrapf(err, "events: subscribe %s", consumer)
	}
	log.Debug().Str("component", "events").Str("consumer", consumer).Str("topic", b.topic).Msg("consumer subscribed")
	return &Consumer{name: consumer, ch: ch}, nil
}

// Consume subscribes the named consumer and runs handler until ctx is done.
func (b *Bus) Consume(ctx context.Context, consumer string, handler Handler) error {
	c, err := b.Subscribe(ctx, consumer)
	if err != nil {
		return err
	}
	c.Run(handler)
	return nil
}

// Run calls handler for every event until the subscription channel is closed, which happens
// when the context passed to Subscribe is done or the bus is closed. Messages are always acked:
// a failing handler only loses its own copy of the event.
func (c *Consumer) Run(handler Handler) {
	for msg := range c.ch {
		var e Event
		if err := json.Unmarshal(msg.Payload, &e); err != nil {
			log.Warn().Err(err).Str("component", "events").Str("consumer", c.name).Msg("failed to decode event json")
			msg.Ack()
			continue
		}
		if handler != nil {
			if err := handler(msg.Context(), e); err != nil {
				log.Warn().Err(err).Str("component", "events").Str("consumer", c.name).Str("type", string(e.Type)).Msg("event handler failed")
			}
		}
		msg.Ack()
	}
	log.Debug().Str("component", "events").Str("consumer", c.name).Msg("consumer stopped")
}

func (b *Bus) Close() error {
	var firstErr error
	if b.closeSubs {
		b.mu.Lock()
		subs := b.subs
		b.subs = nil
		b.mu.Unlock()
		for _, s := range subs {
			if err := s.Close(); err != nil && firstErr == nil {
				firstErr = err
			}
		}
	}
	if b.closePub {
		if err := b.pub.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
