// Package analytics publishes usage events on an in-process watermill bus.
//
// Recording is strictly fire-and-forget: a failed or slow sink never
// surfaces into the chat path. The default subscriber mirrors every event
// into the structured log.
package analytics

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"

	"github.com/parleyhq/parley/internal/log"
)

// Topic is the watermill topic all usage events are published on.
const Topic = "analytics.events"

// Event is the payload carried by each published message.
type Event struct {
	Description string         `json:"description"`
	Fields      map[string]any `json:"fields,omitempty"`
	Timestamp   time.Time      `json:"timestamp"`
}

// Bus is an in-process analytics sink backed by a watermill gochannel
// pub/sub. It is safe for concurrent use.
type Bus struct {
	pubsub *gochannel.GoChannel
	logger log.Logger
	cancel context.CancelFunc
	done   chan struct{}
}

// NewBus creates a Bus and starts the log-mirroring subscriber.
// Close must be called to release it.
func NewBus(logger log.Logger) (*Bus, error) {
	if logger == nil {
		logger = slog.Default()
	}

	pubsub := gochannel.NewGoChannel(
		gochannel.Config{
			OutputChannelBuffer: 100,
			Persistent:          false,
		},
		watermill.NopLogger{},
	)

	ctx, cancel := context.WithCancel(context.Background())
	messages, err := pubsub.Subscribe(ctx, Topic)
	if err != nil {
		cancel()
		_ = pubsub.Close()
		return nil, err
	}

	b := &Bus{
		pubsub: pubsub,
		logger: logger,
		cancel: cancel,
		done:   make(chan struct{}),
	}
	go b.consume(messages)
	return b, nil
}

// Record publishes one usage event. It never blocks the caller on sink
// failures; publish errors are logged and dropped.
func (b *Bus) Record(description string, fields map[string]any) {
	payload, err := json.Marshal(Event{
		Description: description,
		Fields:      fields,
		Timestamp:   time.Now().UTC(),
	})
	if err != nil {
		b.logger.Warn("dropping analytics event", "error", err)
		return
	}

	msg := message.NewMessage(watermill.NewUUID(), payload)
	if err := b.pubsub.Publish(Topic, msg); err != nil {
		b.logger.Warn("dropping analytics event", "error", err)
	}
}

// Subscribe exposes the raw message stream for additional sinks.
// Subscribers must Ack every message.
func (b *Bus) Subscribe(ctx context.Context) (<-chan *message.Message, error) {
	return b.pubsub.Subscribe(ctx, Topic)
}

// Close stops the subscriber and closes the underlying pub/sub.
func (b *Bus) Close() error {
	b.cancel()
	err := b.pubsub.Close()
	<-b.done
	return err
}

// consume mirrors published events into the structured log until the
// subscription channel closes.
func (b *Bus) consume(messages <-chan *message.Message) {
	defer close(b.done)
	for msg := range messages {
		var event Event
		if err := json.Unmarshal(msg.Payload, &event); err != nil {
			b.logger.Warn("malformed analytics event", "error", err)
			msg.Ack()
			continue
		}

		attrs := make([]any, 0, 2*len(event.Fields))
		for key, value := range event.Fields {
			attrs = append(attrs, key, value)
		}
		b.logger.Info(event.Description, attrs...)
		msg.Ack()
	}
}

// Nop is a Recorder that discards every event. Useful in tests and when
// analytics is disabled.
type Nop struct{}

// Record implements the recorder contract by doing nothing.
func (Nop) Record(string, map[string]any) {}
