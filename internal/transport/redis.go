// Package transport carries feed change notifications over Redis pub/sub.
// Delivery is at-least-once from the consumer's point of view (the router
// deduplicates by event ID); ordering is only per channel.
package transport

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"

	"github.com/redis/go-redis/v9"

	"vantage/internal/feed"
	"vantage/internal/observability"
)

// FeedChannel returns the pub/sub channel carrying one viewer's feed events.
func FeedChannel(viewerID uint) string {
	return fmt.Sprintf("feed:user:%d", viewerID)
}

// Subscriber adapts Redis pub/sub to the feed session's event stream. It
// satisfies feed.EventSource.
type Subscriber struct {
	rdb    *redis.Client
	logger *slog.Logger
}

// NewSubscriber creates a subscriber over an established Redis client.
func NewSubscriber(rdb *redis.Client, logger *slog.Logger) *Subscriber {
	if logger == nil {
		logger = observability.Logger
	}
	return &Subscriber{rdb: rdb, logger: logger}
}

// Subscribe opens the viewer's feed channel and decodes messages into events.
// Undecodable payloads are dropped and counted, never forwarded: a malformed
// message must not take the stream down. The returned channel closes when the
// context ends or the subscription dies.
func (s *Subscriber) Subscribe(ctx context.Context, viewerID uint) (<-chan feed.Event, error) {
	if s == nil || s.rdb == nil {
		return nil, fmt.Errorf("redis client not initialized")
	}

	sub := s.rdb.Subscribe(ctx, FeedChannel(viewerID))
	if _, err := sub.Receive(ctx); err != nil {
		_ = sub.Close()
		return nil, fmt.Errorf("subscribe feed channel: %w", err)
	}

	msgs := sub.Channel()
	events := make(chan feed.Event, 64)

	go func() {
		defer func() {
			if r := recover(); r != nil {
				s.logger.Error("panic in feed subscriber",
					slog.Any("recover", r),
					slog.String("stack", string(debug.Stack())),
				)
			}
			_ = sub.Close()
			close(events)
		}()

		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-msgs:
				if !ok {
					return
				}
				ev, err := feed.DecodeEvent([]byte(msg.Payload))
				if err != nil {
					observability.DecodeFailures.Inc()
					s.logger.Warn("dropping undecodable feed event",
						slog.String("channel", msg.Channel),
						slog.String("error", err.Error()),
					)
					continue
				}
				select {
				case events <- ev:
				case <-ctx.Done():
					return
				}
			}
		}
	}()

	return events, nil
}

// Publisher fans feed events out to viewer channels. The write path calls it
// once per affected viewer after a post, like, or comment lands.
type Publisher struct {
	rdb *redis.Client
}

// NewPublisher creates a publisher over an established Redis client.
func NewPublisher(rdb *redis.Client) *Publisher {
	return &Publisher{rdb: rdb}
}

// Publish encodes the event and sends it to one viewer's feed channel.
func (p *Publisher) Publish(ctx context.Context, viewerID uint, ev feed.Event) error {
	if p.rdb == nil {
		return fmt.Errorf("redis client not initialized")
	}
	payload, err := feed.EncodeEvent(ev)
	if err != nil {
		return err
	}
	return p.rdb.Publish(ctx, FeedChannel(viewerID), payload).Err()
}

// PublishAll sends the event to every viewer in ids, stopping at the first
// publish error.
func (p *Publisher) PublishAll(ctx context.Context, ids []uint, ev feed.Event) error {
	for _, id := range ids {
		if err := p.Publish(ctx, id, ev); err != nil {
			return err
		}
	}
	return nil
}
