package notifications

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"runtime/debug"
	"time"

	"github.com/redis/go-redis/v9"

	"vantage/internal/observability"
)

const signalChannelPrefix = "feedsignal:user:"

// Signal wire types.
const (
	SignalPendingPosts = "pending_posts"
	SignalConnState    = "conn_state"
)

// Signal is the payload pushed to clients over the signal socket.
type Signal struct {
	Type  string `json:"type"`
	Count int    `json:"count,omitempty"`
	State string `json:"state,omitempty"`
	At    int64  `json:"at"`
}

// Signaler publishes feed signals through Redis so every instance's hub can
// deliver them to its local connections.
type Signaler struct {
	rdb    *redis.Client
	logger *slog.Logger
}

// NewSignaler creates a signaler over an established Redis client. A nil
// client degrades to local-only delivery (publishes become no-ops).
func NewSignaler(rdb *redis.Client, logger *slog.Logger) *Signaler {
	if logger == nil {
		logger = observability.Logger
	}
	return &Signaler{rdb: rdb, logger: logger}
}

// PublishPendingPosts announces an updated pending-new-posts count.
func (s *Signaler) PublishPendingPosts(ctx context.Context, viewerID uint, count int) error {
	return s.publish(ctx, viewerID, Signal{
		Type:  SignalPendingPosts,
		Count: count,
		At:    time.Now().Unix(),
	})
}

// PublishConnState announces a live-subscription state change.
func (s *Signaler) PublishConnState(ctx context.Context, viewerID uint, state string) error {
	return s.publish(ctx, viewerID, Signal{
		Type:  SignalConnState,
		State: state,
		At:    time.Now().Unix(),
	})
}

func (s *Signaler) publish(ctx context.Context, viewerID uint, sig Signal) error {
	if s.rdb == nil {
		return nil
	}
	payload, err := json.Marshal(sig)
	if err != nil {
		return err
	}
	channel := fmt.Sprintf("%s%d", signalChannelPrefix, viewerID)
	return s.rdb.Publish(ctx, channel, string(payload)).Err()
}

// StartPatternSubscriber subscribes to every viewer's signal channel and
// calls onMessage per incoming signal. Returns once the subscription is
// confirmed; delivery continues in the background until ctx ends.
func (s *Signaler) StartPatternSubscriber(
	ctx context.Context, onMessage func(channel string, payload string),
) error {
	if s.rdb == nil {
		return fmt.Errorf("redis client not initialized")
	}
	sub := s.rdb.PSubscribe(ctx, signalChannelPrefix+"*")
	if _, err := sub.Receive(ctx); err != nil {
		_ = sub.Close()
		return fmt.Errorf("subscribe signal pattern: %w", err)
	}
	ch := sub.Channel()

	go func() {
		defer func() { _ = sub.Close() }()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				func() {
					defer func() {
						if r := recover(); r != nil {
							s.logger.Error("panic in signal subscriber",
								slog.Any("recover", r),
								slog.String("stack", string(debug.Stack())),
							)
						}
					}()
					onMessage(msg.Channel, msg.Payload)
				}()
			}
		}
	}()

	return nil
}
