// Package broker implements the Broker Bridge: a thin wrapper around a Redis
// Pub/Sub channel per response_id, publishing canonical events from the Event
// Processor and forwarding decoded events to subscribed handlers (the
// WebSocket Session Manager). Delivery is at-most-once and best-effort
// ordered, matching Redis Pub/Sub's own guarantees -- there is no backlog, no
// replay, and no cross-process acknowledgement.
package broker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/chatworkbench/streampipe/internal/streamevent"
	"github.com/chatworkbench/streampipe/internal/telemetry"
	"github.com/redis/go-redis/v9"
)

// Handler receives events forwarded from a response's channel. Implementations
// must not block for long; the forwarding loop is single-threaded per
// subscription.
type Handler interface {
	HandleEvent(ctx context.Context, responseID string, e streamevent.Event)
}

// Options configures a Broker.
type Options struct {
	// Redis is the client used for both Publish and Subscribe.
	Redis *redis.Client
	// Telemetry is used for structured logging of publish/decode failures.
	// Defaults to a no-op provider if zero.
	Telemetry telemetry.Provider
	// ReceiveTimeout bounds how long each subscription poll waits for a
	// message before checking ctx.Done() again. Defaults to 1 second.
	ReceiveTimeout time.Duration
}

// Broker is the Broker Bridge.
type Broker struct {
	rdb       *redis.Client
	telemetry telemetry.Provider
	recvTO    time.Duration
}

// New constructs a Broker.
func New(opts Options) (*Broker, error) {
	if opts.Redis == nil {
		return nil, fmt.Errorf("broker: redis client is required")
	}
	recvTO := opts.ReceiveTimeout
	if recvTO == 0 {
		recvTO = time.Second
	}
	telemetryProvider := opts.Telemetry
	if telemetryProvider.Logger == nil {
		telemetryProvider = telemetry.NewNoopProvider()
	}
	return &Broker{rdb: opts.Redis, telemetry: telemetryProvider, recvTO: recvTO}, nil
}

// channelForResponse returns the Redis Pub/Sub channel name for a response_id.
func channelForResponse(responseID string) string {
	return fmt.Sprintf("response:%s", responseID)
}

// Publish serializes e and publishes it on the response's channel. Events
// with Emit() == false should never reach here; callers (the Event
// Processor) are responsible for that filtering.
func (b *Broker) Publish(ctx context.Context, responseID string, e streamevent.Event) error {
	payload, err := streamevent.Marshal(e)
	if err != nil {
		return fmt.Errorf("broker: marshal event: %w", err)
	}
	if err := b.rdb.Publish(ctx, channelForResponse(responseID), []byte(payload)).Err(); err != nil {
		return fmt.Errorf("broker: publish: %w", err)
	}
	return nil
}

// Subscription is a live subscription to a response's channel. Close stops
// the forwarding goroutine and releases the underlying Redis connection.
type Subscription struct {
	pubsub *redis.PubSub
	cancel context.CancelFunc
	done   chan struct{}
}

// Close unsubscribes and waits for the forwarding goroutine to exit.
func (s *Subscription) Close() error {
	s.cancel()
	<-s.done
	return s.pubsub.Close()
}

// Subscribe opens a subscription to responseID's channel and forwards every
// decoded event to handler until ctx is canceled or Close is called. Decode
// failures are logged and skipped rather than tearing down the subscription,
// since one malformed message must not stop delivery of the rest.
func (b *Broker) Subscribe(ctx context.Context, responseID string, handler Handler) (*Subscription, error) {
	pubsub := b.rdb.Subscribe(ctx, channelForResponse(responseID))
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return nil, fmt.Errorf("broker: subscribe: %w", err)
	}

	loopCtx, cancel := context.WithCancel(ctx)
	sub := &Subscription{pubsub: pubsub, cancel: cancel, done: make(chan struct{})}

	go b.forward(loopCtx, responseID, pubsub, handler, sub.done)

	return sub, nil
}

func (b *Broker) forward(ctx context.Context, responseID string, pubsub *redis.PubSub, handler Handler, done chan struct{}) {
	defer close(done)
	for {
		if ctx.Err() != nil {
			return
		}
		recvCtx, cancel := context.WithTimeout(ctx, b.recvTO)
		msg, err := pubsub.ReceiveMessage(recvCtx)
		cancel()
		if err != nil {
			if errors.Is(err, context.DeadlineExceeded) {
				continue
			}
			if ctx.Err() != nil {
				return
			}
			b.telemetry.Logger.Warn(ctx, "broker receive error", "response_id", responseID, "error", err.Error())
			continue
		}

		ev, err := streamevent.Unmarshal([]byte(msg.Payload))
		if err != nil {
			b.telemetry.Logger.Warn(ctx, "broker decode error, skipping message", "response_id", responseID, "error", err.Error())
			continue
		}

		handler.HandleEvent(ctx, responseID, ev)
	}
}
