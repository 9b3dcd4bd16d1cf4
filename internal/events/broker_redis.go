package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	redis "github.com/redis/go-redis/v9"
)

const DefaultChannel = "route-plans"

// RedisBroker implements Bus over Redis Pub/Sub so several service
// instances share one event stream.
type RedisBroker struct {
	rdb     *redis.Client
	channel string
	logger  *slog.Logger
}

func NewRedisBroker(url, channel string, logger *slog.Logger) (*RedisBroker, error) {
	opt, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	return NewRedisBrokerFromClient(redis.NewClient(opt), channel, logger), nil
}

func NewRedisBrokerFromClient(rdb *redis.Client, channel string, logger *slog.Logger) *RedisBroker {
	if channel == "" {
		channel = DefaultChannel
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &RedisBroker{rdb: rdb, channel: channel, logger: logger}
}

func (b *RedisBroker) Publish(ctx context.Context, evt Event) error {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	data, err := json.Marshal(evt)
	if err != nil {
		return fmt.Errorf("encode event: %w", err)
	}
	return b.rdb.Publish(ctx, b.channel, data).Err()
}

func (b *RedisBroker) Subscribe(ctx context.Context) (<-chan Event, func(), error) {
	ps := b.rdb.Subscribe(ctx, b.channel)
	// wait for the subscription to be confirmed
	if _, err := ps.Receive(ctx); err != nil {
		_ = ps.Close()
		return nil, nil, fmt.Errorf("subscribe %s: %w", b.channel, err)
	}

	ch := make(chan Event, 16)
	go func() {
		defer close(ch)
		for msg := range ps.Channel() {
			var evt Event
			if err := json.Unmarshal([]byte(msg.Payload), &evt); err != nil {
				b.logger.Warn("dropping malformed plan event", "channel", msg.Channel, "error", err)
				continue
			}
			select {
			case ch <- evt:
			default:
			}
		}
	}()

	var once sync.Once
	cancel := func() { once.Do(func() { _ = ps.Close() }) }
	return ch, cancel, nil
}

func (b *RedisBroker) Close() error { return b.rdb.Close() }
