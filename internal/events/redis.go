package events

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/citewatch/citewatch/internal/metrics"
)

const (
	// ConsumerGroup is the dispatcher's consumer group on the stream.
	ConsumerGroup = "citewatch-dispatch"

	readBlock = 5 * time.Second
	readBatch = 10
)

// RedisBus is the Redis Streams transport. Events are XAdd'ed to one stream
// and consumed through a consumer group; an event is acknowledged only after
// the handler succeeds, so a crashed dispatcher redelivers (at-least-once).
type RedisBus struct {
	client     *redis.Client
	stream     string
	consumerID string
	done       chan struct{}
}

var _ Bus = (*RedisBus)(nil)

// NewRedisBus connects to Redis and verifies the connection.
func NewRedisBus(addr, password, stream string) (*RedisBus, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}

	return &RedisBus{
		client:     client,
		stream:     stream,
		consumerID: fmt.Sprintf("dispatch-%s", uuid.New().String()[:8]),
		done:       make(chan struct{}),
	}, nil
}

// Publish appends the event to the stream.
func (b *RedisBus) Publish(ctx context.Context, ev Event) error {
	ev = stamp(ev)

	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	err = b.client.XAdd(ctx, &redis.XAddArgs{
		Stream: b.stream,
		Values: map[string]any{"event": string(payload)},
	}).Err()
	if err != nil {
		return fmt.Errorf("publish to stream: %w", err)
	}

	metrics.EventsPublishedTotal.WithLabelValues(string(ev.Type)).Inc()
	return nil
}

// Subscribe creates the consumer group and starts the read loop.
func (b *RedisBus) Subscribe(ctx context.Context, handler Handler) error {
	err := b.client.XGroupCreateMkStream(ctx, b.stream, ConsumerGroup, "0").Err()
	if err != nil && !strings.Contains(err.Error(), "BUSYGROUP") {
		return fmt.Errorf("create consumer group: %w", err)
	}

	logrus.Infof("Event consumer %s joined group %s on stream %s", b.consumerID, ConsumerGroup, b.stream)

	go b.consumeLoop(ctx, handler)
	return nil
}

func (b *RedisBus) consumeLoop(ctx context.Context, handler Handler) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-b.done:
			return
		default:
		}

		streams, err := b.client.XReadGroup(ctx, &redis.XReadGroupArgs{
			Group:    ConsumerGroup,
			Consumer: b.consumerID,
			Streams:  []string{b.stream, ">"},
			Count:    readBatch,
			Block:    readBlock,
		}).Result()

		if err == redis.Nil {
			continue
		}
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			logrus.Errorf("Event stream read failed: %v", err)
			time.Sleep(time.Second)
			continue
		}

		for _, stream := range streams {
			for _, msg := range stream.Messages {
				b.process(ctx, handler, msg)
			}
		}
	}
}

// process handles one stream entry. The entry stays pending on handler
// failure and is redelivered to a future consumer.
func (b *RedisBus) process(ctx context.Context, handler Handler, msg redis.XMessage) {
	raw, ok := msg.Values["event"].(string)
	if !ok {
		logrus.Errorf("Dropping malformed stream entry %s", msg.ID)
		b.client.XAck(ctx, b.stream, ConsumerGroup, msg.ID)
		return
	}

	var ev Event
	if err := json.Unmarshal([]byte(raw), &ev); err != nil {
		logrus.Errorf("Dropping undecodable stream entry %s: %v", msg.ID, err)
		b.client.XAck(ctx, b.stream, ConsumerGroup, msg.ID)
		return
	}

	if err := handler(ctx, ev); err != nil {
		logrus.Errorf("Event handler failed for %s (site %d), leaving %s pending: %v", ev.Type, ev.SiteID, msg.ID, err)
		return
	}

	if err := b.client.XAck(ctx, b.stream, ConsumerGroup, msg.ID).Err(); err != nil {
		logrus.Errorf("Failed to ack stream entry %s: %v", msg.ID, err)
	}
}

// Close stops the consumer and closes the connection.
func (b *RedisBus) Close() error {
	close(b.done)
	return b.client.Close()
}
