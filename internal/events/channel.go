package events

import (
	"context"
	"fmt"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/citewatch/citewatch/internal/metrics"
)

const channelBufferSize = 256

// ChannelBus is the in-process transport used when no Redis address is
// configured. Handler failures are logged and the event dropped; the next
// scheduled cycle re-detects and re-alerts, which keeps the at-least-once
// contract across cycles rather than within one.
type ChannelBus struct {
	ch     chan Event
	done   chan struct{}
	closed sync.Once
}

var _ Bus = (*ChannelBus)(nil)

// NewChannelBus creates the in-process bus.
func NewChannelBus() *ChannelBus {
	return &ChannelBus{
		ch:   make(chan Event, channelBufferSize),
		done: make(chan struct{}),
	}
}

// Publish enqueues the event for the subscriber.
func (b *ChannelBus) Publish(ctx context.Context, ev Event) error {
	ev = stamp(ev)

	select {
	case b.ch <- ev:
		metrics.EventsPublishedTotal.WithLabelValues(string(ev.Type)).Inc()
		return nil
	case <-b.done:
		return fmt.Errorf("publish %s: bus closed", ev.Type)
	case <-ctx.Done():
		return fmt.Errorf("publish %s: %w", ev.Type, ctx.Err())
	}
}

// Subscribe starts the single consumer goroutine.
func (b *ChannelBus) Subscribe(ctx context.Context, handler Handler) error {
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case <-b.done:
				return
			case ev := <-b.ch:
				if err := handler(ctx, ev); err != nil {
					logrus.Errorf("Event handler failed for %s (site %d): %v", ev.Type, ev.SiteID, err)
				}
			}
		}
	}()

	return nil
}

// Close stops the bus. Pending events are dropped.
func (b *ChannelBus) Close() error {
	b.closed.Do(func() { close(b.done) })
	return nil
}
