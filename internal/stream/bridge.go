package stream

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/aspire/market-engine/internal/metrics"
)

// Bus is a shared pub/sub transport between server processes.
type Bus interface {
	Publish(ctx context.Context, channel string, payload []byte) error
	// Subscribe delivers payloads from channels until ctx is cancelled or
	// the subscription breaks, then closes the returned channel.
	Subscribe(ctx context.Context, channels ...string) (<-chan []byte, error)
}

// Bridge is where the simulator, trade engine and shock processor hand
// over events. Notify never blocks: events go onto one ordered queue that
// a dispatch goroutine drains into the local hub. With a bus, dispatched
// events are handed to a separate ordered outbox drained by a publisher
// goroutine, so a stalled bus never delays local clients.
type Bridge struct {
	hub    *Hub
	bus    Bus
	log    *zap.Logger
	origin string
	queue  chan Message
	outbox chan Message

	publishTimeout time.Duration
	resubscribe    time.Duration
}

// BridgeOption tunes a Bridge.
type BridgeOption func(*Bridge)

// WithQueueSize sets the capacity of the dispatch queue and of the bus outbox.
func WithQueueSize(n int) BridgeOption {
	return func(b *Bridge) {
		if n > 0 {
			b.queue = make(chan Message, n)
			b.outbox = make(chan Message, n)
		}
	}
}

// WithPublishTimeout bounds a single bus publish.
func WithPublishTimeout(d time.Duration) BridgeOption {
	return func(b *Bridge) {
		if d > 0 {
			b.publishTimeout = d
		}
	}
}

// WithResubscribeDelay sets the wait before retrying a broken bus subscription.
func WithResubscribeDelay(d time.Duration) BridgeOption {
	return func(b *Bridge) { b.resubscribe = d }
}

// NewBridge creates a bridge. bus may be nil for a single-process deployment.
func NewBridge(hub *Hub, bus Bus, log *zap.Logger, opts ...BridgeOption) *Bridge {
	b := &Bridge{
		hub:            hub,
		bus:            bus,
		log:            log,
		origin:         uuid.NewString(),
		queue:          make(chan Message, 1024),
		outbox:         make(chan Message, 1024),
		publishTimeout: 2 * time.Second,
		resubscribe:    5 * time.Second,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Origin returns this process's bus identity.
func (b *Bridge) Origin() string { return b.origin }

// Notify queues events for fan-out in the given order. When the queue is
// full the event is dropped and logged; the caller is never blocked.
func (b *Bridge) Notify(events ...Event) {
	now := time.Now().UTC()
	for _, ev := range events {
		m := Message{Event: ev, Timestamp: now, Origin: b.origin}
		select {
		case b.queue <- m:
		default:
			metrics.EventsDropped.WithLabelValues("queue_full").Inc()
			b.log.Warn("fan-out queue full, dropping event", zap.String("type", string(ev.Kind())))
		}
	}
}

// Run dispatches queued events and, with a bus, publishes them and relays
// inbound bus messages to local clients. It returns when ctx is cancelled.
func (b *Bridge) Run(ctx context.Context) {
	if b.bus != nil {
		go b.relay(ctx)
		go b.publishLoop(ctx)
	}
	for {
		select {
		case <-ctx.Done():
			return
		case m := <-b.queue:
			b.dispatch(m)
		}
	}
}

func (b *Bridge) dispatch(m Message) {
	b.hub.Deliver(m)
	metrics.EventsDispatched.WithLabelValues(string(m.Event.Kind()), "local").Inc()

	if b.bus == nil {
		return
	}
	if _, ok := Channel(m.Event.Kind()); !ok {
		return
	}
	select {
	case b.outbox <- m:
	default:
		metrics.EventsDropped.WithLabelValues("bus_outbox_full").Inc()
		b.log.Warn("bus outbox full, dropping event", zap.String("type", string(m.Event.Kind())))
	}
}

// publishLoop drains the outbox onto the bus in dispatch order.
func (b *Bridge) publishLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case m := <-b.outbox:
			b.publish(ctx, m)
		}
	}
}

func (b *Bridge) publish(ctx context.Context, m Message) {
	ch, _ := Channel(m.Event.Kind())
	payload, err := EncodeBus(m)
	if err != nil {
		b.log.Error("failed to encode bus message", zap.Error(err))
		return
	}
	pctx, cancel := context.WithTimeout(ctx, b.publishTimeout)
	defer cancel()
	if err := b.bus.Publish(pctx, ch, payload); err != nil {
		metrics.BusFailures.WithLabelValues("publish").Inc()
		b.log.Warn("bus publish failed", zap.String("channel", ch), zap.Error(err))
	}
}

// relay keeps a bus subscription alive and feeds foreign events to the hub.
func (b *Bridge) relay(ctx context.Context) {
	for {
		in, err := b.bus.Subscribe(ctx, Channels()...)
		if err != nil {
			metrics.BusFailures.WithLabelValues("subscribe").Inc()
			b.log.Warn("bus subscribe failed", zap.Error(err))
		} else {
			b.log.Info("subscribed to bus channels", zap.Strings("channels", Channels()))
			for payload := range in {
				b.receive(payload)
			}
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(b.resubscribe):
		}
	}
}

func (b *Bridge) receive(payload []byte) {
	m, err := Decode(payload)
	if err != nil {
		metrics.BusFailures.WithLabelValues("decode").Inc()
		b.log.Warn("discarding malformed bus message", zap.Error(err))
		return
	}
	if m.Origin == b.origin {
		return
	}
	b.hub.Deliver(m)
	metrics.EventsDispatched.WithLabelValues(string(m.Event.Kind()), "bus").Inc()
}
