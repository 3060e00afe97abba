package dashboard

import (
	"context"

	"github.com/google/uuid"

	"github.com/okian/netvr/pkg/logger"
	"github.com/okian/netvr/pkg/metrics"
)

// Subscriber is one dashboard session. C is closed when the subscriber is
// removed or the hub stops.
type Subscriber struct {
	ID uuid.UUID
	C  <-chan Event

	ch chan Event
}

type direct struct {
	id    uuid.UUID
	event Event
}

// Hub broadcasts events to every subscriber. A subscriber whose buffer is
// full misses events rather than stalling the hub.
type Hub struct {
	broadcast   chan Event
	direct      chan direct
	register    chan *Subscriber
	unregister  chan uuid.UUID
	done        chan struct{}
	subscribers map[uuid.UUID]*Subscriber
	clientBuf   int
	logger      logger.Logger
}

// Option applies a configuration option to the Hub.
type Option func(*Hub)

// WithBroadcastBuffer sizes the shared publish queue.
func WithBroadcastBuffer(size int) Option {
	return func(h *Hub) {
		if size > 0 {
			h.broadcast = make(chan Event, size)
		}
	}
}

// WithClientBuffer sizes each subscriber's queue.
func WithClientBuffer(size int) Option {
	return func(h *Hub) {
		if size > 0 {
			h.clientBuf = size
		}
	}
}

// WithLogger sets the hub's logger.
func WithLogger(l logger.Logger) Option {
	return func(h *Hub) {
		if l != nil {
			h.logger = l
		}
	}
}

// NewHub creates a hub. Run must be called for events to flow.
func NewHub(opts ...Option) *Hub {
	h := &Hub{
		broadcast:   make(chan Event, 256),
		direct:      make(chan direct, 16),
		register:    make(chan *Subscriber),
		unregister:  make(chan uuid.UUID),
		done:        make(chan struct{}),
		subscribers: make(map[uuid.UUID]*Subscriber),
		clientBuf:   64,
		logger:      logger.Get().Named("dashboard"),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Run delivers events until ctx is done, then closes every subscriber.
func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)
	for {
		select {
		case <-ctx.Done():
			for id, s := range h.subscribers {
				close(s.ch)
				delete(h.subscribers, id)
			}
			metrics.UpdateDashboardSubscribers(0)
			return
		case s := <-h.register:
			h.subscribers[s.ID] = s
			metrics.UpdateDashboardSubscribers(len(h.subscribers))
			h.logger.Debug(ctx, "dashboard subscribed", logger.String("subscriber", s.ID.String()))
		case id := <-h.unregister:
			if s, ok := h.subscribers[id]; ok {
				delete(h.subscribers, id)
				close(s.ch)
				metrics.UpdateDashboardSubscribers(len(h.subscribers))
			}
		case d := <-h.direct:
			if s, ok := h.subscribers[d.id]; ok {
				h.deliver(ctx, s, d.event)
			}
		case e := <-h.broadcast:
			for _, s := range h.subscribers {
				h.deliver(ctx, s, e)
			}
		}
	}
}

func (h *Hub) deliver(ctx context.Context, s *Subscriber, e Event) {
	select {
	case s.ch <- e:
	default:
		h.logger.Debug(ctx, "dashboard subscriber lagging",
			logger.String("subscriber", s.ID.String()), logger.String("type", e.Type))
	}
}

// Subscribe registers a new subscriber. It returns nil once the hub has stopped.
func (h *Hub) Subscribe() *Subscriber {
	ch := make(chan Event, h.clientBuf)
	s := &Subscriber{ID: uuid.New(), C: ch, ch: ch}
	select {
	case h.register <- s:
		return s
	case <-h.done:
		return nil
	}
}

// Unsubscribe removes id. Unknown ids are ignored.
func (h *Hub) Unsubscribe(id uuid.UUID) {
	select {
	case h.unregister <- id:
	case <-h.done:
	}
}

// Publish queues e for every subscriber. It never blocks; events published
// while the queue is full are dropped.
func (h *Hub) Publish(e Event) {
	select {
	case h.broadcast <- e:
	default:
		h.logger.Warn(context.Background(), "dashboard queue full, event dropped", logger.String("type", e.Type))
	}
}

// Send queues e for one subscriber only.
func (h *Hub) Send(id uuid.UUID, e Event) {
	select {
	case h.direct <- direct{id: id, event: e}:
	case <-h.done:
	}
}
