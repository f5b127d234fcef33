package realtime

import (
	"sync"

	"github.com/radiusdt/leadgen-analytics/internal/metrics"
	"go.uber.org/zap"
)

const subscriberBuffer = 64

type subscriber struct {
	ch     chan Event
	tables map[string]struct{}
}

func (s *subscriber) wants(table string) bool {
	if len(s.tables) == 0 {
		return true
	}
	_, ok := s.tables[table]
	return ok
}

// Hub is an in-process pub/sub for change events.  Publish never blocks:
// a subscriber whose buffer is full misses the event.
type Hub struct {
	mu      sync.RWMutex
	subs    map[*subscriber]struct{}
	closed  bool
	logger  *zap.Logger
	metrics *metrics.Metrics
}

// NewHub creates an empty hub.  m may be nil.
func NewHub(logger *zap.Logger, m *metrics.Metrics) *Hub {
	return &Hub{
		subs:    make(map[*subscriber]struct{}),
		logger:  logger,
		metrics: m,
	}
}

// Subscribe registers for events on the given tables (all tables when none
// are given).  The returned cancel func closes the channel.
func (h *Hub) Subscribe(tables ...string) (<-chan Event, func()) {
	sub := &subscriber{ch: make(chan Event, subscriberBuffer), tables: make(map[string]struct{}, len(tables))}
	for _, t := range tables {
		sub.tables[t] = struct{}{}
	}

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		close(sub.ch)
		return sub.ch, func() {}
	}
	h.subs[sub] = struct{}{}
	h.mu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			h.mu.Lock()
			if _, ok := h.subs[sub]; ok {
				delete(h.subs, sub)
				close(sub.ch)
			}
			h.mu.Unlock()
		})
	}
	return sub.ch, cancel
}

// Publish delivers ev to every interested subscriber.
func (h *Hub) Publish(ev Event) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if h.closed {
		return
	}
	if h.metrics != nil {
		h.metrics.RecordChangeEvent(ev.Table, string(ev.Type))
	}
	for sub := range h.subs {
		if !sub.wants(ev.Table) {
			continue
		}
		select {
		case sub.ch <- ev:
		default:
			h.logger.Warn("dropping change event for slow subscriber",
				zap.String("table", ev.Table),
				zap.String("id", ev.ID),
			)
		}
	}
}

// Close closes every subscriber channel.  Later subscriptions get a closed
// channel.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	h.closed = true
	for sub := range h.subs {
		close(sub.ch)
		delete(h.subs, sub)
	}
}

// Subscribers returns the current subscriber count.
func (h *Hub) Subscribers() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}
