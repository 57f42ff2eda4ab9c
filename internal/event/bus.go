package event

import (
	"context"
	"reflect"
	"sync"
	"sync/atomic"

	"orchestra/internal/buffer"
	"orchestra/internal/logging"
	"orchestra/internal/metrics"
)

const defaultSubscriberBufferSize = 128

const (
	metricEventsPublished = "events_published_total"
	metricEventsDropped   = "events_dropped_total"
	metricSubscribers     = "event_subscribers"
)

// Publisher is the narrow side of a bus that producers depend on.
type Publisher[T any] interface {
	Publish(event T)
}

type BusOptions struct {
	Name                 string
	SubscriberBufferSize int
	MaxSubscribers       int
	HistorySize          int
	Metrics              metrics.Collector
	Logger               *logging.Logger
}

// Bus fans events out to subscribers without blocking the publisher. A
// subscriber whose channel is full misses the event and the drop is counted.
type Bus[T any] struct {
	mu          sync.Mutex
	subscribers map[uint64]subscription[T]
	nextSubID   uint64
	closed      bool
	closeOnce   sync.Once
	options     BusOptions
	metrics     metrics.Collector
	published   atomic.Int64
	dropped     atomic.Int64
	history     *buffer.Ring[T]
}

type subscription[T any] struct {
	ch     chan T
	filter func(T) bool
}

type typedEvent interface {
	Type() string
}

func NewBus[T any](ctx context.Context, opts BusOptions) *Bus[T] {
	if ctx == nil {
		ctx = context.Background()
	}
	if opts.SubscriberBufferSize <= 0 {
		opts.SubscriberBufferSize = defaultSubscriberBufferSize
	}
	if opts.Name == "" {
		opts.Name = "event_bus"
	}
	bus := &Bus[T]{
		subscribers: make(map[uint64]subscription[T]),
		options:     opts,
		metrics:     metrics.OrNop(opts.Metrics),
	}
	if opts.HistorySize > 0 {
		bus.history = buffer.NewRing[T](opts.HistorySize)
	}
	if done := ctx.Done(); done != nil {
		go func() {
			<-done
			bus.Close()
		}()
	}
	return bus
}

func (b *Bus[T]) Subscribe() (<-chan T, func()) {
	return b.SubscribeFiltered(nil)
}

// SubscribeTypes delivers only events whose Type matches one of eventTypes.
func (b *Bus[T]) SubscribeTypes(eventTypes ...string) (<-chan T, func()) {
	typeSet := make(map[string]struct{}, len(eventTypes))
	for _, eventType := range eventTypes {
		if eventType != "" {
			typeSet[eventType] = struct{}{}
		}
	}
	if len(typeSet) == 0 {
		ch := make(chan T)
		close(ch)
		return ch, func() {}
	}
	return b.SubscribeFiltered(func(event T) bool {
		typed, ok := any(event).(typedEvent)
		if !ok {
			return false
		}
		_, matched := typeSet[typed.Type()]
		return matched
	})
}

func (b *Bus[T]) SubscribeFiltered(filter func(T) bool) (<-chan T, func()) {
	if b == nil {
		ch := make(chan T)
		close(ch)
		return ch, func() {}
	}

	ch := make(chan T, b.options.SubscriberBufferSize)

	b.mu.Lock()
	if b.closed || (b.options.MaxSubscribers > 0 && len(b.subscribers) >= b.options.MaxSubscribers) {
		b.mu.Unlock()
		close(ch)
		return ch, func() {}
	}
	b.nextSubID++
	id := b.nextSubID
	b.subscribers[id] = subscription[T]{ch: ch, filter: filter}
	count := len(b.subscribers)
	b.mu.Unlock()

	b.metrics.RecordGauge(metricSubscribers, float64(count), map[string]string{"bus": b.options.Name})
	return ch, func() {
		b.removeSubscriber(id)
	}
}

// Publish delivers under the bus lock so a concurrent cancel never closes a
// channel mid-send.
func (b *Bus[T]) Publish(event T) {
	if b == nil || isNil(event) {
		return
	}

	eventType := eventTypeOf(event)
	dropped := 0

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	if b.history != nil {
		b.history.Add(event)
	}
	for _, sub := range b.subscribers {
		if sub.filter != nil && !sub.filter(event) {
			continue
		}
		select {
		case sub.ch <- event:
		default:
			dropped++
		}
	}
	b.mu.Unlock()

	b.published.Add(1)
	b.metrics.IncrementCounter(metricEventsPublished, 1, map[string]string{"bus": b.options.Name, "type": eventType})
	if dropped > 0 {
		b.dropped.Add(int64(dropped))
		b.metrics.IncrementCounter(metricEventsDropped, float64(dropped), map[string]string{"bus": b.options.Name, "type": eventType})
		b.options.Logger.Debug("event dropped for slow subscriber", map[string]string{
			"bus":  b.options.Name,
			"type": eventType,
		})
	}
}

func (b *Bus[T]) Close() {
	if b == nil {
		return
	}
	b.closeOnce.Do(func() {
		b.mu.Lock()
		b.closed = true
		subscribers := b.subscribers
		b.subscribers = make(map[uint64]subscription[T])
		for _, sub := range subscribers {
			close(sub.ch)
		}
		b.mu.Unlock()
		b.metrics.RecordGauge(metricSubscribers, 0, map[string]string{"bus": b.options.Name})
	})
}

// History returns retained events oldest first.
func (b *Bus[T]) History() []T {
	if b == nil {
		return nil
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.history.List()
}

func (b *Bus[T]) SubscriberCount() int {
	if b == nil {
		return 0
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subscribers)
}

// Stats returns the number of published events and dropped deliveries.
func (b *Bus[T]) Stats() (published, dropped int64) {
	if b == nil {
		return 0, 0
	}
	return b.published.Load(), b.dropped.Load()
}

func (b *Bus[T]) removeSubscriber(id uint64) {
	b.mu.Lock()
	existing, ok := b.subscribers[id]
	if ok {
		delete(b.subscribers, id)
		close(existing.ch)
	}
	count := len(b.subscribers)
	b.mu.Unlock()

	if ok {
		b.metrics.RecordGauge(metricSubscribers, float64(count), map[string]string{"bus": b.options.Name})
	}
}

func eventTypeOf(event any) string {
	typed, ok := event.(typedEvent)
	if !ok || typed.Type() == "" {
		return "unknown"
	}
	return typed.Type()
}

func isNil[T any](value T) bool {
	kind := reflect.ValueOf(value)
	if !kind.IsValid() {
		return true
	}
	switch kind.Kind() {
	case reflect.Chan, reflect.Func, reflect.Map, reflect.Pointer, reflect.Interface, reflect.Slice:
		return kind.IsNil()
	default:
		return false
	}
}
