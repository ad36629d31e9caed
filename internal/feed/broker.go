package feed

import (
	"context"
	"sync"
	"time"

	"locatr/internal/config"
	"locatr/internal/domain"
	"locatr/internal/metrics"
	"locatr/internal/repository"
	"locatr/pkg/log"

	"k8s.io/utils/clock"
)

// Source opens the store's insert-event stream.
type Source interface {
	SubscribeInserts(ctx context.Context) (repository.InsertStream, error)
}

// Broker holds the single insert listener of the process and fans each
// event out to every open Subscription. Events are not filtered here;
// subscribers compare device identifiers themselves.
type Broker struct {
	source         Source
	clock          clock.Clock
	reconnectDelay time.Duration
	bufferSize     int
	logger         log.Logger

	subsMutex sync.RWMutex
	subs      map[uint64]*Subscription
	nextID    uint64

	connected chan struct{}
	connOnce  sync.Once
}

type Option func(*Broker)

func WithClock(c clock.Clock) Option {
	return func(b *Broker) { b.clock = c }
}

func NewBroker(source Source, cfg config.FeedConfig, logger log.Logger, opts ...Option) *Broker {
	if logger == nil {
		logger = log.NewNopLogger()
	}
	b := &Broker{
		source:         source,
		clock:          clock.RealClock{},
		reconnectDelay: cfg.ReconnectDelay,
		bufferSize:     cfg.SubscriberBuffer,
		logger:         logger.WithName("feed"),
		subs:           make(map[uint64]*Subscription),
		connected:      make(chan struct{}),
	}
	if b.reconnectDelay <= 0 {
		b.reconnectDelay = 5 * time.Second
	}
	if b.bufferSize <= 0 {
		b.bufferSize = 64
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Run listens on the store until ctx is done, reopening the stream after
// reconnectDelay whenever it fails or ends. Open subscriptions survive
// reconnects.
func (b *Broker) Run(ctx context.Context) error {
	for {
		err := b.listen(ctx)
		if ctx.Err() != nil {
			b.closeAll()
			return nil
		}

		metrics.FeedReconnects.Inc()
		if err != nil {
			b.logger.Error(err, "Insert feed lost, reconnecting", "delay", b.reconnectDelay)
		} else {
			b.logger.Warn("Insert feed ended, reconnecting", "delay", b.reconnectDelay)
		}

		select {
		case <-ctx.Done():
			b.closeAll()
			return nil
		case <-b.clock.After(b.reconnectDelay):
		}
	}
}

// Connected is closed once the first stream has been opened.
func (b *Broker) Connected() <-chan struct{} {
	return b.connected
}

func (b *Broker) listen(ctx context.Context) error {
	stream, err := b.source.SubscribeInserts(ctx)
	if err != nil {
		return err
	}
	defer stream.Close()

	b.connOnce.Do(func() { close(b.connected) })
	b.logger.Info("Subscribed to location inserts")

	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-stream.Events():
			if !ok {
				return stream.Err()
			}
			b.dispatch(event)
		}
	}
}

func (b *Broker) dispatch(event domain.InsertEvent) {
	if event.Table != "" && event.Table != domain.LocationsTable {
		return
	}

	b.subsMutex.RLock()
	defer b.subsMutex.RUnlock()

	for id, sub := range b.subs {
		select {
		case sub.ch <- event:
			metrics.FeedEvents.WithLabelValues("delivered").Inc()
		default:
			metrics.FeedEvents.WithLabelValues("dropped").Inc()
			b.logger.Warn("Subscriber buffer full, dropping event", "subscription", id, "device_id", event.Sample.DeviceID)
		}
	}
}

// Subscribe opens a scoped listener. Callers must Close it when the view
// that owns it goes away.
func (b *Broker) Subscribe() *Subscription {
	b.subsMutex.Lock()
	defer b.subsMutex.Unlock()

	b.nextID++
	sub := &Subscription{
		id:     b.nextID,
		ch:     make(chan domain.InsertEvent, b.bufferSize),
		broker: b,
	}
	b.subs[sub.id] = sub
	return sub
}

// Subscribers returns the number of open subscriptions.
func (b *Broker) Subscribers() int {
	b.subsMutex.RLock()
	defer b.subsMutex.RUnlock()
	return len(b.subs)
}

func (b *Broker) remove(sub *Subscription) {
	b.subsMutex.Lock()
	defer b.subsMutex.Unlock()

	if _, ok := b.subs[sub.id]; ok {
		delete(b.subs, sub.id)
		close(sub.ch)
	}
}

func (b *Broker) closeAll() {
	b.subsMutex.Lock()
	defer b.subsMutex.Unlock()

	for id, sub := range b.subs {
		delete(b.subs, id)
		close(sub.ch)
	}
}

// Subscription receives every insert event seen after it was opened.
type Subscription struct {
	id     uint64
	ch     chan domain.InsertEvent
	broker *Broker
	once   sync.Once
}

// Events is closed when the subscription or the broker is closed.
func (s *Subscription) Events() <-chan domain.InsertEvent {
	return s.ch
}

func (s *Subscription) Close() {
	s.once.Do(func() {
		s.broker.remove(s)
	})
}
