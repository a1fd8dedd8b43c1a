package dispatcher

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/garyjia/xpensure/internal/domain/event"
)

// ErrClosed is returned by Dispatch after Close
var ErrClosed = errors.New("dispatcher is closed")

// Dispatcher fans committed request events out to subscribers. Request transitions are
// persisted before their events reach it, so a failing subscriber cannot roll one back.
type Dispatcher interface {
	// Subscribe registers handler under name for eventType. Subscribing the same name
	// twice for one event type replaces the earlier handler.
	Subscribe(eventType event.Type, name string, handler Handler)
	Unsubscribe(eventType event.Type, name string)
	// Dispatch runs the subscribers of the event type in subscription order and
	// returns their joined errors.
	Dispatch(ctx context.Context, evt *event.Event) error
	ListHandlers(eventType event.Type) []HandlerInfo
	Stats() Stats
	Close() error
}

// Stats counts deliveries since the dispatcher was created
type Stats struct {
	Delivered uint64
	Failed    uint64
}

// Logger interface for minimal logging dependency
type Logger interface {
	Info(msg string, keysAndValues ...interface{})
	Error(msg string, keysAndValues ...interface{})
}

type requestEventDispatcher struct {
	mu          sync.RWMutex
	subscribers map[event.Type][]HandlerInfo
	logger      Logger
	closed      atomic.Bool
	delivered   atomic.Uint64
	failed      atomic.Uint64
}

// Option configures the dispatcher
type Option func(*requestEventDispatcher)

// WithLogger sets a logger for the dispatcher
func WithLogger(logger Logger) Option {
	return func(d *requestEventDispatcher) {
		d.logger = logger
	}
}

// NewDispatcher creates a synchronous request event dispatcher
func NewDispatcher(opts ...Option) Dispatcher {
	d := &requestEventDispatcher{subscribers: make(map[event.Type][]HandlerInfo)}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

func (d *requestEventDispatcher) Subscribe(eventType event.Type, name string, handler Handler) {
	d.mu.Lock()
	defer d.mu.Unlock()

	info := HandlerInfo{Name: name, EventType: eventType, Handler: handler}
	subs := d.subscribers[eventType]
	for i := range subs {
		if subs[i].Name == name {
			subs[i] = info
			d.logInfo("Subscriber replaced", "event_type", eventType, "subscriber", name)
			return
		}
	}
	d.subscribers[eventType] = append(subs, info)
	d.logInfo("Subscriber registered", "event_type", eventType, "subscriber", name)
}

func (d *requestEventDispatcher) Unsubscribe(eventType event.Type, name string) {
	d.mu.Lock()
	defer d.mu.Unlock()

	subs := d.subscribers[eventType]
	kept := subs[:0:0]
	for _, s := range subs {
		if s.Name != name {
			kept = append(kept, s)
		}
	}
	if len(kept) == 0 {
		delete(d.subscribers, eventType)
		return
	}
	d.subscribers[eventType] = kept
}

func (d *requestEventDispatcher) Dispatch(ctx context.Context, evt *event.Event) error {
	if d.closed.Load() {
		return ErrClosed
	}
	if evt == nil {
		return errors.New("nil event")
	}

	d.mu.RLock()
	subs := append([]HandlerInfo(nil), d.subscribers[evt.Type]...)
	d.mu.RUnlock()

	var errs []error
	for _, sub := range subs {
		if err := deliver(ctx, evt, sub.Handler); err != nil {
			d.failed.Add(1)
			if d.logger != nil {
				d.logger.Error("Subscriber failed",
					"event_type", evt.Type,
					"event_id", evt.ID,
					"request_kind", evt.RequestKind,
					"request_id", evt.RequestID,
					"subscriber", sub.Name,
					"error", err,
				)
			}
			errs = append(errs, fmt.Errorf("subscriber %s: %w", sub.Name, err))
			continue
		}
		d.delivered.Add(1)
	}
	return errors.Join(errs...)
}

func (d *requestEventDispatcher) ListHandlers(eventType event.Type) []HandlerInfo {
	d.mu.RLock()
	defer d.mu.RUnlock()

	subs := d.subscribers[eventType]
	result := make([]HandlerInfo, len(subs))
	for i, s := range subs {
		result[i] = HandlerInfo{Name: s.Name, EventType: s.EventType}
	}
	return result
}

func (d *requestEventDispatcher) Stats() Stats {
	return Stats{Delivered: d.delivered.Load(), Failed: d.failed.Load()}
}

func (d *requestEventDispatcher) Close() error {
	if !d.closed.CompareAndSwap(false, true) {
		return fmt.Errorf("dispatcher already closed")
	}
	stats := d.Stats()
	d.logInfo("Dispatcher closed", "delivered", stats.Delivered, "failed", stats.Failed)
	return nil
}

func (d *requestEventDispatcher) logInfo(msg string, keysAndValues ...interface{}) {
	if d.logger != nil {
		d.logger.Info(msg, keysAndValues...)
	}
}

// deliver converts a subscriber panic into an error
func deliver(ctx context.Context, evt *event.Event, h Handler) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return h(ctx, evt)
}
