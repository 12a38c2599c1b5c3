/*
Package eventlog fans out every dispatched simulation event to its
synchronous sinks (the CSV file, the bbolt run store) and to any live
subscribers (a TUI, a plotting tool): a channel-based pub/sub with a
per-subscriber buffered channel that drops rather than blocks when full.

Sinks record synchronously inside Publish, not on the background
dispatch goroutine. The event log must come out in dispatch order and a
completed run must be replayable from storage exactly as it was written
to the CSV — a buffered channel hop would let a sink silently drop or
reorder events during a burst. Live subscribers still get an async,
best-effort feed; nothing durable is ever fed through it.
*/
package eventlog

import (
	"sync"

	"github.com/cuemby/schedulus/pkg/simtypes"
)

// Subscriber is a channel that receives dispatched events, best-effort.
type Subscriber chan simtypes.Event

// Sink records an event synchronously, in dispatch order. CSVWriter and
// simstore.EventSink both implement this.
type Sink interface {
	Record(ev simtypes.Event) error
}

// Broker publishes dispatched events to one or more synchronous Sinks and
// to any number of optional live Subscribers.
type Broker struct {
	sinks []Sink

	mu          sync.RWMutex
	subscribers map[Subscriber]struct{}
	eventCh     chan simtypes.Event
	stopCh      chan struct{}
	doneCh      chan struct{}
	stopOnce    sync.Once
}

// NewBroker creates a Broker that records to sink and starts its
// subscriber fan-out goroutine. Additional synchronous sinks (e.g. a
// storage-backed one) can be attached with AddSink before Publish is
// ever called.
func NewBroker(sink Sink) *Broker {
	b := &Broker{
		sinks:       []Sink{sink},
		subscribers: make(map[Subscriber]struct{}),
		eventCh:     make(chan simtypes.Event, 256),
		stopCh:      make(chan struct{}),
		doneCh:      make(chan struct{}),
	}
	go b.run()
	return b
}

// AddSink registers an additional synchronous sink. It must be called
// before the first Publish — the simulation loop is single-threaded, but
// Publish itself is not safe to race against a concurrent AddSink.
func (b *Broker) AddSink(sink Sink) {
	b.sinks = append(b.sinks, sink)
}

// Stop halts the fan-out goroutine and closes every subscriber channel.
// It waits for the goroutine to exit first so no broadcast can race a
// channel close.
func (b *Broker) Stop() {
	b.stopOnce.Do(func() {
		close(b.stopCh)
		<-b.doneCh

		b.mu.Lock()
		defer b.mu.Unlock()
		for sub := range b.subscribers {
			delete(b.subscribers, sub)
			close(sub)
		}
	})
}

// Subscribe registers a new live subscriber.
func (b *Broker) Subscribe() Subscriber {
	b.mu.Lock()
	defer b.mu.Unlock()

	sub := make(Subscriber, 64)
	b.subscribers[sub] = struct{}{}
	return sub
}

// Unsubscribe removes and closes a subscriber channel.
func (b *Broker) Unsubscribe(sub Subscriber) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if _, ok := b.subscribers[sub]; ok {
		delete(b.subscribers, sub)
		close(sub)
	}
}

// Publish records ev to every registered sink synchronously, then queues
// it for best-effort delivery to live subscribers.
func (b *Broker) Publish(ev simtypes.Event) error {
	for _, sink := range b.sinks {
		if err := sink.Record(ev); err != nil {
			return err
		}
	}

	select {
	case b.eventCh <- ev:
	case <-b.stopCh:
	default:
		// Fan-out is saturated; the authoritative record (the sink) is
		// already durable, so a dropped live-subscriber notification is
		// never a correctness issue.
	}
	return nil
}

func (b *Broker) run() {
	defer close(b.doneCh)
	for {
		select {
		case ev := <-b.eventCh:
			b.broadcast(ev)
		case <-b.stopCh:
			return
		}
	}
}

func (b *Broker) broadcast(ev simtypes.Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	for sub := range b.subscribers {
		select {
		case sub <- ev:
		default:
		}
	}
}
