package simstore

import (
	"github.com/cuemby/schedulus/pkg/simtypes"
)

// EventSink adapts a Store into an eventlog.Sink (by structural typing,
// not an import — simstore stays a leaf package) so the run's event
// history is persisted synchronously, in dispatch order, alongside the
// CSV log rather than through the broker's best-effort subscriber feed.
type EventSink struct {
	store *Store
	runID string
	count int
}

// NewEventSink returns a Sink that persists every event it records under
// runID in store.
func NewEventSink(store *Store, runID string) *EventSink {
	return &EventSink{store: store, runID: runID}
}

// Record persists ev and satisfies eventlog.Sink. The stored sequence is
// this sink's own dispatch ordinal, not the event's calendar insertion
// seq — zero-delay follow-ons dispatch ahead of same-time events that
// were inserted earlier, so insertion order and dispatch order differ.
func (s *EventSink) Record(ev simtypes.Event) error {
	if err := s.store.PutEvent(&StoredEvent{
		RunID: s.runID,
		Seq:   uint64(s.count),
		Time:  ev.Time,
		Kind:  ev.Kind.String(),
		JobID: ev.JobID,
	}); err != nil {
		return err
	}
	s.count++
	return nil
}

// Count returns how many events this sink has persisted so far.
func (s *EventSink) Count() int {
	return s.count
}
