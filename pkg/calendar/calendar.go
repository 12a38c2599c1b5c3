// Package calendar implements the simulator's event calendar: a min-heap of
// (time, seq) ordered events that the driver pops one at a time to advance
// the simulated clock. Ties at the same simulated time are broken by
// insertion order (seq), so simultaneous events fire in the order they were
// scheduled.
package calendar

import (
	"container/heap"

	"github.com/cuemby/schedulus/pkg/simtypes"
)

// EventID identifies a scheduled event. The core never cancels events
// (handlers ignore stale state instead), but the id is returned anyway so
// callers can log it.
type EventID uint64

// Calendar is a min-heap of simtypes.Event ordered by (Time, Seq).
type Calendar struct {
	heap eventHeap
	seq  uint64
	now  int64
}

// New returns an empty calendar. now() reads 0 until the first event is
// popped or SetNow is called to seed the initial simulated time.
func New() *Calendar {
	c := &Calendar{heap: make(eventHeap, 0)}
	heap.Init(&c.heap)
	return c
}

// SetNow seeds the simulated clock before any event has been popped — used
// by the driver to set now to the earliest SUBMIT time in the trace.
func (c *Calendar) SetNow(t int64) {
	c.now = t
}

// Now returns the time of the last popped event (or the seeded initial
// time if nothing has been popped yet).
func (c *Calendar) Now() int64 {
	return c.now
}

// Schedule inserts an event at the given time and returns its id. seq is
// assigned here, monotonically, guaranteeing FIFO order among events
// inserted at the same time.
func (c *Calendar) Schedule(time int64, kind simtypes.EventKind, jobID int64) EventID {
	seq := c.NextSeq()
	heap.Push(&c.heap, simtypes.Event{
		Time:  time,
		Seq:   seq,
		Kind:  kind,
		JobID: jobID,
	})
	return EventID(seq)
}

// NextSeq consumes and returns the next insertion sequence number. The
// driver uses it to stamp zero-delay events it dispatches without going
// through the heap, keeping one monotonic insertion order across both
// paths.
func (c *Calendar) NextSeq() uint64 {
	seq := c.seq
	c.seq++
	return seq
}

// Len reports how many events remain on the calendar.
func (c *Calendar) Len() int {
	return c.heap.Len()
}

// Empty reports whether the calendar has been fully drained.
func (c *Calendar) Empty() bool {
	return c.heap.Len() == 0
}

// Pop removes and returns the earliest event, advancing Now() to its time.
// The zero value and ok=false are returned once the calendar is empty.
func (c *Calendar) Pop() (simtypes.Event, bool) {
	if c.heap.Len() == 0 {
		return simtypes.Event{}, false
	}
	ev := heap.Pop(&c.heap).(simtypes.Event)
	c.now = ev.Time
	return ev, true
}

// Peek returns the earliest event without removing it.
func (c *Calendar) Peek() (simtypes.Event, bool) {
	if c.heap.Len() == 0 {
		return simtypes.Event{}, false
	}
	return c.heap[0], true
}

// eventHeap implements heap.Interface over simtypes.Event, ordered by
// (Time, Seq) so simultaneous events come out in insertion order.
type eventHeap []simtypes.Event

func (h eventHeap) Len() int { return len(h) }

func (h eventHeap) Less(i, j int) bool {
	if h[i].Time != h[j].Time {
		return h[i].Time < h[j].Time
	}
	return h[i].Seq < h[j].Seq
}

func (h eventHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }

func (h *eventHeap) Push(x any) {
	*h = append(*h, x.(simtypes.Event))
}

func (h *eventHeap) Pop() any {
	old := *h
	n := len(old)
	ev := old[n-1]
	*h = old[:n-1]
	return ev
}
