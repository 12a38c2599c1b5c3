/*
Package simdriver owns the simulation loop: it reads a job trace and
system config, primes the event calendar with SUBMIT events, and then
steps or runs the calendar to completion, dispatching each popped event
to the scheduler. It is the one place that wires allocator, scheduler,
calendar and event log together; every component below it receives its
collaborators at construction and holds no process-wide state.

A step is one popped calendar event plus its complete zero-delay
cascade: when a scheduling cycle posts a START (or an END for a
zero-runtime job) at the current instant, that follow-on dispatches
within the same step, ahead of any event already sitting on the
calendar at the same time. A cycle's effects therefore land before the
next trace row at the same instant is even considered, which is what
lets a job freed at time t be restarted at time t in one step.
*/
package simdriver

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/cuemby/schedulus/pkg/allocator"
	"github.com/cuemby/schedulus/pkg/calendar"
	"github.com/cuemby/schedulus/pkg/eventlog"
	"github.com/cuemby/schedulus/pkg/scheduler"
	"github.com/cuemby/schedulus/pkg/simconfig"
	"github.com/cuemby/schedulus/pkg/simmetrics"
	"github.com/cuemby/schedulus/pkg/simrand"
	"github.com/cuemby/schedulus/pkg/simtrace"
	"github.com/cuemby/schedulus/pkg/simtypes"
	"github.com/rs/zerolog"
)

// ContractViolation is returned for fatal misuse of the simulation
// contract rather than ordinary errors: a job requesting more resources
// than exist, or an event referencing a job the driver never read from
// the trace.
type ContractViolation struct {
	Msg string
}

func (e *ContractViolation) Error() string { return "simdriver: contract violation: " + e.Msg }

// InvariantViolation is returned when scheduler/allocator state has
// diverged from what the driver expects — always an implementation bug,
// never a user-facing condition.
type InvariantViolation struct {
	Msg string
}

func (e *InvariantViolation) Error() string { return "simdriver: invariant violation: " + e.Msg }

// Observation is a point-in-time snapshot of simulation state.
type Observation struct {
	Timestamp    int64
	Utilization  float64
	AverageWait  float64
	QueueLen     int
	RunningLen   int
	ScheduledLen int
}

// Simulator wires the calendar, allocator, scheduler and event log
// together and drives the event loop.
type Simulator struct {
	seed   uint64
	logger zerolog.Logger

	calendar  *calendar.Calendar
	allocator *allocator.Allocator
	scheduler *scheduler.Scheduler
	broker    *eventlog.Broker
	csvFile   *os.File

	records map[int64]simtrace.Record
	order   []int64
	nodes   int

	// immediate holds zero-delay follow-on events (STARTs, and ENDs of
	// zero-runtime jobs) posted during the current dispatch. They drain
	// FIFO within the same Step, before the calendar is popped again.
	immediate []simtypes.Event

	initialized bool
}

// New creates a Simulator. seed drives every seeded random choice the
// allocator and scheduler backfill make, so the same seed and the same
// trace always produce the same event log.
func New(seed uint64, logger zerolog.Logger) *Simulator {
	return &Simulator{
		seed:   seed,
		logger: logger.With().Str("component", "simdriver").Logger(),
	}
}

// ReadTrace parses an SWF job trace and a system config file, retaining
// job records for later SUBMIT dispatch. It does not build the calendar
// yet — call Initialize to do that, once an output directory for the
// event log is known.
func (s *Simulator) ReadTrace(tracePath, configPath string) error {
	traceFile, err := os.Open(tracePath)
	if err != nil {
		return fmt.Errorf("simdriver: opening trace: %w", err)
	}
	defer traceFile.Close()

	recs, err := simtrace.Read(traceFile)
	if err != nil {
		return fmt.Errorf("simdriver: reading trace: %w", err)
	}

	cfg, err := simconfig.Load(configPath)
	if err != nil {
		return fmt.Errorf("simdriver: reading system config: %w", err)
	}

	s.records = make(map[int64]simtrace.Record, len(recs))
	s.order = make([]int64, 0, len(recs))
	for _, rec := range recs {
		s.records[rec.JobID] = rec
		s.order = append(s.order, rec.JobID)
	}
	s.nodes = cfg.Nodes

	return nil
}

// Initialize constructs the allocator and scheduler, opens the CSV event
// sink under outputDir, and primes the calendar with a SUBMIT event for
// every job in the trace. Now() is set to the earliest submit time.
func (s *Simulator) Initialize(outputDir string) error {
	if s.records == nil {
		return fmt.Errorf("simdriver: Initialize called before ReadTrace")
	}

	jobIDs := append([]int64(nil), s.order...)
	// An empty trace has no submit times to derive an initial clock
	// from; the calendar starts at 0 and drains immediately.
	var earliest int64
	first := true
	for _, id := range jobIDs {
		rec := s.records[id]
		if rec.ReqResources > s.nodes {
			return &ContractViolation{Msg: fmt.Sprintf("job %d requests %d resources, only %d exist", id, rec.ReqResources, s.nodes)}
		}
		if first || rec.SubmitTime < earliest {
			earliest = rec.SubmitTime
			first = false
		}
	}
	// Stable: jobs with equal SubmitTime keep their trace-file order. A
	// plain sort over map iteration order would make same-instant ties
	// nondeterministic across runs with an identical seed.
	sort.SliceStable(jobIDs, func(i, j int) bool { return s.records[jobIDs[i]].SubmitTime < s.records[jobIDs[j]].SubmitTime })

	csvFile, err := os.Create(filepath.Join(outputDir, "events.csv"))
	if err != nil {
		return fmt.Errorf("simdriver: creating event log: %w", err)
	}

	s.calendar = calendar.New()
	s.allocator = allocator.New(s.nodes, simrand.New(s.seed), s.logger)
	s.scheduler = scheduler.New(s.allocator, s, simrand.New(s.seed+1), s.logger)
	s.broker = eventlog.NewBroker(eventlog.NewCSVWriter(csvFile))
	s.csvFile = csvFile

	s.calendar.SetNow(earliest)
	for _, id := range jobIDs {
		rec := s.records[id]
		s.calendar.Schedule(rec.SubmitTime, simtypes.EventSubmit, id)
	}

	s.initialized = true
	return nil
}

// Now returns the current simulated time. It satisfies scheduler.Driver.
func (s *Simulator) Now() int64 {
	return s.calendar.Now()
}

// CreateRunEvent posts a START event for jobID at the current simulated
// time. It satisfies scheduler.Driver; the scheduler calls it once it has
// allocated resources for a job, whether via head-of-queue admission or
// backfill. The event is zero-delay, so it joins the current step's
// cascade rather than the calendar heap.
func (s *Simulator) CreateRunEvent(jobID int64) {
	s.immediate = append(s.immediate, simtypes.Event{
		Time:  s.calendar.Now(),
		Seq:   s.calendar.NextSeq(),
		Kind:  simtypes.EventStart,
		JobID: jobID,
	})
}

// CreateEndEvent schedules an END event for jobID at the given simulated
// time. It satisfies scheduler.Driver; the scheduler calls it once it has
// moved a job to running, passing the time the job is due to finish. An
// END landing at the current instant (a zero-runtime job) joins the
// current step's cascade like a START does.
func (s *Simulator) CreateEndEvent(jobID int64, at int64) {
	if at == s.calendar.Now() {
		s.immediate = append(s.immediate, simtypes.Event{
			Time:  at,
			Seq:   s.calendar.NextSeq(),
			Kind:  simtypes.EventEnd,
			JobID: jobID,
		})
		return
	}
	s.calendar.Schedule(at, simtypes.EventEnd, jobID)
}

// AddEventSink registers an additional synchronous sink (e.g. a
// simstore.EventSink) that records every dispatched event in the same
// dispatch order as the CSV log. Call this after Initialize and before
// Run/Step.
func (s *Simulator) AddEventSink(sink eventlog.Sink) {
	s.broker.AddSink(sink)
}

// Subscribe returns a live feed of dispatched events (SUBMIT/START/END),
// for a TUI or plotting front-end to consume alongside the CSV log.
func (s *Simulator) Subscribe() eventlog.Subscriber {
	return s.broker.Subscribe()
}

// Unsubscribe removes and closes a previously-subscribed feed.
func (s *Simulator) Unsubscribe(sub eventlog.Subscriber) {
	s.broker.Unsubscribe(sub)
}

// Close stops the event broker and closes the CSV event log. Callers
// should defer Close once Initialize has succeeded.
func (s *Simulator) Close() error {
	if s.broker != nil {
		s.broker.Stop()
	}
	if s.csvFile != nil {
		return s.csvFile.Close()
	}
	return nil
}

// Step pops one event from the calendar, dispatches it, and then drains
// every zero-delay follow-on event the dispatch produced, in insertion
// order, before returning. It returns false once the calendar is drained
// — the normal termination condition, not an error.
func (s *Simulator) Step() (bool, error) {
	if !s.initialized {
		return false, fmt.Errorf("simdriver: Step called before Initialize")
	}

	ev, ok := s.calendar.Pop()
	if !ok {
		return false, nil
	}

	if err := s.dispatch(ev); err != nil {
		return false, err
	}
	for len(s.immediate) > 0 {
		next := s.immediate[0]
		s.immediate = s.immediate[1:]
		if err := s.dispatch(next); err != nil {
			return false, err
		}
	}
	return true, nil
}

// Run steps the simulator until the calendar drains or an error occurs.
func (s *Simulator) Run() error {
	for {
		more, err := s.Step()
		if err != nil {
			return err
		}
		if !more {
			return nil
		}
	}
}

// Nodes returns the resource pool size read from the system config.
func (s *Simulator) Nodes() int {
	return s.nodes
}

// Job looks up a job the simulation has seen so far, in whatever state
// it currently is. Jobs whose SUBMIT event has not yet fired are not
// visible.
func (s *Simulator) Job(id int64) (*simtypes.Job, bool) {
	return s.scheduler.Job(id)
}

// Observe returns a snapshot of the current simulated state.
func (s *Simulator) Observe() Observation {
	return Observation{
		Timestamp:    s.calendar.Now(),
		Utilization:  s.scheduler.Utilization(),
		AverageWait:  s.scheduler.AverageWaitTime(),
		QueueLen:     s.scheduler.QueueLen(),
		RunningLen:   s.scheduler.RunningLen(),
		ScheduledLen: s.scheduler.ScheduledLen(),
	}
}

func (s *Simulator) dispatch(ev simtypes.Event) error {
	if err := s.broker.Publish(ev); err != nil {
		return fmt.Errorf("simdriver: recording event: %w", err)
	}
	simmetrics.EventsProcessedTotal.WithLabelValues(ev.Kind.String()).Inc()

	switch ev.Kind {
	case simtypes.EventSubmit:
		return s.handleSubmit(ev)
	case simtypes.EventStart:
		return s.handleStart(ev)
	case simtypes.EventEnd:
		return s.handleEnd(ev)
	default:
		return &InvariantViolation{Msg: fmt.Sprintf("unknown event kind for job %d", ev.JobID)}
	}
}

func (s *Simulator) handleSubmit(ev simtypes.Event) error {
	rec, ok := s.records[ev.JobID]
	if !ok {
		return &ContractViolation{Msg: fmt.Sprintf("SUBMIT for job %d has no trace record", ev.JobID)}
	}

	job := simtypes.NewJob(rec.JobID, rec.SubmitTime, rec.ReqResources, rec.Walltime, rec.Runtime)
	s.scheduler.Queue(job)
	return nil
}

func (s *Simulator) handleStart(ev simtypes.Event) error {
	if err := s.scheduler.Start(ev.JobID); err != nil {
		return &ContractViolation{Msg: err.Error()}
	}
	return nil
}

func (s *Simulator) handleEnd(ev simtypes.Event) error {
	if err := s.scheduler.End(ev.JobID); err != nil {
		return &ContractViolation{Msg: err.Error()}
	}
	return nil
}
