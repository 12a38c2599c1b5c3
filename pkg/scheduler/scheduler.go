package scheduler

import (
	"fmt"
	"sort"

	"github.com/cuemby/schedulus/pkg/allocator"
	"github.com/cuemby/schedulus/pkg/simmetrics"
	"github.com/cuemby/schedulus/pkg/simrand"
	"github.com/cuemby/schedulus/pkg/simtypes"
	"github.com/rs/zerolog"
)

// Driver is the subset of the simulation driver the scheduler needs: the
// current simulated time, and the ability to schedule the START and END
// events for a job once it has been granted resources. Depending on this
// narrow interface instead of the concrete driver keeps the scheduler
// testable without a full simulation loop.
type Driver interface {
	Now() int64
	CreateRunEvent(jobID int64)
	CreateEndEvent(jobID int64, at int64)
}

// Scheduler runs the admission and backfill cycle described in doc.go. It
// is not safe for concurrent use — callers run within the single-threaded
// simulation loop.
type Scheduler struct {
	allocator *allocator.Allocator
	driver    Driver
	rng       *simrand.Source
	logger    zerolog.Logger

	queue     []*simtypes.Job
	scheduled []*simtypes.Job
	running   []*simtypes.Job
	finished  []*simtypes.Job
}

// New creates a Scheduler bound to an allocator and a driver. rng drives
// backfill's ReserveNow sampling; seeding it at construction keeps two
// runs of the same trace with the same seed byte-identical.
func New(alloc *allocator.Allocator, driver Driver, rng *simrand.Source, logger zerolog.Logger) *Scheduler {
	return &Scheduler{
		allocator: alloc,
		driver:    driver,
		rng:       rng,
		logger:    logger.With().Str("component", "scheduler").Logger(),
	}
}

// Queue admits a job to the wait queue, stamps its submission time, and
// triggers a scheduling cycle.
func (s *Scheduler) Queue(job *simtypes.Job) {
	job.ResSubmitTS = s.driver.Now()
	job.State = simtypes.JobWaiting
	s.logger.Debug().Int64("job_id", job.ID).Int("resources", job.ReqResources).Msg("queued")

	s.queue = append(s.queue, job)
	s.schedule()
}

// Start moves a job from scheduled to running. jobID must already have
// resources assigned by a prior scheduling cycle; it is a ContractViolation
// to call Start for a job the scheduler never scheduled.
func (s *Scheduler) Start(jobID int64) error {
	idx, job := indexByID(s.scheduled, jobID)
	if job == nil {
		return fmt.Errorf("scheduler: start: job %d not found in scheduled list", jobID)
	}

	job.ResRunTS = s.driver.Now()
	job.State = simtypes.JobRunning

	s.scheduled = append(s.scheduled[:idx], s.scheduled[idx+1:]...)
	s.running = append(s.running, job)

	s.driver.CreateEndEvent(job.ID, job.ResRunTS+job.Runtime)

	s.logger.Debug().Int64("job_id", job.ID).Int("resources", job.ReqResources).Msg("started")
	return nil
}

// End moves a job from running to finished, deallocates its resources, and
// triggers a new scheduling cycle since resources just freed up.
func (s *Scheduler) End(jobID int64) error {
	idx, job := indexByID(s.running, jobID)
	if job == nil {
		return fmt.Errorf("scheduler: end: job %d not found in running list", jobID)
	}

	job.ResEndTS = s.driver.Now()
	job.State = simtypes.JobFinished
	s.allocator.Deallocate(job.ID)

	s.running = append(s.running[:idx], s.running[idx+1:]...)
	s.finished = append(s.finished, job)

	s.logger.Debug().Int64("job_id", job.ID).Msg("finished")
	s.schedule()
	return nil
}

// AverageWaitTime returns the mean (res_run_ts - res_submit_ts) across
// every job that has started (running or finished). Jobs still waiting
// don't yet have a wait time to report.
func (s *Scheduler) AverageWaitTime() float64 {
	var total int64
	var n int
	for _, job := range s.finished {
		total += job.Wait()
		n++
	}
	for _, job := range s.running {
		total += job.Wait()
		n++
	}
	if n == 0 {
		return 0
	}
	return float64(total) / float64(n)
}

// Job looks up a job by id across every list the scheduler tracks,
// regardless of its current state. Exposed for callers (tests, inspection
// commands) that need a job's full record outside the scheduling cycle.
func (s *Scheduler) Job(id int64) (*simtypes.Job, bool) {
	for _, list := range [][]*simtypes.Job{s.queue, s.scheduled, s.running, s.finished} {
		if _, job := indexByID(list, id); job != nil {
			return job, true
		}
	}
	return nil, false
}

// Utilization exposes the underlying allocator's busy fraction.
func (s *Scheduler) Utilization() float64 {
	return s.allocator.Utilization()
}

// QueueLen, RunningLen and ScheduledLen report queue depths for
// observation snapshots.
func (s *Scheduler) QueueLen() int     { return len(s.queue) }
func (s *Scheduler) RunningLen() int   { return len(s.running) }
func (s *Scheduler) ScheduledLen() int { return len(s.scheduled) }

// schedule walks the queue from the head, admitting jobs while resources
// allow, then backfills the remainder. It stops admitting at the first job
// it can't satisfy — FCFS means a later, smaller job never jumps ahead of
// an earlier, larger one outside of backfill.
func (s *Scheduler) schedule() {
	s.logger.Debug().Msg("entering scheduling cycle")
	timer := simmetrics.NewTimer()
	defer timer.ObserveDuration(simmetrics.SchedulingCycleDuration)

	var admitted []*simtypes.Job
	remaining := s.queue[:0:0]
	stopped := false

	for _, job := range s.queue {
		if stopped {
			remaining = append(remaining, job)
			continue
		}

		ids, err := s.allocator.Allocate(job.ID, job.ReqResources)
		if err != nil {
			stopped = true
			remaining = append(remaining, job)
			continue
		}

		job.ResourceIDs = ids
		admitted = append(admitted, job)
	}

	s.queue = remaining
	for _, job := range admitted {
		job.State = simtypes.JobScheduled
		s.scheduled = append(s.scheduled, job)
		s.driver.CreateRunEvent(job.ID)
	}

	if len(s.queue) > 0 {
		s.backfillEasy()
	}

	simmetrics.SimulatedTime.Set(float64(s.driver.Now()))
	simmetrics.QueueLength.Set(float64(len(s.queue)))
	simmetrics.RunningJobs.Set(float64(len(s.running)))
	simmetrics.ResourceUtilization.Set(s.allocator.Utilization())
	simmetrics.AverageWaitTime.Set(s.AverageWaitTime())

	s.logger.Debug().Msg("leaving scheduling cycle")
}

// backfillEasy reserves a future slot for the head of the queue, then lets
// any later job run immediately if it fits within the reserved map without
// ever touching the head job's share. See doc.go for the algorithm.
func (s *Scheduler) backfillEasy() {
	if len(s.queue) == 0 {
		return
	}
	top := s.queue[0]
	s.logger.Debug().Int64("job_id", top.ID).Msg("backfill: reserving for head of queue")

	trm := s.buildTRM()
	trm = allocator.ReserveFuture(trm, top.ID, top.ReqResources, top.Walltime)
	if trm == nil {
		s.logger.Debug().Msg("backfill: skipped, no future reservation point found")
		return
	}

	now := s.driver.Now()
	var backfilled []*simtypes.Job
	for _, job := range s.queue[1:] {
		if s.fits(trm, job, now) {
			backfilled = append(backfilled, job)
			trm = allocator.ReserveNow(trm, s.rng, job.ID, job.ReqResources, now, job.Walltime)
		}
	}

	for _, job := range backfilled {
		ids, err := s.allocator.Allocate(job.ID, job.ReqResources)
		if err != nil {
			// An eligibility check just said this job fits; an allocator
			// that disagrees means the TRM and the live resource pool have
			// diverged, which is a defect in the scheduler itself.
			panic(fmt.Sprintf("scheduler: backfill: job %d eligible but allocation failed: %v", job.ID, err))
		}

		job.ResourceIDs = ids
		job.State = simtypes.JobScheduled
		s.queue = removeJob(s.queue, job.ID)
		s.scheduled = append(s.scheduled, job)
		s.driver.CreateRunEvent(job.ID)
		simmetrics.JobsBackfilledTotal.Inc()
	}
}

// fits reports whether job can run to completion without ever needing
// more resources than trm has reserved at any point up to its own
// walltime horizon.
func (s *Scheduler) fits(trm *allocator.TRM, job *simtypes.Job, now int64) bool {
	for _, t := range trm.Times() {
		if t > now+job.Walltime {
			break
		}
		if len(trm.At(t)) < job.ReqResources {
			return false
		}
	}
	return true
}

// buildTRM derives a time-resource map from the resources available now
// plus every running job's projected release of its resources at its own
// end time. Jobs already overrunning their walltime are excluded — the
// scheduler has no way to know when an overrun job will actually end.
func (s *Scheduler) buildTRM() *allocator.TRM {
	now := s.driver.Now()

	running := append([]*simtypes.Job(nil), s.running...)
	sort.Slice(running, func(i, j int) bool {
		return running[i].ResRunTS+running[i].Walltime < running[j].ResRunTS+running[j].Walltime
	})

	trm := allocator.NewTRM()
	cumulative := append([]int(nil), s.allocator.GetAvailable()...)
	trm.Set(now, append([]int(nil), cumulative...))

	for _, job := range running {
		endTime := job.ResRunTS + job.Walltime
		if endTime <= now {
			continue
		}
		cumulative = append(cumulative, job.ResourceIDs...)
		trm.Set(endTime, append([]int(nil), cumulative...))
	}

	return trm
}

func indexByID(jobs []*simtypes.Job, id int64) (int, *simtypes.Job) {
	for i, j := range jobs {
		if j.ID == id {
			return i, j
		}
	}
	return -1, nil
}

func removeJob(jobs []*simtypes.Job, id int64) []*simtypes.Job {
	out := jobs[:0:0]
	for _, j := range jobs {
		if j.ID != id {
			out = append(out, j)
		}
	}
	return out
}
