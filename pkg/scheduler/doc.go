/*
Package scheduler implements the job scheduling cycle: strict FCFS
admission at the head of the wait queue, followed by EASY backfill for
everything behind it.

# Architecture

The scheduler owns four job lists — queue, scheduled (resources
assigned, START event pending), running, and finished — and reacts to
three calls from the simulation driver: Queue, Start and End. Every
call that can free up the head of the queue re-runs a scheduling cycle:

	┌──────────────────────────────────────────────────────────┐
	│                      schedule()                          │
	└──────────────────────┬───────────────────────────────────┘
	                       │
	                       ▼
	┌──────────────────────────────────────────────────────────┐
	│ 1. Walk the queue from the head, allocating resources    │
	│    while they're available. The first job that can't be  │
	│    satisfied stops the walk (strict FCFS ordering).      │
	│ 2. For everything still queued, run EASY backfill:       │
	│    reserve a future slot for the head job, then let any  │
	│    later job run now if doing so can't delay it.         │
	└──────────────────────────────────────────────────────────┘

# EASY Backfill

Backfill never delays the job at the head of the queue. It works by
building a time-resource map (TRM) from the currently running jobs'
projected end times, reserving the earliest slot where the head job
fits, and then testing every other queued job against the reserved
map: a job backfills if enough resources remain free for its entire
walltime without touching the head job's reservation.

# See Also

  - pkg/allocator — resource pool and TRM reservation functions
  - pkg/calendar — event ordering that drives Start/End calls
  - pkg/simdriver — the simulation loop that owns this scheduler
*/
package scheduler
