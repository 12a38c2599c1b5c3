// Package allocator owns the fixed pool of N compute resources and answers
// allocate/deallocate requests from the scheduler. It is deliberately
// stateless with respect to reservations: backfill reasoning happens over
// a time-resource map (TRM), a plain value the scheduler builds and passes
// into the pure functions ReserveFuture/ReserveNow (see trm.go). This keeps
// backfill testable without an allocator instance at all.
package allocator

import (
	"fmt"

	"github.com/cuemby/schedulus/pkg/simrand"
	"github.com/cuemby/schedulus/pkg/simtypes"
	"github.com/rs/zerolog"
)

// ErrInsufficientResources is returned by Allocate when fewer than k
// resources are AVAILABLE. The allocator's state is left untouched.
var ErrInsufficientResources = fmt.Errorf("allocator: insufficient available resources")

// Allocator owns the resource table. It is not safe for concurrent use —
// the simulation core is single-threaded, so no internal locking is
// needed.
type Allocator struct {
	resources []simtypes.Resource
	rng       *simrand.Source
	logger    zerolog.Logger
}

// New creates an Allocator for n identical resources, all AVAILABLE,
// named resource_0..resource_{n-1} with 1 CPU each. Resources are
// anonymous homogeneous slots; there is no per-resource CPU/memory
// accounting.
func New(n int, rng *simrand.Source, logger zerolog.Logger) *Allocator {
	resources := make([]simtypes.Resource, n)
	for i := 0; i < n; i++ {
		resources[i] = simtypes.Resource{
			ID:    i,
			Name:  fmt.Sprintf("resource_%d", i),
			CPUs:  1,
			State: simtypes.ResourceAvailable,
			JobID: simtypes.NoJob,
		}
	}
	return &Allocator{resources: resources, rng: rng, logger: logger.With().Str("component", "allocator").Logger()}
}

// N returns the total number of resources in the pool.
func (a *Allocator) N() int {
	return len(a.resources)
}

// GetAvailable returns the ids of all AVAILABLE resources, in ascending id
// order.
func (a *Allocator) GetAvailable() []int {
	var ids []int
	for _, r := range a.resources {
		if r.State == simtypes.ResourceAvailable {
			ids = append(ids, r.ID)
		}
	}
	return ids
}

// AllBusy returns the ids of all BUSY resources.
func (a *Allocator) AllBusy() []int {
	var ids []int
	for _, r := range a.resources {
		if r.State == simtypes.ResourceBusy {
			ids = append(ids, r.ID)
		}
	}
	return ids
}

// BusyOf returns the ids of the resources currently BUSY with jobID.
func (a *Allocator) BusyOf(jobID int64) []int {
	var ids []int
	for _, r := range a.resources {
		if r.State == simtypes.ResourceBusy && r.JobID == jobID {
			ids = append(ids, r.ID)
		}
	}
	return ids
}

// GetOffline returns the ids of all OFFLINE resources.
func (a *Allocator) GetOffline() []int {
	var ids []int
	for _, r := range a.resources {
		if r.State == simtypes.ResourceOffline {
			ids = append(ids, r.ID)
		}
	}
	return ids
}

// Allocate atomically selects k AVAILABLE resources, marks them BUSY
// with jobID as owner, and returns their ids. It does not mutate state on
// failure. Selection is a seeded random sample of the available set,
// deterministic for a given seed.
func (a *Allocator) Allocate(jobID int64, k int) ([]int, error) {
	available := a.GetAvailable()
	if k > len(available) {
		return nil, ErrInsufficientResources
	}

	a.rng.ShuffleInts(available)
	chosen := append([]int(nil), available[:k]...)

	for _, id := range chosen {
		a.resources[id].State = simtypes.ResourceBusy
		a.resources[id].JobID = jobID
	}

	a.logger.Debug().Int64("job_id", jobID).Int("k", k).Ints("resources", chosen).Msg("allocated")
	return chosen, nil
}

// Deallocate returns every resource owned by jobID to AVAILABLE.
func (a *Allocator) Deallocate(jobID int64) {
	var freed []int
	for i := range a.resources {
		if a.resources[i].State == simtypes.ResourceBusy && a.resources[i].JobID == jobID {
			a.resources[i].State = simtypes.ResourceAvailable
			a.resources[i].JobID = simtypes.NoJob
			freed = append(freed, a.resources[i].ID)
		}
	}
	a.logger.Debug().Int64("job_id", jobID).Ints("resources", freed).Msg("deallocated")
}

// Utilization returns |busy| / N, 0 when N is 0.
func (a *Allocator) Utilization() float64 {
	if len(a.resources) == 0 {
		return 0
	}
	busy := 0
	for _, r := range a.resources {
		if r.State == simtypes.ResourceBusy {
			busy++
		}
	}
	return float64(busy) / float64(len(a.resources))
}
