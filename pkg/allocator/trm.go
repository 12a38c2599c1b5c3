package allocator

import (
	"sort"

	"github.com/cuemby/schedulus/pkg/simrand"
)

// TRM (time-resource map) is a sorted mapping from simulated timestamp to
// the set of resource ids cumulatively available from that timestamp
// onward. It is an externally-owned plain value — the allocator never
// stores one; the scheduler builds a TRM from its own running set and
// passes it into ReserveFuture/ReserveNow, which return an updated copy.
// Per-timestamp slices are kept in insertion order because ReserveFuture's
// reference selection rule ("take the last k") depends on it.
type TRM struct {
	times []int64
	at    map[int64][]int
}

// NewTRM returns an empty TRM.
func NewTRM() *TRM {
	return &TRM{at: make(map[int64][]int)}
}

// Set assigns the resource ids available at time t, recording t in the
// sorted time index if it is new.
func (m *TRM) Set(t int64, ids []int) {
	if _, ok := m.at[t]; !ok {
		m.times = append(m.times, t)
		sort.Slice(m.times, func(i, j int) bool { return m.times[i] < m.times[j] })
	}
	m.at[t] = ids
}

// Times returns the sorted timestamps present in the map.
func (m *TRM) Times() []int64 {
	return m.times
}

// At returns the resource ids available at t (nil if t is not present).
func (m *TRM) At(t int64) []int {
	return m.at[t]
}

// Clone returns a deep copy, so ReserveNow/ReserveFuture can be tried
// against a scratch copy before committing (the scheduler always works on
// its own copy, but Clone is provided for tests and for callers that want
// to probe eligibility non-destructively).
func (m *TRM) Clone() *TRM {
	out := NewTRM()
	out.times = append([]int64(nil), m.times...)
	out.at = make(map[int64][]int, len(m.at))
	for t, ids := range m.at {
		out.at[t] = append([]int(nil), ids...)
	}
	return out
}

func removeID(ids []int, target int) []int {
	out := ids[:0:0]
	for _, id := range ids {
		if id != target {
			out = append(out, id)
		}
	}
	return out
}

// ReserveFuture finds the earliest timestamp t* where at least k resources
// are available, takes the last k ids of trm[t*] (maximizing reuse of
// resources free for the longest span, per the reference rule), and
// removes those ids from every trm[t] with t* <= t <= t*+walltime. It
// returns nil if no such t* exists, i.e. the TRM has no known point where
// enough resources are simultaneously free — for example when a running
// job has overrun its walltime, so its resources never appear in the TRM.
func ReserveFuture(trm *TRM, jobID int64, k int, walltime int64) *TRM {
	var reservationTime int64 = -1
	found := false
	for _, t := range trm.Times() {
		if len(trm.At(t)) >= k {
			reservationTime = t
			found = true
			break
		}
	}
	if !found {
		return nil
	}

	pool := trm.At(reservationTime)
	reserved := append([]int(nil), pool[len(pool)-k:]...)
	endTime := reservationTime + walltime

	out := trm.Clone()
	for _, t := range out.Times() {
		if t < reservationTime || t > endTime {
			continue
		}
		cur := out.At(t)
		for _, r := range reserved {
			cur = removeID(cur, r)
		}
		out.Set(t, cur)
	}
	return out
}

// ReserveNow tentatively commits a backfill candidate: for every trm[t]
// with t <= now+walltime, it removes a seeded-random sample of k resource
// ids. It returns an updated copy and leaves its input untouched (the
// scheduler's backfill loop threads the returned TRM through successive
// candidates).
func ReserveNow(trm *TRM, rng *simrand.Source, jobID int64, k int, now, walltime int64) *TRM {
	out := trm.Clone()
	for _, t := range out.Times() {
		if t > now+walltime {
			break
		}
		pool := append([]int(nil), out.At(t)...)
		if len(pool) < k {
			continue
		}
		rng.ShuffleInts(pool)
		reserved := pool[:k]
		cur := out.At(t)
		for _, r := range reserved {
			cur = removeID(cur, r)
		}
		out.Set(t, cur)
	}
	return out
}
