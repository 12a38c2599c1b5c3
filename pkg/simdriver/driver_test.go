package simdriver_test

import (
	"fmt"
	"math/rand/v2"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"

	"github.com/cuemby/schedulus/pkg/simdriver"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// traceJob is one job row for writeTrace: id, submit, runtime, reqProc,
// reqTime (walltime).
type traceJob struct {
	id      int64
	submit  int64
	runtime int64
	req     int64
	wall    int64
}

// writeTrace writes SWF-format lines (18 whitespace-separated fields per
// job) to a temp file and returns its path. Every column the simulator
// does not read is filled with the format's standard "unused" sentinel,
// -1.
func writeTrace(t *testing.T, jobs []traceJob) string {
	t.Helper()
	var sb strings.Builder
	sb.WriteString("; comment lines are ignored\n")
	for _, j := range jobs {
		// 1=id 2=submit 3=wait 4=runtime 5=used_proc 6,7=unused 8=req_proc
		// 9=req_time 10=unused 11=status 12,13=cluster/user 14-18=unused
		fields := []int64{j.id, j.submit, -1, j.runtime, j.req, -1, -1, j.req, j.wall, -1, 1, -1, -1, -1, -1, -1, -1, -1}
		parts := make([]string, len(fields))
		for i, f := range fields {
			parts[i] = strconv.FormatInt(f, 10)
		}
		sb.WriteString(strings.Join(parts, " "))
		sb.WriteString("\n")
	}

	path := filepath.Join(t.TempDir(), "trace.swf")
	require.NoError(t, os.WriteFile(path, []byte(sb.String()), 0o644))
	return path
}

func writeConfig(t *testing.T, nodes int) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	content := fmt.Sprintf("nodes: %d\nppn: 1\n", nodes)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func newSimulator(t *testing.T, seed uint64, nodes int, jobs []traceJob) (*simdriver.Simulator, string) {
	t.Helper()
	tracePath := writeTrace(t, jobs)
	configPath := writeConfig(t, nodes)
	outDir := t.TempDir()

	sim := simdriver.New(seed, zerolog.Nop())
	require.NoError(t, sim.ReadTrace(tracePath, configPath))
	require.NoError(t, sim.Initialize(outDir))
	t.Cleanup(func() { _ = sim.Close() })
	return sim, outDir
}

func eventLines(t *testing.T, outDir string) []string {
	t.Helper()
	data, err := os.ReadFile(filepath.Join(outDir, "events.csv"))
	require.NoError(t, err)
	return strings.Split(strings.TrimRight(string(data), "\n"), "\n")
}

func runSimulation(t *testing.T, nodes int, jobs []traceJob) []string {
	t.Helper()
	sim, outDir := newSimulator(t, 1, nodes, jobs)
	require.NoError(t, sim.Run())
	return eventLines(t, outDir)
}

// A job that occupies every resource blocks a smaller job behind it; no
// backfill opportunity exists until the big job ends.
func TestFCFSWithNoBackfillWindow(t *testing.T) {
	lines := runSimulation(t, 4, []traceJob{
		{id: 1, submit: 0, runtime: 50, req: 4, wall: 100},
		{id: 2, submit: 1, runtime: 5, req: 1, wall: 10},
	})

	require.Equal(t, []string{
		"0,Q,1",
		"0,R,1",
		"1,Q,2",
		"50,E,1",
		"50,R,2",
		"55,E,2",
	}, lines)
}

// Job 3 fits in the gap job 1 leaves open and runs immediately instead of
// waiting behind job 2's future reservation: it finishes at t=5, long
// before job 2's shadow time of t=100.
func TestBackfillRunsShortJobInShadowWindow(t *testing.T) {
	lines := runSimulation(t, 4, []traceJob{
		{id: 1, submit: 0, runtime: 100, req: 2, wall: 100},
		{id: 2, submit: 0, runtime: 10, req: 4, wall: 10},
		{id: 3, submit: 0, runtime: 5, req: 1, wall: 5},
	})

	require.Equal(t, []string{
		"0,Q,1",
		"0,R,1",
		"0,Q,2",
		"0,Q,3",
		"0,R,3",
		"5,E,3",
		"100,E,1",
		"100,R,2",
		"110,E,2",
	}, lines)
}

// Job 3 needs 2 resources but only 1 is free until job 1 ends, so
// backfill correctly refuses it and it waits its turn behind job 2.
func TestBackfillRefusesJobThatCannotFitNow(t *testing.T) {
	lines := runSimulation(t, 4, []traceJob{
		{id: 1, submit: 0, runtime: 100, req: 3, wall: 100},
		{id: 2, submit: 0, runtime: 10, req: 3, wall: 10},
		{id: 3, submit: 0, runtime: 50, req: 2, wall: 50},
	})

	require.Equal(t, []string{
		"0,Q,1",
		"0,R,1",
		"0,Q,2",
		"0,Q,3",
		"100,E,1",
		"100,R,2",
		"110,E,2",
		"110,R,3",
		"160,E,3",
	}, lines)
}

// Job 1 runs past its own walltime. Its END event still fires at its
// actual runtime, and job 2, blocked at the head of the queue behind it,
// waits for that real end rather than for job 1's walltime.
func TestWalltimeOverrunDefersWaitingJob(t *testing.T) {
	lines := runSimulation(t, 2, []traceJob{
		{id: 1, submit: 0, runtime: 20, req: 2, wall: 10},
		{id: 2, submit: 0, runtime: 5, req: 1, wall: 5},
	})

	require.Equal(t, []string{
		"0,Q,1",
		"0,R,1",
		"0,Q,2",
		"20,E,1",
		"20,R,2",
		"25,E,2",
	}, lines)
}

// Job 1's END and job 2's subsequent START both land at t=10, END first,
// within a single step's cascade.
func TestSimultaneousEndAndStart(t *testing.T) {
	lines := runSimulation(t, 2, []traceJob{
		{id: 1, submit: 0, runtime: 10, req: 2, wall: 10},
		{id: 2, submit: 0, runtime: 10, req: 1, wall: 10},
	})

	require.Equal(t, []string{
		"0,Q,1",
		"0,R,1",
		"0,Q,2",
		"10,E,1",
		"10,R,2",
		"20,E,2",
	}, lines)
}

// A trace with no job records drains the calendar on the first Run()
// call and Observe() reports a zeroed-out snapshot.
func TestEmptyTraceDrainsImmediately(t *testing.T) {
	tracePath := filepath.Join(t.TempDir(), "empty.swf")
	require.NoError(t, os.WriteFile(tracePath, []byte("; nothing but comments\n"), 0o644))
	configPath := writeConfig(t, 4)
	outDir := t.TempDir()

	sim := simdriver.New(1, zerolog.Nop())
	require.NoError(t, sim.ReadTrace(tracePath, configPath))
	require.NoError(t, sim.Initialize(outDir))
	defer sim.Close()

	require.NoError(t, sim.Run())

	obs := sim.Observe()
	require.Equal(t, 0.0, obs.Utilization)
	require.Equal(t, 0.0, obs.AverageWait)

	data, err := os.ReadFile(filepath.Join(outDir, "events.csv"))
	require.NoError(t, err)
	require.Empty(t, data, "an empty trace emits no events")
}

// A job requesting the whole cluster runs immediately at its submit
// time, pushing utilization to 1.0 for its duration.
func TestFullClusterJobRunsAtSubmit(t *testing.T) {
	sim, outDir := newSimulator(t, 1, 4, []traceJob{
		{id: 1, submit: 5, runtime: 10, req: 4, wall: 10},
	})

	// Step through Q then its cascaded R; utilization is 1.0 while the
	// job runs.
	more, err := sim.Step()
	require.NoError(t, err)
	require.True(t, more)

	obs := sim.Observe()
	assert.Equal(t, int64(5), obs.Timestamp)
	assert.Equal(t, 1.0, obs.Utilization)
	assert.Equal(t, 1, obs.RunningLen)

	require.NoError(t, sim.Run())
	assert.Equal(t, 0.0, sim.Observe().Utilization)

	require.Equal(t, []string{
		"5,Q,1",
		"5,R,1",
		"15,E,1",
	}, eventLines(t, outDir))
}

// Two jobs identical in every way except submission order start in
// submission order.
func TestSubmitOrderPreservedForIdenticalJobs(t *testing.T) {
	lines := runSimulation(t, 2, []traceJob{
		{id: 7, submit: 0, runtime: 10, req: 2, wall: 20},
		{id: 8, submit: 1, runtime: 10, req: 2, wall: 20},
	})

	require.Equal(t, []string{
		"0,Q,7",
		"0,R,7",
		"1,Q,8",
		"10,E,7",
		"10,R,8",
		"20,E,8",
	}, lines)
}

// A job requesting more resources than the cluster has is rejected at
// Initialize, before any event is ever dispatched.
func TestInitializeRejectsOversizedJob(t *testing.T) {
	tracePath := writeTrace(t, []traceJob{{id: 1, submit: 0, runtime: 10, req: 8, wall: 10}})
	configPath := writeConfig(t, 4)
	outDir := t.TempDir()

	sim := simdriver.New(1, zerolog.Nop())
	require.NoError(t, sim.ReadTrace(tracePath, configPath))

	err := sim.Initialize(outDir)
	require.Error(t, err)
	var cv *simdriver.ContractViolation
	require.ErrorAs(t, err, &cv)
}

// randomWorkload generates a reproducible batch of jobs with mixed sizes
// and overlapping submit times, enough to force both queueing and
// backfill decisions on an 8-resource cluster.
func randomWorkload(seed uint64, n int) []traceJob {
	rng := rand.New(rand.NewPCG(seed, seed))
	jobs := make([]traceJob, n)
	var submit int64
	for i := range jobs {
		runtime := int64(1 + rng.IntN(40))
		jobs[i] = traceJob{
			id:      int64(i + 1),
			submit:  submit,
			runtime: runtime,
			req:     int64(1 + rng.IntN(8)),
			wall:    runtime + int64(rng.IntN(20)),
		}
		submit += int64(rng.IntN(15))
	}
	return jobs
}

// Every job's result timestamps are consistent once the calendar drains:
// submit <= run <= end, with end - run exactly the trace runtime.
func TestResultTimestampsConsistent(t *testing.T) {
	jobs := randomWorkload(3, 40)
	sim, _ := newSimulator(t, 1, 8, jobs)
	require.NoError(t, sim.Run())

	for _, j := range jobs {
		job, ok := sim.Job(j.id)
		require.True(t, ok, "job %d should be tracked", j.id)
		assert.Equal(t, j.submit, job.ResSubmitTS, "job %d", j.id)
		assert.LessOrEqual(t, job.ResSubmitTS, job.ResRunTS, "job %d", j.id)
		assert.LessOrEqual(t, job.ResRunTS, job.ResEndTS, "job %d", j.id)
		assert.Equal(t, j.runtime, job.ResEndTS-job.ResRunTS, "job %d runs for exactly its runtime", j.id)
	}

	obs := sim.Observe()
	assert.Equal(t, 0.0, obs.Utilization, "nothing is left running after the drain")
	assert.Equal(t, 0, obs.QueueLen)
}

// The same trace and the same seed produce a byte-identical event log.
func TestSameSeedIsByteIdentical(t *testing.T) {
	jobs := randomWorkload(11, 30)

	first := runSimulation(t, 8, jobs)
	second := runSimulation(t, 8, jobs)
	require.Equal(t, first, second)
	require.Len(t, first, 3*len(jobs), "each job contributes exactly Q, R and E")
}

// Replaying an emitted event log as a fresh trace (submit at the Q
// times, runtime = E - R) through a cluster large enough that nothing
// ever queues makes every job start at its recorded submit time.
func TestEventLogReplaysAsTrace(t *testing.T) {
	lines := runSimulation(t, 8, randomWorkload(17, 25))

	type times struct{ q, r, e int64 }
	perJob := map[int64]*times{}
	var order []int64
	for _, line := range lines {
		parts := strings.Split(line, ",")
		require.Len(t, parts, 3)
		ts, err := strconv.ParseInt(parts[0], 10, 64)
		require.NoError(t, err)
		id, err := strconv.ParseInt(parts[2], 10, 64)
		require.NoError(t, err)

		if perJob[id] == nil {
			perJob[id] = &times{}
			order = append(order, id)
		}
		switch parts[1] {
		case "Q":
			perJob[id].q = ts
		case "R":
			perJob[id].r = ts
		case "E":
			perJob[id].e = ts
		}
	}

	replay := make([]traceJob, 0, len(order))
	for _, id := range order {
		tt := perJob[id]
		replay = append(replay, traceJob{
			id:      id,
			submit:  tt.q,
			runtime: tt.e - tt.r,
			req:     1,
			wall:    tt.e - tt.r + 1,
		})
	}

	sim, _ := newSimulator(t, 1, 64, replay)
	require.NoError(t, sim.Run())

	for _, id := range order {
		job, ok := sim.Job(id)
		require.True(t, ok)
		assert.Equal(t, perJob[id].q, job.ResRunTS, "job %d starts at its submit time on an uncontended cluster", id)
	}
}
