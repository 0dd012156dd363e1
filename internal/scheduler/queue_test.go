package scheduler

import (
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/uqdispatch/uqdispatch/internal/common/uqcontext"
	"github.com/uqdispatch/uqdispatch/internal/job"
	"github.com/uqdispatch/uqdispatch/internal/remote"
	"github.com/uqdispatch/uqdispatch/internal/remote/fake"
)

const qstatRunning = `Job id            Name             User              Time Use S Queue
----------------  ---------------- ----------------  -------- - -----
4242.head         exp_queens_1     me                00:00:01 R batch
`

const qstatHeld = `Job id            Name             User              Time Use S Queue
----------------  ---------------- ----------------  -------- - -----
4242.head         exp_queens_1     me                0        H batch
`

func TestParseQueueJobId(t *testing.T) {
	tests := map[string]struct {
		kind   QueueKind
		output string
		id     string
		err    bool
	}{
		"pbs":              {kind: PbsQueue, output: "4242.head.cluster\n", id: "4242"},
		"pbs bare":         {kind: PbsQueue, output: "17", id: "17"},
		"slurm":            {kind: SlurmQueue, output: "Submitted batch job 4242\n", id: "4242"},
		"slurm with noise": {kind: SlurmQueue, output: "sbatch: info: using default account\nSubmitted batch job 7", id: "7"},
		"pbs garbage":      {kind: PbsQueue, output: "qsub: submit error", err: true},
		"slurm empty":      {kind: SlurmQueue, output: "", err: true},
		"unknown queue":    {kind: QueueKind("lsf"), output: "Job <1> is submitted", err: true},
	}
	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			id, err := ParseQueueJobId(tc.kind, tc.output)
			if tc.err {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.id, id)
		})
	}
}

func TestParseQueueState(t *testing.T) {
	tests := map[string]struct {
		kind   QueueKind
		output string
		state  QueueState
	}{
		"slurm pending":    {kind: SlurmQueue, output: "PD\n", state: QueueQueued},
		"slurm running":    {kind: SlurmQueue, output: "R\n", state: QueueRunning},
		"slurm completing": {kind: SlurmQueue, output: "CG", state: QueueRunning},
		"slurm suspended":  {kind: SlurmQueue, output: "S\n", state: QueueHeld},
		"slurm completed":  {kind: SlurmQueue, output: "CD\n", state: QueueAbsent},
		"slurm empty":      {kind: SlurmQueue, output: "", state: QueueAbsent},
		"pbs running":      {kind: PbsQueue, output: qstatRunning, state: QueueRunning},
		"pbs held":         {kind: PbsQueue, output: qstatHeld, state: QueueHeld},
		"pbs empty":        {kind: PbsQueue, output: "", state: QueueAbsent},
	}
	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			assert.Equal(t, tc.state, ParseQueueState(tc.kind, tc.output))
		})
	}
}

func submitQueued(t *testing.T, s *testScheduler, submitOutput string) *job.Job {
	kind, _ := s.Backend().QueueKind()
	s.executor.On(kind.submitCommand(), fake.Respond(0, submitOutput, ""))
	submitted, err := s.Submit(uqcontext.Background(), newJob(1))
	require.NoError(t, err)
	require.Equal(t, job.Pending, submitted.Status)
	return submitted
}

func TestQueue_RunningThenSentinel(t *testing.T) {
	s := newTestScheduler(t, LocalSlurmBackend, nil)
	s.executor.On("squeue", fake.Sequence(fake.Respond(0, "R\n", ""), fake.Respond(0, "", "")))
	submitted := submitQueued(t, s, "Submitted batch job 4242\n")
	assert.Equal(t, "4242", submitted.ProcessId)
	require.Len(t, s.executor.CommandsContaining("sbatch"), 1)

	completed, failed := s.PollCompletion(uqcontext.Background(), submitted)
	assert.False(t, completed)
	assert.False(t, failed)
	assert.Equal(t, job.Pending, submitted.Status)

	s.finish(t, submitted, "0", "3.5\n")
	completed, failed = s.PollCompletion(uqcontext.Background(), submitted)
	assert.True(t, completed)
	assert.False(t, failed)
	assert.Equal(t, job.Complete, submitted.Status)
	assert.Equal(t, []float64{3.5}, submitted.Result)
}

func TestQueue_FinishedWithoutSentinelStaysPending(t *testing.T) {
	s := newTestScheduler(t, LocalPbsBackend, nil)
	s.executor.On("qstat", fake.Respond(153, "", "qstat: Unknown Job Id 4242.head"))
	submitted := submitQueued(t, s, "4242.head\n")

	for i := 0; i < 10; i++ {
		s.clock.Advance(time.Hour)
		completed, _ := s.PollCompletion(uqcontext.Background(), submitted)
		require.False(t, completed)
	}
	assert.Equal(t, job.Pending, submitted.Status)
}

func TestQueue_SentinelTimeoutAfterLeavingQueue(t *testing.T) {
	s := newTestScheduler(t, LocalSlurmBackend, func(c *Config) { c.SentinelTimeout = 10 * time.Minute })
	s.executor.On("squeue", fake.Sequence(fake.Respond(0, "R\n", ""), fake.Respond(0, "", "")))
	submitted := submitQueued(t, s, "Submitted batch job 4242\n")

	// Running for longer than the timeout does not count.
	s.clock.Advance(time.Hour)
	completed, _ := s.PollCompletion(uqcontext.Background(), submitted)
	require.False(t, completed)

	completed, _ = s.PollCompletion(uqcontext.Background(), submitted)
	require.False(t, completed)
	s.clock.Advance(11 * time.Minute)
	completed, failed := s.PollCompletion(uqcontext.Background(), submitted)
	assert.True(t, completed)
	assert.True(t, failed)
	assert.Contains(t, submitted.Error, "left the queue")
}

func TestQueue_HeldJobIsCancelledAndFailed(t *testing.T) {
	s := newTestScheduler(t, LocalPbsBackend, nil)
	s.executor.On("qstat", fake.Respond(0, qstatHeld, ""))
	submitted := submitQueued(t, s, "4242.head\n")

	completed, failed := s.PollCompletion(uqcontext.Background(), submitted)
	assert.True(t, completed)
	assert.True(t, failed)
	assert.Equal(t, []string{"qdel 4242"}, s.executor.CommandsContaining("qdel"))
}

func TestQueue_QueryErrorKeepsPending(t *testing.T) {
	s := newTestScheduler(t, RemoteSlurmBackend, nil)
	s.executor.On("squeue", func(*remote.Command) (*remote.Result, error) {
		return nil, errors.New("network unreachable")
	})
	submitted := submitQueued(t, s, "Submitted batch job 4242\n")

	completed, failed := s.PollCompletion(uqcontext.Background(), submitted)
	assert.False(t, completed)
	assert.False(t, failed)
	assert.True(t, s.Alive(uqcontext.Background(), submitted))
}

func TestQueue_Alive(t *testing.T) {
	tests := map[string]struct {
		response  fake.Handler
		alive     bool
		cancelled bool
	}{
		"running": {response: fake.Respond(0, qstatRunning, ""), alive: true},
		"held":    {response: fake.Respond(0, qstatHeld, ""), alive: false, cancelled: true},
		"gone":    {response: fake.Respond(153, "", "qstat: Unknown Job Id 4242.head"), alive: false},
	}
	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			s := newTestScheduler(t, LocalPbsBackend, nil)
			s.executor.On("qstat", tc.response)
			submitted := submitQueued(t, s, "4242.head\n")

			assert.Equal(t, tc.alive, s.Alive(uqcontext.Background(), submitted))
			if tc.cancelled {
				assert.Len(t, s.executor.CommandsContaining("qdel 4242"), 1)
			} else {
				assert.Empty(t, s.executor.CommandsContaining("qdel"))
			}
		})
	}
}

func TestQueue_StatusCache(t *testing.T) {
	s := newTestScheduler(t, LocalSlurmBackend, func(c *Config) { c.StatusCacheTtl = time.Minute })
	s.executor.On("squeue", fake.Respond(0, "R\n", ""))
	submitted := submitQueued(t, s, "Submitted batch job 4242\n")

	assert.True(t, s.Alive(uqcontext.Background(), submitted))
	assert.True(t, s.Alive(uqcontext.Background(), submitted))
	assert.Len(t, s.executor.CommandsContaining("squeue"), 1)
	require.NoError(t, s.PostRun(uqcontext.Background()))
}

func TestQueue_RemoteSubmission(t *testing.T) {
	s := newTestScheduler(t, RemoteSlurmBackend, func(c *Config) { c.Cluster.Walltime = "00:30:00" })
	submitted := submitQueued(t, s, "Submitted batch job 99\n")
	assert.Equal(t, "99", submitted.ProcessId)

	sbatch := s.executor.CommandsContaining("sbatch")
	require.Len(t, sbatch, 1)
	assert.Contains(t, sbatch[0], "ssh cluster")
	assert.Contains(t, sbatch[0], "cd /scratch/exp/1/1 && sbatch /scratch/exp/1/1/exp_1_slurm_")
	assert.Len(t, s.executor.CommandsContaining("scp"), 1)
}
