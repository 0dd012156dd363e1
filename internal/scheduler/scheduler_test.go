package scheduler

import (
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/uqdispatch/uqdispatch/internal/common/uqcontext"
	"github.com/uqdispatch/uqdispatch/internal/common/uqerrors"
	"github.com/uqdispatch/uqdispatch/internal/common/util"
	"github.com/uqdispatch/uqdispatch/internal/driver"
	"github.com/uqdispatch/uqdispatch/internal/job"
	"github.com/uqdispatch/uqdispatch/internal/remote"
	"github.com/uqdispatch/uqdispatch/internal/remote/fake"
)

var testTime = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

var testDriverConfig = driver.Config{
	Name:       "model",
	Executable: "/opt/sim/run",
}

type countingObserver struct {
	mu        sync.Mutex
	successes int
	failures  int
}

func (o *countingObserver) ObserveSubmission(_ string, success bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if success {
		o.successes++
	} else {
		o.failures++
	}
}

type testScheduler struct {
	*Scheduler
	executor *fake.Executor
	clock    *util.DummyClock
	observer *countingObserver
	dir      string
}

func newTestScheduler(t *testing.T, backend Backend, configure func(*Config)) *testScheduler {
	dir := t.TempDir()
	executor := fake.NewExecutor()
	clock := &util.DummyClock{T: testTime}
	observer := &countingObserver{}
	config := Config{Type: backend, Remote: RemoteConfig{Host: "cluster", ExperimentDir: "/scratch/exp"}}
	if configure != nil {
		configure(&config)
	}
	s, err := New(uqcontext.Background(), config, testDriverConfig, Options{
		ExperimentName: "exp",
		ExperimentDir:  dir,
		Retry:          RetryConfig{MaxAttempts: 3, Delay: 10 * time.Millisecond},
		Clock:          clock,
		Executor:       executor,
		Observer:       observer,
	})
	require.NoError(t, err)
	return &testScheduler{Scheduler: s, executor: executor, clock: clock, observer: observer, dir: dir}
}

func newJob(id int) *job.Job {
	j := job.NewJob(id, 1, map[string]float64{"x": float64(id)}, testTime)
	j.ExperimentName = "exp"
	return j
}

// finish leaves a control file with the given exit code and, on success, a result file.
func (s *testScheduler) finish(t *testing.T, j *job.Job, exitCode string, result string) {
	paths := s.Driver().Paths(j)
	require.NoError(t, os.MkdirAll(paths.LocalOutputDir, 0o755))
	if result != "" {
		require.NoError(t, os.WriteFile(paths.LocalResultFile, []byte(result), 0o644))
	}
	require.NoError(t, os.WriteFile(paths.ControlFile, []byte(exitCode+"\n"), 0o644))
}

func TestParseBackend(t *testing.T) {
	for _, b := range AllBackends {
		parsed, err := ParseBackend(string(b))
		require.NoError(t, err)
		assert.Equal(t, b, parsed)
	}
	parsed, err := ParseBackend(" Remote_Slurm ")
	require.NoError(t, err)
	assert.Equal(t, RemoteSlurmBackend, parsed)

	_, err = ParseBackend("lsf")
	assert.Error(t, err)

	var b Backend
	assert.Error(t, b.UnmarshalText([]byte("ecs")))
	require.NoError(t, b.UnmarshalText([]byte("local_pbs")))
	assert.Equal(t, LocalPbsBackend, b)
}

func TestBackend_QueueKind(t *testing.T) {
	kind, ok := RemotePbsBackend.QueueKind()
	assert.True(t, ok)
	assert.Equal(t, PbsQueue, kind)
	kind, ok = LocalSlurmBackend.QueueKind()
	assert.True(t, ok)
	assert.Equal(t, SlurmQueue, kind)
	_, ok = LocalNohupBackend.QueueKind()
	assert.False(t, ok)
	assert.True(t, RemoteNohupBackend.IsRemote())
	assert.False(t, KubeBackend.IsRemote())
}

func TestNew_InvalidConfig(t *testing.T) {
	tests := map[string]Config{
		"unknown type":        {Type: "lsf"},
		"remote without host": {Type: RemoteSlurmBackend},
		"kube without image":  {Type: KubeBackend},
	}
	for name, config := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := New(uqcontext.Background(), config, testDriverConfig, Options{
				ExperimentName: "exp",
				ExperimentDir:  t.TempDir(),
				Executor:       fake.NewExecutor(),
				KubeClient:     newFakeKubeClient(),
			})
			var e *uqerrors.ErrInvalidArgument
			assert.ErrorAs(t, err, &e)
		})
	}
}

func TestSubmit_Direct(t *testing.T) {
	s := newTestScheduler(t, LocalBackend, nil)
	j := newJob(1)
	s.executor.On("/opt/sim/run", func(*remote.Command) (*remote.Result, error) {
		paths := s.Driver().Paths(j)
		return &remote.Result{}, os.WriteFile(paths.LocalResultFile, []byte("2.5\n"), 0o644)
	})

	submitted, err := s.Submit(uqcontext.Background(), j)
	require.NoError(t, err)
	assert.Equal(t, job.Complete, submitted.Status)
	assert.Equal(t, []float64{2.5}, submitted.Result)
	assert.Equal(t, 1, submitted.Attempts)
	assert.Equal(t, job.New, j.Status, "the submitted job is a copy")

	completed, failed := s.PollCompletion(uqcontext.Background(), submitted)
	assert.True(t, completed)
	assert.False(t, failed)
	assert.False(t, s.Alive(uqcontext.Background(), submitted))
}

func TestSubmit_DirectNonZeroExit(t *testing.T) {
	s := newTestScheduler(t, LocalBackend, nil)
	s.executor.On("/opt/sim/run", fake.Respond(1, "", "segmentation fault"))

	submitted, err := s.Submit(uqcontext.Background(), newJob(1))
	require.NoError(t, err)
	assert.Equal(t, job.Failed, submitted.Status)
	assert.Nil(t, submitted.Result)
	assert.Equal(t, 1, submitted.Attempts)

	completed, failed := s.PollCompletion(uqcontext.Background(), submitted)
	assert.True(t, completed)
	assert.True(t, failed)
}

func TestSubmit_RejectsJobsAlreadySubmitted(t *testing.T) {
	s := newTestScheduler(t, LocalNohupBackend, nil)
	j := newJob(1)
	require.NoError(t, j.Transition(job.Pending, testTime))

	_, err := s.Submit(uqcontext.Background(), j)
	var e *uqerrors.ErrInvalidTransition
	assert.ErrorAs(t, err, &e)
}

func TestSubmit_BrokenAfterMaxAttempts(t *testing.T) {
	s := newTestScheduler(t, LocalNohupBackend, nil)
	var times []time.Time
	s.executor.On("nohup", func(*remote.Command) (*remote.Result, error) {
		times = append(times, time.Now())
		return &remote.Result{ExitCode: 1, Stderr: "fork: resource temporarily unavailable"}, nil
	})

	submitted, err := s.Submit(uqcontext.Background(), newJob(1))
	require.NoError(t, err)
	assert.Equal(t, job.Broken, submitted.Status)
	assert.Equal(t, 3, submitted.Attempts)
	assert.Contains(t, submitted.Error, "after 3 attempts")
	require.Len(t, times, 3)
	for i := 1; i < len(times); i++ {
		assert.GreaterOrEqual(t, times[i].Sub(times[i-1]), 10*time.Millisecond)
	}
	assert.Equal(t, 3, s.observer.failures)
	assert.Equal(t, 0, s.observer.successes)

	// Broken jobs are terminal and never polled again.
	completed, failed := s.PollCompletion(uqcontext.Background(), submitted)
	assert.True(t, completed)
	assert.True(t, failed)
	assert.Len(t, s.executor.CommandsContaining("nohup"), 3)
}

func TestSubmit_RetriesUntilSuccess(t *testing.T) {
	s := newTestScheduler(t, LocalNohupBackend, nil)
	s.executor.On("nohup", fake.Sequence(
		fake.Respond(1, "", "boom"),
		fake.Respond(0, "4242\n", ""),
	))

	submitted, err := s.Submit(uqcontext.Background(), newJob(1))
	require.NoError(t, err)
	assert.Equal(t, job.Pending, submitted.Status)
	assert.Equal(t, 2, submitted.Attempts)
	assert.Equal(t, "4242", submitted.ProcessId)
	assert.Equal(t, 1, submitted.Id, "retries keep the job id")
	assert.Equal(t, 1, s.observer.successes)
	assert.Equal(t, 1, s.observer.failures)
}

func TestSubmit_SetupErrorIsNotRetried(t *testing.T) {
	s := newTestScheduler(t, RemoteNohupBackend, nil)
	s.executor.On("mkdir", fake.Respond(0, "", "mkdir: cannot create directory: Permission denied"))

	_, err := s.Submit(uqcontext.Background(), newJob(1))
	assert.True(t, uqerrors.IsSetup(err))
	assert.Empty(t, s.executor.CommandsContaining("nohup"))
}

func TestSubmit_RemoteStderrIsSubmissionError(t *testing.T) {
	s := newTestScheduler(t, RemotePbsBackend, nil)
	s.executor.On("qsub", fake.Respond(0, "", "qsub: Bad UID for job execution"))

	submitted, err := s.Submit(uqcontext.Background(), newJob(1))
	require.NoError(t, err)
	assert.Equal(t, job.Broken, submitted.Status)
	assert.Len(t, s.executor.CommandsContaining("qsub"), 3)
}

func TestDetached_MissingSentinelNeverCompletes(t *testing.T) {
	s := newTestScheduler(t, LocalNohupBackend, nil)
	s.executor.On("nohup", fake.Respond(0, "99\n", ""))
	submitted, err := s.Submit(uqcontext.Background(), newJob(1))
	require.NoError(t, err)

	for i := 0; i < 50; i++ {
		s.clock.Advance(time.Hour)
		completed, failed := s.PollCompletion(uqcontext.Background(), submitted)
		require.False(t, completed)
		require.False(t, failed)
	}
	assert.Equal(t, job.Pending, submitted.Status)
}

func TestDetached_Completion(t *testing.T) {
	tests := map[string]struct {
		exitCode string
		result   string
		status   job.Status
	}{
		"success":          {exitCode: "0", result: "1,2\n", status: job.Complete},
		"non-zero exit":    {exitCode: "2", result: "1,2\n", status: job.Failed},
		"missing result":   {exitCode: "0", status: job.Failed},
		"garbage sentinel": {exitCode: "oops", result: "1\n", status: job.Failed},
	}
	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			s := newTestScheduler(t, LocalNohupBackend, nil)
			s.executor.On("nohup", fake.Respond(0, "99\n", ""))
			submitted, err := s.Submit(uqcontext.Background(), newJob(1))
			require.NoError(t, err)

			s.finish(t, submitted, tc.exitCode, tc.result)
			completed, failed := s.PollCompletion(uqcontext.Background(), submitted)
			assert.True(t, completed)
			assert.Equal(t, tc.status == job.Failed, failed)
			assert.Equal(t, tc.status, submitted.Status)
			if tc.status == job.Complete {
				assert.Equal(t, []float64{1, 2}, submitted.Result)
			} else {
				assert.Nil(t, submitted.Result)
			}
		})
	}
}

func TestDetached_SentinelTimeout(t *testing.T) {
	s := newTestScheduler(t, LocalNohupBackend, func(c *Config) { c.SentinelTimeout = time.Minute })
	s.executor.On("nohup", fake.Respond(0, "99\n", ""))
	submitted, err := s.Submit(uqcontext.Background(), newJob(1))
	require.NoError(t, err)

	s.clock.Advance(30 * time.Second)
	completed, _ := s.PollCompletion(uqcontext.Background(), submitted)
	assert.False(t, completed)

	s.clock.Advance(time.Minute)
	completed, failed := s.PollCompletion(uqcontext.Background(), submitted)
	assert.True(t, completed)
	assert.True(t, failed)
	assert.Contains(t, submitted.Error, "no control file")
}

func TestDetached_Alive(t *testing.T) {
	s := newTestScheduler(t, LocalNohupBackend, nil)
	s.executor.On("nohup", fake.Respond(0, "99\n", ""))
	s.executor.On("kill -0 99", fake.Sequence(fake.Respond(0, "", ""), fake.Respond(1, "", "No such process")))
	submitted, err := s.Submit(uqcontext.Background(), newJob(1))
	require.NoError(t, err)

	assert.True(t, s.Alive(uqcontext.Background(), submitted))
	assert.False(t, s.Alive(uqcontext.Background(), submitted))
}

func TestPreRun_CopiesFiles(t *testing.T) {
	src := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(src, "mesh.msh"), []byte("mesh"), 0o644))
	dir := t.TempDir()
	config := testDriverConfig
	config.FilesToCopy = []string{filepath.Join(src, "*.msh")}
	s, err := New(uqcontext.Background(), Config{Type: LocalBackend}, config, Options{
		ExperimentName: "exp",
		ExperimentDir:  filepath.Join(dir, "exp"),
		Executor:       fake.NewExecutor(),
	})
	require.NoError(t, err)

	require.NoError(t, s.PreRun(uqcontext.Background()))
	content, err := os.ReadFile(filepath.Join(dir, "exp", "mesh.msh"))
	require.NoError(t, err)
	assert.Equal(t, "mesh", string(content))
	require.NoError(t, s.PostRun(uqcontext.Background()))
}

func TestPreRun_Remote(t *testing.T) {
	src := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(src, "mesh.msh"), []byte("mesh"), 0o644))
	config := testDriverConfig
	config.FilesToCopy = []string{filepath.Join(src, "*.msh")}
	executor := fake.NewExecutor()
	s, err := New(uqcontext.Background(), Config{Type: RemoteBackend, Remote: RemoteConfig{Host: "cluster", ExperimentDir: "/scratch/exp"}}, config, Options{
		ExperimentName: "exp",
		ExperimentDir:  t.TempDir(),
		Executor:       executor,
	})
	require.NoError(t, err)

	require.NoError(t, s.PreRun(uqcontext.Background()))
	assert.Len(t, executor.CommandsContaining("mkdir -p /scratch/exp"), 1)
	assert.Len(t, executor.CommandsContaining("cluster:/scratch/exp/mesh.msh"), 1)
}
