package scheduler

import (
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/patrickmn/go-cache"
	"github.com/pkg/errors"

	"github.com/uqdispatch/uqdispatch/internal/common/uqcontext"
	"github.com/uqdispatch/uqdispatch/internal/driver"
	"github.com/uqdispatch/uqdispatch/internal/job"
	"github.com/uqdispatch/uqdispatch/internal/remote"
)

type QueueKind string

const (
	PbsQueue   QueueKind = "pbs"
	SlurmQueue QueueKind = "slurm"
)

// QueueState is what the batch system reports about a job.
type QueueState int

const (
	// The batch system no longer lists the job, usually because it has finished.
	QueueAbsent QueueState = iota
	QueueQueued
	QueueRunning
	// Held or suspended jobs make no progress until someone intervenes.
	QueueHeld
)

func (s QueueState) String() string {
	switch s {
	case QueueQueued:
		return "queued"
	case QueueRunning:
		return "running"
	case QueueHeld:
		return "held"
	default:
		return "absent"
	}
}

var (
	slurmStates = map[string]QueueState{
		"PD": QueueQueued,
		"CF": QueueQueued,
		"R":  QueueRunning,
		"CG": QueueRunning,
		"S":  QueueHeld,
		"ST": QueueHeld,
	}
	pbsStates = map[string]QueueState{
		"Q": QueueQueued,
		"W": QueueQueued,
		"T": QueueQueued,
		"R": QueueRunning,
		"E": QueueRunning,
		"H": QueueHeld,
		"S": QueueHeld,
	}
)

func (k QueueKind) submitCommand() string {
	if k == PbsQueue {
		return "qsub"
	}
	return "sbatch"
}

func (k QueueKind) cancelCommand() string {
	if k == PbsQueue {
		return "qdel"
	}
	return "scancel"
}

func (k QueueKind) statusCommand(id string) *remote.Command {
	if k == PbsQueue {
		return remote.NewCommand("qstat", id)
	}
	return remote.NewCommand("squeue", "-h", "-j", id, "-o", "%t")
}

// ParseQueueJobId extracts the job id from the output of qsub ("1234.server") or sbatch
// ("Submitted batch job 1234").
func ParseQueueJobId(kind QueueKind, output string) (string, error) {
	output = strings.TrimSpace(output)
	var id string
	switch kind {
	case PbsQueue:
		id = strings.SplitN(output, ".", 2)[0]
	case SlurmQueue:
		if fields := strings.Fields(output); len(fields) > 0 {
			id = fields[len(fields)-1]
		}
	default:
		return "", errors.Errorf("unknown queue %q", kind)
	}
	if _, err := strconv.Atoi(id); err != nil {
		return "", errors.Errorf("no job id in %s submission output %q", kind, output)
	}
	return id, nil
}

// ParseQueueState interprets the output of the status command of a job that the batch system still
// knows about. Finished states count as absent.
func ParseQueueState(kind QueueKind, output string) QueueState {
	lines := strings.Split(strings.TrimSpace(output), "\n")
	fields := strings.Fields(lines[len(lines)-1])
	if len(fields) == 0 {
		return QueueAbsent
	}
	if kind == PbsQueue {
		// Job id, name, user, time used, state, queue.
		if len(fields) < 2 {
			return QueueAbsent
		}
		if state, ok := pbsStates[fields[len(fields)-2]]; ok {
			return state
		}
		return QueueAbsent
	}
	if state, ok := slurmStates[fields[0]]; ok {
		return state
	}
	return QueueAbsent
}

// unknownJob reports whether a failed status query means the batch system has forgotten the job.
func unknownJob(result *remote.Result) bool {
	stderr := strings.ToLower(result.Stderr)
	return strings.Contains(stderr, "unknown job id") || strings.Contains(stderr, "invalid job id")
}

// queueLauncher submits generated job scripts to PBS or Slurm.
type queueLauncher struct {
	kind      QueueKind
	driver    *driver.Driver
	transport remote.Transport
	options   driver.ClusterOptions
	sentinel  *sentinelWatcher
	// Nil when status answers are not cached.
	statusCache *cache.Cache

	mu sync.Mutex
	// When each job was first missing from the queue without a control file.
	absentSince map[string]time.Time
}

func newQueueLauncher(_ *uqcontext.Context, config Config, d *driver.Driver, opts Options) (launcher, error) {
	kind, ok := config.Type.QueueKind()
	if !ok {
		return nil, errors.Errorf("scheduler type %s has no queue", config.Type)
	}
	l := &queueLauncher{
		kind:      kind,
		driver:    d,
		transport: d.Transport(),
		options: driver.ClusterOptions{
			Walltime:      config.Cluster.Walltime,
			ClusterScript: config.Cluster.ClusterScript,
			Output:        config.Cluster.Output,
			Options:       config.Cluster.Options,
		},
		sentinel: &sentinelWatcher{
			driver:    d,
			transport: d.Transport(),
			clock:     opts.Clock,
			timeout:   config.SentinelTimeout,
		},
		absentSince: map[string]time.Time{},
	}
	if config.StatusCacheTtl > 0 {
		l.statusCache = cache.New(config.StatusCacheTtl, 2*config.StatusCacheTtl)
	}
	return l, nil
}

func (l *queueLauncher) launch(ctx *uqcontext.Context, j *job.Job) error {
	script, err := l.driver.GenerateSubmissionScript(ctx, j, driver.ScriptKind(l.kind), l.options)
	if err != nil {
		return err
	}
	cmd := remote.NewCommand(l.kind.submitCommand(), script).InDir(l.driver.Paths(j).JobDir)
	result, err := remote.RunChecked(ctx, l.transport, cmd)
	if err != nil {
		return err
	}
	id, err := ParseQueueJobId(l.kind, result.Stdout)
	if err != nil {
		return err
	}
	j.ProcessId = id
	ctx.Log.Infof("submitted as %s job %s", l.kind, id)
	return nil
}

func (l *queueLauncher) poll(ctx *uqcontext.Context, j *job.Job) {
	if l.sentinel.check(ctx, j) {
		l.forget(j)
		return
	}
	state, err := l.queueState(ctx, j.ProcessId)
	if err != nil {
		ctx.Log.WithError(err).Warnf("could not query %s job %s", l.kind, j.ProcessId)
		return
	}
	switch state {
	case QueueHeld:
		l.cancel(ctx, j)
		l.sentinel.fail(ctx, j, fmt.Sprintf("%s job %s was held or suspended", l.kind, j.ProcessId))
		l.forget(j)
	case QueueAbsent:
		since := l.markAbsent(j)
		if l.sentinel.expired(since) {
			l.sentinel.fail(ctx, j, fmt.Sprintf("%s job %s left the queue without a control file", l.kind, j.ProcessId))
			l.forget(j)
		}
	default:
		ctx.Log.Debugf("%s job %s is %s", l.kind, j.ProcessId, state)
	}
}

func (l *queueLauncher) alive(ctx *uqcontext.Context, j *job.Job) bool {
	state, err := l.queueState(ctx, j.ProcessId)
	if err != nil {
		ctx.Log.WithError(err).Warnf("could not query %s job %s", l.kind, j.ProcessId)
		return true
	}
	switch state {
	case QueueQueued, QueueRunning:
		return true
	case QueueHeld:
		l.cancel(ctx, j)
		return false
	default:
		return false
	}
}

func (l *queueLauncher) queueState(ctx *uqcontext.Context, id string) (QueueState, error) {
	if l.statusCache != nil {
		if state, ok := l.statusCache.Get(id); ok {
			return state.(QueueState), nil
		}
	}
	cmd := l.kind.statusCommand(id)
	result, err := l.transport.Run(ctx, cmd)
	if err != nil {
		return QueueAbsent, err
	}
	var state QueueState
	switch {
	case result.ExitCode == 0:
		state = ParseQueueState(l.kind, result.Stdout)
	case unknownJob(result):
		state = QueueAbsent
	default:
		return QueueAbsent, remote.CheckResult(l.transport.Host(), cmd, result)
	}
	if l.statusCache != nil {
		l.statusCache.SetDefault(id, state)
	}
	return state, nil
}

func (l *queueLauncher) cancel(ctx *uqcontext.Context, j *job.Job) {
	ctx.Log.Warnf("cancelling %s job %s", l.kind, j.ProcessId)
	if _, err := remote.RunChecked(ctx, l.transport, remote.NewCommand(l.kind.cancelCommand(), j.ProcessId)); err != nil {
		ctx.Log.WithError(err).Warnf("failed to cancel %s job %s", l.kind, j.ProcessId)
	}
	if l.statusCache != nil {
		l.statusCache.Delete(j.ProcessId)
	}
}

func (l *queueLauncher) markAbsent(j *job.Job) time.Time {
	l.mu.Lock()
	defer l.mu.Unlock()
	since, ok := l.absentSince[j.Key()]
	if !ok {
		since = l.sentinel.clock.Now()
		l.absentSince[j.Key()] = since
	}
	return since
}

func (l *queueLauncher) forget(j *job.Job) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.absentSince, j.Key())
}

func (l *queueLauncher) close() {
	if l.statusCache != nil {
		l.statusCache.Flush()
	}
}
