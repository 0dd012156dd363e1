package job

import (
	"fmt"
	"time"

	"golang.org/x/exp/maps"
	"golang.org/x/exp/slices"

	"github.com/uqdispatch/uqdispatch/internal/common/uqerrors"
)

type Status string

const (
	New      Status = "new"
	Pending  Status = "pending"
	Complete Status = "complete"
	Failed   Status = "failed"
	Broken   Status = "broken"
)

var AllStatuses = []Status{New, Pending, Complete, Failed, Broken}

// Terminal returns true for complete, failed and broken. No transition leaves a terminal status.
func (s Status) Terminal() bool {
	return s == Complete || s == Failed || s == Broken
}

func (s Status) Valid() bool {
	return slices.Contains(AllStatuses, s)
}

func (s Status) String() string {
	return string(s)
}

// transitions lists, for every non-terminal status, the statuses it may move to.
var transitions = map[Status][]Status{
	New:     {Pending, Broken},
	Pending: {Complete, Failed, Broken},
}

// Job is one evaluation of the model at one point of the parameter space.
// Jobs stored in a JobDb must not be modified in place; DeepCopy first.
type Job struct {
	// 1-based, dense within one batch.
	Id    int `json:"id"`
	Batch int `json:"batch"`

	ExperimentName string `json:"experimentName"`
	// Working directory of the job on the host that runs it, i.e. the remote directory for remote backends.
	ExperimentDir string             `json:"experimentDir"`
	DriverName    string             `json:"driverName"`
	Resource      string             `json:"resource"`
	Params        map[string]float64 `json:"params"`
	Status        Status             `json:"status"`

	SubmitTime time.Time `json:"submitTime"`
	StartTime  time.Time `json:"startTime"`
	EndTime    time.Time `json:"endTime"`

	// Nil until the job completes.
	Result   []float64 `json:"result,omitempty"`
	Gradient []float64 `json:"gradient,omitempty"`

	// Backend handle: a pid, an external queue job id or a kubernetes job name.
	ProcessId string `json:"processId,omitempty"`
	// Number of submission attempts made so far.
	Attempts int `json:"attempts"`
	// Reason for the last failure, if any.
	Error string `json:"error,omitempty"`
}

// NewJob returns a job in the new state.
func NewJob(id int, batch int, params map[string]float64, now time.Time) *Job {
	return &Job{
		Id:         id,
		Batch:      batch,
		Params:     maps.Clone(params),
		Status:     New,
		SubmitTime: now,
	}
}

// Key identifies the job within an experiment.
func (j *Job) Key() string {
	return fmt.Sprintf("%d/%d", j.Batch, j.Id)
}

// InTerminalState returns true if the job is complete, failed or broken.
func (j *Job) InTerminalState() bool {
	return j.Status.Terminal()
}

// Transition moves the job to status to. Moving to the current status is a no-op.
// Start and end times are stamped on entering pending and a terminal status respectively.
func (j *Job) Transition(to Status, now time.Time) error {
	if j.Status == to {
		return nil
	}
	if !slices.Contains(transitions[j.Status], to) {
		return &uqerrors.ErrInvalidTransition{JobId: j.Id, From: string(j.Status), To: string(to)}
	}
	j.Status = to
	switch {
	case to == Pending:
		j.StartTime = now
	case to.Terminal():
		j.EndTime = now
	}
	return nil
}

// MarkFailed moves the job to failed and clears any partial result.
func (j *Job) MarkFailed(reason string, now time.Time) error {
	if err := j.Transition(Failed, now); err != nil {
		return err
	}
	j.Result = nil
	j.Gradient = nil
	j.Error = reason
	return nil
}

// SetResult records the output of a completed run. The job itself is not moved to complete.
func (j *Job) SetResult(result []float64, gradient []float64) {
	j.Result = slices.Clone(result)
	j.Gradient = slices.Clone(gradient)
}

// HasResult reports whether the job carries a usable result.
func (j *Job) HasResult() bool {
	return j.Status == Complete && j.Result != nil
}

// SameParams reports whether both jobs were evaluated at the same point.
func (j *Job) SameParams(other *Job) bool {
	return maps.Equal(j.Params, other.Params)
}

// ParamNames returns the parameter names in lexical order.
func (j *Job) ParamNames() []string {
	names := maps.Keys(j.Params)
	slices.Sort(names)
	return names
}

// DeepCopy is needed because jobs stored in the JobDb cannot be modified in-place
func (j *Job) DeepCopy() *Job {
	if j == nil {
		return nil
	}
	c := *j
	c.Params = maps.Clone(j.Params)
	c.Result = slices.Clone(j.Result)
	c.Gradient = slices.Clone(j.Gradient)
	return &c
}
