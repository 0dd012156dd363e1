package jobstore

import (
	"encoding/json"
	"strconv"

	"github.com/pkg/errors"
	"golang.org/x/exp/slices"

	"github.com/uqdispatch/uqdispatch/internal/common/uqcontext"
	"github.com/uqdispatch/uqdispatch/internal/job"
)

const jobsCollection = "jobs"

// JobRepository stores jobs as json documents. The namespace is the experiment name, the partition
// the batch number and the selector the job id, so that exactly one record exists per
// (experiment, batch, id).
type JobRepository struct {
	store      Store
	experiment string
}

func NewJobRepository(store Store, experiment string) *JobRepository {
	return &JobRepository{
		store:      store,
		experiment: experiment,
	}
}

func jobSelector(id int) Selector {
	return Selector{"id": strconv.Itoa(id)}
}

func (r *JobRepository) SaveJob(ctx *uqcontext.Context, j *job.Job) error {
	doc, err := json.Marshal(j)
	if err != nil {
		return errors.Wrapf(err, "could not encode job %s", j.Key())
	}
	return r.store.Save(ctx, doc, r.experiment, jobsCollection, strconv.Itoa(j.Batch), jobSelector(j.Id))
}

// LoadJobs returns every stored job of a batch, sorted by id.
func (r *JobRepository) LoadJobs(ctx *uqcontext.Context, batch int) ([]*job.Job, error) {
	docs, err := r.store.Load(ctx, r.experiment, jobsCollection, strconv.Itoa(batch))
	if err != nil {
		return nil, err
	}
	jobs := make([]*job.Job, 0, len(docs))
	for _, doc := range docs {
		j := &job.Job{}
		if err := json.Unmarshal(doc, j); err != nil {
			return nil, errors.Wrapf(err, "could not decode job of batch %d", batch)
		}
		jobs = append(jobs, j)
	}
	// Selector keys sort lexically ("id=10" < "id=2").
	slices.SortFunc(jobs, func(a, b *job.Job) bool {
		return a.Id < b.Id
	})
	return jobs, nil
}

// LoadJob returns nil if the job has never been stored.
func (r *JobRepository) LoadJob(ctx *uqcontext.Context, batch int, id int) (*job.Job, error) {
	doc, err := r.store.LoadOne(ctx, r.experiment, jobsCollection, strconv.Itoa(batch), jobSelector(id))
	if err != nil || doc == nil {
		return nil, err
	}
	j := &job.Job{}
	if err := json.Unmarshal(doc, j); err != nil {
		return nil, errors.Wrapf(err, "could not decode job %d of batch %d", id, batch)
	}
	return j, nil
}

// Batches returns the batch numbers that have stored jobs, in ascending order.
func (r *JobRepository) Batches(ctx *uqcontext.Context) ([]int, error) {
	partitions, err := r.store.Partitions(ctx, r.experiment, jobsCollection)
	if err != nil {
		return nil, err
	}
	batches := make([]int, 0, len(partitions))
	for _, p := range partitions {
		batch, err := strconv.Atoi(p)
		if err != nil {
			return nil, errors.Wrapf(err, "unexpected partition %q in job collection", p)
		}
		batches = append(batches, batch)
	}
	slices.Sort(batches)
	return batches, nil
}
