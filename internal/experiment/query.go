package experiment

import (
	"github.com/uqdispatch/uqdispatch/internal/common/uqcontext"
	"github.com/uqdispatch/uqdispatch/internal/common/util"
	"github.com/uqdispatch/uqdispatch/internal/experiment/configuration"
	"github.com/uqdispatch/uqdispatch/internal/job"
	"github.com/uqdispatch/uqdispatch/internal/jobstore"
)

// QueryJobs reads the persisted jobs of an experiment from its store. A batch of 0 returns the jobs of
// every batch, ordered by batch and id.
func QueryJobs(ctx *uqcontext.Context, config configuration.ExperimentConfiguration, batch int) ([]*job.Job, error) {
	store, err := jobstore.NewStore(ctx, config.Store)
	if err != nil {
		return nil, err
	}
	defer util.CloseResource(ctx, "job store", store)

	repository := jobstore.NewJobRepository(store, config.ExperimentName)
	batches := []int{batch}
	if batch == 0 {
		if batches, err = repository.Batches(ctx); err != nil {
			return nil, err
		}
	}
	jobs := []*job.Job{}
	for _, b := range batches {
		loaded, err := repository.LoadJobs(ctx, b)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, loaded...)
	}
	return jobs, nil
}
