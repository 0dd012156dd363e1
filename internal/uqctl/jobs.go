package uqctl

import (
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/uqdispatch/uqdispatch/internal/common/uqcontext"
	"github.com/uqdispatch/uqdispatch/internal/experiment"
	"github.com/uqdispatch/uqdispatch/internal/job"
)

// Jobs prints the persisted jobs of the configured experiment. A batch of 0 prints every batch.
func (a *App) Jobs(ctx *uqcontext.Context, batch int, status string) error {
	config, err := a.loadConfig()
	if err != nil {
		return err
	}
	jobs, err := experiment.QueryJobs(ctx, config, batch)
	if err != nil {
		return err
	}

	w := tabwriter.NewWriter(a.Out, 1, 1, 2, ' ', 0)
	fmt.Fprintln(w, "BATCH\tID\tSTATUS\tRESOURCE\tATTEMPTS\tRESULT\tERROR")
	counts := map[job.Status]int{}
	for _, j := range jobs {
		if status != "" && string(j.Status) != status {
			continue
		}
		counts[j.Status]++
		fmt.Fprintf(w, "%d\t%d\t%s\t%s\t%d\t%s\t%s\n",
			j.Batch, j.Id, j.Status, j.Resource, j.Attempts, formatValues(j.Result), firstLine(j.Error))
	}
	if err := w.Flush(); err != nil {
		return err
	}

	summary := make([]string, 0, len(job.AllStatuses))
	for _, s := range job.AllStatuses {
		if counts[s] > 0 {
			summary = append(summary, fmt.Sprintf("%d %s", counts[s], s))
		}
	}
	if len(summary) == 0 {
		fmt.Fprintln(a.Out, "No jobs found")
		return nil
	}
	fmt.Fprintln(a.Out, strings.Join(summary, ", "))
	return nil
}

func formatValues(values []float64) string {
	if values == nil {
		return "-"
	}
	formatted := make([]string, len(values))
	for i, v := range values {
		formatted[i] = fmt.Sprintf("%g", v)
	}
	return strings.Join(formatted, ",")
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}
