package jobdb

import (
	"fmt"

	"github.com/hashicorp/go-memdb"
	"github.com/pkg/errors"
	"golang.org/x/exp/slices"

	"github.com/uqdispatch/uqdispatch/internal/job"
)

const (
	jobsTable   = "jobs"
	idIndex     = "id"     // (batch, id) primary key
	batchIndex  = "batch"  // all jobs of a batch
	statusIndex = "status" // all jobs in a given status
)

// JobDb is the per-run table of jobs. It is the primary coordination channel of the dispatcher:
// the poll loop reads unfinished jobs from it and the dispatch workers write status changes to it.
// The persistent job store only mirrors it.
// JobDb is implemented on top of https://github.com/hashicorp/go-memdb which is a simple in-memory database built on
// immutable radix trees.
type JobDb struct {
	// In-memory database. Stores *job.Job.
	Db *memdb.MemDB
}

func NewJobDb() (*JobDb, error) {
	db, err := memdb.NewMemDB(jobDbSchema())
	if err != nil {
		return nil, errors.WithStack(err)
	}
	return &JobDb{
		Db: db,
	}, nil
}

// Upsert will insert the given jobs if they don't already exist or update them if they do.
// Any jobs passed to this function *must not* be subsequently modified
func (jobDb *JobDb) Upsert(txn *memdb.Txn, jobs ...*job.Job) error {
	for _, j := range jobs {
		if err := txn.Insert(jobsTable, j); err != nil {
			return errors.WithStack(err)
		}
	}
	return nil
}

// GetById returns the job with the given batch and id or nil if no such job exists.
// The Job returned by this function *must not* be subsequently modified
func (jobDb *JobDb) GetById(txn *memdb.Txn, batch int, id int) (*job.Job, error) {
	obj, err := txn.First(jobsTable, idIndex, batch, id)
	if err != nil {
		return nil, errors.WithStack(err)
	}
	if obj == nil {
		return nil, nil
	}
	return obj.(*job.Job), nil
}

// GetBatch returns all jobs of a batch sorted by id.
func (jobDb *JobDb) GetBatch(txn *memdb.Txn, batch int) ([]*job.Job, error) {
	iter, err := txn.Get(jobsTable, batchIndex, batch)
	if err != nil {
		return nil, errors.WithStack(err)
	}
	return collectSorted(iter), nil
}

// GetUnfinished returns the jobs of a batch that are not yet in a terminal state, sorted by id.
func (jobDb *JobDb) GetUnfinished(txn *memdb.Txn, batch int) ([]*job.Job, error) {
	jobs, err := jobDb.GetBatch(txn, batch)
	if err != nil {
		return nil, err
	}
	unfinished := make([]*job.Job, 0, len(jobs))
	for _, j := range jobs {
		if !j.InTerminalState() {
			unfinished = append(unfinished, j)
		}
	}
	return unfinished, nil
}

// GetByStatus returns all jobs, across batches, with the given status.
func (jobDb *JobDb) GetByStatus(txn *memdb.Txn, status job.Status) ([]*job.Job, error) {
	iter, err := txn.Get(jobsTable, statusIndex, string(status))
	if err != nil {
		return nil, errors.WithStack(err)
	}
	return collectSorted(iter), nil
}

// CountByStatus returns the number of jobs per status. Every status is present in the result.
func (jobDb *JobDb) CountByStatus(txn *memdb.Txn) (map[job.Status]int, error) {
	counts := make(map[job.Status]int, len(job.AllStatuses))
	for _, status := range job.AllStatuses {
		iter, err := txn.Get(jobsTable, statusIndex, string(status))
		if err != nil {
			return nil, errors.WithStack(err)
		}
		n := 0
		for obj := iter.Next(); obj != nil; obj = iter.Next() {
			n++
		}
		counts[status] = n
	}
	return counts, nil
}

// ReadTxn returns a read-only transaction.
// Multiple read-only transactions can access the db concurrently
func (jobDb *JobDb) ReadTxn() *memdb.Txn {
	return jobDb.Db.Txn(false)
}

// WriteTxn returns a writeable transaction.
// Only a single write transaction may access the db at any given time
func (jobDb *JobDb) WriteTxn() *memdb.Txn {
	return jobDb.Db.Txn(true)
}

// Update applies fn to a copy of the job with the given key and stores the result in a single write
// transaction. fn may return an error to leave the table untouched.
func (jobDb *JobDb) Update(batch int, id int, fn func(j *job.Job) error) (*job.Job, error) {
	txn := jobDb.WriteTxn()
	defer txn.Abort()
	existing, err := jobDb.GetById(txn, batch, id)
	if err != nil {
		return nil, err
	}
	if existing == nil {
		return nil, errors.Errorf("job %d of batch %d is not in the job table", id, batch)
	}
	updated := existing.DeepCopy()
	if err := fn(updated); err != nil {
		return nil, err
	}
	if err := jobDb.Upsert(txn, updated); err != nil {
		return nil, err
	}
	txn.Commit()
	return updated, nil
}

func collectSorted(iter memdb.ResultIterator) []*job.Job {
	result := make([]*job.Job, 0)
	for obj := iter.Next(); obj != nil; obj = iter.Next() {
		j, ok := obj.(*job.Job)
		if !ok {
			panic(fmt.Sprintf("expected *job.Job, but got %T", obj))
		}
		result = append(result, j)
	}
	// Integer keys are varint encoded by memdb, so index order is not numeric order.
	slices.SortFunc(result, func(a, b *job.Job) bool {
		if a.Batch != b.Batch {
			return a.Batch < b.Batch
		}
		return a.Id < b.Id
	})
	return result
}

// jobDbSchema() creates the database schema.
// This is a simple schema consisting of a single "jobs" table with indexes for fast lookups
func jobDbSchema() *memdb.DBSchema {
	indexes := make(map[string]*memdb.IndexSchema)
	indexes[idIndex] = &memdb.IndexSchema{
		Name:   idIndex, // lookup by primary key
		Unique: true,
		Indexer: &memdb.CompoundIndex{
			Indexes: []memdb.Indexer{
				&memdb.IntFieldIndex{Field: "Batch"},
				&memdb.IntFieldIndex{Field: "Id"},
			},
		},
	}
	indexes[batchIndex] = &memdb.IndexSchema{
		Name:    batchIndex,
		Unique:  false,
		Indexer: &memdb.IntFieldIndex{Field: "Batch"},
	}
	indexes[statusIndex] = &memdb.IndexSchema{
		Name:    statusIndex,
		Unique:  false,
		Indexer: &memdb.StringFieldIndex{Field: "Status"},
	}
	return &memdb.DBSchema{
		Tables: map[string]*memdb.TableSchema{
			jobsTable: {
				Name:    jobsTable,
				Indexes: indexes,
			},
		},
	}
}
