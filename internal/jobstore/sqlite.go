package jobstore

import (
	"database/sql"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/pkg/errors"
	_ "modernc.org/sqlite"

	"github.com/uqdispatch/uqdispatch/internal/common/uqcontext"
)

// SQLiteStore persists documents to a single sqlite file. This is the default store: it needs no
// server and survives a crashed run.
type SQLiteStore struct {
	db   *sql.DB
	lock sync.RWMutex
}

func NewSQLiteStore(ctx *uqcontext.Context, path string) (*SQLiteStore, error) {
	dbDir := filepath.Dir(path)
	if _, err := os.Stat(dbDir); os.IsNotExist(err) {
		if errMkDir := os.MkdirAll(dbDir, 0o755); errMkDir != nil {
			return nil, errors.Wrapf(errMkDir, "could not make directory at %s for sqlite db", dbDir)
		}
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, errors.Wrapf(err, "error opening sqlite db from %s", path)
	}
	s := &SQLiteStore{db: db}
	if err := s.setup(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *SQLiteStore) setup(ctx *uqcontext.Context) error {
	s.lock.Lock()
	defer s.lock.Unlock()
	stmts := []string{
		"PRAGMA journal_mode=WAL",
		`CREATE TABLE IF NOT EXISTS documents (
			namespace TEXT NOT NULL,
			collection TEXT NOT NULL,
			partition TEXT NOT NULL,
			selector TEXT NOT NULL,
			doc BLOB NOT NULL,
			updated INTEGER NOT NULL,
			PRIMARY KEY (namespace, collection, partition, selector))`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return errors.WithStack(err)
		}
	}
	return nil
}

func (s *SQLiteStore) Save(ctx *uqcontext.Context, doc []byte, namespace, collection, partition string, selector Selector) error {
	s.lock.Lock()
	defer s.lock.Unlock()
	_, err := s.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO documents (namespace, collection, partition, selector, doc, updated) VALUES (?, ?, ?, ?, ?, ?)`,
		namespace, collection, partition, selector.Key(), doc, time.Now().Unix())
	return errors.WithStack(err)
}

func (s *SQLiteStore) Load(ctx *uqcontext.Context, namespace, collection, partition string) ([][]byte, error) {
	s.lock.RLock()
	defer s.lock.RUnlock()
	rows, err := s.db.QueryContext(ctx,
		`SELECT doc FROM documents WHERE namespace = ? AND collection = ? AND partition = ? ORDER BY selector`,
		namespace, collection, partition)
	if err != nil {
		return nil, errors.WithStack(err)
	}
	defer rows.Close()
	result := [][]byte{}
	for rows.Next() {
		var doc []byte
		if err := rows.Scan(&doc); err != nil {
			return nil, errors.WithStack(err)
		}
		result = append(result, doc)
	}
	return result, errors.WithStack(rows.Err())
}

func (s *SQLiteStore) LoadOne(ctx *uqcontext.Context, namespace, collection, partition string, selector Selector) ([]byte, error) {
	s.lock.RLock()
	defer s.lock.RUnlock()
	var doc []byte
	err := s.db.QueryRowContext(ctx,
		`SELECT doc FROM documents WHERE namespace = ? AND collection = ? AND partition = ? AND selector = ?`,
		namespace, collection, partition, selector.Key()).Scan(&doc)
	if err == sql.ErrNoRows {
		return nil, nil
	} else if err != nil {
		return nil, errors.WithStack(err)
	}
	return doc, nil
}

func (s *SQLiteStore) Partitions(ctx *uqcontext.Context, namespace, collection string) ([]string, error) {
	s.lock.RLock()
	defer s.lock.RUnlock()
	rows, err := s.db.QueryContext(ctx,
		`SELECT DISTINCT partition FROM documents WHERE namespace = ? AND collection = ? ORDER BY partition`,
		namespace, collection)
	if err != nil {
		return nil, errors.WithStack(err)
	}
	defer rows.Close()
	partitions := []string{}
	for rows.Next() {
		var partition string
		if err := rows.Scan(&partition); err != nil {
			return nil, errors.WithStack(err)
		}
		partitions = append(partitions, partition)
	}
	return partitions, errors.WithStack(rows.Err())
}

func (s *SQLiteStore) Health(ctx *uqcontext.Context) error {
	return errors.WithStack(s.db.PingContext(ctx))
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
