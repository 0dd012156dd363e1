package jobstore

import (
	"fmt"
	"strings"

	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"
	"github.com/pkg/errors"
	"golang.org/x/exp/maps"
	"golang.org/x/exp/slices"

	"github.com/uqdispatch/uqdispatch/internal/common/config"
	"github.com/uqdispatch/uqdispatch/internal/common/uqcontext"
)

// PostgresStore persists documents to a shared postgres database, for experiments whose jobs are
// inspected from more than one machine.
type PostgresStore struct {
	db *pgxpool.Pool
}

func OpenPgxPool(ctx *uqcontext.Context, cfg config.PostgresConfig) (*pgxpool.Pool, error) {
	poolCfg, err := pgxpool.ParseConfig(CreateConnectionString(cfg.Connection))
	if err != nil {
		return nil, errors.Wrap(err, "cannot parse Postgres connection config")
	}
	if cfg.MaxOpenConns > 0 {
		poolCfg.MaxConns = cfg.MaxOpenConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	pool, err := pgxpool.ConnectConfig(ctx, poolCfg)
	if err != nil {
		return nil, errors.Wrap(err, "cannot create Postgres connection pool")
	}
	return pool, nil
}

// CreateConnectionString turns libpq key/value pairs into a connection string with a stable order.
func CreateConnectionString(values map[string]string) string {
	keys := maps.Keys(values)
	slices.Sort(keys)
	parts := make([]string, len(keys))
	for i, k := range keys {
		parts[i] = fmt.Sprintf("%s=%s", k, values[k])
	}
	return strings.Join(parts, " ")
}

func NewPostgresStore(ctx *uqcontext.Context, db *pgxpool.Pool) (*PostgresStore, error) {
	_, err := db.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS uq_documents (
			namespace TEXT NOT NULL,
			collection TEXT NOT NULL,
			partition TEXT NOT NULL,
			selector TEXT NOT NULL,
			doc BYTEA NOT NULL,
			updated TIMESTAMP NOT NULL DEFAULT now(),
			PRIMARY KEY (namespace, collection, partition, selector))`)
	if err != nil {
		return nil, errors.WithStack(err)
	}
	return &PostgresStore{db: db}, nil
}

func (s *PostgresStore) Save(ctx *uqcontext.Context, doc []byte, namespace, collection, partition string, selector Selector) error {
	_, err := s.db.Exec(ctx, `
		INSERT INTO uq_documents (namespace, collection, partition, selector, doc, updated)
		VALUES ($1, $2, $3, $4, $5, now())
		ON CONFLICT (namespace, collection, partition, selector)
		DO UPDATE SET doc = EXCLUDED.doc, updated = EXCLUDED.updated`,
		namespace, collection, partition, selector.Key(), doc)
	return errors.WithStack(err)
}

func (s *PostgresStore) Load(ctx *uqcontext.Context, namespace, collection, partition string) ([][]byte, error) {
	rows, err := s.db.Query(ctx,
		`SELECT doc FROM uq_documents WHERE namespace = $1 AND collection = $2 AND partition = $3 ORDER BY selector`,
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

func (s *PostgresStore) LoadOne(ctx *uqcontext.Context, namespace, collection, partition string, selector Selector) ([]byte, error) {
	var doc []byte
	err := s.db.QueryRow(ctx,
		`SELECT doc FROM uq_documents WHERE namespace = $1 AND collection = $2 AND partition = $3 AND selector = $4`,
		namespace, collection, partition, selector.Key()).Scan(&doc)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	} else if err != nil {
		return nil, errors.WithStack(err)
	}
	return doc, nil
}

func (s *PostgresStore) Partitions(ctx *uqcontext.Context, namespace, collection string) ([]string, error) {
	rows, err := s.db.Query(ctx,
		`SELECT DISTINCT partition FROM uq_documents WHERE namespace = $1 AND collection = $2 ORDER BY partition`,
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

func (s *PostgresStore) Health(ctx *uqcontext.Context) error {
	return errors.WithStack(s.db.Ping(ctx))
}

func (s *PostgresStore) Close() error {
	s.db.Close()
	return nil
}
