package jobstore

import (
	"fmt"
	"strings"
	"time"

	"github.com/go-redis/redis"
	"github.com/pkg/errors"
	"golang.org/x/exp/maps"
	"golang.org/x/exp/slices"

	"github.com/uqdispatch/uqdispatch/internal/common/uqcontext"
)

const redisKeyPrefix = "uq"

// RedisStore keeps one hash per partition, keyed uq:<namespace>:<collection>:<partition>,
// whose fields are selector keys. If ttl is non-zero every write refreshes the expiry of the hash.
type RedisStore struct {
	db  redis.UniversalClient
	ttl time.Duration
}

func NewRedisStore(db redis.UniversalClient, ttl time.Duration) *RedisStore {
	return &RedisStore{db: db, ttl: ttl}
}

func partitionHash(namespace, collection, partition string) string {
	return fmt.Sprintf("%s:%s:%s:%s", redisKeyPrefix, namespace, collection, partition)
}

func (s *RedisStore) Save(_ *uqcontext.Context, doc []byte, namespace, collection, partition string, selector Selector) error {
	key := partitionHash(namespace, collection, partition)
	_, err := s.db.TxPipelined(func(pipe redis.Pipeliner) error {
		pipe.HSet(key, selector.Key(), doc)
		if s.ttl > 0 {
			pipe.Expire(key, s.ttl)
		}
		return nil
	})
	return errors.WithStack(err)
}

func (s *RedisStore) Load(_ *uqcontext.Context, namespace, collection, partition string) ([][]byte, error) {
	fields, err := s.db.HGetAll(partitionHash(namespace, collection, partition)).Result()
	if err != nil {
		return nil, errors.WithStack(err)
	}
	keys := maps.Keys(fields)
	slices.Sort(keys)
	result := make([][]byte, len(keys))
	for i, k := range keys {
		result[i] = []byte(fields[k])
	}
	return result, nil
}

func (s *RedisStore) LoadOne(_ *uqcontext.Context, namespace, collection, partition string, selector Selector) ([]byte, error) {
	doc, err := s.db.HGet(partitionHash(namespace, collection, partition), selector.Key()).Bytes()
	if err == redis.Nil {
		return nil, nil
	} else if err != nil {
		return nil, errors.WithStack(err)
	}
	return doc, nil
}

func (s *RedisStore) Partitions(_ *uqcontext.Context, namespace, collection string) ([]string, error) {
	prefix := partitionHash(namespace, collection, "")
	partitions := []string{}
	iter := s.db.Scan(0, prefix+"*", 100).Iterator()
	for iter.Next() {
		partitions = append(partitions, strings.TrimPrefix(iter.Val(), prefix))
	}
	if err := iter.Err(); err != nil {
		return nil, errors.WithStack(err)
	}
	slices.Sort(partitions)
	return partitions, nil
}

func (s *RedisStore) Health(_ *uqcontext.Context) error {
	return errors.WithStack(s.db.Ping().Err())
}

func (s *RedisStore) Close() error {
	return s.db.Close()
}
