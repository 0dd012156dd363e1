package jobstore

import (
	"sync"

	"golang.org/x/exp/maps"
	"golang.org/x/exp/slices"

	"github.com/uqdispatch/uqdispatch/internal/common/uqcontext"
)

type partitionKey struct {
	namespace  string
	collection string
	partition  string
}

// InMemoryStore keeps documents in process memory. It is used in tests and for runs that do not need
// to survive a restart.
type InMemoryStore struct {
	docs map[partitionKey]map[string][]byte
	lock sync.RWMutex
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		docs: map[partitionKey]map[string][]byte{},
	}
}

func (s *InMemoryStore) Save(_ *uqcontext.Context, doc []byte, namespace, collection, partition string, selector Selector) error {
	s.lock.Lock()
	defer s.lock.Unlock()
	key := partitionKey{namespace, collection, partition}
	if _, ok := s.docs[key]; !ok {
		s.docs[key] = map[string][]byte{}
	}
	s.docs[key][selector.Key()] = slices.Clone(doc)
	return nil
}

func (s *InMemoryStore) Load(_ *uqcontext.Context, namespace, collection, partition string) ([][]byte, error) {
	s.lock.RLock()
	defer s.lock.RUnlock()
	docs := s.docs[partitionKey{namespace, collection, partition}]
	keys := maps.Keys(docs)
	slices.Sort(keys)
	result := make([][]byte, len(keys))
	for i, k := range keys {
		result[i] = slices.Clone(docs[k])
	}
	return result, nil
}

func (s *InMemoryStore) LoadOne(_ *uqcontext.Context, namespace, collection, partition string, selector Selector) ([]byte, error) {
	s.lock.RLock()
	defer s.lock.RUnlock()
	doc, ok := s.docs[partitionKey{namespace, collection, partition}][selector.Key()]
	if !ok {
		return nil, nil
	}
	return slices.Clone(doc), nil
}

func (s *InMemoryStore) Partitions(_ *uqcontext.Context, namespace, collection string) ([]string, error) {
	s.lock.RLock()
	defer s.lock.RUnlock()
	partitions := []string{}
	for key := range s.docs {
		if key.namespace == namespace && key.collection == collection {
			partitions = append(partitions, key.partition)
		}
	}
	slices.Sort(partitions)
	return partitions, nil
}

func (s *InMemoryStore) Health(_ *uqcontext.Context) error {
	return nil
}

func (s *InMemoryStore) Close() error {
	return nil
}
