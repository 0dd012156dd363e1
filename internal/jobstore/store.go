package jobstore

import (
	"fmt"
	"strings"

	"golang.org/x/exp/maps"
	"golang.org/x/exp/slices"

	"github.com/uqdispatch/uqdispatch/internal/common/uqcontext"
)

// Selector identifies one document within a partition, e.g. {"id": "3"}.
type Selector map[string]string

// Key is the canonical form of the selector: sorted k=v pairs joined by commas.
func (s Selector) Key() string {
	keys := maps.Keys(s)
	slices.Sort(keys)
	parts := make([]string, len(keys))
	for i, k := range keys {
		parts[i] = fmt.Sprintf("%s=%s", k, s[k])
	}
	return strings.Join(parts, ",")
}

// Store is an opaque document store. Documents are addressed by
// (namespace, collection, partition, selector); saving to an existing address replaces the document.
// Writes for different selectors never conflict.
type Store interface {
	Save(ctx *uqcontext.Context, doc []byte, namespace, collection, partition string, selector Selector) error
	// Load returns every document of a partition, ordered by selector key.
	Load(ctx *uqcontext.Context, namespace, collection, partition string) ([][]byte, error)
	// LoadOne returns nil if no document exists at the address.
	LoadOne(ctx *uqcontext.Context, namespace, collection, partition string, selector Selector) ([]byte, error)
	// Partitions lists the partitions of a collection.
	Partitions(ctx *uqcontext.Context, namespace, collection string) ([]string, error)
	Health(ctx *uqcontext.Context) error
	Close() error
}
