// Package vectorindex is the external vector-index binding named in spec
// §6 (upsert_points/delete_points/scroll), backed by two stores: a
// durable philippgille/chromem-go collection for content-addressed point
// storage and query, and an in-memory pkg/vecstore.VectorStore mirror
// kept alongside it as the fast in-process path for QueryFast. Every
// UpsertPoint/DeletePoint writes through to both; QueryEmbedding goes to
// chromem-go, QueryFast does a direct cosine scan against the mirror.
// chromem-go has no built-in ID enumeration API, so Scroll is backed by a
// local per-collection ID set mirrored alongside every write — the same
// tradeoff the teacher's own VectorStore makes by keeping its full chunk
// slice in memory for Search and DeleteBySource.
package vectorindex

import (
	"context"
	"sort"
	"sync"

	chromem "github.com/philippgille/chromem-go"

	"github.com/cortexd/cortexd/pkg/errs"
	"github.com/cortexd/cortexd/pkg/vecstore"
)

type Index struct {
	db *chromem.DB

	mu          sync.Mutex
	collections map[string]*chromem.Collection
	ids         map[string]map[string]struct{}          // collection -> id set
	metadata    map[string]map[string]map[string]string // collection -> id -> metadata
	fast        map[string]*vecstore.VectorStore         // collection -> in-memory cosine mirror (QueryFast)
}

// Open returns an Index backed by a persistent chromem-go database rooted
// at path.
func Open(path string) (*Index, error) {
	db, err := chromem.NewPersistentDB(path, false)
	if err != nil {
		return nil, errs.Transient("vectorindex.open", err)
	}
	return newIndex(db), nil
}

// OpenInMemory returns an Index backed by an ephemeral in-memory
// chromem-go database, used by tests and by callers that persist through
// the primary store alone.
func OpenInMemory() *Index {
	return newIndex(chromem.NewDB())
}

func newIndex(db *chromem.DB) *Index {
	return &Index{
		db:          db,
		collections: make(map[string]*chromem.Collection),
		ids:         make(map[string]map[string]struct{}),
		metadata:    make(map[string]map[string]map[string]string),
		fast:        make(map[string]*vecstore.VectorStore),
	}
}

// fastStore returns the in-memory cosine-similarity mirror for collection,
// creating it on first use. It holds no disk path: unlike the teacher's
// VectorStore it is never Load()ed or Save()d, since chromem-go already
// owns durability here. It exists purely as the low-latency, in-process
// query path QueryFast serves, avoiding a chromem-go round trip for
// collections small enough to scan directly.
func (idx *Index) fastStore(collection string) *vecstore.VectorStore {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	fs, ok := idx.fast[collection]
	if !ok {
		fs = vecstore.NewVectorStore("")
		idx.fast[collection] = fs
	}
	return fs
}

func (idx *Index) collection(name string) (*chromem.Collection, error) {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	if c, ok := idx.collections[name]; ok {
		return c, nil
	}
	c, err := idx.db.GetOrCreateCollection(name, nil, nil)
	if err != nil {
		return nil, errs.Transient("vectorindex.collection", err)
	}
	idx.collections[name] = c
	idx.ids[name] = make(map[string]struct{})
	idx.metadata[name] = make(map[string]map[string]string)
	return c, nil
}

// UpsertPoint writes or replaces one point. chromem-go collections do not
// dedupe document IDs on Add, so an existing point is deleted first.
func (idx *Index) UpsertPoint(ctx context.Context, collection, id string, vector []float32, metadata map[string]string) error {
	c, err := idx.collection(collection)
	if err != nil {
		return err
	}

	_ = c.Delete(ctx, nil, nil, id)
	doc := chromem.Document{ID: id, Embedding: vector, Metadata: metadata}
	if err := c.AddDocument(ctx, doc); err != nil {
		return errs.Transient("vectorindex.upsert_point", err)
	}

	idx.mu.Lock()
	idx.ids[collection][id] = struct{}{}
	idx.metadata[collection][id] = metadata
	idx.mu.Unlock()

	idx.fastStore(collection).Upsert([]vecstore.Chunk{{ID: id, Embedding: vector}})
	return nil
}

// Metadata returns the metadata stored alongside id, if present. Used by
// the Consistency Checker to compare fingerprints without chromem-go's
// missing get-by-id API.
func (idx *Index) Metadata(collection, id string) (map[string]string, bool) {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	m, ok := idx.metadata[collection]
	if !ok {
		return nil, false
	}
	v, ok := m[id]
	return v, ok
}

// BatchUpsertPoints upserts multiple points in one call.
func (idx *Index) BatchUpsertPoints(ctx context.Context, collection string, points []Point) error {
	for _, p := range points {
		if err := idx.UpsertPoint(ctx, collection, p.ID, p.Vector, p.Metadata); err != nil {
			return err
		}
	}
	return nil
}

// Point is one upsert_points payload entry, per spec §6.
type Point struct {
	ID       string
	Vector   []float32
	Metadata map[string]string
}

// DeletePoint removes one point by ID.
func (idx *Index) DeletePoint(ctx context.Context, collection, id string) error {
	c, err := idx.collection(collection)
	if err != nil {
		return err
	}
	if err := c.Delete(ctx, nil, nil, id); err != nil {
		return errs.Transient("vectorindex.delete_point", err)
	}

	idx.mu.Lock()
	delete(idx.ids[collection], id)
	delete(idx.metadata[collection], id)
	idx.mu.Unlock()

	idx.fastStore(collection).DeleteByID(id)
	return nil
}

// Scroll returns up to limit point IDs starting at offset, ordered
// lexically for stable pagination across calls between writes.
func (idx *Index) Scroll(collection string, offset, limit int) ([]string, error) {
	idx.mu.Lock()
	set, ok := idx.ids[collection]
	ids := make([]string, 0, len(set))
	for id := range set {
		ids = append(ids, id)
	}
	idx.mu.Unlock()

	if !ok {
		return nil, nil
	}
	sort.Strings(ids)

	if offset >= len(ids) {
		return nil, nil
	}
	end := offset + limit
	if limit <= 0 || end > len(ids) {
		end = len(ids)
	}
	return ids[offset:end], nil
}

// QueryFast returns the topK nearest points to queryEmbedding using the
// in-memory cosine-similarity mirror instead of chromem-go. It trades
// chromem-go's indexing for a direct linear scan, which is cheaper for
// small collections.
func (idx *Index) QueryFast(collection string, queryEmbedding []float32, topK int) []vecstore.Result {
	return idx.fastStore(collection).Search(queryEmbedding, topK)
}

// QueryEmbedding returns the nResults nearest points to queryEmbedding.
func (idx *Index) QueryEmbedding(ctx context.Context, collection string, queryEmbedding []float32, nResults int) ([]chromem.Result, error) {
	c, err := idx.collection(collection)
	if err != nil {
		return nil, err
	}
	results, err := c.QueryEmbedding(ctx, queryEmbedding, nResults, nil, nil)
	if err != nil {
		return nil, errs.Transient("vectorindex.query_embedding", err)
	}
	return results, nil
}
