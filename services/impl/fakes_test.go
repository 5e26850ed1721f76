package impl

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/vortexdb/vortex-gateway/models"
)

// fakeStore is an in-memory VectorStoreClient. Defaults are benign; tests
// override the function fields for failure injection and canned hits.
type fakeStore struct {
	mu sync.Mutex

	searchFn   func(collection, using string, limit int, filter *models.Filter) ([]models.ScoredPoint, error)
	retrieveFn func(collection string, ids []string) ([]models.Point, error)
	scrollFn   func(collection string, filter *models.Filter, limit int, cursor string) ([]models.Point, string, error)

	collections map[string]models.CreateCollectionSpec
	upserted    map[string][]models.Point
	searchCalls []searchCall
	deletes     []deleteCall
	payloadSets []payloadSetCall
	uploads     []string
}

type searchCall struct {
	Collection string
	Using      string
	Limit      int
	Filter     *models.Filter
}

type deleteCall struct {
	Collection string
	Filter     *models.Filter
}

type payloadSetCall struct {
	Collection string
	IDs        []string
	Payload    map[string]any
	Merge      bool
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		collections: make(map[string]models.CreateCollectionSpec),
		upserted:    make(map[string][]models.Point),
	}
}

func (f *fakeStore) CreateCollection(ctx context.Context, spec models.CreateCollectionSpec) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.collections[spec.Name] = spec
	return nil
}

func (f *fakeStore) DeleteCollection(ctx context.Context, name string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.collections, name)
	delete(f.upserted, name)
	return nil
}

func (f *fakeStore) ListCollections(ctx context.Context) ([]models.CollectionInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]models.CollectionInfo, 0, len(f.collections))
	for name, spec := range f.collections {
		out = append(out, models.CollectionInfo{
			Name:       name,
			PointCount: int64(len(f.upserted[name])),
			VectorSize: spec.DenseSize,
			Status:     "green",
		})
	}
	return out, nil
}

func (f *fakeStore) CollectionExists(ctx context.Context, name string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.collections[name]
	return ok, nil
}

func (f *fakeStore) Upsert(ctx context.Context, collection string, points []models.Point) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.upserted[collection] = append(f.upserted[collection], points...)
	return nil
}

func (f *fakeStore) Search(ctx context.Context, collection, using string, dense []float32, sparse *models.SparseVector, limit int, filter *models.Filter, withPayload bool) ([]models.ScoredPoint, error) {
	f.mu.Lock()
	f.searchCalls = append(f.searchCalls, searchCall{Collection: collection, Using: using, Limit: limit, Filter: filter})
	fn := f.searchFn
	f.mu.Unlock()
	if fn != nil {
		return fn(collection, using, limit, filter)
	}
	return nil, nil
}

func (f *fakeStore) Retrieve(ctx context.Context, collection string, ids []string, withPayload bool) ([]models.Point, error) {
	f.mu.Lock()
	fn := f.retrieveFn
	points := f.upserted[collection]
	f.mu.Unlock()
	if fn != nil {
		return fn(collection, ids)
	}
	want := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		want[id] = struct{}{}
	}
	var out []models.Point
	for _, p := range points {
		if _, ok := want[p.ID]; ok {
			out = append(out, p)
		}
	}
	return out, nil
}

func (f *fakeStore) SetPayload(ctx context.Context, collection string, ids []string, payload map[string]any, merge bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.payloadSets = append(f.payloadSets, payloadSetCall{Collection: collection, IDs: ids, Payload: payload, Merge: merge})
	return nil
}

func (f *fakeStore) Scroll(ctx context.Context, collection string, filter *models.Filter, limit int, cursor string, withPayload bool) ([]models.Point, string, error) {
	f.mu.Lock()
	fn := f.scrollFn
	points := append([]models.Point(nil), f.upserted[collection]...)
	f.mu.Unlock()
	if fn != nil {
		return fn(collection, filter, limit, cursor)
	}
	// Single page of everything matching an optional db_id condition.
	if cursor != "" {
		return nil, "", nil
	}
	var out []models.Point
	for _, p := range points {
		if matchesDBID(filter, p) {
			out = append(out, p)
		}
	}
	return out, "", nil
}

func matchesDBID(filter *models.Filter, p models.Point) bool {
	if filter.IsZero() {
		return true
	}
	for _, cond := range filter.Must {
		if cond.Key != models.PayloadDBID || cond.Match.Value == nil {
			continue
		}
		if p.Payload[models.PayloadDBID] != cond.Match.Value {
			return false
		}
	}
	return true
}

func (f *fakeStore) Delete(ctx context.Context, collection string, filter *models.Filter) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deletes = append(f.deletes, deleteCall{Collection: collection, Filter: filter})
	kept := f.upserted[collection][:0]
	for _, p := range f.upserted[collection] {
		if !matchesDBID(filter, p) {
			kept = append(kept, p)
		}
	}
	f.upserted[collection] = kept
	return nil
}

func (f *fakeStore) CreateSnapshot(ctx context.Context, collection string) (*models.SnapshotInfo, error) {
	return &models.SnapshotInfo{Name: collection + "-snap-1", Collection: collection}, nil
}

func (f *fakeStore) ListSnapshots(ctx context.Context, collection string) ([]models.SnapshotInfo, error) {
	return nil, nil
}

func (f *fakeStore) DownloadSnapshot(ctx context.Context, collection, name, destPath string) error {
	if err := os.MkdirAll(filepath.Dir(destPath), 0o755); err != nil {
		return err
	}
	return os.WriteFile(destPath, []byte("snapshot"), 0o644)
}

func (f *fakeStore) UploadSnapshot(ctx context.Context, collection, srcPath string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.uploads = append(f.uploads, collection+":"+srcPath)
	return nil
}

func (f *fakeStore) searchCallCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.searchCalls)
}

func (f *fakeStore) upsertedPoints(collection string) []models.Point {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]models.Point(nil), f.upserted[collection]...)
}

// fakeDense embeds every text as a fixed unit vector unless overridden.
type fakeDense struct {
	dim      int
	encodeFn func(text string) ([]float32, error)
}

func (f *fakeDense) Encode(ctx context.Context, text string) ([]float32, error) {
	if f.encodeFn != nil {
		return f.encodeFn(text)
	}
	vec := make([]float32, f.dim)
	if f.dim > 0 {
		vec[0] = 1
	}
	return vec, nil
}

func (f *fakeDense) EncodeBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, text := range texts {
		vec, err := f.Encode(ctx, text)
		if err != nil {
			return nil, err
		}
		out[i] = vec
	}
	return out, nil
}

func (f *fakeDense) Dim() int { return f.dim }

type fakeSplade struct {
	enabled  bool
	encodeFn func(text string) (models.SparseVector, error)
}

func (f *fakeSplade) Enabled() bool { return f.enabled }

func (f *fakeSplade) Encode(ctx context.Context, text string) (models.SparseVector, error) {
	if f.encodeFn != nil {
		return f.encodeFn(text)
	}
	return models.SparseVector{Indices: []uint32{7}, Values: []float32{1}}, nil
}

type fakeCross struct {
	scoreFn func(query string, docs []string) ([]float64, error)
}

func (f *fakeCross) Score(ctx context.Context, query string, docs []string) ([]float64, error) {
	if f.scoreFn != nil {
		return f.scoreFn(query, docs)
	}
	scores := make([]float64, len(docs))
	for i := range scores {
		scores[i] = float64(len(docs) - i)
	}
	return scores, nil
}

var errBackendDown = fmt.Errorf("backend down")
