package impl

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/vortexdb/vortex-gateway/logging"
	"github.com/vortexdb/vortex-gateway/metrics"
	"github.com/vortexdb/vortex-gateway/models"
	"github.com/vortexdb/vortex-gateway/services"
)

// SemanticCache stores finished result sets keyed by query embedding and
// serves them back for near-duplicate queries. Entries are scoped to the
// asking user so one caller can never see another caller's slate.
type SemanticCache struct {
	store      services.VectorStoreClient
	collection string
	threshold  float64
	dim        int
	log        zerolog.Logger
}

func NewSemanticCache(store services.VectorStoreClient, collection string, threshold float64, dim int) *SemanticCache {
	return &SemanticCache{
		store:      store,
		collection: collection,
		threshold:  threshold,
		dim:        dim,
		log:        logging.WithComponent("semantic_cache"),
	}
}

// EnsureCollection provisions the cache collection on first use.
func (c *SemanticCache) EnsureCollection(ctx context.Context) error {
	exists, err := c.store.CollectionExists(ctx, c.collection)
	if err != nil {
		return err
	}
	if exists {
		return nil
	}
	return c.store.CreateCollection(ctx, models.CreateCollectionSpec{
		Name:      c.collection,
		DenseSize: c.dim,
	})
}

// Lookup probes the cache with the query embedding. A hit requires the
// nearest entry to belong to the same user and clear the similarity
// threshold.
func (c *SemanticCache) Lookup(ctx context.Context, queryVec []float32, userID string) ([]models.SearchResult, bool) {
	if len(queryVec) == 0 {
		return nil, false
	}
	filter := &models.Filter{
		Must: []models.FieldCondition{
			{Key: "user_id", Match: models.Match{Value: userID}},
		},
	}
	hits, err := c.store.Search(ctx, c.collection, models.VectorDense, queryVec, nil, 1, filter, true)
	if err != nil {
		c.log.Warn().Err(err).Msg("cache lookup failed, treating as miss")
		metrics.CacheMisses.Inc()
		return nil, false
	}
	if len(hits) == 0 || hits[0].Score < c.threshold {
		metrics.CacheMisses.Inc()
		return nil, false
	}

	raw, ok := hits[0].Payload["results"].(string)
	if !ok {
		metrics.CacheMisses.Inc()
		return nil, false
	}
	var results []models.SearchResult
	if err := json.Unmarshal([]byte(raw), &results); err != nil {
		c.log.Warn().Err(err).Msg("cache entry undecodable, treating as miss")
		metrics.CacheMisses.Inc()
		return nil, false
	}
	metrics.CacheHits.Inc()
	return results, true
}

// Store writes the finished slate under a deterministic per-user key so the
// same query text from the same user overwrites its previous entry.
func (c *SemanticCache) Store(ctx context.Context, queryText string, queryVec []float32, userID string, results []models.SearchResult) {
	if len(queryVec) == 0 {
		return
	}
	raw, err := json.Marshal(results)
	if err != nil {
		c.log.Warn().Err(err).Msg("failed to serialize cache entry")
		return
	}
	pointID := uuid.NewSHA1(pointNamespace, []byte("cache:"+userID+":"+queryText)).String()
	point := models.Point{
		ID:      pointID,
		Vectors: models.NamedVectors{Dense: queryVec},
		Payload: map[string]any{
			"query_text": queryText,
			"user_id":    userID,
			"results":    string(raw),
			"created_at": time.Now().UTC().Format(time.RFC3339),
		},
	}
	if err := c.store.Upsert(ctx, c.collection, []models.Point{point}); err != nil {
		c.log.Warn().Err(err).Msg("failed to write cache entry")
	}
}

// Clear drops and recreates the cache collection.
func (c *SemanticCache) Clear(ctx context.Context) error {
	exists, err := c.store.CollectionExists(ctx, c.collection)
	if err != nil {
		return err
	}
	if exists {
		if err := c.store.DeleteCollection(ctx, c.collection); err != nil {
			return fmt.Errorf("failed to drop cache collection: %w", err)
		}
	}
	return c.store.CreateCollection(ctx, models.CreateCollectionSpec{
		Name:      c.collection,
		DenseSize: c.dim,
	})
}
