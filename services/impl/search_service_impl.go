package impl

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/vortexdb/vortex-gateway/config"
	"github.com/vortexdb/vortex-gateway/logging"
	"github.com/vortexdb/vortex-gateway/metrics"
	"github.com/vortexdb/vortex-gateway/models"
	"github.com/vortexdb/vortex-gateway/security"
	"github.com/vortexdb/vortex-gateway/services"
)

// hybridSearchServiceImpl implements HybridSearchService.
type hybridSearchServiceImpl struct {
	store      services.VectorStoreClient
	encoders   services.EncoderSet
	cache      *SemanticCache
	cfg        *config.SearchConfig
	encryption *security.EncryptionService
	audit      *security.AuditLogger
	log        zerolog.Logger
}

// NewHybridSearchService wires the full query pipeline. cache may be nil
// when the semantic cache is disabled.
func NewHybridSearchService(
	store services.VectorStoreClient,
	encoders services.EncoderSet,
	cache *SemanticCache,
	cfg *config.SearchConfig,
	encryption *security.EncryptionService,
	audit *security.AuditLogger,
) services.HybridSearchService {
	return &hybridSearchServiceImpl{
		store:      store,
		encoders:   encoders,
		cache:      cache,
		cfg:        cfg,
		encryption: encryption,
		audit:      audit,
		log:        logging.WithComponent("hybrid_search"),
	}
}

func (s *hybridSearchServiceImpl) HybridSearch(ctx context.Context, req models.HybridSearchRequest, userCtx *security.UserContext) (*models.SearchResponse, error) {
	start := time.Now()
	if userCtx == nil {
		userCtx = security.GuestContext()
	}

	topK, err := s.resolveTopK(req.TopK)
	if err != nil {
		return nil, err
	}
	if topK == 0 {
		return &models.SearchResponse{Status: "success", Results: []models.SearchResult{}}, nil
	}
	queryText := strings.TrimSpace(req.QueryText)
	if queryText == "" {
		return nil, models.ErrInvalidRequest("query_text must not be empty")
	}

	collections := req.Collections
	if len(collections) == 0 {
		collections = []string{s.cfg.DefaultCollection}
	}
	weights := s.resolveWeights(req)
	filter := s.tenancyFilter(userCtx)

	// The dense query vector backs both the cache probe and the dense
	// channel; losing it degrades to sparse-only rather than failing.
	var queryVec []float32
	if s.encoders.Dense != nil {
		encStart := time.Now()
		queryVec, err = s.encoders.Dense.Encode(ctx, queryText)
		metrics.SearchStageDuration.WithLabelValues("encode").Observe(time.Since(encStart).Seconds())
		if err != nil {
			s.log.Warn().Err(err).Msg("dense encode failed, continuing without dense channel")
			queryVec = nil
		}
	}

	if s.cache != nil && len(queryVec) > 0 {
		if cached, hit := s.cache.Lookup(ctx, queryVec, userCtx.UserID); hit {
			results := s.scrubResults(cached, userCtx)
			s.recordSearch(userCtx, queryText, "cache_hit", len(results), start)
			return &models.SearchResponse{Status: "success", Results: results, Cached: true}, nil
		}
	}

	var sparseVec *models.SparseVector
	if s.encoders.Sparse != nil && s.encoders.Sparse.IsFitted() {
		if vec, encErr := s.encoders.Sparse.Encode(queryText); encErr == nil && !vec.IsEmpty() {
			sparseVec = &vec
		}
	}
	var spladeVec *models.SparseVector
	if s.encoders.Splade != nil && s.encoders.Splade.Enabled() {
		if vec, encErr := s.encoders.Splade.Encode(ctx, queryText); encErr != nil {
			s.log.Warn().Err(encErr).Msg("splade encode failed, continuing without splade channel")
		} else if !vec.IsEmpty() {
			spladeVec = &vec
		}
	}
	if len(queryVec) == 0 && sparseVec == nil && spladeVec == nil {
		return nil, models.ErrUpstreamUnavailable("no query encoder available")
	}

	byKind, attempted, failed := s.fanOut(ctx, collections, topK, filter, queryVec, sparseVec, spladeVec)
	if attempted > 0 && failed == attempted {
		s.recordSearch(userCtx, queryText, "backend_error", 0, start)
		return nil, models.ErrUpstreamUnavailable("all search backends failed")
	}

	fuseStart := time.Now()
	var fused []fusedHit
	if s.resolveFusionMethod(req) == models.FusionRRF {
		fused = fuseRRF(byKind, weights, s.cfg.RRFK)
	} else {
		fused = fuseWeighted(byKind, weights)
	}
	docs := collapseToDocuments(fused)
	metrics.SearchStageDuration.WithLabelValues("fuse").Observe(time.Since(fuseStart).Seconds())

	if s.rerankWanted(req) && s.encoders.Cross != nil {
		candidates := s.cfg.RerankCandidates
		if candidates < topK {
			candidates = topK
		}
		if len(docs) > candidates {
			docs = docs[:candidates]
		}
		rerankStart := time.Now()
		docs = s.rerank(ctx, queryText, docs)
		metrics.SearchStageDuration.WithLabelValues("rerank").Observe(time.Since(rerankStart).Seconds())
	}

	if s.dateBoostWanted(req) {
		docs = applyDateBoost(docs, models.DateBoostParams{
			Enabled:   true,
			DecayRate: s.cfg.DateBoostDecay,
			Weight:    s.cfg.DateBoostWeight,
		}, time.Now().UTC())
	}

	if len(docs) > topK {
		docs = docs[:topK]
	}
	results := make([]models.SearchResult, 0, len(docs))
	for _, d := range docs {
		results = append(results, models.SearchResult{
			ID:         d.ParentID,
			Score:      d.Score,
			Collection: d.Collection,
			Payload:    d.Payload,
		})
	}
	results = s.scrubResults(results, userCtx)

	if s.cache != nil && len(queryVec) > 0 {
		s.cache.Store(ctx, queryText, queryVec, userCtx.UserID, results)
	}
	s.recordSearch(userCtx, queryText, "success", len(results), start)
	return &models.SearchResponse{Status: "success", Results: results}, nil
}

func (s *hybridSearchServiceImpl) KeywordSearch(ctx context.Context, req models.KeywordSearchRequest, userCtx *security.UserContext) (*models.SearchResponse, error) {
	start := time.Now()
	if userCtx == nil {
		userCtx = security.GuestContext()
	}

	topK, err := s.resolveTopK(req.TopK)
	if err != nil {
		return nil, err
	}
	queryText := strings.TrimSpace(req.Query)
	if topK == 0 || queryText == "" {
		return &models.SearchResponse{Status: "success", Results: []models.SearchResult{}}, nil
	}

	if s.encoders.Sparse == nil || !s.encoders.Sparse.IsFitted() {
		// An unfitted vectorizer is a legal state: keyword search just has
		// nothing to match against yet.
		s.recordSearch(userCtx, queryText, "bm25_unfitted", 0, start)
		return &models.SearchResponse{Status: "success", Results: []models.SearchResult{}}, nil
	}
	vec, err := s.encoders.Sparse.Encode(queryText)
	if err != nil || vec.IsEmpty() {
		return &models.SearchResponse{Status: "success", Results: []models.SearchResult{}}, nil
	}

	hits, err := s.collectUniqueDocHits(ctx, s.cfg.DefaultCollection, models.VectorSparse, topK, s.tenancyFilter(userCtx), nil, &vec)
	if err != nil {
		s.recordSearch(userCtx, queryText, "backend_error", 0, start)
		return nil, models.ErrUpstreamUnavailable("keyword search backend failed")
	}

	results := make([]models.SearchResult, 0, len(hits))
	for _, h := range hits {
		results = append(results, models.SearchResult{
			ID:         h.ParentID(),
			Score:      h.Score,
			Collection: h.Collection,
			Payload:    h.Payload,
		})
	}
	results = s.scrubResults(results, userCtx)
	if len(results) > topK {
		results = results[:topK]
	}
	s.recordSearch(userCtx, queryText, "success", len(results), start)
	return &models.SearchResponse{Status: "success", Results: results}, nil
}

func (s *hybridSearchServiceImpl) ClearCache(ctx context.Context) error {
	if s.cache == nil {
		return nil
	}
	return s.cache.Clear(ctx)
}

func (s *hybridSearchServiceImpl) resolveTopK(topK *int) (int, error) {
	if topK == nil {
		return s.cfg.DefaultTopK, nil
	}
	if *topK < 0 {
		return 0, models.ErrInvalidRequest("top_k must not be negative")
	}
	if *topK > models.MaxTopK {
		return 0, models.ErrInvalidRequest("top_k exceeds the maximum of 100")
	}
	return *topK, nil
}

// resolveWeights applies the override precedence: explicit weights, then
// alpha, then tuning mode preset, then config.
func (s *hybridSearchServiceImpl) resolveWeights(req models.HybridSearchRequest) models.FusionWeights {
	if req.Weights != nil {
		return *req.Weights
	}
	if req.Alpha != nil {
		alpha := *req.Alpha
		if alpha < 0 {
			alpha = 0
		}
		if alpha > 1 {
			alpha = 1
		}
		rest := 1 - alpha
		if s.encoders.Splade != nil && s.encoders.Splade.Enabled() {
			return models.FusionWeights{Dense: alpha, Sparse: rest / 2, Splade: rest / 2}
		}
		return models.FusionWeights{Dense: alpha, Sparse: rest}
	}
	switch req.TuningMode {
	case "semantic":
		return models.FusionWeights{Dense: 0.7, Sparse: 0.15, Splade: 0.15}
	case "keyword":
		return models.FusionWeights{Dense: 0.2, Sparse: 0.5, Splade: 0.3}
	}
	return models.FusionWeights{
		Dense:  s.cfg.WeightDense,
		Sparse: s.cfg.WeightSparse,
		Splade: s.cfg.WeightSplade,
	}
}

func (s *hybridSearchServiceImpl) resolveFusionMethod(req models.HybridSearchRequest) models.FusionMethod {
	if req.TuningMode == "rrf" {
		return models.FusionRRF
	}
	if models.FusionMethod(s.cfg.FusionMethod) == models.FusionRRF {
		return models.FusionRRF
	}
	return models.FusionWeighted
}

func (s *hybridSearchServiceImpl) rerankWanted(req models.HybridSearchRequest) bool {
	if req.Rerank != nil {
		return *req.Rerank
	}
	return s.cfg.RerankEnabled
}

func (s *hybridSearchServiceImpl) dateBoostWanted(req models.HybridSearchRequest) bool {
	if req.DateBoost != nil {
		return *req.DateBoost
	}
	return s.cfg.DateBoostEnabled
}

// tenancyFilter scopes every store query to rows the caller may see: own
// tenant or public, and an access level within the caller's ceiling.
func (s *hybridSearchServiceImpl) tenancyFilter(userCtx *security.UserContext) *models.Filter {
	filter := &models.Filter{}

	tenants := []any{models.PublicTenant}
	if userCtx.TenantID != "" && userCtx.TenantID != models.PublicTenant {
		tenants = append(tenants, userCtx.TenantID)
	}
	filter.Must = append(filter.Must, models.FieldCondition{
		Key:   models.PayloadTenantID,
		Match: models.Match{Any: tenants},
	})

	ceiling := security.MaxAccessLevel(userCtx.Role)
	if ceiling < security.UnlimitedAccessLevel {
		levels := make([]any, 0, ceiling)
		for level := 1; level <= ceiling; level++ {
			levels = append(levels, level)
		}
		filter.Must = append(filter.Must, models.FieldCondition{
			Key:   models.PayloadAccessLevel,
			Match: models.Match{Any: levels},
		})
	}
	return filter
}

// fanOut probes every (collection, kind) pair concurrently and merges the
// per-kind hit lists. A failed probe degrades that pair only.
func (s *hybridSearchServiceImpl) fanOut(
	ctx context.Context,
	collections []string,
	topK int,
	filter *models.Filter,
	dense []float32,
	sparse, splade *models.SparseVector,
) (map[string][]models.ScoredPoint, int, int) {
	type probe struct {
		collection string
		kind       string
	}
	var probes []probe
	for _, collection := range collections {
		if len(dense) > 0 {
			probes = append(probes, probe{collection, models.VectorDense})
		}
		if sparse != nil {
			probes = append(probes, probe{collection, models.VectorSparse})
		}
		if splade != nil {
			probes = append(probes, probe{collection, models.VectorSplade})
		}
	}

	var mu sync.Mutex
	byKind := make(map[string][]models.ScoredPoint)
	failed := 0
	g, gctx := errgroup.WithContext(ctx)
	fanStart := time.Now()
	for _, p := range probes {
		p := p
		g.Go(func() error {
			var sparseArg *models.SparseVector
			switch p.kind {
			case models.VectorSparse:
				sparseArg = sparse
			case models.VectorSplade:
				sparseArg = splade
			}
			hits, err := s.collectUniqueDocHits(gctx, p.collection, p.kind, topK, filter, dense, sparseArg)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				failed++
				s.log.Warn().Err(err).
					Str("collection", p.collection).
					Str("kind", p.kind).
					Msg("search probe failed, degrading")
				return nil
			}
			byKind[p.kind] = append(byKind[p.kind], hits...)
			return nil
		})
	}
	// Probe errors are absorbed above; Wait only synchronizes.
	_ = g.Wait()
	metrics.SearchStageDuration.WithLabelValues("fan_out").Observe(time.Since(fanStart).Seconds())
	return byKind, len(probes), failed
}

// collectUniqueDocHits returns up to topK chunk hits with distinct parent
// documents, widening the probe until enough parents are seen or the scan
// cap is hit. The first chunk seen per parent is its best one because the
// store returns hits in score order.
func (s *hybridSearchServiceImpl) collectUniqueDocHits(
	ctx context.Context,
	collection, kind string,
	topK int,
	filter *models.Filter,
	dense []float32,
	sparse *models.SparseVector,
) ([]models.ScoredPoint, error) {
	scanCap := s.cfg.ScanCap
	if scanCap <= 0 {
		scanCap = 500
	}

	limit := topK * 3
	if limit > scanCap {
		limit = scanCap
	}
	for {
		hits, err := s.store.Search(ctx, collection, kind, dense, sparse, limit, filter, true)
		if err != nil {
			return nil, err
		}

		seen := make(map[string]struct{}, topK)
		var unique []models.ScoredPoint
		for _, h := range hits {
			parent := h.ParentID()
			if _, dup := seen[parent]; dup {
				continue
			}
			seen[parent] = struct{}{}
			unique = append(unique, h)
			if len(unique) == topK {
				return unique, nil
			}
		}
		// Not enough distinct parents: either the backend is exhausted or
		// we widen once more until the scan cap stops us.
		if len(hits) < limit || limit == scanCap {
			return unique, nil
		}
		limit *= 2
		if limit > scanCap {
			limit = scanCap
		}
	}
}

// rerank reorders the top candidates by cross-encoder relevance. Candidates
// without fetchable text are dropped; a scoring failure keeps the fused
// order.
func (s *hybridSearchServiceImpl) rerank(ctx context.Context, query string, docs []docCandidate) []docCandidate {
	if len(docs) == 0 {
		return docs
	}

	var kept []docCandidate
	var texts []string
	for _, d := range docs {
		text := s.chunkText(ctx, d)
		if text == "" {
			s.log.Warn().Str("doc", d.ParentID).Msg("rerank candidate has no fetchable text, dropping")
			continue
		}
		kept = append(kept, d)
		texts = append(texts, text)
	}
	if len(kept) == 0 {
		return docs
	}

	scores, err := s.encoders.Cross.Score(ctx, query, texts)
	if err != nil {
		s.log.Warn().Err(err).Msg("cross encoder scoring failed, keeping fused order")
		return docs
	}
	for i := range kept {
		kept[i].Score = scores[i]
	}
	sort.SliceStable(kept, func(i, j int) bool { return kept[i].Score > kept[j].Score })
	return kept
}

// chunkText resolves the representative text for one candidate, retrieving
// the best chunk's payload when the search hit carried none.
func (s *hybridSearchServiceImpl) chunkText(ctx context.Context, d docCandidate) string {
	if text := payloadText(d.Payload); text != "" {
		return text
	}
	if d.BestChunk == "" {
		return ""
	}
	points, err := s.store.Retrieve(ctx, d.Collection, []string{d.BestChunk}, true)
	if err != nil || len(points) == 0 {
		return ""
	}
	return payloadText(points[0].Payload)
}

func payloadText(payload map[string]any) string {
	if payload == nil {
		return ""
	}
	if s, ok := payload[models.PayloadContent].(string); ok && s != "" {
		return s
	}
	if s, ok := payload["_text"].(string); ok {
		return s
	}
	return ""
}

// scrubResults is the read-side defense in depth: results are re-checked
// against tenancy and access level even though the store filters already
// enforced them, and encrypted content is opened only for entitled readers.
func (s *hybridSearchServiceImpl) scrubResults(results []models.SearchResult, userCtx *security.UserContext) []models.SearchResult {
	ceiling := security.MaxAccessLevel(userCtx.Role)
	out := make([]models.SearchResult, 0, len(results))
	for _, r := range results {
		tenant := models.PublicTenant
		if t, ok := r.Payload[models.PayloadTenantID].(string); ok && t != "" {
			tenant = t
		}
		if tenant != models.PublicTenant && tenant != userCtx.TenantID && !userCtx.IsAdmin() {
			metrics.AccessDenied.Inc()
			continue
		}
		if level, ok := numericPayload(r.Payload[models.PayloadAccessLevel]); ok && int(level) > ceiling {
			metrics.AccessDenied.Inc()
			continue
		}
		if s.encryption != nil && r.Payload != nil {
			s.encryption.DecryptPayloadForRead(userCtx, r.Payload)
		}
		out = append(out, r)
	}
	return out
}

func numericPayload(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	default:
		return 0, false
	}
}

func (s *hybridSearchServiceImpl) recordSearch(userCtx *security.UserContext, query, outcome string, resultCount int, start time.Time) {
	metrics.SearchesTotal.WithLabelValues(outcome).Inc()
	metrics.SearchStageDuration.WithLabelValues("total").Observe(time.Since(start).Seconds())
	if s.audit != nil {
		s.audit.LogEvent(security.EventSearch, map[string]any{
			"user_id":      userCtx.UserID,
			"query_length": len(query),
			"outcome":      outcome,
			"results":      resultCount,
			"duration_ms":  time.Since(start).Milliseconds(),
		})
	}
}
