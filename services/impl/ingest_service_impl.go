package impl

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/vortexdb/vortex-gateway/config"
	"github.com/vortexdb/vortex-gateway/logging"
	"github.com/vortexdb/vortex-gateway/metrics"
	"github.com/vortexdb/vortex-gateway/models"
	"github.com/vortexdb/vortex-gateway/security"
	"github.com/vortexdb/vortex-gateway/services"
)

// structuralPayloadKeys are written by the pipeline and may never be
// clobbered through the update surface.
var structuralPayloadKeys = []string{
	models.PayloadDBID,
	models.PayloadParentID,
	models.PayloadIsChunk,
	models.PayloadChunkIndex,
	models.PayloadTotalChunks,
	models.PayloadTenantID,
	models.PayloadAccessLevel,
	models.PayloadContentEncrypted,
}

// ingestServiceImpl implements IngestService.
type ingestServiceImpl struct {
	store      services.VectorStoreClient
	encoders   services.EncoderSet
	normalizer *PayloadNormalizer
	encryption *security.EncryptionService
	anomaly    *security.VectorAnomalyDetector
	protector  *security.EmbeddingProtector
	audit      *security.AuditLogger
	cfg        *config.IngestConfig
	log        zerolog.Logger
}

// NewIngestService wires the write path. anomaly and protector may be nil
// to disable those defenses.
func NewIngestService(
	store services.VectorStoreClient,
	encoders services.EncoderSet,
	normalizer *PayloadNormalizer,
	encryption *security.EncryptionService,
	anomaly *security.VectorAnomalyDetector,
	protector *security.EmbeddingProtector,
	audit *security.AuditLogger,
	cfg *config.IngestConfig,
) services.IngestService {
	return &ingestServiceImpl{
		store:      store,
		encoders:   encoders,
		normalizer: normalizer,
		encryption: encryption,
		anomaly:    anomaly,
		protector:  protector,
		audit:      audit,
		cfg:        cfg,
		log:        logging.WithComponent("ingest"),
	}
}

// chunkWork is one chunk waiting for vectors and payload assembly.
type chunkWork struct {
	docIndex   int
	dbID       string
	pointID    string
	text       string
	chunkIndex int
	total      int
	payload    map[string]any
}

func (s *ingestServiceImpl) UpsertDocuments(ctx context.Context, collection string, docs []map[string]any, opts services.IngestOptions) (int, error) {
	if len(docs) == 0 {
		return 0, nil
	}
	tenantID := opts.TenantID
	if tenantID == "" {
		tenantID = models.PublicTenant
	}
	accessLevel := opts.AccessLevel
	if accessLevel <= 0 {
		accessLevel = 1
	}

	if err := s.ensureCollection(ctx, collection); err != nil {
		return 0, err
	}

	chunkSize := s.cfg.ChunkSize
	if chunkSize <= 0 {
		chunkSize = 1000
	}
	overlap := s.cfg.ChunkOverlap

	var work []chunkWork
	for docIdx, doc := range docs {
		normalized := s.normalizer.Process(doc)
		dbID := DocHash(doc)

		content := ""
		if raw, ok := doc[models.PayloadContent].(string); ok {
			content = raw
		} else if derived, ok := normalized["_text"].(string); ok {
			content = derived
		}
		chunks := SplitText(content, chunkSize, overlap)
		if len(chunks) == 0 {
			// Documents without any text still carry searchable payload.
			chunks = []string{""}
		}

		for i, chunkText := range chunks {
			payload := make(map[string]any, len(normalized)+10)
			for k, v := range normalized {
				if k == "_text" {
					continue
				}
				payload[k] = v
			}
			payload[models.PayloadContent] = chunkText
			payload[models.PayloadIsChunk] = len(chunks) > 1
			payload[models.PayloadChunkIndex] = i
			payload[models.PayloadTotalChunks] = len(chunks)
			payload[models.PayloadParentID] = dbID
			payload[models.PayloadDBID] = dbID
			payload[models.PayloadTenantID] = tenantID
			payload[models.PayloadAccessLevel] = accessLevel
			payload[models.PayloadContentEncrypted] = false
			if originalID := originalDocID(doc); originalID != "" {
				payload[models.PayloadOriginalID] = originalID
			}

			work = append(work, chunkWork{
				docIndex:   docIdx,
				dbID:       dbID,
				pointID:    PointID(dbID, i),
				text:       chunkText,
				chunkIndex: i,
				total:      len(chunks),
				payload:    payload,
			})
		}
	}

	texts := make([]string, len(work))
	for i, w := range work {
		texts[i] = w.text
	}
	denseVecs, err := s.encoders.Dense.EncodeBatch(ctx, texts)
	if err != nil {
		return 0, models.ErrUpstreamUnavailable("dense encoder failed: " + err.Error())
	}

	// Anomalous embeddings mark their whole document as a poisoning
	// candidate; every chunk of that document is dropped.
	rejected := make(map[int]bool)
	if s.anomaly != nil {
		for i, vec := range denseVecs {
			if anomalous, zScore := s.anomaly.IsAnomalous(vec); anomalous {
				doc := work[i].docIndex
				if !rejected[doc] {
					rejected[doc] = true
					s.log.Warn().
						Str("db_id", work[i].dbID).
						Float64("z_score", zScore).
						Msg("rejecting document with anomalous embedding")
					if s.audit != nil {
						s.audit.LogEvent(security.EventInjectionDetected, map[string]any{
							"stage":   "ingest_embedding",
							"db_id":   work[i].dbID,
							"z_score": zScore,
						})
					}
				}
			}
		}
	}

	encryptWanted := security.ShouldEncrypt(tenantID, opts.EncryptContent)
	if encryptWanted && s.encryption == nil {
		return 0, models.ErrEncryptionFailure("content encryption is not configured")
	}

	spladeOn := s.encoders.Splade != nil && s.encoders.Splade.Enabled()
	points := make([]models.Point, 0, len(work))
	for i, w := range work {
		if rejected[w.docIndex] {
			continue
		}

		vectors := models.NamedVectors{Dense: denseVecs[i]}
		if s.protector != nil {
			vectors.Dense = s.protector.Protect(vectors.Dense)
		}
		if s.encoders.Sparse != nil {
			if vec, sparseErr := s.encoders.Sparse.Encode(w.text); sparseErr == nil && !vec.IsEmpty() {
				vectors.Sparse = &vec
			}
		}
		if spladeOn {
			if vec, spladeErr := s.encoders.Splade.Encode(ctx, w.text); spladeErr != nil {
				s.log.Warn().Err(spladeErr).Msg("splade encode failed, continuing without splade vectors")
				spladeOn = false
			} else if !vec.IsEmpty() {
				vectors.Splade = &vec
			}
		}

		if encryptWanted && w.text != "" {
			sealed, encErr := s.encryption.EncryptContent(tenantID, w.text)
			if encErr != nil {
				// Aborting beats silently storing plaintext that was meant
				// to be sealed.
				return 0, models.ErrEncryptionFailure("failed to encrypt content for tenant " + tenantID)
			}
			w.payload[models.PayloadContent] = sealed
			w.payload[models.PayloadContentEncrypted] = true
		}

		points = append(points, models.Point{
			ID:      w.pointID,
			Vectors: vectors,
			Payload: w.payload,
		})
	}

	written := 0
	subBatch := s.cfg.SubBatchSize
	if subBatch <= 0 {
		subBatch = 100
	}
	for start := 0; start < len(points); start += subBatch {
		end := start + subBatch
		if end > len(points) {
			end = len(points)
		}
		if err := s.store.Upsert(ctx, collection, points[start:end]); err != nil {
			return written, models.ErrUpstreamUnavailable("vector store upsert failed: " + err.Error())
		}
		written = end
		if opts.Progress != nil {
			// Progress holds at 99 until the caller marks the whole
			// operation finished.
			percent := written * 100 / len(points)
			if percent > 99 {
				percent = 99
			}
			opts.Progress(percent)
		}
	}

	metrics.DocumentsIngested.WithLabelValues(collection).Add(float64(len(docs) - len(rejected)))
	metrics.PointsUpserted.Add(float64(written))
	if s.audit != nil {
		s.audit.LogEvent(security.EventDataWrite, map[string]any{
			"collection": collection,
			"documents":  len(docs) - len(rejected),
			"points":     written,
			"tenant_id":  tenantID,
		})
	}
	return written, nil
}

func (s *ingestServiceImpl) UpdateDocument(ctx context.Context, collection, dbID string, newPayload map[string]any, merge bool) error {
	points, err := s.documentChunks(ctx, collection, dbID)
	if err != nil {
		return err
	}
	if len(points) == 0 {
		return models.ErrDocumentNotFound(dbID)
	}

	cleaned := make(map[string]any, len(newPayload))
	for k, v := range newPayload {
		if isStructuralKey(k) {
			continue
		}
		cleaned[k] = v
	}

	if merge {
		ids := make([]string, len(points))
		for i, p := range points {
			ids[i] = p.ID
		}
		if err := s.store.SetPayload(ctx, collection, ids, cleaned, true); err != nil {
			return models.ErrUpstreamUnavailable("payload update failed: " + err.Error())
		}
		return nil
	}

	// Replace keeps the structural fields of each chunk; everything else is
	// swapped for the new payload. Chunks differ in chunk_index, so each
	// point gets its own write.
	for _, p := range points {
		replacement := make(map[string]any, len(cleaned)+len(structuralPayloadKeys)+1)
		for k, v := range cleaned {
			replacement[k] = v
		}
		for _, k := range structuralPayloadKeys {
			if v, ok := p.Payload[k]; ok {
				replacement[k] = v
			}
		}
		if v, ok := p.Payload[models.PayloadContent]; ok {
			if _, overridden := cleaned[models.PayloadContent]; !overridden {
				replacement[models.PayloadContent] = v
			}
		}
		if err := s.store.SetPayload(ctx, collection, []string{p.ID}, replacement, false); err != nil {
			return models.ErrUpstreamUnavailable("payload replace failed: " + err.Error())
		}
	}
	return nil
}

func (s *ingestServiceImpl) DeleteDocument(ctx context.Context, collection, dbID string) error {
	points, err := s.documentChunks(ctx, collection, dbID)
	if err != nil {
		return err
	}
	if len(points) == 0 {
		return models.ErrDocumentNotFound(dbID)
	}

	filter := &models.Filter{
		Must: []models.FieldCondition{
			{Key: models.PayloadDBID, Match: models.Match{Value: dbID}},
		},
	}
	if err := s.store.Delete(ctx, collection, filter); err != nil {
		return models.ErrUpstreamUnavailable("delete failed: " + err.Error())
	}
	return nil
}

// documentChunks collects every chunk point of one document.
func (s *ingestServiceImpl) documentChunks(ctx context.Context, collection, dbID string) ([]models.Point, error) {
	filter := &models.Filter{
		Must: []models.FieldCondition{
			{Key: models.PayloadDBID, Match: models.Match{Value: dbID}},
		},
	}
	var all []models.Point
	cursor := ""
	for {
		points, next, err := s.store.Scroll(ctx, collection, filter, 100, cursor, true)
		if err != nil {
			return nil, models.ErrUpstreamUnavailable("scroll failed: " + err.Error())
		}
		all = append(all, points...)
		if next == "" || len(points) == 0 {
			return all, nil
		}
		cursor = next
	}
}

func (s *ingestServiceImpl) ensureCollection(ctx context.Context, collection string) error {
	exists, err := s.store.CollectionExists(ctx, collection)
	if err != nil {
		return models.ErrUpstreamUnavailable("collection check failed: " + err.Error())
	}
	if exists {
		return nil
	}
	s.log.Info().Str("collection", collection).Msg("creating collection on first write")
	if err := s.store.CreateCollection(ctx, models.CreateCollectionSpec{
		Name:      collection,
		DenseSize: s.encoders.Dense.Dim(),
	}); err != nil {
		return models.ErrUpstreamUnavailable("collection create failed: " + err.Error())
	}
	return nil
}

func originalDocID(doc map[string]any) string {
	for _, key := range []string{"id", "_id"} {
		switch v := doc[key].(type) {
		case string:
			return v
		case float64:
			return fmt.Sprintf("%.0f", v)
		}
	}
	return ""
}

func isStructuralKey(key string) bool {
	for _, k := range structuralPayloadKeys {
		if k == key {
			return true
		}
	}
	return false
}
