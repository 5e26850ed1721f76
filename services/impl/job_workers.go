package impl

import (
	"context"
	"encoding/json"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/vortexdb/vortex-gateway/config"
	"github.com/vortexdb/vortex-gateway/logging"
	"github.com/vortexdb/vortex-gateway/models"
	"github.com/vortexdb/vortex-gateway/services"
)

// JobWorkerDeps carries everything the background executors touch.
type JobWorkerDeps struct {
	Store             services.VectorStoreClient
	Ingest            services.IngestService
	BM25              *BM25Vectorizer
	Normalizer        *PayloadNormalizer
	Storage           *config.StorageConfig
	DenseDim          int
	DefaultCollection string
}

// NewJobExecutors builds the executor table the job workers dispatch on.
func NewJobExecutors(deps JobWorkerDeps) map[models.JobType]JobExecutor {
	return map[models.JobType]JobExecutor{
		models.JobTypeBatchUpsert:      deps.runBatchUpsert,
		models.JobTypeUpsertBatchDocs:  deps.runUpsertBatchDocs,
		models.JobTypeCreateCollection: deps.runCreateCollection,
		models.JobTypeBM25Retrain:      deps.runBM25Retrain,
		models.JobTypeCreateSnapshot:   deps.runCreateSnapshot,
	}
}

// runBatchUpsert ingests every JSON document under a folder.
func (d JobWorkerDeps) runBatchUpsert(ctx context.Context, job *models.Job, report services.ProgressFunc) (string, error) {
	var payload models.BatchUpsertPayload
	if err := json.Unmarshal(job.Payload, &payload); err != nil {
		return "", fmt.Errorf("invalid batch_upsert payload: %w", err)
	}
	if payload.Folder == "" {
		return "", fmt.Errorf("batch_upsert requires a folder")
	}
	collection := payload.Collection
	if collection == "" {
		collection = d.DefaultCollection
	}
	batchSize := payload.BatchSize
	if batchSize <= 0 {
		batchSize = 100
	}

	files, err := listJSONFiles(payload.Folder)
	if err != nil {
		return "", err
	}
	if len(files) == 0 {
		return "no JSON files found under " + payload.Folder, nil
	}

	log := logging.WithJobID(job.ID.String())
	totalDocs, totalPoints, processed := 0, 0, 0
	var batch []map[string]any
	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		written, err := d.Ingest.UpsertDocuments(ctx, collection, batch, services.IngestOptions{})
		if err != nil {
			return err
		}
		totalDocs += len(batch)
		totalPoints += written
		batch = batch[:0]
		return nil
	}

	for _, path := range files {
		docs, err := readDocsFile(path)
		if err != nil {
			log.Warn().Err(err).Str("file", path).Msg("skipping unreadable JSON file")
			processed++
			continue
		}
		for _, doc := range docs {
			batch = append(batch, doc)
			if len(batch) >= batchSize {
				if err := flush(); err != nil {
					return "", err
				}
			}
		}
		processed++
		report(processed * 100 / len(files))
	}
	if err := flush(); err != nil {
		return "", err
	}
	return fmt.Sprintf("ingested %d documents (%d points) from %d files", totalDocs, totalPoints, len(files)), nil
}

// runUpsertBatchDocs ingests documents shipped inline with the job.
func (d JobWorkerDeps) runUpsertBatchDocs(ctx context.Context, job *models.Job, report services.ProgressFunc) (string, error) {
	var payload models.UpsertBatchDocsPayload
	if err := json.Unmarshal(job.Payload, &payload); err != nil {
		return "", fmt.Errorf("invalid upsert_batch_docs payload: %w", err)
	}
	collection := payload.Collection
	if collection == "" {
		collection = d.DefaultCollection
	}

	written, err := d.Ingest.UpsertDocuments(ctx, collection, payload.Documents, services.IngestOptions{
		TenantID:    payload.TenantID,
		AccessLevel: payload.AccessLevel,
		Progress:    report,
	})
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("upserted %d documents as %d points into %s", len(payload.Documents), written, collection), nil
}

func (d JobWorkerDeps) runCreateCollection(ctx context.Context, job *models.Job, report services.ProgressFunc) (string, error) {
	var payload models.CreateCollectionPayload
	if err := json.Unmarshal(job.Payload, &payload); err != nil {
		return "", fmt.Errorf("invalid create_collection payload: %w", err)
	}
	if payload.Name == "" {
		return "", fmt.Errorf("create_collection requires a name")
	}
	size := payload.VectorSize
	if size <= 0 {
		size = d.DenseDim
	}
	if err := d.Store.CreateCollection(ctx, models.CreateCollectionSpec{
		Name:      payload.Name,
		DenseSize: size,
	}); err != nil {
		return "", models.ErrUpstreamUnavailable("collection create failed: " + err.Error())
	}
	return fmt.Sprintf("collection %s created with vector size %d", payload.Name, size), nil
}

// runBM25Retrain refits the sparse vectorizer and atomically replaces the
// on-disk model. The corpus comes from a document tree when base_path is
// given, otherwise from the live default collection.
func (d JobWorkerDeps) runBM25Retrain(ctx context.Context, job *models.Job, report services.ProgressFunc) (string, error) {
	var payload models.BM25RetrainPayload
	if err := json.Unmarshal(job.Payload, &payload); err != nil {
		return "", fmt.Errorf("invalid bm25_retrain payload: %w", err)
	}

	var corpus []string
	var err error
	if payload.BasePath != "" {
		corpus, err = d.corpusFromTree(payload.BasePath)
	} else {
		corpus, err = d.corpusFromCollection(ctx, d.DefaultCollection)
	}
	if err != nil {
		return "", err
	}
	report(40)

	if err := d.BM25.Fit(corpus); err != nil {
		return "", fmt.Errorf("bm25 fit failed: %w", err)
	}
	report(90)

	if err := d.BM25.Save(d.Storage.BM25Path); err != nil {
		return "", fmt.Errorf("bm25 model save failed: %w", err)
	}
	return fmt.Sprintf("bm25 vectorizer retrained on %d texts", len(corpus)), nil
}

func (d JobWorkerDeps) corpusFromTree(basePath string) ([]string, error) {
	files, err := listJSONFiles(basePath)
	if err != nil {
		return nil, err
	}
	var corpus []string
	for _, path := range files {
		docs, err := readDocsFile(path)
		if err != nil {
			continue
		}
		for _, doc := range docs {
			if text, ok := d.Normalizer.Process(doc)["_text"].(string); ok && text != "" {
				corpus = append(corpus, text)
			}
		}
	}
	if len(corpus) == 0 {
		return nil, fmt.Errorf("no training texts found under %s", basePath)
	}
	return corpus, nil
}

const retrainScrollCap = 10000

func (d JobWorkerDeps) corpusFromCollection(ctx context.Context, collection string) ([]string, error) {
	var corpus []string
	cursor := ""
	for len(corpus) < retrainScrollCap {
		points, next, err := d.Store.Scroll(ctx, collection, nil, 500, cursor, true)
		if err != nil {
			return nil, models.ErrUpstreamUnavailable("corpus scroll failed: " + err.Error())
		}
		for _, p := range points {
			if text := payloadText(p.Payload); text != "" {
				corpus = append(corpus, text)
			}
		}
		if next == "" || len(points) == 0 {
			break
		}
		cursor = next
	}
	if len(corpus) == 0 {
		return nil, fmt.Errorf("collection %s has no text to train on", collection)
	}
	return corpus, nil
}

// runCreateSnapshot snapshots the collection on the backend and pulls the
// artifact into the local snapshot directory for later restore.
func (d JobWorkerDeps) runCreateSnapshot(ctx context.Context, job *models.Job, report services.ProgressFunc) (string, error) {
	var payload models.CreateSnapshotPayload
	if err := json.Unmarshal(job.Payload, &payload); err != nil {
		return "", fmt.Errorf("invalid create_snapshot payload: %w", err)
	}
	collection := payload.Collection
	if collection == "" {
		collection = d.DefaultCollection
	}

	info, err := d.Store.CreateSnapshot(ctx, collection)
	if err != nil {
		return "", models.ErrUpstreamUnavailable("snapshot create failed: " + err.Error())
	}
	report(60)

	localPath := filepath.Join(d.Storage.SnapshotDir, collection, info.Name)
	if err := d.Store.DownloadSnapshot(ctx, collection, info.Name, localPath); err != nil {
		return "", models.ErrUpstreamUnavailable("snapshot download failed: " + err.Error())
	}
	return fmt.Sprintf("snapshot %s stored at %s", info.Name, localPath), nil
}

// listJSONFiles walks a tree and returns every .json file in lexical order.
func listJSONFiles(root string) ([]string, error) {
	var files []string
	err := filepath.WalkDir(root, func(path string, entry fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if entry.IsDir() {
			return nil
		}
		if strings.EqualFold(filepath.Ext(path), ".json") {
			files = append(files, path)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to walk %s: %w", root, err)
	}
	return files, nil
}

// readDocsFile decodes a file holding either one JSON document or an array
// of documents.
func readDocsFile(path string) ([]map[string]any, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var single map[string]any
	if err := json.Unmarshal(data, &single); err == nil {
		return []map[string]any{single}, nil
	}
	var many []map[string]any
	if err := json.Unmarshal(data, &many); err == nil {
		return many, nil
	}
	return nil, fmt.Errorf("file %s is neither a JSON object nor an array of objects", path)
}
