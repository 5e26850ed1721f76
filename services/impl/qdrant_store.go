package impl

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/vortexdb/vortex-gateway/config"
	"github.com/vortexdb/vortex-gateway/models"
	"github.com/vortexdb/vortex-gateway/services"
)

// qdrantStoreImpl implements VectorStoreClient against the Qdrant REST API.
type qdrantStoreImpl struct {
	cfg        *config.VectorDBConfig
	httpClient *http.Client
}

// NewQdrantStore creates a VectorStoreClient for the configured Qdrant
// endpoint.
func NewQdrantStore(cfg *config.VectorDBConfig) services.VectorStoreClient {
	timeout := time.Duration(cfg.Timeout) * time.Second
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &qdrantStoreImpl{
		cfg: cfg,
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

// doJSON issues one API call and decodes the response envelope's result
// field into out when out is non-nil.
func (s *qdrantStoreImpl) doJSON(ctx context.Context, method, path string, body any, out any) error {
	var reader io.Reader
	if body != nil {
		jsonData, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}
		reader = bytes.NewBuffer(jsonData)
	}

	httpReq, err := http.NewRequestWithContext(ctx, method, s.cfg.URL+path, reader)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	if body != nil {
		httpReq.Header.Set("Content-Type", "application/json")
	}
	if s.cfg.APIKey != "" {
		httpReq.Header.Set("api-key", s.cfg.APIKey)
	}

	resp, err := s.httpClient.Do(httpReq)
	if err != nil {
		return fmt.Errorf("vector backend unreachable: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		respBody, _ := io.ReadAll(resp.Body)
		return &backendStatusError{Status: resp.StatusCode, Body: string(respBody)}
	}
	if out == nil {
		return nil
	}

	var envelope struct {
		Result json.RawMessage `json:"result"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil {
		return fmt.Errorf("failed to parse backend response: %w", err)
	}
	if err := json.Unmarshal(envelope.Result, out); err != nil {
		return fmt.Errorf("failed to parse backend result: %w", err)
	}
	return nil
}

// backendStatusError preserves the upstream HTTP status so callers can
// distinguish a 404 from a real failure.
type backendStatusError struct {
	Status int
	Body   string
}

func (e *backendStatusError) Error() string {
	return fmt.Sprintf("vector backend returned status %d: %s", e.Status, e.Body)
}

func isNotFound(err error) bool {
	if statusErr, ok := err.(*backendStatusError); ok {
		return statusErr.Status == http.StatusNotFound
	}
	return false
}

func (s *qdrantStoreImpl) CreateCollection(ctx context.Context, spec models.CreateCollectionSpec) error {
	distance := spec.Distance
	if distance == "" {
		distance = "Cosine"
	}
	body := map[string]interface{}{
		"vectors": map[string]interface{}{
			models.VectorDense: map[string]interface{}{
				"size":     spec.DenseSize,
				"distance": distance,
			},
		},
		"sparse_vectors": map[string]interface{}{
			models.VectorSparse: map[string]interface{}{},
			models.VectorSplade: map[string]interface{}{},
		},
	}
	if spec.HNSWM > 0 || spec.HNSWEfConstruct > 0 {
		hnsw := map[string]interface{}{}
		if spec.HNSWM > 0 {
			hnsw["m"] = spec.HNSWM
		}
		if spec.HNSWEfConstruct > 0 {
			hnsw["ef_construct"] = spec.HNSWEfConstruct
		}
		body["hnsw_config"] = hnsw
	}
	if spec.Quantization {
		body["quantization_config"] = map[string]interface{}{
			"scalar": map[string]interface{}{
				"type":       "int8",
				"always_ram": true,
			},
		}
	}
	return s.doJSON(ctx, "PUT", "/collections/"+spec.Name, body, nil)
}

func (s *qdrantStoreImpl) DeleteCollection(ctx context.Context, name string) error {
	return s.doJSON(ctx, "DELETE", "/collections/"+name, nil, nil)
}

func (s *qdrantStoreImpl) ListCollections(ctx context.Context) ([]models.CollectionInfo, error) {
	var listResult struct {
		Collections []struct {
			Name string `json:"name"`
		} `json:"collections"`
	}
	if err := s.doJSON(ctx, "GET", "/collections", nil, &listResult); err != nil {
		return nil, err
	}

	infos := make([]models.CollectionInfo, 0, len(listResult.Collections))
	for _, c := range listResult.Collections {
		info, err := s.collectionInfo(ctx, c.Name)
		if err != nil {
			// A collection disappearing mid-listing is not a listing failure.
			infos = append(infos, models.CollectionInfo{Name: c.Name, Status: "unknown"})
			continue
		}
		infos = append(infos, *info)
	}
	return infos, nil
}

func (s *qdrantStoreImpl) collectionInfo(ctx context.Context, name string) (*models.CollectionInfo, error) {
	var infoResult struct {
		Status      string `json:"status"`
		PointsCount int64  `json:"points_count"`
		Config      struct {
			Params struct {
				Vectors map[string]struct {
					Size int `json:"size"`
				} `json:"vectors"`
			} `json:"params"`
		} `json:"config"`
	}
	if err := s.doJSON(ctx, "GET", "/collections/"+name, nil, &infoResult); err != nil {
		return nil, err
	}
	info := &models.CollectionInfo{
		Name:       name,
		PointCount: infoResult.PointsCount,
		Status:     infoResult.Status,
	}
	if dense, ok := infoResult.Config.Params.Vectors[models.VectorDense]; ok {
		info.VectorSize = dense.Size
	}
	return info, nil
}

func (s *qdrantStoreImpl) CollectionExists(ctx context.Context, name string) (bool, error) {
	_, err := s.collectionInfo(ctx, name)
	if err == nil {
		return true, nil
	}
	if isNotFound(err) {
		return false, nil
	}
	return false, err
}

func (s *qdrantStoreImpl) Upsert(ctx context.Context, collection string, points []models.Point) error {
	if len(points) == 0 {
		return nil
	}
	apiPoints := make([]map[string]interface{}, 0, len(points))
	for _, p := range points {
		vector := map[string]interface{}{}
		if len(p.Vectors.Dense) > 0 {
			vector[models.VectorDense] = p.Vectors.Dense
		}
		if p.Vectors.Sparse != nil && !p.Vectors.Sparse.IsEmpty() {
			vector[models.VectorSparse] = map[string]interface{}{
				"indices": p.Vectors.Sparse.Indices,
				"values":  p.Vectors.Sparse.Values,
			}
		}
		if p.Vectors.Splade != nil && !p.Vectors.Splade.IsEmpty() {
			vector[models.VectorSplade] = map[string]interface{}{
				"indices": p.Vectors.Splade.Indices,
				"values":  p.Vectors.Splade.Values,
			}
		}
		apiPoints = append(apiPoints, map[string]interface{}{
			"id":      p.ID,
			"vector":  vector,
			"payload": p.Payload,
		})
	}
	body := map[string]interface{}{"points": apiPoints}
	return s.doJSON(ctx, "PUT", "/collections/"+collection+"/points?wait=true", body, nil)
}

func (s *qdrantStoreImpl) Search(ctx context.Context, collection, using string, dense []float32, sparse *models.SparseVector, limit int, filter *models.Filter, withPayload bool) ([]models.ScoredPoint, error) {
	var vector interface{}
	switch using {
	case models.VectorDense:
		vector = map[string]interface{}{"name": using, "vector": dense}
	default:
		if sparse == nil {
			return nil, fmt.Errorf("sparse search requires a sparse query vector")
		}
		vector = map[string]interface{}{
			"name": using,
			"vector": map[string]interface{}{
				"indices": sparse.Indices,
				"values":  sparse.Values,
			},
		}
	}

	body := map[string]interface{}{
		"vector":       vector,
		"limit":        limit,
		"with_payload": withPayload,
	}
	if filter != nil && !filter.IsZero() {
		body["filter"] = filter
	}

	var hits []struct {
		ID      any            `json:"id"`
		Score   float64        `json:"score"`
		Payload map[string]any `json:"payload"`
	}
	if err := s.doJSON(ctx, "POST", "/collections/"+collection+"/points/search", body, &hits); err != nil {
		return nil, err
	}

	scored := make([]models.ScoredPoint, 0, len(hits))
	for _, h := range hits {
		scored = append(scored, models.ScoredPoint{
			ID:         fmt.Sprintf("%v", h.ID),
			Score:      h.Score,
			Collection: collection,
			Payload:    h.Payload,
		})
	}
	return scored, nil
}

func (s *qdrantStoreImpl) Retrieve(ctx context.Context, collection string, ids []string, withPayload bool) ([]models.Point, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	body := map[string]interface{}{
		"ids":          ids,
		"with_payload": withPayload,
	}

	var records []struct {
		ID      any            `json:"id"`
		Payload map[string]any `json:"payload"`
	}
	if err := s.doJSON(ctx, "POST", "/collections/"+collection+"/points", body, &records); err != nil {
		return nil, err
	}

	points := make([]models.Point, 0, len(records))
	for _, r := range records {
		points = append(points, models.Point{
			ID:      fmt.Sprintf("%v", r.ID),
			Payload: r.Payload,
		})
	}
	return points, nil
}

func (s *qdrantStoreImpl) SetPayload(ctx context.Context, collection string, ids []string, payload map[string]any, merge bool) error {
	if len(ids) == 0 {
		return nil
	}
	body := map[string]interface{}{
		"payload": payload,
		"points":  ids,
	}
	method := "POST"
	if !merge {
		method = "PUT"
	}
	return s.doJSON(ctx, method, "/collections/"+collection+"/points/payload?wait=true", body, nil)
}

func (s *qdrantStoreImpl) Scroll(ctx context.Context, collection string, filter *models.Filter, limit int, cursor string, withPayload bool) ([]models.Point, string, error) {
	body := map[string]interface{}{
		"limit":        limit,
		"with_payload": withPayload,
	}
	if filter != nil && !filter.IsZero() {
		body["filter"] = filter
	}
	if cursor != "" {
		body["offset"] = cursor
	}

	var scrollResult struct {
		Points []struct {
			ID      any            `json:"id"`
			Payload map[string]any `json:"payload"`
		} `json:"points"`
		NextPageOffset any `json:"next_page_offset"`
	}
	if err := s.doJSON(ctx, "POST", "/collections/"+collection+"/points/scroll", body, &scrollResult); err != nil {
		return nil, "", err
	}

	points := make([]models.Point, 0, len(scrollResult.Points))
	for _, p := range scrollResult.Points {
		points = append(points, models.Point{
			ID:      fmt.Sprintf("%v", p.ID),
			Payload: p.Payload,
		})
	}
	next := ""
	if scrollResult.NextPageOffset != nil {
		next = fmt.Sprintf("%v", scrollResult.NextPageOffset)
	}
	return points, next, nil
}

func (s *qdrantStoreImpl) Delete(ctx context.Context, collection string, filter *models.Filter) error {
	if filter == nil || filter.IsZero() {
		return fmt.Errorf("refusing unfiltered delete on collection %s", collection)
	}
	body := map[string]interface{}{"filter": filter}
	return s.doJSON(ctx, "POST", "/collections/"+collection+"/points/delete?wait=true", body, nil)
}

func (s *qdrantStoreImpl) CreateSnapshot(ctx context.Context, collection string) (*models.SnapshotInfo, error) {
	var snapResult struct {
		Name         string `json:"name"`
		CreationTime string `json:"creation_time"`
		Size         int64  `json:"size"`
	}
	if err := s.doJSON(ctx, "POST", "/collections/"+collection+"/snapshots", nil, &snapResult); err != nil {
		return nil, err
	}
	return &models.SnapshotInfo{
		Name:       snapResult.Name,
		Collection: collection,
		CreatedAt:  snapResult.CreationTime,
		SizeBytes:  snapResult.Size,
	}, nil
}

func (s *qdrantStoreImpl) ListSnapshots(ctx context.Context, collection string) ([]models.SnapshotInfo, error) {
	var snaps []struct {
		Name         string `json:"name"`
		CreationTime string `json:"creation_time"`
		Size         int64  `json:"size"`
	}
	if err := s.doJSON(ctx, "GET", "/collections/"+collection+"/snapshots", nil, &snaps); err != nil {
		return nil, err
	}
	infos := make([]models.SnapshotInfo, 0, len(snaps))
	for _, snap := range snaps {
		infos = append(infos, models.SnapshotInfo{
			Name:       snap.Name,
			Collection: collection,
			CreatedAt:  snap.CreationTime,
			SizeBytes:  snap.Size,
		})
	}
	return infos, nil
}

func (s *qdrantStoreImpl) DownloadSnapshot(ctx context.Context, collection, name, destPath string) error {
	url := fmt.Sprintf("%s/collections/%s/snapshots/%s", s.cfg.URL, collection, name)
	httpReq, err := http.NewRequestWithContext(ctx, "GET", url, nil)
	if err != nil {
		return fmt.Errorf("failed to create snapshot download request: %w", err)
	}
	if s.cfg.APIKey != "" {
		httpReq.Header.Set("api-key", s.cfg.APIKey)
	}

	resp, err := s.httpClient.Do(httpReq)
	if err != nil {
		return fmt.Errorf("vector backend unreachable: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		return &backendStatusError{Status: resp.StatusCode, Body: string(respBody)}
	}

	if err := os.MkdirAll(filepath.Dir(destPath), 0o755); err != nil {
		return fmt.Errorf("failed to create snapshot directory: %w", err)
	}
	dest, err := os.Create(destPath)
	if err != nil {
		return fmt.Errorf("failed to create snapshot file: %w", err)
	}
	defer dest.Close()
	if _, err := io.Copy(dest, resp.Body); err != nil {
		os.Remove(destPath)
		return fmt.Errorf("failed to write snapshot file: %w", err)
	}
	return nil
}

func (s *qdrantStoreImpl) UploadSnapshot(ctx context.Context, collection, srcPath string) error {
	src, err := os.Open(srcPath)
	if err != nil {
		return fmt.Errorf("failed to open snapshot file: %w", err)
	}
	defer src.Close()

	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)
	part, err := writer.CreateFormFile("snapshot", filepath.Base(srcPath))
	if err != nil {
		return fmt.Errorf("failed to build snapshot upload: %w", err)
	}
	if _, err := io.Copy(part, src); err != nil {
		return fmt.Errorf("failed to read snapshot file: %w", err)
	}
	if err := writer.Close(); err != nil {
		return fmt.Errorf("failed to finalize snapshot upload: %w", err)
	}

	url := fmt.Sprintf("%s/collections/%s/snapshots/upload?priority=snapshot", s.cfg.URL, collection)
	httpReq, err := http.NewRequestWithContext(ctx, "POST", url, &buf)
	if err != nil {
		return fmt.Errorf("failed to create snapshot upload request: %w", err)
	}
	httpReq.Header.Set("Content-Type", writer.FormDataContentType())
	if s.cfg.APIKey != "" {
		httpReq.Header.Set("api-key", s.cfg.APIKey)
	}

	resp, err := s.httpClient.Do(httpReq)
	if err != nil {
		return fmt.Errorf("vector backend unreachable: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		respBody, _ := io.ReadAll(resp.Body)
		return &backendStatusError{Status: resp.StatusCode, Body: string(respBody)}
	}
	return nil
}
