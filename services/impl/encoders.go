package impl

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"net/http"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/vortexdb/vortex-gateway/config"
	"github.com/vortexdb/vortex-gateway/models"
	"github.com/vortexdb/vortex-gateway/services"
)

// denseEncoderImpl calls the remote dense embedding sidecar.
type denseEncoderImpl struct {
	cfg        *config.EncoderConfig
	httpClient *http.Client
}

// NewDenseEncoder creates a DenseEncoder backed by the configured sidecar.
func NewDenseEncoder(cfg *config.EncoderConfig) services.DenseEncoder {
	return &denseEncoderImpl{
		cfg: cfg,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

func (e *denseEncoderImpl) Dim() int {
	return e.cfg.DenseDim
}

func (e *denseEncoderImpl) Encode(ctx context.Context, text string) ([]float32, error) {
	vecs, err := e.encodeTexts(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	if len(vecs) == 0 {
		return nil, fmt.Errorf("dense encoder returned no embeddings")
	}
	return vecs[0], nil
}

// EncodeBatch fans sub-batches out over a bounded worker pool while keeping
// the output aligned with the input order.
func (e *denseEncoderImpl) EncodeBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	batchSize := e.cfg.DenseBatchSize
	if batchSize <= 0 {
		batchSize = 32
	}

	out := make([][]float32, len(texts))
	g, gctx := errgroup.WithContext(ctx)
	workers := e.cfg.EncodeWorkers
	if workers <= 0 {
		workers = 1
	}
	g.SetLimit(workers)

	for start := 0; start < len(texts); start += batchSize {
		start := start
		end := start + batchSize
		if end > len(texts) {
			end = len(texts)
		}
		g.Go(func() error {
			vecs, err := e.encodeTexts(gctx, texts[start:end])
			if err != nil {
				return err
			}
			if len(vecs) != end-start {
				return fmt.Errorf("dense encoder returned %d embeddings for %d texts", len(vecs), end-start)
			}
			copy(out[start:end], vecs)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

func (e *denseEncoderImpl) encodeTexts(ctx context.Context, texts []string) ([][]float32, error) {
	reqBody := map[string]interface{}{
		"model": e.cfg.DenseModel,
		"texts": texts,
	}
	jsonData, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal encode request: %w", err)
	}

	url := fmt.Sprintf("%s/encode", e.cfg.DenseURL)
	httpReq, err := http.NewRequestWithContext(ctx, "POST", url, bytes.NewBuffer(jsonData))
	if err != nil {
		return nil, fmt.Errorf("failed to create encode request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := e.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("dense encoder unreachable: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("dense encoder returned status %d: %s", resp.StatusCode, string(body))
	}

	var encodeResp struct {
		Embeddings [][]float32 `json:"embeddings"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&encodeResp); err != nil {
		return nil, fmt.Errorf("failed to parse encoder response: %w", err)
	}

	// The search contract assumes unit vectors; normalize here so a sidecar
	// that skips normalization cannot skew cosine scores.
	for i := range encodeResp.Embeddings {
		normalizeL2(encodeResp.Embeddings[i])
	}
	return encodeResp.Embeddings, nil
}

func normalizeL2(vec []float32) {
	var sum float64
	for _, v := range vec {
		sum += float64(v) * float64(v)
	}
	if sum == 0 {
		return
	}
	norm := float32(math.Sqrt(sum))
	for i := range vec {
		vec[i] /= norm
	}
}

// spladeEncoderImpl calls the remote SPLADE expansion sidecar.
type spladeEncoderImpl struct {
	cfg        *config.EncoderConfig
	httpClient *http.Client
}

func NewSpladeEncoder(cfg *config.EncoderConfig) services.SpladeEncoder {
	return &spladeEncoderImpl{
		cfg: cfg,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

func (e *spladeEncoderImpl) Enabled() bool {
	return e.cfg.EnableSplade && e.cfg.SpladeURL != ""
}

func (e *spladeEncoderImpl) Encode(ctx context.Context, text string) (models.SparseVector, error) {
	if !e.Enabled() {
		return models.SparseVector{}, nil
	}

	reqBody := map[string]interface{}{
		"model":      e.cfg.SpladeModelName,
		"text":       text,
		"max_length": e.cfg.SpladeMaxLength,
		"threshold":  e.cfg.SpladeThreshold,
		"top_k":      e.cfg.SpladeTopK,
	}
	jsonData, err := json.Marshal(reqBody)
	if err != nil {
		return models.SparseVector{}, fmt.Errorf("failed to marshal splade request: %w", err)
	}

	url := fmt.Sprintf("%s/encode", e.cfg.SpladeURL)
	httpReq, err := http.NewRequestWithContext(ctx, "POST", url, bytes.NewBuffer(jsonData))
	if err != nil {
		return models.SparseVector{}, fmt.Errorf("failed to create splade request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := e.httpClient.Do(httpReq)
	if err != nil {
		return models.SparseVector{}, fmt.Errorf("splade encoder unreachable: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return models.SparseVector{}, fmt.Errorf("splade encoder returned status %d: %s", resp.StatusCode, string(body))
	}

	var spladeResp struct {
		Indices []uint32  `json:"indices"`
		Values  []float32 `json:"values"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&spladeResp); err != nil {
		return models.SparseVector{}, fmt.Errorf("failed to parse splade response: %w", err)
	}
	if len(spladeResp.Indices) != len(spladeResp.Values) {
		return models.SparseVector{}, fmt.Errorf("splade response misaligned: %d indices, %d values", len(spladeResp.Indices), len(spladeResp.Values))
	}
	return models.SparseVector{Indices: spladeResp.Indices, Values: spladeResp.Values}, nil
}

// crossEncoderImpl calls the remote cross-encoder scoring sidecar.
type crossEncoderImpl struct {
	cfg        *config.EncoderConfig
	httpClient *http.Client
}

func NewCrossEncoder(cfg *config.EncoderConfig) services.CrossEncoder {
	return &crossEncoderImpl{
		cfg: cfg,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

func (e *crossEncoderImpl) Score(ctx context.Context, query string, docs []string) ([]float64, error) {
	if len(docs) == 0 {
		return nil, nil
	}

	reqBody := map[string]interface{}{
		"model":     e.cfg.CrossModel,
		"query":     query,
		"documents": docs,
	}
	jsonData, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal rerank request: %w", err)
	}

	url := fmt.Sprintf("%s/score", e.cfg.CrossURL)
	httpReq, err := http.NewRequestWithContext(ctx, "POST", url, bytes.NewBuffer(jsonData))
	if err != nil {
		return nil, fmt.Errorf("failed to create rerank request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := e.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("cross encoder unreachable: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("cross encoder returned status %d: %s", resp.StatusCode, string(body))
	}

	var scoreResp struct {
		Scores []float64 `json:"scores"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&scoreResp); err != nil {
		return nil, fmt.Errorf("failed to parse cross encoder response: %w", err)
	}
	if len(scoreResp.Scores) != len(docs) {
		return nil, fmt.Errorf("cross encoder returned %d scores for %d documents", len(scoreResp.Scores), len(docs))
	}
	return scoreResp.Scores, nil
}
