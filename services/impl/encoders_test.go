package impl

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vortexdb/vortex-gateway/config"
)

func TestDenseEncodeNormalizes(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{
			"embeddings": [][]float32{{3, 4}},
		})
	}))
	t.Cleanup(srv.Close)

	enc := NewDenseEncoder(&config.EncoderConfig{DenseURL: srv.URL, DenseModel: "all-MiniLM-L6-v2", DenseDim: 2})
	assert.Equal(t, 2, enc.Dim())

	vec, err := enc.Encode(context.Background(), "hello")
	require.NoError(t, err)
	require.Len(t, vec, 2)
	assert.InDelta(t, 0.6, vec[0], 1e-6)
	assert.InDelta(t, 0.8, vec[1], 1e-6)
}

func TestDenseEncodeBatchPreservesOrder(t *testing.T) {
	var batches [][]string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Texts []string `json:"texts"`
		}
		_ = json.NewDecoder(r.Body).Decode(&req)
		batches = append(batches, req.Texts)

		embeddings := make([][]float32, len(req.Texts))
		for i, text := range req.Texts {
			// Encode the text length into the vector direction so order
			// survives normalization.
			embeddings[i] = []float32{float32(len(text)), 1}
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"embeddings": embeddings})
	}))
	t.Cleanup(srv.Close)

	enc := NewDenseEncoder(&config.EncoderConfig{
		DenseURL:       srv.URL,
		DenseBatchSize: 2,
		EncodeWorkers:  1,
	})

	texts := []string{"a", "bb", "ccc", "dddd", "eeeee"}
	out, err := enc.EncodeBatch(context.Background(), texts)
	require.NoError(t, err)
	require.Len(t, out, len(texts))
	for i, text := range texts {
		require.Len(t, out[i], 2)
		assert.InDelta(t, float64(len(text)), float64(out[i][0]/out[i][1]), 1e-4, "position %d", i)
	}

	require.Len(t, batches, 3)
	assert.Equal(t, []string{"a", "bb"}, batches[0])
	assert.Equal(t, []string{"eeeee"}, batches[2])
}

func TestDenseEncodeBatchEmpty(t *testing.T) {
	enc := NewDenseEncoder(&config.EncoderConfig{DenseURL: "http://unused"})
	out, err := enc.EncodeBatch(context.Background(), nil)
	require.NoError(t, err)
	assert.Nil(t, out)
}

func TestDenseEncodeBatchCountMismatch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{
			"embeddings": [][]float32{{1, 0}},
		})
	}))
	t.Cleanup(srv.Close)

	enc := NewDenseEncoder(&config.EncoderConfig{DenseURL: srv.URL})
	_, err := enc.EncodeBatch(context.Background(), []string{"one", "two"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "1 embeddings for 2 texts")
}

func TestDenseEncoderStatusError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "model loading", http.StatusServiceUnavailable)
	}))
	t.Cleanup(srv.Close)

	enc := NewDenseEncoder(&config.EncoderConfig{DenseURL: srv.URL})
	_, err := enc.Encode(context.Background(), "hello")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "status 503")
}

func TestSpladeDisabled(t *testing.T) {
	enc := NewSpladeEncoder(&config.EncoderConfig{EnableSplade: false, SpladeURL: "http://unused"})
	assert.False(t, enc.Enabled())

	vec, err := enc.Encode(context.Background(), "query")
	require.NoError(t, err)
	assert.True(t, vec.IsEmpty())

	// Enabled requires a URL as well as the flag.
	enc = NewSpladeEncoder(&config.EncoderConfig{EnableSplade: true})
	assert.False(t, enc.Enabled())
}

func TestSpladeEncodeRequestShape(t *testing.T) {
	var body map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewDecoder(r.Body).Decode(&body)
		_ = json.NewEncoder(w).Encode(map[string]any{
			"indices": []uint32{12, 845},
			"values":  []float32{1.5, 0.25},
		})
	}))
	t.Cleanup(srv.Close)

	enc := NewSpladeEncoder(&config.EncoderConfig{
		EnableSplade:    true,
		SpladeURL:       srv.URL,
		SpladeModelName: "naver/splade-v3",
		SpladeMaxLength: 256,
		SpladeThreshold: 0.01,
		SpladeTopK:      256,
	})

	vec, err := enc.Encode(context.Background(), "leader election")
	require.NoError(t, err)
	assert.Equal(t, []uint32{12, 845}, vec.Indices)
	assert.Equal(t, []float32{1.5, 0.25}, vec.Values)

	assert.Equal(t, "naver/splade-v3", body["model"])
	assert.Equal(t, "leader election", body["text"])
	assert.Equal(t, float64(256), body["max_length"])
	assert.Equal(t, 0.01, body["threshold"])
	assert.Equal(t, float64(256), body["top_k"])
}

func TestSpladeMisalignedResponse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{
			"indices": []uint32{1, 2},
			"values":  []float32{0.5},
		})
	}))
	t.Cleanup(srv.Close)

	enc := NewSpladeEncoder(&config.EncoderConfig{EnableSplade: true, SpladeURL: srv.URL})
	_, err := enc.Encode(context.Background(), "query")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "misaligned")
}

func TestCrossScoreAlignsWithDocs(t *testing.T) {
	var body map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewDecoder(r.Body).Decode(&body)
		_ = json.NewEncoder(w).Encode(map[string]any{
			"scores": []float64{0.9, 0.1},
		})
	}))
	t.Cleanup(srv.Close)

	enc := NewCrossEncoder(&config.EncoderConfig{CrossURL: srv.URL, CrossModel: "ms-marco-MiniLM"})
	scores, err := enc.Score(context.Background(), "leader election", []string{"raft", "gossip"})
	require.NoError(t, err)
	assert.Equal(t, []float64{0.9, 0.1}, scores)
	assert.Equal(t, "leader election", body["query"])
	assert.Equal(t, []any{"raft", "gossip"}, body["documents"])
}

func TestCrossScoreEmptyDocs(t *testing.T) {
	enc := NewCrossEncoder(&config.EncoderConfig{CrossURL: "http://unused"})
	scores, err := enc.Score(context.Background(), "q", nil)
	require.NoError(t, err)
	assert.Nil(t, scores)
}

func TestCrossScoreCountMismatch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{"scores": []float64{0.9}})
	}))
	t.Cleanup(srv.Close)

	enc := NewCrossEncoder(&config.EncoderConfig{CrossURL: srv.URL})
	_, err := enc.Score(context.Background(), "q", []string{"a", "b"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "1 scores for 2 documents")
}
