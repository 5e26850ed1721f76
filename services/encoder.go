package services

import (
	"context"

	"github.com/vortexdb/vortex-gateway/models"
)

// DenseEncoder produces L2-normalized embeddings.
type DenseEncoder interface {
	Encode(ctx context.Context, text string) ([]float32, error)
	EncodeBatch(ctx context.Context, texts []string) ([][]float32, error)
	Dim() int
}

// SparseEncoder is the BM25 side: it must be fit over a corpus before it
// yields meaningful vectors. Unfit is a legal startup state.
type SparseEncoder interface {
	Encode(text string) (models.SparseVector, error)
	Fit(corpus []string) error
	IsFitted() bool
	Save(path string) error
	Load(path string) error
}

// SpladeEncoder produces thresholded sparse expansion vectors.
type SpladeEncoder interface {
	Encode(ctx context.Context, text string) (models.SparseVector, error)
	Enabled() bool
}

// CrossEncoder scores query/document pairs for reranking.
type CrossEncoder interface {
	Score(ctx context.Context, query string, docs []string) ([]float64, error)
}

// EncoderSet bundles the four encoders the pipeline needs.
type EncoderSet struct {
	Dense  DenseEncoder
	Sparse SparseEncoder
	Splade SpladeEncoder
	Cross  CrossEncoder
}
