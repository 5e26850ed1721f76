package services

import (
	"context"

	"github.com/vortexdb/vortex-gateway/models"
	"github.com/vortexdb/vortex-gateway/security"
)

// HybridSearchService runs the full per-query pipeline: cache probe, fan-out
// across collections and vector kinds, fusion, chunk collapse, optional
// rerank and recency boost, tenancy scrub.
type HybridSearchService interface {
	HybridSearch(ctx context.Context, req models.HybridSearchRequest, userCtx *security.UserContext) (*models.SearchResponse, error)

	// KeywordSearch is the sparse-only single-kind path.
	KeywordSearch(ctx context.Context, req models.KeywordSearchRequest, userCtx *security.UserContext) (*models.SearchResponse, error)

	// ClearCache drops the semantic cache contents.
	ClearCache(ctx context.Context) error
}
