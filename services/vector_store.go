package services

import (
	"context"

	"github.com/vortexdb/vortex-gateway/models"
)

// VectorStoreClient is the typed facade over the external vector backend.
type VectorStoreClient interface {
	// CreateCollection provisions a collection with a dense vector plus the
	// two sparse sub-vectors (sparse, splade).
	CreateCollection(ctx context.Context, spec models.CreateCollectionSpec) error
	DeleteCollection(ctx context.Context, name string) error
	ListCollections(ctx context.Context) ([]models.CollectionInfo, error)
	CollectionExists(ctx context.Context, name string) (bool, error)

	Upsert(ctx context.Context, collection string, points []models.Point) error

	// Search runs a single-kind query; using selects the named vector.
	Search(ctx context.Context, collection, using string, dense []float32, sparse *models.SparseVector, limit int, filter *models.Filter, withPayload bool) ([]models.ScoredPoint, error)

	Retrieve(ctx context.Context, collection string, ids []string, withPayload bool) ([]models.Point, error)

	// SetPayload patches payloads in place; merge false overwrites the
	// whole payload of every addressed point.
	SetPayload(ctx context.Context, collection string, ids []string, payload map[string]any, merge bool) error

	// Scroll pages through points matching the filter; an empty returned
	// cursor means exhaustion.
	Scroll(ctx context.Context, collection string, filter *models.Filter, limit int, cursor string, withPayload bool) ([]models.Point, string, error)

	Delete(ctx context.Context, collection string, filter *models.Filter) error

	CreateSnapshot(ctx context.Context, collection string) (*models.SnapshotInfo, error)
	ListSnapshots(ctx context.Context, collection string) ([]models.SnapshotInfo, error)
	DownloadSnapshot(ctx context.Context, collection, name, destPath string) error
	UploadSnapshot(ctx context.Context, collection, srcPath string) error
}
