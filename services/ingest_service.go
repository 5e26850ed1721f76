package services

import (
	"context"

	"github.com/vortexdb/vortex-gateway/models"
)

// ProgressFunc reports monotonic ingestion progress in [0,100].
type ProgressFunc func(percent int)

// IngestOptions qualifies one upsert batch.
type IngestOptions struct {
	TenantID       string
	AccessLevel    int
	EncryptContent bool
	Progress       ProgressFunc
}

// IngestService turns raw documents into encoded chunk points in the store.
type IngestService interface {
	// UpsertDocuments normalizes, chunks, encodes, and upserts the batch,
	// creating the collection on first use. Returns the point count written.
	UpsertDocuments(ctx context.Context, collection string, docs []map[string]any, opts IngestOptions) (int, error)

	// UpdateDocument patches the payload of every chunk of a document.
	UpdateDocument(ctx context.Context, collection, dbID string, newPayload map[string]any, merge bool) error

	// DeleteDocument removes every chunk of a document.
	DeleteDocument(ctx context.Context, collection, dbID string) error
}
