package models

// CreateCollectionRequest is the body of POST /admin/collections/create.
type CreateCollectionRequest struct {
	Name       string `json:"name" binding:"required"`
	VectorSize int    `json:"vector_size"`
}

// DeleteCollectionRequest is the body of POST /admin/collections/delete.
type DeleteCollectionRequest struct {
	Name string `json:"name" binding:"required"`
}

// SnapshotCreateRequest is the body of POST /admin/snapshot/create.
type SnapshotCreateRequest struct {
	Collection string `json:"collection" binding:"required"`
}

// SnapshotPathRequest addresses a snapshot file under the configured
// snapshot directory. Paths outside it are rejected.
type SnapshotPathRequest struct {
	Path string `json:"path" binding:"required"`
}

// BM25RetrainRequest is the body of POST /admin/bm25/retrain. An empty
// base_path retrains from the live collection corpus.
type BM25RetrainRequest struct {
	BasePath string `json:"base_path"`
}
