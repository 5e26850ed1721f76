package models

// UpsertBatchRequest is the body of the synchronous /crud/upsert_batch.
type UpsertBatchRequest struct {
	Collection  string           `json:"collection"`
	Documents   []map[string]any `json:"documents" binding:"required"`
	TenantID    string           `json:"tenant_id,omitempty"`
	AccessLevel int              `json:"access_level,omitempty"`
	Encrypt     bool             `json:"encrypt,omitempty"`
}

// BatchIngestRequest is the body of the asynchronous /batch endpoints.
// Either Documents (inline) or Folder (server-side tree) must be set.
type BatchIngestRequest struct {
	Collection  string           `json:"collection"`
	Documents   []map[string]any `json:"documents,omitempty"`
	Folder      string           `json:"folder,omitempty"`
	BatchSize   int              `json:"batch_size,omitempty"`
	TenantID    string           `json:"tenant_id,omitempty"`
	AccessLevel int              `json:"access_level,omitempty"`
}

// UpdateDocumentRequest is the body of PATCH /crud/update. Merge defaults
// to true; false replaces the non-structural payload wholesale.
type UpdateDocumentRequest struct {
	Collection string         `json:"collection"`
	DBID       string         `json:"db_id" binding:"required"`
	NewPayload map[string]any `json:"new_payload" binding:"required"`
	Merge      *bool          `json:"merge,omitempty"`
}

// DeleteDocumentRequest is the body of DELETE /crud/delete.
type DeleteDocumentRequest struct {
	Collection string `json:"collection"`
	DBID       string `json:"db_id" binding:"required"`
}
