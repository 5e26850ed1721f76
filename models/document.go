package models

// Named vector slots every collection carries.
const (
	VectorDense  = "dense"
	VectorSparse = "sparse"
	VectorSplade = "splade"
)

// Reserved payload keys attached to every chunk point.
const (
	PayloadContent          = "content"
	PayloadTenantID         = "tenant_id"
	PayloadAccessLevel      = "access_level"
	PayloadContentEncrypted = "content_encrypted"
	PayloadIsChunk          = "is_chunk"
	PayloadChunkIndex       = "chunk_index"
	PayloadTotalChunks      = "total_chunks"
	PayloadParentID         = "parent_id"
	PayloadDBID             = "db_id"
	PayloadOriginalID       = "original_id"
	PayloadUserID           = "user_id"
)

// PublicTenant is the distinguished tenant whose content is never encrypted
// and is visible to every caller.
const PublicTenant = "public"

// SparseVector is an indices/values pair over a fixed vocabulary.
type SparseVector struct {
	Indices []uint32  `json:"indices"`
	Values  []float32 `json:"values"`
}

// IsEmpty reports whether the vector carries no terms.
func (v SparseVector) IsEmpty() bool {
	return len(v.Indices) == 0
}

// NamedVectors is the full vector set of a chunk point. Sparse members may be
// nil when the corresponding encoder is unfit or disabled.
type NamedVectors struct {
	Dense  []float32     `json:"dense,omitempty"`
	Sparse *SparseVector `json:"sparse,omitempty"`
	Splade *SparseVector `json:"splade,omitempty"`
}

// Point is a chunk as stored in the vector backend.
type Point struct {
	ID      string         `json:"id"`
	Vectors NamedVectors   `json:"vectors"`
	Payload map[string]any `json:"payload"`
}

// ScoredPoint is a search or scroll hit.
type ScoredPoint struct {
	ID         string         `json:"id"`
	Score      float64        `json:"score"`
	Collection string         `json:"collection,omitempty"`
	Payload    map[string]any `json:"payload,omitempty"`
}

// ParentID returns the owning document id of a chunk hit, falling back to the
// point's own id for unchunked points.
func (p ScoredPoint) ParentID() string {
	if p.Payload != nil {
		if v, ok := p.Payload[PayloadParentID].(string); ok && v != "" {
			return v
		}
		if v, ok := p.Payload[PayloadDBID].(string); ok && v != "" {
			return v
		}
	}
	return p.ID
}

// TenantID returns the tenant recorded in the hit payload, defaulting to public.
func (p ScoredPoint) TenantID() string {
	if p.Payload != nil {
		if v, ok := p.Payload[PayloadTenantID].(string); ok && v != "" {
			return v
		}
	}
	return PublicTenant
}

// CollectionInfo describes one backend collection.
type CollectionInfo struct {
	Name       string `json:"name"`
	PointCount int64  `json:"point_count"`
	VectorSize int    `json:"vector_size"`
	Status     string `json:"status"`
}

// SnapshotInfo describes one collection snapshot held by the backend.
type SnapshotInfo struct {
	Name       string `json:"name"`
	Collection string `json:"collection"`
	CreatedAt  string `json:"created_at,omitempty"`
	SizeBytes  int64  `json:"size_bytes,omitempty"`
}

// Match is a single field predicate: exact value or any-of.
type Match struct {
	Value any   `json:"value,omitempty"`
	Any   []any `json:"any,omitempty"`
}

// FieldCondition matches one payload field.
type FieldCondition struct {
	Key   string `json:"key"`
	Match Match  `json:"match"`
}

// Filter is the boolean filter grammar accepted by the vector backend.
type Filter struct {
	Must    []FieldCondition `json:"must,omitempty"`
	Should  []FieldCondition `json:"should,omitempty"`
	MustNot []FieldCondition `json:"must_not,omitempty"`
}

// IsZero reports whether the filter constrains nothing.
func (f *Filter) IsZero() bool {
	return f == nil || (len(f.Must) == 0 && len(f.Should) == 0 && len(f.MustNot) == 0)
}

// CreateCollectionSpec carries the schema for a new collection.
type CreateCollectionSpec struct {
	Name            string `json:"name"`
	DenseSize       int    `json:"dense_size"`
	Distance        string `json:"distance"`
	HNSWM           int    `json:"hnsw_m,omitempty"`
	HNSWEfConstruct int    `json:"hnsw_ef_construct,omitempty"`
	Quantization    bool   `json:"quantization,omitempty"`
}
