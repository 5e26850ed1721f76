package models

// FusionMethod selects how per-kind score lists are combined.
type FusionMethod string

const (
	FusionWeighted FusionMethod = "weighted"
	FusionRRF      FusionMethod = "rrf"
)

// MaxTopK bounds the per-request result size.
const MaxTopK = 100

// FusionWeights holds the per-kind contribution weights.
type FusionWeights struct {
	Dense  float64 `json:"dense"`
	Sparse float64 `json:"sparse"`
	Splade float64 `json:"splade"`
}

// DefaultFusionWeights favors dense slightly over the two sparse signals.
func DefaultFusionWeights() FusionWeights {
	return FusionWeights{Dense: 0.5, Sparse: 0.25, Splade: 0.25}
}

// HybridSearchRequest is the body of POST /query/hybrid. TopK is a pointer
// because an explicit zero means "no results wanted" while omission means
// "use the configured default".
type HybridSearchRequest struct {
	QueryText   string   `json:"query_text" binding:"required"`
	TopK        *int     `json:"top_k"`
	Collections []string `json:"collections,omitempty"`

	// Tuning overrides; zero values mean "use config".
	Alpha      *float64       `json:"alpha,omitempty"`
	Weights    *FusionWeights `json:"weights,omitempty"`
	TuningMode string         `json:"tuning_mode,omitempty"`
	Rerank     *bool          `json:"rerank,omitempty"`
	DateBoost  *bool          `json:"date_boost,omitempty"`
}

// KeywordSearchRequest is the body of POST /query/keyword.
type KeywordSearchRequest struct {
	Query string `json:"query" binding:"required"`
	TopK  *int   `json:"top_k"`
}

// SearchResult is one document-level hit as returned to clients.
type SearchResult struct {
	ID         string         `json:"id"`
	Score      float64        `json:"score"`
	Collection string         `json:"collection"`
	Payload    map[string]any `json:"payload"`
}

// SearchResponse is the envelope of both query endpoints.
type SearchResponse struct {
	Status  string         `json:"status"`
	Results []SearchResult `json:"results"`
	Cached  bool           `json:"cached,omitempty"`
}

// DateBoostParams controls the recency boost stage.
type DateBoostParams struct {
	Enabled   bool    `json:"enabled"`
	DecayRate float64 `json:"decay_rate"`
	Weight    float64 `json:"weight"`
}

// DefaultDateBoostParams uses a ~70-day half-life with moderate influence.
func DefaultDateBoostParams() DateBoostParams {
	return DateBoostParams{Enabled: false, DecayRate: 0.01, Weight: 0.5}
}
