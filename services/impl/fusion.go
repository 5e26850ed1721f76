package impl

import (
	"sort"

	"github.com/vortexdb/vortex-gateway/models"
)

// fusedHit is one chunk candidate after cross-kind score combination.
type fusedHit struct {
	Point models.ScoredPoint
	Score float64
}

// docCandidate is one document after chunk collapse, ordered by Score with
// MaxChunk then ParentID as tie-breakers.
type docCandidate struct {
	ParentID   string
	Collection string
	Score      float64
	MaxChunk   float64
	Payload    map[string]any
	BestChunk  string
}

func kindWeight(w models.FusionWeights, kind string) float64 {
	switch kind {
	case models.VectorDense:
		return w.Dense
	case models.VectorSparse:
		return w.Sparse
	case models.VectorSplade:
		return w.Splade
	default:
		return 0
	}
}

// minMaxScores rescales a ranked list into [0,1]. A constant list maps to
// all-ones so a single-hit kind still contributes.
func minMaxScores(hits []models.ScoredPoint) map[string]float64 {
	out := make(map[string]float64, len(hits))
	if len(hits) == 0 {
		return out
	}
	lo, hi := hits[0].Score, hits[0].Score
	for _, h := range hits[1:] {
		if h.Score < lo {
			lo = h.Score
		}
		if h.Score > hi {
			hi = h.Score
		}
	}
	span := hi - lo
	for _, h := range hits {
		if span == 0 {
			out[h.ID] = 1
		} else {
			out[h.ID] = (h.Score - lo) / span
		}
	}
	return out
}

// fuseWeighted combines per-kind ranked lists by min-max normalizing each
// list and summing weighted normalized scores. A candidate missing from a
// kind contributes zero for that kind.
func fuseWeighted(byKind map[string][]models.ScoredPoint, w models.FusionWeights) []fusedHit {
	combined := make(map[string]*fusedHit)
	for kind, hits := range byKind {
		weight := kindWeight(w, kind)
		if weight == 0 {
			continue
		}
		normalized := minMaxScores(hits)
		for _, h := range hits {
			entry, ok := combined[h.ID]
			if !ok {
				entry = &fusedHit{Point: h}
				combined[h.ID] = entry
			}
			entry.Score += weight * normalized[h.ID]
			if entry.Point.Payload == nil {
				entry.Point.Payload = h.Payload
			}
		}
	}
	return sortFused(combined)
}

// fuseRRF combines per-kind ranked lists by reciprocal rank, weighted per
// kind. Rank is 1-based position in the kind's list.
func fuseRRF(byKind map[string][]models.ScoredPoint, w models.FusionWeights, k int) []fusedHit {
	if k <= 0 {
		k = 60
	}
	combined := make(map[string]*fusedHit)
	for kind, hits := range byKind {
		weight := kindWeight(w, kind)
		if weight == 0 {
			continue
		}
		for rank, h := range hits {
			entry, ok := combined[h.ID]
			if !ok {
				entry = &fusedHit{Point: h}
				combined[h.ID] = entry
			}
			entry.Score += weight / float64(k+rank+1)
			if entry.Point.Payload == nil {
				entry.Point.Payload = h.Payload
			}
		}
	}
	return sortFused(combined)
}

func sortFused(combined map[string]*fusedHit) []fusedHit {
	out := make([]fusedHit, 0, len(combined))
	for _, entry := range combined {
		out = append(out, *entry)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Score != out[j].Score {
			return out[i].Score > out[j].Score
		}
		return out[i].Point.ID < out[j].Point.ID
	})
	return out
}

// collapseToDocuments groups fused chunk hits by parent document. The
// document score is the mean of its contributing chunk scores; ties order
// by best single chunk, then lexicographically by parent ID so equal-score
// runs stay deterministic.
func collapseToDocuments(hits []fusedHit) []docCandidate {
	type group struct {
		sum        float64
		count      int
		max        float64
		payload    map[string]any
		bestChunk  string
		collection string
	}
	groups := make(map[string]*group)
	var order []string
	for _, h := range hits {
		parent := h.Point.ParentID()
		g, ok := groups[parent]
		if !ok {
			g = &group{max: h.Score, payload: h.Point.Payload, bestChunk: h.Point.ID, collection: h.Point.Collection}
			groups[parent] = g
			order = append(order, parent)
		}
		g.sum += h.Score
		g.count++
		if h.Score > g.max || g.count == 1 {
			g.max = h.Score
			g.payload = h.Point.Payload
			g.bestChunk = h.Point.ID
		}
	}

	docs := make([]docCandidate, 0, len(order))
	for _, parent := range order {
		g := groups[parent]
		docs = append(docs, docCandidate{
			ParentID:   parent,
			Collection: g.collection,
			Score:      g.sum / float64(g.count),
			MaxChunk:   g.max,
			Payload:    g.payload,
			BestChunk:  g.bestChunk,
		})
	}
	sort.Slice(docs, func(i, j int) bool {
		if docs[i].Score != docs[j].Score {
			return docs[i].Score > docs[j].Score
		}
		if docs[i].MaxChunk != docs[j].MaxChunk {
			return docs[i].MaxChunk > docs[j].MaxChunk
		}
		return docs[i].ParentID < docs[j].ParentID
	})
	return docs
}
