package impl

import (
	"math"
	"regexp"
	"sort"
	"time"

	"github.com/vortexdb/vortex-gateway/models"
)

// dateFieldOrder is the payload precedence for document dates; meta_date is
// the flattened form of a nested meta.date.
var dateFieldOrder = []string{"date", "start", "finish", "meta_date"}

var isoDatePattern = regexp.MustCompile(`\d{4}-\d{2}-\d{2}`)

var dateLayouts = []string{
	time.RFC3339,
	"2006-01-02 15:04:05",
	"2006-01-02",
}

// extractDocDate pulls a document date from the payload, falling back to
// the first ISO date embedded in the text fields. Returns zero time when
// nothing parses.
func extractDocDate(payload map[string]any) time.Time {
	for _, field := range dateFieldOrder {
		if raw, ok := payload[field]; ok {
			if t := parseDate(raw); !t.IsZero() {
				return t
			}
		}
	}
	for _, field := range []string{models.PayloadContent, "_text"} {
		if s, ok := payload[field].(string); ok {
			if match := isoDatePattern.FindString(s); match != "" {
				if t := parseDate(match); !t.IsZero() {
					return t
				}
			}
		}
	}
	return time.Time{}
}

func parseDate(raw any) time.Time {
	switch v := raw.(type) {
	case string:
		for _, layout := range dateLayouts {
			if t, err := time.Parse(layout, v); err == nil {
				return t
			}
		}
		if match := isoDatePattern.FindString(v); match != "" && match != v {
			if t, err := time.Parse("2006-01-02", match); err == nil {
				return t
			}
		}
	case float64:
		// Unix seconds; anything before 1971 is treated as garbage.
		if v > 31_536_000 {
			return time.Unix(int64(v), 0).UTC()
		}
	}
	return time.Time{}
}

// applyDateBoost re-scores candidates by recency. Scores are min-max
// normalized across the slate, then multiplied by exp(weight*(freshness-0.5))
// where freshness = exp(-decay*ageDays). Undated documents sit at the
// neutral freshness 0.5, so they are neither promoted nor punished.
func applyDateBoost(docs []docCandidate, params models.DateBoostParams, now time.Time) []docCandidate {
	if len(docs) == 0 {
		return docs
	}

	lo, hi := docs[0].Score, docs[0].Score
	for _, d := range docs[1:] {
		if d.Score < lo {
			lo = d.Score
		}
		if d.Score > hi {
			hi = d.Score
		}
	}
	span := hi - lo

	boosted := make([]docCandidate, len(docs))
	copy(boosted, docs)
	for i := range boosted {
		normalized := 1.0
		if span != 0 {
			normalized = (boosted[i].Score - lo) / span
		}
		freshness := 0.5
		if docDate := extractDocDate(boosted[i].Payload); !docDate.IsZero() {
			ageDays := now.Sub(docDate).Hours() / 24
			if ageDays < 0 {
				ageDays = 0
			}
			freshness = math.Exp(-params.DecayRate * ageDays)
		}
		boosted[i].Score = normalized * math.Exp(params.Weight*(freshness-0.5))
	}

	sort.Slice(boosted, func(i, j int) bool {
		if boosted[i].Score != boosted[j].Score {
			return boosted[i].Score > boosted[j].Score
		}
		if boosted[i].MaxChunk != boosted[j].MaxChunk {
			return boosted[i].MaxChunk > boosted[j].MaxChunk
		}
		return boosted[i].ParentID < boosted[j].ParentID
	})
	return boosted
}
