package impl

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"strconv"

	"github.com/google/uuid"
)

// reservedFields never participate in content hashing; they are either
// derived or attached by the pipeline itself.
var reservedFields = map[string]struct{}{
	"_id":         {},
	"_vector":     {},
	"_timestamp":  {},
	"_hash":       {},
	"_collection": {},
}

// pointNamespace anchors deterministic point IDs. Derived once from a fixed
// name so every process computes identical IDs for identical input.
var pointNamespace = uuid.NewSHA1(uuid.NameSpaceDNS, []byte("vortexdb.io"))

// DocHash returns the stable identity of a document: the SHA-256 hex digest
// of its canonical JSON with reserved fields stripped. Two payload-identical
// documents always collapse to the same hash, so re-ingesting is an update
// rather than a duplicate.
func DocHash(doc map[string]any) string {
	scrubbed := make(map[string]any, len(doc))
	for k, v := range doc {
		if _, reserved := reservedFields[k]; reserved {
			continue
		}
		scrubbed[k] = v
	}
	// json.Marshal sorts map keys, which gives us canonical form for free.
	canonical, err := json.Marshal(scrubbed)
	if err != nil {
		// Non-marshalable values cannot come in over the HTTP surface; fall
		// back to hashing the empty object rather than failing ingest.
		canonical = []byte("{}")
	}
	sum := sha256.Sum256(canonical)
	return hex.EncodeToString(sum[:])
}

// PointID derives the deterministic UUID5 for one chunk of a document.
// Chunk 0 of the same document hash always maps to the same point, which is
// what makes upserts idempotent at the storage layer.
func PointID(dbID string, chunkIndex int) string {
	return uuid.NewSHA1(pointNamespace, []byte(dbID+":"+strconv.Itoa(chunkIndex))).String()
}
