package impl

import (
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// TextStrategy selects how the normalizer derives the _text field.
type TextStrategy string

const (
	StrategyAuto      TextStrategy = "auto"
	StrategyConcatAll TextStrategy = "concat_all"
	StrategyCustom    TextStrategy = "custom"
)

const (
	maxFlattenDepth   = 5
	maxArrayItems     = 10
	autoFieldMaxChars = 1000
)

// autoTextFields is the preference order for the auto strategy.
var autoTextFields = []string{
	"title", "name", "subject", "description",
	"content", "message", "text", "body",
}

// PayloadNormalizer turns arbitrary JSON documents into flat payloads with
// a derived _text field and a short content fingerprint. Process is pure:
// the same input always yields the same output.
type PayloadNormalizer struct {
	strategy     TextStrategy
	customFields []string
}

func NewPayloadNormalizer(strategy TextStrategy, customFields []string) *PayloadNormalizer {
	if strategy == "" {
		strategy = StrategyAuto
	}
	return &PayloadNormalizer{strategy: strategy, customFields: customFields}
}

// Process strips reserved fields, flattens nesting, derives _text per the
// configured strategy and attaches _hash, a 16-hex-char md5 of _text.
func (n *PayloadNormalizer) Process(raw map[string]any) map[string]any {
	scrubbed := make(map[string]any, len(raw))
	for k, v := range raw {
		if _, reserved := reservedFields[k]; reserved {
			continue
		}
		if k == "_text" {
			continue
		}
		scrubbed[k] = v
	}

	flat := make(map[string]any, len(scrubbed))
	for _, k := range sortedKeys(scrubbed) {
		flattenInto(flat, k, scrubbed[k], 1)
	}

	text := n.deriveText(scrubbed, flat)
	flat["_text"] = text
	flat["_hash"] = textFingerprint(text)
	return flat
}

func (n *PayloadNormalizer) deriveText(raw, flat map[string]any) string {
	switch n.strategy {
	case StrategyConcatAll:
		return strings.TrimSpace(strings.Join(collectLeaves(raw, 1), " "))
	case StrategyCustom:
		var parts []string
		for _, field := range n.customFields {
			if s := stringValue(flat[field]); s != "" {
				parts = append(parts, s)
			}
		}
		return strings.TrimSpace(strings.Join(parts, " "))
	default:
		for _, field := range autoTextFields {
			if s, ok := raw[field].(string); ok && strings.TrimSpace(s) != "" {
				return s
			}
		}
		// No preferred field present: concatenate the short top-level
		// strings in key order so the result stays deterministic.
		var parts []string
		for _, k := range sortedKeys(raw) {
			if s, ok := raw[k].(string); ok && s != "" && runeLen(s) < autoFieldMaxChars {
				parts = append(parts, s)
			}
		}
		return strings.TrimSpace(strings.Join(parts, " "))
	}
}

// flattenInto lowers nested maps and arrays into underscore-joined keys.
// Past the depth limit the remaining subtree is collapsed into a single
// space-joined string under the deepest reachable key.
func flattenInto(out map[string]any, key string, value any, depth int) {
	switch v := value.(type) {
	case map[string]any:
		if depth >= maxFlattenDepth {
			out[key] = strings.Join(collectLeaves(v, 1), " ")
			return
		}
		for _, k := range sortedKeys(v) {
			flattenInto(out, key+"_"+k, v[k], depth+1)
		}
	case []any:
		if depth >= maxFlattenDepth {
			out[key] = strings.Join(collectLeaves(v, 1), " ")
			return
		}
		for i, item := range v {
			if i >= maxArrayItems {
				break
			}
			flattenInto(out, key+"_"+strconv.Itoa(i), item, depth+1)
		}
	default:
		out[key] = v
	}
}

// collectLeaves walks a value and gathers every scalar as a string, bounded
// by the same depth and array limits the flattener honors.
func collectLeaves(value any, depth int) []string {
	if depth > maxFlattenDepth {
		return nil
	}
	switch v := value.(type) {
	case map[string]any:
		var out []string
		for _, k := range sortedKeys(v) {
			out = append(out, collectLeaves(v[k], depth+1)...)
		}
		return out
	case []any:
		var out []string
		for i, item := range v {
			if i >= maxArrayItems {
				break
			}
			out = append(out, collectLeaves(item, depth+1)...)
		}
		return out
	default:
		if s := stringValue(v); s != "" {
			return []string{s}
		}
		return nil
	}
}

func stringValue(v any) string {
	switch s := v.(type) {
	case string:
		return strings.TrimSpace(s)
	case float64:
		return strconv.FormatFloat(s, 'f', -1, 64)
	case int:
		return strconv.Itoa(s)
	case int64:
		return strconv.FormatInt(s, 10)
	case bool:
		return strconv.FormatBool(s)
	case nil:
		return ""
	default:
		return strings.TrimSpace(fmt.Sprintf("%v", s))
	}
}

func textFingerprint(text string) string {
	sum := md5.Sum([]byte(text))
	return hex.EncodeToString(sum[:])[:16]
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
