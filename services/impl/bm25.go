package impl

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"unicode"

	"github.com/vortexdb/vortex-gateway/models"
)

// ErrNotFitted is returned by training-dependent operations before a fit.
// An unfitted vectorizer is a legal startup state; callers treat it as an
// empty sparse contribution, not a failure.
var ErrNotFitted = errors.New("bm25 vectorizer is not fitted")

const (
	defaultBM25K1 = 1.5
	defaultBM25B  = 0.75
)

// bm25Model is the serialized artifact. Everything the scorer needs is in
// here, so a Load fully reconstitutes the vectorizer.
type bm25Model struct {
	K1         float64           `json:"k1"`
	B          float64           `json:"b"`
	Vocabulary map[string]uint32 `json:"vocabulary"`
	DocFreq    map[string]int    `json:"doc_freq"`
	DocCount   int               `json:"doc_count"`
	AvgDocLen  float64           `json:"avg_doc_len"`
}

// BM25Vectorizer is a local sparse encoder over a fitted vocabulary.
// Reads (Encode) and the model swap done by retraining are safe to run
// concurrently.
type BM25Vectorizer struct {
	mu    sync.RWMutex
	model *bm25Model
}

func NewBM25Vectorizer() *BM25Vectorizer {
	return &BM25Vectorizer{}
}

func (v *BM25Vectorizer) IsFitted() bool {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.model != nil && len(v.model.Vocabulary) > 0
}

// Fit builds the vocabulary and document statistics from a corpus and swaps
// it in as the active model.
func (v *BM25Vectorizer) Fit(corpus []string) error {
	var docs [][]string
	for _, text := range corpus {
		tokens := tokenize(text)
		if len(tokens) > 0 {
			docs = append(docs, tokens)
		}
	}
	if len(docs) == 0 {
		return errors.New("bm25 fit requires a non-empty corpus")
	}

	model := &bm25Model{
		K1:         defaultBM25K1,
		B:          defaultBM25B,
		Vocabulary: make(map[string]uint32),
		DocFreq:    make(map[string]int),
		DocCount:   len(docs),
	}
	var totalLen int
	for _, tokens := range docs {
		totalLen += len(tokens)
		seen := make(map[string]struct{}, len(tokens))
		for _, tok := range tokens {
			if _, ok := model.Vocabulary[tok]; !ok {
				model.Vocabulary[tok] = uint32(len(model.Vocabulary))
			}
			if _, dup := seen[tok]; !dup {
				seen[tok] = struct{}{}
				model.DocFreq[tok]++
			}
		}
	}
	model.AvgDocLen = float64(totalLen) / float64(len(docs))

	v.mu.Lock()
	v.model = model
	v.mu.Unlock()
	return nil
}

// Encode scores the text's terms against the fitted vocabulary. Terms the
// fit never saw are skipped, so the vector is empty when nothing overlaps.
func (v *BM25Vectorizer) Encode(text string) (models.SparseVector, error) {
	v.mu.RLock()
	model := v.model
	v.mu.RUnlock()
	if model == nil || len(model.Vocabulary) == 0 {
		return models.SparseVector{}, ErrNotFitted
	}

	tokens := tokenize(text)
	if len(tokens) == 0 {
		return models.SparseVector{}, nil
	}
	termFreq := make(map[string]int, len(tokens))
	for _, tok := range tokens {
		termFreq[tok]++
	}

	docLen := float64(len(tokens))
	lengthNorm := model.K1 * (1 - model.B + model.B*docLen/model.AvgDocLen)

	type weighted struct {
		index uint32
		value float32
	}
	var terms []weighted
	for tok, tf := range termFreq {
		idx, ok := model.Vocabulary[tok]
		if !ok {
			continue
		}
		df := float64(model.DocFreq[tok])
		idf := math.Log((float64(model.DocCount)-df+0.5)/(df+0.5) + 1)
		score := idf * (float64(tf) * (model.K1 + 1)) / (float64(tf) + lengthNorm)
		terms = append(terms, weighted{index: idx, value: float32(score)})
	}
	sort.Slice(terms, func(i, j int) bool { return terms[i].index < terms[j].index })

	vec := models.SparseVector{
		Indices: make([]uint32, len(terms)),
		Values:  make([]float32, len(terms)),
	}
	for i, t := range terms {
		vec.Indices[i] = t.index
		vec.Values[i] = t.value
	}
	return vec, nil
}

// Save writes the model artifact atomically: a temp file in the target
// directory followed by a rename, so readers never observe a half-written
// model.
func (v *BM25Vectorizer) Save(path string) error {
	v.mu.RLock()
	model := v.model
	v.mu.RUnlock()
	if model == nil {
		return ErrNotFitted
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create model directory: %w", err)
	}
	data, err := json.Marshal(model)
	if err != nil {
		return fmt.Errorf("failed to serialize bm25 model: %w", err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), ".bm25-*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create temp model file: %w", err)
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("failed to write bm25 model: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("failed to close temp model file: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("failed to replace bm25 model: %w", err)
	}
	return nil
}

// Load reads a previously saved artifact and swaps it in. A missing file is
// an error; the caller decides whether that is fatal at startup.
func (v *BM25Vectorizer) Load(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read bm25 model: %w", err)
	}
	var model bm25Model
	if err := json.Unmarshal(data, &model); err != nil {
		return fmt.Errorf("failed to parse bm25 model: %w", err)
	}
	if model.K1 == 0 {
		model.K1 = defaultBM25K1
	}
	if model.B == 0 {
		model.B = defaultBM25B
	}
	if model.AvgDocLen <= 0 {
		model.AvgDocLen = 1
	}

	v.mu.Lock()
	v.model = &model
	v.mu.Unlock()
	return nil
}

// tokenize lowercases and splits on any non-alphanumeric rune.
func tokenize(text string) []string {
	return strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}
