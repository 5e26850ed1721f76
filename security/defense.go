package security

import (
	"math"
	"math/rand"
	"regexp"

	"github.com/vortexdb/vortex-gateway/metrics"
)

// namedPattern pairs a compiled rejection pattern with the name reported in
// audit entries.
type namedPattern struct {
	name string
	re   *regexp.Regexp
}

var injectionPatterns = []namedPattern{
	{"prompt_override", regexp.MustCompile(`(?i)ignore\s+(all\s+|any\s+)?(previous|prior|above)\s+instructions`)},
	{"prompt_override", regexp.MustCompile(`(?i)disregard\s+(all\s+|any\s+)?(previous|prior)\s+(instructions|context)`)},
	{"prompt_reveal", regexp.MustCompile(`(?i)(reveal|show|print)\s+(your\s+)?(system\s+prompt|initial\s+instructions)`)},
	{"role_hijack", regexp.MustCompile(`(?i)you\s+are\s+now\s+(a|an|the)\s`)},
	{"context_reset", regexp.MustCompile(`(?i)forget\s+(everything|all)\s+(you|above|before)`)},
	{"sql_tautology", regexp.MustCompile(`(?i)'\s*or\s*'?1'?\s*=\s*'?1`)},
	{"sql_tautology", regexp.MustCompile(`(?i)\bor\s+1\s*=\s*1\b`)},
	{"sql_union", regexp.MustCompile(`(?i)\bunion\s+(all\s+)?select\b`)},
	{"sql_drop", regexp.MustCompile(`(?i);\s*drop\s+(table|database)\b`)},
	{"sql_comment", regexp.MustCompile(`(?i)('|\s)--\s*$`)},
	{"nosql_operator", regexp.MustCompile(`"\$(where|ne|gt|lt|gte|lte|regex|in|nin)"\s*:`)},
	{"nosql_operator", regexp.MustCompile(`\$where\s*:`)},
}

// InjectionDetector screens free-text inputs for prompt-injection and query
// smuggling attempts.
type InjectionDetector struct {
	patterns []namedPattern
}

func NewInjectionDetector() *InjectionDetector {
	return &InjectionDetector{patterns: injectionPatterns}
}

// Scan returns the name of the first matching pattern, or "" when clean.
func (d *InjectionDetector) Scan(text string) string {
	for _, p := range d.patterns {
		if p.re.MatchString(text) {
			metrics.InjectionsDetected.WithLabelValues(p.name).Inc()
			return p.name
		}
	}
	return ""
}

// DefaultAnomalyThreshold is the rejection threshold in standard deviations.
const DefaultAnomalyThreshold = 3.0

// VectorAnomalyDetector rejects embeddings whose component mean strays too
// far from a calibrated baseline. Used at ingest against poisoning.
type VectorAnomalyDetector struct {
	baselineMean float64
	baselineStd  float64
	threshold    float64
	calibrated   bool
}

func NewVectorAnomalyDetector(threshold float64) *VectorAnomalyDetector {
	if threshold <= 0 {
		threshold = DefaultAnomalyThreshold
	}
	return &VectorAnomalyDetector{threshold: threshold}
}

// Calibrate establishes the baseline from a sample of known-good vectors.
func (d *VectorAnomalyDetector) Calibrate(vectors [][]float32) {
	if len(vectors) == 0 {
		return
	}

	means := make([]float64, 0, len(vectors))
	for _, v := range vectors {
		means = append(means, vectorMean(v))
	}

	var sum float64
	for _, m := range means {
		sum += m
	}
	mean := sum / float64(len(means))

	var variance float64
	for _, m := range means {
		variance += (m - mean) * (m - mean)
	}
	variance /= float64(len(means))

	d.baselineMean = mean
	d.baselineStd = math.Sqrt(variance)
	if d.baselineStd == 0 {
		d.baselineStd = 1e-9
	}
	d.calibrated = true
}

// IsAnomalous reports whether the vector's mean exceeds the z-score
// threshold. An uncalibrated detector accepts everything.
func (d *VectorAnomalyDetector) IsAnomalous(vec []float32) (bool, float64) {
	if !d.calibrated || len(vec) == 0 {
		return false, 0
	}

	z := math.Abs(vectorMean(vec)-d.baselineMean) / d.baselineStd
	return z > d.threshold, z
}

func vectorMean(v []float32) float64 {
	if len(v) == 0 {
		return 0
	}
	var sum float64
	for _, x := range v {
		sum += float64(x)
	}
	return sum / float64(len(v))
}

// EmbeddingProtector adds calibrated Laplace noise to stored embeddings and
// renormalizes, limiting inversion-style leakage.
type EmbeddingProtector struct {
	epsilon float64
	enabled bool
	rng     *rand.Rand
}

func NewEmbeddingProtector(epsilon float64, enabled bool) *EmbeddingProtector {
	if epsilon <= 0 {
		epsilon = 10.0
	}
	return &EmbeddingProtector{
		epsilon: epsilon,
		enabled: enabled,
		rng:     rand.New(rand.NewSource(rand.Int63())),
	}
}

// Protect returns the vector with Laplace noise applied and L2 norm restored.
// Disabled protectors return the input unchanged.
func (p *EmbeddingProtector) Protect(vec []float32) []float32 {
	if !p.enabled || len(vec) == 0 {
		return vec
	}

	scale := 1.0 / p.epsilon
	out := make([]float32, len(vec))
	for i, x := range vec {
		out[i] = x + float32(p.laplace(scale))
	}

	return normalizeL2(out)
}

// laplace samples from Laplace(0, scale) by inverse transform.
func (p *EmbeddingProtector) laplace(scale float64) float64 {
	u := p.rng.Float64() - 0.5
	return -scale * math.Copysign(math.Log(1-2*math.Abs(u)), u)
}

func normalizeL2(v []float32) []float32 {
	var norm float64
	for _, x := range v {
		norm += float64(x) * float64(x)
	}
	norm = math.Sqrt(norm)
	if norm == 0 {
		return v
	}
	for i := range v {
		v[i] = float32(float64(v[i]) / norm)
	}
	return v
}
