package security

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/vortexdb/vortex-gateway/config"
	"github.com/vortexdb/vortex-gateway/logging"
	"github.com/vortexdb/vortex-gateway/metrics"
)

// Audit event types. Critical events are written synchronously on the
// critical chain; everything else flows through the hot chain batcher.
const (
	EventLoginSuccess        = "login_success"
	EventLoginFailed         = "login_failed"
	EventAccessDenied        = "access_denied"
	EventPrivilegeEscalation = "privilege_escalation"
	EventDataDelete          = "data_delete"
	EventBulkExport          = "bulk_export"
	EventConfigChange        = "config_change"
	EventRoleChange          = "role_change"
	EventInjectionDetected   = "injection_detected"
	EventServiceAuthFailure  = "service_auth_failure"
	EventEmergencyAccess     = "emergency_access"

	EventAPIRequest  = "api_request"
	EventSearch      = "search_performed"
	EventDataWrite   = "data_write"
	EventJobEnqueued = "job_enqueued"
	EventQuotaDenied = "quota_denied"
)

var criticalEvents = map[string]bool{
	EventLoginSuccess:        true,
	EventLoginFailed:         true,
	EventAccessDenied:        true,
	EventPrivilegeEscalation: true,
	EventDataDelete:          true,
	EventBulkExport:          true,
	EventConfigChange:        true,
	EventRoleChange:          true,
	EventInjectionDetected:   true,
	EventServiceAuthFailure:  true,
	EventEmergencyAccess:     true,
	EventQuotaDenied:         true,
}

// Entry is one audit event before chaining.
type Entry struct {
	Timestamp string         `json:"timestamp"`
	EventType string         `json:"event_type"`
	Data      map[string]any `json:"data"`
}

// Record is one chained line in an audit file.
type Record struct {
	Entry    json.RawMessage `json:"entry"`
	PrevHash string          `json:"prev_hash"`
	Hash     string          `json:"hash"`
}

type chainState struct {
	Critical  string `json:"critical"`
	Hot       string `json:"hot"`
	UpdatedAt string `json:"updated_at"`
}

// CanonicalJSON serializes an entry with sorted keys so the chain hash is
// reproducible by any verifier.
func CanonicalJSON(e Entry) ([]byte, error) {
	return json.Marshal(map[string]any{
		"timestamp":  e.Timestamp,
		"event_type": e.EventType,
		"data":       e.Data,
	})
}

// ChainHash computes SHA-256(prev_hash || canonical_json(entry)).
func ChainHash(prevHash string, canonical []byte) string {
	h := sha256.New()
	h.Write([]byte(prevHash))
	h.Write(canonical)
	return hex.EncodeToString(h.Sum(nil))
}

// AuditLogger maintains the two hash-chained audit streams. Critical events
// block the caller until persisted; hot events never block the request path
// unless the queue is full.
type AuditLogger struct {
	criticalPath string
	hotPath      string
	statePath    string

	critMu sync.Mutex
	hotMu  sync.Mutex

	heads struct {
		mu       sync.Mutex
		critical string
		hot      string
	}

	queue         chan Entry
	batchSize     int
	flushInterval time.Duration

	stop   chan struct{}
	wg     sync.WaitGroup
	closed atomic.Bool

	log zerolog.Logger
}

// NewAuditLogger opens (or seeds) both chains and starts the hot batcher.
// The seed becomes the genesis prev_hash of brand-new chains.
func NewAuditLogger(cfg config.AuditConfig, seed string) (*AuditLogger, error) {
	for _, p := range []string{cfg.CriticalPath, cfg.HotPath, cfg.ChainStatePath} {
		if dir := filepath.Dir(p); dir != "." {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, fmt.Errorf("failed to create audit directory %s: %w", dir, err)
			}
		}
	}

	queueSize := cfg.QueueSize
	if queueSize <= 0 {
		queueSize = 10000
	}
	batchSize := cfg.BatchSize
	if batchSize <= 0 {
		batchSize = 1000
	}
	flushSeconds := cfg.FlushSeconds
	if flushSeconds <= 0 {
		flushSeconds = 1
	}

	a := &AuditLogger{
		criticalPath:  cfg.CriticalPath,
		hotPath:       cfg.HotPath,
		statePath:     cfg.ChainStatePath,
		queue:         make(chan Entry, queueSize),
		batchSize:     batchSize,
		flushInterval: time.Duration(flushSeconds) * time.Second,
		stop:          make(chan struct{}),
		log:           logging.WithComponent("audit"),
	}

	a.heads.critical = seed
	a.heads.hot = seed
	if data, err := os.ReadFile(cfg.ChainStatePath); err == nil {
		var state chainState
		if err := json.Unmarshal(data, &state); err == nil {
			if state.Critical != "" {
				a.heads.critical = state.Critical
			}
			if state.Hot != "" {
				a.heads.hot = state.Hot
			}
		}
	}

	a.wg.Add(1)
	go a.run()

	return a, nil
}

// IsCritical reports whether the event type belongs on the critical chain.
func IsCritical(eventType string) bool {
	return criticalEvents[eventType]
}

// LogEvent records one audit event on the appropriate chain.
func (a *AuditLogger) LogEvent(eventType string, data map[string]any) {
	e := Entry{
		Timestamp: time.Now().UTC().Format(time.RFC3339Nano),
		EventType: eventType,
		Data:      data,
	}

	if IsCritical(eventType) {
		a.writeCritical(e)
		return
	}

	if a.closed.Load() {
		a.writeHot([]Entry{e})
		return
	}

	select {
	case a.queue <- e:
		metrics.AuditQueueDepth.Set(float64(len(a.queue)))
	default:
		// Queue full: degrade to a synchronous hot-chain write rather
		// than dropping the event.
		a.writeHot([]Entry{e})
	}
}

// Close drains the hot queue, flushes, and stops the batcher.
func (a *AuditLogger) Close() {
	if a.closed.Swap(true) {
		return
	}
	close(a.stop)
	a.wg.Wait()
}

func (a *AuditLogger) run() {
	defer a.wg.Done()

	ticker := time.NewTicker(a.flushInterval)
	defer ticker.Stop()

	batch := make([]Entry, 0, a.batchSize)
	flush := func() {
		if len(batch) == 0 {
			return
		}
		a.writeHot(batch)
		batch = batch[:0]
	}

	for {
		select {
		case e := <-a.queue:
			batch = append(batch, e)
			metrics.AuditQueueDepth.Set(float64(len(a.queue)))
			if len(batch) >= a.batchSize {
				flush()
			}
		case <-ticker.C:
			flush()
		case <-a.stop:
			for {
				select {
				case e := <-a.queue:
					batch = append(batch, e)
					if len(batch) >= a.batchSize {
						flush()
					}
				default:
					flush()
					return
				}
			}
		}
	}
}

func (a *AuditLogger) writeCritical(e Entry) {
	a.critMu.Lock()
	defer a.critMu.Unlock()

	a.heads.mu.Lock()
	prev := a.heads.critical
	a.heads.mu.Unlock()

	canonical, err := CanonicalJSON(e)
	if err != nil {
		a.log.Error().Err(err).Str("event_type", e.EventType).Msg("failed to serialize critical audit entry")
		return
	}

	hash := ChainHash(prev, canonical)
	line, err := json.Marshal(Record{Entry: canonical, PrevHash: prev, Hash: hash})
	if err != nil {
		a.log.Error().Err(err).Msg("failed to serialize critical audit record")
		return
	}

	if err := appendLine(a.criticalPath, line); err != nil {
		// Chain head is not advanced so the on-disk chain stays continuous.
		a.log.Error().Err(err).Msg("failed to persist critical audit entry")
		return
	}

	a.heads.mu.Lock()
	a.heads.critical = hash
	snapshot := chainState{Critical: a.heads.critical, Hot: a.heads.hot}
	a.heads.mu.Unlock()

	a.persistState(snapshot)
	metrics.AuditEntriesWritten.WithLabelValues("critical").Inc()
}

func (a *AuditLogger) writeHot(entries []Entry) {
	if len(entries) == 0 {
		return
	}

	a.hotMu.Lock()
	defer a.hotMu.Unlock()

	a.heads.mu.Lock()
	prev := a.heads.hot
	a.heads.mu.Unlock()

	cur := prev
	buf := make([]byte, 0, len(entries)*256)
	for _, e := range entries {
		canonical, err := CanonicalJSON(e)
		if err != nil {
			a.log.Error().Err(err).Str("event_type", e.EventType).Msg("failed to serialize hot audit entry")
			continue
		}
		hash := ChainHash(cur, canonical)
		line, err := json.Marshal(Record{Entry: canonical, PrevHash: cur, Hash: hash})
		if err != nil {
			a.log.Error().Err(err).Msg("failed to serialize hot audit record")
			continue
		}
		buf = append(buf, line...)
		buf = append(buf, '\n')
		cur = hash
	}
	if len(buf) == 0 {
		return
	}

	if err := appendRaw(a.hotPath, buf); err != nil {
		a.log.Error().Err(err).Int("entries", len(entries)).Msg("failed to persist hot audit batch")
		return
	}

	a.heads.mu.Lock()
	a.heads.hot = cur
	snapshot := chainState{Critical: a.heads.critical, Hot: a.heads.hot}
	a.heads.mu.Unlock()

	a.persistState(snapshot)
	metrics.AuditEntriesWritten.WithLabelValues("hot").Add(float64(len(entries)))
}

func (a *AuditLogger) persistState(state chainState) {
	state.UpdatedAt = time.Now().UTC().Format(time.RFC3339Nano)
	data, err := json.Marshal(state)
	if err != nil {
		a.log.Error().Err(err).Msg("failed to serialize audit chain state")
		return
	}

	tmp := a.statePath + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		a.log.Error().Err(err).Msg("failed to write audit chain state")
		return
	}
	if err := os.Rename(tmp, a.statePath); err != nil {
		a.log.Error().Err(err).Msg("failed to replace audit chain state")
	}
}

func appendLine(path string, line []byte) error {
	return appendRaw(path, append(line, '\n'))
}

func appendRaw(path string, data []byte) error {
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()

	if _, err := f.Write(data); err != nil {
		return err
	}
	return f.Sync()
}

// VerifyChainFile walks one chain file and checks link integrity. It returns
// the number of verified records.
func VerifyChainFile(path, seed string) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, err
	}

	count := 0
	prev := seed
	for _, line := range splitLines(data) {
		var rec Record
		if err := json.Unmarshal(line, &rec); err != nil {
			return count, fmt.Errorf("record %d: malformed: %w", count, err)
		}

		var e Entry
		if err := json.Unmarshal(rec.Entry, &e); err != nil {
			return count, fmt.Errorf("record %d: malformed entry: %w", count, err)
		}
		canonical, err := CanonicalJSON(e)
		if err != nil {
			return count, fmt.Errorf("record %d: %w", count, err)
		}

		if rec.PrevHash != prev {
			return count, fmt.Errorf("record %d: chain break: prev_hash mismatch", count)
		}
		if got := ChainHash(rec.PrevHash, canonical); got != rec.Hash {
			return count, fmt.Errorf("record %d: hash mismatch", count)
		}

		prev = rec.Hash
		count++
	}
	return count, nil
}

func splitLines(data []byte) [][]byte {
	var lines [][]byte
	start := 0
	for i, b := range data {
		if b == '\n' {
			if i > start {
				lines = append(lines, data[start:i])
			}
			start = i + 1
		}
	}
	if start < len(data) {
		lines = append(lines, data[start:])
	}
	return lines
}
