package impl

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"github.com/vortexdb/vortex-gateway/config"
	"github.com/vortexdb/vortex-gateway/logging"
	"github.com/vortexdb/vortex-gateway/metrics"
	"github.com/vortexdb/vortex-gateway/models"
	"github.com/vortexdb/vortex-gateway/security"
	"github.com/vortexdb/vortex-gateway/services"
)

// JobExecutor runs one unit of background work and returns the completion
// message shown to users.
type JobExecutor func(ctx context.Context, job *models.Job, report services.ProgressFunc) (string, error)

const dispatchBuffer = 256

// jobServiceImpl implements JobService on the durable SQLite jobs table.
type jobServiceImpl struct {
	db        *gorm.DB
	cfg       *config.JobsConfig
	executors map[models.JobType]JobExecutor
	audit     *security.AuditLogger

	dispatch chan uuid.UUID
	stop     chan struct{}
	wg       sync.WaitGroup
	log      zerolog.Logger
}

func NewJobService(db *gorm.DB, cfg *config.JobsConfig, executors map[models.JobType]JobExecutor, audit *security.AuditLogger) services.JobService {
	return &jobServiceImpl{
		db:        db,
		cfg:       cfg,
		executors: executors,
		audit:     audit,
		dispatch:  make(chan uuid.UUID, dispatchBuffer),
		stop:      make(chan struct{}),
		log:       logging.WithComponent("jobs"),
	}
}

func (s *jobServiceImpl) Enqueue(ctx context.Context, jobType models.JobType, payload any) (*models.EnqueueResult, error) {
	if jobType == models.JobTypeBM25Retrain {
		if skipped, reason := s.retrainGate(ctx); skipped {
			return &models.EnqueueResult{Status: "skipped", Message: reason}, nil
		}
	}

	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, models.ErrInvalidRequest("job payload is not serializable")
	}
	job := &models.Job{
		ID:        uuid.New(),
		Type:      jobType,
		Payload:   raw,
		Status:    models.JobStatusQueued,
		CreatedAt: time.Now(),
		UpdatedAt: time.Now(),
	}
	if err := s.db.WithContext(ctx).Create(job).Error; err != nil {
		return nil, fmt.Errorf("failed to persist job: %w", err)
	}

	select {
	case s.dispatch <- job.ID:
	default:
		// The row must reflect reality: a job nobody will pick up is a
		// failed job, not a forever-queued one.
		s.setStatus(context.Background(), job.ID, models.JobStatusFailed, "worker queue full", nil)
		metrics.JobsTotal.WithLabelValues(string(jobType), "dispatch_failed").Inc()
		return nil, models.ErrJobDispatchFailure("worker queue is full, try again later")
	}

	metrics.JobsTotal.WithLabelValues(string(jobType), "queued").Inc()
	if s.audit != nil {
		s.audit.LogEvent(security.EventJobEnqueued, map[string]any{
			"job_id": job.ID.String(),
			"type":   string(jobType),
		})
	}
	return &models.EnqueueResult{JobID: job.ID, Status: "queued"}, nil
}

// retrainGate enforces at-most-one-active retraining plus the cooldown
// window after the last completed run.
func (s *jobServiceImpl) retrainGate(ctx context.Context) (bool, string) {
	if !s.cfg.AllowBM25Batch {
		return true, "bm25 retraining is disabled by configuration"
	}
	active, err := s.IsActive(ctx, models.JobTypeBM25Retrain)
	if err != nil {
		s.log.Warn().Err(err).Msg("failed to check active retrain jobs")
		return false, ""
	}
	if active {
		return true, "a bm25 retraining job is already active"
	}
	last, err := s.LastCompletedAt(ctx, models.JobTypeBM25Retrain)
	if err != nil || last == 0 {
		return false, ""
	}
	cooldown := time.Duration(s.cfg.BM25CooldownMin) * time.Minute
	elapsed := time.Since(time.Unix(last, 0))
	if elapsed < cooldown {
		remaining := (cooldown - elapsed).Round(time.Minute)
		return true, fmt.Sprintf("bm25 retraining cooldown active, %s remaining", remaining)
	}
	return false, ""
}

func (s *jobServiceImpl) UpdateStatus(ctx context.Context, id uuid.UUID, status models.JobStatus, message string, progress *int) error {
	return s.setStatus(ctx, id, status, message, progress)
}

func (s *jobServiceImpl) setStatus(ctx context.Context, id uuid.UUID, status models.JobStatus, message string, progress *int) error {
	updates := map[string]any{
		"status":     status,
		"updated_at": time.Now(),
	}
	if message != "" {
		updates["message"] = message
	}
	if progress != nil {
		updates["progress"] = *progress
	}
	return s.db.WithContext(ctx).Model(&models.Job{}).Where("id = ?", id).Updates(updates).Error
}

func (s *jobServiceImpl) GetStatus(ctx context.Context, id uuid.UUID) (*models.Job, error) {
	var job models.Job
	if err := s.db.WithContext(ctx).First(&job, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, models.ErrJobNotFound(id.String())
		}
		return nil, fmt.Errorf("failed to load job: %w", err)
	}
	return &job, nil
}

func (s *jobServiceImpl) List(ctx context.Context, limit int) (*models.JobListResponse, error) {
	if limit <= 0 {
		limit = 50
	}
	if limit > 500 {
		limit = 500
	}

	var jobs []models.Job
	if err := s.db.WithContext(ctx).
		Order("created_at DESC").
		Limit(limit).
		Find(&jobs).Error; err != nil {
		return nil, fmt.Errorf("failed to list jobs: %w", err)
	}

	var rows []struct {
		Status string
		Count  int64
	}
	if err := s.db.WithContext(ctx).
		Model(&models.Job{}).
		Select("status, count(*) as count").
		Group("status").
		Scan(&rows).Error; err != nil {
		return nil, fmt.Errorf("failed to count jobs: %w", err)
	}
	counts := make(map[string]int64, len(rows))
	for _, r := range rows {
		counts[r.Status] = r.Count
	}
	return &models.JobListResponse{Counts: counts, Jobs: jobs}, nil
}

func (s *jobServiceImpl) IsActive(ctx context.Context, jobType models.JobType) (bool, error) {
	var count int64
	err := s.db.WithContext(ctx).
		Model(&models.Job{}).
		Where("type = ? AND status IN ?", jobType, []models.JobStatus{models.JobStatusQueued, models.JobStatusRunning}).
		Count(&count).Error
	return count > 0, err
}

func (s *jobServiceImpl) LastCompletedAt(ctx context.Context, jobType models.JobType) (int64, error) {
	var job models.Job
	err := s.db.WithContext(ctx).
		Where("type = ? AND status = ?", jobType, models.JobStatusCompleted).
		Order("updated_at DESC").
		First(&job).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return job.UpdatedAt.Unix(), nil
}

// Start recovers rows left over from a previous process, then launches the
// worker pool.
func (s *jobServiceImpl) Start(workers int) {
	if workers <= 0 {
		workers = 1
	}
	s.recoverOrphans()
	for i := 0; i < workers; i++ {
		s.wg.Add(1)
		go s.worker(i)
	}
	s.log.Info().Int("workers", workers).Msg("job workers started")
}

// Stop lets in-flight jobs finish, then stops the pool.
func (s *jobServiceImpl) Stop() {
	close(s.stop)
	s.wg.Wait()
	s.log.Info().Msg("job workers drained")
}

// recoverOrphans re-dispatches jobs still marked queued and fails jobs that
// were mid-run when the previous process died.
func (s *jobServiceImpl) recoverOrphans() {
	ctx := context.Background()
	if err := s.db.WithContext(ctx).
		Model(&models.Job{}).
		Where("status = ?", models.JobStatusRunning).
		Updates(map[string]any{
			"status":     models.JobStatusFailed,
			"message":    "interrupted by restart",
			"updated_at": time.Now(),
		}).Error; err != nil {
		s.log.Warn().Err(err).Msg("failed to fail interrupted jobs")
	}

	var queued []models.Job
	if err := s.db.WithContext(ctx).
		Where("status = ?", models.JobStatusQueued).
		Order("created_at ASC").
		Find(&queued).Error; err != nil {
		s.log.Warn().Err(err).Msg("failed to load queued jobs for recovery")
		return
	}
	for _, job := range queued {
		select {
		case s.dispatch <- job.ID:
		default:
			s.setStatus(ctx, job.ID, models.JobStatusFailed, "worker queue full during recovery", nil)
		}
	}
	if len(queued) > 0 {
		s.log.Info().Int("count", len(queued)).Msg("requeued jobs from previous run")
	}
}

func (s *jobServiceImpl) worker(id int) {
	defer s.wg.Done()
	for {
		select {
		case <-s.stop:
			return
		case jobID := <-s.dispatch:
			s.run(jobID)
		}
	}
}

func (s *jobServiceImpl) run(id uuid.UUID) {
	// Jobs run to completion even during shutdown; Stop waits for us.
	ctx := context.Background()
	start := time.Now()

	job, err := s.GetStatus(ctx, id)
	if err != nil {
		s.log.Error().Err(err).Str("job_id", id.String()).Msg("dispatched job vanished")
		return
	}
	if job.IsTerminal() {
		return
	}

	executor, ok := s.executors[job.Type]
	if !ok {
		s.setStatus(ctx, id, models.JobStatusFailed, "no executor registered for type "+string(job.Type), nil)
		metrics.JobsTotal.WithLabelValues(string(job.Type), "failed").Inc()
		return
	}

	s.setStatus(ctx, id, models.JobStatusRunning, "", nil)
	metrics.JobsTotal.WithLabelValues(string(job.Type), "running").Inc()
	jobLog := s.log.With().Str("job_id", id.String()).Str("type", string(job.Type)).Logger()

	report := func(percent int) {
		if percent > 99 {
			percent = 99
		}
		if percent < 0 {
			percent = 0
		}
		s.setStatus(ctx, id, models.JobStatusRunning, "", &percent)
	}

	var message string
	maxAttempts := s.cfg.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = 1
	}
	for attempt := 1; ; attempt++ {
		message, err = executor(ctx, job, report)
		if err == nil {
			break
		}
		if attempt >= maxAttempts || !isTransientJobError(err) {
			break
		}
		backoff := time.Duration(1<<(attempt-1)) * time.Second
		jobLog.Warn().Err(err).Int("attempt", attempt).Dur("backoff", backoff).Msg("job attempt failed, retrying")
		select {
		case <-s.stop:
			// Shutdown during backoff: surface the last error instead of
			// holding the drain hostage.
			err = fmt.Errorf("aborted during retry backoff: %w", err)
		case <-time.After(backoff):
			continue
		}
		break
	}

	metrics.JobDuration.WithLabelValues(string(job.Type)).Observe(time.Since(start).Seconds())
	if err != nil {
		jobLog.Error().Err(err).Msg("job failed")
		s.setStatus(ctx, id, models.JobStatusFailed, userSafeJobError(err), nil)
		metrics.JobsTotal.WithLabelValues(string(job.Type), "failed").Inc()
		return
	}

	done := 100
	s.setStatus(ctx, id, models.JobStatusCompleted, message, &done)
	metrics.JobsTotal.WithLabelValues(string(job.Type), "completed").Inc()
	jobLog.Info().Dur("took", time.Since(start)).Msg("job completed")
}

// isTransientJobError limits retries to upstream availability problems;
// everything else fails fast.
func isTransientJobError(err error) bool {
	if appErr, ok := models.AsAppError(err); ok {
		return appErr.Code == models.CodeUpstreamUnavailable
	}
	return false
}

// userSafeJobError trims failure text to something safe for the status
// surface; full detail stays in the logs.
func userSafeJobError(err error) string {
	if appErr, ok := models.AsAppError(err); ok {
		return appErr.Detail
	}
	msg := err.Error()
	if len(msg) > 200 {
		msg = msg[:200]
	}
	return msg
}
