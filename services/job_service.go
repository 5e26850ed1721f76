package services

import (
	"context"

	"github.com/google/uuid"

	"github.com/vortexdb/vortex-gateway/models"
)

// JobService owns the durable job table and the dispatch to workers.
type JobService interface {
	// Enqueue validates type-level uniqueness and cooldowns, inserts the
	// row, and dispatches it. A skipped enqueue is not an error; the
	// result's Status says "skipped" with the reason in Message.
	Enqueue(ctx context.Context, jobType models.JobType, payload any) (*models.EnqueueResult, error)

	UpdateStatus(ctx context.Context, id uuid.UUID, status models.JobStatus, message string, progress *int) error
	GetStatus(ctx context.Context, id uuid.UUID) (*models.Job, error)
	List(ctx context.Context, limit int) (*models.JobListResponse, error)

	IsActive(ctx context.Context, jobType models.JobType) (bool, error)
	LastCompletedAt(ctx context.Context, jobType models.JobType) (int64, error)

	// Start launches the worker pool; Stop drains in-flight jobs.
	Start(workers int)
	Stop()
}
