package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

type JobType string
type JobStatus string

const (
	JobTypeBatchUpsert      JobType = "batch_upsert"
	JobTypeUpsertBatchDocs  JobType = "upsert_batch_docs"
	JobTypeCreateCollection JobType = "create_collection"
	JobTypeBM25Retrain      JobType = "bm25_retrain"
	JobTypeCreateSnapshot   JobType = "create_snapshot"

	JobStatusQueued    JobStatus = "queued"
	JobStatusRunning   JobStatus = "running"
	JobStatusCompleted JobStatus = "completed"
	JobStatusFailed    JobStatus = "failed"
)

// Job is one row of the durable jobs table.
type Job struct {
	ID       uuid.UUID      `json:"id" gorm:"type:uuid;primary_key"`
	Type     JobType        `json:"type" gorm:"type:varchar(50);not null;index:idx_jobs_type_status"`
	Payload  datatypes.JSON `json:"payload" gorm:"type:json"`
	Status   JobStatus      `json:"status" gorm:"type:varchar(20);not null;index:idx_jobs_status_created;index:idx_jobs_type_status"`
	Message  string         `json:"message"`
	Progress int            `json:"progress" gorm:"default:0"`

	CreatedAt time.Time `json:"created_at" gorm:"not null;index:idx_jobs_status_created"`
	UpdatedAt time.Time `json:"updated_at" gorm:"not null"`
}

func (Job) TableName() string {
	return "jobs"
}

// IsTerminal reports whether the job can no longer change state.
func (j *Job) IsTerminal() bool {
	return j.Status == JobStatusCompleted || j.Status == JobStatusFailed
}

// Job payloads, serialized into Job.Payload.

type BatchUpsertPayload struct {
	Folder     string `json:"folder"`
	Collection string `json:"collection"`
	BatchSize  int    `json:"batch_size,omitempty"`
}

type UpsertBatchDocsPayload struct {
	Collection  string           `json:"collection"`
	Documents   []map[string]any `json:"documents"`
	TenantID    string           `json:"tenant_id,omitempty"`
	AccessLevel int              `json:"access_level,omitempty"`
}

type CreateCollectionPayload struct {
	Name       string `json:"name"`
	VectorSize int    `json:"vector_size"`
}

type BM25RetrainPayload struct {
	BasePath string `json:"base_path,omitempty"`
}

type CreateSnapshotPayload struct {
	Collection string `json:"collection"`
}

// EnqueueResult is returned by JobService.Enqueue.
type EnqueueResult struct {
	JobID   uuid.UUID `json:"job_id"`
	Status  string    `json:"status"`
	Message string    `json:"message,omitempty"`
}

// JobListResponse is the body of GET /batch/jobs/list.
type JobListResponse struct {
	Counts map[string]int64 `json:"counts"`
	Jobs   []Job            `json:"jobs"`
}
