package handlers

import (
	"net/http"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vortexdb/vortex-gateway/models"
)

func TestBatchIngestFolderEnqueuesWalkJob(t *testing.T) {
	env := newTestEnv(t)
	env.identity = identityFor(models.RoleEngineer)

	jobID := uuid.New()
	env.jobs.enqueueResult = &models.EnqueueResult{JobID: jobID, Status: "queued"}

	w := env.request(t, http.MethodPost, "/batch/ingest",
		`{"folder":"/data/dump","collection":"reports","batch_size":50}`)
	require.Equal(t, http.StatusOK, w.Code)

	body := envelope(t, w)
	assert.Equal(t, "queued", body["status"])
	assert.Equal(t, jobID.String(), body["job_id"])

	require.Len(t, env.jobs.enqueues, 1)
	call := env.jobs.enqueues[0]
	assert.Equal(t, models.JobTypeBatchUpsert, call.Type)
	payload, ok := call.Payload.(models.BatchUpsertPayload)
	require.True(t, ok)
	assert.Equal(t, "/data/dump", payload.Folder)
	assert.Equal(t, "reports", payload.Collection)
	assert.Equal(t, 50, payload.BatchSize)
}

func TestBatchIngestInlineEnqueuesDocsJob(t *testing.T) {
	env := newTestEnv(t)
	env.identity = identityFor(models.RoleEngineer)

	w := env.request(t, http.MethodPost, "/batch/ingest",
		`{"documents":[{"id":"a"},{"id":"b"}],"tenant_id":"acme","access_level":7}`)
	require.Equal(t, http.StatusOK, w.Code)

	require.Len(t, env.jobs.enqueues, 1)
	call := env.jobs.enqueues[0]
	assert.Equal(t, models.JobTypeUpsertBatchDocs, call.Type)
	payload, ok := call.Payload.(models.UpsertBatchDocsPayload)
	require.True(t, ok)
	assert.Equal(t, "documents", payload.Collection)
	assert.Len(t, payload.Documents, 2)
	assert.Equal(t, "acme", payload.TenantID)
	// Clamped to the engineer ceiling.
	assert.Equal(t, 5, payload.AccessLevel)
}

func TestBatchIngestRequiresDocsOrFolder(t *testing.T) {
	env := newTestEnv(t)
	env.identity = identityFor(models.RoleEngineer)

	w := env.request(t, http.MethodPost, "/batch/ingest", `{"collection":"reports"}`)
	require.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, envelope(t, w)["detail"], "either documents or folder")
	assert.Empty(t, env.jobs.enqueues)
}

func TestBatchIngestSurfacesSkippedEnqueue(t *testing.T) {
	env := newTestEnv(t)
	env.identity = identityFor(models.RoleEngineer)
	env.jobs.enqueueResult = &models.EnqueueResult{Status: "skipped", Message: "cooldown active"}

	w := env.request(t, http.MethodPost, "/batch/ingest", `{"folder":"/data/dump"}`)
	require.Equal(t, http.StatusOK, w.Code)

	body := envelope(t, w)
	assert.Equal(t, "skipped", body["status"])
	assert.Equal(t, "cooldown active", body["message"])
}

func TestBatchIngestViewerDenied(t *testing.T) {
	env := newTestEnv(t)
	env.identity = identityFor(models.RoleViewer)

	w := env.request(t, http.MethodPost, "/batch/ingest", `{"folder":"/data/dump"}`)
	require.Equal(t, http.StatusForbidden, w.Code)
	assert.Empty(t, env.jobs.enqueues)
}

func TestJobStatusReturnsJob(t *testing.T) {
	env := newTestEnv(t)
	env.identity = identityFor(models.RoleViewer)

	jobID := uuid.New()
	env.jobs.statusFn = func(id uuid.UUID) (*models.Job, error) {
		require.Equal(t, jobID, id)
		return &models.Job{ID: id, Type: models.JobTypeBatchUpsert, Status: models.JobStatusCompleted, Progress: 100}, nil
	}

	w := env.request(t, http.MethodGet, "/batch/jobs/status/"+jobID.String(), "")
	require.Equal(t, http.StatusOK, w.Code)

	body := envelope(t, w)
	job, ok := body["job"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, jobID.String(), job["id"])
	assert.Equal(t, "completed", job["status"])
}

func TestJobStatusValidatesUUID(t *testing.T) {
	env := newTestEnv(t)
	env.identity = identityFor(models.RoleViewer)

	w := env.request(t, http.MethodGet, "/batch/jobs/status/not-a-uuid", "")
	require.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, envelope(t, w)["detail"], "UUID")
}

func TestJobStatusUnknownJob(t *testing.T) {
	env := newTestEnv(t)
	env.identity = identityFor(models.RoleViewer)

	w := env.request(t, http.MethodGet, "/batch/jobs/status/"+uuid.NewString(), "")
	require.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, models.CodeJobNotFound, envelope(t, w)["code"])
}

func TestJobListPassesLimit(t *testing.T) {
	env := newTestEnv(t)
	env.identity = identityFor(models.RoleViewer)

	w := env.request(t, http.MethodGet, "/batch/jobs/list?limit=7", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 7, env.jobs.lastLimit)

	w = env.request(t, http.MethodGet, "/batch/jobs/list", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 50, env.jobs.lastLimit)
}

func TestJobListRejectsBadLimit(t *testing.T) {
	env := newTestEnv(t)
	env.identity = identityFor(models.RoleViewer)

	for _, limit := range []string{"abc", "-1"} {
		w := env.request(t, http.MethodGet, "/batch/jobs/list?limit="+limit, "")
		require.Equal(t, http.StatusBadRequest, w.Code, "limit=%s", limit)
	}
}
