package handlers

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vortexdb/vortex-gateway/models"
	"github.com/vortexdb/vortex-gateway/security"
)

func TestUpsertBatchWritesDocuments(t *testing.T) {
	env := newTestEnv(t)
	env.identity = identityFor(models.RoleEngineer)

	w := env.request(t, http.MethodPost, "/crud/upsert_batch",
		`{"documents":[{"id":"a","content":"alpha"},{"id":"b","content":"beta"}]}`)
	require.Equal(t, http.StatusOK, w.Code)

	body := envelope(t, w)
	assert.Equal(t, "success", body["status"])
	assert.Equal(t, float64(2), body["count"])

	require.Len(t, env.ingest.upserts, 1)
	call := env.ingest.upserts[0]
	assert.Equal(t, "documents", call.Collection)
	assert.Len(t, call.Docs, 2)
	assert.Equal(t, models.PublicTenant, call.Opts.TenantID)
	assert.False(t, call.Opts.EncryptContent)
}

func TestUpsertBatchScopesTenantAndClampsAccess(t *testing.T) {
	env := newTestEnv(t)
	env.identity = identityFor(models.RoleEngineer)

	w := env.request(t, http.MethodPost, "/crud/upsert_batch",
		`{"collection":"notes","documents":[{"id":"a"}],"tenant_id":"acme","access_level":9,"encrypt":true}`)
	require.Equal(t, http.StatusOK, w.Code)

	require.Len(t, env.ingest.upserts, 1)
	call := env.ingest.upserts[0]
	assert.Equal(t, "notes", call.Collection)
	assert.Equal(t, "acme", call.Opts.TenantID)
	// Engineers may not label data above their own level 5 ceiling.
	assert.Equal(t, 5, call.Opts.AccessLevel)
	assert.True(t, call.Opts.EncryptContent)
}

func TestUpsertBatchRequiresDocuments(t *testing.T) {
	env := newTestEnv(t)
	env.identity = identityFor(models.RoleEngineer)

	w := env.request(t, http.MethodPost, "/crud/upsert_batch", `{"collection":"notes"}`)
	require.Equal(t, http.StatusBadRequest, w.Code)
	assert.Empty(t, env.ingest.upserts)
}

func TestUpsertBatchViewerDenied(t *testing.T) {
	env := newTestEnv(t)
	env.identity = identityFor(models.RoleViewer)

	w := env.request(t, http.MethodPost, "/crud/upsert_batch", `{"documents":[{"id":"a"}]}`)
	require.Equal(t, http.StatusForbidden, w.Code)
	assert.Empty(t, env.ingest.upserts)
}

func uploadFile(t *testing.T, env *testEnv, filename string, content []byte, fields map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	body, contentType := multipartBody(t, filename, content, fields)
	req := httptest.NewRequest(http.MethodPost, "/crud/upsert", body)
	req.Header.Set("Content-Type", contentType)
	w := httptest.NewRecorder()
	env.router.ServeHTTP(w, req)
	return w
}

func TestUpsertAcceptsSingleObjectFile(t *testing.T) {
	env := newTestEnv(t)
	env.identity = identityFor(models.RoleEngineer)

	w := uploadFile(t, env, "doc.json", []byte(`{"id":"a","content":"hello"}`), nil)
	require.Equal(t, http.StatusOK, w.Code)

	body := envelope(t, w)
	assert.Equal(t, "doc.json", body["filename"])
	assert.Equal(t, "documents", body["collection"])

	require.Len(t, env.ingest.upserts, 1)
	assert.Len(t, env.ingest.upserts[0].Docs, 1)
}

func TestUpsertAcceptsArrayFileAndCollectionField(t *testing.T) {
	env := newTestEnv(t)
	env.identity = identityFor(models.RoleEngineer)

	w := uploadFile(t, env, "docs.json", []byte(`[{"id":"a"},{"id":"b"},{"id":"c"}]`),
		map[string]string{"collection": "reports"})
	require.Equal(t, http.StatusOK, w.Code)

	require.Len(t, env.ingest.upserts, 1)
	assert.Equal(t, "reports", env.ingest.upserts[0].Collection)
	assert.Len(t, env.ingest.upserts[0].Docs, 3)
}

func TestUpsertRejectsInvalidJSONFile(t *testing.T) {
	env := newTestEnv(t)
	env.identity = identityFor(models.RoleEngineer)

	w := uploadFile(t, env, "broken.json", []byte(`{{{not json`), nil)
	require.Equal(t, http.StatusUnprocessableEntity, w.Code)
	assert.Equal(t, models.CodeInvalidFormat, envelope(t, w)["code"])
	assert.Empty(t, env.ingest.upserts)
}

func TestUpsertRequiresFile(t *testing.T) {
	env := newTestEnv(t)
	env.identity = identityFor(models.RoleEngineer)

	req := httptest.NewRequest(http.MethodPost, "/crud/upsert", nil)
	w := httptest.NewRecorder()
	env.router.ServeHTTP(w, req)
	require.Equal(t, http.StatusBadRequest, w.Code)
}

func TestUpdateDefaultsToMerge(t *testing.T) {
	env := newTestEnv(t)
	env.identity = identityFor(models.RoleEngineer)

	w := env.request(t, http.MethodPatch, "/crud/update",
		`{"db_id":"abc123","new_payload":{"category":"updated"}}`)
	require.Equal(t, http.StatusOK, w.Code)

	require.Len(t, env.ingest.updates, 1)
	call := env.ingest.updates[0]
	assert.Equal(t, "documents", call.Collection)
	assert.Equal(t, "abc123", call.DBID)
	assert.True(t, call.Merge)
	assert.Equal(t, "updated", call.Payload["category"])
}

func TestUpdateHonorsExplicitReplace(t *testing.T) {
	env := newTestEnv(t)
	env.identity = identityFor(models.RoleEngineer)

	w := env.request(t, http.MethodPatch, "/crud/update",
		`{"db_id":"abc123","new_payload":{"category":"fresh"},"merge":false}`)
	require.Equal(t, http.StatusOK, w.Code)

	require.Len(t, env.ingest.updates, 1)
	assert.False(t, env.ingest.updates[0].Merge)
}

func TestUpdateRequiresDBIDAndPayload(t *testing.T) {
	env := newTestEnv(t)
	env.identity = identityFor(models.RoleEngineer)

	w := env.request(t, http.MethodPatch, "/crud/update", `{"db_id":"abc123"}`)
	require.Equal(t, http.StatusBadRequest, w.Code)
	assert.Empty(t, env.ingest.updates)
}

func TestUpdatePropagatesNotFound(t *testing.T) {
	env := newTestEnv(t)
	env.identity = identityFor(models.RoleEngineer)
	env.ingest.updateErr = models.ErrDocumentNotFound("abc123")

	w := env.request(t, http.MethodPatch, "/crud/update",
		`{"db_id":"abc123","new_payload":{"x":1}}`)
	require.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, models.CodeDocumentNotFound, envelope(t, w)["code"])
}

func TestDeleteRemovesDocumentAndAudits(t *testing.T) {
	env := newTestEnv(t)
	env.identity = identityFor(models.RoleEngineer)

	w := env.request(t, http.MethodDelete, "/crud/delete", `{"db_id":"abc123"}`)
	require.Equal(t, http.StatusOK, w.Code)

	require.Len(t, env.ingest.deletes, 1)
	assert.Equal(t, deleteDocCall{Collection: "documents", DBID: "abc123"}, env.ingest.deletes[0])

	// Deletions land on the critical audit chain synchronously.
	env.audit.Close()
	count, err := security.VerifyChainFile(env.auditCfg.CriticalPath, handlersTestSeed)
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestDeleteDeniedForAnalyst(t *testing.T) {
	env := newTestEnv(t)
	env.identity = identityFor(models.RoleAnalyst)

	w := env.request(t, http.MethodDelete, "/crud/delete", `{"db_id":"abc123"}`)
	require.Equal(t, http.StatusForbidden, w.Code)
	assert.Empty(t, env.ingest.deletes)
}
