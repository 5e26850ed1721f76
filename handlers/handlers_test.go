package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/vortexdb/vortex-gateway/auth"
	"github.com/vortexdb/vortex-gateway/config"
	"github.com/vortexdb/vortex-gateway/models"
	"github.com/vortexdb/vortex-gateway/security"
	"github.com/vortexdb/vortex-gateway/services"
)

const handlersTestSeed = "handlers-test-seed"

// stubSearch implements services.HybridSearchService.
type stubSearch struct {
	hybridFn  func(req models.HybridSearchRequest, uc *security.UserContext) (*models.SearchResponse, error)
	keywordFn func(req models.KeywordSearchRequest, uc *security.UserContext) (*models.SearchResponse, error)
	clearErr  error
	cleared   int
}

func (s *stubSearch) HybridSearch(_ context.Context, req models.HybridSearchRequest, uc *security.UserContext) (*models.SearchResponse, error) {
	if s.hybridFn != nil {
		return s.hybridFn(req, uc)
	}
	return &models.SearchResponse{Status: "success", Results: []models.SearchResult{}}, nil
}

func (s *stubSearch) KeywordSearch(_ context.Context, req models.KeywordSearchRequest, uc *security.UserContext) (*models.SearchResponse, error) {
	if s.keywordFn != nil {
		return s.keywordFn(req, uc)
	}
	return &models.SearchResponse{Status: "success", Results: []models.SearchResult{}}, nil
}

func (s *stubSearch) ClearCache(context.Context) error {
	s.cleared++
	return s.clearErr
}

type upsertCall struct {
	Collection string
	Docs       []map[string]any
	Opts       services.IngestOptions
}

type updateCall struct {
	Collection string
	DBID       string
	Payload    map[string]any
	Merge      bool
}

type deleteDocCall struct {
	Collection string
	DBID       string
}

// stubIngest implements services.IngestService.
type stubIngest struct {
	upserts   []upsertCall
	upsertErr error
	updates   []updateCall
	updateErr error
	deletes   []deleteDocCall
	deleteErr error
}

func (s *stubIngest) UpsertDocuments(_ context.Context, collection string, docs []map[string]any, opts services.IngestOptions) (int, error) {
	s.upserts = append(s.upserts, upsertCall{Collection: collection, Docs: docs, Opts: opts})
	if s.upsertErr != nil {
		return 0, s.upsertErr
	}
	return len(docs), nil
}

func (s *stubIngest) UpdateDocument(_ context.Context, collection, dbID string, newPayload map[string]any, merge bool) error {
	s.updates = append(s.updates, updateCall{Collection: collection, DBID: dbID, Payload: newPayload, Merge: merge})
	return s.updateErr
}

func (s *stubIngest) DeleteDocument(_ context.Context, collection, dbID string) error {
	s.deletes = append(s.deletes, deleteDocCall{Collection: collection, DBID: dbID})
	return s.deleteErr
}

type enqueueCall struct {
	Type    models.JobType
	Payload any
}

// stubJobs implements services.JobService.
type stubJobs struct {
	enqueues      []enqueueCall
	enqueueResult *models.EnqueueResult
	enqueueErr    error
	statusFn      func(id uuid.UUID) (*models.Job, error)
	listFn        func(limit int) (*models.JobListResponse, error)
	lastLimit     int
}

func (s *stubJobs) Enqueue(_ context.Context, jobType models.JobType, payload any) (*models.EnqueueResult, error) {
	s.enqueues = append(s.enqueues, enqueueCall{Type: jobType, Payload: payload})
	if s.enqueueErr != nil {
		return nil, s.enqueueErr
	}
	if s.enqueueResult != nil {
		return s.enqueueResult, nil
	}
	return &models.EnqueueResult{JobID: uuid.New(), Status: "queued"}, nil
}

func (s *stubJobs) UpdateStatus(context.Context, uuid.UUID, models.JobStatus, string, *int) error {
	return nil
}

func (s *stubJobs) GetStatus(_ context.Context, id uuid.UUID) (*models.Job, error) {
	if s.statusFn != nil {
		return s.statusFn(id)
	}
	return nil, models.ErrJobNotFound(id.String())
}

func (s *stubJobs) List(_ context.Context, limit int) (*models.JobListResponse, error) {
	s.lastLimit = limit
	if s.listFn != nil {
		return s.listFn(limit)
	}
	return &models.JobListResponse{Counts: map[string]int64{}, Jobs: []models.Job{}}, nil
}

func (s *stubJobs) IsActive(context.Context, models.JobType) (bool, error) { return false, nil }

func (s *stubJobs) LastCompletedAt(context.Context, models.JobType) (int64, error) {
	return 0, nil
}

func (s *stubJobs) Start(int) {}

func (s *stubJobs) Stop() {}

// stubVectorStore implements services.VectorStoreClient for the admin and
// health surfaces.
type stubVectorStore struct {
	collections []models.CollectionInfo
	listErr     error
	exists      map[string]bool
	existsErr   error
	deleted     []string
	deleteErr   error
	snapshots   map[string][]models.SnapshotInfo
	snapshotErr map[string]error
	uploads     []string
	uploadErr   error
}

func (s *stubVectorStore) CreateCollection(context.Context, models.CreateCollectionSpec) error {
	return nil
}

func (s *stubVectorStore) DeleteCollection(_ context.Context, name string) error {
	if s.deleteErr != nil {
		return s.deleteErr
	}
	s.deleted = append(s.deleted, name)
	return nil
}

func (s *stubVectorStore) ListCollections(context.Context) ([]models.CollectionInfo, error) {
	return s.collections, s.listErr
}

func (s *stubVectorStore) CollectionExists(_ context.Context, name string) (bool, error) {
	return s.exists[name], s.existsErr
}

func (s *stubVectorStore) Upsert(context.Context, string, []models.Point) error { return nil }

func (s *stubVectorStore) Search(context.Context, string, string, []float32, *models.SparseVector, int, *models.Filter, bool) ([]models.ScoredPoint, error) {
	return nil, nil
}

func (s *stubVectorStore) Retrieve(context.Context, string, []string, bool) ([]models.Point, error) {
	return nil, nil
}

func (s *stubVectorStore) SetPayload(context.Context, string, []string, map[string]any, bool) error {
	return nil
}

func (s *stubVectorStore) Scroll(context.Context, string, *models.Filter, int, string, bool) ([]models.Point, string, error) {
	return nil, "", nil
}

func (s *stubVectorStore) Delete(context.Context, string, *models.Filter) error { return nil }

func (s *stubVectorStore) CreateSnapshot(_ context.Context, collection string) (*models.SnapshotInfo, error) {
	return &models.SnapshotInfo{Name: collection + "-snap", Collection: collection}, nil
}

func (s *stubVectorStore) ListSnapshots(_ context.Context, collection string) ([]models.SnapshotInfo, error) {
	if err := s.snapshotErr[collection]; err != nil {
		return nil, err
	}
	return s.snapshots[collection], nil
}

func (s *stubVectorStore) DownloadSnapshot(context.Context, string, string, string) error {
	return nil
}

func (s *stubVectorStore) UploadSnapshot(_ context.Context, collection, srcPath string) error {
	if s.uploadErr != nil {
		return s.uploadErr
	}
	s.uploads = append(s.uploads, collection+"|"+srcPath)
	return nil
}

// stubUsers implements services.UserService.
type stubUsers struct {
	authFn func(username, password string) (*models.User, error)
}

func (s *stubUsers) Authenticate(_ context.Context, username, password string) (*models.User, error) {
	if s.authFn != nil {
		return s.authFn(username, password)
	}
	return nil, models.ErrUnauthorized("invalid credentials")
}

func (s *stubUsers) CreateUser(context.Context, models.CreateUserRequest) (*models.User, error) {
	return nil, nil
}

func (s *stubUsers) GetUser(context.Context, string) (*models.User, error) { return nil, nil }

func (s *stubUsers) SetRole(context.Context, string, models.Role) error { return nil }

func (s *stubUsers) Deactivate(context.Context, string) error { return nil }

func (s *stubUsers) EnsureAdmin(context.Context, string) error { return nil }

type testEnv struct {
	router   *gin.Engine
	search   *stubSearch
	ingest   *stubIngest
	jobs     *stubJobs
	store    *stubVectorStore
	users    *stubUsers
	quota    *security.QuotaManager
	audit    *security.AuditLogger
	auditCfg config.AuditConfig
	snapDir  string

	// identity is attached to every request; nil falls back to guest.
	identity *security.UserContext
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	gin.SetMode(gin.TestMode)

	dir := t.TempDir()
	auditCfg := config.AuditConfig{
		CriticalPath:   filepath.Join(dir, "critical.log"),
		HotPath:        filepath.Join(dir, "hot.log"),
		ChainStatePath: filepath.Join(dir, "chain_state.json"),
	}
	audit, err := security.NewAuditLogger(auditCfg, handlersTestSeed)
	require.NoError(t, err)
	t.Cleanup(audit.Close)

	env := &testEnv{
		search:   &stubSearch{},
		ingest:   &stubIngest{},
		jobs:     &stubJobs{},
		store:    &stubVectorStore{exists: map[string]bool{}},
		users:    &stubUsers{},
		quota:    security.NewQuotaManager(nil),
		audit:    audit,
		auditCfg: auditCfg,
		snapDir:  filepath.Join(dir, "snapshots"),
	}

	guard := NewGuard(security.NewAccessControl(audit), env.quota, audit)
	authHandlers := NewAuthHandlers(env.users, auth.NewJWTValidator("handlers-test-secret", 3600), audit)
	queryHandlers := NewQueryHandlers(env.search, guard)
	crudHandlers := NewCrudHandlers(env.ingest, guard, audit)
	batchHandlers := NewBatchHandlers(env.jobs, guard)
	adminHandlers := NewAdminHandlers(env.store, env.search, env.jobs, guard, audit, env.snapDir)
	healthHandlers := NewHealthHandlers(env.store)

	r := gin.New()
	r.Use(func(c *gin.Context) {
		if env.identity != nil {
			c.Set(security.ContextKeyUser, env.identity)
		}
		c.Set(security.ContextKeyCorrelationID, "test-corr")
		c.Next()
	})

	r.GET("/health", healthHandlers.Live)
	r.POST("/auth/login", authHandlers.Login)
	r.GET("/health/status", healthHandlers.Status)
	r.POST("/query/hybrid", queryHandlers.HybridQuery)
	r.POST("/query/keyword", queryHandlers.KeywordQuery)
	r.POST("/crud/upsert", crudHandlers.Upsert)
	r.POST("/crud/upsert_batch", crudHandlers.UpsertBatch)
	r.PATCH("/crud/update", crudHandlers.Update)
	r.DELETE("/crud/delete", crudHandlers.Delete)
	r.POST("/batch/ingest", batchHandlers.Ingest)
	r.GET("/batch/jobs/status/:id", batchHandlers.JobStatus)
	r.GET("/batch/jobs/list", batchHandlers.JobList)
	r.POST("/admin/collections/create", adminHandlers.CreateCollection)
	r.POST("/admin/collections/delete", adminHandlers.DeleteCollection)
	r.GET("/admin/collections/list", adminHandlers.ListCollections)
	r.POST("/admin/snapshot/create", adminHandlers.CreateSnapshot)
	r.GET("/admin/snapshot/list", adminHandlers.ListSnapshots)
	r.POST("/admin/snapshot/restore", adminHandlers.RestoreSnapshot)
	r.POST("/admin/snapshot/delete", adminHandlers.DeleteSnapshot)
	r.POST("/admin/bm25/retrain", adminHandlers.RetrainBM25)
	r.POST("/admin/cache/clear", adminHandlers.ClearCache)
	r.POST("/admin/reset_db", adminHandlers.ResetDB)
	env.router = r

	return env
}

func identityFor(role models.Role) *security.UserContext {
	tier := models.TierPro
	if role == models.RoleAdmin {
		tier = models.TierAdmin
	}
	return &security.UserContext{
		UserID:   string(role) + "-user",
		Role:     role,
		TenantID: models.PublicTenant,
		Tier:     tier,
	}
}

func (e *testEnv) request(t *testing.T, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)
	return w
}

func envelope(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out))
	return out
}

func multipartBody(t *testing.T, filename string, content []byte, fields map[string]string) (io.Reader, string) {
	t.Helper()
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	for k, v := range fields {
		require.NoError(t, w.WriteField(k, v))
	}
	fw, err := w.CreateFormFile("file", filename)
	require.NoError(t, err)
	_, err = fw.Write(content)
	require.NoError(t, err)
	require.NoError(t, w.Close())
	return &buf, w.FormDataContentType()
}
