package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/vortexdb/vortex-gateway/auth"
	"github.com/vortexdb/vortex-gateway/config"
	"github.com/vortexdb/vortex-gateway/handlers"
	"github.com/vortexdb/vortex-gateway/logging"
	"github.com/vortexdb/vortex-gateway/metrics"
	"github.com/vortexdb/vortex-gateway/models"
	"github.com/vortexdb/vortex-gateway/security"
	"github.com/vortexdb/vortex-gateway/services"
	"github.com/vortexdb/vortex-gateway/services/impl"
)

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "configuration error: %v\n", err)
		os.Exit(2)
	}

	logging.Init(logging.Config{
		Level:      logging.Level(cfg.Logging.Level),
		JSONOutput: cfg.Logging.Format == "json",
	})
	log := logging.WithComponent("main")

	for _, dir := range []string{
		filepath.Dir(cfg.Storage.JobsDBPath),
		filepath.Dir(cfg.Storage.SecurityDBPath),
		filepath.Dir(cfg.Storage.BM25Path),
		cfg.Storage.SnapshotDir,
	} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			log.Fatal().Err(err).Str("dir", dir).Msg("failed to create data directory")
		}
	}

	jobsDB, err := openSQLite(cfg.GetJobsDSN())
	if err != nil {
		log.Fatal().Err(err).Msg("failed to open jobs database")
	}
	if err := jobsDB.AutoMigrate(&models.Job{}); err != nil {
		log.Fatal().Err(err).Msg("failed to migrate jobs database")
	}

	securityDB, err := openSQLite(cfg.GetSecurityDSN())
	if err != nil {
		log.Fatal().Err(err).Msg("failed to open security database")
	}
	if err := securityDB.AutoMigrate(&models.User{}); err != nil {
		log.Fatal().Err(err).Msg("failed to migrate security database")
	}

	redisClient := connectRedis(cfg.Redis.URL, log)

	audit, err := security.NewAuditLogger(cfg.Audit, cfg.Logging.Key)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to open audit chains")
	}

	// Security primitives.
	validator := auth.NewJWTValidator(cfg.Auth.JWTSecret, cfg.Auth.JWTExpiration)
	limiter := security.NewRateLimiter(redisClient)
	quota := security.NewQuotaManager(redisClient)
	detector := security.NewInjectionDetector()
	anomaly := security.NewVectorAnomalyDetector(security.DefaultAnomalyThreshold)
	protector := security.NewEmbeddingProtector(cfg.Ingest.ProtectionEpsilon, cfg.Ingest.ProtectEmbeddings)
	access := security.NewAccessControl(audit)

	var encryption *security.EncryptionService
	if cfg.Auth.MasterKey != "" {
		provider, err := security.NewDerivedKeyProvider(cfg.Auth.MasterKey)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to initialize key derivation")
		}
		encryption = security.NewEncryptionService(provider)
	} else {
		log.Warn().Msg("VORTEX_MASTER_KEY not set, content encryption disabled")
	}

	// Vector store and encoders.
	if cfg.VectorDB.Engine != "qdrant" {
		log.Warn().Str("engine", cfg.VectorDB.Engine).Msg("unsupported vector engine, using the qdrant client")
	}
	store := impl.NewQdrantStore(&cfg.VectorDB)

	bm25 := impl.NewBM25Vectorizer()
	if err := bm25.Load(cfg.Storage.BM25Path); err != nil {
		log.Warn().Err(err).Str("path", cfg.Storage.BM25Path).
			Msg("BM25 model not loaded, keyword search disabled until retraining")
	}
	encoders := services.EncoderSet{
		Dense:  impl.NewDenseEncoder(&cfg.Encoders),
		Sparse: bm25,
		Splade: impl.NewSpladeEncoder(&cfg.Encoders),
		Cross:  impl.NewCrossEncoder(&cfg.Encoders),
	}

	var cache *impl.SemanticCache
	if cfg.Search.CacheEnabled {
		cache = impl.NewSemanticCache(store, cfg.Search.CacheCollection, cfg.Search.CacheThreshold, cfg.Encoders.DenseDim)
		ensureCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		if err := cache.EnsureCollection(ensureCtx); err != nil {
			log.Warn().Err(err).Msg("semantic cache collection not ready, caching degrades to misses")
		}
		cancel()
	}

	normalizer := impl.NewPayloadNormalizer(impl.TextStrategy(cfg.Ingest.TextStrategy), nil)

	// Services.
	searchService := impl.NewHybridSearchService(store, encoders, cache, &cfg.Search, encryption, audit)
	ingestService := impl.NewIngestService(store, encoders, normalizer, encryption, anomaly, protector, audit, &cfg.Ingest)
	userService := impl.NewUserService(securityDB)

	seedCtx, cancelSeed := context.WithTimeout(context.Background(), 10*time.Second)
	if err := userService.EnsureAdmin(seedCtx, cfg.Auth.AdminSecret); err != nil {
		log.Fatal().Err(err).Msg("failed to seed admin account")
	}
	cancelSeed()

	executors := impl.NewJobExecutors(impl.JobWorkerDeps{
		Store:             store,
		Ingest:            ingestService,
		BM25:              bm25,
		Normalizer:        normalizer,
		Storage:           &cfg.Storage,
		DenseDim:          cfg.Encoders.DenseDim,
		DefaultCollection: cfg.Search.DefaultCollection,
	})
	jobService := impl.NewJobService(jobsDB, &cfg.Jobs, executors, audit)
	jobService.Start(cfg.Jobs.Workers)

	// Handlers.
	mw := security.NewMiddleware(validator, limiter, detector, audit, cfg.Server.APIKey, cfg.RateLimit.MaxRequests, cfg.RateLimit.WindowSeconds)
	guard := handlers.NewGuard(access, quota, audit)
	authHandlers := handlers.NewAuthHandlers(userService, validator, audit)
	queryHandlers := handlers.NewQueryHandlers(searchService, guard)
	crudHandlers := handlers.NewCrudHandlers(ingestService, guard, audit)
	batchHandlers := handlers.NewBatchHandlers(jobService, guard)
	adminHandlers := handlers.NewAdminHandlers(store, searchService, jobService, guard, audit, cfg.Storage.SnapshotDir)
	healthHandlers := handlers.NewHealthHandlers(store)

	router := setupRouter(mw, authHandlers, queryHandlers, crudHandlers, batchHandlers, adminHandlers, healthHandlers, cfg)

	srv := &http.Server{
		Addr:         cfg.GetServerAddress(),
		Handler:      router,
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeout) * time.Second,
		IdleTimeout:  time.Duration(cfg.Server.IdleTimeout) * time.Second,
	}

	go func() {
		log.Info().
			Str("addr", cfg.GetServerAddress()).
			Str("env", cfg.Server.Env).
			Str("vector_store", cfg.VectorDB.URL).
			Msg("vortex gateway listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("server failed")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info().Msg("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("server forced to shut down")
	}

	// In-flight jobs finish their current attempt; queued jobs are
	// recovered on the next start.
	jobService.Stop()
	audit.Close()
	log.Info().Msg("gateway stopped")
}

func openSQLite(dsn string) (*gorm.DB, error) {
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{TranslateError: true})
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get underlying sql.DB: %w", err)
	}
	sqlDB.SetMaxIdleConns(2)
	sqlDB.SetMaxOpenConns(10)
	sqlDB.SetConnMaxLifetime(time.Hour)

	return db, nil
}

func connectRedis(url string, log zerolog.Logger) *redis.Client {
	if url == "" {
		log.Info().Msg("REDIS_URL not set, using in-memory rate limits and quotas")
		return nil
	}
	opts, err := redis.ParseURL(url)
	if err != nil {
		log.Warn().Err(err).Msg("invalid REDIS_URL, falling back to in-memory rate limits")
		return nil
	}
	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		log.Warn().Err(err).Msg("redis unreachable, falling back to in-memory rate limits")
		return nil
	}
	log.Info().Msg("redis connected")
	return client
}

func setupRouter(
	mw *security.Middleware,
	authHandlers *handlers.AuthHandlers,
	queryHandlers *handlers.QueryHandlers,
	crudHandlers *handlers.CrudHandlers,
	batchHandlers *handlers.BatchHandlers,
	adminHandlers *handlers.AdminHandlers,
	healthHandlers *handlers.HealthHandlers,
	cfg *config.Config,
) *gin.Engine {
	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	router.Use(mw.Recovery())
	router.Use(mw.CorrelationID())
	router.Use(mw.Deadline(cfg.Server.RequestTimeout))

	corsConfig := cors.DefaultConfig()
	corsConfig.AllowOrigins = cfg.Server.AllowedOrigins
	corsConfig.AllowMethods = []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"}
	corsConfig.AllowHeaders = []string{"Origin", "Content-Type", "Authorization", "X-API-Key", "X-Correlation-ID"}
	corsConfig.AllowCredentials = true
	router.Use(cors.New(corsConfig))

	// Public surface: no auth, no rate limits.
	router.GET("/health", healthHandlers.Live)
	router.GET("/metrics", gin.WrapH(metrics.Handler()))
	router.POST("/auth/login", authHandlers.Login)

	// Everything else runs the full security chain; unauthenticated
	// callers proceed as guests and RBAC decides per route.
	api := router.Group("/")
	api.Use(mw.Authenticate())
	api.Use(mw.RateLimit())
	api.Use(mw.InjectionScan())
	api.Use(mw.Audit())

	api.GET("/health/status", healthHandlers.Status)

	query := api.Group("/query")
	{
		query.POST("/hybrid", queryHandlers.HybridQuery)
		query.POST("/keyword", queryHandlers.KeywordQuery)
	}

	crud := api.Group("/crud")
	{
		crud.POST("/upsert", crudHandlers.Upsert)
		crud.POST("/upsert_batch", crudHandlers.UpsertBatch)
		crud.PATCH("/update", crudHandlers.Update)
		crud.DELETE("/delete", crudHandlers.Delete)
	}

	batch := api.Group("/batch")
	{
		batch.POST("/ingest", batchHandlers.Ingest)
		batch.POST("/upsert_batch", batchHandlers.Ingest)
		batch.GET("/jobs/status/:id", batchHandlers.JobStatus)
		batch.GET("/jobs/list", batchHandlers.JobList)
	}

	admin := api.Group("/admin")
	{
		admin.POST("/collections/create", adminHandlers.CreateCollection)
		admin.POST("/collections/delete", adminHandlers.DeleteCollection)
		admin.GET("/collections/list", adminHandlers.ListCollections)
		admin.POST("/snapshot/create", adminHandlers.CreateSnapshot)
		admin.GET("/snapshot/list", adminHandlers.ListSnapshots)
		admin.POST("/snapshot/restore", adminHandlers.RestoreSnapshot)
		admin.POST("/snapshot/delete", adminHandlers.DeleteSnapshot)
		admin.POST("/bm25/retrain", adminHandlers.RetrainBM25)
		admin.POST("/cache/clear", adminHandlers.ClearCache)
		admin.POST("/reset_db", adminHandlers.ResetDB)
	}

	return router
}
