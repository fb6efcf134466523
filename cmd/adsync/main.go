package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"adsync/internal/client/metaads"
	"adsync/internal/client/msads"
	"adsync/internal/config"
	cronrunner "adsync/internal/cron"
	"adsync/internal/db"
	"adsync/internal/handler"
	"adsync/internal/logger"
	gormrepository "adsync/internal/repository/gorm"
	"adsync/internal/service"
	"adsync/internal/token"
	"adsync/internal/watermark"
)

func main() {
	cfgPath := os.Getenv("ADS_CONFIG")
	if cfgPath == "" {
		cfgPath = "config/config.yaml"
	}

	envOnly := false
	if envOnlyRaw := os.Getenv("ADS_ENV_ONLY"); envOnlyRaw != "" {
		envOnly = strings.EqualFold(envOnlyRaw, "true") || envOnlyRaw == "1"
	}

	cfg, err := config.Load(cfgPath, envOnly)
	if err != nil {
		panic(err)
	}

	logger, err := logger.New(cfg.Log)
	if err != nil {
		panic(err)
	}
	defer logger.Sync()

	dbConn, err := db.Open(cfg.DB)
	if err != nil {
		logger.Fatal("db open failed", zap.Error(err))
	}
	defer db.Close(dbConn)

	if err := db.SetTimezone(dbConn, cfg.DB.Timezone); err != nil {
		logger.Warn("failed to set timezone", zap.Error(err))
	}
	if err := db.AutoMigrate(dbConn); err != nil {
		logger.Fatal("auto-migrate failed", zap.Error(err))
	}

	store := gormrepository.New(dbConn.Gorm)

	tokens := &token.Manager{
		Store:             store,
		Logger:            logger,
		RefreshMargin:     cfg.Sync.RefreshMargin,
		MetaRefreshWindow: cfg.Sync.MetaRefreshWindow,
		MicrosoftRetry: token.RetryPolicy{
			Attempts: cfg.Sync.RetryAttempts,
			Backoff:  cfg.Sync.RetryBackoff,
		},
	}
	extractors := map[string]service.Extractor{}

	if cfg.Microsoft.Enabled {
		msAuth, err := msads.NewAuthClient(&http.Client{Timeout: cfg.Microsoft.Timeout}, msads.AuthConfig{
			TenantID:       cfg.Microsoft.TenantID,
			ClientID:       cfg.Microsoft.ClientID,
			ClientSecret:   cfg.Microsoft.ClientSecret,
			Scopes:         cfg.Microsoft.Scopes,
			CertificatePEM: cfg.Microsoft.CertificatePEM,
			PrivateKeyPEM:  cfg.Microsoft.PrivateKeyPEM,
		})
		if err != nil {
			logger.Fatal("microsoft auth client init failed", zap.Error(err))
		}
		tokens.Microsoft = msAuth
		extractors["microsoft"] = msads.NewClient(&http.Client{Timeout: cfg.Microsoft.Timeout}, msads.ClientConfig{
			BaseURL:        cfg.Microsoft.BaseURL,
			DeveloperToken: cfg.Microsoft.DeveloperToken,
			CustomerID:     cfg.Microsoft.CustomerID,
			AccountID:      cfg.Microsoft.AccountID,
			PageSize:       cfg.Microsoft.PageSize,
		})
	}

	if cfg.Meta.Enabled {
		metaAuth, err := metaads.NewAuthClient(&http.Client{Timeout: cfg.Meta.Timeout}, metaads.AuthConfig{
			BaseURL:   cfg.Meta.BaseURL,
			Version:   cfg.Meta.Version,
			AppID:     cfg.Meta.AppID,
			AppSecret: cfg.Meta.AppSecret,
		})
		if err != nil {
			logger.Fatal("meta auth client init failed", zap.Error(err))
		}
		tokens.Meta = metaAuth
		extractors["meta"] = metaads.NewClient(&http.Client{Timeout: cfg.Meta.Timeout}, metaads.ClientConfig{
			BaseURL:   cfg.Meta.BaseURL,
			Version:   cfg.Meta.Version,
			AccountID: cfg.Meta.AccountID,
			PageSize:  cfg.Meta.PageSize,
		})
	}

	tracker := &watermark.Tracker{
		Runs:          store,
		DefaultWindow: time.Duration(cfg.Sync.DefaultWindowDays) * 24 * time.Hour,
		FullWindow:    time.Duration(cfg.Sync.FullWindowDays) * 24 * time.Hour,
	}
	batch := &service.BatchUpserter{
		Store:     store,
		Logger:    logger,
		ChunkSize: cfg.Sync.ChunkSize,
	}
	syncService := &service.SyncService{
		Runs:          store,
		Tokens:        tokens,
		Tracker:       tracker,
		Batch:         batch,
		Extractors:    extractors,
		Logger:        logger,
		LookbackHours: cfg.Sync.LookbackHours,
		LookbackDays:  cfg.Sync.LookbackDays,
		StaleRunAfter: cfg.Sync.StaleRunAfter,
	}
	healthMonitor := &service.TokenHealthMonitor{
		Store:  store,
		Tokens: tokens,
		Logger: logger,
	}

	if strings.EqualFold(cfg.App.Env, "dev") {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}
	engine := gin.New()
	engine.Use(gin.Recovery())
	engine.Use(corsMiddleware())

	healthHandler := &handler.HealthHandler{DB: dbConn.Gorm}
	healthHandler.Register(engine)
	syncHandler := &handler.SyncHandler{Service: syncService, Runs: store}
	syncHandler.Register(engine)
	tokenHandler := &handler.TokenHandler{Monitor: healthMonitor, Tokens: tokens}
	tokenHandler.Register(engine)

	srv := &http.Server{
		Addr:    cfg.Server.HTTPAddr,
		Handler: engine,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cronRunner := cronrunner.New(logger, ctx)
	if cfg.Cron.Enabled {
		scheduledPlatforms := make([]string, 0, 2)
		if cfg.Microsoft.Enabled {
			scheduledPlatforms = append(scheduledPlatforms, "microsoft")
		}
		if cfg.Meta.Enabled {
			scheduledPlatforms = append(scheduledPlatforms, "meta")
		}
		for _, platform := range scheduledPlatforms {
			platform := platform
			_, err := cronRunner.Add(cfg.Cron.Sync, func(ctx context.Context) {
				summary, err := syncService.Sync(ctx, service.SyncRequest{
					Platform: platform,
					Mode:     service.ModeIncremental,
				})
				if err != nil {
					logger.Warn("cron sync failed", zap.String("platform", platform), zap.Error(err))
					return
				}
				logger.Info("cron sync finished",
					zap.String("platform", platform),
					zap.String("status", summary.Status),
					zap.Int("processed", summary.RecordsProcessed),
					zap.Int("failed", summary.RecordsFailed),
				)
			})
			if err != nil {
				logger.Warn("cron register sync failed", zap.String("platform", platform), zap.Error(err))
			}
		}

		_, err = cronRunner.Add(cfg.Cron.TokenHealth, func(ctx context.Context) {
			if err := healthMonitor.ScheduledCheck(ctx); err != nil {
				logger.Warn("token health pass failed", zap.Error(err))
			}
		})
		if err != nil {
			logger.Warn("cron register token health failed", zap.Error(err))
		}

		_, err = cronRunner.Add(cfg.Cron.Janitor, func(ctx context.Context) {
			if _, err := syncService.ReapStaleRuns(ctx); err != nil {
				logger.Warn("stale run janitor failed", zap.Error(err))
			}
		})
		if err != nil {
			logger.Warn("cron register janitor failed", zap.Error(err))
		}

		cronRunner.Start()
		defer cronRunner.Stop()
	}

	errCh := make(chan error, 2)

	go func() {
		logger.Info("http server starting", zap.String("addr", cfg.Server.HTTPAddr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutdown requested")
	case err := <-errCh:
		logger.Error("server error", zap.Error(err))
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = srv.Shutdown(shutdownCtx)
}

func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "GET,POST,PUT,DELETE,OPTIONS")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type,Authorization")
		c.Writer.Header().Set("Access-Control-Allow-Credentials", "true")
		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(204)
			return
		}
		c.Next()
	}
}
