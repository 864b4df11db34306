package main

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/spf13/cobra"

	"github.com/GyroZepelix/mithril-engine/internal/access"
	"github.com/GyroZepelix/mithril-engine/internal/audit"
	"github.com/GyroZepelix/mithril-engine/internal/auth"
	"github.com/GyroZepelix/mithril-engine/internal/cache"
	"github.com/GyroZepelix/mithril-engine/internal/config"
	"github.com/GyroZepelix/mithril-engine/internal/content"
	"github.com/GyroZepelix/mithril-engine/internal/contenttypes"
	"github.com/GyroZepelix/mithril-engine/internal/database"
	"github.com/GyroZepelix/mithril-engine/internal/media"
	"github.com/GyroZepelix/mithril-engine/internal/schema"
	"github.com/GyroZepelix/mithril-engine/internal/schemaapi"
	"github.com/GyroZepelix/mithril-engine/internal/server"
	"github.com/GyroZepelix/mithril-engine/internal/tags"
)

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Migrate, apply the definitions and start the HTTP server",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, logger, err := loadConfig()
			if err != nil {
				return err
			}
			if err := cfg.Validate(); err != nil {
				return err
			}
			return serve(cmd.Context(), cfg, logger)
		},
	}
}

func serve(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	logger.Info("starting Mithril Engine",
		"port", cfg.Port,
		"definitions_dir", cfg.DefinitionsDir,
		"media_dir", cfg.MediaDir,
		"dev_mode", cfg.DevMode,
	)

	db, err := openDatabase(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer db.Close()

	c, closeCache, err := openCache(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer closeCache()

	// --- Apply definitions ---
	registry := schema.NewRegistry(c, logger)
	engine := schema.NewEngine(db, registry, cfg.DevMode, logger)

	applyCtx, applyCancel := context.WithTimeout(ctx, 30*time.Second)
	_, catalog, err := engine.Refresh(applyCtx, cfg.DefinitionsDir)
	applyCancel()
	if err != nil {
		logBreaking(logger, err)
		return fmt.Errorf("applying definitions: %w", err)
	}

	// --- Audit ---
	auditService := audit.NewService(audit.NewRepository(db), logger)
	auditService.Start()
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		auditService.Shutdown(shutdownCtx)
	}()

	// --- Authentication ---
	authService := auth.NewService(auth.NewRepository(db), cfg.JWTSecret, cfg.TokenTTL, logger)
	if cfg.AdminEmail != "" {
		adminCtx, adminCancel := context.WithTimeout(ctx, 10*time.Second)
		_, err := authService.EnsureAdmin(adminCtx, cfg.AdminEmail, cfg.AdminPassword)
		adminCancel()
		if err != nil {
			return fmt.Errorf("ensuring initial admin: %w", err)
		}
	}

	// --- Media ---
	storage, err := media.NewLocalStorage(cfg.MediaDir)
	if err != nil {
		return fmt.Errorf("opening media storage: %w", err)
	}
	transformer := media.NewTransformer(storage, c, logger)
	mediaService := media.NewService(media.NewRepository(db), storage, transformer, auditService, logger)

	// --- Content ---
	authz, err := loadAuthorizer(cfg, db.Dialect(), logger)
	if err != nil {
		return err
	}
	contentService := content.NewService(db, catalog, registry, content.Options{
		Files:      mediaService,
		Tags:       tags.NewService(db, logger),
		Auditor:    auditService,
		Authorizer: authz,
		MaxDepth:   cfg.MaxLoadDepth,
		Logger:     logger,
	})

	router := server.NewRouter(server.Dependencies{
		DB:             db,
		Logger:         logger,
		DevMode:        cfg.DevMode,
		CORSOrigins:    cfg.CORSOrigins,
		AuthMiddleware: auth.Middleware(authService.Secret()),
		OptionalAuth:   auth.OptionalMiddleware(authService.Secret()),
		Auth:           auth.NewHandler(authService, auditService, logger),
		Content:        content.NewHandler(contentService, logger),
		Types:          contenttypes.NewHandler(db, registry, contentService, logger),
		Schema:         schemaapi.NewHandler(engine, cfg.DefinitionsDir, auditService, contentService.SetCatalog, logger),
		Media:          media.NewHandler(mediaService, transformer, logger),
		Audit:          audit.NewHandler(auditService, logger),
	})

	srv := server.New(fmt.Sprintf(":%d", cfg.Port), router, logger)
	if err := srv.Run(ctx); err != nil {
		return fmt.Errorf("server error: %w", err)
	}

	logger.Info("Mithril Engine stopped")
	return nil
}

// openCache returns the Redis cache when redis_url is set and the in-memory
// cache otherwise. The returned func releases it.
func openCache(ctx context.Context, cfg *config.Config, logger *slog.Logger) (cache.Cache, func(), error) {
	if cfg.RedisURL != "" {
		r, err := cache.OpenRedis(ctx, cfg.RedisURL, "mithril:", cfg.CacheTTL)
		if err != nil {
			return nil, nil, fmt.Errorf("connecting to redis: %w", err)
		}
		logger.Info("using redis cache")
		return r, func() { _ = r.Close() }, nil
	}

	m := cache.NewMemory(cfg.CacheTTL)
	if cfg.CacheTTL <= 0 {
		return m, func() {}, nil
	}
	sweepCtx, stop := context.WithCancel(ctx)
	go func() {
		ticker := time.NewTicker(cfg.CacheTTL)
		defer ticker.Stop()
		for {
			select {
			case <-sweepCtx.Done():
				return
			case <-ticker.C:
				if n := m.Sweep(); n > 0 {
					logger.Debug("cache sweep", "expired", n)
				}
			}
		}
	}()
	return m, stop, nil
}

// loadAuthorizer returns the policy file authorizer when policy_file is set.
// Without one, reads are public and writes need a signed-in admin.
func loadAuthorizer(cfg *config.Config, d database.Dialect, logger *slog.Logger) (access.Authorizer, error) {
	if cfg.PolicyFile == "" {
		return access.AuthenticatedWrites{}, nil
	}
	authz, err := access.LoadPolicies(cfg.PolicyFile, d, logger)
	if err != nil {
		return nil, fmt.Errorf("loading policies: %w", err)
	}
	logger.Info("access policies loaded", "file", cfg.PolicyFile)
	return authz, nil
}
