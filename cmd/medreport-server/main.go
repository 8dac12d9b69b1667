package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"cloud.google.com/go/firestore"
	"cloud.google.com/go/storage"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/medreport/medreport/internal/config"
	"github.com/medreport/medreport/internal/domain/accessgrant"
	"github.com/medreport/medreport/internal/domain/analysis"
	"github.com/medreport/medreport/internal/domain/extraction"
	"github.com/medreport/medreport/internal/domain/progress"
	"github.com/medreport/medreport/internal/platform/apperr"
	"github.com/medreport/medreport/internal/platform/auth"
	"github.com/medreport/medreport/internal/platform/blobstore"
	"github.com/medreport/medreport/internal/platform/db"
	"github.com/medreport/medreport/internal/platform/genai"
	"github.com/medreport/medreport/internal/platform/middleware"
	"github.com/medreport/medreport/internal/platform/ocr"
	"github.com/medreport/medreport/internal/platform/websocket"
	"github.com/medreport/medreport/migrations"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "medreport-server",
		Short: "Medical report extraction and access API server",
	}

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(migrateCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer()
		},
	}
}

func migrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Run database migrations (postgres backend only)",
	}

	// migrate up
	upCmd := &cobra.Command{
		Use:   "up",
		Short: "Apply pending migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := context.Background()
			pool, err := migrationPool(ctx)
			if err != nil {
				return err
			}
			defer pool.Close()

			count, err := db.NewMigrator(pool, migrations.FS).Up(ctx)
			if err != nil {
				return fmt.Errorf("migration failed: %w", err)
			}

			fmt.Printf("Applied %d migration(s) successfully.\n", count)
			return nil
		},
	}
	cmd.AddCommand(upCmd)

	// migrate status
	statusCmd := &cobra.Command{
		Use:   "status",
		Short: "Show migration status",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := context.Background()
			pool, err := migrationPool(ctx)
			if err != nil {
				return err
			}
			defer pool.Close()

			statuses, err := db.NewMigrator(pool, migrations.FS).Status(ctx)
			if err != nil {
				return fmt.Errorf("failed to get migration status: %w", err)
			}

			fmt.Printf("%-10s %-40s %-10s %s\n", "VERSION", "NAME", "STATUS", "APPLIED AT")
			fmt.Println("---------- ---------------------------------------- ---------- --------------------")
			for _, s := range statuses {
				state, at := "pending", ""
				if s.Applied {
					state = "applied"
					if s.AppliedAt != nil {
						at = s.AppliedAt.Format(time.RFC3339)
					}
				}
				fmt.Printf("%-10d %-40s %-10s %s\n", s.Version, s.Name, state, at)
			}
			return nil
		},
	}
	cmd.AddCommand(statusCmd)

	return cmd
}

func migrationPool(ctx context.Context) (*pgxpool.Pool, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	if cfg.StoreBackend != "postgres" {
		return nil, fmt.Errorf("migrations require STORE_BACKEND=postgres, got %q", cfg.StoreBackend)
	}
	return db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
}

// repositories is the document store seen by the domain services.
type repositories struct {
	reports      analysis.ReportRepository
	analyses     analysis.AnalysisRepository
	profiles     analysis.ProfileRepository
	grants       accessgrant.GrantRepository
	institutions accessgrant.InstitutionRepository
	health       db.Pinger
	close        func()
}

func openRepositories(ctx context.Context, cfg *config.Config, logger zerolog.Logger) (*repositories, error) {
	switch cfg.StoreBackend {
	case "firestore":
		client, err := firestore.NewClient(ctx, cfg.GCPProjectID)
		if err != nil {
			return nil, fmt.Errorf("firestore client: %w", err)
		}
		logger.Info().Str("project", cfg.GCPProjectID).Msg("connected to firestore")
		return &repositories{
			reports:      analysis.NewReportRepoFirestore(client),
			analyses:     analysis.NewAnalysisRepoFirestore(client),
			profiles:     analysis.NewProfileRepoFirestore(client),
			grants:       accessgrant.NewGrantRepoFirestore(client),
			institutions: accessgrant.NewInstitutionRepoFirestore(client),
			health:       firestorePinger{client: client},
			close:        func() { _ = client.Close() },
		}, nil
	default:
		pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
		if err != nil {
			return nil, err
		}
		logger.Info().Msg("connected to database")

		applied, err := db.NewMigrator(pool, migrations.FS).Up(ctx)
		if err != nil {
			pool.Close()
			return nil, fmt.Errorf("migrations: %w", err)
		}
		if applied > 0 {
			logger.Info().Int("count", applied).Msg("applied migrations")
		}
		return &repositories{
			reports:      analysis.NewReportRepoPG(pool),
			analyses:     analysis.NewAnalysisRepoPG(pool),
			profiles:     analysis.NewProfileRepoPG(pool),
			grants:       accessgrant.NewGrantRepoPG(pool),
			institutions: accessgrant.NewInstitutionRepoPG(pool),
			health:       pool,
			close:        pool.Close,
		}, nil
	}
}

// firestorePinger checks connectivity by reading one document reference.
type firestorePinger struct{ client *firestore.Client }

func (p firestorePinger) Ping(ctx context.Context) error {
	_, err := p.client.Collection("institutions").Limit(1).Documents(ctx).GetAll()
	return err
}

func openBlobStore(ctx context.Context, cfg *config.Config, logger zerolog.Logger) (blobstore.Store, func(), error) {
	if cfg.BlobBackend != "gcs" {
		return blobstore.NewMemoryStore(), func() {}, nil
	}
	client, err := storage.NewClient(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("storage client: %w", err)
	}
	return blobstore.NewGCSStore(client, cfg.UploadBucket, logger), func() { _ = client.Close() }, nil
}

func openGenerator(ctx context.Context, cfg *config.Config, logger zerolog.Logger) (genai.Generator, func(), error) {
	if cfg.GCPProjectID == "" {
		logger.Warn().Msg("GCP_PROJECT_ID not set: generation calls will fail")
		return unconfiguredGenerator, func() {}, nil
	}
	client, err := genai.NewVertexClient(ctx, cfg.GCPProjectID, cfg.VertexAIRegion, cfg.GenAIModel, cfg.GenAIRPS, logger)
	if err != nil {
		return nil, nil, err
	}
	return client, func() { _ = client.Close() }, nil
}

var unconfiguredGenerator = genai.GeneratorFunc(func(context.Context, genai.Request) (string, error) {
	return "", errors.New("generation model not configured")
})

func authMiddleware(cfg *config.Config) (echo.MiddlewareFunc, error) {
	if cfg.IsDev() && cfg.AuthSigningKey == "" && cfg.AuthIssuer == "" {
		return auth.DevAuthMiddleware(), nil
	}
	jwtCfg := auth.JWTConfig{
		Issuer:   cfg.AuthIssuer,
		Audience: cfg.AuthAudience,
		Skipper:  auth.PublicSkipper,
	}
	if cfg.AuthSigningKey != "" {
		jwtCfg.SigningKey = []byte(cfg.AuthSigningKey)
	}
	return auth.JWTMiddleware(jwtCfg)
}

// sweepSessions drops terminal sessions last updated before now-ttl and
// returns how many were removed. Running sessions are never dropped.
func sweepSessions(reg *progress.Registry, ttl time.Duration, now time.Time) int {
	cutoff := now.Add(-ttl)
	removed := 0
	for _, s := range reg.GetAllSessions() {
		if s.Stage.Terminal() && s.UpdatedAt.Before(cutoff) {
			reg.CleanupSession(s.ID)
			removed++
		}
	}
	return removed
}

func runJanitor(ctx context.Context, reg *progress.Registry, ttl time.Duration, logger zerolog.Logger) {
	interval := ttl / 2
	if interval < time.Minute {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			if n := sweepSessions(reg, ttl, now); n > 0 {
				logger.Debug().Int("removed", n).Msg("expired upload sessions cleaned up")
			}
		}
	}
}

func newLogger(env string) zerolog.Logger {
	if env == "development" {
		return zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout}).With().Timestamp().Logger()
	}
	return zerolog.New(os.Stdout).With().Timestamp().Logger()
}

func runServer() error {
	// Logger
	logger := newLogger(os.Getenv("ENV"))

	// Config
	cfg, err := config.Load()
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to load config")
	}
	if err := cfg.Validate(); err != nil {
		logger.Fatal().Err(err).Msg("invalid config")
	}

	ctx := context.Background()

	// Document store
	repos, err := openRepositories(ctx, cfg, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to open document store")
	}
	defer repos.close()

	// Collaborators
	blobs, closeBlobs, err := openBlobStore(ctx, cfg, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to open blob store")
	}
	defer closeBlobs()

	gen, closeGen, err := openGenerator(ctx, cfg, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to create generation client")
	}
	defer closeGen()

	recognizer := ocr.NewTesseract(cfg.OCRLanguages)

	// Progress push channel
	hub := websocket.NewHub(logger)
	reg := progress.NewRegistry(progress.WithNotifier(progress.NewHubNotifier(hub, logger)))
	hub.SetSnapshotFunc(reg.SnapshotFunc())
	hub.SetAuthorizer(reg.TopicAuthorizer())

	// Services
	grantSvc := accessgrant.NewService(repos.grants, repos.institutions, logger)
	analysisSvc := analysis.NewService(repos.reports, repos.analyses, repos.profiles, gen, grantSvc,
		analysis.Config{CollaboratorTimeout: cfg.CollaboratorTimeout, SummaryLimit: cfg.MetaSummaryLimit}, logger)
	pipeline := extraction.NewPipeline(reg, recognizer, gen, analysisSvc, blobs, extraction.Config{
		MaxUploadBytes:      cfg.MaxUploadBytes,
		CollaboratorTimeout: cfg.CollaboratorTimeout,
		OCRConcurrency:      cfg.OCRConcurrency,
	}, logger)

	// Echo server
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	// Global middleware
	e.Use(middleware.Recovery(logger))
	e.Use(middleware.RequestID())
	e.Use(middleware.Logger(logger))
	e.Use(middleware.SecurityHeaders(!cfg.IsDev()))
	e.Use(echomw.CORSWithConfig(echomw.CORSConfig{
		AllowOrigins: cfg.CORSOrigins,
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete},
		AllowHeaders: []string{"Authorization", "Content-Type", "X-Request-ID"},
	}))

	authMW, err := authMiddleware(cfg)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to configure authentication")
	}
	if cfg.IsDev() {
		logger.Warn().Msg("development mode: X-Dev-* headers select the caller identity when no issuer is configured")
	}

	// Health check
	e.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
	})
	e.GET("/health/db", db.HealthHandler(repos.health))

	// API
	apiV1 := e.Group("/api/v1", authMW)
	progress.NewHandler(reg).RegisterRoutes(apiV1)
	extraction.NewHandler(pipeline, reg, cfg.MaxUploadBytes).RegisterRoutes(apiV1)
	analysis.NewHandler(analysisSvc).RegisterRoutes(apiV1)
	accessgrant.NewHandler(grantSvc).RegisterRoutes(apiV1)
	websocket.NewHandler(hub, cfg.CORSOrigins, func(c echo.Context) (string, string) {
		if p, ok := auth.PrincipalFromContext(c.Request().Context()); ok {
			return p.Subject, string(p.Role)
		}
		return "", ""
	}).RegisterRoutes(apiV1)

	e.HTTPErrorHandler = httpErrorHandler(e.DefaultHTTPErrorHandler)

	// Session janitor
	janitorCtx, stopJanitor := context.WithCancel(ctx)
	defer stopJanitor()
	go runJanitor(janitorCtx, reg, cfg.SessionTTL, logger)

	go func() {
		addr := ":" + cfg.Port
		logger.Info().Str("addr", addr).Str("store", cfg.StoreBackend).Msg("starting server")
		if err := e.Start(addr); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("server error")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info().Msg("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("server shutdown failed")
	}

	logger.Info().Msg("waiting for running uploads")
	pipeline.Wait()
	logger.Info().Msg("server stopped")
	return nil
}

// httpErrorHandler renders apperr-classified errors that reach echo
// unconverted with their proper status.
func httpErrorHandler(next echo.HTTPErrorHandler) echo.HTTPErrorHandler {
	return func(err error, c echo.Context) {
		var he *echo.HTTPError
		if !errors.As(err, &he) && apperr.CodeOf(err) != apperr.CodeInternal {
			err = apperr.ToHTTP(err)
		}
		next(err, c)
	}
}
