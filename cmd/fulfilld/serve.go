package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/openstall/fulfill/adapter"
	"github.com/openstall/fulfill/dispatch"
	ginmw "github.com/openstall/fulfill/middleware/gin"
	"github.com/openstall/fulfill/resolver"
	"github.com/openstall/fulfill/rungate"
	"github.com/openstall/fulfill/storage"
	"github.com/openstall/fulfill/trust"
)

// eventScope is the scope required to push lifecycle events.
const eventScope = "events"

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Serve the adapter endpoint and the lifecycle event hook",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd.Context())
		},
	}
}

func runServe(parent context.Context) error {
	logger, err := zap.NewProduction()
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	defer logger.Sync()

	cfg, err := loadEnvConfig()
	if err != nil {
		return err
	}

	db, err := storage.Open(cfg.DBPath)
	if err != nil {
		return err
	}
	defer db.Close()

	runStore, err := rungate.NewSQLiteStore(db)
	if err != nil {
		return err
	}
	gate := rungate.New(runStore, rungate.Config{
		AllowStartedTakeover: cfg.AllowStartedTakeover,
		StaleAfter:           time.Duration(cfg.StaleMinutes) * time.Minute,
		Logger:               logger,
	})
	if cfg.AllowStartedTakeover {
		logger.Warn("started-run takeover is enabled; slow in-flight dispatches may be duplicated",
			zap.Int("staleMinutes", cfg.StaleMinutes))
	}

	credentials, err := dispatch.NewSQLiteCredentialStore(db)
	if err != nil {
		return err
	}
	dispatcher := dispatch.New(dispatch.Config{
		Credentials:      credentials,
		Timeout:          cfg.DispatchTimeout,
		MaxRedirects:     cfg.MaxRedirects,
		MaxResponseBytes: cfg.MaxResponseBytes,
		Logger:           logger,
	})

	outbox, err := resolver.NewSQLiteOutbox(db)
	if err != nil {
		return err
	}

	routes := resolver.NewStaticRoutes()
	if cfg.RoutesFile != "" {
		if routes, err = resolver.LoadRoutesFile(cfg.RoutesFile); err != nil {
			return err
		}
	}

	auth, err := buildAuthorizer(cfg, db, logger)
	if err != nil {
		return err
	}

	variant, err := adapter.New(cfg.AdapterVariant, nil)
	if err != nil {
		return err
	}

	lines := resolver.New(resolver.Config{
		Routes:     routes,
		Gate:       gate,
		Dispatcher: dispatcher,
		Outbox:     outbox,
		Logger:     logger,
	})

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())

	router.POST("/fulfill/:chainId/:seller",
		ginmw.RequireCaller(auth, "fulfill", ginmw.WithLogger(logger)),
		handleFulfill(variant, logger))
	router.POST("/events/lifecycle", handleLifecycleEvent(auth, lines, logger))
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))
	router.GET("/healthz", func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"status": "ok"}) })

	srv := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		logger.Info("fulfilld listening",
			zap.String("addr", cfg.ListenAddr),
			zap.String("adapter", cfg.AdapterVariant))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

// buildAuthorizer picks the trust strategy: a shared secret when SERVICE_KEY
// is set, otherwise the caller registry persisted in the database.
func buildAuthorizer(cfg envConfig, db *sql.DB, logger *zap.Logger) (trust.Authorizer, error) {
	if cfg.ServiceSecret != "" {
		return trust.NewSharedSecret(cfg.ServiceSecret, logger), nil
	}
	callers, err := trust.NewSQLiteCallerStore(db)
	if err != nil {
		return nil, err
	}
	return trust.NewRegistry(callers, logger), nil
}
