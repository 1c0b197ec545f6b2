package main

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/vigil-sec/vigil/internal/application"
	"github.com/vigil-sec/vigil/internal/application/aggregate"
	appblock "github.com/vigil-sec/vigil/internal/application/blocklist"
	appscans "github.com/vigil-sec/vigil/internal/application/scans"
	"github.com/vigil-sec/vigil/internal/config"
	"github.com/vigil-sec/vigil/internal/domain/alerts"
	domblock "github.com/vigil-sec/vigil/internal/domain/blocklist"
	domain "github.com/vigil-sec/vigil/internal/domain/scans"
	openaic "github.com/vigil-sec/vigil/internal/infra/analysis/openai"
	mysqlp "github.com/vigil-sec/vigil/internal/infra/db/mysql"
	postgresp "github.com/vigil-sec/vigil/internal/infra/db/postgres"
	sqlitep "github.com/vigil-sec/vigil/internal/infra/db/sqlite"
	"github.com/vigil-sec/vigil/internal/infra/fetch"
	"github.com/vigil-sec/vigil/internal/infra/httpserver"
	minioStore "github.com/vigil-sec/vigil/internal/infra/storage"
	"github.com/vigil-sec/vigil/internal/infra/verification/ledger"
	"github.com/vigil-sec/vigil/internal/logging"
	"github.com/vigil-sec/vigil/internal/middleware"
)

func main() {
	// path config.yaml
	path := "config.yaml"
	if v := os.Getenv("CONFIG_PATH"); v != "" {
		path = v
	}

	// load config
	cfg, err := config.Load(path)
	if err != nil {
		if !os.IsNotExist(err) {
			log.Fatalf("config load error: %v", err)
		}
		cfg = config.Default()
	}

	logger, err := logging.New(logging.Config{Level: cfg.Log.Level, Format: cfg.Log.Format})
	if err != nil {
		log.Fatalf("logger init error: %v", err)
	}
	defer logging.Sync(logger)

	ctx := context.Background()

	// open the durable record store
	db, scanRepo, alertRepo, blockRepo, err := openStore(ctx, cfg)
	if err != nil {
		logger.Fatal("store open failed", zap.String("driver", cfg.Store.Driver), zap.Error(err))
	}
	defer db.Close()

	// optional artifact archive
	var artifacts domain.ArtifactStore
	if cfg.Artifacts.Enabled {
		store, err := minioStore.New(ctx,
			cfg.Artifacts.Endpoint,
			cfg.Artifacts.Region,
			cfg.Artifacts.BucketName,
			cfg.Artifacts.AccessKey,
			cfg.Artifacts.SecretKey,
			cfg.Artifacts.UseSSL,
		)
		if err != nil {
			logger.Fatal("artifact store init failed", zap.Error(err))
		}
		artifacts = store
	}

	clock := application.SystemClock{}
	engine := &aggregate.Engine{Scans: scanRepo, Alerts: alertRepo, Clock: clock}

	scansSvc := &appscans.Service{
		Repo:      scanRepo,
		Alerts:    alertRepo,
		Analyzer:  openaic.NewClient(cfg.Analysis.APIKey, cfg.Analysis.Model),
		Verifier:  ledger.New(cfg.Verification.Endpoint, cfg.Verification.Timeout.Std()),
		Artifacts: artifacts,
		Fetcher:   fetch.New(cfg.Analysis.Timeout.Std()),
		Engine:    engine,
		Clock:     clock,
		Log:       logger.Named("scans"),
	}
	blockSvc := &appblock.Service{
		Repo:  blockRepo,
		Clock: clock,
		Log:   logger.Named("blocklist"),
	}

	hub := httpserver.NewHub(scansSvc, logger.Named("hub"))
	handler := httpserver.NewRouter(scansSvc, blockSvc, hub, logger.Named("http"), httpserver.Options{
		RateLimitCapacity: cfg.RateLimit.Capacity,
		RateLimitRefill:   cfg.RateLimit.RefillRate,
		HealthCheckers: map[string]middleware.HealthChecker{
			"store": &middleware.DatabaseHealthChecker{DB: db},
		},
	})

	addr := fmt.Sprintf(":%d", cfg.Server.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      handler,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 120 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// run server
	go func() {
		logger.Info("coordinator listening", zap.String("addr", addr), zap.String("store", cfg.Store.Driver))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("server error", zap.Error(err))
		}
	}()

	// graceful shutdown
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop
	logger.Info("shutting down")

	ctx2, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx2); err != nil {
		logger.Warn("shutdown error", zap.Error(err))
	}
}

// openStore wires the repository backend selected by store.driver.
func openStore(ctx context.Context, cfg *config.Config) (*sql.DB, domain.Repository, alerts.Repository, domblock.Repository, error) {
	switch cfg.Store.Driver {
	case "sqlite", "":
		db, err := sqlitep.Open(cfg.Store.Path)
		if err != nil {
			return nil, nil, nil, nil, err
		}
		return db, sqlitep.NewScanRepository(db), sqlitep.NewAlertRepository(db), sqlitep.NewBlocklistRepository(db), nil
	case "mysql":
		db, err := mysqlp.Connect(ctx, cfg.MySQLDSN())
		if err != nil {
			return nil, nil, nil, nil, err
		}
		return db, mysqlp.NewScanRepository(db), mysqlp.NewAlertRepository(db), mysqlp.NewBlocklistRepository(db), nil
	case "postgres":
		db, err := postgresp.Connect(ctx, cfg.PostgresDSN())
		if err != nil {
			return nil, nil, nil, nil, err
		}
		return db, postgresp.NewScanRepository(db), postgresp.NewAlertRepository(db), postgresp.NewBlocklistRepository(db), nil
	}
	return nil, nil, nil, nil, fmt.Errorf("unknown store driver %q", cfg.Store.Driver)
}
