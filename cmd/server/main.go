/*
main.go - Application entry point

PURPOSE:
  Starts the produce ledger HTTP server: loads configuration, opens the
  SQLite store, wires the inventory service and serves the API.

STARTUP SEQUENCE:
  1. Parse command-line flags
  2. Load configuration (defaults, YAML file, .env, environment)
  3. Build the zap logger
  4. Open and migrate the SQLite store
  5. Create the service, router and hard sync scheduler
  6. Serve with graceful shutdown

COMMAND-LINE FLAGS:
  -config  Path to a YAML config file (optional)

GRACEFUL SHUTDOWN:
  On SIGINT/SIGTERM:
  1. Stop the scheduler
  2. Stop accepting new connections
  3. Wait for active requests (server.shutdown_timeout)
  4. Close the database

EXAMPLES:
  ./server -config=./ledger.yaml
  LEDGER_DB_PATH=":memory:" LEDGER_PORT=3000 ./server

SEE ALSO:
  - config/config.go: configuration keys
  - api/server.go: Router configuration
  - store/sqlite/sqlite.go: Database implementation
*/
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/warp/produce-ledger/api"
	"github.com/warp/produce-ledger/config"
	"github.com/warp/produce-ledger/inventory"
	"github.com/warp/produce-ledger/metrics"
	"github.com/warp/produce-ledger/store/sqlite"
)

func main() {
	configPath := flag.String("config", "", "YAML config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	log := cfg.Logging.NewLogger()
	defer log.Sync()

	if err := run(cfg, log); err != nil {
		log.Fatal("server failed", zap.Error(err))
	}
}

func run(cfg *config.Config, log *zap.Logger) error {
	store, err := sqlite.New(cfg.Database.Path)
	if err != nil {
		return fmt.Errorf("initialize database: %w", err)
	}
	defer store.Close()

	engineCfg, err := cfg.Engine()
	if err != nil {
		return err
	}

	var m *metrics.Metrics
	if cfg.Metrics.Enabled {
		m = metrics.New()
	}

	svc := inventory.NewService(store, engineCfg,
		inventory.WithLogger(log.Named("inventory")),
		inventory.WithMetrics(m),
	)

	handler := api.NewHandler(svc, log.Named("api"))
	handler.Ping = store.Ping
	router := api.NewRouter(handler, api.RouterConfig{
		AllowedOrigins: cfg.Server.AllowedOrigins,
		Metrics:        m,
		MetricsPath:    cfg.Metrics.Path,
	})

	scheduler := api.NewHardSyncScheduler(svc, cfg.Inventory.HardSyncInterval, log)
	scheduler.Start()
	defer scheduler.Stop()

	server := &http.Server{
		Addr:         cfg.Addr(),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("server starting",
			zap.String("addr", server.Addr),
			zap.String("database", cfg.Database.Path),
			zap.String("price_policy", cfg.Inventory.PricePolicy),
			zap.String("over_match_policy", cfg.Inventory.OverMatchPolicy),
		)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return err
	case sig := <-quit:
		log.Info("shutting down", zap.String("signal", sig.String()))
	}

	ctx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		return fmt.Errorf("forced shutdown: %w", err)
	}

	log.Info("server stopped")
	return nil
}
