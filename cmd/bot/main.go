/*
main.go - Application entry point

PURPOSE:
  Initializes and starts the inventory bot. Handles configuration,
  dependency injection, ledger rebuild, and graceful shutdown.

STARTUP SEQUENCE:
  1. Load configuration from BOT_* environment variables
  2. Build the structured logger
  3. Open the row store (spreadsheet or SQLite)
  4. Load the catalog and rebuild the in-memory ledger from stored rows
  5. Wire the pipeline (normalizer -> gate -> applier -> notifier)
  6. Start the HTTP server with graceful shutdown

GRACEFUL SHUTDOWN:
  On SIGINT/SIGTERM:
  1. Stop accepting new webhook deliveries
  2. Wait for in-flight requests to complete (30s timeout)
  3. Close the store
  4. Exit

The in-memory gate empties on restart; redeliveries of commands that
committed before the restart are caught by the store's idempotency-key
uniqueness, and anything else is safe to re-run because the ledger is
rebuilt from persisted rows.

SEE ALSO:
  - config/config.go: Environment schema
  - api/server.go: Router configuration
*/
package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/stockline/inventory-bot/api"
	"github.com/stockline/inventory-bot/bot"
	"github.com/stockline/inventory-bot/completion"
	"github.com/stockline/inventory-bot/config"
	"github.com/stockline/inventory-bot/feishu"
	"github.com/stockline/inventory-bot/ledger"
	"github.com/stockline/inventory-bot/store/sqlite"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("configuration: %v", err)
	}

	logger, err := buildLogger(cfg.LogLevel)
	if err != nil {
		log.Fatalf("logger: %v", err)
	}
	defer logger.Sync()

	if err := run(cfg, logger); err != nil {
		logger.Fatal("fatal", zap.Error(err))
	}
}

func run(cfg config.Config, logger *zap.Logger) error {
	ctx := context.Background()

	client := feishu.NewClient(cfg.Feishu.AppID, cfg.Feishu.AppSecret, logger)

	// Row store. The sheet store has no transaction read-back; the admin
	// history endpoint reports unavailable there.
	var store ledger.RowStore
	var txReader api.TransactionLister
	var closeStore func() error
	switch cfg.Store {
	case config.StoreSheet:
		store = feishu.NewSheetStore(client, feishu.TableConfig{
			SpreadsheetToken:  cfg.Feishu.SpreadsheetToken,
			ProductsSheet:     cfg.Feishu.ProductsSheet,
			LayersSheet:       cfg.Feishu.LayersSheet,
			TransactionsSheet: cfg.Feishu.TransactionsSheet,
		}, logger)
	case config.StoreSQLite:
		db, err := sqlite.New(cfg.SQLitePath)
		if err != nil {
			return fmt.Errorf("open sqlite store: %w", err)
		}
		store = db
		txReader = db
		closeStore = db.Close
	}
	if closeStore != nil {
		defer closeStore()
	}

	// Catalog + ledger rebuild from persisted rows
	ldg := ledger.NewLedger()
	products, err := store.Products(ctx)
	if err != nil {
		return fmt.Errorf("load catalog: %w", err)
	}
	for _, p := range products {
		ldg.RegisterProduct(p)
	}
	if err := ldg.Rebuild(ctx, store); err != nil {
		return fmt.Errorf("rebuild ledger: %w", err)
	}
	logger.Info("ledger rebuilt",
		zap.Int("products", len(products)), zap.String("store", cfg.Store))

	// Pipeline
	sessions := completion.NewSessionStore(cfg.Completion.MaxTurns,
		time.Duration(cfg.Completion.SessionTTLMinutes)*time.Minute)
	extractor := completion.NewClient(cfg.Completion.BaseURL, cfg.Completion.APIKey,
		cfg.Completion.Model, sessions, logger)

	dispatcher := bot.NewDispatcher(
		bot.NewNormalizer(ldg, extractor, logger),
		bot.NewGate(),
		ledger.NewApplier(ldg, store, logger),
		ldg,
		client,
		logger,
	)

	decoder := feishu.NewDecoder(cfg.Feishu.VerificationToken, cfg.Feishu.EncryptKey)
	handler := api.NewHandler(dispatcher, decoder, ldg, client, txReader, logger)

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      api.NewRouter(handler),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Info("server starting", zap.Int("port", cfg.Port))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("server failed", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	logger.Info("stopped")
	return nil
}

func buildLogger(level string) (*zap.Logger, error) {
	var lvl zapcore.Level
	if err := lvl.Set(level); err != nil {
		return nil, fmt.Errorf("log level %q: %w", level, err)
	}
	zcfg := zap.NewProductionConfig()
	zcfg.Level = zap.NewAtomicLevelAt(lvl)
	return zcfg.Build()
}
