package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/joho/godotenv/autoload"
	"golang.org/x/sync/errgroup"

	"github.com/coldbell/auctionhouse/backend/internal/apiserver"
	"github.com/coldbell/auctionhouse/backend/internal/auctionhouse"
	"github.com/coldbell/auctionhouse/backend/internal/config"
	"github.com/coldbell/auctionhouse/backend/internal/ledger"
	"github.com/coldbell/auctionhouse/backend/internal/logging"
	"github.com/coldbell/auctionhouse/backend/internal/store"
)

const storePingInterval = 30 * time.Second

func main() {
	bootstrapLogger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))

	cfg, err := config.LoadSettlerConfig()
	if err != nil {
		bootstrapLogger.Error("failed to load config", "err", err)
		os.Exit(1)
	}

	logger, closeLogger, err := logging.New("settler", cfg.Log, "program_id", cfg.ProgramID.String())
	if err != nil {
		bootstrapLogger.Error("failed to initialize logger", "err", err)
		os.Exit(1)
	}
	defer func() {
		if closeErr := closeLogger(); closeErr != nil {
			bootstrapLogger.Error("failed to close logger", "err", closeErr)
		}
	}()

	if source, sourceErr := config.CurrentConfigSource(); sourceErr == nil {
		logger.Info("configuration loaded", "phase", source.Phase, "path", source.Path, "loaded", source.Loaded)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("settler exited with error", "err", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg config.SettlerConfig, logger *slog.Logger) error {
	st, err := store.Open(ctx, cfg.DBDSN)
	if err != nil {
		return err
	}
	defer func() {
		if err := st.Close(); err != nil {
			logger.Error("failed to close store", "err", err)
		}
	}()

	slot, accounts, err := st.LoadAccounts(ctx)
	if err != nil {
		return err
	}
	bank := ledger.NewBank(
		ledger.WithRent(ledger.Rent{
			LamportsPerByteYear: cfg.RentLamportsPerByteYear,
			ExemptionThreshold:  cfg.RentExemptionThreshold,
		}),
		ledger.WithJournal(st.Journal()),
		ledger.WithLogger(logger),
	)
	bank.Restore(slot, accounts)
	logger.Info("ledger restored", "slot", slot, "accounts", len(accounts))

	engine := auctionhouse.NewEngine(bank,
		auctionhouse.WithProgramID(cfg.ProgramID),
		auctionhouse.WithLogger(logger),
	)
	svc, err := apiserver.New(cfg, logger, engine, st)
	if err != nil {
		return err
	}

	group, groupCtx := errgroup.WithContext(ctx)
	group.Go(func() error {
		return svc.Run(groupCtx)
	})
	group.Go(func() error {
		return watchStore(groupCtx, st, logger)
	})
	return group.Wait()
}

// watchStore pings the database until ctx ends. Committed transactions are
// journaled synchronously, so an unreachable store surfaces here first.
func watchStore(ctx context.Context, st *store.Store, logger *slog.Logger) error {
	ticker := time.NewTicker(storePingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
			if err := st.Ping(pingCtx); err != nil {
				logger.Warn("store ping failed", "err", err)
			}
			cancel()
		}
	}
}
