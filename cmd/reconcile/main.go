// Command reconcile runs one ledger reconciliation pass and prints the
// report as JSON. It exits 2 when discrepancies were found and 3 when
// another run holds the job lock.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"os"
	"time"

	allocationapp "github.com/erp/paymentalloc/internal/application/allocation"
	"github.com/erp/paymentalloc/internal/domain/allocation"
	"github.com/erp/paymentalloc/internal/infrastructure/cache"
	"github.com/erp/paymentalloc/internal/infrastructure/config"
	"github.com/erp/paymentalloc/internal/infrastructure/logger"
	"github.com/erp/paymentalloc/internal/infrastructure/persistence"
	"go.uber.org/zap"
)

const (
	exitError         = 1
	exitDiscrepancies = 2
	exitLocked        = 3
)

func main() {
	os.Exit(run())
}

func run() int {
	var (
		timeout time.Duration
		noHold  bool
	)
	flag.DurationVar(&timeout, "timeout", 5*time.Minute, "Abort the run after this long")
	flag.BoolVar(&noHold, "no-hold", false, "Report discrepancies without placing integrity holds")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		return exitError
	}

	log, err := logger.New(&logger.Config{
		Level:  cfg.Log.Level,
		Format: cfg.Log.Format,
		Output: "stderr",
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		return exitError
	}
	defer logger.Sync(log)

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	ctx = logger.WithContext(ctx, log)

	gormLog := logger.NewGormLogger(log, logger.MapGormLogLevel(cfg.Log.Level))
	db, err := persistence.NewDatabase(&cfg.Database, gormLog)
	if err != nil {
		log.Error("Failed to connect to database", zap.Error(err))
		return exitError
	}
	defer db.Close()

	backends, err := cache.NewBackends(ctx, cfg.Redis, log)
	if err != nil {
		log.Error("Failed to initialize coordination backends", zap.Error(err))
		return exitError
	}
	defer backends.Close()

	tx := persistence.NewTxRunner(db.DB, cfg.Allocation.LockTimeout)
	service := allocationapp.NewService(allocationapp.Deps{
		Payments:    persistence.NewGormPaymentRepository(db.DB, tx),
		Obligations: persistence.NewGormObligationSource(db.DB),
		Allocator:   persistence.NewGormAllocator(tx),
		Compensator: persistence.NewGormCompensator(tx),
		Ledger:      persistence.NewGormLedger(db.DB, tx),
		Holds:       persistence.NewGormHoldRepository(db.DB, tx),
		Idempotency: backends.Idempotency,
		JobLock:     backends.JobLock,
	}, allocationapp.Config{
		DefaultStrategy:   allocation.Strategy(cfg.Allocation.DefaultStrategy),
		RequestTimeout:    timeout,
		IdempotencyTTL:    cfg.Allocation.IdempotencyTTL,
		ReconcileLockTTL:  cfg.Allocation.ReconcileLockTTL,
		HoldOnDiscrepancy: cfg.Allocation.HoldOnDiscrepancy && !noHold,
	})

	report, err := service.RunReconciliation(ctx)
	if errors.Is(err, allocationapp.ErrReconcileInProgress) {
		log.Warn("Another reconciliation run is in progress")
		return exitLocked
	}
	if err != nil {
		log.Error("Reconciliation failed", zap.Error(err))
		return exitError
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(report); err != nil {
		log.Error("Failed to write report", zap.Error(err))
		return exitError
	}
	if !report.Consistent {
		return exitDiscrepancies
	}
	return 0
}
