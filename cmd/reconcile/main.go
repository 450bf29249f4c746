// Command reconcile compares every wallet's cached balance with the sum of
// its ledger rows. It exits 1 when any wallet disagrees.
package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"time"

	"go.uber.org/zap"

	"github.com/digimart/backend/internal/config"
	"github.com/digimart/backend/internal/database"
	"github.com/digimart/backend/internal/logging"
	"github.com/digimart/backend/internal/services"
)

func main() {
	os.Exit(run())
}

func run() int {
	cfg, err := config.Load()
	if err != nil {
		log.Printf("Failed to load config: %v", err)
		return 2
	}
	_, syncLogs, err := logging.New(cfg.Log)
	if err != nil {
		log.Printf("Failed to initialize logger: %v", err)
		return 2
	}
	defer syncLogs()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	db, err := database.InitDB(ctx, cfg.Database)
	if err != nil {
		zap.L().Error("Failed to connect to database", zap.Error(err))
		return 2
	}
	defer db.Close()

	mismatches, err := services.NewLedgerService(db).Reconcile(ctx)
	if err != nil {
		zap.L().Error("Reconciliation failed", zap.Error(err))
		return 2
	}

	if len(mismatches) == 0 {
		fmt.Println("All wallets reconcile with the ledger")
		return 0
	}

	fmt.Printf("%-40s %15s %15s %15s\n", "WALLET", "BALANCE", "LEDGER", "DIFF")
	for _, m := range mismatches {
		fmt.Printf("%-40s %15d %15d %15d\n", m.Wallet, m.Balance, m.LedgerSum, m.Balance-m.LedgerSum)
		zap.L().Warn("Wallet does not reconcile",
			zap.String("wallet", m.Wallet),
			zap.Int64("balance", m.Balance),
			zap.Int64("ledger_sum", m.LedgerSum))
	}
	fmt.Printf("%d wallet(s) out of balance\n", len(mismatches))
	return 1
}
