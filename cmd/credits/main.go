// credits is an operator tool for granting credits to a user's pools.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"

	"studio/internal/adapter/repo"
	"studio/internal/domain"
)

func main() {
	var (
		userFlag   string
		poolFlag   string
		amountFlag int
	)

	flag.StringVar(&userFlag, "user", "", "user ID to credit (UUID)")
	flag.StringVar(&poolFlag, "pool", "image", "credit pool (image, video, legacy)")
	flag.IntVar(&amountFlag, "amount", 0, "credits to grant (positive integer)")
	flag.Parse()

	_ = godotenv.Load()

	userID := strings.TrimSpace(userFlag)
	if userID == "" {
		exitWithError(errors.New("-user is required"))
	}
	if amountFlag <= 0 {
		exitWithError(errors.New("-amount must be positive"))
	}
	pool := domain.CreditPool(strings.ToLower(strings.TrimSpace(poolFlag)))
	valid := false
	for _, known := range domain.Pools() {
		if pool == known {
			valid = true
		}
	}
	if !valid {
		exitWithError(fmt.Errorf("unsupported pool %q", pool))
	}

	dbURL := strings.TrimSpace(os.Getenv("DATABASE_URL"))
	if dbURL == "" {
		exitWithError(errors.New("DATABASE_URL is required"))
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	dbpool, err := pgxpool.New(ctx, dbURL)
	if err != nil {
		exitWithError(fmt.Errorf("failed to connect database: %w", err))
	}
	defer dbpool.Close()

	user, err := repo.NewUserRepository(dbpool).GetByID(ctx, userID)
	if err != nil {
		exitWithError(fmt.Errorf("user lookup failed: %w", err))
	}

	ledgerRepo := repo.NewLedgerRepository(dbpool)
	if err := ledgerRepo.Grant(ctx, user.ID, pool, amountFlag); err != nil {
		exitWithError(fmt.Errorf("grant failed: %w", err))
	}

	balances, err := ledgerRepo.Balances(ctx, userID)
	if err != nil {
		exitWithError(fmt.Errorf("balance lookup failed: %w", err))
	}
	fmt.Printf("granted %d %s credits to %s\n", amountFlag, pool, userID)
	fmt.Printf("balances: image=%d video=%d legacy=%d\n",
		balances[domain.PoolImage], balances[domain.PoolVideo], balances[domain.PoolLegacy])
}

func exitWithError(err error) {
	fmt.Fprintln(os.Stderr, "error:", err)
	os.Exit(1)
}
