// Seeds demo users, linked accounts and active consents into Postgres, and
// writes a matching mock provider fixture file the sync-worker can serve.
//
// Example:
//
//	go run ./services/ops-api/cmd/seed \
//	  -noOfUsers=5 \
//	  -accountsPerUser=2 \
//	  -txPerAccount=50 \
//	  -fixtureOut=./mock_transactions.json \
//	  -aesKey=<base64 32-byte key>
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"math/rand"
	"os"
	"time"

	"github.com/finscope/txsync/pkg"
	"github.com/finscope/txsync/pkg/database"
	"github.com/finscope/txsync/pkg/models"
	"github.com/finscope/txsync/pkg/provider"
	"github.com/finscope/txsync/pkg/repositories"
	"github.com/finscope/txsync/pkg/utils"
	"github.com/finscope/txsync/services/ops-api/configs"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// --------- CLI flags ---------
var (
	noOfUsers       = flag.Int("noOfUsers", 5, "Number of demo users to seed")
	accountsPerUser = flag.Int("accountsPerUser", 2, "Accounts linked per user (<=10)")
	txPerAccount    = flag.Int("txPerAccount", 50, "Fixture transactions per account (<=1000)")
	lookbackDays    = flag.Int("lookbackDays", 30, "Spread fixture timestamps over this many days")
	fixtureOut      = flag.String("fixtureOut", "./mock_transactions.json", "Path for the mock provider fixture file")
	aesKey          = flag.String("aesKey", "", "Base64 32-byte key used to seal consent tokens (defaults to APP_AES_KEY)")
)

func main() {
	flag.Parse()

	logger := pkg.InitLogger()
	defer logger.Sync()

	cfg, err := configs.Load(logger)
	if err != nil {
		logger.Fatal("failed_to_load_config", zap.Error(err))
	}
	logger.Info("config_loaded_successfully")

	keyMaterial := *aesKey
	if keyMaterial == "" {
		keyMaterial = os.Getenv("APP_AES_KEY")
	}
	key, err := utils.DecodeString(keyMaterial)
	if err != nil {
		logger.Fatal("failed_to_decode_aes_key", zap.Error(err))
	}

	if *accountsPerUser > 10 {
		logger.Fatal("accountsPerUser_cannot_be_greater_than_10")
	}
	if *txPerAccount > 1000 {
		logger.Fatal("txPerAccount_cannot_be_greater_than_1000")
	}

	dbConfig := database.Config{
		PrimaryDSN: cfg.PrimaryDbAddr,
		MaxConns:   cfg.MaxDbCons,
		MinConns:   cfg.MinDbCons,
	}
	ctx := context.Background()
	db, closer, err := database.New(ctx, logger, dbConfig)
	if err != nil {
		logger.Fatal("failed_to_init_db", zap.Error(err))
	}
	defer closer()
	logger.Info("db_initialized_successfully")

	if err := database.RunMigrations(logger, cfg.PrimaryDbAddr); err != nil {
		logger.Fatal("failed_to_run_migrations", zap.Error(err))
	}

	accountRepo := repositories.NewAccountRepository(db)
	consentRepo := repositories.NewConsentRepository(db)

	start := time.Now()
	fixture := make(map[string][]provider.RawTransaction)
	accountsSeeded := 0

	for u := 0; u < *noOfUsers; u++ {
		userID := uuid.New()

		token := fmt.Sprintf("demo-token-%s", uuid.NewString())
		sealed, err := utils.EncryptAES([]byte(token), key)
		if err != nil {
			logger.Fatal("failed_to_seal_consent_token", zap.Error(err))
		}
		expires := time.Now().UTC().Add(90 * 24 * time.Hour)
		if err := consentRepo.Create(ctx, models.Consent{
			ID:                uuid.New(),
			UserID:            userID,
			ProviderConsentID: fmt.Sprintf("consent-%d", u),
			Status:            pkg.ConsentStatusActive,
			EncryptedToken:    sealed,
			ExpiresAt:         &expires,
		}); err != nil {
			logger.Fatal("failed_to_seed_consent", zap.Error(err))
		}

		for a := 0; a < *accountsPerUser; a++ {
			accountID := uuid.New()
			providerAccountID := fmt.Sprintf("mock-acc-%d-%d", u, a)
			if err := accountRepo.Create(ctx, models.Account{
				ID:                accountID,
				UserID:            userID,
				ProviderAccountID: providerAccountID,
				DisplayName:       fmt.Sprintf("Demo Checking %d", a+1),
			}); err != nil {
				logger.Fatal("failed_to_seed_account", zap.Error(err))
			}
			fixture[providerAccountID] = mockTransactions(providerAccountID, *txPerAccount, *lookbackDays)
			accountsSeeded++
		}
		logger.Info("seeded_user",
			zap.String("user_id", userID.String()),
			zap.Int("accounts", *accountsPerUser))
	}

	raw, err := json.MarshalIndent(fixture, "", "  ")
	if err != nil {
		logger.Fatal("failed_to_marshal_fixture", zap.Error(err))
	}
	if err := os.WriteFile(*fixtureOut, raw, 0o644); err != nil {
		logger.Fatal("failed_to_write_fixture", zap.Error(err))
	}

	logger.Info("seeding_completed",
		zap.Duration("duration", time.Since(start)),
		zap.Int("users", *noOfUsers),
		zap.Int("accounts", accountsSeeded),
		zap.String("fixture", *fixtureOut))
}

var demoMerchants = []string{
	"COFFEE ROASTERS #214", "GROCERY MART", "RIDE SHARE TRIP",
	"STREAMING SVC", "UTILITY CO PAYMENT", "PAYROLL DEPOSIT",
	"ATM WITHDRAWAL", "BOOKSTORE ONLINE",
}

// mockTransactions builds a deterministic-looking batch spread over the
// lookback window, oldest first.
func mockTransactions(providerAccountID string, count, lookbackDays int) []provider.RawTransaction {
	window := time.Duration(lookbackDays) * 24 * time.Hour
	base := time.Now().UTC().Add(-window)
	step := window / time.Duration(count+1)

	transactions := make([]provider.RawTransaction, 0, count)
	for i := 0; i < count; i++ {
		txType := "debit"
		amount := 5 + rand.Float64()*195
		if rand.Intn(10) == 0 {
			txType = "credit"
			amount = 500 + rand.Float64()*2500
		}
		transactions = append(transactions, provider.RawTransaction{
			ID:        fmt.Sprintf("%s-tx-%04d", providerAccountID, i),
			TS:        base.Add(step * time.Duration(i+1)).Format(time.RFC3339),
			Amount:    fmt.Sprintf("%.2f", amount),
			Type:      txType,
			RawDesc:   demoMerchants[rand.Intn(len(demoMerchants))],
			AccountID: providerAccountID,
		})
	}
	return transactions
}
