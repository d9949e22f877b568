// Command server is the process entrypoint: it loads configuration, opens
// the ledger database, wires the exchange client factory, sync
// orchestrator, portfolio service, HTTP server, and cron scheduler, then
// runs until an interrupt signal requests a graceful shutdown.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/angelperezz21/crypto-portfolio/internal/config"
	"github.com/angelperezz21/crypto-portfolio/internal/database"
	"github.com/angelperezz21/crypto-portfolio/internal/domain"
	"github.com/angelperezz21/crypto-portfolio/internal/exchange"
	"github.com/angelperezz21/crypto-portfolio/internal/httpserver"
	"github.com/angelperezz21/crypto-portfolio/internal/portfolio"
	"github.com/angelperezz21/crypto-portfolio/internal/scheduler"
	"github.com/angelperezz21/crypto-portfolio/internal/security"
	"github.com/angelperezz21/crypto-portfolio/internal/store"
	"github.com/angelperezz21/crypto-portfolio/internal/sync"
	"github.com/angelperezz21/crypto-portfolio/pkg/logger"
)

func main() {
	log := logger.New(logger.Config{Level: "info", Pretty: true, Service: "crypto-portfolio"})
	logger.SetGlobalLogger(log)
	log.Info().Msg("starting crypto-portfolio")

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load configuration")
	}
	if cfg.LogLevel != "" {
		log = logger.New(logger.Config{Level: cfg.LogLevel, Pretty: cfg.DevMode, Service: "crypto-portfolio"})
	}

	ledgerDB, err := database.New(database.Config{
		Path:    cfg.DatabasePath,
		Profile: database.ProfileLedger,
		Name:    "ledger",
	})
	if err != nil {
		log.Fatal().Err(err).Msg("failed to open ledger database")
	}
	defer ledgerDB.Close()

	if err := ledgerDB.Migrate(); err != nil {
		log.Fatal().Err(err).Msg("failed to migrate ledger schema")
	}

	box, err := security.NewBox(cfg.EncryptionKey)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialize credential encryption")
	}

	st := store.New(ledgerDB)
	accountID, err := ensureAccount(st, box, log)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to ensure account row")
	}

	orchestrator := sync.New(sync.Config{
		Store: st,
		Box:   box,
		NewClient: func(apiKey, apiSecret string) *exchange.Client {
			return exchange.New(exchange.Config{
				BaseURL:   cfg.ExchangeBaseURL,
				APIKey:    apiKey,
				APISecret: apiSecret,
				Log:       log,
			})
		},
		Log: log,
	})
	registry := sync.NewRegistry()
	syncJob := sync.NewJob(orchestrator, registry, accountID, log)

	portfolioService := portfolio.New(st)
	livePriceProvider := exchange.NewFallbackPriceProvider()

	srv := httpserver.New(httpserver.Config{
		Log:         log,
		Store:       st,
		Portfolio:   portfolioService,
		SyncJob:     syncJob,
		Registry:    registry,
		Box:         box,
		LivePrices:  livePriceProvider,
		AccountID:   accountID,
		Port:        cfg.Port,
		CORSOrigins: cfg.CORSOrigins,
	})

	sched := scheduler.New(log)
	minute := int(cfg.SyncInterval / time.Minute)
	if minute < 5 {
		minute = 5
	}
	if err := sched.AddJob(cronEveryNMinutes(minute), syncJob); err != nil {
		log.Fatal().Err(err).Msg("failed to register sync job")
	}
	sched.Start()
	defer sched.Stop()

	go func() {
		if err := srv.Start(); err != nil {
			log.Error().Err(err).Msg("http server stopped")
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	log.Info().Msg("shutting down")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Error().Err(err).Msg("error during http shutdown")
	}
}

// ensureAccount loads the single configured account, creating it with
// empty encrypted credentials on first run if none exists yet — the
// settings endpoint is expected to populate real credentials afterward.
func ensureAccount(st *store.Store, box *security.Box, log zerolog.Logger) (uuid.UUID, error) {
	const fixedAccountID = "00000000-0000-0000-0000-000000000001"
	id := uuid.MustParse(fixedAccountID)

	if _, err := st.GetAccount(context.Background(), id); err == nil {
		return id, nil
	}

	emptyKey, err := box.EncryptString("")
	if err != nil {
		return uuid.Nil, err
	}
	emptySecret, err := box.EncryptString("")
	if err != nil {
		return uuid.Nil, err
	}

	account := domain.Account{
		ID:                 id,
		DisplayName:        "default",
		EncryptedAPIKey:    emptyKey,
		EncryptedAPISecret: emptySecret,
		SyncStatus:         domain.SyncStatusIdle,
		CreatedAt:          time.Now().UTC(),
	}
	if err := st.CreateAccount(context.Background(), account); err != nil {
		return uuid.Nil, err
	}
	log.Info().Str("account_id", id.String()).Msg("created default account row; populate credentials via PUT /api/settings")
	return id, nil
}

func cronEveryNMinutes(n int) string {
	return "0 */" + itoa(n) + " * * * *"
}

func itoa(n int) string {
	if n == 0 {
		return "0"
	}
	digits := []byte{}
	for n > 0 {
		digits = append([]byte{byte('0' + n%10)}, digits...)
		n /= 10
	}
	return string(digits)
}
