package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"upbit-trading-bot/config"
	"upbit-trading-bot/internal/api"
	"upbit-trading-bot/internal/credential"
	"upbit-trading-bot/internal/order"
	"upbit-trading-bot/internal/portfolio"
	"upbit-trading-bot/internal/position"
	"upbit-trading-bot/internal/store"
	"upbit-trading-bot/internal/upbit"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load configuration: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("invalid strategy configuration: %v", err)
	}

	logger := zerolog.New(os.Stdout).With().Timestamp().Logger()
	if cfg.LoggingConfig.Level != "" {
		if level, err := zerolog.ParseLevel(cfg.LoggingConfig.Level); err == nil {
			logger = logger.Level(level)
		}
	}
	if !cfg.LoggingConfig.JSONFormat {
		logger = logger.Output(zerolog.ConsoleWriter{Out: os.Stdout})
	}

	credStore, err := credential.NewStore(cfg.VaultConfig)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to initialize credential store")
	}
	credManager, err := credential.NewManager(cfg.CredentialConfig.Password)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to initialize credential manager")
	}

	accessKey, secretKey, err := resolveExchangeCredentials(credStore, credManager, cfg.UpbitConfig)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to resolve exchange credentials")
	}

	rateLimiter := upbit.NewRateLimiter(cfg.UpbitConfig.MaxRequestsPerSec, cfg.UpbitConfig.MaxRetries)
	client := upbit.NewClient(accessKey, secretKey, cfg.UpbitConfig.BaseURL, rateLimiter, logger.With().Str("component", "upbit_client").Logger())

	db, err := store.NewDB(cfg.DatabaseConfig, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect to database")
	}
	defer db.Close()

	ctx := context.Background()
	if err := db.RunMigrations(ctx); err != nil {
		logger.Fatal().Err(err).Msg("failed to run migrations")
	}

	repo := store.NewRepository(db)
	cache := store.NewCache(cfg.RedisConfig, logger)
	cachedRepo := store.NewCachedRepository(repo, cache)

	positionManager := position.NewManager()
	orderManager := order.NewManager(client, repo, cfg.UpbitConfig.MaxRetries, logger)
	portfolioManager := portfolio.NewManager(cachedRepo, logger)

	hub := api.NewHub(logger)
	go hub.Run()

	eng := newEngine(cfg.StrategyConfig, client, positionManager, orderManager, portfolioManager, hub, logger)

	server := api.NewServer(cfg.ServerConfig, eng, hub, logger)
	go func() {
		if err := server.Start(); err != nil {
			logger.Fatal().Err(err).Msg("monitoring api server failed")
		}
	}()

	markets, err := discoverMarkets(client)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to discover markets")
	}
	logger.Info().Strs("markets", markets).Msg("starting trading engine")

	runCtx, cancel := context.WithCancel(ctx)
	pollInterval := time.Duration(cfg.StrategyConfig.MonitoringIntervalSecs) * time.Second
	go eng.Run(runCtx, markets, pollInterval)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	logger.Info().Msg("shutting down")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("error shutting down monitoring api")
	}
}

// resolveExchangeCredentials loads the encrypted access/secret key pair from
// the credential store, falling back to plaintext config values (and
// persisting them encrypted) the first time the bot runs against a fresh
// store.
func resolveExchangeCredentials(credStore *credential.Store, credManager *credential.Manager, cfg config.UpbitConfig) (string, string, error) {
	const credentialKey = "upbit_primary"

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	blob, getErr := credStore.Get(ctx, credentialKey)
	if getErr == nil {
		if creds, decryptErr := credManager.Decrypt(blob); decryptErr == nil {
			return creds.AccessKey, creds.SecretKey, nil
		} else {
			getErr = decryptErr
		}
	}

	if cfg.AccessKey == "" || cfg.SecretKey == "" {
		return "", "", getErr
	}

	sealed, err := credManager.Encrypt(cfg.AccessKey, cfg.SecretKey)
	if err != nil {
		return "", "", err
	}
	if err := credStore.Put(ctx, credentialKey, sealed); err != nil {
		return cfg.AccessKey, cfg.SecretKey, nil
	}
	return cfg.AccessKey, cfg.SecretKey, nil
}

// discoverMarkets returns every KRW-quoted market the exchange lists, the
// universe the engine polls each tick.
func discoverMarkets(client *upbit.Client) ([]string, error) {
	all, err := client.GetMarkets()
	if err != nil {
		return nil, err
	}

	markets := make([]string, 0, len(all))
	for _, m := range all {
		if strings.HasPrefix(m.Market, "KRW-") {
			markets = append(markets, m.Market)
		}
	}
	return markets, nil
}
