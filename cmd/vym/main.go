package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"

	"github.com/LIT-Protocol/morphomax/internal/abilities"
	"github.com/LIT-Protocol/morphomax/internal/chain"
	"github.com/LIT-Protocol/morphomax/internal/config"
	"github.com/LIT-Protocol/morphomax/internal/datafetcher"
	"github.com/LIT-Protocol/morphomax/internal/jobs"
	"github.com/LIT-Protocol/morphomax/internal/logger"
	"github.com/LIT-Protocol/morphomax/internal/monitor"
	"github.com/LIT-Protocol/morphomax/internal/permissions"
	"github.com/LIT-Protocol/morphomax/internal/scheduler"
	"github.com/LIT-Protocol/morphomax/internal/state"
	"github.com/LIT-Protocol/morphomax/internal/web"
)

// main is the entry point for the yield scheduler service.
func main() {
	// --- 1. Initialization Phase ---
	if err := godotenv.Load(); err != nil {
		log.Warn().Msg("Warning: .env file not found. Relying on OS environment variables.")
	}

	if err := config.LoadConfig(); err != nil {
		log.Fatal().Err(err).Msg("Failed to load configuration")
	}

	logger.Initialize(os.Getenv("LOG_LEVEL"))
	log.Info().Msg("Yield scheduler starting...")

	dbCfg := state.DBConfig{
		Host: os.Getenv("DB_HOST"), Port: mustAtoi(os.Getenv("DB_PORT"), 5432),
		User: os.Getenv("DB_USER"), Password: os.Getenv("DB_PASSWORD"),
		DBName: os.Getenv("DB_NAME"), SSLMode: os.Getenv("DB_SSLMODE"),
	}
	if err := state.InitDB(dbCfg); err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize database")
	}
	defer state.CloseDB()
	if err := state.EnsureSchema(); err != nil {
		log.Fatal().Err(err).Msg("Failed to ensure database schema")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// --- 2. Shared Clients ---
	chainClient := chain.NewClient(config.ChainRPCURL)
	defer chainClient.Close()

	balanceMonitor, err := monitor.NewBalanceMonitor(monitor.Config{
		Client:           chainClient,
		DepositAsset:     config.USDCAddress,
		MulticallAddress: config.MulticallAddress,
		Factories:        config.VaultFactoryAddresses,
		FromBlock:        config.VaultDiscoveryFromBlock,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create balance monitor")
	}
	if err := balanceMonitor.Start(ctx); err != nil {
		log.Fatal().Err(err).Msg("Failed to start balance monitor")
	}
	defer balanceMonitor.Stop()

	morphoClient, err := datafetcher.NewMorphoClient(config.MorphoAPIURL)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create Morpho API client")
	}

	permissionOracle, err := permissions.NewOracle(chainClient, config.DelegationRegistryAddress, config.AppID)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create permission oracle")
	}

	relayClient, err := abilities.NewRelayClient(config.AbilityRelayURL, config.AbilityRelayAPIKey)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create ability relay client")
	}

	executor, err := abilities.NewExecutor(abilities.ExecutorConfig{
		Relay:              relayClient,
		ChainClient:        chainClient,
		ChainName:          config.ChainName,
		ChainRPCURL:        config.ChainRPCURL,
		Confirmations:      config.DefaultTxConfirmations,
		GasSponsor:         config.GasSponsor,
		GasSponsorAPIKey:   config.GasSponsorAPIKey,
		GasSponsorPolicyID: config.GasSponsorPolicyID,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create ability executor")
	}

	// --- 3. Job Manager and Optimizer ---
	jobStore := state.JobStore{}
	swapStore := state.SwapStore{}

	manager, err := jobs.NewManager(jobs.ManagerConfig{
		JobStore:    jobStore,
		SwapStore:   swapStore,
		Oracle:      balanceMonitor,
		Ranker:      morphoClient,
		Permissions: permissionOracle,
		Executor:    executor,
		AppID:       config.AppID,
		USDCAddress: config.USDCAddress,
		ChainID:     config.ChainID,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create job manager")
	}

	optimizer, err := jobs.NewOptimizer(jobs.OptimizerConfig{
		JobStore:                       jobStore,
		SwapStore:                      swapStore,
		Oracle:                         balanceMonitor,
		Ranker:                         morphoClient,
		Permissions:                    permissionOracle,
		Executor:                       executor,
		USDCAddress:                    config.USDCAddress,
		ChainID:                        config.ChainID,
		MinimumBalance:                 config.MinimumUSDCBalance,
		MinimumYieldImprovementPercent: config.MinimumYieldImprovementPercent,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create optimizer")
	}

	// --- 4. Web Server ---
	webPort := os.Getenv("WEB_PORT")
	if webPort == "" {
		webPort = "8080"
	}
	webServer, err := web.NewWebServer(webPort, manager)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create web server")
	}
	go func() {
		if err := webServer.Start(); err != nil {
			log.Error().Err(err).Msg("Web server stopped")
		}
	}()

	// --- 5. Scheduler Worker ---
	worker, err := scheduler.NewWorker(scheduler.WorkerConfig{
		Store:        jobStore,
		Handler:      optimizer,
		PollInterval: config.WorkerPollInterval,
		LockTimeout:  config.JobLockTimeout,
		RetryDelay:   config.FailureRetryDelay,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create scheduler worker")
	}

	if err := worker.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
		log.Error().Err(err).Msg("Scheduler worker exited")
	}
	log.Info().Msg("Yield scheduler stopped.")
}

func mustAtoi(s string, fallback int) int {
	if s == "" {
		return fallback
	}
	v, err := strconv.Atoi(s)
	if err != nil {
		return fallback
	}
	return v
}
