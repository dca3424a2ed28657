package main

import (
	"context"

	"floaagent/internal/audio"
	"floaagent/internal/chain"
	"floaagent/internal/chat"
	"floaagent/internal/handlers"
	"floaagent/internal/session"
	"floaagent/internal/taskpoll"
	"floaagent/internal/txflow"
	"floaagent/internal/wallet"
	arcadeclient "floaagent/pkg/clients/arcade"
	"floaagent/pkg/config"
	fieldcrypt "floaagent/pkg/crypto"
	"floaagent/pkg/database"
	"floaagent/pkg/logging"
	"floaagent/pkg/monitoring"
	"floaagent/pkg/server"
	"floaagent/pkg/version"
	"time"
)

func main() {
	// Setup logger
	logger := logging.NewLoggerWithService("conductor")

	// Load environment variables
	config.LoadEnv(logger)

	logger.Info("Starting Conductor (Agent Arcade orchestrator)")

	dbURL := config.RequireEnv("DATABASE_URL")
	masterSecret := config.RequireEnv("SESSION_MASTER_SECRET")
	jwtSecret := config.RequireEnv("JWT_SECRET")
	arcadeURL := config.RequireEnv("ARCADE_API_URL")
	walletKey := config.RequireEnv("WALLET_PRIVATE_KEY")
	arcadeContract := config.RequireEnv("ARCADE_CONTRACT")
	paymentToken := config.RequireEnv("PAYMENT_TOKEN_CONTRACT")

	chainID := config.GetEnvInt("CHAIN_ID", 0)
	inviteCode := config.GetEnv("INVITE_CODE", "")
	streamURL := config.GetEnv("CHAT_STREAM_URL", arcadeURL)
	spoolDir := config.GetEnv("AUDIO_SPOOL_DIR", "/var/spool/conductor/audio")
	debounceMs := config.GetEnvInt("WALLET_DISCONNECT_DEBOUNCE_MS", 0)

	// Connect to database
	dbConfig := database.DefaultConfig()
	dbConfig.URL = dbURL
	db := database.MustConnect(dbConfig, logger)
	defer db.Close()

	// Field encryption for tokens at rest
	encryptor, err := fieldcrypt.DeriveFieldEncryptor([]byte(masterSecret), "session-tokens")
	if err != nil {
		logger.WithError(err).Fatal("Failed to derive field encryptor")
	}

	// Chain access
	network := chain.DefaultNetwork()
	if chainID != 0 {
		n, ok := chain.NetworkByChainID(int64(chainID))
		if !ok {
			logger.WithField("chain_id", chainID).Fatal("Unsupported chain id")
		}
		network = n
	}
	chainClient := chain.NewClient(network, logger)

	signer, err := chain.NewLocalKeySigner(walletKey)
	if err != nil {
		logger.WithError(err).Fatal("Invalid wallet private key")
	}

	// Backend client
	arcadeClient := arcadeclient.NewClient(arcadeclient.Config{
		BaseURL: arcadeURL,
		Logger:  logger,
	})

	// Session store, restored from the previous run when still valid
	store := session.NewStore(session.Config{
		Backend:   arcadeClient,
		Logger:    logger,
		DB:        db,
		Encryptor: encryptor,
	})
	store.SetSigner(func(ctx context.Context, message string) (string, error) {
		return signer.SignMessage(message)
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := store.Load(ctx); err != nil {
		logger.WithError(err).Warn("Could not restore previous session")
	}

	// Setup monitoring
	healthChecker := monitoring.NewHealthChecker("conductor", version.Version)
	metricsCollector := monitoring.NewMetricsCollector("conductor", version.Version, version.GitCommit)
	conductorMetrics := handlers.NewConductorMetrics(metricsCollector)

	healthChecker.AddCheck("database", monitoring.DatabaseHealthCheck(db))
	healthChecker.AddCheck("chain_rpc", monitoring.RPCHealthCheck(chainClient.Ping))
	healthChecker.AddCheck("config", monitoring.ConfigurationHealthCheck(map[string]string{
		"DATABASE_URL":   dbURL,
		"ARCADE_API_URL": arcadeURL,
	}))

	// Wallet event bridge
	bridge := wallet.NewBridge(wallet.Config{
		Store:      store,
		Logger:     logger,
		Debounce:   time.Duration(debounceMs) * time.Millisecond,
		InviteCode: inviteCode,
		Notify: func(n wallet.Notification) {
			outcome := "success"
			if n.Err != nil {
				outcome = "failure"
				logger.WithError(n.Err).WithField("address", n.Address).Warn("Authentication notification")
			}
			conductorMetrics.Logins.WithLabelValues(outcome).Inc()
		},
	})
	go bridge.Run(ctx)

	// Transaction flows
	opsService := txflow.NewService(arcadeClient, store, chainClient, signer, txflow.Contracts{
		Arcade:       arcadeContract,
		PaymentToken: paymentToken,
	}, logger)

	// Generation task polling with journaling and outcome metrics
	poller := taskpoll.NewPoller(taskpoll.Config{
		Logger:  logger,
		DB:      db,
		Metrics: metricsCollector,
	})

	// Voice playback
	player, err := audio.NewSpoolPlayer(spoolDir, logger)
	if err != nil {
		logger.WithError(err).Fatal("Failed to set up audio spool")
	}
	queue := audio.NewQueue(player, logger)

	chatConsumer := chat.NewConsumer(chat.Config{
		BaseURL: streamURL,
		Queue:   queue,
		Tokens:  store,
		Logger:  logger,
	})
	defer chatConsumer.Close()

	// Initialize handlers
	handlers.Init(handlers.Deps{
		Logger:        logger,
		Sessions:      store,
		Bridge:        bridge,
		Operations:    opsService,
		Poller:        poller,
		StatusBackend: arcadeClient,
		Tokens:        store,
		Queue:         queue,
		Chat:          chatConsumer,
		LocalSecret:   []byte(jwtSecret),
		Metrics:       conductorMetrics,
	})

	// Setup router with unified monitoring
	router := server.SetupServiceRouter(logger, "conductor", healthChecker, metricsCollector)
	handlers.RegisterRoutes(router)

	// Start server with graceful shutdown
	serverConfig := server.DefaultConfig("conductor", "18090")
	if err := server.Start(serverConfig, router, logger); err != nil {
		logger.WithError(err).Fatal("Server startup failed")
	}
}
