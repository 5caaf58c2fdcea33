package main

import (
	"log"

	"github.com/sirupsen/logrus"

	"vaultcore/internal/eventbus"
	"vaultcore/internal/handlers"
	"vaultcore/internal/policy"
	"vaultcore/internal/routes"
	"vaultcore/internal/strategy"
	"vaultcore/pkg/chain"
	"vaultcore/pkg/keystore"
	"vaultcore/pkg/vaultconfig"
	"vaultcore/pkg/vaultdb"
	"vaultcore/pkg/wallet"
)

func main() {
	logger := logrus.New()
	logger.SetFormatter(&logrus.JSONFormatter{})

	cfg, err := vaultconfig.Load()
	if err != nil {
		log.Fatal("Failed to load configuration:", err)
	}

	db, err := vaultdb.Open(cfg.DatabaseURL)
	if err != nil {
		log.Fatal("Failed to connect to database:", err)
	}
	if err := vaultdb.RunMigrations(db, cfg.MigrationsPath); err != nil {
		log.Fatal("Failed to run migrations:", err)
	}

	store, err := keystore.Open(db, cfg)
	if err != nil {
		log.Fatal("Failed to open key store:", err)
	}

	chainClient, err := chain.New(cfg.ChainEndpoints, cfg.ChainID, cfg.ChainCallTimeout, cfg.ReceiptTimeout, cfg.FeePercentile)
	if err != nil {
		log.Fatal("Failed to connect to chain endpoints:", err)
	}

	walletMgr := wallet.New(store, chainClient, cfg, logger)

	strategyMgr, err := strategy.New(db, walletMgr, logger)
	if err != nil {
		log.Fatal("Failed to initialize strategy manager:", err)
	}

	policyEngine, err := policy.New(db, cfg)
	if err != nil {
		log.Fatal("Failed to initialize policy engine:", err)
	}

	bus, err := eventbus.Connect(cfg.AMQPUrl, cfg.AMQPExchange, logger)
	if err != nil {
		log.Fatal("Failed to connect event bus:", err)
	}
	defer bus.Close()

	deps := &handlers.Deps{
		Wallet:   walletMgr,
		Strategy: strategyMgr,
		Policy:   policyEngine,
		Events:   bus,
		Logger:   logger,
	}

	r := routes.SetupRouter(deps, cfg)

	if err := r.Run(cfg.HTTPAddr); err != nil {
		log.Fatal("Failed to start server:", err)
	}
}
