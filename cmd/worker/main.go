// Command worker drives the recurring-transfer strategy scheduler:
// every poll interval it ticks each enabled strategy once, driven
// off a robfig/cron loop the way a periodic settlement job would be.
package main

import (
	"context"
	"log"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"

	"vaultcore/internal/eventbus"
	"vaultcore/internal/models"
	"vaultcore/internal/policy"
	"vaultcore/internal/strategy"
	"vaultcore/internal/vaulterr"
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

	c := cron.New(cron.WithSeconds())
	spec := "@every " + cfg.StrategyPollInterval.String()
	_, err = c.AddFunc(spec, func() {
		tickAllStrategies(context.Background(), strategyMgr, policyEngine, bus, logger)
	})
	if err != nil {
		logger.Fatalf("Failed to schedule strategy tick job: %v", err)
	}

	logger.WithField("interval", cfg.StrategyPollInterval).Info("strategy scheduler started")
	c.Start()

	select {}
}

// tickAllStrategies ticks every enabled strategy once, logging and
// continuing past individual failures so one bad strategy never stalls
// the others.
func tickAllStrategies(ctx context.Context, strategyMgr *strategy.Manager, policyEngine *policy.Engine, bus *eventbus.Publisher, logger *logrus.Logger) {
	strategies, err := strategyMgr.List("")
	if err != nil {
		logger.WithError(err).Error("failed to list strategies")
		return
	}

	for _, s := range strategies {
		if !s.Enabled {
			continue
		}
		label := s.Label
		if err := policyEngine.Enforce("tick_strategy", s.AgentID); err != nil {
			logger.WithField("strategy", label).WithError(err).Warn("strategy tick rate limited")
			continue
		}
		outcome, err := strategyMgr.Tick(ctx, label, time.Now(), false, "")
		_ = policyEngine.RecordEvent("tick_strategy", s.AgentID, statusFor(err), nil, outcome, kindOrEmpty(err))
		if err != nil {
			logger.WithField("strategy", label).WithError(err).Warn("strategy tick failed")
			continue
		}
		logger.WithField("strategy", label).WithField("action", outcome.Action).Info("strategy ticked")
		if bus != nil {
			bus.Publish("strategy.ticked", map[string]any{"label": label, "outcome": outcome})
		}
	}
}

func statusFor(err error) models.EventStatus {
	if err == nil {
		return models.StatusOK
	}
	return models.StatusError
}

func kindOrEmpty(err error) string {
	if err == nil {
		return ""
	}
	return string(vaulterr.KindOf(err))
}
