// Command indexer-agent runs the off-chain indexer: receipt ingress, the
// RAV processing loop, and the management API, as one process sharing a
// single Postgres-backed Store (spec.md §5).
package main

import (
	"context"
	"math/big"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
	"go.uber.org/zap"

	"indexer-core/api"
	"indexer-core/core"
	"indexer-core/ingress"
	"indexer-core/pkg/config"
)

func main() {
	_ = godotenv.Load()

	log := logrus.StandardLogger()
	cfg, err := config.LoadFromEnv()
	if err != nil {
		log.WithError(err).Fatal("load configuration")
	}
	configureLogging(log, cfg.Logging.Level)

	zapLog, err := zap.NewProduction()
	if err != nil {
		log.WithError(err).Fatal("build hot-path logger")
	}
	defer zapLog.Sync()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	store, err := core.NewStore(ctx, cfg.Postgres.DSN, cfg.Postgres.MaxConns)
	if err != nil {
		log.WithError(err).Fatal("connect to postgres")
	}
	defer store.Close()

	if _, err := store.Pool.Exec(ctx, core.Schema); err != nil {
		log.WithError(err).Fatal("apply schema")
	}

	network, err := core.Normalize(cfg.Network.ProtocolNetwork)
	if err != nil {
		log.WithError(err).Fatal("normalize protocol network")
	}
	indexer, err := core.ParseAddress(cfg.Network.Indexer)
	if err != nil {
		log.WithError(err).Fatal("parse indexer address")
	}
	clientSigner, err := core.ParseAddress(cfg.ReceiptIngress.ClientSigner)
	if err != nil {
		log.WithError(err).Fatal("parse client signer address")
	}
	senderAddress, err := core.ParseAddress(cfg.Aggregator.SenderAddress)
	if err != nil {
		log.WithError(err).Fatal("parse aggregator sender address")
	}

	chainID, err := network.ChainID()
	if err != nil {
		log.WithError(err).Fatal("derive chain id from protocol network")
	}
	domain := core.NewEIP712Domain(chainID, senderAddress)

	summaryStore := core.NewAllocationSummaryStore(store)
	receiptStore := core.NewReceiptStore(store, summaryStore, clientSigner, domain, log)

	flushPeriod := parseDurationOr(cfg.ReceiptIngress.FlushPeriod, 30*time.Second, log)
	receiptStore.RunFlushLoop(ctx, flushPeriod)
	defer receiptStore.Stop()

	requestTimeout := parseDurationOr(cfg.Aggregator.RequestTimeout, 30*time.Second, log)
	aggregatorClient := core.NewAggregatorClient(cfg.Aggregator.Endpoint, senderAddress, domain,
		requestTimeout, uint64(cfg.Aggregator.MaxRetries))

	redeemer := loggingRedeemer{log: log}
	threshold, ok := new(big.Int).SetString(cfg.RAVLoop.AggregationThreshold, 10)
	if !ok {
		threshold = big.NewInt(0)
	}
	epoch := newEpochClock()
	ravLoop := core.NewRAVLoop(store, summaryStore, aggregatorClient, redeemer, core.RAVLoopConfig{
		Network:          network,
		Indexer:          indexer,
		Threshold:        threshold,
		FinalEpochWindow: uint64(cfg.RAVLoop.FinalEpochWindow),
		MaxBatchSize:     cfg.Aggregator.MaxBatchSize,
		Concurrency:      cfg.RAVLoop.Concurrency,
		CurrentEpoch:     epoch.Current,
	}, log)
	tickPeriod := parseDurationOr(cfg.RAVLoop.TickPeriod, time.Minute, log)
	ravLoop.Run(ctx, tickPeriod)
	defer ravLoop.Stop()

	coolOff := parseDurationOr(cfg.Actions.CoolOff, 10*time.Minute, log)
	actionQueue := core.NewActionQueue(store, coolOff)
	manager := core.NewAllocationManager(store, noRewardsLookup{})
	costModels := core.NewRuleStore(store)
	indexingRules := core.NewRuleStore(store)

	mgmtServer := api.NewServer(cfg.ManagementAPI.ListenAddr, api.Dependencies{
		Store: store, ActionQueue: actionQueue, Manager: manager, Summary: summaryStore,
		CostModels: costModels, IndexingRules: indexingRules, Redeemer: redeemer, Log: log,
	})
	go func() {
		log.WithField("addr", cfg.ManagementAPI.ListenAddr).Info("management api listening")
		if err := mgmtServer.ListenAndServe(); err != nil {
			log.WithError(err).Error("management api stopped")
		}
	}()

	proxy, err := ingress.NewGraphNodeProxy("http://localhost:8000")
	if err != nil {
		log.WithError(err).Fatal("build graph-node proxy")
	}
	ingressServer := ingress.NewServer(cfg.ReceiptIngress.ListenAddr, receiptStore, proxy, network, zapLog)
	go func() {
		log.WithField("addr", cfg.ReceiptIngress.ListenAddr).Info("receipt ingress listening")
		if err := ingressServer.ListenAndServe(); err != nil {
			log.WithError(err).Error("receipt ingress stopped")
		}
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig

	log.Info("shutting down")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer shutdownCancel()
	_ = mgmtServer.Shutdown(shutdownCtx)
	_ = ingressServer.Shutdown(shutdownCtx)
	cancel()
}

func configureLogging(log *logrus.Logger, level string) {
	lvl, err := logrus.ParseLevel(level)
	if err != nil {
		lvl = logrus.InfoLevel
	}
	log.SetLevel(lvl)
}

func parseDurationOr(s string, fallback time.Duration, log *logrus.Logger) time.Duration {
	if s == "" {
		return fallback
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		log.WithError(err).WithField("value", s).Warn("invalid duration, using fallback")
		return fallback
	}
	return d
}

// epochClock is a minimal wall-clock-driven epoch source; production
// deployments wire the real on-chain epoch manager here instead (out of
// scope per spec.md §1).
type epochClock struct{ start time.Time }

func newEpochClock() *epochClock { return &epochClock{start: time.Now()} }

func (e *epochClock) Current() uint64 {
	return uint64(time.Since(e.start) / time.Hour)
}
