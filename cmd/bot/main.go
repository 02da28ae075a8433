package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"vietqr_bot/internal/config"
	"vietqr_bot/internal/conversation"
	"vietqr_bot/internal/dispatch"
	"vietqr_bot/internal/domain"
	"vietqr_bot/internal/feature/group"
	"vietqr_bot/internal/feature/owner"
	"vietqr_bot/internal/feature/user"
	"vietqr_bot/internal/health"
	"vietqr_bot/internal/logging"
	"vietqr_bot/internal/render"
	"vietqr_bot/internal/secret"
	"vietqr_bot/internal/store"
	"vietqr_bot/internal/telegram"
)

const (
	mongoConnectTimeout    = 10 * time.Second
	mongoIndexTimeout      = 5 * time.Second
	mongoDisconnectTimeout = 5 * time.Second
	ownerBootstrapTimeout  = 5 * time.Second
	shutdownTimeout        = 10 * time.Second
)

var processStart = time.Now()

var errTelegramStopped = errors.New("telegram polling stopped before shutdown")

func main() {
	configOnly := flag.Bool("config-only", false, "load and print configuration then exit")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		logging.Error("configuration error", logging.Fields{"error": err})
		fmt.Fprintf(os.Stderr, "configuration error: %v\n", err)
		os.Exit(1)
	}

	logger, err := logging.Setup(cfg)
	if err != nil {
		logging.Error("logger setup error", logging.Fields{"error": err})
		fmt.Fprintf(os.Stderr, "logger setup error: %v\n", err)
		os.Exit(1)
	}

	if *configOnly {
		logging.Info("configuration check", logging.Fields{"event": "config_only"})
		fmt.Println("configuration check: ok")
		fmt.Println(config.FormatRedacted(cfg))
		return
	}

	logger.WithFields(logging.Fields{
		"event":    "startup",
		"mongo_db": cfg.MongoDB,
	}).Info("configuration loaded")

	cipher, err := secret.New(cfg.EncryptionKey)
	if err != nil {
		fatal(logger, "encryption key error", err)
	}

	connectCtx, cancel := context.WithTimeout(context.Background(), mongoConnectTimeout)
	mongoManager, err := store.NewManager(connectCtx, cfg)
	cancel()
	if err != nil {
		fatal(logger, "mongo connection error", err)
	}

	logger.WithField("event", "mongo_connect").Info("connected to mongo")

	indexCtx, cancelIndexes := context.WithTimeout(context.Background(), mongoIndexTimeout)
	err = mongoManager.EnsureBaseIndexes(indexCtx)
	cancelIndexes()
	if err != nil {
		fatal(logger, "mongo index setup error", err)
	}

	logger.WithField("event", "mongo_indexes").Info("ensured base mongo indexes")

	ownerCtx, cancelOwner := context.WithTimeout(context.Background(), ownerBootstrapTimeout)
	_, err = owner.NewRegistrar(mongoManager.Users(), logger).EnsureOwner(ownerCtx, cfg.BotOwnerID)
	cancelOwner()
	if err != nil {
		fatal(logger, "owner bootstrap error", err)
	}

	accounts := store.NewAccountStore(mongoManager.Accounts(), cipher)
	groups := store.NewGroupStore(mongoManager.Groups(), cipher)
	statsProvider := store.NewStatsProvider(mongoManager.Users(), mongoManager.Accounts(), mongoManager.Groups())

	tgClient, err := telegram.NewClient(cfg, logger)
	if err != nil {
		fatal(logger, "telegram client setup error", err)
	}

	gateway := telegram.NewGateway(tgClient.API(), render.New(), logger)
	engine, err := conversation.NewEngine(accounts, groups, gateway,
		conversation.WithLogger(logger),
		conversation.WithIdleTimeout(cfg.FlowIdleTimeout),
		conversation.WithLayout(dispatch.Layout{
			BackgroundPath: cfg.QRBackground,
			X:              cfg.QRPanelX,
			Y:              cfg.QRPanelY,
			Size:           cfg.QRSize,
		}),
	)
	if err != nil {
		fatal(logger, "conversation engine setup error", err)
	}

	router, err := telegram.NewRouter(tgClient.API(), engine, accounts, groups,
		telegram.WithRouterLogger(logger),
		telegram.WithUserRegistrar(user.NewRegistrar(mongoManager.Users(), logger)),
		telegram.WithGroupRegistrar(group.NewRegistrar(groups, logger)),
		telegram.WithRoleSource(domain.NewUserRepository(mongoManager.Users())),
		telegram.WithStatsSource(statsProvider),
		telegram.WithDebugPayload(cfg.DebugPayload),
	)
	if err != nil {
		fatal(logger, "telegram router setup error", err)
	}
	tgClient.Route(router)

	logger.WithField("event", "telegram_ready").Info("telegram client initialized")

	janitor, err := conversation.NewJanitor(engine, telegram.NewExpiryNotifier(tgClient.API()), logger)
	if err != nil {
		fatal(logger, "flow janitor setup error", err)
	}
	if err := janitor.Start(); err != nil {
		fatal(logger, "flow janitor start error", err)
	}

	healthServer := health.NewServer(cfg.HTTPPort, mongoManager, logger,
		health.WithStats(statsProvider),
		health.WithFlowGauge(engine),
		health.WithProcessStart(processStart),
	)

	signalCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	g, runCtx := errgroup.WithContext(signalCtx)

	g.Go(func() error {
		tgClient.Start(runCtx)
		if runCtx.Err() == nil {
			logger.WithField("event", "telegram_stopped_early").Warn("telegram client stopped before shutdown signal")
			return errTelegramStopped
		}
		return nil
	})

	g.Go(healthServer.ListenAndServe)

	g.Go(func() error {
		<-runCtx.Done()
		if signalCtx.Err() != nil {
			logger.WithField("event", "shutdown_signal").Info("received termination signal, shutting down")
		}

		shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancelShutdown()

		if err := healthServer.Shutdown(shutdownCtx); err != nil {
			logger.WithError(err).Error("health server shutdown error")
		}
		select {
		case <-janitor.Stop().Done():
		case <-shutdownCtx.Done():
			logger.WithField("event", "janitor_shutdown_timeout").Warn("timed out waiting for flow sweep to finish")
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		logger.WithError(err).Error("service error")
	}

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), mongoDisconnectTimeout)
	if err := mongoManager.Close(shutdownCtx); err != nil {
		logger.WithError(err).Error("mongo disconnect error")
	} else {
		logger.WithField("event", "mongo_disconnect").Info("mongo client disconnected")
	}
	cancelShutdown()

	logger.WithFields(logging.Fields{
		"event":        "shutdown_complete",
		"active_flows": engine.ActiveFlows(),
	}).Info("shutdown complete")
}

func fatal(logger *logrus.Entry, msg string, err error) {
	logger.WithError(err).Error(msg)
	fmt.Fprintf(os.Stderr, "%s: %v\n", msg, err)
	os.Exit(1)
}
