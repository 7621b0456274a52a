package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/hamed0406/delayedmailer/internal/app"
	"github.com/hamed0406/delayedmailer/internal/config"
	"github.com/hamed0406/delayedmailer/internal/httpapi"
	apimw "github.com/hamed0406/delayedmailer/internal/httpapi/middleware"
	"github.com/hamed0406/delayedmailer/internal/intake"
	"github.com/hamed0406/delayedmailer/internal/logging"
	"github.com/hamed0406/delayedmailer/internal/scheduler"
)

func main() {
	settings := flag.String("c", "", "settings file (JSON or YAML)")
	flag.Parse()

	cfg, err := config.Load(*settings)
	if err != nil {
		log.Fatal(err)
	}
	if err := cfg.Validate(); err != nil {
		log.Fatal(err)
	}
	logger, err := logging.NewLogger(logging.Options{Dir: cfg.Service.LogDir})
	if err != nil {
		log.Fatal(err)
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	ledger, err := app.OpenLedger(ctx, cfg, logger, true)
	if err != nil {
		logger.Fatal("ledger_open_failed", zap.String("backend", cfg.Ledger.Backend), zap.Error(err))
	}
	defer ledger.Close()

	// Redis expires keys itself; the other ledgers are purged here.
	if p, ok := ledger.(scheduler.Purgeable); ok {
		go scheduler.NewPurger(logger, p, cfg.Service.PurgeInterval).Run(ctx)
	}

	h, err := app.Handler(cfg, ledger, nil, app.Recipients(cfg, nil), os.Stdout, logger)
	if err != nil {
		logger.Fatal("handler_init_failed", zap.Error(err))
	}

	if cfg.Service.NatsURL != "" {
		nc, err := intake.Connect(ctx, logger, cfg.Service.NatsURL)
		if err != nil {
			logger.Fatal("nats_connect_failed", zap.Error(err))
		}
		defer nc.Close()
		sub := intake.NewSubscriber(logger, h, cfg.Service.NatsSubject)
		if err := sub.Start(ctx, nc); err != nil {
			logger.Fatal("nats_subscribe_failed", zap.Error(err))
		}
		defer sub.Stop()
	}

	keys := apimw.Keys{Public: cfg.Service.PublicAPIKeys, Admin: cfg.Service.AdminAPIKeys}
	trusted, err := apimw.ParseTrusted(cfg.Service.TrustedProxies)
	if err != nil {
		logger.Fatal("trusted_proxies_invalid", zap.Error(err))
	}
	api := httpapi.NewServer(logger, h, ledger)
	api.TrustedProxies = trusted
	srv := &http.Server{
		Addr:              cfg.Service.Addr,
		Handler:           api.Router(keys, cfg.Service.Origins, cfg.Service.PublicRPM, cfg.Service.PublicBurst, cfg.Service.AdminRPM, cfg.Service.AdminBurst),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	logger.Info("api_listen",
		zap.String("addr", cfg.Service.Addr),
		zap.String("ledger", cfg.Ledger.Backend),
		zap.String("policy", cfg.DelayedMailer.Policy),
	)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Fatal("api_listen_failed", zap.Error(err))
	}
	logger.Info("api_stopped")
}
