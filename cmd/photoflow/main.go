package main

import (
	"context"
	"database/sql"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
	_ "modernc.org/sqlite"

	"photoflow/internal/api"
	"photoflow/internal/conflict"
	"photoflow/internal/config"
	"photoflow/internal/domain"
	"photoflow/internal/handlers/webhook"
	"photoflow/internal/metrics"
	"photoflow/internal/netmon"
	"photoflow/internal/persist"
	"photoflow/internal/queue"
	"photoflow/internal/syncer"
	"photoflow/internal/uplink"
)

func main() {
	var (
		cfgPath = flag.String("config", "", "path to YAML config (optional)")
		addr    = flag.String("addr", "", "HTTP bind address (overrides config)")
		dbPath  = flag.String("db", "", "SQLite DB path (overrides config)")
	)
	flag.Parse()

	zerolog.TimeFieldFormat = time.RFC3339
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stdout})

	cfg := config.Default()
	if *cfgPath != "" {
		var err error
		cfg, err = config.Load(*cfgPath)
		if err != nil {
			log.Fatal().Err(err).Msg("load config")
		}
	}
	if *addr != "" {
		cfg.Server.Addr = *addr
	}
	if *dbPath != "" {
		cfg.Storage.DBPath = *dbPath
	}
	if lvl, err := zerolog.ParseLevel(cfg.LogLevel); err == nil {
		zerolog.SetGlobalLevel(lvl)
	}

	dsn := fmt.Sprintf("file:%s?cache=shared&mode=rwc&_pragma=journal_mode(WAL)", cfg.Storage.DBPath)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		log.Fatal().Err(err).Msg("open db")
	}
	defer db.Close()
	db.SetMaxOpenConns(1) // SQLite single writer

	if err := persist.EnsureSchema(db); err != nil {
		log.Fatal().Err(err).Msg("ensure schema")
	}

	store := persist.NewFallback(
		persist.NewSQLiteStore(db),
		persist.NewFileStore(cfg.Storage.FallbackPath),
		log.Logger,
	)
	collector := metrics.NewCollector()

	var monitor netmon.Monitor
	var prober *netmon.Prober
	if cfg.Network.ProbeURL != "" {
		prober = netmon.NewProber(cfg.Network.ProbeURL, cfg.Network.ProbeInterval.Std(), log.Logger)
		monitor = prober
	} else {
		// No probe target configured: assume connectivity.
		monitor = netmon.NewManual(true)
	}

	mgr, err := queue.New(queue.Config{
		MaxSize:           cfg.Queue.MaxSize,
		DefaultMaxRetries: cfg.Queue.DefaultMaxRetries,
		BackoffUnit:       cfg.Queue.BackoffUnit.Std(),
	}, store, monitor, conflict.NewRegistry(), collector, log.Logger)
	if err != nil {
		log.Fatal().Err(err).Msg("start queue manager")
	}

	if cfg.Processors.WebhookURL != "" {
		wh := webhook.New(cfg.Processors.WebhookURL, 30*time.Second)
		for _, t := range cfg.Processors.Types {
			mgr.AddProcessor(domain.ActionType(t), wh)
		}
		log.Info().Str("url", cfg.Processors.WebhookURL).Strs("types", cfg.Processors.Types).Msg("webhook processor registered")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if prober != nil {
		prober.Start(ctx)
	}

	if cfg.Sync.UpstreamURL != "" {
		deliverer := uplink.NewClient(cfg.Sync.UpstreamURL, cfg.Sync.Timeout.Std())
		coord := syncer.New(mgr, deliverer, cfg.Sync.Interval.Std(), cfg.Sync.Cron, collector, log.Logger)
		mgr.SetSyncer(coord)
		if err := coord.Start(ctx); err != nil {
			log.Fatal().Err(err).Msg("start sync coordinator")
		}
		defer coord.Stop()
	} else {
		log.Warn().Msg("no upstream URL configured, sync coordinator disabled")
	}

	srv := &http.Server{Addr: cfg.Server.Addr, Handler: api.NewServer(mgr, collector)}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info().Str("addr", cfg.Server.Addr).Msg("HTTP server starting")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return err
		}
		return nil
	})
	g.Go(func() error {
		c := make(chan os.Signal, 1)
		signal.Notify(c, os.Interrupt, syscall.SIGTERM)
		select {
		case <-gctx.Done():
			return nil
		case sig := <-c:
			log.Info().Str("signal", sig.String()).Msg("shutting down")
		}
		shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancelShutdown()
		_ = srv.Shutdown(shutdownCtx)
		if prober != nil {
			prober.Stop()
		}
		_ = mgr.Close()
		cancel()
		return nil
	})

	if err := g.Wait(); err != nil {
		log.Fatal().Err(err).Msg("server exited")
	}
}
