// Package main is the entry point for the apiary swarm trading daemon.
// It hosts the stigmergic coordination core: a shared environment, a
// population of queen/scout/worker/drone agents, a market gateway (real or
// simulated), an optional trade journal and an HTTP status surface.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/swarmlab/apiary/internal/clients/ibkr"
	"github.com/swarmlab/apiary/internal/clients/sim"
	"github.com/swarmlab/apiary/internal/config"
	"github.com/swarmlab/apiary/internal/domain"
	"github.com/swarmlab/apiary/internal/environment"
	"github.com/swarmlab/apiary/internal/journal"
	"github.com/swarmlab/apiary/internal/scheduler"
	"github.com/swarmlab/apiary/internal/server"
	"github.com/swarmlab/apiary/internal/swarm"
	"github.com/swarmlab/apiary/pkg/logger"
)

func main() {
	// Load configuration first to get log level
	cfg, err := config.Load()
	if err != nil {
		fallbackLog := logger.New(logger.Config{Level: "info", Pretty: true})
		fallbackLog.Fatal().Err(err).Msg("Failed to load configuration")
	}

	log := logger.New(logger.Config{
		Level:  cfg.LogLevel,
		Pretty: cfg.DevMode,
	})
	logger.SetGlobalLogger(log)

	log.Info().
		Strs("symbols", cfg.Symbols).
		Float64("budget", cfg.CapitalBudget).
		Str("gateway", cfg.GatewayMode).
		Msg("Starting apiary")

	// Market gateway: the single external collaborator of the swarm core.
	var gateway domain.MarketGateway
	var stream *ibkr.Stream

	env := environment.New()

	switch cfg.GatewayMode {
	case config.GatewayIBKR:
		client := ibkr.New(ibkr.Config{
			BaseURL: cfg.GatewayBaseURL,
			Timeout: cfg.GatewayTimeout,
		}, log)
		gateway = client
		// Keep prices warm over the websocket; polling works without it.
		wsURL := cfg.GatewayBaseURL + "/ws"
		stream = ibkr.NewStream(wsURL, cfg.Symbols, client, env, log)
		if err := stream.Start(); err != nil {
			log.Warn().Err(err).Msg("Market data stream unavailable, continuing with REST polling")
		}
	default:
		gateway = sim.New(cfg.Symbols, time.Now().UnixNano())
	}

	// Optional trade journal.
	var jnl *journal.Journal
	if cfg.JournalPath != "" {
		jnl, err = journal.New(cfg.JournalPath, log)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to open trade journal")
		}
		defer jnl.Close()
		log.Info().Str("path", cfg.JournalPath).Msg("Trade journal enabled")
	}

	// Swarm orchestrator.
	orch := swarm.New(cfg, env, gateway, log)
	if jnl != nil {
		orch.SetRecorder(jnl)
	}
	if err := orch.Initialize(); err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize swarm")
	}
	if err := orch.Start(); err != nil {
		log.Fatal().Err(err).Msg("Failed to start swarm")
	}

	// Maintenance scheduler: signal pruning, journal checkpoints.
	sched := scheduler.New(log)
	if err := sched.AddJob("@every 1m", &scheduler.PruneJob{Env: env, Log: log}); err != nil {
		log.Fatal().Err(err).Msg("Failed to register prune job")
	}
	if jnl != nil {
		if err := sched.AddJob("@every 15m", &scheduler.CheckpointJob{Journal: jnl}); err != nil {
			log.Fatal().Err(err).Msg("Failed to register checkpoint job")
		}
	}
	sched.Start()

	// HTTP status surface.
	srvCfg := server.Config{
		Log:          log,
		Env:          env,
		Orchestrator: orch,
		Port:         cfg.Port,
		DevMode:      cfg.DevMode,
	}
	if jnl != nil {
		srvCfg.Journal = jnl
	}
	srv := server.New(srvCfg)
	go func() {
		if err := srv.Start(); err != nil {
			log.Error().Err(err).Msg("HTTP server failed")
		}
	}()

	// Block until SIGINT or SIGTERM.
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("Shutting down...")

	sched.Stop()

	if stream != nil {
		stream.Stop()
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Server forced to shutdown")
	}

	// Stop the swarm last so the status API stays readable while agents
	// wind down. The final report is produced unconditionally.
	report := orch.Stop()
	if jnl != nil {
		if err := jnl.RecordReport(context.Background(), report); err != nil {
			log.Error().Err(err).Msg("Failed to journal final report")
		}
	}

	log.Info().Msg("Apiary stopped")
}
