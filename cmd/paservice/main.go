/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/friendsincode/pa_broadcast_core/internal/audit"
	"github.com/friendsincode/pa_broadcast_core/internal/broadcast"
	"github.com/friendsincode/pa_broadcast_core/internal/config"
	"github.com/friendsincode/pa_broadcast_core/internal/db"
	"github.com/friendsincode/pa_broadcast_core/internal/events"
	"github.com/friendsincode/pa_broadcast_core/internal/httpapi"
	"github.com/friendsincode/pa_broadcast_core/internal/logging"
	"github.com/friendsincode/pa_broadcast_core/internal/playback"
	"github.com/friendsincode/pa_broadcast_core/internal/scheduler"
	"github.com/friendsincode/pa_broadcast_core/internal/state"
	"github.com/friendsincode/pa_broadcast_core/internal/store"
	"github.com/friendsincode/pa_broadcast_core/internal/telemetry"
	"github.com/friendsincode/pa_broadcast_core/internal/tts"
	"github.com/friendsincode/pa_broadcast_core/internal/version"
	"github.com/friendsincode/pa_broadcast_core/internal/zones"
)

var rootCmd = &cobra.Command{
	Use:   "paservice",
	Short: "PA broadcast controller - priority-driven public address appliance core",
	Long:  "paservice runs the broadcast controller, scheduler loop, and HTTP request surface for a zoned public-address system.",
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the PA broadcast controller server",
	RunE:  runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	logger := logging.Setup(cfg.Environment)
	for _, warn := range cfg.LegacyEnvWarnings {
		logger.Warn().Msg(warn)
	}

	logger.Info().Str("version", version.Version).Msg("PA broadcast controller starting")

	ctx := context.Background()

	tracerProvider, err := telemetry.InitTracer(ctx, telemetry.TracerConfig{
		ServiceName:    "pa-broadcast-core",
		ServiceVersion: version.Version,
		OTLPEndpoint:   cfg.OTLPEndpoint,
		Enabled:        cfg.TracingEnabled,
		SampleRate:     cfg.TracingSampleRate,
	}, logger)
	if err != nil {
		return fmt.Errorf("initialize tracer: %w", err)
	}
	defer func() {
		if err := tracerProvider.Shutdown(context.Background()); err != nil {
			logger.Error().Err(err).Msg("failed to shutdown tracer provider")
		}
	}()

	gormDB, err := db.Connect(cfg)
	if err != nil {
		return fmt.Errorf("connect database: %w", err)
	}
	defer func() {
		if err := db.Close(gormDB); err != nil {
			logger.Error().Err(err).Msg("failed to close database")
		}
	}()
	if err := db.Migrate(gormDB); err != nil {
		return fmt.Errorf("migrate database: %w", err)
	}

	resolver, err := zones.Load(cfg.ZoneConfigPath, logger)
	if err != nil {
		logger.Warn().Err(err).Msg("zone config load failed, falling back to default device")
		resolver, err = zones.Parse([]byte("{}"), logger)
		if err != nil {
			return fmt.Errorf("build fallback zone resolver: %w", err)
		}
	}

	synth, err := tts.New(cfg.TTSBinary, cfg.TTSVoiceDir, os.TempDir(), logger)
	if err != nil {
		return fmt.Errorf("initialize tts renderer: %w", err)
	}

	var player playback.Player
	if runtime.GOOS == "windows" {
		player = playback.NewWindows(logger)
	} else {
		player = playback.New("sox", logger)
	}

	docStore := store.New(gormDB)
	bus := events.NewBus()
	publisher := state.New(docStore, bus, logger)

	connMetricsTicker := time.NewTicker(30 * time.Second)
	connMetricsDone := make(chan struct{})
	go func() {
		defer connMetricsTicker.Stop()
		for {
			select {
			case <-connMetricsDone:
				return
			case <-connMetricsTicker.C:
				db.UpdateConnectionMetrics(gormDB)
			}
		}
	}()
	defer close(connMetricsDone)

	controller := broadcast.New(broadcast.Config{
		AdminUsers:         cfg.AdminUsers,
		ChimePath:          fmt.Sprintf("%s/intro.mp3", cfg.SystemSoundRoot),
		SystemSoundRoot:    cfg.SystemSoundRoot,
		HeartbeatWarnAfter: cfg.HeartbeatWarnAfter,
		HeartbeatKillAfter: cfg.HeartbeatKillAfter,
		SirenRampDuration:  cfg.SirenRampDuration,
	}, resolver, synth, player, docStore, bus, publisher, logger)

	if cfg.RehydrationEnabled {
		pending, err := docStore.PendingTasks(ctx)
		if err != nil {
			logger.Warn().Err(err).Msg("rehydration failed to load pending schedules; continuing in degraded state")
		} else {
			controller.Rehydrate(ctx, pending)
			logger.Info().Int("count", len(pending)).Msg("rehydrated pending schedules")
		}
	}
	publisher.Startup(ctx)

	auditSvc := audit.NewService(gormDB, bus, logger)
	auditCtx, auditCancel := context.WithCancel(ctx)
	go auditSvc.Start(auditCtx)

	updateChecker := version.NewChecker(logger)
	updateChecker.Start(ctx)
	defer updateChecker.Stop()

	schedulerSvc := scheduler.New(controller, docStore, cfg.SchedulerTickInterval, logger)
	schedulerCtx, schedulerCancel := context.WithCancel(ctx)
	go func() {
		if err := schedulerSvc.Run(schedulerCtx); err != nil && err != context.Canceled {
			logger.Warn().Err(err).Msg("scheduler loop exited")
		}
	}()

	api := httpapi.New(controller, []byte(cfg.JWTSigningKey), cfg.AdminUsername, cfg.AdminPasswordHash, cfg.TokenTTL, logger)
	router := httpapi.NewRouter(api, []byte(cfg.JWTSigningKey), logger)

	addr := fmt.Sprintf("%s:%d", cfg.HTTPBind, cfg.HTTPPort)
	httpServer := &http.Server{Addr: addr, Handler: router}

	go func() {
		logger.Info().Str("addr", addr).Msg("HTTP server listening")
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("http server error")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info().Msg("shutting down gracefully...")

	timeoutCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := httpServer.Shutdown(timeoutCtx); err != nil {
		logger.Error().Err(err).Msg("graceful http shutdown failed")
	}
	schedulerCancel()
	auditCancel()

	logger.Info().Msg("PA broadcast controller stopped")
	return nil
}
