// Copyright 2025 UMH Systems GmbH
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/united-manufacturing-hub/airlink/pkg/api"
	"github.com/united-manufacturing-hub/airlink/pkg/collector"
	"github.com/united-manufacturing-hub/airlink/pkg/config"
	"github.com/united-manufacturing-hub/airlink/pkg/constants"
	"github.com/united-manufacturing-hub/airlink/pkg/env"
	"github.com/united-manufacturing-hub/airlink/pkg/logger"
	"github.com/united-manufacturing-hub/airlink/pkg/metrics"
	"github.com/united-manufacturing-hub/airlink/pkg/monitor"
	"github.com/united-manufacturing-hub/airlink/pkg/sentry"
	"github.com/united-manufacturing-hub/airlink/pkg/storage"
	"github.com/united-manufacturing-hub/airlink/pkg/telemetry"
	"github.com/united-manufacturing-hub/airlink/pkg/transport/cellular"
	"github.com/united-manufacturing-hub/airlink/pkg/transport/starlink"
	"github.com/united-manufacturing-hub/airlink/pkg/version"
)

func main() {
	// Initialize the global logger first thing
	logger.Initialize()

	// Initialize Sentry
	sentry.InitSentry(version.GetAppVersion(), true)

	log := logger.For(logger.ComponentCore)
	log.Infof("Starting airlink %s...", version.GetAppVersion())

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	configPath, _ := env.GetAsString("AIRLINK_CONFIG", false, constants.DefaultConfigPath) //nolint:errcheck
	cfg, err := config.Load(configPath)
	if err != nil {
		sentry.ReportIssuef(sentry.IssueTypeFatal, log, "Failed to load config: %w", err)
		os.Exit(1)
	}

	// Start the metrics server
	metricsServer := metrics.SetupMetricsEndpoint(fmt.Sprintf(":%d", cfg.MetricsPort))
	defer func() {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), constants.DefaultShutdownTimeout)
		defer shutdownCancel()
		if err := metricsServer.Shutdown(shutdownCtx); err != nil {
			sentry.ReportIssuef(sentry.IssueTypeError, log, "Failed to shutdown metrics server: %w", err)
		}
	}()

	if !cfg.Cellular.Enabled && !cfg.Satellite.Enabled {
		log.Warnf("No collector enabled, serving metrics only")
	}

	if cfg.Cellular.Enabled {
		col := collector.New(collector.Config{
			SourceID:         cfg.Cellular.ModuleID,
			Tick:             cfg.Cellular.Tick.AsDuration(),
			FailureThreshold: cfg.Cellular.FailureThreshold,
			Storage: storage.Config{
				Dir:          cfg.CellularDataDir(),
				Prefix:       constants.CellularFilePrefix,
				Header:       telemetry.CellularHeader,
				MaxFileAge:   cfg.Cellular.RotateInterval.AsDuration(),
				MaxFileBytes: cfg.Cellular.MaxFileBytes(),
			},
		}, cellular.NewOpener(cellular.Config{
			Device:    cfg.Cellular.Device,
			BaudRate:  cfg.Cellular.BaudRate,
			ModuleID:  cfg.Cellular.ModuleID,
			ForceMock: cfg.Cellular.ForceMock,
		}))

		teardown := runCollector(ctx, "cellular", col,
			monitor.New("lte-collector", cfg.CellularDataDir()),
			api.Config{Port: cfg.Cellular.Port, Debug: cfg.Debug},
			cfg.Cellular.AutoStart,
			logger.For(logger.ComponentCellularCollector))
		defer teardown()
	}

	if cfg.Satellite.Enabled {
		col := collector.New(collector.Config{
			SourceID:         cfg.Satellite.TerminalID,
			Tick:             cfg.Satellite.Tick.AsDuration(),
			FailureThreshold: cfg.Satellite.FailureThreshold,
			Storage: storage.Config{
				Dir:          cfg.SatelliteDataDir(),
				Prefix:       constants.SatelliteFilePrefix,
				Header:       telemetry.SatelliteHeader,
				MaxFileAge:   cfg.Satellite.RotateInterval.AsDuration(),
				MaxFileBytes: cfg.Satellite.MaxFileBytes(),
			},
		}, starlink.NewOpener(starlink.Config{
			Address:    cfg.Satellite.Address,
			TerminalID: cfg.Satellite.TerminalID,
			ForceMock:  cfg.Satellite.ForceMock,
		}))

		teardown := runCollector(ctx, "satellite", col,
			monitor.New("starlink-collector", cfg.SatelliteDataDir()),
			api.Config{Port: cfg.Satellite.Port, Debug: cfg.Debug},
			cfg.Satellite.AutoStart,
			logger.For(logger.ComponentSatelliteCollector))
		defer teardown()
	}

	<-ctx.Done()
	log.Info("Shutting down...")
}

// runCollector attaches the control API to one collector, optionally begins
// collecting right away, and returns the teardown for a clean process exit.
// Teardown order matters: the API stops taking commands before the collector
// flushes and closes its data file.
func runCollector(ctx context.Context, name string, col *collector.Collector, mon *monitor.Monitor, apiCfg api.Config, autoStart bool, log *zap.SugaredLogger) func() {
	srv := api.NewServer(col, mon, apiCfg)
	srv.Start()

	if autoStart {
		if err := col.Start(ctx); err != nil {
			// The ground station can still start collection manually.
			sentry.ReportIssuef(sentry.IssueTypeWarning, log, "Failed to auto-start %s collection: %w", name, err)
		} else {
			log.Infof("Auto-started %s collection", name)
		}
	}

	return func() {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), constants.DefaultShutdownTimeout)
		defer shutdownCancel()

		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Errorf("Failed to shutdown %s control API: %v", name, err)
		}
		if err := col.Stop(shutdownCtx); err != nil && !errors.Is(err, collector.ErrNotRunning) {
			sentry.ReportIssuef(sentry.IssueTypeError, log, "Failed to stop %s collection: %w", name, err)
		}
	}
}
