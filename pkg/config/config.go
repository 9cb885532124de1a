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

// Package config loads the process configuration from an optional YAML file
// and applies environment variable overrides.
//
// Order of precedence (highest to lowest):
//  1. Environment variables (AIRLINK_*)
//  2. Config file values
//  3. Built-in defaults
//
// An unset environment variable keeps the current value, so the file and the
// defaults shine through. Overrides are not written back to the file.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/united-manufacturing-hub/airlink/pkg/constants"
	"github.com/united-manufacturing-hub/airlink/pkg/env"
	"github.com/united-manufacturing-hub/airlink/pkg/logger"
)

// Config is the full configuration of the collector process.
type Config struct {
	DataDir     string `yaml:"dataDir"`     // root of the per-collector data directories
	MetricsPort int    `yaml:"metricsPort"` // port to expose metrics on
	Debug       bool   `yaml:"debug"`       // verbose request logging and gin debug mode

	Cellular  CellularConfig  `yaml:"cellular"`
	Satellite SatelliteConfig `yaml:"satellite"`
}

// CollectorConfig is the part of a collector's configuration shared by both
// collector types.
type CollectorConfig struct {
	Enabled          bool     `yaml:"enabled"`          // whether this collector is started at all
	AutoStart        bool     `yaml:"autoStart"`        // begin collecting at boot instead of waiting for a start command
	Port             int      `yaml:"port"`             // control API listen port
	Tick             Duration `yaml:"tick"`             // sampling interval
	RotateInterval   Duration `yaml:"rotateInterval"`   // data file age threshold
	MaxFileSizeMB    int      `yaml:"maxFileSizeMB"`    // data file size threshold
	FailureThreshold int      `yaml:"failureThreshold"` // consecutive failures before the error state
	ForceMock        bool     `yaml:"forceMock"`        // skip the hardware probe, collect mock data
}

// CellularConfig configures the modem collector.
type CellularConfig struct {
	CollectorConfig `yaml:",inline"`

	Device   string `yaml:"device"`   // serial device of the modem's AT port
	BaudRate int    `yaml:"baudRate"` // serial line speed
	ModuleID string `yaml:"moduleId"` // fallback id until the modem reports its IMEI
}

// SatelliteConfig configures the dish collector.
type SatelliteConfig struct {
	CollectorConfig `yaml:",inline"`

	Address    string `yaml:"address"`    // dish gRPC endpoint, host:port
	TerminalID string `yaml:"terminalId"` // fallback id until the dish reports its own
}

// Duration is a time.Duration that unmarshals from either a Go duration
// string ("5s", "600ms") or a bare integer second count, matching how the
// AIRLINK_* environment variables are parsed.
type Duration time.Duration

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var seconds int64
	if err := value.Decode(&seconds); err == nil {
		*d = Duration(time.Duration(seconds) * time.Second)
		return nil
	}

	var text string
	if err := value.Decode(&text); err != nil {
		return err
	}

	parsed, err := time.ParseDuration(text)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", text, err)
	}

	*d = Duration(parsed)

	return nil
}

// AsDuration returns the value as a time.Duration.
func (d Duration) AsDuration() time.Duration { return time.Duration(d) }

// Default returns the built-in configuration: both collectors enabled on
// their usual ports, writing under the default data dir.
func Default() Config {
	return Config{
		DataDir:     constants.DefaultDataDir,
		MetricsPort: constants.DefaultMetricsPort,
		Cellular: CellularConfig{
			CollectorConfig: CollectorConfig{
				Enabled:          true,
				Port:             constants.DefaultCellularPort,
				Tick:             Duration(constants.DefaultCellularTick),
				RotateInterval:   Duration(constants.DefaultRotationMaxAge),
				MaxFileSizeMB:    int(constants.DefaultRotationMaxBytes / (1024 * 1024)),
				FailureThreshold: constants.DefaultFailureThreshold,
			},
			Device:   constants.DefaultSerialDevice,
			BaudRate: constants.DefaultSerialBaudRate,
			ModuleID: constants.DefaultModuleID,
		},
		Satellite: SatelliteConfig{
			CollectorConfig: CollectorConfig{
				Enabled:          true,
				Port:             constants.DefaultSatellitePort,
				Tick:             Duration(constants.DefaultSatelliteTick),
				RotateInterval:   Duration(constants.DefaultRotationMaxAge),
				MaxFileSizeMB:    int(constants.DefaultRotationMaxBytes / (1024 * 1024)),
				FailureThreshold: constants.DefaultFailureThreshold,
			},
			Address:    constants.DefaultDishAddress,
			TerminalID: constants.DefaultTerminalID,
		},
	}
}

// Load reads the config file at path, fills defaults and applies environment
// overrides. A missing file is not an error; the defaults plus the
// environment cover the common deployment where no file is shipped.
func Load(path string) (Config, error) {
	log := logger.For(logger.ComponentConfig)
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case errors.Is(err, os.ErrNotExist):
			log.Infof("No config file at %s, using defaults and environment", path)
		case err != nil:
			return Config{}, fmt.Errorf("failed to read config file: %w", err)
		default:
			if err := yaml.Unmarshal(data, &cfg); err != nil {
				return Config{}, fmt.Errorf("failed to parse config file: %w", err)
			}
			log.Infof("Loaded config from %s", path)
		}
	}

	applyEnvOverrides(&cfg)

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func applyEnvOverrides(cfg *Config) {
	cfg.DataDir, _ = env.GetAsString("AIRLINK_DATA_DIR", false, cfg.DataDir)          //nolint:errcheck
	cfg.MetricsPort, _ = env.GetAsInt("AIRLINK_METRICS_PORT", false, cfg.MetricsPort) //nolint:errcheck
	cfg.Debug, _ = env.GetAsBool("AIRLINK_DEBUG", false, cfg.Debug)                   //nolint:errcheck

	applyCollectorOverrides("AIRLINK_CELLULAR", &cfg.Cellular.CollectorConfig)
	cfg.Cellular.Device, _ = env.GetAsString("AIRLINK_CELLULAR_DEVICE", false, cfg.Cellular.Device)        //nolint:errcheck
	cfg.Cellular.BaudRate, _ = env.GetAsInt("AIRLINK_CELLULAR_BAUD_RATE", false, cfg.Cellular.BaudRate)    //nolint:errcheck
	cfg.Cellular.ModuleID, _ = env.GetAsString("AIRLINK_CELLULAR_MODULE_ID", false, cfg.Cellular.ModuleID) //nolint:errcheck

	applyCollectorOverrides("AIRLINK_SATELLITE", &cfg.Satellite.CollectorConfig)
	cfg.Satellite.Address, _ = env.GetAsString("AIRLINK_SATELLITE_ADDRESS", false, cfg.Satellite.Address)           //nolint:errcheck
	cfg.Satellite.TerminalID, _ = env.GetAsString("AIRLINK_SATELLITE_TERMINAL_ID", false, cfg.Satellite.TerminalID) //nolint:errcheck
}

func applyCollectorOverrides(prefix string, c *CollectorConfig) {
	c.Enabled, _ = env.GetAsBool(prefix+"_ENABLED", false, c.Enabled)        //nolint:errcheck
	c.AutoStart, _ = env.GetAsBool(prefix+"_AUTO_START", false, c.AutoStart) //nolint:errcheck
	c.Port, _ = env.GetAsInt(prefix+"_PORT", false, c.Port)                  //nolint:errcheck
	c.ForceMock, _ = env.GetAsBool(prefix+"_FORCE_MOCK", false, c.ForceMock) //nolint:errcheck

	tick, _ := env.GetAsDuration(prefix+"_TICK", false, c.Tick.AsDuration()) //nolint:errcheck
	c.Tick = Duration(tick)
}

// Validate rejects configurations the collectors cannot run with.
func (c Config) Validate() error {
	if c.DataDir == "" {
		return errors.New("dataDir is required")
	}

	if err := c.Cellular.validate("cellular"); err != nil {
		return err
	}
	if err := c.Satellite.validate("satellite"); err != nil {
		return err
	}

	if c.Cellular.Enabled && c.Satellite.Enabled && c.Cellular.Port == c.Satellite.Port {
		return fmt.Errorf("cellular and satellite cannot share port %d", c.Cellular.Port)
	}

	return nil
}

func (c CollectorConfig) validate(name string) error {
	if !c.Enabled {
		return nil
	}

	if c.Port < 1 || c.Port > 65535 {
		return fmt.Errorf("%s: port %d is out of range", name, c.Port)
	}
	if c.Tick.AsDuration() <= 0 {
		return fmt.Errorf("%s: tick must be positive", name)
	}
	if c.RotateInterval.AsDuration() <= 0 {
		return fmt.Errorf("%s: rotateInterval must be positive", name)
	}
	if c.MaxFileSizeMB <= 0 {
		return fmt.Errorf("%s: maxFileSizeMB must be positive", name)
	}
	if c.FailureThreshold <= 0 {
		return fmt.Errorf("%s: failureThreshold must be positive", name)
	}

	return nil
}

// MaxFileBytes returns the rotation size threshold in bytes.
func (c CollectorConfig) MaxFileBytes() int64 {
	return int64(c.MaxFileSizeMB) * 1024 * 1024
}

// CellularDataDir is the directory the cellular collector writes into. Each
// collector owns its own directory so the advisory locks never collide.
func (c Config) CellularDataDir() string {
	return filepath.Join(c.DataDir, constants.CellularFilePrefix)
}

// SatelliteDataDir is the directory the satellite collector writes into.
func (c Config) SatelliteDataDir() string {
	return filepath.Join(c.DataDir, constants.SatelliteFilePrefix)
}
