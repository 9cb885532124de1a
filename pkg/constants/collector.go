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

package constants

import "time"

// Collector defaults shared by both telemetry sources.
const (
	// DefaultDataDir is where rotated CSV files are written when no
	// directory is configured.
	DefaultDataDir = "/data/airlink"

	// DefaultRotationMaxAge closes the current file once it has been open
	// this long, regardless of size.
	DefaultRotationMaxAge = 600 * time.Second

	// DefaultRotationMaxBytes closes the current file once it has grown
	// past this size. 30 MB keeps single files easy to pull over a
	// narrow air-to-ground link.
	DefaultRotationMaxBytes = 30 * 1024 * 1024

	// DefaultFailureThreshold is the number of consecutive transport
	// errors after which the collector transitions to the error state.
	DefaultFailureThreshold = 5

	// DefaultRecentBufferSize bounds the in-memory ring buffer backing
	// the recent-samples endpoint.
	DefaultRecentBufferSize = 100

	// DefaultStopTimeout bounds how long a stop request waits for the
	// sampling loop to acknowledge termination and the file to close.
	DefaultStopTimeout = 10 * time.Second

	// DefaultShutdownTimeout bounds HTTP server shutdown at process exit.
	DefaultShutdownTimeout = 3 * time.Second

	// DefaultMetricsPort is where the process-wide metrics endpoint listens.
	DefaultMetricsPort = 8080

	// DefaultConfigPath is where the process looks for its config file when
	// AIRLINK_CONFIG does not point elsewhere.
	DefaultConfigPath = "/data/airlink/config.yaml"

	// CurrentSampleTTLFactor scales the tick interval into the lifetime of
	// the cached latest sample: after this many missed ticks the cache is
	// considered stale and on-demand acquisition takes over.
	CurrentSampleTTLFactor = 3

	// MinDiskFreeBytes is the minimum free space in the data directory
	// required to start a collection run.
	MinDiskFreeBytes = 64 * 1024 * 1024

	// DataDirLockFile is the advisory lock file name placed in the data
	// directory so two processes cannot interleave rotations.
	DataDirLockFile = ".airlink.lock"

	// FileTimestampLayout names rotated files from their creation time (UTC).
	FileTimestampLayout = "20060102_150405"

	// CSVTimestampLayout is the per-row timestamp written to data files.
	CSVTimestampLayout = "2006-01-02T15:04:05.000Z07:00"
)

// Cellular (serial AT) defaults.
const (
	// DefaultCellularPort is the control API port of the cellular collector.
	DefaultCellularPort = 8897

	// DefaultCellularTick is the sampling interval of the cellular collector.
	// Quectel modems need a few hundred milliseconds per AT round trip, and
	// seven commands are issued per tick.
	DefaultCellularTick = 5 * time.Second

	// DefaultSerialDevice is the modem's AT port. On the collector hardware
	// the Quectel module enumerates its AT interface as ttyUSB2.
	DefaultSerialDevice = "/dev/ttyUSB2"

	// DefaultSerialBaudRate matches the modem's fixed AT port rate.
	DefaultSerialBaudRate = 115200

	// DefaultATCommandTimeout bounds a single AT command round trip.
	DefaultATCommandTimeout = 1 * time.Second

	// DefaultModuleID identifies the modem when it cannot report its own
	// serial, matching the EC25 naming used across the fleet.
	DefaultModuleID = "EC25-00000000-lte001"

	// CellularFilePrefix is the rotated-file prefix of the cellular source.
	CellularFilePrefix = "lte_module"
)

// Satellite (gRPC-Web) defaults.
const (
	// DefaultSatellitePort is the control API port of the satellite collector.
	DefaultSatellitePort = 8899

	// DefaultSatelliteTick is the sampling interval of the satellite
	// collector. The dish answers diagnostics in well under a second.
	DefaultSatelliteTick = 1 * time.Second

	// DefaultDishAddress is the terminal's fixed LAN address and gRPC-Web port.
	DefaultDishAddress = "192.168.100.1:9201"

	// DefaultDishRequestTimeout bounds one tick's conversation with the dish.
	DefaultDishRequestTimeout = 800 * time.Millisecond

	// DefaultTerminalID identifies the dish until it reports its own id in a
	// diagnostics answer.
	DefaultTerminalID = "ut01000000-00000000-test123"

	// SatelliteFilePrefix is the rotated-file prefix of the satellite source.
	SatelliteFilePrefix = "starlink"
)

// Probe retry policy used while starting a collector.
const (
	// TransportProbeRetries is how often a transport probe is retried with
	// exponential backoff before the collector falls back to mock mode.
	TransportProbeRetries = 3

	// TransportProbeInitialInterval seeds the probe backoff.
	TransportProbeInitialInterval = 200 * time.Millisecond
)

// Application metadata.
const (
	// DefaultAppVersion is the version reported by local development builds.
	// Release builds override it via ldflags.
	DefaultAppVersion = "0.0.0-dev"

	// DefaultDevelopmentEnvironment is the Sentry environment for prerelease builds.
	DefaultDevelopmentEnvironment = "development"

	// DefaultProductionEnvironment is the Sentry environment for release builds.
	DefaultProductionEnvironment = "production"
)
