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

package collector

import (
	"errors"
	"fmt"
	"time"

	"github.com/united-manufacturing-hub/airlink/pkg/constants"
	"github.com/united-manufacturing-hub/airlink/pkg/storage"
)

// Collector state constants. The values are the wire format of the status
// endpoint; the ground station tooling matches on them.
const (
	// StateIdle is the initial state and the state after a clean stop.
	StateIdle = "IDLE"
	// StateStarting is the transient state while the transport session and
	// the first data file are being opened.
	StateStarting = "STARTING"
	// StateRunning is the state while the sampling loop persists data.
	StateRunning = "RUNNING"
	// StateStopping is the transient state while the sampling loop drains
	// and files are closed.
	StateStopping = "STOPPING"
	// StateError is the state after the failure threshold was crossed or a
	// file could not be written. The loop keeps sampling so the collector
	// stays observable; recovery is an external stop/start cycle.
	StateError = "ERROR"
)

// Collector event constants.
const (
	EventStart     = "start"
	EventStartDone = "start_done"
	EventStartFail = "start_fail"
	EventStop      = "stop"
	EventStopDone  = "stop_done"
	EventFault     = "fault"
)

var (
	// ErrAlreadyRunning rejects a start command when the collector is not
	// idle. No state is mutated.
	ErrAlreadyRunning = errors.New("collector: already running")

	// ErrNotRunning rejects a stop command when there is no active run.
	// No state is mutated.
	ErrNotRunning = errors.New("collector: not running")
)

// IsActiveState reports whether a run is in progress, including a degraded
// one.
func IsActiveState(state string) bool {
	switch state {
	case StateRunning, StateStopping, StateError:
		return true
	}
	return false
}

// Status is the payload of the status endpoint.
type Status struct {
	State       string  `json:"state"`
	SourceID    string  `json:"source_id"`
	Mode        string  `json:"mode"`
	RunID       string  `json:"run_id,omitempty"`
	CurrentFile string  `json:"current_file,omitempty"`
	FileSizeMB  float64 `json:"file_size_mb"`
	Duration    string  `json:"duration"`
	FileCount   int     `json:"file_count"`
	DataPoints  int64   `json:"data_points"`
	LastUpdate  string  `json:"last_update"`
}

// Config describes one collector instance.
type Config struct {
	// SourceID identifies the device this collector samples. It labels
	// logs, metrics and the status payload.
	SourceID string

	// Tick is the sampling interval. Acquisition is bounded strictly below
	// it so a slow device cannot push the loop off its wall-clock anchor.
	Tick time.Duration

	// FailureThreshold is the number of consecutive acquisition failures
	// after which the collector degrades to the error state.
	FailureThreshold int

	// RecentBuffer bounds the in-memory ring behind the recent-samples
	// endpoint.
	RecentBuffer int

	// StopTimeout bounds how long a stop command waits for the sampling
	// loop to acknowledge termination.
	StopTimeout time.Duration

	// Storage describes the rotated output files.
	Storage storage.Config
}

func (c Config) withDefaults() Config {
	if c.Tick <= 0 {
		c.Tick = time.Second
	}
	if c.FailureThreshold <= 0 {
		c.FailureThreshold = constants.DefaultFailureThreshold
	}
	if c.RecentBuffer <= 0 {
		c.RecentBuffer = constants.DefaultRecentBufferSize
	}
	if c.StopTimeout <= 0 {
		c.StopTimeout = constants.DefaultStopTimeout
	}
	return c
}

// formatDuration renders a running time as HH:MM:SS, the layout the ground
// station shows verbatim.
func formatDuration(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	s := int64(d.Seconds())
	return fmt.Sprintf("%02d:%02d:%02d", s/3600, (s%3600)/60, s%60)
}
