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

// Package monitor reports host load and data-partition usage for the health
// endpoint. Every probe degrades gracefully: a metric that cannot be read is
// reported as zero, never as an endpoint failure, because the ground station
// uses the endpoint as a liveness check first and a gauge second.
package monitor

import (
	"context"
	"math"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"
	"go.uber.org/zap"
	"golang.org/x/sys/unix"

	"github.com/united-manufacturing-hub/airlink/pkg/constants"
	"github.com/united-manufacturing-hub/airlink/pkg/logger"
)

// Health states reported in the snapshot.
const (
	StatusHealthy  = "healthy"
	StatusDegraded = "degraded"
)

// Snapshot is the payload of the health endpoint.
type Snapshot struct {
	Status         string  `json:"status"`
	Service        string  `json:"service"`
	CPUPercent     float64 `json:"cpu_percent"`
	MemoryPercent  float64 `json:"memory_percent"`
	DiskFreeBytes  uint64  `json:"disk_free_bytes"`
	DiskTotalBytes uint64  `json:"disk_total_bytes"`
	Timestamp      string  `json:"timestamp"`
}

// Monitor produces health snapshots for one collector service.
type Monitor struct {
	service string
	dataDir string
	log     *zap.SugaredLogger
}

// New creates a monitor reporting under the given service name. dataDir is
// the partition whose free space gates new collection runs.
func New(service, dataDir string) *Monitor {
	return &Monitor{
		service: service,
		dataDir: dataDir,
		log:     logger.For(logger.ComponentMonitor),
	}
}

// Snapshot collects the current host metrics. The first call reports a CPU
// usage of zero; gopsutil derives the percentage from the delta since the
// previous call.
func (m *Monitor) Snapshot(ctx context.Context) Snapshot {
	snap := Snapshot{
		Status:    StatusHealthy,
		Service:   m.service,
		Timestamp: time.Now().UTC().Format(constants.CSVTimestampLayout),
	}

	percents, err := cpu.PercentWithContext(ctx, 0, false)
	if err != nil {
		m.log.Warnf("Failed to read CPU usage: %v", err)
	} else if len(percents) > 0 {
		snap.CPUPercent = round2(percents[0])
	}

	vmStat, err := mem.VirtualMemoryWithContext(ctx)
	if err != nil {
		m.log.Warnf("Failed to read memory usage: %v", err)
	} else {
		snap.MemoryPercent = round2(vmStat.UsedPercent)
	}

	var st unix.Statfs_t
	if err := unix.Statfs(m.dataDir, &st); err != nil {
		m.log.Warnf("Failed to stat data dir %s: %v", m.dataDir, err)
	} else {
		snap.DiskFreeBytes = st.Bavail * uint64(st.Bsize)
		snap.DiskTotalBytes = st.Blocks * uint64(st.Bsize)
		if snap.DiskFreeBytes < constants.MinDiskFreeBytes {
			snap.Status = StatusDegraded
		}
	}

	return snap
}

func round2(f float64) float64 {
	return math.Round(f*100) / 100
}
