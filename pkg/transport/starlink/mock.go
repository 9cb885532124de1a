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

package starlink

import (
	"context"
	"math/rand/v2"
	"time"

	"github.com/united-manufacturing-hub/airlink/pkg/telemetry"
	"github.com/united-manufacturing-hub/airlink/pkg/transport"
)

// Mock synthesizes dish samples in the value ranges a mid-latitude terminal
// with clear sky reports.
type Mock struct {
	id       string
	clock    transport.Clock
	openedAt time.Time
	closed   bool
}

func newMock(id string, clock transport.Clock) *Mock {
	return &Mock{
		id:       id,
		clock:    clock,
		openedAt: clock.Now(),
	}
}

func (m *Mock) Mode() transport.Mode { return transport.ModeMock }

// AcquireSample never fails; an absent dish must not trip the failure
// threshold.
func (m *Mock) AcquireSample(_ context.Context) (telemetry.Sample, error) {
	if m.closed {
		return nil, transport.ErrClosed
	}

	now := m.clock.Now()
	lat := 37.5665 + (rand.Float64()-0.5)*0.02
	lon := 126.9780 + (rand.Float64()-0.5)*0.02
	alt := 120 + (rand.Float64()-0.5)*10

	return &telemetry.SatelliteSample{
		AcquiredAt:                 now,
		TerminalID:                 m.id,
		State:                      StateConnected,
		UptimeSeconds:              int64(now.Sub(m.openedAt) / time.Second),
		DownlinkThroughputBps:      20_000_000 + rand.Float64()*10_000_000,
		UplinkThroughputBps:        2_500_000 + rand.Float64()*1_000_000,
		PingDropRate:               rand.Float64() * 0.02,
		PingLatencyMs:              30 + rand.Float64()*15,
		SNR:                        7.5 + rand.Float64()*1.5,
		SecondsToFirstNonemptySlot: float64(2 + rand.IntN(11)),
		AzimuthDeg:                 rand.Float64() * 360,
		ElevationDeg:               20 + rand.Float64()*10,
		PopPingDropRate:            rand.Float64() * 0.02,
		PopPingLatencyMs:           25 + rand.Float64()*10,
		Latitude:                   &lat,
		Longitude:                  &lon,
		Altitude:                   &alt,
	}, nil
}

func (m *Mock) Close() error {
	m.closed = true

	return nil
}
