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

package cellular

import (
	"context"
	"fmt"
	"math"
	"math/rand/v2"
	"time"

	"github.com/united-manufacturing-hub/airlink/pkg/telemetry"
	"github.com/united-manufacturing-hub/airlink/pkg/transport"
)

// mockBands is the band walk of the synthetic modem with a typical mid-band
// channel number for each.
var mockBands = []struct {
	band   string
	earfcn int
}{
	{"LTE BAND 1", 100},
	{"LTE BAND 3", 1575},
	{"LTE BAND 7", 3050},
	{"LTE BAND 20", 6300},
}

// Mock synthesizes plausible modem samples without any I/O. Cell identity,
// IP address and the data counters stay coherent across a session the way a
// stationary module's would.
type Mock struct {
	id       string
	clock    transport.Clock
	openedAt time.Time
	ticker   int

	cellID  string
	lac     string
	ip      string
	rxTotal int64
	txTotal int64
	bandIdx int
	closed  bool
}

func newMock(id string, clock transport.Clock) *Mock {
	return &Mock{
		id:       id,
		clock:    clock,
		openedAt: clock.Now(),
		cellID:   fmt.Sprintf("%08X", rand.Uint32()),
		lac:      fmt.Sprintf("%04X", rand.IntN(0x10000)),
		ip:       fmt.Sprintf("10.64.%d.%d", rand.IntN(256), 1+rand.IntN(254)),
		bandIdx:  rand.IntN(len(mockBands)),
	}
}

func (m *Mock) Mode() transport.Mode { return transport.ModeMock }

// AcquireSample never fails; an absent modem must not trip the failure
// threshold.
func (m *Mock) AcquireSample(_ context.Context) (telemetry.Sample, error) {
	if m.closed {
		return nil, transport.ErrClosed
	}

	m.ticker++

	// slow swing through -85..-60 dBm with a little jitter on top
	swing := math.Sin(float64(m.ticker) / 20)
	rssi := int(math.Round(-72.5+12.5*swing)) + rand.IntN(3) - 1
	if rssi > -60 {
		rssi = -60
	}
	if rssi < -85 {
		rssi = -85
	}

	// the serving band changes rarely for a stationary module
	if m.ticker%60 == 0 {
		m.bandIdx = (m.bandIdx + 1) % len(mockBands)
	}

	m.rxTotal += int64(rand.IntN(200_000))
	m.txTotal += int64(rand.IntN(50_000))

	now := m.clock.Now()
	lat := 37.5665 + (rand.Float64()-0.5)*0.02
	lon := 126.9780 + (rand.Float64()-0.5)*0.02
	alt := 100 + rand.Float64()*900

	return &telemetry.CellularSample{
		AcquiredAt:      now,
		ModuleID:        m.id,
		ConnectionState: ConnectionStateConnected,
		UptimeSeconds:   int64(now.Sub(m.openedAt) / time.Second),
		RSSI:            rssi,
		BER:             rand.IntN(4),
		Operator:        "MockTel",
		NetworkMode:     "FDD LTE",
		RegStatus:       RegStatusRegistered,
		EPSRegStatus:    RegStatusRegistered,
		CellID:          m.cellID,
		LAC:             m.lac,
		RxBytes:         m.rxTotal,
		TxBytes:         m.txTotal,
		IPAddress:       m.ip,
		Band:            mockBands[m.bandIdx].band,
		EARFCN:          mockBands[m.bandIdx].earfcn,
		Latitude:        &lat,
		Longitude:       &lon,
		Altitude:        &alt,
	}, nil
}

func (m *Mock) Close() error {
	m.closed = true

	return nil
}
