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

// Package telemetry defines the sample records produced by the transport
// adapters and the bounded buffer that backs the recent-samples endpoint.
//
// A sample is an immutable value: once an adapter has handed it over, nobody
// mutates it. The CSV column set of a source is fixed for the lifetime of a
// run, so a rotation never changes the header mid-file.
package telemetry

import (
	"strconv"
	"time"

	"github.com/tiendc/go-deepcopy"
	"github.com/united-manufacturing-hub/airlink/pkg/constants"
)

// Sample is one telemetry record produced by a transport adapter.
type Sample interface {
	// SourceID identifies the physical device that produced the record.
	SourceID() string

	// Timestamp is the UTC acquisition time of the record.
	Timestamp() time.Time

	// Record returns the CSV cells of the record in header order.
	Record() []string

	// Clone returns an independent copy of the record.
	Clone() Sample
}

// CellularHeader is the fixed column set of the cellular source.
var CellularHeader = []string{
	"timestamp",
	"module_id",
	"connection_state",
	"uptime",
	"signal_quality_rssi",
	"signal_quality_ber",
	"network_operator",
	"network_mode",
	"network_reg_status",
	"eps_reg_status",
	"cell_id",
	"lac",
	"rx_bytes",
	"tx_bytes",
	"ip_address",
	"frequency_band",
	"earfcn",
	"latitude",
	"longitude",
	"altitude",
}

// SatelliteHeader is the fixed column set of the satellite source.
var SatelliteHeader = []string{
	"timestamp",
	"terminal_id",
	"state",
	"uptime",
	"downlink_throughput_bps",
	"uplink_throughput_bps",
	"ping_drop_rate",
	"ping_latency_ms",
	"snr",
	"seconds_to_first_nonempty_slot",
	"azimuth",
	"elevation",
	"pop_ping_drop_rate",
	"pop_ping_latency_ms",
	"latitude",
	"longitude",
	"altitude",
}

// CellularSample carries one tick of modem metrics. Field order mirrors
// CellularHeader.
type CellularSample struct {
	AcquiredAt      time.Time `json:"timestamp"`
	ModuleID        string    `json:"module_id"`
	ConnectionState string    `json:"connection_state"`
	UptimeSeconds   int64     `json:"uptime"`
	RSSI            int       `json:"signal_quality_rssi"`
	BER             int       `json:"signal_quality_ber"`
	Operator        string    `json:"network_operator"`
	NetworkMode     string    `json:"network_mode"`
	RegStatus       string    `json:"network_reg_status"`
	EPSRegStatus    string    `json:"eps_reg_status"`
	CellID          string    `json:"cell_id"`
	LAC             string    `json:"lac"`
	RxBytes         int64     `json:"rx_bytes"`
	TxBytes         int64     `json:"tx_bytes"`
	IPAddress       string    `json:"ip_address"`
	Band            string    `json:"frequency_band"`
	EARFCN          int       `json:"earfcn"`
	Latitude        *float64  `json:"latitude,omitempty"`
	Longitude       *float64  `json:"longitude,omitempty"`
	Altitude        *float64  `json:"altitude,omitempty"`
}

func (s *CellularSample) SourceID() string { return s.ModuleID }

func (s *CellularSample) Timestamp() time.Time { return s.AcquiredAt }

func (s *CellularSample) Record() []string {
	return []string{
		s.AcquiredAt.UTC().Format(constants.CSVTimestampLayout),
		s.ModuleID,
		s.ConnectionState,
		strconv.FormatInt(s.UptimeSeconds, 10),
		strconv.Itoa(s.RSSI),
		strconv.Itoa(s.BER),
		s.Operator,
		s.NetworkMode,
		s.RegStatus,
		s.EPSRegStatus,
		s.CellID,
		s.LAC,
		strconv.FormatInt(s.RxBytes, 10),
		strconv.FormatInt(s.TxBytes, 10),
		s.IPAddress,
		s.Band,
		strconv.Itoa(s.EARFCN),
		formatCoordinate(s.Latitude),
		formatCoordinate(s.Longitude),
		formatCoordinate(s.Altitude),
	}
}

func (s *CellularSample) Clone() Sample {
	var out CellularSample
	if err := deepcopy.Copy(&out, s); err != nil {
		return nil
	}

	return &out
}

// SatelliteSample carries one tick of dish diagnostics. Field order mirrors
// SatelliteHeader.
type SatelliteSample struct {
	AcquiredAt                 time.Time `json:"timestamp"`
	TerminalID                 string    `json:"terminal_id"`
	State                      string    `json:"state"`
	UptimeSeconds              int64     `json:"uptime"`
	DownlinkThroughputBps      float64   `json:"downlink_throughput_bps"`
	UplinkThroughputBps        float64   `json:"uplink_throughput_bps"`
	PingDropRate               float64   `json:"ping_drop_rate"`
	PingLatencyMs              float64   `json:"ping_latency_ms"`
	SNR                        float64   `json:"snr"`
	SecondsToFirstNonemptySlot float64   `json:"seconds_to_first_nonempty_slot"`
	AzimuthDeg                 float64   `json:"azimuth"`
	ElevationDeg               float64   `json:"elevation"`
	PopPingDropRate            float64   `json:"pop_ping_drop_rate"`
	PopPingLatencyMs           float64   `json:"pop_ping_latency_ms"`
	Latitude                   *float64  `json:"latitude,omitempty"`
	Longitude                  *float64  `json:"longitude,omitempty"`
	Altitude                   *float64  `json:"altitude,omitempty"`
}

func (s *SatelliteSample) SourceID() string { return s.TerminalID }

func (s *SatelliteSample) Timestamp() time.Time { return s.AcquiredAt }

func (s *SatelliteSample) Record() []string {
	return []string{
		s.AcquiredAt.UTC().Format(constants.CSVTimestampLayout),
		s.TerminalID,
		s.State,
		strconv.FormatInt(s.UptimeSeconds, 10),
		formatFloat(s.DownlinkThroughputBps),
		formatFloat(s.UplinkThroughputBps),
		formatFloat(s.PingDropRate),
		formatFloat(s.PingLatencyMs),
		formatFloat(s.SNR),
		formatFloat(s.SecondsToFirstNonemptySlot),
		formatFloat(s.AzimuthDeg),
		formatFloat(s.ElevationDeg),
		formatFloat(s.PopPingDropRate),
		formatFloat(s.PopPingLatencyMs),
		formatCoordinate(s.Latitude),
		formatCoordinate(s.Longitude),
		formatCoordinate(s.Altitude),
	}
}

func (s *SatelliteSample) Clone() Sample {
	var out SatelliteSample
	if err := deepcopy.Copy(&out, s); err != nil {
		return nil
	}

	return &out
}

func formatFloat(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}

// formatCoordinate renders an optional GPS value; absent values become an
// empty CSV cell, matching the layout consumed by the ground station tooling.
func formatCoordinate(f *float64) string {
	if f == nil {
		return ""
	}

	return strconv.FormatFloat(*f, 'f', -1, 64)
}
