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

// Package cellular samples a Quectel LTE modem over its serial AT port.
//
// The Opener probes the modem during Start. When the device node is missing,
// cannot be opened, or does not acknowledge a bare AT command, the Opener
// hands out the mock implementation instead of failing, so a bench setup
// without the modem behaves like the airborne one.
package cellular

import (
	"context"
	"errors"
	"fmt"
	"time"

	serial "go.bug.st/serial"
	"go.uber.org/zap"

	"github.com/united-manufacturing-hub/airlink/pkg/constants"
	"github.com/united-manufacturing-hub/airlink/pkg/logger"
	"github.com/united-manufacturing-hub/airlink/pkg/telemetry"
	"github.com/united-manufacturing-hub/airlink/pkg/transport"
)

// Config selects and times the modem session.
type Config struct {
	// Device is the modem's AT serial port, e.g. /dev/ttyUSB2.
	Device string
	// BaudRate of the AT port. Quectel modules fix it at 115200.
	BaudRate int
	// ModuleID identifies the modem in samples and file names.
	ModuleID string
	// CommandTimeout bounds one AT command round trip.
	CommandTimeout time.Duration
	// ForceMock skips the hardware probe entirely.
	ForceMock bool
}

func (c Config) withDefaults() Config {
	if c.Device == "" {
		c.Device = constants.DefaultSerialDevice
	}
	if c.BaudRate == 0 {
		c.BaudRate = constants.DefaultSerialBaudRate
	}
	if c.ModuleID == "" {
		c.ModuleID = constants.DefaultModuleID
	}
	if c.CommandTimeout == 0 {
		c.CommandTimeout = constants.DefaultATCommandTimeout
	}

	return c
}

// Opener probes the modem and selects the hardware or mock adapter.
type Opener struct {
	cfg   Config
	log   *zap.SugaredLogger
	clock transport.Clock

	// openPort is swapped by tests to avoid touching real devices.
	openPort func(device string, mode *serial.Mode) (serialPort, error)
}

// NewOpener builds an Opener for the configured modem.
func NewOpener(cfg Config) *Opener {
	return &Opener{
		cfg:   cfg.withDefaults(),
		log:   logger.For(logger.ComponentCellularTransport),
		clock: transport.RealClock{},
		openPort: func(device string, mode *serial.Mode) (serialPort, error) {
			return serial.Open(device, mode)
		},
	}
}

// Open probes the modem and returns the adapter to sample it with. The mock
// adapter is returned whenever the modem cannot be reached; only context
// cancellation aborts the open.
func (o *Opener) Open(ctx context.Context) (transport.Adapter, error) {
	if o.cfg.ForceMock {
		o.log.Infof("modem %s forced into mock mode", o.cfg.ModuleID)

		return newMock(o.cfg.ModuleID, o.clock), nil
	}

	var channel *atChannel

	err := transport.Probe(ctx, func() error {
		port, err := o.openPort(o.cfg.Device, &serial.Mode{
			BaudRate: o.cfg.BaudRate,
			DataBits: 8,
			Parity:   serial.NoParity,
			StopBits: serial.OneStopBit,
		})
		if err != nil {
			return fmt.Errorf("open %s: %w", o.cfg.Device, err)
		}

		c := &atChannel{port: port, timeout: o.cfg.CommandTimeout, log: o.log}
		if err := c.alive(ctx); err != nil {
			_ = port.Close()

			return err
		}

		channel = c

		return nil
	})
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}

		o.log.Warnf("modem on %s unreachable, falling back to mock data: %s", o.cfg.Device, err)

		return newMock(o.cfg.ModuleID, o.clock), nil
	}

	o.log.Infof("modem session open on %s at %d baud", o.cfg.Device, o.cfg.BaudRate)

	return &Modem{
		id:       o.cfg.ModuleID,
		at:       channel,
		clock:    o.clock,
		log:      o.log,
		openedAt: o.clock.Now(),
	}, nil
}

// Modem is the hardware adapter. It issues a fixed AT command sequence per
// sample and tolerates individual commands failing to parse: those fields
// keep their defaults and the sample is still produced.
type Modem struct {
	id       string
	at       *atChannel
	clock    transport.Clock
	log      *zap.SugaredLogger
	openedAt time.Time
	closed   bool
}

func (m *Modem) Mode() transport.Mode { return transport.ModeHardware }

// AcquireSample runs the AT sequence and assembles one cellular sample.
// Serial I/O failures and an expired ctx abort the tick; everything else
// degrades to default field values.
func (m *Modem) AcquireSample(ctx context.Context) (telemetry.Sample, error) {
	if m.closed {
		return nil, transport.ErrClosed
	}

	now := m.clock.Now()
	sample := &telemetry.CellularSample{
		AcquiredAt: now,
		ModuleID:   m.id,
		// Overwritten as soon as CREG answers; matches the modem's view
		// that an open AT channel means an attached module.
		ConnectionState: ConnectionStateConnected,
		UptimeSeconds:   int64(now.Sub(m.openedAt) / time.Second),
	}

	answer, err := m.exchange(ctx, "AT+CSQ")
	if err != nil {
		return nil, err
	}
	if rssi, ber, ok := parseSignalQuality(answer); ok {
		sample.RSSI = rssi
		sample.BER = ber
	}

	answer, err = m.exchange(ctx, "AT+QNWINFO")
	if err != nil {
		return nil, err
	}
	if mode, operator, band, earfcn, ok := parseNetworkInfo(answer); ok {
		sample.NetworkMode = mode
		sample.Operator = operator
		sample.Band = band
		sample.EARFCN = earfcn
	}

	answer, err = m.exchange(ctx, "AT+CREG?")
	if err != nil {
		return nil, err
	}
	if stat, ok := parseRegistration(answer, false); ok {
		sample.RegStatus = registrationName(stat)
		if isAttached(stat) {
			sample.ConnectionState = ConnectionStateConnected
		} else {
			sample.ConnectionState = ConnectionStateDisconnected
		}
	}

	answer, err = m.exchange(ctx, "AT+CEREG?")
	if err != nil {
		return nil, err
	}
	if stat, ok := parseRegistration(answer, true); ok {
		sample.EPSRegStatus = registrationName(stat)
	}

	answer, err = m.exchange(ctx, "AT+QGDCNT?")
	if err != nil {
		return nil, err
	}
	if tx, rx, ok := parseDataCounters(answer); ok {
		sample.TxBytes = tx
		sample.RxBytes = rx
	}

	answer, err = m.exchange(ctx, "AT+CGPADDR=1")
	if err != nil {
		return nil, err
	}
	if ip, ok := parseIPAddress(answer); ok {
		sample.IPAddress = ip
	}

	answer, err = m.exchange(ctx, "AT+COPS?")
	if err != nil {
		return nil, err
	}
	if operator, ok := parseOperator(answer); ok {
		sample.Operator = operator
	}

	return sample, nil
}

func (m *Modem) exchange(ctx context.Context, cmd string) (string, error) {
	answer, err := m.at.command(ctx, cmd)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return "", transport.ErrAcquireTimeout
		}

		return "", fmt.Errorf("modem %s: %w", m.id, err)
	}

	return answer, nil
}

// Close releases the serial port.
func (m *Modem) Close() error {
	if m.closed {
		return nil
	}
	m.closed = true

	if err := m.at.port.Close(); err != nil {
		return fmt.Errorf("close modem %s: %w", m.id, err)
	}

	return nil
}
