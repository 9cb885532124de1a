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

// Package starlink samples a Starlink terminal over its gRPC-Web endpoint.
//
// The dish exposes SpaceX.API.Device.Device/Handle on port 9201 without TLS.
// One status request is posted per tick; answers carrying a non-OK gRPC
// status still count as samples, because a dish that answers the proxy but
// not the method is reachable, just reticent. Only network-level failures are
// transport errors.
package starlink

import (
	"bytes"
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"go.uber.org/zap"
	"golang.org/x/net/http2"

	"github.com/united-manufacturing-hub/airlink/pkg/constants"
	"github.com/united-manufacturing-hub/airlink/pkg/logger"
	"github.com/united-manufacturing-hub/airlink/pkg/sentry"
	"github.com/united-manufacturing-hub/airlink/pkg/telemetry"
	"github.com/united-manufacturing-hub/airlink/pkg/transport"
)

// Terminal states recorded in samples. The first four mirror the DishState
// enum; STOWED is derived from the stow flag, which outranks the enum.
const (
	StateUnknown   = "UNKNOWN"
	StateConnected = "CONNECTED"
	StateSearching = "SEARCHING"
	StateBooting   = "BOOTING"
	StateStowed    = "STOWED"
)

// Config selects and times the dish session.
type Config struct {
	// Address is the terminal's gRPC-Web endpoint, host:port.
	Address string
	// TerminalID identifies the dish until it reports its own id.
	TerminalID string
	// RequestTimeout bounds one tick's conversation with the dish.
	RequestTimeout time.Duration
	// ForceMock skips the reachability probe entirely.
	ForceMock bool
}

func (c Config) withDefaults() Config {
	if c.Address == "" {
		c.Address = constants.DefaultDishAddress
	}
	if c.TerminalID == "" {
		c.TerminalID = constants.DefaultTerminalID
	}
	if c.RequestTimeout == 0 {
		c.RequestTimeout = constants.DefaultDishRequestTimeout
	}

	return c
}

// Opener probes the dish and selects the hardware or mock adapter. Being
// request/response, the protocol needs no handshake: a TCP connect is enough
// to consider the terminal reachable.
type Opener struct {
	cfg   Config
	log   *zap.SugaredLogger
	clock transport.Clock

	// dial is swapped by tests.
	dial func(ctx context.Context, network, addr string) (net.Conn, error)
}

// NewOpener builds an Opener for the configured terminal.
func NewOpener(cfg Config) *Opener {
	dialer := &net.Dialer{Timeout: constants.DefaultDishRequestTimeout}

	return &Opener{
		cfg:   cfg.withDefaults(),
		log:   logger.For(logger.ComponentSatelliteTransport),
		clock: transport.RealClock{},
		dial:  dialer.DialContext,
	}
}

// Open probes the dish and returns the adapter to sample it with.
func (o *Opener) Open(ctx context.Context) (transport.Adapter, error) {
	if o.cfg.ForceMock {
		o.log.Infof("terminal %s forced into mock mode", o.cfg.TerminalID)

		return newMock(o.cfg.TerminalID, o.clock), nil
	}

	err := transport.Probe(ctx, func() error {
		conn, err := o.dial(ctx, "tcp", o.cfg.Address)
		if err != nil {
			return err
		}

		return conn.Close()
	})
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}

		o.log.Warnf("terminal at %s unreachable, falling back to mock data: %s", o.cfg.Address, err)

		return newMock(o.cfg.TerminalID, o.clock), nil
	}

	o.log.Infof("terminal session open against %s", o.cfg.Address)

	return &Dish{
		id:       o.cfg.TerminalID,
		client:   newDishClient(o.cfg.Address),
		clock:    o.clock,
		log:      o.log,
		timeout:  o.cfg.RequestTimeout,
		openedAt: o.clock.Now(),
	}, nil
}

// Dish is the hardware adapter.
type Dish struct {
	id             string
	client         *dishClient
	clock          transport.Clock
	log            *zap.SugaredLogger
	timeout        time.Duration
	openedAt       time.Time
	versionsLogged bool
	locationDenied bool
	closed         bool
}

func (d *Dish) Mode() transport.Mode { return transport.ModeHardware }

// AcquireSample posts one status request. A non-OK gRPC status or a malformed
// answer degrades to an empty sample; network failures abort the tick.
func (d *Dish) AcquireSample(ctx context.Context) (telemetry.Sample, error) {
	if d.closed {
		return nil, transport.ErrClosed
	}

	ctx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	header, body, err := d.client.post(ctx, encodeStatusRequest())
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, transport.ErrAcquireTimeout
		}

		return nil, fmt.Errorf("dish %s: %w", d.id, err)
	}

	now := d.clock.Now()
	sample := &telemetry.SatelliteSample{
		AcquiredAt:    now,
		TerminalID:    d.id,
		UptimeSeconds: int64(now.Sub(d.openedAt) / time.Second),
	}

	payload, trailer, err := splitFrames(body)
	if err != nil {
		d.log.Debugf("unparseable answer from %s: %s", d.client.url, err)

		return sample, nil
	}

	if code, message := grpcStatus(header, trailer); code != 0 {
		// The proxy answered but the method is refused, e.g. Unimplemented
		// on locked-down firmware. Reachable-but-reticent is a valid state.
		d.log.Debugf("dish answered grpc-status %d (%s), recording empty sample", code, message)

		return sample, nil
	}

	status, err := decodeStatus(payload)
	if err != nil {
		d.log.Debugf("undecodable status from %s: %s", d.client.url, err)

		return sample, nil
	}

	d.fillSample(sample, status)
	d.acquireLocation(ctx, sample)

	return sample, nil
}

func (d *Dish) fillSample(sample *telemetry.SatelliteSample, status *dishStatus) {
	if status.ID != "" {
		d.id = status.ID
		sample.TerminalID = status.ID
	}

	sample.State = status.State
	if status.StowRequested {
		sample.State = StateStowed
	}
	// The dish reports its own uptime; the session age only stands in when
	// the device_state message is absent.
	if status.UptimeS > 0 {
		sample.UptimeSeconds = status.UptimeS
	}

	sample.DownlinkThroughputBps = status.DownlinkThroughputBps
	sample.UplinkThroughputBps = status.UplinkThroughputBps
	sample.PingDropRate = status.PopPingDropRate
	sample.PingLatencyMs = status.PopPingLatencyMs
	sample.PopPingDropRate = status.PopPingDropRate
	sample.PopPingLatencyMs = status.PopPingLatencyMs
	sample.SNR = status.SNR
	sample.SecondsToFirstNonemptySlot = status.FirstSlotSeconds
	sample.AzimuthDeg = status.AzimuthDeg
	sample.ElevationDeg = status.ElevationDeg

	if !d.versionsLogged && status.SoftwareVersion != "" {
		d.log.Infof("dish %s reports hardware %s software %s",
			sample.TerminalID, status.HardwareVersion, status.SoftwareVersion)
		d.versionsLogged = true
	}
}

// acquireLocation asks the dish for its GPS position. Stock firmware refuses
// the call unless local location access is enabled in the app; a refusal is
// remembered and the question is not asked again for this session. Failures
// here never fail the tick, the GPS columns just stay empty.
func (d *Dish) acquireLocation(ctx context.Context, sample *telemetry.SatelliteSample) {
	if d.locationDenied {
		return
	}

	header, body, err := d.client.post(ctx, encodeLocationRequest())
	if err != nil {
		d.log.Debugf("location request failed: %s", err)

		return
	}

	payload, trailer, err := splitFrames(body)
	if err != nil {
		d.log.Debugf("unparseable location answer: %s", err)

		return
	}
	if code, message := grpcStatus(header, trailer); code != 0 {
		d.locationDenied = true
		d.log.Infof("dish refuses location access (grpc-status %d, %s), GPS columns stay empty", code, message)

		return
	}

	location, err := decodeLocation(payload)
	if err != nil {
		d.log.Debugf("undecodable location answer: %s", err)

		return
	}

	sample.Latitude = &location.Latitude
	sample.Longitude = &location.Longitude
	sample.Altitude = &location.Altitude
}

// Close drops the pooled connections.
func (d *Dish) Close() error {
	if d.closed {
		return nil
	}
	d.closed = true
	d.client.close()

	return nil
}

// dishClient posts gRPC-Web frames to the terminal. It prefers an HTTP/2
// prior-knowledge connection and falls back to HTTP/1.1 for firmware whose
// proxy only speaks that; the fallback choice is sticky for the session.
type dishClient struct {
	url   string
	h2    *http.Client
	h1    *http.Client
	useH1 bool
	log   *zap.SugaredLogger
}

func newDishClient(address string) *dishClient {
	h2Transport := &http2.Transport{
		AllowHTTP: true,
		// The dish speaks cleartext HTTP/2, so the TLS dialer degrades to a
		// plain TCP connect.
		DialTLSContext: func(ctx context.Context, network, addr string, _ *tls.Config) (net.Conn, error) {
			var d net.Dialer

			return d.DialContext(ctx, network, addr)
		},
		ReadIdleTimeout: 30 * time.Second,
	}

	h1Transport := &http.Transport{
		DialContext: (&net.Dialer{
			Timeout:   constants.DefaultDishRequestTimeout,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		MaxIdleConnsPerHost: 2,
		IdleConnTimeout:     90 * time.Second,
		DisableCompression:  true,
	}

	return &dishClient{
		url: "http://" + address + "/SpaceX.API.Device.Device/Handle",
		h2:  &http.Client{Transport: h2Transport},
		h1:  &http.Client{Transport: h1Transport},
		log: logger.For(logger.ComponentSatelliteTransport),
	}
}

func (c *dishClient) post(ctx context.Context, frame []byte) (http.Header, []byte, error) {
	client := c.h2
	if c.useH1 {
		client = c.h1
	}

	header, body, err := c.roundTrip(ctx, client, frame)
	if err != nil && !c.useH1 && ctx.Err() == nil {
		c.log.Debugf("HTTP/2 request failed (%s), retrying with HTTP/1.1", err)
		c.useH1 = true

		return c.roundTrip(ctx, c.h1, frame)
	}

	return header, body, err
}

func (c *dishClient) roundTrip(ctx context.Context, client *http.Client, frame []byte) (http.Header, []byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(frame))
	if err != nil {
		return nil, nil, fmt.Errorf("build request for %s: %w", c.url, err)
	}
	req.Header.Set("Content-Type", "application/grpc-web+proto")
	req.Header.Set("Accept", "*/*")
	req.Header.Set("X-Grpc-Web", "1")
	req.Header.Set("X-User-Agent", "grpc-web-javascript/0.1")

	resp, err := client.Do(req)
	if err != nil {
		return nil, nil, err
	}
	defer func() {
		if err := resp.Body.Close(); err != nil {
			sentry.ReportIssuef(sentry.IssueTypeError, c.log, "failed to close dish response body: %v", err)
		}
	}()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, nil, fmt.Errorf("read answer from %s: %w", c.url, err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, nil, fmt.Errorf("dish answered HTTP %d", resp.StatusCode)
	}

	header := resp.Header.Clone()
	for name, values := range resp.Trailer {
		header[name] = values
	}

	return header, body, nil
}

func (c *dishClient) close() {
	c.h2.CloseIdleConnections()
	c.h1.CloseIdleConnections()
}
