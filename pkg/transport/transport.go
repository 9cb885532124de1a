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

// Package transport defines the adapter contract shared by the cellular and
// satellite data sources.
//
// Each source package provides two Adapter implementations, one backed by the
// physical device and one that synthesizes plausible data, and an Opener that
// probes the hardware and picks between them. The sampling loop only ever
// holds the Adapter interface and never branches on which implementation it
// got. Adapters are not safe for concurrent use; the collector serializes all
// calls on a single goroutine.
package transport

import (
	"context"
	"errors"
	"time"

	backoff "github.com/cenkalti/backoff"
	"github.com/united-manufacturing-hub/airlink/pkg/constants"
	"github.com/united-manufacturing-hub/airlink/pkg/telemetry"
)

// Mode reports whether an adapter talks to real hardware or synthesizes data.
type Mode string

const (
	// ModeHardware means the probe succeeded and samples come from the device.
	ModeHardware Mode = "hardware"
	// ModeMock means the device was unreachable at Open and samples are
	// generated locally with plausible values.
	ModeMock Mode = "mock"
)

var (
	// ErrClosed is returned by AcquireSample after Close has released the
	// device session.
	ErrClosed = errors.New("transport: adapter closed")

	// ErrAcquireTimeout is returned when the device did not answer within the
	// per-sample deadline.
	ErrAcquireTimeout = errors.New("transport: sample acquisition timed out")
)

// Adapter is an open session with one telemetry source.
type Adapter interface {
	// Mode tells which implementation the Opener selected.
	Mode() Mode

	// AcquireSample produces one record. An error counts as a failed tick
	// for the collector's failure threshold; mock implementations never
	// return one.
	AcquireSample(ctx context.Context) (telemetry.Sample, error)

	// Close releases the device session. Safe to call twice.
	Close() error
}

// Opener probes a device and returns the Adapter to sample it with. Openers
// prefer falling back to the mock implementation over failing: an unreachable
// or permission-denied device yields a mock Adapter, not an error.
type Opener interface {
	Open(ctx context.Context) (Adapter, error)
}

// Probe runs op with a short exponential backoff, bounded by ctx. It is the
// shared reachability check used by Openers: a device that does not answer
// after the configured attempts is treated as absent, not broken.
func Probe(ctx context.Context, op func() error) error {
	expo := backoff.NewExponentialBackOff()
	expo.InitialInterval = constants.TransportProbeInitialInterval
	expo.MaxElapsedTime = 0 // attempts are bounded by count, not time

	policy := backoff.WithContext(backoff.WithMaxRetries(expo, constants.TransportProbeRetries), ctx)
	return backoff.Retry(op, policy)
}

// Clock abstracts time for the adapters so tests can pin acquisition
// timestamps and uptime arithmetic.
type Clock interface {
	Now() time.Time
}

// RealClock is the production Clock.
type RealClock struct{}

func (RealClock) Now() time.Time { return time.Now().UTC() }
