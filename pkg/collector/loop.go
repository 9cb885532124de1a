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
	"context"
	"time"

	"github.com/united-manufacturing-hub/airlink/pkg/metrics"
	"github.com/united-manufacturing-hub/airlink/pkg/sentry"
	"github.com/united-manufacturing-hub/airlink/pkg/telemetry"
	"github.com/united-manufacturing-hub/airlink/pkg/transport"
)

// acquireTimeout bounds one acquisition strictly below the tick so a slow
// device cannot push the loop off its wall-clock anchor.
func acquireTimeout(tick time.Duration) time.Duration {
	return tick * 4 / 5
}

// run is the sampling loop. One instance runs per active collection and exits
// when ctx is canceled. Ticks are anchored to the wall clock: the sleep is
// the tick interval minus however long the tick's work took, so drift stays
// bounded no matter how slow the device answers.
func (c *Collector) run(ctx context.Context, adapter transport.Adapter, done chan struct{}) {
	defer close(done)
	c.log.Debugf("Sampling loop started (tick %s)", c.cfg.Tick)

	for {
		if ctx.Err() != nil {
			c.log.Debugf("Sampling loop drained")
			return
		}

		tickStart := time.Now()
		c.sampleOnce(ctx, adapter)

		wait := c.cfg.Tick - time.Since(tickStart)
		if wait < 0 {
			wait = 0
		}
		select {
		case <-ctx.Done():
			c.log.Debugf("Sampling loop drained")
			return
		case <-time.After(wait):
		}
	}
}

// sampleOnce pulls one sample and records it. Acquisition failures feed the
// consecutive-failure counter; crossing the threshold degrades the collector
// to the error state without stopping the loop, so the source stays
// observable and recoverable by a stop/start cycle.
func (c *Collector) sampleOnce(ctx context.Context, adapter transport.Adapter) {
	sample, err := c.acquireFrom(ctx, adapter)
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		c.recordFailure(ctx, err)
		return
	}
	c.recordSample(ctx, sample)
}

// acquireFrom runs one deadline-bound acquisition under the device mutex and
// refreshes the latest-sample cache. Shared by the loop and by on-demand
// requests against the active session.
func (c *Collector) acquireFrom(ctx context.Context, adapter transport.Adapter) (telemetry.Sample, error) {
	if err := c.devMu.Lock(ctx); err != nil {
		return nil, err
	}
	defer c.devMu.Unlock()

	acquireCtx, cancel := context.WithTimeout(ctx, acquireTimeout(c.cfg.Tick))
	defer cancel()

	started := time.Now()
	sample, err := adapter.AcquireSample(acquireCtx)
	metrics.ObserveAcquireDuration(c.cfg.SourceID, time.Since(started))
	if err != nil {
		return nil, err
	}

	c.latest.Set(latestSampleKey, sample)
	return sample, nil
}

func (c *Collector) recordFailure(ctx context.Context, acquireErr error) {
	metrics.IncAcquireFailure(c.cfg.SourceID)
	if err := c.mu.Lock(ctx); err != nil {
		return
	}
	defer c.mu.Unlock()

	c.failures++
	c.log.Warnf("Sample acquisition failed (%d consecutive): %v", c.failures, acquireErr)
	if c.failures >= c.cfg.FailureThreshold && c.machine.current() == StateRunning {
		c.log.Errorf("Failure threshold of %d reached, degrading to error state", c.cfg.FailureThreshold)
		c.fail(ctx, EventFault)
	}
}

// recordSample feeds one sample into the ring buffer and, while the run is
// healthy, the data file. A persistence failure is fatal to the run: the
// collector degrades to the error state and stops appending, but keeps
// sampling for the read-side endpoints.
func (c *Collector) recordSample(ctx context.Context, sample telemetry.Sample) {
	if err := c.mu.Lock(ctx); err != nil {
		return
	}
	defer c.mu.Unlock()

	c.failures = 0
	c.ring.Push(sample)

	if c.machine.current() != StateRunning || c.writer == nil {
		return
	}

	before, _ := c.writer.Current()
	if err := c.writer.Append(sample.Record()); err != nil {
		metrics.IncErrorCountAndLog(metrics.ComponentCollector, c.cfg.SourceID, err, c.log)
		sentry.ReportIssuef(sentry.IssueTypeError, c.log, "Failed to persist sample for %s: %v", c.cfg.SourceID, err)
		c.fail(ctx, EventFault)
		return
	}
	c.points++
	metrics.IncSamplePersisted(c.cfg.SourceID)

	if after, ok := c.writer.Current(); ok && after.Name != before.Name {
		metrics.IncRotation(c.cfg.SourceID)
	}
}
