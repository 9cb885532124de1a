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

// Package collector coordinates one telemetry source: a lifecycle state
// machine, the sampling loop feeding the rotating data files, and the
// read-side queries the control API serves.
//
// Concurrency model: a single context aware mutex guards lifecycle state,
// counters and the file writer; a second one serializes access to the device,
// which only ever has one session. Handlers hold the state mutex for the
// critical section only, never across device I/O.
package collector

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"
	"github.com/united-manufacturing-hub/expiremap/v2/pkg/expiremap"
	"go.uber.org/zap"

	"github.com/united-manufacturing-hub/airlink/pkg/constants"
	"github.com/united-manufacturing-hub/airlink/pkg/ctxutil/ctxmutex"
	"github.com/united-manufacturing-hub/airlink/pkg/logger"
	"github.com/united-manufacturing-hub/airlink/pkg/metrics"
	"github.com/united-manufacturing-hub/airlink/pkg/storage"
	"github.com/united-manufacturing-hub/airlink/pkg/telemetry"
	"github.com/united-manufacturing-hub/airlink/pkg/transport"
)

// latestSampleKey is the single cache key of the most recent sample.
const latestSampleKey = "latest"

// Collector runs one telemetry source.
type Collector struct {
	cfg    Config
	opener transport.Opener
	log    *zap.SugaredLogger
	clock  transport.Clock

	catalog *storage.Catalog
	ring    *telemetry.Ring
	latest  *expiremap.ExpireMap[string, telemetry.Sample]

	// mu guards everything below plus all machine transitions.
	mu        *ctxmutex.CtxMutex
	machine   *machine
	lock      *storage.Lock
	writer    *storage.Writer
	adapter   transport.Adapter
	mode      transport.Mode
	runID     string
	startedAt time.Time
	points    int64
	failures  int
	cancel    context.CancelFunc
	done      chan struct{}

	// devMu serializes device I/O between the sampling loop and on-demand
	// acquisition. Never held together with mu.
	devMu *ctxmutex.CtxMutex
}

// New builds a Collector for one source. Nothing is opened until Start.
func New(cfg Config, opener transport.Opener) *Collector {
	cfg = cfg.withDefaults()
	ttl := time.Duration(constants.CurrentSampleTTLFactor) * cfg.Tick
	log := logger.For(cfg.SourceID)

	metrics.InitErrorCounter(metrics.ComponentCollector, cfg.SourceID)

	return &Collector{
		cfg:     cfg,
		opener:  opener,
		log:     log,
		clock:   transport.RealClock{},
		catalog: storage.NewCatalog(cfg.Storage.Dir, cfg.Storage.Prefix),
		ring:    telemetry.NewRing(cfg.RecentBuffer),
		latest:  expiremap.NewEx[string, telemetry.Sample](ttl, ttl),
		mu:      ctxmutex.NewCtxMutex(),
		machine: newMachine(cfg.SourceID, log),
		devMu:   ctxmutex.NewCtxMutex(),
	}
}

// Start locks the data directory, opens the transport session and the first
// data file, then spawns the sampling loop. Only valid from idle; any other
// state yields ErrAlreadyRunning without touching state.
func (c *Collector) Start(ctx context.Context) error {
	if err := c.mu.Lock(ctx); err != nil {
		return err
	}
	defer c.mu.Unlock()

	if c.machine.current() != StateIdle {
		return ErrAlreadyRunning
	}
	if err := c.machine.send(ctx, EventStart); err != nil {
		return err
	}
	c.startedAt = c.clock.Now()
	c.points = 0
	c.failures = 0

	lock, err := storage.Acquire(c.cfg.Storage.Dir)
	if err != nil {
		c.fail(ctx, EventStartFail)
		return fmt.Errorf("lock data directory: %w", err)
	}

	writer := storage.NewWriter(c.cfg.Storage)
	if err := writer.Open(); err != nil {
		_ = lock.Release()
		c.fail(ctx, EventStartFail)
		return fmt.Errorf("open data file: %w", err)
	}

	adapter, err := c.opener.Open(ctx)
	if err != nil {
		_ = writer.Close()
		_ = lock.Release()
		c.fail(ctx, EventStartFail)
		return fmt.Errorf("open transport: %w", err)
	}

	c.lock = lock
	c.writer = writer
	c.adapter = adapter
	c.mode = adapter.Mode()
	c.runID = uuid.NewString()
	c.ring.Reset()

	// The loop must outlive the HTTP request that triggered the start.
	loopCtx, cancel := context.WithCancel(context.Background())
	c.cancel = cancel
	c.done = make(chan struct{})
	go c.run(loopCtx, adapter, c.done)

	if err := c.machine.send(ctx, EventStartDone); err != nil {
		return err
	}
	c.log.Infof("Collection started (run %s, %s mode)", c.runID, c.mode)
	return nil
}

// Stop drains the sampling loop, closes the transport session and the data
// file, and returns to idle. Valid from running and error; anything else
// yields ErrNotRunning. It blocks until the loop has acknowledged
// termination, bounded by the configured stop timeout.
func (c *Collector) Stop(ctx context.Context) error {
	if err := c.mu.Lock(ctx); err != nil {
		return err
	}
	state := c.machine.current()
	if state != StateRunning && state != StateError {
		c.mu.Unlock()
		return ErrNotRunning
	}
	if err := c.machine.send(ctx, EventStop); err != nil {
		c.mu.Unlock()
		return err
	}
	// A run degraded during start has no loop or session to tear down, so
	// every artifact is optional here.
	adapter := c.adapter
	c.adapter = nil
	cancel, done := c.cancel, c.done
	c.cancel, c.done = nil, nil
	c.mu.Unlock()

	var stopErr error
	if cancel != nil {
		cancel()
		select {
		case <-done:
		case <-time.After(c.cfg.StopTimeout):
			stopErr = fmt.Errorf("sampling loop did not acknowledge stop within %s", c.cfg.StopTimeout)
			c.log.Errorf("Sampling loop did not acknowledge stop within %s, forcing transport close", c.cfg.StopTimeout)
		}
	}

	if adapter != nil {
		// Wait out an in-flight acquisition before the session goes away,
		// but bounded: when the loop is stuck past its deadline, closing
		// the session is exactly what unblocks it.
		lockCtx, lockCancel := context.WithTimeout(ctx, c.cfg.StopTimeout)
		locked := c.devMu.Lock(lockCtx) == nil
		lockCancel()
		if err := adapter.Close(); err != nil {
			c.log.Warnf("Transport close failed: %v", err)
		}
		if locked {
			c.devMu.Unlock()
		}
	}

	// The teardown must finish even when the requesting client is gone,
	// otherwise the collector would be wedged in the stopping state.
	if err := c.mu.Lock(context.Background()); err != nil {
		return err
	}
	defer c.mu.Unlock()
	if c.writer != nil {
		if err := c.writer.Close(); err != nil {
			c.log.Errorf("Data file close failed: %v", err)
		}
		c.writer = nil
	}
	if c.lock != nil {
		if err := c.lock.Release(); err != nil {
			c.log.Warnf("Data directory unlock failed: %v", err)
		}
		c.lock = nil
	}
	if err := c.machine.send(context.Background(), EventStopDone); err != nil {
		return err
	}
	c.log.Infof("Collection stopped (run %s, %d samples)", c.runID, c.points)
	return stopErr
}

// Status assembles the status payload. The data directory listing runs
// outside the state mutex.
func (c *Collector) Status(ctx context.Context) (Status, error) {
	if err := c.mu.Lock(ctx); err != nil {
		return Status{}, err
	}
	state := c.machine.current()
	st := Status{
		State:      state,
		SourceID:   c.cfg.SourceID,
		Mode:       modeLabel(c.mode),
		RunID:      c.runID,
		Duration:   "00:00:00",
		DataPoints: c.points,
	}
	if IsActiveState(state) {
		st.Duration = formatDuration(c.clock.Now().Sub(c.startedAt))
	}
	var currentName string
	if c.writer != nil {
		if cur, ok := c.writer.Current(); ok {
			currentName = cur.Name
			st.CurrentFile = cur.Name
			st.FileSizeMB = mb(cur.SizeBytes)
		}
	}
	c.mu.Unlock()

	files, err := c.catalog.List(currentName)
	if err != nil {
		c.log.Warnf("Data file listing failed: %v", err)
	}
	st.FileCount = len(files)
	st.LastUpdate = c.clock.Now().UTC().Format(constants.CSVTimestampLayout)
	return st, nil
}

// Current returns the latest sample. A cached one from the last few ticks is
// served directly; otherwise one acquisition runs on demand, through the
// active session when a run is up, or through a transient session when idle.
func (c *Collector) Current(ctx context.Context) (telemetry.Sample, error) {
	if cached, ok := c.latest.Load(latestSampleKey); ok {
		return (*cached).Clone(), nil
	}

	if err := c.mu.Lock(ctx); err != nil {
		return nil, err
	}
	adapter := c.adapter
	c.mu.Unlock()

	if adapter != nil {
		return c.acquireFrom(ctx, adapter)
	}

	// Idle: one short-lived session just for this request. devMu keeps two
	// concurrent requests from opening the device twice.
	if err := c.devMu.Lock(ctx); err != nil {
		return nil, err
	}
	defer c.devMu.Unlock()

	transient, err := c.opener.Open(ctx)
	if err != nil {
		return nil, fmt.Errorf("open transport: %w", err)
	}
	defer func() {
		if err := transient.Close(); err != nil {
			c.log.Warnf("Transient transport close failed: %v", err)
		}
	}()

	acquireCtx, cancel := context.WithTimeout(ctx, acquireTimeout(c.cfg.Tick))
	defer cancel()
	sample, err := transient.AcquireSample(acquireCtx)
	if err != nil {
		return nil, err
	}
	c.latest.Set(latestSampleKey, sample)
	return sample, nil
}

// Recent returns up to count samples from the in-memory ring, oldest first.
func (c *Collector) Recent(count int) []telemetry.Sample {
	return c.ring.Recent(count)
}

// Files lists this collector's data files, newest first.
func (c *Collector) Files(ctx context.Context) ([]storage.FileInfo, error) {
	if err := c.mu.Lock(ctx); err != nil {
		return nil, err
	}
	var currentName string
	if c.writer != nil {
		if cur, ok := c.writer.Current(); ok {
			currentName = cur.Name
		}
	}
	c.mu.Unlock()

	return c.catalog.List(currentName)
}

// ResolveFile maps a download request to a file path, rejecting names that
// are not this collector's data files.
func (c *Collector) ResolveFile(name string) (string, error) {
	return c.catalog.Resolve(name)
}

// SourceID returns the configured device identity.
func (c *Collector) SourceID() string {
	return c.cfg.SourceID
}

// fail fires a failure transition where the collector is already handling an
// error; a transition refusal here only gets logged.
func (c *Collector) fail(ctx context.Context, event string) {
	if err := c.machine.send(ctx, event); err != nil {
		c.log.Debugf("Suppressed transition failure: %v", err)
	}
}

func modeLabel(m transport.Mode) string {
	if m == "" {
		return "none"
	}
	return string(m)
}

func mb(bytes int64) float64 {
	return math.Round(float64(bytes)/(1024*1024)*100) / 100
}
