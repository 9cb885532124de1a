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
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/united-manufacturing-hub/airlink/pkg/storage"
	"github.com/united-manufacturing-hub/airlink/pkg/telemetry"
	"github.com/united-manufacturing-hub/airlink/pkg/transport"
)

// fakeAdapter is a scriptable transport session. The sampling loop runs on
// its own goroutine, so every field is mutex guarded.
type fakeAdapter struct {
	mu       sync.Mutex
	mode     transport.Mode
	err      error
	acquires int
	closed   bool
}

func (f *fakeAdapter) Mode() transport.Mode {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.mode
}

func (f *fakeAdapter) AcquireSample(ctx context.Context) (telemetry.Sample, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return nil, transport.ErrClosed
	}
	f.acquires++
	if f.err != nil {
		return nil, f.err
	}
	return &telemetry.CellularSample{
		AcquiredAt:      time.Now().UTC(),
		ModuleID:        "test-modem",
		ConnectionState: "CONNECTED",
		RSSI:            -70 - f.acquires,
	}, nil
}

func (f *fakeAdapter) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

func (f *fakeAdapter) setErr(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.err = err
}

func (f *fakeAdapter) acquireCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.acquires
}

func (f *fakeAdapter) isClosed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

// fakeOpener hands out a fresh fakeAdapter per Open and remembers the last
// one for assertions.
type fakeOpener struct {
	mu      sync.Mutex
	mode    transport.Mode
	openErr error
	opens   int
	last    *fakeAdapter
}

func (f *fakeOpener) Open(ctx context.Context) (transport.Adapter, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.openErr != nil {
		return nil, f.openErr
	}
	f.opens++
	f.last = &fakeAdapter{mode: f.mode}
	return f.last, nil
}

func (f *fakeOpener) openCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.opens
}

func (f *fakeOpener) lastAdapter() *fakeAdapter {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.last
}

var _ = Describe("Collector", func() {
	var (
		ctx    context.Context
		dir    string
		opener *fakeOpener
		c      *Collector
	)

	newCollector := func() *Collector {
		return New(Config{
			SourceID:         "test-modem",
			Tick:             20 * time.Millisecond,
			FailureThreshold: 3,
			RecentBuffer:     5,
			StopTimeout:      2 * time.Second,
			Storage: storage.Config{
				Dir:    dir,
				Prefix: "lte_module",
				Header: telemetry.CellularHeader,
			},
		}, opener)
	}

	status := func() Status {
		st, err := c.Status(ctx)
		Expect(err).NotTo(HaveOccurred())
		return st
	}

	BeforeEach(func() {
		ctx = context.Background()
		dir = GinkgoT().TempDir()
		opener = &fakeOpener{mode: transport.ModeMock}
		c = newCollector()
	})

	AfterEach(func() {
		if IsActiveState(c.machine.current()) {
			Expect(c.Stop(ctx)).To(Succeed())
		}
	})

	Describe("lifecycle", func() {
		It("starts, samples periodically and stops cleanly", func() {
			Expect(c.Start(ctx)).To(Succeed())

			st := status()
			Expect(st.State).To(Equal(StateRunning))
			Expect(st.Mode).To(Equal("mock"))
			Expect(st.RunID).NotTo(BeEmpty())
			Expect(st.CurrentFile).To(HavePrefix("lte_module_"))
			Expect(st.FileCount).To(Equal(1))

			Eventually(func() int64 {
				return status().DataPoints
			}).WithTimeout(2 * time.Second).WithPolling(10 * time.Millisecond).Should(BeNumerically(">=", 3))

			adapter := opener.lastAdapter()
			Expect(c.Stop(ctx)).To(Succeed())
			Expect(status().State).To(Equal(StateIdle))
			Expect(status().CurrentFile).To(BeEmpty())
			Expect(adapter.isClosed()).To(BeTrue())
		})

		It("persists every accepted sample to the data file", func() {
			Expect(c.Start(ctx)).To(Succeed())
			Eventually(func() int64 {
				return status().DataPoints
			}).WithTimeout(2 * time.Second).WithPolling(10 * time.Millisecond).Should(BeNumerically(">=", 2))
			Expect(c.Stop(ctx)).To(Succeed())

			points := status().DataPoints
			files, err := c.Files(ctx)
			Expect(err).NotTo(HaveOccurred())
			Expect(files).To(HaveLen(1))

			raw, err := os.ReadFile(filepath.Join(dir, files[0].Name))
			Expect(err).NotTo(HaveOccurred())
			lines := strings.Split(strings.TrimRight(string(raw), "\n"), "\n")
			Expect(lines[0]).To(Equal(strings.Join(telemetry.CellularHeader, ",")))
			Expect(lines).To(HaveLen(1 + int(points)))
		})

		It("rejects a second start", func() {
			Expect(c.Start(ctx)).To(Succeed())
			Expect(c.Start(ctx)).To(MatchError(ErrAlreadyRunning))
		})

		It("rejects stop when idle", func() {
			Expect(c.Stop(ctx)).To(MatchError(ErrNotRunning))
		})

		It("degrades to error when the data directory cannot be used", func() {
			blocked := filepath.Join(dir, "blocked")
			Expect(os.WriteFile(blocked, []byte("in the way"), 0o644)).To(Succeed())
			c = New(Config{
				SourceID: "test-modem",
				Tick:     20 * time.Millisecond,
				Storage: storage.Config{
					Dir:    filepath.Join(blocked, "data"),
					Prefix: "lte_module",
					Header: telemetry.CellularHeader,
				},
			}, opener)

			err := c.Start(ctx)
			Expect(err).To(MatchError(ContainSubstring("lock data directory")))
			Expect(status().State).To(Equal(StateError))

			// The error state is recoverable without a process restart.
			Expect(c.Stop(ctx)).To(Succeed())
			Expect(status().State).To(Equal(StateIdle))
		})

		It("refuses to share a data directory with a running collector", func() {
			Expect(c.Start(ctx)).To(Succeed())

			second := newCollector()
			err := second.Start(ctx)
			Expect(err).To(MatchError(ContainSubstring("locked by another collector")))
			Expect(second.Stop(ctx)).To(Succeed())

			// The directory is free again after a clean stop.
			Expect(c.Stop(ctx)).To(Succeed())
			Expect(second.Start(ctx)).To(Succeed())
			Expect(second.Stop(ctx)).To(Succeed())
		})

		It("degrades to error when the transport cannot be opened", func() {
			opener.openErr = errors.New("probe interrupted")

			err := c.Start(ctx)
			Expect(err).To(MatchError(ContainSubstring("open transport")))
			Expect(status().State).To(Equal(StateError))
			Expect(c.Stop(ctx)).To(Succeed())
		})

		It("can run again after a stop", func() {
			Expect(c.Start(ctx)).To(Succeed())
			firstRun := status().RunID
			Expect(c.Stop(ctx)).To(Succeed())

			Expect(c.Start(ctx)).To(Succeed())
			Expect(status().RunID).NotTo(Equal(firstRun))
			Expect(status().State).To(Equal(StateRunning))
		})
	})

	Describe("failure accounting", func() {
		sample := func() telemetry.Sample {
			return &telemetry.CellularSample{AcquiredAt: time.Now().UTC(), ModuleID: "test-modem"}
		}

		toRunning := func() {
			Expect(c.machine.send(ctx, EventStart)).To(Succeed())
			Expect(c.machine.send(ctx, EventStartDone)).To(Succeed())
		}

		It("degrades exactly at the failure threshold", func() {
			toRunning()
			c.recordFailure(ctx, errors.New("device mute"))
			c.recordFailure(ctx, errors.New("device mute"))
			Expect(c.machine.current()).To(Equal(StateRunning))

			c.recordFailure(ctx, errors.New("device mute"))
			Expect(c.machine.current()).To(Equal(StateError))
		})

		It("resets the consecutive counter on success", func() {
			toRunning()
			c.recordFailure(ctx, errors.New("device mute"))
			c.recordFailure(ctx, errors.New("device mute"))
			c.recordSample(ctx, sample())
			c.recordFailure(ctx, errors.New("device mute"))
			c.recordFailure(ctx, errors.New("device mute"))
			Expect(c.machine.current()).To(Equal(StateRunning))
		})

		It("keeps sampling after the threshold so the source stays observable", func() {
			Expect(c.Start(ctx)).To(Succeed())
			adapter := opener.lastAdapter()
			adapter.setErr(errors.New("device mute"))

			Eventually(func() string {
				return status().State
			}).WithTimeout(3 * time.Second).WithPolling(10 * time.Millisecond).Should(Equal(StateError))

			at := adapter.acquireCount()
			Eventually(adapter.acquireCount).WithTimeout(2 * time.Second).WithPolling(10 * time.Millisecond).Should(BeNumerically(">", at))

			// Healthy acquisitions in the error state stay out of the data
			// file; recovery is an explicit stop/start cycle.
			adapter.setErr(nil)
			points := status().DataPoints
			Consistently(func() int64 {
				return status().DataPoints
			}).WithTimeout(200 * time.Millisecond).WithPolling(20 * time.Millisecond).Should(Equal(points))

			Expect(c.Stop(ctx)).To(Succeed())
			Expect(c.Start(ctx)).To(Succeed())
			Expect(status().State).To(Equal(StateRunning))
		})
	})

	Describe("current sample", func() {
		It("opens a transient session when idle and caches the result", func() {
			// A long tick keeps the cache warm for the whole spec.
			c = New(Config{
				SourceID: "test-modem",
				Tick:     time.Second,
				Storage: storage.Config{
					Dir:    dir,
					Prefix: "lte_module",
					Header: telemetry.CellularHeader,
				},
			}, opener)

			sample, err := c.Current(ctx)
			Expect(err).NotTo(HaveOccurred())
			Expect(sample.SourceID()).To(Equal("test-modem"))
			Expect(opener.openCount()).To(Equal(1))
			Expect(opener.lastAdapter().isClosed()).To(BeTrue())

			// Within the cache lifetime no second session is opened.
			_, err = c.Current(ctx)
			Expect(err).NotTo(HaveOccurred())
			Expect(opener.openCount()).To(Equal(1))
		})

		It("serves from the active session while running", func() {
			Expect(c.Start(ctx)).To(Succeed())
			Eventually(func() int64 {
				return status().DataPoints
			}).WithTimeout(2 * time.Second).WithPolling(10 * time.Millisecond).Should(BeNumerically(">=", 1))

			sample, err := c.Current(ctx)
			Expect(err).NotTo(HaveOccurred())
			Expect(sample.SourceID()).To(Equal("test-modem"))
			Expect(opener.openCount()).To(Equal(1))
		})
	})

	Describe("read side", func() {
		It("serves recent samples from the ring buffer", func() {
			Expect(c.Start(ctx)).To(Succeed())
			Eventually(func() int {
				return len(c.Recent(5))
			}).WithTimeout(2 * time.Second).WithPolling(10 * time.Millisecond).Should(BeNumerically(">=", 2))

			recent := c.Recent(2)
			Expect(recent).To(HaveLen(2))
			Expect(recent[0].Timestamp()).To(BeTemporally("<=", recent[1].Timestamp()))
		})

		It("lists data files and resolves downloads", func() {
			Expect(c.Start(ctx)).To(Succeed())
			files, err := c.Files(ctx)
			Expect(err).NotTo(HaveOccurred())
			Expect(files).To(HaveLen(1))
			Expect(files[0].Current).To(BeTrue())
			Expect(files[0].Checksum).To(BeEmpty())

			Expect(c.Stop(ctx)).To(Succeed())
			files, err = c.Files(ctx)
			Expect(err).NotTo(HaveOccurred())
			Expect(files[0].Current).To(BeFalse())
			Expect(files[0].Checksum).NotTo(BeEmpty())

			path, err := c.ResolveFile(files[0].Name)
			Expect(err).NotTo(HaveOccurred())
			Expect(path).To(Equal(filepath.Join(dir, files[0].Name)))

			_, err = c.ResolveFile("../" + files[0].Name)
			Expect(err).To(MatchError(storage.ErrUnknownFile))
		})

		It("reports duration and a fresh status timestamp while running", func() {
			Expect(c.Start(ctx)).To(Succeed())
			st := status()
			Expect(st.Duration).To(MatchRegexp(`^\d{2}:\d{2}:\d{2}$`))
			Expect(st.LastUpdate).NotTo(BeEmpty())

			Expect(c.Stop(ctx)).To(Succeed())
			Expect(status().Duration).To(Equal("00:00:00"))
		})
	})
})
