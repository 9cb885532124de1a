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

package metrics

import (
	"errors"
	"net/http"
	"runtime"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/united-manufacturing-hub/airlink/pkg/logger"
	"github.com/united-manufacturing-hub/airlink/pkg/safejson"
	"github.com/united-manufacturing-hub/airlink/pkg/sentry"
	"go.uber.org/zap"
)

const (
	// Component Labels.
	ComponentCollector = "collector"
	ComponentTransport = "transport"
	ComponentStorage   = "storage"
	ComponentAPI       = "api"
)

var (
	// Namespace and subsystem for all metrics.
	namespace = "airlink"
	subsystem = "collector"

	// Error counters.
	errorCounter = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "errors_total",
			Help:      "Total number of errors encountered by component",
		},
		[]string{"component", "instance"},
	)

	// Acquisition timing.
	acquireTime = promauto.NewSummaryVec(
		prometheus.SummaryOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "acquire_duration_milliseconds",
			Help:      "Time taken to acquire one sample from the device (in milliseconds)",
			Objectives: map[float64]float64{
				0.5:  0.01, // 50th percentile with 1% error
				0.9:  0.01, // 90th percentile with 1% error
				0.95: 0.01, // 95th percentile with 1% error
				0.99: 0.01, // 99th percentile with 1% error
			},
		},
		[]string{"source"},
	)

	// Per-source sampling counters.
	samplesPersisted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "samples_persisted_total",
			Help:      "Total number of samples appended to data files",
		},
		[]string{"source"},
	)

	acquireFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "acquire_failures_total",
			Help:      "Total number of failed sample acquisitions",
		},
		[]string{"source"},
	)

	fileRotations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "file_rotations_total",
			Help:      "Total number of data file rotations",
		},
		[]string{"source"},
	)

	// Collector state metric.
	collectorState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "state",
			Help:      "Current state of the collector (0=Idle, 1=Starting, 2=Running, 3=Stopping, 4=Error, -1=Unknown)",
		},
		[]string{"source"},
	)
)

// SetupMetricsEndpoint starts an HTTP server to expose metrics
// This should be called once at application startup.
func SetupMetricsEndpoint(addr string) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/health", handleProcessHealth)

	server := &http.Server{
		Addr:        addr,
		Handler:     mux,
		ReadTimeout: 5 * time.Second,
	}

	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			sentry.ReportIssue(err, sentry.IssueTypeFatal, logger.For(logger.ComponentMetrics))
		}
	}()

	return server
}

// handleProcessHealth answers process-level liveness probes. Per-collector
// health lives on each collector's own control API; this endpoint only says
// the process is up.
func handleProcessHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write(safejson.MustMarshal(map[string]string{
		"status":  "healthy",
		"service": "airlink",
	}))
}

// printDetailedStackTrace prints a detailed stack trace with more information.
func printDetailedStackTrace() {
	// Get stack trace for all goroutines with a large buffer
	buf := make([]byte, 1024*1024) // Allocate 1MB buffer
	n := runtime.Stack(buf, true)

	// Print the full stack trace
	logger.For("stacktrace").Debugf("=== DETAILED STACK TRACE ===\n%s", string(buf[:n]))
}

// IncErrorCountAndLog increments the error counter for a component and logs a debug message if a logger is provided.
func IncErrorCountAndLog(component, instance string, err error, logger *zap.SugaredLogger) {
	IncErrorCount(component, instance)

	if logger != nil {
		// Display detailed stacktrace
		printDetailedStackTrace()
		logger.Debugf("Component %s instance %s failed: %v", component, instance, err)
	}
}

// IncErrorCount increments the error counter for a component.
func IncErrorCount(component, instance string) {
	errorCounter.WithLabelValues(component, instance).Inc()
}

// InitErrorCounter initializes the error counter for a component.
func InitErrorCounter(component, instance string) {
	errorCounter.WithLabelValues(component, instance).Add(0)
}

// ObserveAcquireDuration records the time one sample acquisition took.
func ObserveAcquireDuration(source string, duration time.Duration) {
	acquireTime.WithLabelValues(source).Observe(float64(duration.Milliseconds()))
}

// IncSamplePersisted counts one sample appended to the data file.
func IncSamplePersisted(source string) {
	samplesPersisted.WithLabelValues(source).Inc()
}

// IncAcquireFailure counts one failed sample acquisition.
func IncAcquireFailure(source string) {
	acquireFailures.WithLabelValues(source).Inc()
}

// IncRotation counts one data file rotation.
func IncRotation(source string) {
	fileRotations.WithLabelValues(source).Inc()
}

// SetCollectorState updates the state metric for a collector.
func SetCollectorState(source, state string) {
	collectorState.WithLabelValues(source).Set(getStateValue(state))
}

// getStateValue converts a state string to a numeric value for the metric.
func getStateValue(state string) float64 {
	switch state {
	case "IDLE":
		return 0
	case "STARTING":
		return 1
	case "RUNNING":
		return 2
	case "STOPPING":
		return 3
	case "ERROR":
		return 4
	default:
		return -1 // Unknown state
	}
}
