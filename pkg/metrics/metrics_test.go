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
	"net/http/httptest"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	dto "github.com/prometheus/client_model/go"
	"github.com/prometheus/common/expfmt"
	"go.uber.org/zap"

	"github.com/united-manufacturing-hub/airlink/pkg/safejson"
)

// scrape renders the default registry the way the metrics endpoint does and
// parses it back into metric families.
func scrape() map[string]*dto.MetricFamily {
	rec := httptest.NewRecorder()
	promhttp.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	Expect(rec.Code).To(Equal(http.StatusOK))

	var parser expfmt.TextParser
	families, err := parser.TextToMetricFamilies(rec.Body)
	Expect(err).ToNot(HaveOccurred())
	return families
}

// findMetric returns the first metric in the family whose labels match all
// the given pairs, or nil if none does.
func findMetric(family *dto.MetricFamily, labels map[string]string) *dto.Metric {
	if family == nil {
		return nil
	}
	for _, m := range family.Metric {
		matched := true
		for name, want := range labels {
			if getLabel(m, name) != want {
				matched = false
				break
			}
		}
		if matched {
			return m
		}
	}
	return nil
}

// getLabel extracts a label value from a metric.
func getLabel(m *dto.Metric, name string) string {
	for _, label := range m.Label {
		if label.GetName() == name {
			return label.GetValue()
		}
	}
	return ""
}

var _ = Describe("Collector metrics", func() {
	// The default registry is shared across the test binary, so every spec
	// uses its own label values to get fresh time series.

	Describe("error counting", func() {
		It("exposes an initialized counter at zero", func() {
			InitErrorCounter(ComponentTransport, "modem-init")

			m := findMetric(scrape()["airlink_collector_errors_total"], map[string]string{
				"component": ComponentTransport,
				"instance":  "modem-init",
			})
			Expect(m).ToNot(BeNil())
			Expect(m.GetCounter().GetValue()).To(BeZero())
		})

		It("counts errors per component and instance", func() {
			IncErrorCount(ComponentStorage, "modem-count")
			IncErrorCount(ComponentStorage, "modem-count")

			m := findMetric(scrape()["airlink_collector_errors_total"], map[string]string{
				"component": ComponentStorage,
				"instance":  "modem-count",
			})
			Expect(m).ToNot(BeNil())
			Expect(m.GetCounter().GetValue()).To(Equal(2.0))
		})

		It("keeps instances with the same component apart", func() {
			IncErrorCount(ComponentCollector, "modem-a")

			families := scrape()
			Expect(findMetric(families["airlink_collector_errors_total"], map[string]string{
				"component": ComponentCollector,
				"instance":  "modem-a",
			}).GetCounter().GetValue()).To(Equal(1.0))
			Expect(findMetric(families["airlink_collector_errors_total"], map[string]string{
				"component": ComponentCollector,
				"instance":  "modem-b",
			})).To(BeNil())
		})

		It("counts through the logging variant as well", func() {
			IncErrorCountAndLog(ComponentAPI, "modem-logged", errors.New("device timeout"), zap.NewNop().Sugar())

			m := findMetric(scrape()["airlink_collector_errors_total"], map[string]string{
				"component": ComponentAPI,
				"instance":  "modem-logged",
			})
			Expect(m).ToNot(BeNil())
			Expect(m.GetCounter().GetValue()).To(Equal(1.0))
		})
	})

	Describe("acquisition timing", func() {
		It("records durations in milliseconds", func() {
			ObserveAcquireDuration("timing-modem", 150*time.Millisecond)
			ObserveAcquireDuration("timing-modem", 100*time.Millisecond)

			m := findMetric(scrape()["airlink_collector_acquire_duration_milliseconds"], map[string]string{
				"source": "timing-modem",
			})
			Expect(m).ToNot(BeNil())
			Expect(m.GetSummary().GetSampleCount()).To(Equal(uint64(2)))
			Expect(m.GetSummary().GetSampleSum()).To(Equal(250.0))
		})
	})

	Describe("persistence counters", func() {
		It("tracks samples, failures and rotations per source", func() {
			IncSamplePersisted("persist-modem")
			IncSamplePersisted("persist-modem")
			IncSamplePersisted("persist-modem")
			IncAcquireFailure("persist-modem")
			IncRotation("persist-modem")
			IncRotation("persist-modem")

			families := scrape()
			source := map[string]string{"source": "persist-modem"}
			Expect(findMetric(families["airlink_collector_samples_persisted_total"], source).GetCounter().GetValue()).To(Equal(3.0))
			Expect(findMetric(families["airlink_collector_acquire_failures_total"], source).GetCounter().GetValue()).To(Equal(1.0))
			Expect(findMetric(families["airlink_collector_file_rotations_total"], source).GetCounter().GetValue()).To(Equal(2.0))
		})
	})

	Describe("collector state gauge", func() {
		It("maps every lifecycle state to its numeric value", func() {
			states := []struct {
				state string
				value float64
			}{
				{"IDLE", 0},
				{"STARTING", 1},
				{"RUNNING", 2},
				{"STOPPING", 3},
				{"ERROR", 4},
				{"REBOOTING", -1},
			}
			for _, tc := range states {
				SetCollectorState("state-modem", tc.state)

				m := findMetric(scrape()["airlink_collector_state"], map[string]string{
					"source": "state-modem",
				})
				Expect(m).ToNot(BeNil())
				Expect(m.GetGauge().GetValue()).To(Equal(tc.value), "state %s", tc.state)
			}
		})

		It("keeps one gauge per source", func() {
			SetCollectorState("gauge-modem", "RUNNING")
			SetCollectorState("gauge-dish", "IDLE")

			families := scrape()
			Expect(findMetric(families["airlink_collector_state"], map[string]string{
				"source": "gauge-modem",
			}).GetGauge().GetValue()).To(Equal(2.0))
			Expect(findMetric(families["airlink_collector_state"], map[string]string{
				"source": "gauge-dish",
			}).GetGauge().GetValue()).To(Equal(0.0))
		})
	})

	Describe("process liveness", func() {
		It("reports the process as healthy", func() {
			rec := httptest.NewRecorder()
			handleProcessHealth(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

			Expect(rec.Code).To(Equal(http.StatusOK))
			Expect(rec.Header().Get("Content-Type")).To(Equal("application/json"))

			var payload map[string]string
			Expect(safejson.Unmarshal(rec.Body.Bytes(), &payload)).To(Succeed())
			Expect(payload).To(HaveKeyWithValue("status", "healthy"))
			Expect(payload).To(HaveKeyWithValue("service", "airlink"))
		})
	})
})
