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

package telemetry

import (
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

// tickSample builds a minimal cellular sample whose uptime doubles as a
// sequence number.
func tickSample(seq int64) *CellularSample {
	return &CellularSample{
		AcquiredAt:    time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC).Add(time.Duration(seq) * time.Second),
		ModuleID:      "ring-modem",
		UptimeSeconds: seq,
	}
}

func uptimes(samples []Sample) []int64 {
	out := make([]int64, 0, len(samples))
	for _, s := range samples {
		out = append(out, s.(*CellularSample).UptimeSeconds)
	}

	return out
}

var _ = Describe("Ring", func() {
	var ring *Ring

	BeforeEach(func() {
		ring = NewRing(3)
	})

	It("returns an empty non-nil slice before any push", func() {
		recent := ring.Recent(5)

		Expect(recent).ToNot(BeNil())
		Expect(recent).To(BeEmpty())
		Expect(ring.Len()).To(BeZero())
	})

	It("buffers pushes up to its capacity", func() {
		ring.Push(tickSample(1))
		ring.Push(tickSample(2))

		Expect(ring.Len()).To(Equal(2))
		Expect(uptimes(ring.Recent(2))).To(Equal([]int64{1, 2}))
	})

	It("evicts the oldest sample once full", func() {
		for seq := int64(1); seq <= 5; seq++ {
			ring.Push(tickSample(seq))
		}

		Expect(ring.Len()).To(Equal(3))
		Expect(uptimes(ring.Recent(3))).To(Equal([]int64{3, 4, 5}))
	})

	It("clamps oversized requests to the buffered length", func() {
		ring.Push(tickSample(1))
		ring.Push(tickSample(2))

		Expect(uptimes(ring.Recent(100))).To(Equal([]int64{1, 2}))
	})

	It("treats requests below one as a request for the newest sample", func() {
		ring.Push(tickSample(1))
		ring.Push(tickSample(2))

		Expect(uptimes(ring.Recent(0))).To(Equal([]int64{2}))
		Expect(uptimes(ring.Recent(-7))).To(Equal([]int64{2}))
	})

	It("returns the newest samples in chronological order", func() {
		for seq := int64(1); seq <= 3; seq++ {
			ring.Push(tickSample(seq))
		}

		Expect(uptimes(ring.Recent(2))).To(Equal([]int64{2, 3}))
	})

	It("hands out clones, not the buffered samples", func() {
		original := tickSample(1)
		original.Latitude = ptr(47.0)
		ring.Push(original)

		got := ring.Recent(1)[0].(*CellularSample)
		got.UptimeSeconds = 999
		*got.Latitude = 0

		again := ring.Recent(1)[0].(*CellularSample)
		Expect(again.UptimeSeconds).To(Equal(int64(1)))
		Expect(*again.Latitude).To(Equal(47.0))
	})

	It("drops everything on reset", func() {
		ring.Push(tickSample(1))
		ring.Push(tickSample(2))

		ring.Reset()

		Expect(ring.Len()).To(BeZero())
		Expect(ring.Recent(1)).To(BeEmpty())
	})

	It("never allows a zero capacity", func() {
		tiny := NewRing(0)
		tiny.Push(tickSample(1))
		tiny.Push(tickSample(2))

		Expect(tiny.Len()).To(Equal(1))
		Expect(uptimes(tiny.Recent(1))).To(Equal([]int64{2}))
	})
})
