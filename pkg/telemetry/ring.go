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

import "sync"

// Ring is a bounded FIFO of the most recent samples. The sampling loop pushes
// into it on every tick; readers receive cloned samples so a reader can never
// alias a record the loop still references.
type Ring struct {
	mu       sync.Mutex
	samples  []Sample
	capacity int
}

// NewRing creates a ring holding at most capacity samples.
func NewRing(capacity int) *Ring {
	if capacity <= 0 {
		capacity = 1
	}

	return &Ring{
		samples:  make([]Sample, 0, capacity),
		capacity: capacity,
	}
}

// Push appends a sample, evicting the oldest once the ring is full.
func (r *Ring) Push(s Sample) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if len(r.samples) == r.capacity {
		copy(r.samples, r.samples[1:])
		r.samples = r.samples[:len(r.samples)-1]
	}

	r.samples = append(r.samples, s)
}

// Recent returns clones of the newest count samples in chronological order.
// count values below one or above the buffered length are clamped.
func (r *Ring) Recent(count int) []Sample {
	r.mu.Lock()
	defer r.mu.Unlock()

	if count < 1 {
		count = 1
	}
	if count > len(r.samples) {
		count = len(r.samples)
	}

	out := make([]Sample, 0, count)
	for _, s := range r.samples[len(r.samples)-count:] {
		out = append(out, s.Clone())
	}

	return out
}

// Len returns the number of buffered samples.
func (r *Ring) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	return len(r.samples)
}

// Reset drops all buffered samples.
func (r *Ring) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.samples = r.samples[:0]
}
