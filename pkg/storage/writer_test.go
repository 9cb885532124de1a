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

package storage

import (
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = Describe("Writer", func() {
	var (
		dir string
		now time.Time
		w   *Writer
	)

	// Short, fixed-width header and rows give exact byte sizes: the header
	// line and every data line are 4 bytes each.
	newTestWriter := func(cfg Config) *Writer {
		cfg.Dir = dir
		cfg.Prefix = "lte_module"
		if cfg.Header == nil {
			cfg.Header = []string{"a", "b"}
		}
		tw := NewWriter(cfg)
		tw.now = func() time.Time { return now }
		return tw
	}

	listNames := func() []string {
		entries, err := os.ReadDir(dir)
		Expect(err).NotTo(HaveOccurred())
		names := make([]string, 0, len(entries))
		for _, e := range entries {
			names = append(names, e.Name())
		}
		sort.Strings(names)
		return names
	}

	readLines := func(name string) []string {
		raw, err := os.ReadFile(filepath.Join(dir, name))
		Expect(err).NotTo(HaveOccurred())
		return strings.Split(strings.TrimRight(string(raw), "\n"), "\n")
	}

	BeforeEach(func() {
		dir = GinkgoT().TempDir()
		now = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	})

	AfterEach(func() {
		if w != nil {
			Expect(w.Close()).To(Succeed())
		}
	})

	It("creates the data directory and the first file with its header", func() {
		dir = filepath.Join(dir, "nested", "data")
		w = newTestWriter(Config{})
		Expect(w.Open()).To(Succeed())

		Expect(listNames()).To(Equal([]string{"lte_module_20250601_120000.csv"}))
		Expect(readLines("lte_module_20250601_120000.csv")).To(Equal([]string{"a,b"}))

		current, ok := w.Current()
		Expect(ok).To(BeTrue())
		Expect(current.Name).To(Equal("lte_module_20250601_120000.csv"))
		Expect(current.Rows).To(BeZero())
		Expect(current.SizeBytes).To(Equal(int64(4)))
		Expect(current.OpenedAt).To(Equal(now))
	})

	It("appends rows in order and tracks size", func() {
		w = newTestWriter(Config{})
		Expect(w.Open()).To(Succeed())

		Expect(w.Append([]string{"1", "x"})).To(Succeed())
		Expect(w.Append([]string{"2", "y"})).To(Succeed())

		Expect(readLines("lte_module_20250601_120000.csv")).To(Equal([]string{"a,b", "1,x", "2,y"}))
		current, _ := w.Current()
		Expect(current.Rows).To(Equal(2))
		Expect(current.SizeBytes).To(Equal(int64(12)))
	})

	It("rejects records whose width does not match the header", func() {
		w = newTestWriter(Config{})
		Expect(w.Open()).To(Succeed())

		err := w.Append([]string{"only one"})
		Expect(err).To(MatchError(ContainSubstring("1 fields")))
	})

	It("rotates on the size threshold, keeping two rows per file", func() {
		// Header is 4 bytes and each row 4 bytes, so 12 bytes is reached
		// exactly when the second row lands.
		w = newTestWriter(Config{MaxFileBytes: 12, MaxFileAge: time.Hour})
		Expect(w.Open()).To(Succeed())

		for i := 0; i < 5; i++ {
			now = now.Add(time.Second)
			Expect(w.Append([]string{"1", "x"})).To(Succeed())
		}

		names := listNames()
		Expect(names).To(HaveLen(3))
		Expect(readLines(names[0])).To(HaveLen(3)) // header + 2 rows
		Expect(readLines(names[1])).To(HaveLen(3))
		Expect(readLines(names[2])).To(HaveLen(2)) // header + 1 row
		for _, name := range names {
			Expect(readLines(name)[0]).To(Equal("a,b"))
		}

		current, ok := w.Current()
		Expect(ok).To(BeTrue())
		Expect(current.Name).To(Equal(names[2]))
		Expect(current.Rows).To(Equal(1))
	})

	It("rotates once the file has been open past the age threshold", func() {
		w = newTestWriter(Config{MaxFileAge: 10 * time.Minute})
		Expect(w.Open()).To(Succeed())
		Expect(w.Append([]string{"1", "x"})).To(Succeed())

		now = now.Add(10 * time.Minute)
		Expect(w.Append([]string{"2", "y"})).To(Succeed())

		// The triggering row still lands in the old file; the fresh file
		// only carries the header.
		Expect(readLines("lte_module_20250601_120000.csv")).To(HaveLen(3))
		current, ok := w.Current()
		Expect(ok).To(BeTrue())
		Expect(current.Name).To(Equal("lte_module_20250601_121000.csv"))
		Expect(current.Rows).To(BeZero())
	})

	It("bumps the timestamp when rotations land in the same second", func() {
		// Every row crosses the size threshold, and the clock never moves.
		w = newTestWriter(Config{MaxFileBytes: 1, MaxFileAge: time.Hour})
		Expect(w.Open()).To(Succeed())

		for i := 0; i < 3; i++ {
			Expect(w.Append([]string{"1", "x"})).To(Succeed())
		}

		Expect(listNames()).To(Equal([]string{
			"lte_module_20250601_120000.csv",
			"lte_module_20250601_120001.csv",
			"lte_module_20250601_120002.csv",
			"lte_module_20250601_120003.csv",
		}))
	})

	It("refuses to append once closed and closes idempotently", func() {
		w = newTestWriter(Config{})
		Expect(w.Open()).To(Succeed())
		Expect(w.Close()).To(Succeed())
		Expect(w.Close()).To(Succeed())

		Expect(w.Append([]string{"1", "x"})).To(MatchError(ErrClosed))
		_, ok := w.Current()
		Expect(ok).To(BeFalse())
		w = nil
	})

	It("refuses a second Open while a file is current", func() {
		w = newTestWriter(Config{})
		Expect(w.Open()).To(Succeed())
		Expect(w.Open()).To(MatchError(ContainSubstring("already open")))
	})
})
