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

// Package storage persists telemetry samples as time/size-rotated CSV files
// and enumerates what has been written so far. One Writer owns the single
// writable file of a collector; closed files are immutable and listed by the
// Catalog.
package storage

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/united-manufacturing-hub/airlink/pkg/constants"
	"github.com/united-manufacturing-hub/airlink/pkg/logger"
	"go.uber.org/zap"
	"golang.org/x/sys/unix"
)

// ErrClosed is returned by Append when no data file is open.
var ErrClosed = errors.New("storage: no open data file")

// nameAttempts bounds the rename loop that resolves same-second rotations.
const nameAttempts = 60

// Config describes one collector's output files.
type Config struct {
	// Dir is the data directory. It is created on Open if missing.
	Dir string
	// Prefix names files as <Prefix>_<UTC timestamp>.csv.
	Prefix string
	// Header is the fixed first row of every file. Append enforces that
	// every record has exactly this many fields.
	Header []string
	// MaxFileAge closes the current file once it has been open this long.
	MaxFileAge time.Duration
	// MaxFileBytes closes the current file once it has grown past this size.
	MaxFileBytes int64
}

func (c Config) withDefaults() Config {
	if c.MaxFileAge <= 0 {
		c.MaxFileAge = constants.DefaultRotationMaxAge
	}
	if c.MaxFileBytes <= 0 {
		c.MaxFileBytes = constants.DefaultRotationMaxBytes
	}
	return c
}

// Writer appends sample rows to the current data file and rotates it when
// either the age or the size threshold is reached. Rotation happens after the
// triggering row has been flushed, so a row is never split across files and
// the next row lands in a freshly created file.
//
// Writer is not safe for concurrent use. The collector serializes every call
// behind its state mutex.
type Writer struct {
	cfg Config
	log *zap.SugaredLogger
	now func() time.Time

	file     *os.File
	count    *countingWriter
	csv      *csv.Writer
	path     string
	openedAt time.Time
	rows     int
}

// CurrentFile describes the open data file.
type CurrentFile struct {
	Name      string
	Path      string
	SizeBytes int64
	Rows      int
	OpenedAt  time.Time
}

// NewWriter builds a Writer. No file is touched until Open.
func NewWriter(cfg Config) *Writer {
	return &Writer{
		cfg: cfg.withDefaults(),
		log: logger.For(logger.ComponentStorage),
		now: time.Now,
	}
}

// Open creates the data directory if needed and the first data file with its
// header row. A failure here leaves the collector unable to accept samples.
func (w *Writer) Open() error {
	if w.file != nil {
		return fmt.Errorf("data file %s is already open", filepath.Base(w.path))
	}
	if err := os.MkdirAll(w.cfg.Dir, 0o755); err != nil {
		return fmt.Errorf("create data directory: %w", err)
	}
	return w.openNext()
}

// Append writes one sample row, flushes it to the OS, and rotates the file if
// a threshold has been crossed. The error is fatal to the run: a row that
// cannot be persisted means the environment needs operator attention.
func (w *Writer) Append(record []string) error {
	if w.file == nil {
		return ErrClosed
	}
	if len(record) != len(w.cfg.Header) {
		return fmt.Errorf("record has %d fields, header has %d", len(record), len(w.cfg.Header))
	}

	if err := w.csv.Write(record); err != nil {
		return fmt.Errorf("append row to %s: %w", filepath.Base(w.path), err)
	}
	w.csv.Flush()
	if err := w.csv.Error(); err != nil {
		return fmt.Errorf("flush row to %s: %w", filepath.Base(w.path), err)
	}
	if err := w.file.Sync(); err != nil {
		// The row reached the OS, so the sample is not lost on a crash of
		// this process. Only a power cut can still eat it.
		w.log.Warnf("Failed to sync %s: %v", filepath.Base(w.path), err)
	}
	w.rows++

	if w.shouldRotate() {
		return w.rotate()
	}
	return nil
}

// Current reports the open data file, or false when none is open.
func (w *Writer) Current() (CurrentFile, bool) {
	if w.file == nil {
		return CurrentFile{}, false
	}
	return CurrentFile{
		Name:      filepath.Base(w.path),
		Path:      w.path,
		SizeBytes: w.count.n,
		Rows:      w.rows,
		OpenedAt:  w.openedAt,
	}, true
}

// Close flushes and closes the current file. It is safe to call on an
// already closed Writer; afterwards no file handle remains open.
func (w *Writer) Close() error {
	return w.closeCurrent()
}

func (w *Writer) shouldRotate() bool {
	if w.now().Sub(w.openedAt) >= w.cfg.MaxFileAge {
		return true
	}
	return w.count.n >= w.cfg.MaxFileBytes
}

func (w *Writer) rotate() error {
	prev := filepath.Base(w.path)
	if err := w.closeCurrent(); err != nil {
		return fmt.Errorf("rotate away from %s: %w", prev, err)
	}
	if err := w.openNext(); err != nil {
		return fmt.Errorf("rotate after %s: %w", prev, err)
	}
	return nil
}

func (w *Writer) closeCurrent() error {
	if w.file == nil {
		return nil
	}
	w.csv.Flush()
	flushErr := w.csv.Error()
	if err := w.file.Sync(); err != nil {
		w.log.Warnf("Failed to sync %s on close: %v", filepath.Base(w.path), err)
	}
	closeErr := w.file.Close()
	w.log.Infof("Closed data file %s (%d rows, %d bytes)", filepath.Base(w.path), w.rows, w.count.n)
	w.file = nil
	w.count = nil
	w.csv = nil
	if flushErr != nil {
		return fmt.Errorf("flush %s on close: %w", filepath.Base(w.path), flushErr)
	}
	return closeErr
}

// openNext creates the next data file, named from the current UTC time. When
// a rotation lands in the same second as the previous one, the timestamp is
// bumped forward until the name is unused, so every rotation epoch keeps a
// distinct file.
func (w *Writer) openNext() error {
	free, err := diskFree(w.cfg.Dir)
	if err != nil {
		w.log.Warnf("Cannot determine free space of %s: %v", w.cfg.Dir, err)
	} else if free < constants.MinDiskFreeBytes {
		return fmt.Errorf("data directory %s has only %d bytes free, need %d", w.cfg.Dir, free, int64(constants.MinDiskFreeBytes))
	}

	base := w.now().UTC()
	var file *os.File
	var path string
	for attempt := 0; ; attempt++ {
		if attempt >= nameAttempts {
			return fmt.Errorf("no unused data file name under %s after %d attempts", w.cfg.Dir, nameAttempts)
		}
		stamp := base.Add(time.Duration(attempt) * time.Second).Format(constants.FileTimestampLayout)
		path = filepath.Join(w.cfg.Dir, fmt.Sprintf("%s_%s.csv", w.cfg.Prefix, stamp))
		f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
		if errors.Is(err, fs.ErrExist) {
			continue
		}
		if err != nil {
			return fmt.Errorf("create data file: %w", err)
		}
		file = f
		break
	}

	count := &countingWriter{w: file}
	cw := csv.NewWriter(count)
	if err := cw.Write(w.cfg.Header); err != nil {
		_ = file.Close()
		return fmt.Errorf("write header to %s: %w", filepath.Base(path), err)
	}
	cw.Flush()
	if err := cw.Error(); err != nil {
		_ = file.Close()
		return fmt.Errorf("write header to %s: %w", filepath.Base(path), err)
	}

	w.file = file
	w.count = count
	w.csv = cw
	w.path = path
	w.openedAt = w.now()
	w.rows = 0
	w.log.Infof("Created data file %s", filepath.Base(path))
	return nil
}

// countingWriter tracks the bytes handed to the file so the size threshold
// can be checked without a stat per row.
type countingWriter struct {
	w io.Writer
	n int64
}

func (c *countingWriter) Write(p []byte) (int, error) {
	n, err := c.w.Write(p)
	c.n += int64(n)
	return n, err
}

func diskFree(dir string) (uint64, error) {
	var st unix.Statfs_t
	if err := unix.Statfs(dir, &st); err != nil {
		return 0, err
	}
	return st.Bavail * uint64(st.Bsize), nil
}
