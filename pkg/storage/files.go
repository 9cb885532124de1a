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
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/united-manufacturing-hub/airlink/pkg/logger"
	"go.uber.org/zap"
)

// ErrUnknownFile is returned by Resolve for names that do not identify a
// data file of this collector.
var ErrUnknownFile = errors.New("storage: unknown data file")

// FileInfo describes one data file of a collector.
type FileInfo struct {
	Name       string    `json:"name"`
	SizeBytes  int64     `json:"size_bytes"`
	ModifiedAt time.Time `json:"modified_at"`
	// Current marks the file the Writer is still appending to.
	Current bool `json:"current"`
	// Checksum is the xxhash of the file content, hex encoded. Empty for
	// the current file, which is still growing.
	Checksum string `json:"checksum,omitempty"`
}

// Catalog enumerates the data files of one collector and resolves download
// requests to paths. It caches content checksums keyed by size and mtime so
// repeated listings do not rehash unchanged files.
//
// Catalog is safe for concurrent use.
type Catalog struct {
	dir    string
	prefix string
	log    *zap.SugaredLogger

	mu   sync.Mutex
	sums map[string]checksumEntry
}

type checksumEntry struct {
	key string
	sum string
}

// NewCatalog builds a Catalog over dir for files named <prefix>_*.csv.
func NewCatalog(dir, prefix string) *Catalog {
	return &Catalog{
		dir:    dir,
		prefix: prefix,
		log:    logger.For(logger.ComponentStorage),
		sums:   make(map[string]checksumEntry),
	}
}

// List returns all data files, newest first. currentName marks the file the
// Writer still holds open; pass "" when the collector is idle. A missing
// data directory yields an empty listing, not an error: no run has happened
// yet.
func (c *Catalog) List(currentName string) ([]FileInfo, error) {
	entries, err := os.ReadDir(c.dir)
	if errors.Is(err, os.ErrNotExist) {
		return []FileInfo{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("list data directory: %w", err)
	}

	files := make([]FileInfo, 0, len(entries))
	seen := make(map[string]struct{}, len(entries))
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !c.owns(name) {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			// Raced with an external delete. Skip the entry.
			continue
		}
		fi := FileInfo{
			Name:       name,
			SizeBytes:  info.Size(),
			ModifiedAt: info.ModTime().UTC(),
			Current:    name == currentName,
		}
		if !fi.Current {
			fi.Checksum = c.checksum(name, info.Size(), info.ModTime())
		}
		seen[name] = struct{}{}
		files = append(files, fi)
	}

	c.prune(seen)

	// Names embed the creation timestamp, so descending name order lists
	// newest first.
	sort.Slice(files, func(i, j int) bool { return files[i].Name > files[j].Name })
	return files, nil
}

// Resolve maps a client-supplied file name to its path. Anything that is not
// a plain name of one of this collector's files is rejected, including path
// separators and names of files that do not exist.
func (c *Catalog) Resolve(name string) (string, error) {
	if name != filepath.Base(name) || !c.owns(name) {
		return "", ErrUnknownFile
	}
	path := filepath.Join(c.dir, name)
	if _, err := os.Stat(path); err != nil {
		return "", ErrUnknownFile
	}
	return path, nil
}

func (c *Catalog) owns(name string) bool {
	return strings.HasPrefix(name, c.prefix+"_") && strings.HasSuffix(name, ".csv")
}

func (c *Catalog) checksum(name string, size int64, mtime time.Time) string {
	key := fmt.Sprintf("%d:%d", size, mtime.UnixNano())

	c.mu.Lock()
	entry, ok := c.sums[name]
	c.mu.Unlock()
	if ok && entry.key == key {
		return entry.sum
	}

	f, err := os.Open(filepath.Join(c.dir, name))
	if err != nil {
		c.log.Warnf("Cannot checksum %s: %v", name, err)
		return ""
	}
	defer f.Close()

	h := xxhash.New()
	if _, err := io.Copy(h, f); err != nil {
		c.log.Warnf("Cannot checksum %s: %v", name, err)
		return ""
	}
	sum := fmt.Sprintf("%016x", h.Sum64())

	c.mu.Lock()
	c.sums[name] = checksumEntry{key: key, sum: sum}
	c.mu.Unlock()
	return sum
}

func (c *Catalog) prune(seen map[string]struct{}) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for name := range c.sums {
		if _, ok := seen[name]; !ok {
			delete(c.sums, name)
		}
	}
}
