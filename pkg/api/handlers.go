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

package api

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"runtime/debug"
	"strings"
	"sync"

	"github.com/gin-gonic/gin"
	"github.com/klauspost/compress/gzip"

	"github.com/united-manufacturing-hub/airlink/pkg/collector"
	"github.com/united-manufacturing-hub/airlink/pkg/metrics"
	"github.com/united-manufacturing-hub/airlink/pkg/storage"
)

func (s *Server) getStatus(c *gin.Context) {
	status, err := s.collector.Status(c.Request.Context())
	if err != nil {
		s.handleInternalServerError(c, err)

		return
	}

	c.JSON(http.StatusOK, status)
}

func (s *Server) postStart(c *gin.Context) {
	err := s.collector.Start(c.Request.Context())
	switch {
	case errors.Is(err, collector.ErrAlreadyRunning):
		s.handleRejectedOperation(c, err)
	case err != nil:
		s.handleInternalServerError(c, err)
	default:
		c.JSON(http.StatusOK, gin.H{
			"message": "Collection started",
			"state":   collector.StateRunning,
		})
	}
}

func (s *Server) postStop(c *gin.Context) {
	err := s.collector.Stop(c.Request.Context())
	switch {
	case errors.Is(err, collector.ErrNotRunning):
		s.handleRejectedOperation(c, err)
	case err != nil:
		s.handleInternalServerError(c, err)
	default:
		c.JSON(http.StatusOK, gin.H{
			"message": "Collection stopped",
			"state":   collector.StateIdle,
		})
	}
}

func (s *Server) getCurrent(c *gin.Context) {
	sample, err := s.collector.Current(c.Request.Context())
	if err != nil {
		s.handleInternalServerError(c, err)

		return
	}

	c.JSON(http.StatusOK, sample)
}

type getRecentRequest struct {
	Count int `form:"count,default=10"`
}

func (s *Server) getRecent(c *gin.Context) {
	var req getRecentRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		s.handleInvalidInputError(c, err)

		return
	}

	c.JSON(http.StatusOK, s.collector.Recent(req.Count))
}

func (s *Server) getFiles(c *gin.Context) {
	files, err := s.collector.Files(c.Request.Context())
	if err != nil {
		s.handleInternalServerError(c, err)

		return
	}

	if files == nil {
		files = []storage.FileInfo{}
	}

	c.JSON(http.StatusOK, files)
}

func (s *Server) downloadFile(c *gin.Context) {
	name := c.Param("filename")

	path, err := s.collector.ResolveFile(name)
	if errors.Is(err, storage.ErrUnknownFile) {
		s.handleFileNotFound(c, name)

		return
	}
	if err != nil {
		s.handleInternalServerError(c, err)

		return
	}

	if strings.Contains(c.GetHeader("Accept-Encoding"), "gzip") {
		s.sendCompressed(c, path, name)

		return
	}

	c.FileAttachment(path, name)
}

func (s *Server) getHealth(c *gin.Context) {
	c.JSON(http.StatusOK, s.monitor.Snapshot(c.Request.Context()))
}

// gzipWriterPool reuses compressors across downloads. BestSpeed is plenty:
// CSV rows of repeated numeric text compress around 10x at any level, and
// the radio link is the bottleneck, not the CPU.
var gzipWriterPool = sync.Pool{
	New: func() interface{} {
		w, _ := gzip.NewWriterLevel(nil, gzip.BestSpeed)

		return w
	},
}

// sendCompressed streams path as a gzip response. Once the body is open,
// errors can only be logged; the status line is already on the wire.
func (s *Server) sendCompressed(c *gin.Context, path, name string) {
	f, err := os.Open(path)
	if err != nil {
		s.handleInternalServerError(c, err)

		return
	}
	defer f.Close()

	c.Header("Content-Encoding", "gzip")
	c.Header("Content-Disposition", fmt.Sprintf(`attachment; filename="%s"`, name))
	c.Header("Content-Type", "text/csv")
	c.Status(http.StatusOK)

	zw := gzipWriterPool.Get().(*gzip.Writer)
	defer gzipWriterPool.Put(zw)
	zw.Reset(c.Writer)

	if _, err := io.Copy(zw, f); err != nil {
		s.log.Warnf("Download of %s aborted: %v", name, err)

		return
	}
	if err := zw.Close(); err != nil {
		s.log.Warnf("Failed to finish compressed download of %s: %v", name, err)
	}
}

func (s *Server) handleRejectedOperation(c *gin.Context, err error) {
	c.JSON(
		http.StatusConflict,
		gin.H{
			"error":   err.Error(),
			"status":  http.StatusConflict,
			"message": "The collector state does not allow this operation.",
		})
}

func (s *Server) handleInvalidInputError(c *gin.Context, err error) {
	s.log.Warnf("Invalid request input: %v", err)

	c.JSON(
		http.StatusBadRequest,
		gin.H{
			"error":   err.Error(),
			"status":  http.StatusBadRequest,
			"message": "You have provided a wrong input. Please check your parameters.",
		})
}

func (s *Server) handleFileNotFound(c *gin.Context, name string) {
	c.JSON(
		http.StatusNotFound,
		gin.H{
			"error":   fmt.Sprintf("data file %s not found", name),
			"status":  http.StatusNotFound,
			"message": "The requested data file was not found.",
		})
}

func (s *Server) handleInternalServerError(c *gin.Context, err error) {
	metrics.IncErrorCountAndLog(metrics.ComponentAPI, s.collector.SourceID(), err, s.log)

	c.JSON(
		http.StatusInternalServerError,
		gin.H{
			"error":       err.Error(),
			"status":      http.StatusInternalServerError,
			"message":     "The server had an internal error.",
			"stack-trace": string(debug.Stack()),
		})
}
