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

// Package api exposes the control plane of one collector instance over HTTP.
// The ground station drives collection through it: start/stop, status, the
// freshest sample, the recent-sample ring and the rotated data files. One
// server is bound per collector so the two telemetry sources stay reachable
// independently of each other.
package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/united-manufacturing-hub/airlink/pkg/collector"
	"github.com/united-manufacturing-hub/airlink/pkg/logger"
	"github.com/united-manufacturing-hub/airlink/pkg/monitor"
	"github.com/united-manufacturing-hub/airlink/pkg/sentry"
)

// Config describes one control API server.
type Config struct {
	// Port is the TCP port the server listens on.
	Port int

	// Debug switches gin into debug mode and raises request logging from
	// debug to info level.
	Debug bool
}

// Server is the control API of one collector instance.
type Server struct {
	collector *collector.Collector
	monitor   *monitor.Monitor
	log       *zap.SugaredLogger
	router    *gin.Engine
	http      *http.Server
	debug     bool
}

// NewServer builds the router and the underlying HTTP server. Nothing
// listens until Start is called.
func NewServer(col *collector.Collector, mon *monitor.Monitor, cfg Config) *Server {
	if cfg.Debug {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	s := &Server{
		collector: col,
		monitor:   mon,
		log:       logger.For(logger.ComponentAPI),
		debug:     cfg.Debug,
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(s.requestLogger())
	s.routes(router)
	s.router = router

	s.http = &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Port),
		Handler: router,
	}

	return s
}

func (s *Server) routes(router *gin.Engine) {
	router.GET("/status", s.getStatus)
	router.POST("/start", s.postStart)
	router.POST("/stop", s.postStop)
	router.GET("/current", s.getCurrent)
	router.GET("/health", s.getHealth)

	data := router.Group("/data")
	{
		data.GET("/recent", s.getRecent)
		data.GET("/files", s.getFiles)
		data.GET("/download/:filename", s.downloadFile)
	}
}

// Start begins serving in the background. A listen failure is fatal for the
// collector: a control API that never comes up leaves the ground station
// blind, so it is reported as such.
func (s *Server) Start() {
	go func() {
		s.log.Infof("Control API for %s listening on %s", s.collector.SourceID(), s.http.Addr)
		if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			sentry.ReportIssue(err, sentry.IssueTypeFatal, s.log)
		}
	}()
}

// Shutdown stops the listener and waits for in-flight requests, bounded by
// ctx.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.http.Shutdown(ctx)
}

// requestLogger is a minimal timing middleware. Access logs stay at debug
// level so a dashboard polling the status endpoint once per second does not
// drown the flight log.
func (s *Server) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		if s.debug {
			s.log.Infof("%s %s %d %v", c.Request.Method, c.Request.URL.Path, c.Writer.Status(), time.Since(start))
		} else {
			s.log.Debugf("%s %s %d %v", c.Request.Method, c.Request.URL.Path, c.Writer.Status(), time.Since(start))
		}
	}
}
