// Copyright 2024 Google, LLC
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     https://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package api serves the status of migration runs over HTTP.
package api

import (
	"net/http"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/jaycherian/gcp-go-movie-migration/internal/core/model"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
)

// RunSource exposes the report of the current or most recent run.
type RunSource interface {
	Snapshot() (model.RunSummary, bool)
}

// NewRouter returns the engine serving /healthz and /api/v1/status.
func NewRouter(service string, runs RunSource) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(otelgin.Middleware(service))
	r.Use(cors.Default())

	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	apiV1 := r.Group("/api/v1")
	{
		Status(apiV1, runs)
	}
	return r
}

// Status registers GET /status, answering with the run summary or 404 before
// the first run started.
func Status(r *gin.RouterGroup, runs RunSource) {
	status := r.Group("/status")
	{
		status.GET("", func(c *gin.Context) {
			summary, ok := runs.Snapshot()
			if !ok {
				c.JSON(http.StatusNotFound, gin.H{"error": "no migration run yet"})
				return
			}
			c.JSON(http.StatusOK, summary)
		})
	}
}
