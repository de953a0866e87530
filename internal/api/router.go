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

package api

import (
	"net/http"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/jaycherian/gcp-go-photo-search/internal/core/services"
	"github.com/jaycherian/gcp-go-photo-search/internal/telemetry"
	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
)

// Services are the handlers' dependencies.
type Services struct {
	Media    *services.MediaService
	Search   *services.SearchService
	Index    *services.IndexService
	Gatherer prometheus.Gatherer
}

// NewRouter builds the engine with tracing, CORS, the health and metrics
// endpoints and the owner scoped /api/v1 group.
func NewRouter(serviceName string, s Services) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(otelgin.Middleware(serviceName))

	corsConfig := cors.DefaultConfig()
	corsConfig.AllowAllOrigins = true
	corsConfig.AddAllowHeaders(OwnerHeader)
	r.Use(cors.New(corsConfig))

	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	if s.Gatherer != nil {
		r.GET("/metrics", gin.WrapH(telemetry.MetricsHandler(s.Gatherer)))
	}

	apiV1 := r.Group("/api/v1", RequireOwner())
	{
		MediaRouter(apiV1, s.Media)
		SearchRouter(apiV1, s.Search)
		Dashboard(apiV1, s.Media, s.Index)
	}
	return r
}
