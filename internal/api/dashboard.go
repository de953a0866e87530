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

	"github.com/gin-gonic/gin"
	"github.com/jaycherian/gcp-go-photo-search/internal/core/model"
	"github.com/jaycherian/gcp-go-photo-search/internal/core/services"
	"github.com/jaycherian/gcp-go-photo-search/internal/core/vector"
)

type statsResponse struct {
	Media model.MediaStats `json:"media"`
	Index vector.Stats     `json:"index"`
}

// Dashboard registers the library statistics and index maintenance routes.
func Dashboard(r *gin.RouterGroup, media *services.MediaService, index *services.IndexService) {
	r.GET("/stats", func(c *gin.Context) {
		stats, err := media.Stats(c.Request.Context(), Owner(c))
		if err != nil {
			Fail(c, err)
			return
		}
		c.JSON(http.StatusOK, statsResponse{Media: stats, Index: index.Stats(c.Request.Context())})
	})

	admin := r.Group("/admin")
	{
		admin.POST("/index/rebuild", func(c *gin.Context) {
			stats, err := index.Rebuild(c.Request.Context())
			if err != nil {
				Fail(c, err)
				return
			}
			c.JSON(http.StatusOK, stats)
		})
	}
}
